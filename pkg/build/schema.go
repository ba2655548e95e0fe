package build

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blang/semver"
	"gopkg.in/yaml.v3"
)

type nodeKind int

const (
	kindString nodeKind = iota
	kindScalar
	kindBool
	kindMap
	kindSeq
)

func (k nodeKind) String() string {
	switch k {
	case kindString, kindScalar:
		return "a string"
	case kindBool:
		return "a boolean"
	case kindMap:
		return "a mapping"
	default:
		return "a list"
	}
}

// schema of a manifest node
type schema struct {
	kind     nodeKind
	fields   map[string]*schema
	required []string
	// exactly one of these fields, when set
	oneOf []string
	// at least one of these fields, when set
	anyOf []string
	items *schema
	enum  []string
	check func(n *yaml.Node) string
}

func str() *schema                        { return &schema{kind: kindString} }
func scalar() *schema                     { return &schema{kind: kindScalar} }
func boolean() *schema                    { return &schema{kind: kindBool} }
func list(items *schema) *schema          { return &schema{kind: kindSeq, items: items} }
func object(f map[string]*schema) *schema { return &schema{kind: kindMap, fields: f} }

func (s *schema) require(names ...string) *schema {
	s.required = names
	return s
}

func (s *schema) exactlyOne(names ...string) *schema {
	s.oneOf = names
	return s
}

func (s *schema) atLeastOne(names ...string) *schema {
	s.anyOf = names
	return s
}

func (s *schema) oneOfValues(values ...string) *schema {
	s.enum = values
	return s
}

func (s *schema) verify(fn func(n *yaml.Node) string) *schema {
	s.check = fn
	return s
}

// SupportedVersion is the newest manifest format understood
var SupportedVersion = semver.MustParse("1.0.0")

var manifestSchema = object(map[string]*schema{
	"version": scalar().verify(func(n *yaml.Node) string {
		v, err := semver.ParseTolerant(n.Value)
		if err != nil {
			return fmt.Sprintf("%q is not a version", n.Value)
		}
		if v.Major != SupportedVersion.Major || v.GT(SupportedVersion) {
			return fmt.Sprintf("manifest format %s is not supported, this tool reads format %s", v, SupportedVersion)
		}
		return ""
	}),
	"input": object(map[string]*schema{
		"easy-installer": object(map[string]*schema{
			"local":  str(),
			"remote": str(),
			"toradex-feed": object(map[string]*schema{
				"version": str().verify(feedVersion),
				"release": str().oneOfValues(feedReleases()...),
				"machine": str(),
				"distro":  str(),
				"variant": str(),
				"build-number": scalar(),
				"build-date":   scalar(),
			}).require("version", "release", "machine", "distro", "build-number"),
		}).exactlyOne("local", "remote", "toradex-feed"),
		"raw-image": object(map[string]*schema{
			"local":  str(),
			"remote": str(),
		}).exactlyOne("local", "remote"),
	}).exactlyOne("easy-installer", "raw-image"),
	"customization": object(map[string]*schema{
		"splash-screen": str(),
		"filesystem":    list(str()),
		"device-tree": object(map[string]*schema{
			"include-dirs": list(str()),
			"custom":       str(),
			"overlays": object(map[string]*schema{
				"clear":  boolean(),
				"add":    list(str()),
				"remove": list(str()),
			}),
		}),
		"kernel": object(map[string]*schema{
			"modules": list(object(map[string]*schema{
				"source-dir": str(),
				"autoload":   boolean(),
			}).require("source-dir")),
			"arguments": list(str()),
		}),
	}),
	"output": object(map[string]*schema{
		"ostree": object(map[string]*schema{
			"branch":         str(),
			"commit-subject": str(),
			"commit-body":    str(),
		}),
		"easy-installer": object(map[string]*schema{
			"local":          str(),
			"name":           str(),
			"description":    str(),
			"licence":        str(),
			"release-notes":  str(),
			"accept-licence": boolean(),
			"autoinstall":    boolean(),
			"autoreboot":     boolean(),
			"bundle": object(map[string]*schema{
				"dir":          str(),
				"compose-file": str(),
				"platform":     str(),
			}).exactlyOne("dir", "compose-file"),
		}).require("local"),
		"raw-image": object(map[string]*schema{
			"local":        str(),
			"base":         str(),
			"rootfs-label": str(),
		}).require("local"),
	}).atLeastOne("easy-installer", "raw-image"),
}).require("input", "output")

// validator walks a document against a schema, collecting every violation
type validator struct {
	file       string
	violations []*Violation
}

func (v *validator) add(n *yaml.Node, path, format string, args ...interface{}) {
	viol := &Violation{File: v.file, Path: path, Message: fmt.Sprintf(format, args...)}
	if n != nil {
		viol.Line, viol.Column = n.Line, n.Column
	}
	v.violations = append(v.violations, viol)
}

func (v *validator) validate(n *yaml.Node, s *schema, path string) {
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	switch s.kind {
	case kindString, kindScalar:
		if n.Kind != yaml.ScalarNode || n.ShortTag() == "!!null" || (s.kind == kindString && n.ShortTag() != "!!str") {
			v.add(n, path, "must be %s", s.kind)
			return
		}
	case kindBool:
		if n.Kind != yaml.ScalarNode || n.ShortTag() != "!!bool" {
			v.add(n, path, "must be %s", s.kind)
			return
		}
	case kindSeq:
		if n.Kind != yaml.SequenceNode {
			v.add(n, path, "must be %s", s.kind)
			return
		}
		for i, item := range n.Content {
			v.validate(item, s.items, path+"["+strconv.Itoa(i)+"]")
		}
	case kindMap:
		if n.Kind != yaml.MappingNode {
			v.add(n, path, "must be %s", s.kind)
			return
		}
		v.validateMap(n, s, path)
	}
	if len(s.enum) > 0 && !contains(s.enum, n.Value) {
		v.add(n, path, "must be one of %s", strings.Join(s.enum, ", "))
	}
	if s.check != nil {
		if msg := s.check(n); msg != "" {
			v.add(n, path, "%s", msg)
		}
	}
}

func (v *validator) validateMap(n *yaml.Node, s *schema, path string) {
	present := make(map[string]bool, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, value := n.Content[i], n.Content[i+1]
		child := join(path, key.Value)
		fs, known := s.fields[key.Value]
		switch {
		case !known:
			v.add(key, child, "unknown property")
		case present[key.Value]:
			v.add(key, child, "duplicate property")
		default:
			present[key.Value] = true
			v.validate(value, fs, child)
		}
	}
	for _, name := range s.required {
		if !present[name] {
			v.add(n, path, "missing required property %q", name)
		}
	}
	if len(s.oneOf) > 0 {
		var set []string
		for _, name := range s.oneOf {
			if present[name] {
				set = append(set, name)
			}
		}
		if len(set) != 1 {
			v.add(n, path, "exactly one of %s must be given, found %d", quoteAll(s.oneOf), len(set))
		}
	}
	if len(s.anyOf) > 0 {
		found := false
		for _, name := range s.anyOf {
			found = found || present[name]
		}
		if !found {
			v.add(n, path, "at least one of %s must be given", quoteAll(s.anyOf))
		}
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = strconv.Quote(n)
	}
	return strings.Join(quoted, ", ")
}

func feedReleases() []string {
	releases := make([]string, 0, len(feedProducts))
	for r := range feedProducts {
		releases = append(releases, r)
	}
	sort.Strings(releases)
	return releases
}
