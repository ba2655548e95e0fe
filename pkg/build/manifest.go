package build

import (
	"path/filepath"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// DefaultManifest is the manifest file name used when none is given
const DefaultManifest = "tcbuild.yaml"

// Manifest is a validated build manifest
type Manifest struct {
	// File the manifest was read from. Relative paths of the manifest are relative to its directory.
	File string `yaml:"-"`

	Version       string        `yaml:"version,omitempty"`
	Input         Input         `yaml:"input"`
	Customization Customization `yaml:"customization,omitempty"`
	Output        Output        `yaml:"output"`
}

// Input image, exactly one being set
type Input struct {
	EasyInstaller *InstallerInput `yaml:"easy-installer,omitempty"`
	RawImage      *RawImageInput  `yaml:"raw-image,omitempty"`
}

// InstallerInput is an installer archive, as a local directory or tarball, a download, or a feed image
type InstallerInput struct {
	Local       string `yaml:"local,omitempty"`
	Remote      string `yaml:"remote,omitempty"`
	ToradexFeed *Feed  `yaml:"toradex-feed,omitempty"`
}

// RawImageInput is a block image, local or downloaded
type RawImageInput struct {
	Local  string `yaml:"local,omitempty"`
	Remote string `yaml:"remote,omitempty"`
}

// Feed identifies an image published by Toradex
type Feed struct {
	Version     string `yaml:"version"`
	Release     string `yaml:"release"`
	Machine     string `yaml:"machine"`
	Distro      string `yaml:"distro"`
	Variant     string `yaml:"variant,omitempty"`
	BuildNumber string `yaml:"build-number"`
	BuildDate   string `yaml:"build-date,omitempty"`
}

// Customization phases
type Customization struct {
	SplashScreen string      `yaml:"splash-screen,omitempty"`
	Filesystem   []string    `yaml:"filesystem,omitempty"`
	DeviceTree   *DeviceTree `yaml:"device-tree,omitempty"`
	Kernel       *Kernel     `yaml:"kernel,omitempty"`
}

// DeviceTree customization
type DeviceTree struct {
	IncludeDirs []string  `yaml:"include-dirs,omitempty"`
	Custom      string    `yaml:"custom,omitempty"`
	Overlays    *Overlays `yaml:"overlays,omitempty"`
}

// Overlays of the device tree
type Overlays struct {
	Clear  bool     `yaml:"clear,omitempty"`
	Add    []string `yaml:"add,omitempty"`
	Remove []string `yaml:"remove,omitempty"`
}

// Kernel customization
type Kernel struct {
	Modules   []KernelModule `yaml:"modules,omitempty"`
	Arguments []string       `yaml:"arguments,omitempty"`
}

// KernelModule built from sources
type KernelModule struct {
	SourceDir string `yaml:"source-dir"`
	Autoload  bool   `yaml:"autoload,omitempty"`
}

// Output targets
type Output struct {
	OSTree        *OSTreeOutput    `yaml:"ostree,omitempty"`
	EasyInstaller *InstallerOutput `yaml:"easy-installer,omitempty"`
	RawImage      *RawImageOutput  `yaml:"raw-image,omitempty"`
}

// OSTreeOutput tunes the commit holding the customized tree
type OSTreeOutput struct {
	Branch        string `yaml:"branch,omitempty"`
	CommitSubject string `yaml:"commit-subject,omitempty"`
	CommitBody    string `yaml:"commit-body,omitempty"`
}

// InstallerOutput is an installer archive directory
type InstallerOutput struct {
	Local         string  `yaml:"local"`
	Name          string  `yaml:"name,omitempty"`
	Description   string  `yaml:"description,omitempty"`
	Licence       string  `yaml:"licence,omitempty"`
	ReleaseNotes  string  `yaml:"release-notes,omitempty"`
	AcceptLicence bool    `yaml:"accept-licence,omitempty"`
	AutoInstall   *bool   `yaml:"autoinstall,omitempty"`
	AutoReboot    bool    `yaml:"autoreboot,omitempty"`
	Bundle        *Bundle `yaml:"bundle,omitempty"`
}

// Bundle of containers, prepared in a directory or made from a compose file
type Bundle struct {
	Dir         string `yaml:"dir,omitempty"`
	ComposeFile string `yaml:"compose-file,omitempty"`
	Platform    string `yaml:"platform,omitempty"`
}

// RawImageOutput is a block image
type RawImageOutput struct {
	Local       string `yaml:"local"`
	Base        string `yaml:"base,omitempty"`
	RootfsLabel string `yaml:"rootfs-label,omitempty"`
}

// Parse validates and decodes a manifest. Variables are substituted in string values
// first, unless vars is nil.
//
// All violations are reported at once, see Violations.
func Parse(data []byte, file string, vars map[string]string) (*Manifest, error) {
	v := &validator{file: file}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		v.add(nil, "", "%v", err)
		return nil, v.err()
	}
	if len(root.Content) == 0 {
		v.add(nil, "", "empty manifest")
		return nil, v.err()
	}
	doc := root.Content[0]
	if vars != nil {
		substitute(doc, vars)
	}
	v.validate(doc, manifestSchema, "")
	v.crossCheck(doc)
	if len(v.violations) > 0 {
		return nil, v.err()
	}

	m := &Manifest{File: file}
	if err := doc.Decode(m); err != nil {
		return nil, ErrManifest.WrapMessage("%s", file).Wrap(err)
	}
	return m, nil
}

func (v *validator) err() error {
	var merr error
	for _, viol := range v.violations {
		merr = multierr.Append(merr, viol)
	}
	return ErrManifest.WrapMessage("%s", v.file).Wrap(merr)
}

// crossCheck validates constraints spanning several properties
func (v *validator) crossCheck(doc *yaml.Node) {
	for _, layout := range []string{"easy-installer", "raw-image"} {
		key, _ := lookup(doc, "output", layout)
		if key == nil {
			continue
		}
		if in, _ := lookup(doc, "input", layout); in == nil {
			v.add(key, "output."+layout, "requires an input.%s image", layout)
		}
	}
	if key, release := lookup(doc, "input", "easy-installer", "toradex-feed", "release"); key != nil && release.Value != "quarterly" {
		if date, _ := lookup(doc, "input", "easy-installer", "toradex-feed", "build-date"); date == nil {
			v.add(key, "input.easy-installer.toradex-feed", "build-date is required for %s releases", release.Value)
		}
	}
}

// lookup returns the key and value nodes of a property path
func lookup(n *yaml.Node, keys ...string) (*yaml.Node, *yaml.Node) {
	var key *yaml.Node
	for _, k := range keys {
		if n == nil || n.Kind != yaml.MappingNode {
			return nil, nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == k {
				key, next = n.Content[i], n.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil, nil
		}
		n = next
	}
	return key, n
}

// substitute expands variables in the string values of a document. Plain values are
// resolved again, so that a variable may stand for a boolean.
func substitute(n *yaml.Node, vars map[string]string) {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			substitute(c, vars)
		}
	case yaml.MappingNode:
		for i := 1; i < len(n.Content); i += 2 {
			substitute(n.Content[i], vars)
		}
	case yaml.ScalarNode:
		if n.ShortTag() != "!!str" {
			return
		}
		expanded := Expand(n.Value, vars)
		if expanded == n.Value {
			return
		}
		n.Value = expanded
		if n.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle|yaml.LiteralStyle|yaml.FoldedStyle) == 0 {
			n.Tag = ""
		}
	}
}

// Path resolves a path of the manifest against its directory
func (m *Manifest) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(m.File), p)
}

// inputSource tells where the input image is, and if it must be downloaded
func (m *Manifest) inputSource() (string, bool) {
	in := m.Input
	switch {
	case in.EasyInstaller != nil && in.EasyInstaller.Local != "":
		return m.Path(in.EasyInstaller.Local), false
	case in.EasyInstaller != nil && in.EasyInstaller.Remote != "":
		return in.EasyInstaller.Remote, true
	case in.EasyInstaller != nil && in.EasyInstaller.ToradexFeed != nil:
		url, name := in.EasyInstaller.ToradexFeed.URL()
		return url + ";filename=" + name, true
	case in.RawImage != nil && in.RawImage.Local != "":
		return m.Path(in.RawImage.Local), false
	case in.RawImage != nil:
		return in.RawImage.Remote, true
	}
	return "", false
}
