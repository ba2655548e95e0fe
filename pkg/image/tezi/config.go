package tezi

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
)

const (
	// DefaultConfigName of the image configuration
	DefaultConfigName = "image.json"

	// RootfsLabel is the label of the root filesystem partition
	RootfsLabel = "otaroot"

	// FilelistFormat is the minimum configuration format supporting filelist entries
	FilelistFormat = 3

	// ReleaseDateLayout of the release_date field
	ReleaseDateLayout = "2006-01-02"

	mib = 1024 * 1024
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is an image.json document
type Config struct {
	data   map[string]interface{}
	rootfs map[string]interface{}
}

// FindConfig returns the name of the first image*.json file of an image directory
func FindConfig(fs afero.Fs, dir string) (string, error) {
	matches, err := afero.Glob(fs, filepath.Join(dir, "image*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", ErrNoConfig.WrapMessage("%s", dir)
	}
	sort.Strings(matches)
	return matches[0], nil
}

// Load an image.json file
func Load(fs afero.Fs, name string) (*Config, error) {
	b, err := afero.ReadFile(fs, name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig.WrapMessage("%s", name)
		}
		return nil, err
	}
	c, err := Parse(b)
	if err != nil {
		return nil, ErrMalformed.WrapMessage("%s", name).Wrap(err)
	}
	return c, nil
}

// Parse an image.json document
func Parse(b []byte) (*Config, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrMalformed.WrapMessage("empty document")
	}
	return &Config{data: data}, nil
}

// Marshal the document, indented the way the installer tooling writes it.
//
// A document carrying a filelist is upgraded to the configuration format supporting it.
func (c *Config) Marshal() ([]byte, error) {
	if content, err := c.Rootfs(); err == nil {
		if _, ok := content["filelist"]; ok && c.ConfigFormat() < FilelistFormat {
			c.data["config_format"] = FilelistFormat
		}
	}
	return json.MarshalIndent(c.data, "", "    ")
}

// Save the document
func (c *Config) Save(fs afero.Fs, name string) error {
	b, err := c.Marshal()
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, name, append(b, '\n'), 0644)
}

func (c *Config) str(key string) string {
	s, _ := c.data[key].(string)
	return s
}

// Name of the image
func (c *Config) Name() string { return c.str("name") }

// Version of the image
func (c *Config) Version() string { return c.str("version") }

// Description of the image
func (c *Config) Description() string { return c.str("description") }

// Licence file of the image
func (c *Config) Licence() string { return c.str("license") }

// ReleaseNotes file of the image
func (c *Config) ReleaseNotes() string { return c.str("releasenotes") }

// ReleaseDate of the image
func (c *Config) ReleaseDate() string { return c.str("release_date") }

// SetName of the image
func (c *Config) SetName(v string) { c.data["name"] = v }

// SetVersion of the image
func (c *Config) SetVersion(v string) { c.data["version"] = v }

// SetDescription of the image
func (c *Config) SetDescription(v string) { c.data["description"] = v }

// SetLicence file shown before installation
func (c *Config) SetLicence(v string) { c.data["license"] = v }

// SetReleaseNotes file shown before installation
func (c *Config) SetReleaseNotes(v string) { c.data["releasenotes"] = v }

// SetReleaseDate of the image
func (c *Config) SetReleaseDate(t time.Time) { c.data["release_date"] = t.Format(ReleaseDateLayout) }

// AutoInstall tells if the installer installs the image without user interaction
func (c *Config) AutoInstall() bool {
	b, _ := c.data["autoinstall"].(bool)
	return b
}

// SetAutoInstall flag
func (c *Config) SetAutoInstall(v bool) { c.data["autoinstall"] = v }

// ConfigFormat of the document. The build system writes it as a string at times.
func (c *Config) ConfigFormat() int {
	switch v := c.data["config_format"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 1
	}
}

// Rootfs returns the content section of the root filesystem
func (c *Config) Rootfs() (map[string]interface{}, error) {
	if c.rootfs != nil {
		return c.rootfs, nil
	}
	c.rootfs = findRootfs(c.data)
	if c.rootfs == nil {
		return nil, ErrNoRootfs
	}
	return c.rootfs, nil
}

func objects(v interface{}) []map[string]interface{} {
	list, _ := v.([]interface{})
	out := make([]map[string]interface{}, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func findRootfs(data map[string]interface{}) map[string]interface{} {
	if devs, ok := data["mtddevs"]; ok {
		for _, dev := range objects(devs) {
			if dev["name"] != "ubi" {
				continue
			}
			for _, vol := range objects(dev["ubivolumes"]) {
				if vol["name"] != "rootfs" {
					continue
				}
				content, _ := vol["content"].(map[string]interface{})
				return content
			}
		}
		return nil
	}
	for _, dev := range objects(data["blockdevs"]) {
		for _, part := range objects(dev["partitions"]) {
			content, _ := part["content"].(map[string]interface{})
			if content != nil && content["label"] == RootfsLabel {
				return content
			}
		}
	}
	return nil
}

// RootfsFilename is the name of the root filesystem tarball, relative to the image directory
func (c *Config) RootfsFilename() (string, error) {
	content, err := c.Rootfs()
	if err != nil {
		return "", err
	}
	name, _ := content["filename"].(string)
	if name == "" {
		return "", ErrNoRootfs.WrapMessage("no filename")
	}
	return name, nil
}

// UncompressedSize of the root filesystem content, in MiB
func (c *Config) UncompressedSize() float64 {
	content, err := c.Rootfs()
	if err != nil {
		return 0
	}
	switch v := content["uncompressed_size"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// SetUncompressedSize of the root filesystem content, from a size in bytes
func (c *Config) SetUncompressedSize(bytes int64) error {
	content, err := c.Rootfs()
	if err != nil {
		return err
	}
	content["uncompressed_size"] = float64(bytes) / mib
	return nil
}

// FileEntry is an element of the root filesystem filelist: a file of the image directory
// copied to a directory of the installed root filesystem, optionally unpacked.
type FileEntry struct {
	Source string
	Target string
	Unpack *bool
}

// ParseFileEntry decodes a "source:target[:unpack]" filelist entry
func ParseFileEntry(s string) (FileEntry, error) {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 2:
		return FileEntry{Source: parts[0], Target: parts[1]}, nil
	case 3:
		switch strings.ToLower(parts[2]) {
		case "true":
			t := true
			return FileEntry{Source: parts[0], Target: parts[1], Unpack: &t}, nil
		case "false":
			f := false
			return FileEntry{Source: parts[0], Target: parts[1], Unpack: &f}, nil
		}
	}
	return FileEntry{}, ErrFilelistEntry.WrapMessage("%q", s)
}

// MustParseFileEntry is ParseFileEntry for constant entries
func MustParseFileEntry(s string) FileEntry {
	e, err := ParseFileEntry(s)
	if err != nil {
		panic(err)
	}
	return e
}

func (e FileEntry) String() string {
	if e.Unpack == nil {
		return e.Source + ":" + e.Target
	}
	return e.Source + ":" + e.Target + ":" + strconv.FormatBool(*e.Unpack)
}

// Unpacked tells if the entry is unpacked at installation time
func (e FileEntry) Unpacked() bool {
	return e.Unpack != nil && *e.Unpack
}

// Filelist of the root filesystem content. The boolean is false when there is no filelist.
func (c *Config) Filelist() ([]FileEntry, bool, error) {
	content, err := c.Rootfs()
	if err != nil {
		return nil, false, err
	}
	raw, ok := content["filelist"]
	if !ok {
		return nil, false, nil
	}
	list, _ := raw.([]interface{})
	entries := make([]FileEntry, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, true, ErrFilelistEntry.WrapMessage("%v", v)
		}
		e, err := ParseFileEntry(s)
		if err != nil {
			return nil, true, err
		}
		entries = append(entries, e)
	}
	return entries, true, nil
}

// SizeFunc returns the installed size in bytes of a filelist entry
type SizeFunc func(FileEntry) (int64, error)

// AddFiles appends entries to the filelist and accounts for their size.
//
// Sources and targets already present are rejected unless allowed.
func (c *Config) AddFiles(entries []FileEntry, size SizeFunc, allowSameSource, allowSameTarget bool) error {
	current, _, err := c.Filelist()
	if err != nil {
		return err
	}
	sources := make(map[string]bool, len(current))
	targets := make(map[string]bool, len(current))
	for _, e := range current {
		sources[path.Clean(e.Source)] = true
		targets[path.Clean(e.Target)] = true
	}
	var extra int64
	for _, e := range entries {
		if !allowSameSource && sources[path.Clean(e.Source)] {
			return ErrSourceInFilelist.WrapMessage("%s", e.Source)
		}
		if !allowSameTarget && targets[path.Clean(e.Target)] {
			return ErrTargetInFilelist.WrapMessage("%s", e.Target)
		}
		if size != nil {
			n, err := size(e)
			if err != nil {
				return err
			}
			extra += n
		}
		current = append(current, e)
	}
	list := make([]interface{}, 0, len(current))
	for _, e := range current {
		list = append(list, e.String())
	}
	content, _ := c.Rootfs()
	content["filelist"] = list
	content["uncompressed_size"] = c.UncompressedSize() + float64(extra)/mib
	return nil
}
