package fetch

import (
	"encoding/hex"
	"net/url"
	"path"
	"strings"
)

// Source of an image download
type Source struct {
	URL      *url.URL
	SHA256   string
	Filename string
}

func (s Source) String() string {
	return s.URL.Redacted()
}

// Bucket and key of an object store source
func (s Source) Bucket() (string, string) {
	return s.URL.Host, strings.TrimPrefix(s.URL.Path, "/")
}

// ParseSource decodes a URL followed by ;sha256sum= and ;filename= parameters
func ParseSource(raw string) (Source, error) {
	parts := strings.Split(strings.TrimSpace(raw), ";")
	u, err := url.Parse(parts[0])
	if err != nil {
		return Source{}, ErrInvalidSource.WrapMessage("%q", raw).Wrap(err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Source{}, ErrInvalidSource.WrapMessage("%q: a scheme and a host are required", raw)
	}
	src := Source{URL: u}
	for _, p := range parts[1:] {
		key, value, ok := strings.Cut(p, "=")
		if !ok || value == "" {
			return Source{}, ErrInvalidSource.WrapMessage("%q: malformed parameter %q", raw, p)
		}
		switch key {
		case "sha256sum":
			value = strings.ToLower(value)
			if b, err := hex.DecodeString(value); err != nil || len(b) != 32 {
				return Source{}, ErrInvalidSource.WrapMessage("%q: sha256sum must be 64 hexadecimal digits", raw)
			}
			src.SHA256 = value
		case "filename":
			if value != path.Base(value) || value == "." || value == ".." {
				return Source{}, ErrInvalidSource.WrapMessage("%q: filename must not hold a directory", raw)
			}
			src.Filename = value
		default:
			return Source{}, ErrInvalidSource.WrapMessage("%q: unknown parameter %q", raw, key)
		}
	}
	if src.Filename == "" {
		src.Filename = path.Base(u.Path)
		if src.Filename == "/" || src.Filename == "." || src.Filename == "" {
			return Source{}, ErrInvalidSource.WrapMessage("%q: no file name, use ;filename=", raw)
		}
	}
	return src, nil
}
