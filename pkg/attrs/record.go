package attrs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"go.uber.org/multierr"
)

// FileName of attribute sidecars
const FileName = fstree.SidecarName

const (
	headerFile  = "# file: "
	headerOwner = "# owner: "
	headerGroup = "# group: "
	headerFlags = "# flags: "
)

// Entry holds the metadata of one path
type Entry struct {
	Path string
	Meta fstree.Meta
}

// Record is the content of a sidecar: entries sorted by path, with unique paths
type Record struct {
	entries []Entry
	index   map[string]int
}

// NewRecord builds a record from entries. Later entries replace earlier ones with the same path.
func NewRecord(entries ...Entry) *Record {
	r := &Record{}
	for _, e := range entries {
		r.Set(e)
	}
	return r
}

// Len is the number of entries
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Entries sorted by path
func (r *Record) Entries() []Entry {
	if r == nil {
		return nil
	}
	r.sort()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Get the entry for a path
func (r *Record) Get(p string) (Entry, bool) {
	if r == nil || r.index == nil {
		return Entry{}, false
	}
	i, ok := r.index[p]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Set an entry, replacing any entry with the same path
func (r *Record) Set(e Entry) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	e.Meta = e.Meta.Normalize()
	if i, ok := r.index[e.Path]; ok {
		r.entries[i] = e
		return
	}
	r.index[e.Path] = len(r.entries)
	r.entries = append(r.entries, e)
}

// Merge all entries of another record, rebased under a directory
func (r *Record) Merge(dir string, o *Record) {
	for _, e := range o.Entries() {
		r.Set(Entry{Path: fstree.Join(dir, e.Path), Meta: e.Meta})
	}
}

// Rebase returns a record with all paths made relative to dir, dropping entries outside of it
func (r *Record) Rebase(dir string) *Record {
	out := NewRecord()
	for _, e := range r.Entries() {
		switch {
		case dir == "":
			out.Set(e)
		case strings.HasPrefix(e.Path, dir+"/"):
			out.Set(Entry{Path: strings.TrimPrefix(e.Path, dir+"/"), Meta: e.Meta})
		}
	}
	return out
}

func (r *Record) sort() {
	sort.SliceStable(r.entries, func(i, j int) bool { return r.entries[i].Path < r.entries[j].Path })
	for i, e := range r.entries {
		r.index[e.Path] = i
	}
}

func formatFlags(m os.FileMode) string {
	b := []byte("---")
	if m&os.ModeSetuid != 0 {
		b[0] = 's'
	}
	if m&os.ModeSetgid != 0 {
		b[1] = 's'
	}
	if m&os.ModeSticky != 0 {
		b[2] = 't'
	}
	return string(b)
}

func parseFlags(s string) (os.FileMode, error) {
	if len(s) != 3 {
		return 0, fmt.Errorf("flags %q", s)
	}
	var m os.FileMode
	for i, bit := range []struct {
		c    byte
		mode os.FileMode
	}{{'s', os.ModeSetuid}, {'s', os.ModeSetgid}, {'t', os.ModeSticky}} {
		switch s[i] {
		case bit.c:
			m |= bit.mode
		case '-':
		default:
			return 0, fmt.Errorf("flags %q", s)
		}
	}
	return m, nil
}

// Encode writes a record in getfacl text format
func Encode(w io.Writer, r *Record) error {
	bw := bufio.NewWriter(w)
	for i, e := range r.Entries() {
		if i > 0 {
			fmt.Fprintln(bw)
		}
		fmt.Fprintf(bw, "%s%s\n", headerFile, quote(e.Path))
		fmt.Fprintf(bw, "%s%d\n", headerOwner, e.Meta.UID)
		fmt.Fprintf(bw, "%s%d\n", headerGroup, e.Meta.GID)
		if special := e.Meta.Mode & fstree.SpecialModes; special != 0 {
			fmt.Fprintf(bw, "%s%s\n", headerFlags, formatFlags(special))
		}
		for _, line := range fstree.FormatACL(e.Meta) {
			fmt.Fprintln(bw, line)
		}
	}
	return bw.Flush()
}

type block struct {
	line  int
	lines []string
}

// Decode parses a sidecar. All malformed records are reported.
func Decode(rd io.Reader) (*Record, error) {
	var (
		blocks  []block
		current *block
		lineNo  int
	)
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			current = nil
			continue
		}
		if current == nil {
			blocks = append(blocks, block{line: lineNo})
			current = &blocks[len(blocks)-1]
		}
		current.lines = append(current.lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var merr error
	r := NewRecord()
	for _, b := range blocks {
		e, err := decodeBlock(b)
		if err != nil {
			merr = multierr.Append(merr, err)
			continue
		}
		if _, exists := r.Get(e.Path); exists {
			merr = multierr.Append(merr, ErrMalformed.WrapMessage("line %d: duplicate entry for %q", b.line, e.Path))
			continue
		}
		r.Set(e)
	}
	if merr != nil {
		return nil, merr
	}
	return r, nil
}

func decodeBlock(b block) (Entry, error) {
	var (
		e         Entry
		hasFile   bool
		hasOwner  bool
		hasGroup  bool
		special   os.FileMode
		aclLines  []string
		malformed = func(offset int, format string, args ...interface{}) error {
			return ErrMalformed.WrapMessage("line %d: %s", b.line+offset, fmt.Sprintf(format, args...))
		}
	)
	for i, line := range b.lines {
		switch {
		case strings.HasPrefix(line, headerFile):
			raw, err := unquote(strings.TrimPrefix(line, headerFile))
			if err != nil {
				return e, malformed(i, "%v", err)
			}
			p, err := fstree.CleanPath(raw)
			if err != nil {
				return e, malformed(i, "%v", err)
			}
			if p == "" {
				return e, malformed(i, "the sidecar directory itself cannot carry attributes")
			}
			e.Path, hasFile = p, true
		case strings.HasPrefix(line, headerOwner):
			id, err := strconv.Atoi(strings.TrimPrefix(line, headerOwner))
			if err != nil || id < 0 {
				return e, malformed(i, "owner must be a numeric id: %q", line)
			}
			e.Meta.UID, hasOwner = id, true
		case strings.HasPrefix(line, headerGroup):
			id, err := strconv.Atoi(strings.TrimPrefix(line, headerGroup))
			if err != nil || id < 0 {
				return e, malformed(i, "group must be a numeric id: %q", line)
			}
			e.Meta.GID, hasGroup = id, true
		case strings.HasPrefix(line, headerFlags):
			m, err := parseFlags(strings.TrimPrefix(line, headerFlags))
			if err != nil {
				return e, malformed(i, "%v", err)
			}
			special = m
		case strings.HasPrefix(line, "#"):
			// other comments are ignored, as setfacl does
		default:
			aclLines = append(aclLines, line)
		}
	}
	switch {
	case !hasFile:
		return e, malformed(0, "missing %q header", strings.TrimSpace(headerFile))
	case !hasOwner:
		return e, malformed(0, "%s: missing owner", e.Path)
	case !hasGroup:
		return e, malformed(0, "%s: missing group", e.Path)
	}
	perm, acl, err := fstree.ParseACL(aclLines)
	if err != nil {
		return e, malformed(0, "%s: %v", e.Path, err)
	}
	e.Meta.Mode = perm | special
	e.Meta.ACL = acl
	e.Meta = e.Meta.Normalize()
	return e, nil
}

func needsQuoting(c byte) bool {
	return c <= ' ' || c == '\\' || c >= 0x7f
}

// quote escapes whitespace, backslashes and non-printable bytes as \ooo, the way getfacl does
func quote(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if needsQuoting(c) {
			fmt.Fprintf(&sb, "\\%03o", c)
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func unquote(s string) (string, error) {
	if !strings.Contains(s, "\\") {
		return s, nil
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			sb.WriteByte(s[i])
			continue
		}
		if i+4 > len(s) {
			return "", fmt.Errorf("truncated escape in %q", s)
		}
		v, err := strconv.ParseUint(s[i+1:i+4], 8, 8)
		if err != nil {
			return "", fmt.Errorf("invalid escape in %q", s)
		}
		sb.WriteByte(byte(v))
		i += 3
	}
	return sb.String(), nil
}
