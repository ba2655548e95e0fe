package ostree

import (
	"bufio"
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oneconcern/tcbuilder/pkg/errors"
)

// Well-known commit metadata keys
const (
	MetadataVersion = "version"
	MetadataKargs   = "oe.kargs-default"
)

// CarriedMetadata lists the metadata a child commit inherits from its parent
var CarriedMetadata = []string{
	MetadataVersion,
	MetadataKargs,
	"oe.layers",
	"oe.garage-target-name",
	"oe.garage-target-version",
	"oe.sota-hardware-id",
}

const showDateLayout = "2006-01-02 15:04:05 -0700"

// Repo is an OSTree repository
type Repo struct {
	path string
	run  Runner
}

// NewRepo for the repository at path. Nothing is created until Init.
func NewRepo(path string, run Runner) *Repo {
	return &Repo{path: path, run: run}
}

// Path of the repository
func (r *Repo) Path() string {
	return r.path
}

func (r *Repo) args(cmd string, args ...string) []string {
	return append([]string{cmd, "--repo=" + r.path}, args...)
}

func (r *Repo) exec(ctx context.Context, cmd string, args ...string) error {
	return r.run.Run(ctx, Cmd{Name: "ostree", Args: r.args(cmd, args...)})
}

func (r *Repo) output(ctx context.Context, cmd string, args ...string) (string, error) {
	return output(ctx, r.run, "ostree", r.args(cmd, args...)...)
}

// Init creates an archive repository, which static HTTP servers can serve as is
func (r *Repo) Init(ctx context.Context) error {
	return r.exec(ctx, "init", "--mode=archive-z2")
}

// PullLocal copies a commit and its objects from the repository at src
func (r *Repo) PullLocal(ctx context.Context, src, csum, remote string) error {
	args := []string{src, csum}
	if remote != "" {
		args = append([]string{"--remote=" + remote}, args...)
	}
	return r.exec(ctx, "pull-local", args...)
}

// RevParse resolves a reference or a checksum prefix to a commit checksum
func (r *Repo) RevParse(ctx context.Context, ref string) (string, error) {
	return r.output(ctx, "rev-parse", ref)
}

// Refs lists the names of the local references
func (r *Repo) Refs(ctx context.Context) ([]string, error) {
	out, err := r.output(ctx, "refs")
	if err != nil {
		return nil, err
	}
	var refs []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			refs = append(refs, line)
		}
	}
	sort.Strings(refs)
	return refs, nil
}

// SetRef points a reference at a commit, replacing any previous target
func (r *Repo) SetRef(ctx context.Context, name, csum string) error {
	return r.exec(ctx, "refs", "--force", "--create="+name, csum)
}

// CommitInfo is what ostree show reports about a commit
type CommitInfo struct {
	Checksum string
	Parent   string
	Date     time.Time
	Version  string
	Subject  string
	Body     string
}

// Show describes a commit
func (r *Repo) Show(ctx context.Context, csum string) (*CommitInfo, error) {
	out, err := r.output(ctx, "show", csum)
	if err != nil {
		return nil, err
	}
	return parseShow(out)
}

func parseShow(out string) (*CommitInfo, error) {
	var info CommitInfo
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	header := true
	var blocks [][]string
	var current []string
	for scanner.Scan() {
		line := scanner.Text()
		if header {
			if line == "" {
				header = false
				continue
			}
			key, value, _ := strings.Cut(line, " ")
			value = strings.TrimSpace(value)
			switch key {
			case "commit":
				info.Checksum = value
			case "Parent:":
				info.Parent = value
			case "Version:":
				info.Version = value
			case "Date:":
				d, err := time.Parse(showDateLayout, value)
				if err != nil {
					return nil, ErrMalformedOutput.WrapMessage("date %q", value).Wrap(err)
				}
				info.Date = d.UTC()
			case "(no":
				header = false
			}
			continue
		}
		if line == "" {
			if current != nil {
				blocks = append(blocks, current)
				current = nil
			}
			continue
		}
		current = append(current, strings.TrimPrefix(line, "    "))
	}
	if err := scanner.Err(); err != nil {
		return nil, ErrMalformedOutput.Wrap(err)
	}
	if current != nil {
		blocks = append(blocks, current)
	}
	if info.Checksum == "" {
		return nil, ErrMalformedOutput.WrapMessage("no commit checksum in %q", firstLine(out))
	}
	if len(blocks) > 0 {
		info.Subject = strings.Join(blocks[0], "\n")
		paragraphs := make([]string, 0, len(blocks)-1)
		for _, b := range blocks[1:] {
			paragraphs = append(paragraphs, strings.Join(b, "\n"))
		}
		info.Body = strings.Join(paragraphs, "\n\n")
	}
	return &info, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// Metadata returns the metadata values of a commit, in GVariant text format.
// Missing keys are left out.
func (r *Repo) Metadata(ctx context.Context, csum string, keys ...string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	for _, key := range keys {
		v, err := r.output(ctx, "show", "--print-metadata-key="+key, csum)
		if err != nil {
			if strings.Contains(err.Error(), "No such metadata key") {
				continue
			}
			return nil, err
		}
		values[key] = v
	}
	return values, nil
}

// MetadataString returns a string metadata value of a commit
func (r *Repo) MetadataString(ctx context.Context, csum, key string) (string, error) {
	values, err := r.Metadata(ctx, csum, key)
	if err != nil {
		return "", err
	}
	text, ok := values[key]
	if !ok {
		return "", ErrNoMetadataKey.WrapMessage("%s in %s", key, csum)
	}
	s, ok := UnquoteString(text)
	if !ok {
		return "", ErrMalformedOutput.WrapMessage("%s is not a string: %s", key, text)
	}
	return s, nil
}

// UnquoteString decodes a GVariant string literal
func UnquoteString(text string) (string, bool) {
	if len(text) < 2 {
		return "", false
	}
	quote := text[0]
	if (quote != '\'' && quote != '"') || text[len(text)-1] != quote {
		return "", false
	}
	body := text[1 : len(text)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i++; i == len(body) {
			return "", false
		}
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'u':
			if i+4 >= len(body) {
				return "", false
			}
			r, err := strconv.ParseUint(body[i+1:i+5], 16, 32)
			if err != nil {
				return "", false
			}
			b.WriteRune(rune(r))
			i += 4
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String(), true
}

// CommitOptions describe a commit made from a tarball
type CommitOptions struct {
	// Tarball holding the tree. Missing parent directories are created.
	Tarball string

	Parent    string
	Subject   string
	Body      string
	Timestamp time.Time

	// Metadata holds string values
	Metadata map[string]string

	// Keep copies metadata keys from the parent as they are
	Keep []string
}

// Commit writes a commit without updating any reference and returns its checksum
func (r *Repo) Commit(ctx context.Context, o CommitOptions) (string, error) {
	if o.Subject == "" {
		return "", errors.New("a commit subject is required")
	}
	args := []string{
		"--orphan",
		"--tree=tar=" + o.Tarball,
		"--tar-autocreate-parents",
		"--subject=" + o.Subject,
		"--body=" + o.Body,
	}
	if o.Parent != "" {
		args = append(args, "--parent="+o.Parent)
	}
	if !o.Timestamp.IsZero() {
		args = append(args, "--timestamp=@"+strconv.FormatInt(o.Timestamp.Unix(), 10))
	}
	keys := make([]string, 0, len(o.Metadata))
	for k := range o.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--add-metadata-string="+k+"="+o.Metadata[k])
	}
	for _, k := range o.Keep {
		args = append(args, "--keep-metadata="+k)
	}
	csum, err := r.output(ctx, "commit", args...)
	if err != nil {
		return "", err
	}
	return firstLine(csum), nil
}

// Export writes the tree of a commit to w as a tar stream
func (r *Repo) Export(ctx context.Context, csum string, w io.Writer) error {
	return r.run.Run(ctx, Cmd{Name: "ostree", Args: r.args("export", csum), Stdout: w})
}

// Fsck verifies the checksums of all objects in the repository
func (r *Repo) Fsck(ctx context.Context) error {
	if err := r.exec(ctx, "fsck"); err != nil {
		return ErrFsck.WrapMessage("%s", r.path).Wrap(err)
	}
	return nil
}
