package fstree

import (
	"archive/tar"
	"io"
	"io/ioutil"
	"os"
	"strings"
	"time"
)

const (
	paxACLAccess = "SCHILY.acl.access"

	tarSetuid = 04000
	tarSetgid = 02000
	tarSticky = 01000
)

// SpoolFunc stores the content of a regular file read from an archive.
// It returns the content accessor and its digest.
type SpoolFunc func(hdr *tar.Header, r io.Reader) (Content, string, error)

// MemorySpool keeps file contents in memory
func MemorySpool(_ *tar.Header, r io.Reader) (Content, string, error) {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, "", err
	}
	return Bytes(b), DigestBytes(b), nil
}

type tarOptions struct {
	spool   SpoolFunc
	modTime time.Time
	skipped func(hdr *tar.Header)
}

// TarOption tunes archive reading and writing
type TarOption func(*tarOptions)

// WithSpool stores file contents with a custom spool, e.g. an object store
func WithSpool(s SpoolFunc) TarOption {
	return func(o *tarOptions) {
		if s != nil {
			o.spool = s
		}
	}
}

// WithModTime sets the modification time of all written entries
func WithModTime(t time.Time) TarOption {
	return func(o *tarOptions) {
		o.modTime = t
	}
}

// WithSkipped reports entries of unsupported types (devices, fifos) which are skipped when reading
func WithSkipped(fn func(hdr *tar.Header)) TarOption {
	return func(o *tarOptions) {
		o.skipped = fn
	}
}

func modeFromTar(m int64) os.FileMode {
	mode := os.FileMode(m) & os.ModePerm
	if m&tarSetuid != 0 {
		mode |= os.ModeSetuid
	}
	if m&tarSetgid != 0 {
		mode |= os.ModeSetgid
	}
	if m&tarSticky != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

func modeToTar(m os.FileMode) int64 {
	mode := int64(m & os.ModePerm)
	if m&os.ModeSetuid != 0 {
		mode |= tarSetuid
	}
	if m&os.ModeSetgid != 0 {
		mode |= tarSetgid
	}
	if m&os.ModeSticky != 0 {
		mode |= tarSticky
	}
	return mode
}

// FromTar builds a tree from a tar stream.
//
// Ownership is numeric. Access ACLs are read from the SCHILY.acl.access PAX record.
// Hard links become copies of their target. Device nodes and fifos are skipped.
func FromTar(r io.Reader, opts ...TarOption) (*Tree, error) {
	o := tarOptions{spool: MemorySpool}
	for _, apply := range opts {
		apply(&o)
	}
	tree := New()
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return tree, nil
		}
		if err != nil {
			return nil, err
		}
		rel, err := CleanPath(strings.TrimPrefix(hdr.Name, "./"))
		if err != nil {
			return nil, err
		}
		if rel == "" {
			continue
		}
		meta := Meta{UID: hdr.Uid, GID: hdr.Gid, Mode: modeFromTar(hdr.Mode)}
		if text, ok := hdr.PAXRecords[paxACLAccess]; ok && text != "" {
			perm, acl, err := ParseACLText(text)
			if err != nil {
				return nil, ErrMalformedACL.WrapMessage("%s", rel).Wrap(err)
			}
			meta.Mode = meta.Mode&SpecialModes | perm
			meta.ACL = acl
		}
		node := &Node{Path: rel, Meta: meta}
		switch hdr.Typeflag {
		case tar.TypeDir:
			node.Type = TypeDir
		case tar.TypeSymlink:
			node.Type = TypeSymlink
			node.Target = hdr.Linkname
		case tar.TypeReg:
			node.Type = TypeFile
			node.Size = hdr.Size
			if node.Content, node.Digest, err = o.spool(hdr, tr); err != nil {
				return nil, err
			}
		case tar.TypeLink:
			target, ok := tree.Get(strings.TrimPrefix(hdr.Linkname, "./"))
			if !ok || target.Type != TypeFile {
				return nil, ErrNotFound.WrapMessage("%s: hard link target %s", rel, hdr.Linkname)
			}
			node.Type = TypeFile
			node.Size, node.Content, node.Digest = target.Size, target.Content, target.Digest
		default:
			if o.skipped != nil {
				o.skipped(hdr)
			}
			continue
		}
		if err := tree.Insert(node); err != nil {
			return nil, err
		}
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteTar writes a tree as a deterministic PAX tar stream and returns the number of bytes written.
//
// Entries are written in path order, with numeric ownership and a fixed modification time.
func WriteTar(w io.Writer, t *Tree, opts ...TarOption) (int64, error) {
	var o tarOptions
	for _, apply := range opts {
		apply(&o)
	}
	modTime := o.modTime.UTC().Truncate(time.Second)
	if o.modTime.IsZero() {
		modTime = time.Unix(0, 0).UTC()
	}
	cw := &countingWriter{w: w}
	tw := tar.NewWriter(cw)
	err := t.Walk(func(n *Node) error {
		hdr := &tar.Header{
			Name:    n.Path,
			Mode:    modeToTar(n.Meta.Mode),
			Uid:     n.Meta.UID,
			Gid:     n.Meta.GID,
			ModTime: modTime,
			Format:  tar.FormatPAX,
		}
		if len(n.Meta.ACL) > 0 {
			hdr.PAXRecords = map[string]string{paxACLAccess: FormatACLText(n.Meta)}
		}
		switch n.Type {
		case TypeDir:
			hdr.Typeflag = tar.TypeDir
			hdr.Name += "/"
		case TypeSymlink:
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = n.Target
		case TypeFile:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = n.Size
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if n.Type != TypeFile || n.Size == 0 {
			return nil
		}
		if n.Content == nil {
			return ErrSizeMismatch.WrapMessage("%s: no content for %d bytes", n.Path, n.Size)
		}
		rdr, err := n.Content.Open()
		if err != nil {
			return err
		}
		defer rdr.Close()
		copied, err := io.Copy(tw, rdr)
		if err != nil {
			return ErrSizeMismatch.WrapMessage("%s", n.Path).Wrap(err)
		}
		if copied != n.Size {
			return ErrSizeMismatch.WrapMessage("%s: expected %d bytes, got %d", n.Path, n.Size, copied)
		}
		return nil
	})
	if err != nil {
		return cw.n, err
	}
	if err := tw.Close(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}
