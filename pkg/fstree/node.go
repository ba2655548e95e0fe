package fstree

import (
	"bytes"
	"encoding/hex"
	"io"
	"io/ioutil"
	"os"
	"path"
	"sort"
	"strings"

	blake2b "github.com/minio/blake2b-simd"
)

const (
	// SidecarName is the name of the attribute sidecar file carried by change sets
	SidecarName = ".tcattr"

	// WhiteoutPrefix marks the deletion of the sibling named by the rest of the file name
	WhiteoutPrefix = ".wh."

	// OpaqueMarker marks a directory whose lower-layer contents are cleared
	OpaqueMarker = WhiteoutPrefix + WhiteoutPrefix + ".opq"

	// SpecialModes are the mode bits kept on top of permissions
	SpecialModes = os.ModeSetuid | os.ModeSetgid | os.ModeSticky

	permMask = os.ModePerm | SpecialModes
)

// Type of a node
type Type uint8

const (
	// TypeFile is a regular file
	TypeFile Type = iota + 1
	// TypeDir is a directory
	TypeDir
	// TypeSymlink is a symbolic link
	TypeSymlink
)

func (t Type) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDir:
		return "dir"
	case TypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// ACLTag identifies the kind of an extended ACL entry
type ACLTag uint8

const (
	// ACLUser grants permissions to a named user
	ACLUser ACLTag = iota + 1
	// ACLGroupObj holds the permissions of the owning group when a mask is present
	ACLGroupObj
	// ACLGroup grants permissions to a named group
	ACLGroup
	// ACLMask bounds the permissions of the group class
	ACLMask
)

// ACLEntry is one extended entry of a POSIX access control list.
//
// The owner, owning group and other permissions live in the mode. When a mask is present,
// the group bits of the mode hold the mask and the owning group permissions are
// held by an ACLGroupObj entry.
type ACLEntry struct {
	Tag  ACLTag
	ID   int
	Perm os.FileMode
}

// Meta is the ownership and permission metadata of a node
type Meta struct {
	UID  int
	GID  int
	Mode os.FileMode
	ACL  []ACLEntry
}

// Perm returns the permission bits, including setuid, setgid and sticky
func (m Meta) Perm() os.FileMode {
	return m.Mode & permMask
}

// Normalize keeps only the permission bits of the mode and sorts the ACL
func (m Meta) Normalize() Meta {
	m.Mode &= permMask
	if len(m.ACL) == 0 {
		m.ACL = nil
		return m
	}
	acl := make([]ACLEntry, len(m.ACL))
	copy(acl, m.ACL)
	sort.Slice(acl, func(i, j int) bool {
		if acl[i].Tag != acl[j].Tag {
			return acl[i].Tag < acl[j].Tag
		}
		return acl[i].ID < acl[j].ID
	})
	m.ACL = acl
	return m
}

// Equal compares two metadata after normalization
func (m Meta) Equal(o Meta) bool {
	a, b := m.Normalize(), o.Normalize()
	if a.UID != b.UID || a.GID != b.GID || a.Mode != b.Mode || len(a.ACL) != len(b.ACL) {
		return false
	}
	for i := range a.ACL {
		if a.ACL[i] != b.ACL[i] {
			return false
		}
	}
	return true
}

// IsExecutable tells if any execute bit is set
func (m Meta) IsExecutable() bool {
	return m.Mode&0111 != 0
}

// Content gives access to the data of a regular file
type Content interface {
	Open() (io.ReadCloser, error)
}

// Bytes is in-memory content
type Bytes []byte

// Open the content
func (b Bytes) Open() (io.ReadCloser, error) {
	return ioutil.NopCloser(bytes.NewReader(b)), nil
}

// ContentFunc adapts a function to the Content interface
type ContentFunc func() (io.ReadCloser, error)

// Open the content
func (f ContentFunc) Open() (io.ReadCloser, error) {
	return f()
}

// Node is a file, directory or symbolic link in a tree
type Node struct {
	Path    string
	Type    Type
	Meta    Meta
	Size    int64
	Target  string
	Digest  string
	Content Content
}

// Name is the last element of the node path
func (n *Node) Name() string {
	return path.Base(n.Path)
}

// Clone the node. The content is shared.
func (n *Node) Clone() *Node {
	c := *n
	c.Meta = n.Meta.Normalize()
	return &c
}

// IsDir tells if this node is a directory
func (n *Node) IsDir() bool {
	return n.Type == TypeDir
}

// ComputeDigest returns the content digest of a regular file, hashing the content if
// it is not known yet. For symbolic links the digest is computed from the target.
func (n *Node) ComputeDigest() (string, error) {
	if n.Digest != "" || n.Type == TypeDir {
		return n.Digest, nil
	}
	if n.Type == TypeSymlink {
		n.Digest = DigestBytes([]byte(n.Target))
		return n.Digest, nil
	}
	if n.Content == nil {
		n.Digest = DigestBytes(nil)
		return n.Digest, nil
	}
	rdr, err := n.Content.Open()
	if err != nil {
		return "", err
	}
	defer rdr.Close()
	digest, size, err := DigestReader(rdr)
	if err != nil {
		return "", err
	}
	if size != n.Size {
		return "", ErrSizeMismatch.WrapMessage("%s: expected %d bytes, got %d", n.Path, n.Size, size)
	}
	n.Digest = digest
	return digest, nil
}

// SameContent compares the type and the payload of two nodes, ignoring metadata
func (n *Node) SameContent(o *Node) (bool, error) {
	if n.Type != o.Type {
		return false, nil
	}
	switch n.Type {
	case TypeDir:
		return true, nil
	case TypeSymlink:
		return n.Target == o.Target, nil
	}
	if n.Size != o.Size {
		return false, nil
	}
	a, err := n.ComputeDigest()
	if err != nil {
		return false, err
	}
	b, err := o.ComputeDigest()
	if err != nil {
		return false, err
	}
	return a == b, nil
}

// DigestReader hashes a stream and returns its hex digest and length
func DigestReader(r io.Reader) (string, int64, error) {
	hasher := blake2b.New256()
	n, err := io.Copy(hasher, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

// DigestBytes hashes a byte slice and returns its hex digest
func DigestBytes(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// IsReservedName tells if a base name cannot be held by a tree
func IsReservedName(name string) bool {
	return name == SidecarName || strings.HasPrefix(name, WhiteoutPrefix)
}

// CleanPath normalizes a path to the tree form: relative, slash-separated, without dot elements.
//
// The root directory is returned as the empty string.
func CleanPath(p string) (string, error) {
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", nil
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath.WrapMessage("%q escapes the root", p)
	}
	return cleaned, nil
}

// Parent returns the parent directory of a tree path, the root being the empty string
func Parent(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// Join tree paths
func Join(elem ...string) string {
	var parts []string
	for _, e := range elem {
		if e != "" {
			parts = append(parts, e)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	j := path.Join(parts...)
	if j == "." {
		return ""
	}
	return j
}

// IsUnder tells if p is dir or a descendant of dir. Every path is under the root.
func IsUnder(p, dir string) bool {
	return dir == "" || p == dir || strings.HasPrefix(p, dir+"/")
}
