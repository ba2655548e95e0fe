package fstree

import (
	"os"
	"strings"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// DefaultDirMeta is the metadata given to parent directories created implicitly
var DefaultDirMeta = Meta{Mode: 0755}

// Tree is a sorted collection of nodes keyed by path.
//
// Parents are always listed before their descendants when walking.
type Tree struct {
	root *iradix.Tree
}

// New empty tree
func New() *Tree {
	return &Tree{root: iradix.New()}
}

// Clone the tree. Subsequent modifications of either tree do not affect the other.
func (t *Tree) Clone() *Tree {
	return &Tree{root: t.root}
}

// Len is the number of nodes in the tree
func (t *Tree) Len() int {
	return t.root.Len()
}

// Get a node by path
func (t *Tree) Get(p string) (*Node, bool) {
	key, err := CleanPath(p)
	if err != nil || key == "" {
		return nil, false
	}
	v, ok := t.root.Get([]byte(key))
	if !ok {
		return nil, false
	}
	return v.(*Node), true
}

// Has a node at this path
func (t *Tree) Has(p string) bool {
	_, ok := t.Get(p)
	return ok
}

// Insert a node, replacing any node at the same path.
//
// Missing parent directories are created with DefaultDirMeta. Replacing a directory by
// a node of another type removes the directory descendants.
func (t *Tree) Insert(n *Node) error {
	return t.insert(n, DefaultDirMeta)
}

// InsertWithParents inserts a node, creating missing parents with the given metadata
func (t *Tree) InsertWithParents(n *Node, parentMeta Meta) error {
	return t.insert(n, parentMeta)
}

func (t *Tree) insert(n *Node, parentMeta Meta) error {
	key, err := CleanPath(n.Path)
	if err != nil {
		return err
	}
	if key == "" {
		return ErrInvalidPath.WrapMessage("the root directory is not a node")
	}
	if IsReservedName(n.Name()) {
		return ErrReservedName.WrapMessage("%s", key)
	}
	switch n.Type {
	case TypeFile, TypeDir, TypeSymlink:
	default:
		return ErrUnsupported.WrapMessage("%s: type %d", key, n.Type)
	}

	txn := t.root.Txn()
	if err := ensureParents(txn, Parent(key), parentMeta); err != nil {
		return err
	}
	node := n.Clone()
	node.Path = key
	if node.Type != TypeFile {
		node.Content = nil
		node.Size = 0
	}
	if node.Type == TypeDir {
		node.Digest = ""
	}
	if old, ok := txn.Get([]byte(key)); ok && old.(*Node).Type == TypeDir && node.Type != TypeDir {
		txn.DeletePrefix([]byte(key + "/"))
	}
	txn.Insert([]byte(key), node)
	t.root = txn.Commit()
	return nil
}

func ensureParents(txn *iradix.Txn, dir string, meta Meta) error {
	if dir == "" {
		return nil
	}
	if v, ok := txn.Get([]byte(dir)); ok {
		if v.(*Node).Type != TypeDir {
			return ErrNotDirectory.WrapMessage("%s", dir)
		}
		return nil
	}
	if err := ensureParents(txn, Parent(dir), meta); err != nil {
		return err
	}
	txn.Insert([]byte(dir), &Node{Path: dir, Type: TypeDir, Meta: meta.Normalize()})
	return nil
}

// SetMeta replaces the metadata of an existing node
func (t *Tree) SetMeta(p string, meta Meta) error {
	n, ok := t.Get(p)
	if !ok {
		return ErrNotFound.WrapMessage("%s", p)
	}
	c := n.Clone()
	c.Meta = meta.Normalize()
	t.root, _, _ = t.root.Insert([]byte(c.Path), c)
	return nil
}

// Delete a node and all its descendants. It returns the number of removed nodes.
func (t *Tree) Delete(p string) int {
	key, err := CleanPath(p)
	if err != nil {
		return 0
	}
	if key == "" {
		n := t.Len()
		t.root = iradix.New()
		return n
	}
	before := t.Len()
	txn := t.root.Txn()
	txn.Delete([]byte(key))
	txn.DeletePrefix([]byte(key + "/"))
	t.root = txn.Commit()
	return before - t.Len()
}

// DeleteChildren removes all descendants of a directory, keeping the directory itself.
func (t *Tree) DeleteChildren(dir string) int {
	key, err := CleanPath(dir)
	if err != nil {
		return 0
	}
	if key == "" {
		return t.Delete("")
	}
	before := t.Len()
	t.root, _ = t.root.DeletePrefix([]byte(key + "/"))
	return before - t.Len()
}

// Walk all nodes in path order
func (t *Tree) Walk(fn func(*Node) error) error {
	var err error
	t.root.Root().Walk(func(_ []byte, v interface{}) bool {
		err = fn(v.(*Node))
		return err != nil
	})
	return err
}

// WalkUnder walks the descendants of a directory in path order. The directory itself is not visited.
func (t *Tree) WalkUnder(dir string, fn func(*Node) error) error {
	key, err := CleanPath(dir)
	if err != nil {
		return err
	}
	if key == "" {
		return t.Walk(fn)
	}
	t.root.Root().WalkPrefix([]byte(key+"/"), func(_ []byte, v interface{}) bool {
		err = fn(v.(*Node))
		return err != nil
	})
	return err
}

// Children lists the direct children of a directory
func (t *Tree) Children(dir string) []*Node {
	var children []*Node
	_ = t.WalkUnder(dir, func(n *Node) error {
		if Parent(n.Path) == dir {
			children = append(children, n)
		}
		return nil
	})
	return children
}

// Paths of all nodes, in walk order
func (t *Tree) Paths() []string {
	paths := make([]string, 0, t.Len())
	_ = t.Walk(func(n *Node) error {
		paths = append(paths, n.Path)
		return nil
	})
	return paths
}

// Sub returns the subtree rooted at dir, with paths relative to dir.
//
// The boolean result tells if dir exists as a directory. A missing dir yields an empty tree.
func (t *Tree) Sub(dir string) (*Tree, bool) {
	key, err := CleanPath(dir)
	if err != nil {
		return New(), false
	}
	if key == "" {
		return t.Clone(), true
	}
	if n, ok := t.Get(key); !ok || n.Type != TypeDir {
		return New(), false
	}
	txn := iradix.New().Txn()
	_ = t.WalkUnder(key, func(n *Node) error {
		c := *n
		c.Path = strings.TrimPrefix(n.Path, key+"/")
		txn.Insert([]byte(c.Path), &c)
		return nil
	})
	return &Tree{root: txn.Commit()}, true
}

// Graft inserts all nodes of sub under dir, replacing existing nodes at the same paths.
//
// The existing descendants of dir which are not part of sub are kept.
func (t *Tree) Graft(dir string, sub *Tree, parentMeta Meta) error {
	key, err := CleanPath(dir)
	if err != nil {
		return err
	}
	return sub.Walk(func(n *Node) error {
		c := *n
		c.Path = Join(key, n.Path)
		return t.insert(&c, parentMeta)
	})
}

// FileMode returns the os.FileMode of a node, type bits included
func (n *Node) FileMode() os.FileMode {
	mode := n.Meta.Perm()
	switch n.Type {
	case TypeDir:
		mode |= os.ModeDir
	case TypeSymlink:
		mode |= os.ModeSymlink
	}
	return mode
}
