package attrs

import (
	"os"

	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"go.uber.org/multierr"
)

// Baseline is the metadata assumed for any path without a sidecar entry
type Baseline struct {
	UID     int
	GID     int
	File    os.FileMode
	Exec    os.FileMode
	Dir     os.FileMode
	Symlink os.FileMode
}

// DefaultBaseline is root-owned, 0660 for files, 0770 for executables, 0755 for directories
func DefaultBaseline() Baseline {
	return Baseline{
		File:    0660,
		Exec:    0770,
		Dir:     0755,
		Symlink: 0777,
	}
}

// Validate the baseline: the file mode must not be executable and the executable mode must be.
//
// Otherwise a file would not map back to the same baseline once written to a directory.
func (b Baseline) Validate() error {
	if b.File&0111 != 0 {
		return ErrInvalidBaseline.WrapMessage("file mode %#o has execute bits", b.File)
	}
	if b.Exec&0111 == 0 {
		return ErrInvalidBaseline.WrapMessage("executable mode %#o has no execute bit", b.Exec)
	}
	if b.UID < 0 || b.GID < 0 {
		return ErrInvalidBaseline.WrapMessage("negative owner")
	}
	return nil
}

// For returns the baseline metadata of a node, given its type and execute bits
func (b Baseline) For(n *fstree.Node) fstree.Meta {
	m := fstree.Meta{UID: b.UID, GID: b.GID}
	switch {
	case n.Type == fstree.TypeDir:
		m.Mode = b.Dir
	case n.Type == fstree.TypeSymlink:
		m.Mode = b.Symlink
	case n.Meta.IsExecutable():
		m.Mode = b.Exec
	default:
		m.Mode = b.File
	}
	return m
}

// IsBaseline tells if a node carries exactly the baseline metadata
func (b Baseline) IsBaseline(n *fstree.Node) bool {
	return n.Meta.Equal(b.For(n))
}

// Apply sets the baseline metadata on every node of a tree
func (b Baseline) Apply(tree *fstree.Tree) error {
	var nodes []*fstree.Node
	_ = tree.Walk(func(n *fstree.Node) error {
		nodes = append(nodes, n)
		return nil
	})
	for _, n := range nodes {
		if err := tree.SetMeta(n.Path, b.For(n)); err != nil {
			return err
		}
	}
	return nil
}

// Capture records the metadata of every node which differs from the baseline.
// Nodes for which keep returns true are recorded regardless.
func Capture(tree *fstree.Tree, b Baseline, keep func(*fstree.Node) bool) *Record {
	r := NewRecord()
	_ = tree.Walk(func(n *fstree.Node) error {
		if !b.IsBaseline(n) || (keep != nil && keep(n)) {
			r.Set(Entry{Path: n.Path, Meta: n.Meta})
		}
		return nil
	})
	return r
}

// Restore applies the entries of a record on a tree. Every entry must match a node:
// all missing paths are reported and the tree is left untouched.
func Restore(tree *fstree.Tree, r *Record) error {
	var merr error
	for _, e := range r.Entries() {
		if !tree.Has(e.Path) {
			merr = multierr.Append(merr, ErrMissingPath.WrapMessage("%s", e.Path))
		}
	}
	if merr != nil {
		return merr
	}
	for _, e := range r.Entries() {
		if err := tree.SetMeta(e.Path, e.Meta); err != nil {
			return err
		}
	}
	return nil
}
