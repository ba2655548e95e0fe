package changeset

import (
	"github.com/oneconcern/tcbuilder/pkg/attrs"
	"github.com/oneconcern/tcbuilder/pkg/fstree"
)

// Entry is one element of a change set: a tree entry, a deletion or a metadata entry.
//
// Only tree entries ever become part of a composed tree.
type Entry interface {
	EntryPath() string
	isEntry()
}

// TreeEntry is a material file, directory or symbolic link
type TreeEntry struct {
	Node *fstree.Node
}

// DeletionEntry is a whiteout or opaque marker
type DeletionEntry struct {
	Deletion
}

// MetadataEntry is a sidecar entry. It is never a tree member.
type MetadataEntry struct {
	attrs.Entry
}

// EntryPath of a tree entry
func (e TreeEntry) EntryPath() string { return e.Node.Path }

// EntryPath of a deletion
func (e DeletionEntry) EntryPath() string { return e.Path }

// EntryPath of a metadata entry
func (e MetadataEntry) EntryPath() string { return e.Path }

func (TreeEntry) isEntry()     {}
func (DeletionEntry) isEntry() {}
func (MetadataEntry) isEntry() {}

// Entries lists deletions, then tree entries in path order, then metadata entries
func (cs *ChangeSet) Entries() []Entry {
	var out []Entry
	for _, d := range cs.Deletions() {
		out = append(out, DeletionEntry{Deletion: d})
	}
	_ = cs.Tree.Walk(func(n *fstree.Node) error {
		out = append(out, TreeEntry{Node: n})
		return nil
	})
	for _, e := range cs.Attributes.Entries() {
		out = append(out, MetadataEntry{Entry: e})
	}
	return out
}
