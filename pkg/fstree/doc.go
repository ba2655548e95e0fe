// Package fstree models a root filesystem as an immutable, sorted map of nodes.
//
// Paths are relative, slash-separated and never start with a slash. The root directory
// itself is not part of the tree. Every node has its parent directories present in the tree.
//
// Trees are cheap to clone: the underlying radix tree is persistent, so a clone
// shares all its nodes with the original until either is modified.
package fstree
