// Package changeset loads and writes change sets.
//
// A change set is a directory tree of material entries (files, directories, symbolic links)
// to be layered onto a base root filesystem, plus deletion markers and attribute sidecars.
//
// Deletion markers follow the overlay whiteout convention: an empty file named .wh.<name>
// deletes its sibling <name>, and .wh..wh..opq marks its directory as opaque, clearing
// everything the lower layers put in it.
//
// Sidecars never become tree members: they are held apart as metadata entries.
package changeset
