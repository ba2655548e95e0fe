// Package attrs reads and writes attribute sidecars.
//
// A sidecar is a text file named .tcattr, carried next to the material files of a
// change set. It restores the ownership, permissions and access ACLs which cannot travel
// through a plain directory. Its format is the one of getfacl, with numeric owners:
//
//	# file: usr/etc/sudoers.d
//	# owner: 0
//	# group: 0
//	# flags: -s-
//	user::rwx
//	user:1000:r-x
//	group::r-x
//	mask::r-x
//	other::---
//
// Records are separated by a blank line. Paths are relative to the directory holding the sidecar.
// Entries which only carry the baseline metadata are omitted.
package attrs
