// Package repo is the commit repository of a storage area.
//
// On disk, commits live in an OSTree archive repository driven through the ostree command
// line (see OSTreeStore): commit IDs are OSTree checksums, branches are OSTree refs, and
// system roots are deployed with ostree admin. The repository is served as is to devices.
//
// Storage areas on filesystems OSTree cannot reach, such as in-memory ones, use a
// content-addressed object repository instead (see New). Objects (file contents, tree
// listings and commit descriptors) are kept in a storage.Store keyed by their blake2b digest,
// and branches are kept apart in a reference store, so that advancing a branch is a single
// atomic update.
package repo
