/*
Package tcbuilder provides CLI tooling to customize TorizonCore images.

The primary goal of tcbuilder is to turn a stock image into a customized one
in a reproducible way: configuration changes are isolated from a device or a
directory into change sets, change sets are composed on top of the unpacked
base commit, and the resulting commit is materialized as an installer archive,
a raw block image, or pushed to a device.

Every step works against a storage area, a directory holding the unpacked base
image, its commit repository and the intermediate change sets. Writes to the
storage area are serialized by an exclusive lock.

A build manifest drives all of the above in one invocation, see the build
package.
*/
package tcbuilder
