/*
Package image materializes commits into installer images.

Two layouts are produced: an installer archive directory, made of the unpacked template
with a new root filesystem tarball and a rewritten image.json, and a raw block image,
where the root filesystem partition of the template is replaced.

Output is written next to its destination and renamed into place once complete, so that
a failed or interrupted run leaves nothing at the destination.
*/
package image
