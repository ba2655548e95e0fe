/*
Package storagearea manages the working state shared by every command: the commit
repository, the unpacked base image and the change sets produced along the way.

A storage area is a directory:

	state.yaml    the unpacked base image, see model.AreaState
	sysroot/      the OSTree system root of the base image, as unpacked
	ostree/       the OSTree archive repository holding commits and branches
	image/        the installer image template of the base image
	changes/      isolated changes, then one directory per customization step
	.lock         held by writers

Areas outside of the OS filesystem keep commits in objects/ instead, a repository OSTree
cannot reach.

Writers acquire the area with Lock and release the returned handle on every path.
Readers use the area directly: branches are advanced atomically.
*/
package storagearea
