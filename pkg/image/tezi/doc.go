/*
Package tezi reads and rewrites the image.json configuration of Easy Installer images.

Only the fields this tool changes are typed. Everything else in the document is kept
as is, so that installer tooling reading fields unknown to this package keeps working.

The root filesystem content is located through the "otaroot" partition label of block
devices, or the "rootfs" UBI volume of raw NAND devices.
*/
package tezi
