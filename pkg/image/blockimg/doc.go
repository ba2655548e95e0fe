// Package blockimg reads the partition table of raw block device images (MBR, including
// logical partitions, and GPT) and the labels of the filesystems they hold.
package blockimg
