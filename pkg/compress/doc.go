// Package compress picks a stream codec from a file name, for root filesystem
// tarballs and container bundles found in installer images.
package compress
