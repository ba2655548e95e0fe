// Package fetch downloads input images.
//
// Sources are http(s), s3 or gs URLs, optionally followed by parameters:
//
//	https://example.com/images/torizon.tar;sha256sum=<hex>;filename=torizon-core.tar
//
// A download lands under its final name only once complete and verified. With a cache,
// pinned sources already downloaded are copied from the local file instead.
package fetch
