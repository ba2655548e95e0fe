// Package isolate extracts the configuration changes made on a running system.
//
// The live configuration (etc) is compared with the configuration shipped by the
// image (usr/etc). Added and modified entries, with their full metadata, and deletion
// markers for removed entries make a change set rooted so that it can be layered onto
// the image as is.
package isolate
