package fetch

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// ErrInvalidSource indicates a source which cannot be parsed
	ErrInvalidSource = errors.NewKind(errors.KindUsage, "invalid image source")

	// ErrUnsupportedScheme indicates a source no downloader handles
	ErrUnsupportedScheme = errors.NewKind(errors.KindUsage, "unsupported image source scheme")

	// ErrDownload indicates a failed transfer
	ErrDownload = errors.NewKind(errors.KindRemote, "could not download image")

	// ErrDigestMismatch indicates downloaded content not matching the expected digest
	ErrDigestMismatch = errors.NewKind(errors.KindIntegrity, "downloaded image does not match its sha256sum")
)
