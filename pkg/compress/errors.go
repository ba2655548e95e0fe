package compress

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// ErrUnknownCodec indicates a file name whose extension maps to no codec
	ErrUnknownCodec = errors.NewKind(errors.KindValidation, "unknown compression format")

	// ErrExternal indicates the failure of an external compression tool
	ErrExternal = errors.New("external compressor failed")
)
