package attrs

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// ErrMalformed indicates a sidecar which cannot be parsed
	ErrMalformed = errors.NewKind(errors.KindValidation, "malformed attribute sidecar")

	// ErrMissingPath indicates a sidecar entry which does not match any node of the tree it is restored on
	ErrMissingPath = errors.NewKind(errors.KindIntegrity, "sidecar entry references a missing path")

	// ErrInvalidBaseline indicates a baseline which cannot tell executable files from other files
	ErrInvalidBaseline = errors.NewKind(errors.KindUsage, "invalid attribute baseline")
)
