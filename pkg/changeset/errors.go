package changeset

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// ErrOrphanEntry indicates a sidecar entry which does not match a material entry of its own change set
	ErrOrphanEntry = errors.NewKind(errors.KindValidation, "sidecar entry without a matching file in the change set")

	// ErrConflict indicates a path both deleted and provided by the same change set
	ErrConflict = errors.NewKind(errors.KindValidation, "path is both deleted and provided by the change set")

	// ErrInvalidMarker indicates a malformed deletion marker
	ErrInvalidMarker = errors.NewKind(errors.KindValidation, "invalid deletion marker")

	// ErrNotFound indicates a missing change set directory
	ErrNotFound = errors.NewKind(errors.KindPrecondition, "change set directory not found")

	// ErrWrite indicates a failure to write a change set to a directory
	ErrWrite = errors.New("cannot write change set")
)
