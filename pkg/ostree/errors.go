package ostree

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// ErrCommand indicates an external command which failed
	ErrCommand = errors.New("command failed")

	// ErrNoDeployment indicates a system root without any deployment
	ErrNoDeployment = errors.NewKind(errors.KindValidation, "no OSTree deployment found")

	// ErrMalformedOutput indicates output of the ostree command which cannot be parsed
	ErrMalformedOutput = errors.New("unexpected ostree output")

	// ErrNoMetadataKey indicates a commit without the requested metadata
	ErrNoMetadataKey = errors.NewKind(errors.KindPrecondition, "no such metadata key")

	// ErrFsck indicates a repository failing its consistency check
	ErrFsck = errors.NewKind(errors.KindIntegrity, "repository check failed")
)
