package blockimg

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// ErrNoPartitionTable indicates an image without a valid MBR signature
	ErrNoPartitionTable = errors.NewKind(errors.KindValidation, "no partition table found in image")

	// ErrCorruptTable indicates a partition table pointing outside of the image
	ErrCorruptTable = errors.NewKind(errors.KindValidation, "corrupt partition table")

	// ErrLabelNotFound indicates no filesystem carries the requested label
	ErrLabelNotFound = errors.NewKind(errors.KindPrecondition, "filesystem label not found in image")
)

// ErrPartitionTooSmall indicates a filesystem which does not fit in its partition
var ErrPartitionTooSmall = errors.NewKind(errors.KindValidation, "filesystem does not fit in partition")
