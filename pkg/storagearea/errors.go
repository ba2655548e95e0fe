package storagearea

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// ErrLocked indicates another process holds the storage area
	ErrLocked = errors.NewKind(errors.KindPrecondition, "the storage area is in use by another command")

	// ErrReleased indicates the use of a released handle
	ErrReleased = errors.NewKind(errors.KindIntegrity, "storage area handle used after release")

	// ErrNoBase indicates no base image has been unpacked
	ErrNoBase = errors.NewKind(errors.KindPrecondition, "no base image unpacked in the storage area")

	// ErrIncompatible indicates a storage area written by a newer version
	ErrIncompatible = errors.NewKind(errors.KindPrecondition, "incompatible storage area")

	// ErrUnknownSource indicates an input image of an unknown kind
	ErrUnknownSource = errors.NewKind(errors.KindUsage, "unknown input image")

	// ErrExtract indicates a failure to extract a filesystem from a block image
	ErrExtract = errors.New("filesystem extraction failed")

	// ErrCorruptState indicates a state file which cannot be decoded
	ErrCorruptState = errors.NewKind(errors.KindIntegrity, "corrupt storage area state")
)

// ErrNotEmpty indicates an image is already unpacked in the storage area
var ErrNotEmpty = errors.NewKind(errors.KindPrecondition, "storage area not empty")
