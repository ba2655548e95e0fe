package image

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// ErrOutputExists indicates a destination which is already there
	ErrOutputExists = errors.NewKind(errors.KindPrecondition, "output already exists")

	// ErrNoOutput indicates a missing destination
	ErrNoOutput = errors.NewKind(errors.KindUsage, "no output given")

	// ErrLayoutMismatch indicates an output layout the unpacked image cannot serve
	ErrLayoutMismatch = errors.NewKind(errors.KindPrecondition, "the unpacked image cannot produce this kind of output")

	// ErrNoTemplate indicates a block output without a template image
	ErrNoTemplate = errors.NewKind(errors.KindPrecondition, "no base block image available")

	// ErrCommitNotFound indicates an unknown commit or branch
	ErrCommitNotFound = errors.NewKind(errors.KindPrecondition, "commit not found")

	// ErrBundleIncomplete indicates a container bundle directory missing some of its files
	ErrBundleIncomplete = errors.NewKind(errors.KindValidation, "incomplete container bundle")

	// ErrState indicates an out of order materialization step
	ErrState = errors.NewKind(errors.KindIntegrity, "invalid materialization step")

	// ErrMaterialize is returned when an image could not be produced
	ErrMaterialize = errors.New("cannot produce image")
)
