package model

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// ErrInvalidBranch indicates a branch name which cannot be used as a reference
	ErrInvalidBranch = errors.NewKind(errors.KindUsage, "invalid branch name")

	// ErrInvalidCommitID indicates a malformed commit identifier
	ErrInvalidCommitID = errors.NewKind(errors.KindUsage, "invalid commit id")

	// ErrInvalidObjectPath indicates a key in the object store which does not follow the repository layout
	ErrInvalidObjectPath = errors.NewKind(errors.KindIntegrity, "invalid object path")

	// ErrUnknownLayout indicates an image layout which is neither an archive nor a block image
	ErrUnknownLayout = errors.NewKind(errors.KindValidation, "unknown image layout")
)
