package union

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// ErrBaseNotFound indicates a base reference which does not resolve to a commit
	ErrBaseNotFound = errors.NewKind(errors.KindPrecondition, "base commit not found")

	// ErrNoBranch indicates a composition without a target branch
	ErrNoBranch = errors.NewKind(errors.KindUsage, "a branch name is required")

	// ErrInvalidChangeSet indicates a change set which cannot be applied
	ErrInvalidChangeSet = errors.NewKind(errors.KindValidation, "invalid change set")

	// ErrComposeGivenUp wraps any failure happening after the base commit is read
	ErrComposeGivenUp = errors.New("union commit given up")
)
