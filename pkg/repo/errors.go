package repo

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// ErrCommitNotFound indicates an unknown commit
	ErrCommitNotFound = errors.NewKind(errors.KindPrecondition, "commit not found")

	// ErrRefNotFound indicates a reference which is neither a branch nor a known commit
	ErrRefNotFound = errors.NewKind(errors.KindPrecondition, "reference not found")

	// ErrAmbiguousRef indicates a commit prefix matching several commits
	ErrAmbiguousRef = errors.NewKind(errors.KindUsage, "ambiguous reference")

	// ErrDanglingObject indicates a tree referencing content which is not in the repository
	ErrDanglingObject = errors.NewKind(errors.KindIntegrity, "tree references a missing object")

	// ErrCorruptObject indicates an object whose content does not match its key
	ErrCorruptObject = errors.NewKind(errors.KindIntegrity, "corrupt object")

	// ErrRefStore indicates a failure of the reference store
	ErrRefStore = errors.New("reference store failure")
)
