package push

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// ErrNotStaged indicates the device did not stage a deployment of the commit pulled
	ErrNotStaged = errors.NewKind(errors.KindIntegrity, "no staged deployment of the commit on the device")

	// ErrNoRepository indicates a storage area without an OSTree repository to serve
	ErrNoRepository = errors.NewKind(errors.KindPrecondition, "the storage area holds no OSTree repository")

	// ErrCommitNotFound indicates an unknown commit or branch
	ErrCommitNotFound = errors.NewKind(errors.KindPrecondition, "commit not found")

	// ErrPush is returned when the deployment could not complete
	ErrPush = errors.New("cannot deploy to the device")
)
