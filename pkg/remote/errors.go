package remote

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// ErrUnreachable indicates the device could not be reached or refused the credentials
	ErrUnreachable = errors.NewKind(errors.KindRemote, "cannot connect to the device")

	// ErrCommand indicates a command which failed on the device
	ErrCommand = errors.NewKind(errors.KindRemote, "command failed on the device")

	// ErrForward indicates the device refused to forward a port back to the host
	ErrForward = errors.NewKind(errors.KindRemote, "cannot forward a port from the device")

	// ErrClosed indicates a client used after Close
	ErrClosed = errors.NewKind(errors.KindRemote, "connection closed")

	// ErrNoHost indicates a missing host name
	ErrNoHost = errors.NewKind(errors.KindUsage, "a remote host is required")
)
