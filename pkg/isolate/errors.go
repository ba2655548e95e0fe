package isolate

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// ErrAlreadyIsolated indicates a non-empty output location
	ErrAlreadyIsolated = errors.NewKind(errors.KindPrecondition,
		"There is already a directory with isolated changes. If you want to replace it, please use --force.")

	// ErrIsolate is returned when the comparison could not complete
	ErrIsolate = errors.New("cannot isolate changes")

	// ErrSource indicates a live tree which could not be read
	ErrSource = errors.New("cannot read the live system")
)
