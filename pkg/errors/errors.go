// Package errors augments the standard errors
// provided by fmt (https://golang.org/src/fmt/errors.go)
// with a Wrap() method to wrap errors without resorting
// to fmt.Errorf("%w", err), and with a Kind telling callers
// which class of failure they are looking at.
package errors

import (
	stderr "errors"
	"fmt"

	"go.uber.org/zap"
)

var _ error = New("")

// Kind classifies errors so the command line can pick a distinct exit code.
type Kind uint8

const (
	// KindInternal is the default: an unexpected failure
	KindInternal Kind = iota
	// KindUsage reports bad arguments or missing required options
	KindUsage
	// KindPrecondition reports missing prerequisite state (e.g. no base image unpacked)
	KindPrecondition
	// KindValidation reports malformed user input (manifest, sidecar, change set)
	KindValidation
	// KindRemote reports transient failures talking to a remote system
	KindRemote
	// KindIntegrity reports a broken invariant
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindPrecondition:
		return "precondition"
	case KindValidation:
		return "validation"
	case KindRemote:
		return "remote"
	case KindIntegrity:
		return "integrity"
	default:
		return "internal"
	}
}

// New Error
func New(msg string) *Error {
	return &Error{msg: msg}
}

// NewKind builds an error of a given kind
func NewKind(kind Kind, msg string) *Error {
	return &Error{msg: msg, kind: kind}
}

// Error augments the standard error interface with a Wrap method.
//
// The main difference with github.com/pkg/errors is that we are wrapping
// errors from errors, not from text.
//
// Wrapping never mutates the receiver: sentinels declared as package variables
// may be wrapped concurrently.
type Error struct {
	msg    string
	err    error
	kind   Kind
	origin *Error
}

// Error message
func (e *Error) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

// Kind of this error
func (e *Error) Kind() Kind {
	return e.kind
}

// Unwrap nested error
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Wrap a nested error
func (e *Error) Wrap(err error) *Error {
	c := e.clone()
	c.err = err
	return c
}

// WrapMessage adds some context to the error message
func (e *Error) WrapMessage(format string, args ...interface{}) *Error {
	c := e.clone()
	c.msg = e.msg + ": " + fmt.Sprintf(format, args...)
	return c
}

// WrapWithLog wraps a nested error and logs it with some fields
func (e *Error) WrapWithLog(logger *zap.Logger, err error, fields ...zap.Field) *Error {
	c := e.Wrap(err)
	if logger != nil {
		logger.Error(c.msg, append(fields, zap.Error(err))...)
	}
	return c
}

func (e *Error) clone() *Error {
	origin := e.origin
	if origin == nil {
		origin = e
	}
	return &Error{msg: e.msg, err: e.err, kind: e.kind, origin: origin}
}

// Is of some error type?
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return e.err == target
	}
	return e == t || (e.origin != nil && e.origin == t) || (t.origin != nil && e.origin == t.origin && e.origin != nil)
}

// KindOf returns the kind of the outermost categorized error in err's chain.
//
// Uncategorized errors are reported as KindInternal.
func KindOf(err error) Kind {
	for err != nil {
		var e *Error
		if !stderr.As(err, &e) {
			return KindInternal
		}
		if e.kind != KindInternal {
			return e.kind
		}
		err = e.err
	}
	return KindInternal
}

// As finds the first error in err's chain that matches target, and if so, sets target to that error value and returns true.
// (a shortcut to standard lib errors.As)
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Is reports whether any error in err's chain matches target
// (a shortcut to standard lib errors.As)
func Is(err, target error) bool {
	return stderr.Is(err, target)
}
