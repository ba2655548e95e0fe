package fstree

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// ErrInvalidPath indicates a path which cannot be held by a tree (absolute after cleaning, escaping the root...)
	ErrInvalidPath = errors.NewKind(errors.KindValidation, "invalid path")

	// ErrReservedName indicates an attempt to store a reserved name (sidecar or whiteout marker) as a tree node
	ErrReservedName = errors.NewKind(errors.KindIntegrity, "reserved name cannot be part of a filesystem tree")

	// ErrNotDirectory indicates a node whose parent is not a directory
	ErrNotDirectory = errors.NewKind(errors.KindIntegrity, "parent is not a directory")

	// ErrNotFound indicates a missing node
	ErrNotFound = errors.NewKind(errors.KindIntegrity, "no such node")

	// ErrMalformedACL indicates an access control list in text form which cannot be parsed
	ErrMalformedACL = errors.NewKind(errors.KindValidation, "malformed access control list")

	// ErrSizeMismatch indicates file content which does not match its recorded size
	ErrSizeMismatch = errors.NewKind(errors.KindIntegrity, "content size mismatch")

	// ErrUnsupported indicates a filesystem object type that cannot be held by a tree
	ErrUnsupported = errors.NewKind(errors.KindValidation, "unsupported file type")
)
