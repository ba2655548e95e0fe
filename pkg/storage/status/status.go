// Copyright © 2018 One Concern

// Package status declares error constants returned by
// implementations of the Store interface.
//
// NOTE: such constants are located in a separate package to avoid
// creating undue cyclical dependencies between pkg/storage and one
// of its implementions.
package status

import "github.com/oneconcern/tcbuilder/pkg/errors"

var (
	// Sentinel errors returned by implementations of the interface defined by storage

	// ErrNotFound indicates that the backend API call did not find the target resource
	ErrNotFound = errors.New("not found")

	// ErrExists indicates that the resource already exists and cannot be overridden
	ErrExists = errors.New("exists already")

	// ErrUnauthorized indicates that you don't provided correct credentials to the API
	ErrUnauthorized = errors.NewKind(errors.KindPrecondition, "unauthorized")

	// ErrForbidden indicates that the backend API forbids access to the target resource
	ErrForbidden = errors.NewKind(errors.KindPrecondition, "forbidden")

	// ErrInvalidResource indicates that the storage resource has an invalid name
	ErrInvalidResource = errors.NewKind(errors.KindUsage, "invalid storage resource name")

	// ErrInvalidKey indicates that the key collides with the store internals
	ErrInvalidKey = errors.NewKind(errors.KindIntegrity, "invalid storage key")

	// ErrStorageAPI indicates any other storage API error
	ErrStorageAPI = errors.NewKind(errors.KindRemote, "storage API error")

	// ErrNotImplemented tells that this feature has not been implemented yet
	ErrNotImplemented = errors.New("not implemented")
)
