// Copyright © 2018 One Concern

package storage

import (
	"context"
	"io"

	"github.com/oneconcern/tcbuilder/pkg/storage/status"
)

// Put modes
const (
	OverWrite   = false
	NoOverWrite = true
)

// Sentinels re-exported for convenience
var (
	ErrNotFound = status.ErrNotFound
	ErrExists   = status.ErrExists
)

// Store implementations know how to write entries to a K/V model.
//
// Typically this is something file system-like: the local file system for the
// commit repository objects, S3 or GCS buckets for remote base images.
// Implementations of this interface are assumed to be fairly simple.
type Store interface {
	String() string
	Has(context.Context, string) (bool, error)
	Get(context.Context, string) (io.ReadCloser, error)
	Put(context.Context, string, io.Reader, bool) error
	Delete(context.Context, string) error
	Keys(context.Context) ([]string, error)
	Clear(context.Context) error
}

// PipeIO copies a reader into a writer with a pooled buffer
func PipeIO(writer io.Writer, reader io.Reader) (int64, error) {
	buf := bufPool.Get().(*[]byte)
	defer bufPool.Put(buf)
	return io.CopyBuffer(writer, reader, *buf)
}
