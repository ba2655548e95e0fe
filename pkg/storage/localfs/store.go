// Copyright © 2018 One Concern

package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/segmentio/ksuid"
	"github.com/spf13/afero"

	"github.com/oneconcern/tcbuilder/pkg/storage"
	"github.com/oneconcern/tcbuilder/pkg/storage/status"
)

// New creates a new local file system backed storage model
func New(fs afero.Fs) storage.Store {
	if fs == nil {
		fs = afero.NewBasePathFs(afero.NewOsFs(), filepath.Join(".tcbuilder", "objects"))
	}
	return &localFS{
		fs: fs,
	}
}

type localFS struct {
	fs afero.Fs
}

func (l *localFS) Has(_ context.Context, key string) (bool, error) {
	fi, err := l.fs.Stat(key)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	return !fi.IsDir(), nil
}

func (l *localFS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	has, err := l.Has(ctx, key)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, status.ErrNotFound.WrapMessage("%s", key)
	}
	return l.fs.Open(key)
}

func (l *localFS) Put(_ context.Context, key string, source io.Reader, exclusive bool) error {
	if dir := filepath.Dir(key); dir != "" {
		if err := l.fs.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("ensuring directories for %q: %w", key, err)
		}
	}
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if exclusive {
		flag |= os.O_EXCL
	}
	target, err := l.fs.OpenFile(key, flag, 0600)
	if err != nil {
		if exclusive && os.IsExist(err) {
			return status.ErrExists.WrapMessage("%s", key)
		}
		return fmt.Errorf("create record for %q: %w", key, err)
	}

	if _, err = storage.PipeIO(target, source); err != nil {
		_ = target.Close()
		return fmt.Errorf("write record for %q: %w", key, err)
	}
	if err = target.Sync(); err != nil {
		_ = target.Close()
		return fmt.Errorf("sync record for %q: %w", key, err)
	}
	return target.Close()
}

func (l *localFS) Delete(_ context.Context, key string) error {
	if err := l.fs.Remove(key); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %q: %w", key, err)
	}
	return nil
}

func (l *localFS) Keys(_ context.Context) ([]string, error) {
	const root = "."
	var res []string
	e := afero.Walk(l.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root || info.IsDir() {
			return nil
		}
		res = append(res, filepath.ToSlash(path))
		return nil
	})
	if e != nil {
		return nil, e
	}
	sort.Strings(res)
	return res, nil
}

func (l *localFS) Clear(_ context.Context) error {
	entries, err := afero.ReadDir(l.fs, ".")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if err := l.fs.RemoveAll(entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (l *localFS) String() string {
	return describe("localfs", l.fs)
}

func describe(kind string, fs afero.Fs) string {
	if bfs, ok := fs.(*afero.BasePathFs); ok {
		pp, err := bfs.RealPath("")
		if err == nil {
			return kind + "@" + pp
		}
	}
	return kind
}

/* thread-safe local storage implementation.
 * use a decorator pattern to implement atomic Put()s via atomicity of afero.Fs.Rename()
 * for those filesystems where Rename() is atomic: files are placed in a staging area,
 * then Rename()d into place.
 */

const (
	nestedPutStageName = ".put-stage"
)

func maybeInvalidKey(key string) error {
	first := strings.SplitN(strings.TrimLeft(filepath.ToSlash(key), "/"), "/", 2)[0]
	if first == nestedPutStageName {
		return status.ErrInvalidKey.WrapMessage("key %q conflicts with put staging area name %q", key, nestedPutStageName)
	}
	return nil
}

func filterInvalidKeys(ks []string) []string {
	/* https://github.com/golang/go/wiki/SliceTricks#filtering-without-allocating */
	ksFiltered := ks[:0]
	for _, key := range ks {
		if err := maybeInvalidKey(key); err == nil {
			ksFiltered = append(ksFiltered, key)
		}
	}
	return ksFiltered
}

// NewAtomic creates a local file system store where objects become visible only once fully written
func NewAtomic(fs afero.Fs) (storage.Store, error) {
	if fs == nil {
		fs = afero.NewBasePathFs(afero.NewOsFs(), filepath.Join(".tcbuilder", "objects"))
	}
	/* the staging area exists within the afero.Fs itself */
	if err := fs.MkdirAll(nestedPutStageName, 0700); err != nil {
		return nil, fmt.Errorf("ensuring put staging directory for %q: %w", nestedPutStageName, err)
	}
	return &localFSAtomic{
		storeImpl: localFS{fs: fs},
	}, nil
}

type localFSAtomic struct {
	storeImpl localFS
}

func (l *localFSAtomic) Has(ctx context.Context, key string) (bool, error) {
	if err := maybeInvalidKey(key); err != nil {
		return false, err
	}
	return l.storeImpl.Has(ctx, key)
}

func (l *localFSAtomic) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := maybeInvalidKey(key); err != nil {
		return nil, err
	}
	return l.storeImpl.Get(ctx, key)
}

func (l *localFSAtomic) Delete(ctx context.Context, key string) error {
	if err := maybeInvalidKey(key); err != nil {
		return err
	}
	return l.storeImpl.Delete(ctx, key)
}

func (l *localFSAtomic) Keys(ctx context.Context) ([]string, error) {
	ks, err := l.storeImpl.Keys(ctx)
	if err != nil {
		return ks, err
	}
	return filterInvalidKeys(ks), nil
}

func (l *localFSAtomic) Clear(ctx context.Context) error {
	if err := l.storeImpl.Clear(ctx); err != nil {
		return err
	}
	return l.storeImpl.fs.MkdirAll(nestedPutStageName, 0700)
}

/* the Put() implementation is the only part of the Store interface implemented
 * outside of the functional wrap design pattern
 */
func (l *localFSAtomic) Put(ctx context.Context, key string, source io.Reader, exclusive bool) error {
	if err := maybeInvalidKey(key); err != nil {
		return err
	}
	if exclusive {
		has, err := l.storeImpl.Has(ctx, key)
		if err != nil {
			return err
		}
		if has {
			return status.ErrExists.WrapMessage("%s", key)
		}
	}
	putStageKey := filepath.Join(nestedPutStageName, ksuid.New().String())
	if err := l.storeImpl.Put(ctx, putStageKey, source, storage.NoOverWrite); err != nil {
		_ = l.storeImpl.fs.Remove(putStageKey)
		return err
	}
	/* Rename() doesn't create directories automatically */
	if dir := filepath.Dir(key); dir != "" {
		if err := l.storeImpl.fs.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("ensuring directories for %q: %w", key, err)
		}
	}
	return l.storeImpl.fs.Rename(putStageKey, key)
}

func (l *localFSAtomic) String() string {
	return describe("localfs-atomic", l.storeImpl.fs)
}
