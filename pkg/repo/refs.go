package repo

import (
	"bytes"
	"context"
	"io/ioutil"
	"strings"

	"github.com/oneconcern/tcbuilder/pkg/errors"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/oneconcern/tcbuilder/pkg/storage"
)

// RefStore keeps branch references. Updating a reference must be atomic.
type RefStore interface {
	Get(ctx context.Context, name string) (model.CommitID, bool, error)
	Set(ctx context.Context, name string, id model.CommitID) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]model.Branch, error)
}

const refPrefix = "refs/"

// NewStoreRefs keeps references as small objects in a store, under refs/.
// An atomic store is required for updates to be atomic.
func NewStoreRefs(s storage.Store) RefStore {
	return &storeRefs{store: s}
}

type storeRefs struct {
	store storage.Store
}

func (s *storeRefs) Get(ctx context.Context, name string) (model.CommitID, bool, error) {
	rdr, err := s.store.Get(ctx, refPrefix+name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", false, nil
		}
		return "", false, ErrRefStore.Wrap(err)
	}
	defer rdr.Close()
	v, err := ioutil.ReadAll(rdr)
	if err != nil {
		return "", false, ErrRefStore.Wrap(err)
	}
	id := model.CommitID(strings.TrimSpace(string(v)))
	return id, id != "", nil
}

func (s *storeRefs) Set(ctx context.Context, name string, id model.CommitID) error {
	if err := s.store.Put(ctx, refPrefix+name, bytes.NewReader([]byte(id)), storage.OverWrite); err != nil {
		return ErrRefStore.Wrap(err)
	}
	return nil
}

func (s *storeRefs) Delete(ctx context.Context, name string) error {
	if err := s.store.Delete(ctx, refPrefix+name); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return ErrRefStore.Wrap(err)
	}
	return nil
}

func (s *storeRefs) List(ctx context.Context) ([]model.Branch, error) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		return nil, ErrRefStore.Wrap(err)
	}
	var branches []model.Branch
	for _, key := range keys {
		if !strings.HasPrefix(key, refPrefix) {
			continue
		}
		name := strings.TrimPrefix(key, refPrefix)
		id, ok, err := s.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			branches = append(branches, model.Branch{Name: name, Commit: id})
		}
	}
	return branches, nil
}
