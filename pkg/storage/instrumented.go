// Copyright © 2018 One Concern

package storage

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"
)

// Instrument decorates a store with debug logging of every call
func Instrument(logger *zap.Logger, store Store) Store {
	if logger == nil {
		return store
	}
	return &instrumentedStore{
		store: store,
		l:     logger.With(zap.String("store", store.String())),
	}
}

type instrumentedStore struct {
	store Store
	l     *zap.Logger
}

func (i *instrumentedStore) trace(op, key string, start time.Time, err error) {
	fields := []zap.Field{zap.String("op", op), zap.Duration("took", time.Since(start))}
	if key != "" {
		fields = append(fields, zap.String("key", key))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	i.l.Debug("storage", fields...)
}

func (i *instrumentedStore) String() string {
	return i.store.String()
}

func (i *instrumentedStore) Has(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	has, err := i.store.Has(ctx, key)
	i.trace("has", key, start, err)
	return has, err
}

func (i *instrumentedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rdr, err := i.store.Get(ctx, key)
	i.trace("get", key, start, err)
	return rdr, err
}

func (i *instrumentedStore) Put(ctx context.Context, key string, rdr io.Reader, exclusive bool) error {
	start := time.Now()
	err := i.store.Put(ctx, key, rdr, exclusive)
	i.trace("put", key, start, err)
	return err
}

func (i *instrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.store.Delete(ctx, key)
	i.trace("delete", key, start, err)
	return err
}

func (i *instrumentedStore) Keys(ctx context.Context) ([]string, error) {
	start := time.Now()
	keys, err := i.store.Keys(ctx)
	i.trace("keys", "", start, err)
	return keys, err
}

func (i *instrumentedStore) Clear(ctx context.Context) error {
	start := time.Now()
	err := i.store.Clear(ctx)
	i.trace("clear", "", start, err)
	return err
}
