package storage_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oneconcern/tcbuilder/pkg/storage"
	"github.com/oneconcern/tcbuilder/pkg/storage/localfs"
)

func TestInstrument(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	store := storage.Instrument(zap.New(core), localfs.New(afero.NewMemMapFs()))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", bytes.NewBufferString("v"), storage.NoOverWrite))
	has, err := store.Has(ctx, "k")
	require.NoError(t, err)
	assert.True(t, has)

	rdr, err := store.Get(ctx, "k")
	require.NoError(t, err)
	b, err := io.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, "v", string(b))

	require.NoError(t, store.Delete(ctx, "k"))
	ops := make([]string, 0, logs.Len())
	for _, entry := range logs.All() {
		ops = append(ops, entry.ContextMap()["op"].(string))
	}
	assert.Equal(t, []string{"put", "has", "get", "delete"}, ops)

	assert.Same(t, store, storage.Instrument(nil, store))
}
