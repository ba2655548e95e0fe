package isolate

import (
	"context"
	"testing"

	"github.com/oneconcern/tcbuilder/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDirectoryIsNonDestructive(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewBasePathFs(afero.NewOsFs(), t.TempDir())
	cs, err := Isolate(ctx, reference(t), live(t))
	require.NoError(t, err)

	require.NoError(t, fs.MkdirAll("/storage/changes/usr/etc", 0755))
	require.NoError(t, afero.WriteFile(fs, "/storage/changes/usr/etc/previous", []byte("keep me"), 0644))
	err = ToDirectory(ctx, fs, "/storage/changes", false, cs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyIsolated))
	assert.Equal(t, errors.KindPrecondition, errors.KindOf(err))
	assert.Contains(t, err.Error(), "please use --force")
	b, err := afero.ReadFile(fs, "/storage/changes/usr/etc/previous")
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(b))

	require.NoError(t, ToDirectory(ctx, fs, "/storage/changes", true, cs))
	exists, err := afero.Exists(fs, "/storage/changes/usr/etc/previous")
	require.NoError(t, err)
	assert.False(t, exists)
	b, err = afero.ReadFile(fs, "/storage/changes/usr/etc/motd")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(b))
	for _, marker := range []string{
		"/storage/changes/usr/etc/.wh.old.conf",
		"/storage/changes/usr/etc/sudoers.d/.wh..wh..opq",
		"/storage/changes/usr/etc/systemd/.wh.network",
		"/storage/changes/.tcattr",
	} {
		exists, err := afero.Exists(fs, marker)
		require.NoError(t, err)
		assert.True(t, exists, marker)
	}

	entries, err := afero.ReadDir(fs, "/storage")
	require.NoError(t, err)
	require.Len(t, entries, 1, "no partial output left behind")
}

func TestToDirectoryEmptyDestination(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewBasePathFs(afero.NewOsFs(), t.TempDir())
	require.NoError(t, fs.MkdirAll("/out", 0755))
	cs, err := Isolate(ctx, reference(t), live(t))
	require.NoError(t, err)
	require.NoError(t, ToDirectory(ctx, fs, "/out", false, cs))
	exists, err := afero.Exists(fs, "/out/usr/etc/docker/daemon.json")
	require.NoError(t, err)
	assert.True(t, exists)
}
