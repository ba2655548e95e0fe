package fstree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oneconcern/tcbuilder/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memFs(t *testing.T) afero.Fs {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/rootfs/etc/ssh", 0700))
	require.NoError(t, fs.Chmod("/rootfs/etc", 0755))
	require.NoError(t, afero.WriteFile(fs, "/rootfs/etc/hostname", []byte("verdin\n"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/rootfs/etc/ssh/sshd_config", []byte("Port 22\n"), 0600))
	require.NoError(t, afero.WriteFile(fs, "/rootfs/etc/run.sh", []byte("#!/bin/sh\n"), 0755))
	return fs
}

func TestLoadDir(t *testing.T) {
	fs := memFs(t)
	tree, err := LoadDir(fs, "/rootfs")
	require.NoError(t, err)
	assert.Equal(t, []string{"etc", "etc/hostname", "etc/run.sh", "etc/ssh", "etc/ssh/sshd_config"}, tree.Paths())

	n, ok := tree.Get("etc/ssh/sshd_config")
	require.True(t, ok)
	assert.Equal(t, TypeFile, n.Type)
	assert.Equal(t, int64(8), n.Size)
	assert.Equal(t, os.FileMode(0600), n.Meta.Mode)
	assert.Equal(t, "Port 22\n", readAll(t, n))

	d, _ := tree.Get("etc/ssh")
	assert.Equal(t, TypeDir, d.Type)
	assert.Equal(t, os.FileMode(0700), d.Meta.Mode)
}

func TestLoadDirSkipAndReserved(t *testing.T) {
	fs := memFs(t)
	require.NoError(t, afero.WriteFile(fs, "/rootfs/etc/"+SidecarName, []byte("# file: etc\n"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/rootfs/etc/.wh.motd", nil, 0644))

	_, err := LoadDir(fs, "/rootfs")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReservedName))

	var reserved []string
	tree, err := LoadDir(fs, "/rootfs",
		WithSkip(func(rel string, _ os.FileInfo) bool { return rel == "etc/ssh" }),
		WithReserved(func(rel string, _ os.FileInfo) error {
			reserved = append(reserved, rel)
			return nil
		}),
	)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"etc/.tcattr", "etc/.wh.motd"}, reserved)
	assert.Equal(t, []string{"etc", "etc/hostname", "etc/run.sh"}, tree.Paths())
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(afero.NewMemMapFs(), "/nowhere")
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadDirSymlinks(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc"), 0755))
	require.NoError(t, os.Symlink("/usr/share/zoneinfo/UTC", filepath.Join(root, "etc", "localtime")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc", "issue"), []byte("hello"), 0644))

	fs := afero.NewBasePathFs(afero.NewOsFs(), root)
	tree, err := LoadDir(fs, "/", WithMetaReader(OSMeta))
	require.NoError(t, err)

	l, ok := tree.Get("etc/localtime")
	require.True(t, ok)
	assert.Equal(t, TypeSymlink, l.Type)
	assert.Equal(t, "/usr/share/zoneinfo/UTC", l.Target)

	f, ok := tree.Get("etc/issue")
	require.True(t, ok)
	assert.Equal(t, os.Getuid(), f.Meta.UID)
	assert.Equal(t, "hello", readAll(t, f))
}
