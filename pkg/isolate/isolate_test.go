package isolate

import (
	"context"
	"os"
	"testing"

	"github.com/oneconcern/tcbuilder/pkg/attrs"
	"github.com/oneconcern/tcbuilder/pkg/changeset"
	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"github.com/oneconcern/tcbuilder/pkg/union"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func file(p, content string, meta fstree.Meta) *fstree.Node {
	return &fstree.Node{Path: p, Type: fstree.TypeFile, Size: int64(len(content)), Content: fstree.Bytes(content), Meta: meta}
}

func dir(p string, mode os.FileMode) *fstree.Node {
	return &fstree.Node{Path: p, Type: fstree.TypeDir, Meta: fstree.Meta{Mode: mode}}
}

func link(p, target string) *fstree.Node {
	return &fstree.Node{Path: p, Type: fstree.TypeSymlink, Target: target, Meta: fstree.Meta{Mode: 0777}}
}

func build(t *testing.T, nodes ...*fstree.Node) *fstree.Tree {
	tree := fstree.New()
	for _, n := range nodes {
		require.NoError(t, tree.Insert(n))
	}
	return tree
}

var (
	rw    = fstree.Meta{Mode: 0644}
	group = fstree.Meta{Mode: 0660}
)

// reference is an image root, with the shipped configuration under usr/etc
func reference(t *testing.T) *fstree.Tree {
	return build(t,
		file("usr/bin/sh", "elf", fstree.Meta{Mode: 0755}),
		file("usr/etc/motd", "welcome\n", rw),
		file("usr/etc/hostname", "verdin\n", rw),
		file("usr/etc/profile", "PATH=/usr/bin\n", rw),
		link("usr/etc/localtime", "/usr/share/zoneinfo/UTC"),
		file("usr/etc/old.conf", "obsolete\n", rw),
		dir("usr/etc/sudoers.d", 0750),
		file("usr/etc/sudoers.d/torizon", "torizon ALL=(ALL) ALL\n", fstree.Meta{Mode: 0440}),
		dir("usr/etc/ssh", 0755),
		file("usr/etc/ssh/sshd_config", "PermitRootLogin no\n", rw),
		file("usr/etc/ssh/ssh_host_rsa_key", "key", fstree.Meta{Mode: 0600}),
		dir("usr/etc/systemd", 0755),
		file("usr/etc/systemd/journald.conf", "[Journal]\n", rw),
		dir("usr/etc/systemd/network", 0755),
		file("usr/etc/systemd/network/eth0.network", "[Match]\n", rw),
		dir("usr/etc/ssl/private", 0700),
		dir("usr/etc/X11", 0755),
		file("usr/etc/X11/xorg.conf", "Section\n", rw),
	)
}

// live is a running system: its configuration under etc
func live(t *testing.T) *fstree.Tree {
	return build(t,
		file("etc/motd", "hello\n", rw),
		file("etc/hostname", "apalis\n", rw),
		file("etc/profile", "PATH=/usr/bin\n", rw),
		link("etc/localtime", "/usr/share/zoneinfo/Europe/Zurich"),
		dir("etc/sudoers.d", 0750),
		dir("etc/ssh", 0755),
		file("etc/ssh/sshd_config", "PermitRootLogin no\n", rw),
		dir("etc/systemd", 0755),
		file("etc/systemd/journald.conf", "[Journal]\n", rw),
		file("etc/my app's.conf", "answer = 42\n", fstree.Meta{UID: 1000, GID: 1000, Mode: 0600}),
		dir("etc/docker", 0755),
		file("etc/docker/daemon.json", "{}\n", group),
		dir("etc/ssl", 0755),
		dir("etc/ssl/private", 0755),
		link("etc/X11", "/run/X11"),
	)
}

func TestIsolateClassifies(t *testing.T) {
	cs, stats, err := Diff(context.Background(), reference(t), live(t))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"usr",
		"usr/etc",
		"usr/etc/X11",
		"usr/etc/docker",
		"usr/etc/docker/daemon.json",
		"usr/etc/localtime",
		"usr/etc/motd",
		"usr/etc/my app's.conf",
		"usr/etc/ssl",
		"usr/etc/ssl/private",
	}, cs.Tree.Paths())

	assert.Equal(t, []changeset.Deletion{
		{Path: "usr/etc/old.conf"},
		{Path: "usr/etc/sudoers.d", Opaque: true},
		{Path: "usr/etc/systemd/network"},
	}, cs.Deletions(), "ignored files and entries below replaced directories get no marker")

	x11, ok := cs.Tree.Get("usr/etc/X11")
	require.True(t, ok)
	assert.Equal(t, fstree.TypeSymlink, x11.Type)
	localtime, ok := cs.Tree.Get("usr/etc/localtime")
	require.True(t, ok)
	assert.Equal(t, "/usr/share/zoneinfo/Europe/Zurich", localtime.Target)

	var recorded []string
	for _, e := range cs.Attributes.Entries() {
		recorded = append(recorded, e.Path)
	}
	assert.Equal(t, []string{"usr/etc/motd", "usr/etc/my app's.conf", "usr/etc/ssl/private"}, recorded,
		"non default metadata, and directories whose metadata changed")
	e, _ := cs.Attributes.Get("usr/etc/my app's.conf")
	assert.Equal(t, fstree.Meta{UID: 1000, GID: 1000, Mode: 0600}, e.Meta)

	assert.Equal(t, Stats{Added: 3, Modified: 4, Deleted: 3, Ignored: 1}, stats)
	require.NoError(t, cs.Validate())
}

func TestIsolateNothingChanged(t *testing.T) {
	ref := reference(t)
	same, _ := ref.Sub("usr/etc")
	liveTree := fstree.New()
	require.NoError(t, liveTree.Graft("etc", same, fstree.DefaultDirMeta))
	require.NoError(t, liveTree.Insert(file("etc/machine-info", "PRETTY_HOSTNAME=x\n", rw)))
	require.NoError(t, liveTree.Insert(file("etc/hostname", "other\n", rw)))

	cs, err := Isolate(context.Background(), ref, liveTree, WithIgnore("machine-info"))
	require.NoError(t, err)
	assert.True(t, IsEmpty(cs))
}

func TestIsolateMissingScopes(t *testing.T) {
	cs, stats, err := Diff(context.Background(), fstree.New(), live(t))
	require.NoError(t, err)
	assert.Zero(t, stats.Deleted)
	assert.Equal(t, 14, stats.Added)
	assert.Empty(t, cs.Deletions())

	cs, _, err = Diff(context.Background(), reference(t), fstree.New())
	require.NoError(t, err)
	assert.Empty(t, cs.Tree.Paths())
	var deleted []string
	for _, d := range cs.Deletions() {
		deleted = append(deleted, d.Path)
	}
	assert.Equal(t, []string{
		"usr/etc/X11",
		"usr/etc/localtime",
		"usr/etc/motd",
		"usr/etc/old.conf",
		"usr/etc/profile",
		"usr/etc/ssh",
		"usr/etc/ssl",
		"usr/etc/sudoers.d",
		"usr/etc/systemd",
	}, deleted)
}

func TestIsolateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Isolate(ctx, reference(t), live(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// Layering the isolated changes onto the image reproduces the live configuration
func TestIsolateRoundTrip(t *testing.T) {
	ctx := context.Background()
	ref, liveTree := reference(t), live(t)
	cs, err := Isolate(ctx, ref, liveTree)
	require.NoError(t, err)

	fs := afero.NewOsFs()
	out := t.TempDir() + "/changes"
	require.NoError(t, ToDirectory(ctx, fs, out, false, cs))
	loaded, err := changeset.Load(fs, out, changeset.WithBaseline(attrs.DefaultBaseline()))
	require.NoError(t, err)
	assert.Equal(t, cs.Deletions(), loaded.Deletions())

	composed, _, err := union.Layer(ref, []*changeset.ChangeSet{loaded}, nil)
	require.NoError(t, err)

	want, _ := liveTree.Sub(LiveScope)
	got, _ := composed.Sub(OutputScope)
	opts := options{ignore: map[string]struct{}{}}
	WithIgnore(DefaultIgnore...)(&opts)

	require.NoError(t, want.Walk(func(n *fstree.Node) error {
		if opts.ignored(n.Path) {
			return nil
		}
		c, ok := got.Get(n.Path)
		if !assert.True(t, ok, n.Path) {
			return nil
		}
		same, err := n.SameContent(c)
		require.NoError(t, err)
		assert.True(t, same, n.Path)
		assert.True(t, n.Meta.Equal(c.Meta), "%s: %v != %v", n.Path, n.Meta, c.Meta)
		return nil
	}))
	require.NoError(t, got.Walk(func(n *fstree.Node) error {
		if !want.Has(n.Path) {
			assert.True(t, opts.ignored(n.Path), "%s should have been deleted", n.Path)
		}
		return nil
	}))
}
