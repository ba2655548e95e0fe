package repo

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/oneconcern/tcbuilder/pkg/errors"
	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/oneconcern/tcbuilder/pkg/ostree"
	"github.com/oneconcern/tcbuilder/pkg/ostree/ostreetest"
	"github.com/oneconcern/tcbuilder/pkg/storage"
	"github.com/oneconcern/tcbuilder/pkg/storage/localfs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)

func setupRepo(t *testing.T) (Store, storage.Store) {
	objects := localfs.New(afero.NewMemMapFs())
	return New(objects, NewStoreRefs(objects), Concurrency(2)), objects
}

func sampleTree(t *testing.T) *fstree.Tree {
	tree := fstree.New()
	for _, n := range []*fstree.Node{
		{Path: "etc", Type: fstree.TypeDir, Meta: fstree.Meta{Mode: 0755}},
		{Path: "etc/hostname", Type: fstree.TypeFile, Size: 7, Content: fstree.Bytes("verdin\n"), Meta: fstree.Meta{Mode: 0644}},
		{Path: "etc/motd", Type: fstree.TypeFile, Size: 7, Content: fstree.Bytes("verdin\n"), Meta: fstree.Meta{Mode: 0644}},
		{Path: "etc/localtime", Type: fstree.TypeSymlink, Target: "/usr/share/zoneinfo/UTC", Meta: fstree.Meta{Mode: 0777}},
		{Path: "usr/bin/passwd", Type: fstree.TypeFile, Size: 3, Content: fstree.Bytes("elf"), Meta: fstree.Meta{Mode: 0755 | os.ModeSetuid}},
		{Path: "var/lib/app", Type: fstree.TypeDir, Meta: fstree.Meta{UID: 1000, GID: 1000, Mode: 0750, ACL: []fstree.ACLEntry{
			{Tag: fstree.ACLUser, ID: 1001, Perm: 07},
			{Tag: fstree.ACLGroupObj, Perm: 05},
			{Tag: fstree.ACLMask, Perm: 07},
		}}},
	} {
		require.NoError(t, tree.Insert(n))
	}
	return tree
}

func readAll(t *testing.T, n *fstree.Node) string {
	rdr, err := n.Content.Open()
	require.NoError(t, err)
	defer rdr.Close()
	b, err := ioutil.ReadAll(rdr)
	require.NoError(t, err)
	return string(b)
}

func TestCreateAndReadCommit(t *testing.T) {
	ctx := context.Background()
	r, objects := setupRepo(t)
	tree := sampleTree(t)

	id, err := r.CreateCommit(ctx, tree, model.Commit{
		Subject:   "base",
		Timestamp: testTime,
		Metadata:  map[string]string{model.MetadataVersion: "5.3.0"},
	})
	require.NoError(t, err)
	require.NoError(t, id.Validate())

	c, err := r.ReadCommit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
	assert.Equal(t, "base", c.Subject)
	assert.Equal(t, "5.3.0", c.ImageVersion())
	assert.True(t, testTime.Equal(c.Timestamp))
	assert.True(t, c.Parent.IsZero())

	// identical contents are stored once
	keys, err := objects.Keys(ctx)
	require.NoError(t, err)
	var contents int
	for _, key := range keys {
		if apc, err := model.GetArchivePathComponents(key); err == nil && apc.Kind == model.ObjectContent {
			contents++
		}
	}
	assert.Equal(t, 2, contents)

	read, err := r.ReadTree(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, tree.Paths(), read.Paths())
	for _, p := range tree.Paths() {
		want, _ := tree.Get(p)
		got, ok := read.Get(p)
		require.True(t, ok, p)
		assert.Equal(t, want.Type, got.Type, p)
		assert.True(t, want.Meta.Equal(got.Meta), p)
		assert.Equal(t, want.Target, got.Target, p)
		if want.Type == fstree.TypeFile {
			assert.Equal(t, readAll(t, want), readAll(t, got), p)
		}
	}
	require.NoError(t, r.Verify(ctx, id))
}

func TestCreateCommitIsDeterministic(t *testing.T) {
	ctx := context.Background()
	r1, _ := setupRepo(t)
	r2, _ := setupRepo(t)
	c := model.Commit{Subject: "same", Timestamp: testTime}

	id1, err := r1.CreateCommit(ctx, sampleTree(t), c)
	require.NoError(t, err)
	id2, err := r2.CreateCommit(ctx, sampleTree(t), c)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	// again in the same repository
	id3, err := r1.CreateCommit(ctx, sampleTree(t), c)
	require.NoError(t, err)
	assert.Equal(t, id1, id3)

	c.Subject = "other"
	id4, err := r1.CreateCommit(ctx, sampleTree(t), c)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id4)
}

func TestCreateCommitUnknownParent(t *testing.T) {
	r, _ := setupRepo(t)
	_, err := r.CreateCommit(context.Background(), sampleTree(t), model.Commit{
		Parent:    model.CommitID(fstree.DigestBytes([]byte("nope"))),
		Timestamp: testTime,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCommitNotFound))
}

func TestCreateCommitSizeMismatch(t *testing.T) {
	r, _ := setupRepo(t)
	tree := fstree.New()
	require.NoError(t, tree.Insert(&fstree.Node{Path: "f", Type: fstree.TypeFile, Size: 10, Content: fstree.Bytes("short")}))
	_, err := r.CreateCommit(context.Background(), tree, model.Commit{Timestamp: testTime})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fstree.ErrSizeMismatch))
}

func TestVerifyDanglingContent(t *testing.T) {
	ctx := context.Background()
	r, objects := setupRepo(t)
	id, err := r.CreateCommit(ctx, sampleTree(t), model.Commit{Timestamp: testTime})
	require.NoError(t, err)

	require.NoError(t, objects.Delete(ctx, model.GetArchivePathToContent(fstree.DigestBytes([]byte("elf")))))
	err = r.Verify(ctx, id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDanglingObject))
	assert.Equal(t, errors.KindIntegrity, errors.KindOf(err))

	tree, err := r.ReadTree(ctx, id)
	require.NoError(t, err)
	n, ok := tree.Get("usr/bin/passwd")
	require.True(t, ok)
	_, err = n.Content.Open()
	assert.True(t, errors.Is(err, ErrDanglingObject))
}

func TestReadCommitCorrupt(t *testing.T) {
	ctx := context.Background()
	r, objects := setupRepo(t)
	id, err := r.CreateCommit(ctx, sampleTree(t), model.Commit{Timestamp: testTime})
	require.NoError(t, err)

	key := model.GetArchivePathToCommit(id)
	require.NoError(t, objects.Delete(ctx, key))
	require.NoError(t, objects.Put(ctx, key, bytes.NewBufferString("version: 1\n"), storage.OverWrite))
	_, err = r.ReadCommit(ctx, id)
	assert.True(t, errors.Is(err, ErrCorruptObject))

	_, err = r.ReadCommit(ctx, "nothex")
	assert.True(t, errors.Is(err, model.ErrInvalidCommitID))
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	r, _ := setupRepo(t)
	id, err := r.CreateCommit(ctx, sampleTree(t), model.Commit{Timestamp: testTime})
	require.NoError(t, err)
	require.NoError(t, r.AdvanceBranch(ctx, model.BaseBranch, id))

	for _, ref := range []string{model.BaseBranch, string(id), string(id[:8])} {
		got, err := r.Resolve(ctx, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, id, got, ref)
	}

	_, err = r.Resolve(ctx, "unknown")
	assert.True(t, errors.Is(err, ErrRefNotFound))
	_, err = r.Resolve(ctx, "")
	assert.True(t, errors.Is(err, ErrRefNotFound))
	_, err = r.Resolve(ctx, string(model.CommitID(fstree.DigestBytes(nil))))
	assert.True(t, errors.Is(err, ErrCommitNotFound))
}

func TestAdvanceBranch(t *testing.T) {
	ctx := context.Background()
	r, _ := setupRepo(t)
	id, err := r.CreateCommit(ctx, sampleTree(t), model.Commit{Timestamp: testTime})
	require.NoError(t, err)
	child, err := r.CreateCommit(ctx, sampleTree(t), model.Commit{Parent: id, Subject: "child", Timestamp: testTime})
	require.NoError(t, err)

	require.NoError(t, r.AdvanceBranch(ctx, "custom", child))
	require.NoError(t, r.AdvanceBranch(ctx, model.BaseBranch, id))
	assert.True(t, errors.Is(r.AdvanceBranch(ctx, "bad..name", id), model.ErrInvalidBranch))
	assert.True(t, errors.Is(r.AdvanceBranch(ctx, "other", model.CommitID(fstree.DigestBytes(nil))), ErrCommitNotFound))

	branches, err := r.ListBranches(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Branch{
		{Name: model.BaseBranch, Commit: id},
		{Name: "custom", Commit: child},
	}, branches)
}

func TestVerifyCorruptContent(t *testing.T) {
	ctx := context.Background()
	r, objects := setupRepo(t)
	id, err := r.CreateCommit(ctx, sampleTree(t), model.Commit{Timestamp: testTime})
	require.NoError(t, err)
	require.NoError(t, r.Verify(ctx, id))

	key := model.GetArchivePathToContent(fstree.DigestBytes([]byte("elf")))
	require.NoError(t, objects.Delete(ctx, key))
	require.NoError(t, objects.Put(ctx, key, bytes.NewBufferString("elk"), storage.OverWrite))

	err = r.Verify(ctx, id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptObject))
	assert.Equal(t, errors.KindIntegrity, errors.KindOf(err))
	assert.Contains(t, err.Error(), "usr/bin/passwd")
}

func deviceRootfs(t *testing.T) *fstree.Tree {
	tree := fstree.New()
	for _, n := range []*fstree.Node{
		{Path: "usr/etc/hostname", Type: fstree.TypeFile, Size: 7, Content: fstree.Bytes("verdin\n"), Meta: fstree.Meta{Mode: 0644}},
		{Path: "usr/bin/passwd", Type: fstree.TypeFile, Size: 3, Content: fstree.Bytes("elf"), Meta: fstree.Meta{Mode: 0755 | os.ModeSetuid}},
		{Path: "usr/lib/os-release", Type: fstree.TypeFile, Size: 19, Content: fstree.Bytes("NAME=\"TorizonCore\"\n"), Meta: fstree.Meta{Mode: 0644}},
	} {
		require.NoError(t, tree.InsertWithParents(n, fstree.DefaultDirMeta))
	}
	return tree
}

func writeSysroot(t *testing.T, fs afero.Fs, dir string) Sysroot {
	_, err := fstree.WriteDir(fs, dir, ostreetest.Sysroot(t, deviceRootfs(t)))
	require.NoError(t, err)
	d, err := ostree.FindDeployment(fs, dir)
	require.NoError(t, err)
	return Sysroot{Fs: fs, Dir: dir, Deployment: d}
}

func TestImportDeployedCommit(t *testing.T) {
	ctx := context.Background()
	r, _ := setupRepo(t)
	src := writeSysroot(t, afero.NewMemMapFs(), "/area/sysroot")
	assert.Equal(t, ostreetest.Checksum, src.Deployment.Checksum)

	id, err := r.Import(ctx, src, model.Commit{Subject: "Base image", Timestamp: testTime})
	require.NoError(t, err)
	c, err := r.ReadCommit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ostreetest.Kargs, c.Metadata[ostree.MetadataKargs])

	tree, err := r.ReadTree(ctx, id)
	require.NoError(t, err)
	assert.True(t, tree.Has("usr/etc/hostname"), "usr/etc/hostname at the commit root")
	assert.False(t, tree.Has("etc"), "the merged /etc of the checkout is not committed")
	assert.False(t, tree.Has("boot"))
}

func TestDeploySysroot(t *testing.T) {
	ctx := context.Background()
	r, _ := setupRepo(t)
	src := writeSysroot(t, afero.NewMemMapFs(), "/area/sysroot")
	id, err := r.Import(ctx, src, model.Commit{Timestamp: testTime})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.Deploy(ctx, id, DeployOptions{Source: src, Kargs: "quiet root=LABEL=otaroot"}, &buf))
	out, err := fstree.FromTar(&buf)
	require.NoError(t, err)

	deployed := ostree.Deployment{OS: ostree.DefaultOS, Checksum: string(id)}.Dir()
	for _, p := range []string{
		deployed + "/usr/etc/hostname",
		deployed + "/etc/hostname",
		ostreetest.HomeDir + "/.profile",
		ostree.RepoDir,
		"boot/loader.1/uEnv.txt",
	} {
		assert.True(t, out.Has(p), p)
	}
	passwd, ok := out.Get(deployed + "/usr/bin/passwd")
	require.True(t, ok)
	assert.Equal(t, 0755|os.ModeSetuid, passwd.Meta.Mode)

	entry, ok := out.Get("boot/loader.1/entries/ostree-1-torizon.conf")
	require.True(t, ok)
	assert.Contains(t, readAll(t, entry), "options quiet root=LABEL=otaroot ostree=/ostree/boot.1/torizon/"+string(id)+"/0\n")
	script, ok := out.Get(ostree.BootScript)
	require.True(t, ok)
	assert.Equal(t, ostreetest.BootScript, readAll(t, script))
	loader, ok := out.Get("boot/loader")
	require.True(t, ok)
	assert.Equal(t, "loader.1", loader.Target)
}
