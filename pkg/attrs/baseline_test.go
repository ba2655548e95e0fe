package attrs

import (
	"bytes"
	"os"
	"testing"

	"github.com/oneconcern/tcbuilder/pkg/errors"
	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTree(t *testing.T) *fstree.Tree {
	tree := fstree.New()
	for _, n := range []*fstree.Node{
		{Path: "usr", Type: fstree.TypeDir, Meta: fstree.Meta{Mode: 0755}},
		{Path: "usr/etc", Type: fstree.TypeDir, Meta: fstree.Meta{Mode: 0755}},
		{Path: "usr/etc/default", Type: fstree.TypeFile, Size: 1, Content: fstree.Bytes("x"), Meta: fstree.Meta{Mode: 0660}},
		{Path: "usr/etc/run", Type: fstree.TypeFile, Size: 1, Content: fstree.Bytes("x"), Meta: fstree.Meta{Mode: 0770}},
		{Path: "usr/etc/owned", Type: fstree.TypeFile, Size: 1, Content: fstree.Bytes("x"), Meta: fstree.Meta{UID: 1000, GID: 1000, Mode: 0640}},
		{Path: "usr/etc/suid", Type: fstree.TypeFile, Size: 1, Content: fstree.Bytes("x"), Meta: fstree.Meta{Mode: os.ModeSetuid | 0755}},
		{Path: "usr/etc/private", Type: fstree.TypeDir, Meta: fstree.Meta{Mode: 0700, ACL: []fstree.ACLEntry{
			{Tag: fstree.ACLUser, ID: 1000, Perm: 7},
			{Tag: fstree.ACLGroupObj, Perm: 0},
			{Tag: fstree.ACLMask, Perm: 7},
		}}},
		{Path: "usr/etc/link", Type: fstree.TypeSymlink, Target: "default", Meta: fstree.Meta{UID: 5, Mode: 0777}},
	} {
		require.NoError(t, tree.Insert(n))
	}
	// the ACL mask lives in the group bits of the mode
	require.NoError(t, tree.SetMeta("usr/etc/private", fstree.Meta{Mode: 0770, ACL: []fstree.ACLEntry{
		{Tag: fstree.ACLUser, ID: 1000, Perm: 7},
		{Tag: fstree.ACLGroupObj, Perm: 0},
		{Tag: fstree.ACLMask, Perm: 7},
	}}))
	return tree
}

func TestBaselineValidate(t *testing.T) {
	require.NoError(t, DefaultBaseline().Validate())

	b := DefaultBaseline()
	b.File = 0755
	err := b.Validate()
	require.Error(t, err)
	assert.Equal(t, errors.KindUsage, errors.KindOf(err))

	b = DefaultBaseline()
	b.Exec = 0660
	require.Error(t, b.Validate())
}

func TestCaptureOmitsBaseline(t *testing.T) {
	r := Capture(buildTree(t), DefaultBaseline(), nil)
	var paths []string
	for _, e := range r.Entries() {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"usr/etc/link", "usr/etc/owned", "usr/etc/private", "usr/etc/suid"}, paths)

	forced := Capture(buildTree(t), DefaultBaseline(), func(n *fstree.Node) bool { return n.IsDir() })
	_, ok := forced.Get("usr/etc")
	assert.True(t, ok)
}

func TestRoundTripThroughBaseline(t *testing.T) {
	original := buildTree(t)
	b := DefaultBaseline()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Capture(original, b, nil)))
	record, err := Decode(&buf)
	require.NoError(t, err)

	restored := original.Clone()
	require.NoError(t, b.Apply(restored))
	require.NoError(t, Restore(restored, record))

	require.NoError(t, original.Walk(func(n *fstree.Node) error {
		r, ok := restored.Get(n.Path)
		require.True(t, ok)
		assert.True(t, n.Meta.Equal(r.Meta), "%s: %+v != %+v", n.Path, n.Meta, r.Meta)
		return nil
	}))
}

func TestRestoreMissingPath(t *testing.T) {
	tree := buildTree(t)
	r := NewRecord(
		Entry{Path: "usr/etc/gone", Meta: fstree.Meta{Mode: 0600}},
		Entry{Path: "usr/etc/default", Meta: fstree.Meta{UID: 7, Mode: 0600}},
	)
	err := Restore(tree, r)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingPath))
	assert.Equal(t, errors.KindIntegrity, errors.KindOf(err))

	n, _ := tree.Get("usr/etc/default")
	assert.Equal(t, 0, n.Meta.UID, "a failed restore leaves the tree untouched")
}
