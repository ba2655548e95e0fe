package fstree

import (
	"testing"

	"github.com/oneconcern/tcbuilder/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func file(p, content string, mode uint32) *Node {
	return &Node{Path: p, Type: TypeFile, Size: int64(len(content)), Content: Bytes(content), Meta: Meta{Mode: osMode(mode)}}
}

func dir(p string, mode uint32) *Node {
	return &Node{Path: p, Type: TypeDir, Meta: Meta{Mode: osMode(mode)}}
}

func link(p, target string) *Node {
	return &Node{Path: p, Type: TypeSymlink, Target: target, Meta: Meta{Mode: 0777}}
}

func testTree(t *testing.T) *Tree {
	tree := New()
	for _, n := range []*Node{
		dir("etc", 0755),
		file("etc/hostname", "verdin\n", 0644),
		dir("etc/ssh", 0700),
		file("etc/ssh/sshd_config", "PermitRootLogin no\n", 0600),
		link("etc/localtime", "/usr/share/zoneinfo/UTC"),
		file("etc-shadow", "x", 0600),
		file("usr/bin/tool", "#!/bin/sh\n", 0755),
	} {
		require.NoError(t, tree.Insert(n))
	}
	return tree
}

func TestTreeInsertCreatesParents(t *testing.T) {
	tree := testTree(t)
	usr, ok := tree.Get("usr")
	require.True(t, ok)
	assert.Equal(t, TypeDir, usr.Type)
	assert.Equal(t, DefaultDirMeta.Mode, usr.Meta.Mode)

	assert.True(t, tree.Has("/usr/bin/"))
	assert.True(t, tree.Has("./usr/bin/tool"))
	assert.False(t, tree.Has(""))
}

func TestTreeWalkOrder(t *testing.T) {
	tree := testTree(t)
	paths := tree.Paths()
	index := make(map[string]int, len(paths))
	for i, p := range paths {
		index[p] = i
	}
	for _, p := range paths {
		if parent := Parent(p); parent != "" {
			assert.Less(t, index[parent], index[p], "parent %s must come before %s", parent, p)
		}
	}
	assert.Equal(t, 9, tree.Len())
}

func TestTreeInsertErrors(t *testing.T) {
	tree := testTree(t)

	err := tree.Insert(file("etc/hostname/nested", "x", 0644))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotDirectory))

	err = tree.Insert(file("etc/"+SidecarName, "x", 0644))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReservedName))
	assert.Equal(t, errors.KindIntegrity, errors.KindOf(err))

	err = tree.Insert(file("etc/.wh.hostname", "", 0644))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReservedName))

	err = tree.Insert(file("../escape", "", 0644))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPath))

	err = tree.Insert(&Node{Path: "dev/null", Type: Type(42)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestTreeReplaceDirByFile(t *testing.T) {
	tree := testTree(t)
	require.NoError(t, tree.Insert(file("etc/ssh", "not a dir anymore", 0644)))
	assert.False(t, tree.Has("etc/ssh/sshd_config"))
	n, ok := tree.Get("etc/ssh")
	require.True(t, ok)
	assert.Equal(t, TypeFile, n.Type)
}

func TestTreeDelete(t *testing.T) {
	tree := testTree(t)
	clone := tree.Clone()

	assert.Equal(t, 3, tree.Delete("etc/ssh")+tree.Delete("etc/hostname"))
	assert.False(t, tree.Has("etc/ssh"))
	assert.True(t, tree.Has("etc-shadow"))
	assert.True(t, clone.Has("etc/ssh/sshd_config"), "clones are not affected")

	assert.Equal(t, 1, tree.DeleteChildren("etc"))
	assert.True(t, tree.Has("etc"))
	assert.Empty(t, tree.Children("etc"))

	assert.Equal(t, 0, tree.Delete("nowhere"))
	assert.Equal(t, tree.Len(), tree.Delete(""))
	assert.Equal(t, 0, tree.Len())
}

func TestTreeSetMeta(t *testing.T) {
	tree := testTree(t)
	clone := tree.Clone()
	require.NoError(t, tree.SetMeta("etc/hostname", Meta{UID: 1000, GID: 1000, Mode: 0600}))

	n, _ := tree.Get("etc/hostname")
	assert.Equal(t, 1000, n.Meta.UID)
	o, _ := clone.Get("etc/hostname")
	assert.Equal(t, 0, o.Meta.UID)

	err := tree.SetMeta("etc/missing", Meta{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTreeSubAndGraft(t *testing.T) {
	tree := testTree(t)
	sub, ok := tree.Sub("etc")
	require.True(t, ok)
	assert.Equal(t, []string{"hostname", "localtime", "ssh", "ssh/sshd_config"}, sub.Paths())

	missing, ok := tree.Sub("opt")
	assert.False(t, ok)
	assert.Equal(t, 0, missing.Len())

	_, ok = tree.Sub("etc/hostname")
	assert.False(t, ok, "a file is not a directory")

	dest := New()
	require.NoError(t, dest.Graft("usr/etc", sub, DefaultDirMeta))
	assert.Equal(t, []string{"usr", "usr/etc", "usr/etc/hostname", "usr/etc/localtime", "usr/etc/ssh", "usr/etc/ssh/sshd_config"}, dest.Paths())
	n, ok := dest.Get("usr/etc/ssh")
	require.True(t, ok)
	assert.Equal(t, osMode(0700), n.Meta.Mode)
}

func TestChildren(t *testing.T) {
	tree := testTree(t)
	var names []string
	for _, c := range tree.Children("etc") {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"hostname", "localtime", "ssh"}, names)

	names = names[:0]
	for _, c := range tree.Children("") {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"etc", "etc-shadow", "usr"}, names)
}

func TestSameContent(t *testing.T) {
	a := file("a", "same", 0644)
	b := file("b", "same", 0600)
	same, err := a.SameContent(b)
	require.NoError(t, err)
	assert.True(t, same)

	c := file("c", "diff", 0644)
	same, err = a.SameContent(c)
	require.NoError(t, err)
	assert.False(t, same)

	same, err = link("l", "x").SameContent(link("m", "y"))
	require.NoError(t, err)
	assert.False(t, same)

	same, err = a.SameContent(dir("d", 0755))
	require.NoError(t, err)
	assert.False(t, same)

	liar := &Node{Path: "liar", Type: TypeFile, Size: 10, Content: Bytes("short")}
	_, err = liar.ComputeDigest()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSizeMismatch))
}

func TestPathHelpers(t *testing.T) {
	for in, expected := range map[string]string{
		"":            "",
		"/":           "",
		".":           "",
		"/etc/":       "etc",
		"./etc//ssh/": "etc/ssh",
		"etc/../usr":  "usr",
	} {
		p, err := CleanPath(in)
		require.NoError(t, err, in)
		assert.Equal(t, expected, p, in)
	}
	assert.Equal(t, "", Parent("etc"))
	assert.Equal(t, "etc", Parent("etc/ssh"))
	assert.Equal(t, "usr/etc", Join("", "usr", "etc"))
	assert.Equal(t, "", Join("", ""))
	assert.True(t, IsUnder("etc/ssh", "etc"))
	assert.True(t, IsUnder("etc", "etc"))
	assert.False(t, IsUnder("etc-shadow", "etc"))
	assert.True(t, IsUnder("anything", ""))
	assert.True(t, IsReservedName(".tcattr"))
	assert.True(t, IsReservedName(OpaqueMarker))
	assert.False(t, IsReservedName("tcattr"))
}

func TestMetaEqual(t *testing.T) {
	a := Meta{Mode: 0750, ACL: []ACLEntry{{Tag: ACLMask, Perm: 5}, {Tag: ACLUser, ID: 1000, Perm: 7}, {Tag: ACLGroupObj, Perm: 5}}}
	b := Meta{Mode: 0750, ACL: []ACLEntry{{Tag: ACLUser, ID: 1000, Perm: 7}, {Tag: ACLGroupObj, Perm: 5}, {Tag: ACLMask, Perm: 5}}}
	assert.True(t, a.Equal(b))
	b.UID = 1
	assert.False(t, a.Equal(b))
	assert.True(t, Meta{Mode: 0755}.Equal(Meta{Mode: 0755, ACL: []ACLEntry{}}))
	assert.True(t, Meta{Mode: 0755}.IsExecutable())
	assert.False(t, Meta{Mode: 0644}.IsExecutable())
}
