package ostree

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oneconcern/tcbuilder/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	csumA = "5f3b0c7a1e0d26a2b1b4c7e0b0f4e2b1a7a5c0d5e9f8a7b6c5d4e3f2a1b0c9d8"
	csumB = "0a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f9"
)

// fakeRunner records command lines and answers them from a table of output prefixes
type fakeRunner struct {
	mu      sync.Mutex
	lines   []string
	outputs map[string]string
	fail    map[string]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: map[string]string{}, fail: map[string]string{}}
}

func (f *fakeRunner) Run(_ context.Context, c Cmd) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	line := c.String()
	f.lines = append(f.lines, line)
	for prefix, msg := range f.fail {
		if strings.HasPrefix(line, prefix) {
			return ErrCommand.WrapMessage("%s: %s", line, msg)
		}
	}
	for prefix, out := range f.outputs {
		if strings.HasPrefix(line, prefix) && c.Stdout != nil {
			_, _ = io.WriteString(c.Stdout, out)
		}
	}
	return nil
}

const showOutput = `commit ` + csumA + `
Parent:  ` + csumB + `
ContentChecksum:  9d9c1c3c1a2b
Date:  2021-06-30 08:00:00 +0000
Version: 5.3.0+build.7-tcbuilder.20210630080000

    Add the hostname

    First paragraph
    of the body

    Second paragraph

`

func TestParseShow(t *testing.T) {
	info, err := parseShow(showOutput)
	require.NoError(t, err)
	assert.Equal(t, csumA, info.Checksum)
	assert.Equal(t, csumB, info.Parent)
	assert.Equal(t, "5.3.0+build.7-tcbuilder.20210630080000", info.Version)
	assert.True(t, time.Date(2021, 6, 30, 8, 0, 0, 0, time.UTC).Equal(info.Date))
	assert.Equal(t, "Add the hostname", info.Subject)
	assert.Equal(t, "First paragraph\nof the body\n\nSecond paragraph", info.Body)

	info, err = parseShow("commit " + csumB + "\nContentChecksum:  abc\nDate:  2021-06-30 00:00:00 +0000\n(no subject)\n\n")
	require.NoError(t, err)
	assert.Empty(t, info.Parent)
	assert.Empty(t, info.Subject)

	_, err = parseShow("error: no such commit\n")
	assert.True(t, errors.Is(err, ErrMalformedOutput))
	_, err = parseShow("commit " + csumA + "\nDate:  yesterday\n")
	assert.True(t, errors.Is(err, ErrMalformedOutput))
}

func TestUnquoteString(t *testing.T) {
	for text, want := range map[string]string{
		`'5.3.0+build.7'`:        "5.3.0+build.7",
		`"it's"`:                 "it's",
		`'quiet logo.nologo'`:    "quiet logo.nologo",
		`'a\'b\\c\n'`:            "a'b\\c\n",
		`'\u00e9t\u00e9'`:         "été",
	} {
		got, ok := UnquoteString(text)
		assert.True(t, ok, text)
		assert.Equal(t, want, got, text)
	}
	for _, text := range []string{``, `'`, `@as []`, `<'x'>`, `'x"`, `'\u12'`, `'trailing\'`} {
		_, ok := UnquoteString(text)
		assert.False(t, ok, text)
	}
}

func TestRepoCommands(t *testing.T) {
	ctx := context.Background()
	run := newFakeRunner()
	run.outputs["ostree rev-parse"] = csumA + "\n"
	run.outputs["ostree commit"] = csumB + "\n"
	run.outputs["ostree show --repo=/area/ostree --print-metadata-key=version"] = "'5.3.0'\n"
	run.fail["ostree show --repo=/area/ostree --print-metadata-key=oe.layers"] = "No such metadata key 'oe.layers'"
	r := NewRepo("/area/ostree", run)

	require.NoError(t, r.Init(ctx))
	require.NoError(t, r.PullLocal(ctx, "/area/sysroot/ostree/repo", csumA, "torizon"))
	require.NoError(t, r.SetRef(ctx, "base", csumA))
	got, err := r.RevParse(ctx, "base")
	require.NoError(t, err)
	assert.Equal(t, csumA, got)

	values, err := r.Metadata(ctx, csumA, "version", "oe.layers")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"version": "'5.3.0'"}, values)
	version, err := r.MetadataString(ctx, csumA, "version")
	require.NoError(t, err)
	assert.Equal(t, "5.3.0", version)
	_, err = r.MetadataString(ctx, csumA, "oe.layers")
	assert.True(t, errors.Is(err, ErrNoMetadataKey))

	id, err := r.Commit(ctx, CommitOptions{
		Tarball:   "/tmp/tree.tar",
		Parent:    csumA,
		Subject:   "union",
		Timestamp: time.Unix(1625040000, 0),
		Metadata:  map[string]string{"version": "5.3.0-tcbuilder.1", "oe.kargs-default": "quiet"},
		Keep:      []string{"oe.layers"},
	})
	require.NoError(t, err)
	assert.Equal(t, csumB, id)
	_, err = r.Commit(ctx, CommitOptions{Tarball: "/tmp/tree.tar"})
	assert.Error(t, err, "a subject is required")

	assert.Equal(t, []string{
		"ostree init --repo=/area/ostree --mode=archive-z2",
		"ostree pull-local --repo=/area/ostree --remote=torizon /area/sysroot/ostree/repo " + csumA,
		"ostree refs --repo=/area/ostree --force --create=base " + csumA,
		"ostree rev-parse --repo=/area/ostree base",
		"ostree show --repo=/area/ostree --print-metadata-key=version " + csumA,
		"ostree show --repo=/area/ostree --print-metadata-key=oe.layers " + csumA,
		"ostree show --repo=/area/ostree --print-metadata-key=version " + csumA,
		"ostree show --repo=/area/ostree --print-metadata-key=oe.layers " + csumA,
		"ostree commit --repo=/area/ostree --orphan --tree=tar=/tmp/tree.tar --tar-autocreate-parents --subject=union --body= --parent=" + csumA +
			" --timestamp=@1625040000 --add-metadata-string=oe.kargs-default=quiet --add-metadata-string=version=5.3.0-tcbuilder.1 --keep-metadata=oe.layers",
	}, run.lines)
}

func TestFsckFailureIsIntegrity(t *testing.T) {
	run := newFakeRunner()
	run.fail["ostree fsck"] = "Corrupted file object"
	err := NewRepo("/area/ostree", run).Fsck(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFsck))
	assert.Equal(t, errors.KindIntegrity, errors.KindOf(err))
}

func writeSysroot(t *testing.T, fs afero.Fs, dir string, deployments ...string) {
	for _, d := range deployments {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "ostree/deploy/torizon/deploy", d, "usr/etc/hostname"), []byte("verdin\n"), 0644))
	}
	require.NoError(t, fs.MkdirAll(filepath.Join(dir, "ostree/repo/objects"), 0755))
	require.NoError(t, fs.MkdirAll(filepath.Join(dir, "ostree/deploy/torizon/var/rootdirs/home"), 0755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "boot/loader.1/entries/ostree-1-torizon.conf"), []byte(
		"title TorizonCore 5.3.0 (ostree:torizon:0)\n"+
			"version 1\n"+
			"options quiet logo.nologo root=LABEL=otaroot ostree=/ostree/boot.1/torizon/b0d3/0\n"+
			"linux /ostree/torizon-b0d3/vmlinuz\n"), 0644))
}

func TestFindDeployment(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeSysroot(t, fs, "/sysroot", csumA+".0")

	d, err := FindDeployment(fs, "/sysroot")
	require.NoError(t, err)
	assert.Equal(t, Deployment{OS: DefaultOS, Checksum: csumA, Serial: 0, Kargs: "quiet logo.nologo root=LABEL=otaroot"}, d)
	assert.Equal(t, "ostree/deploy/torizon/deploy/"+csumA+".0", d.Dir())
	assert.Equal(t, "ostree/deploy/torizon/var", VarDir(d.OS))
}

func TestFindDeploymentErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/rootfs/usr/etc/hostname", []byte("verdin\n"), 0644))
	_, err := FindDeployment(fs, "/rootfs")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoDeployment))
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	require.NoError(t, fs.MkdirAll("/empty/ostree/deploy/torizon/deploy/notachecksum.0", 0755))
	_, err = FindDeployment(fs, "/empty")
	assert.True(t, errors.Is(err, ErrNoDeployment))

	writeSysroot(t, fs, "/two", csumA+".0", csumB+".0")
	_, err = FindDeployment(fs, "/two")
	assert.True(t, errors.Is(err, ErrNoDeployment), "boot links cannot be read on this filesystem")
}

func TestFindDeploymentFollowsBootLink(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()
	writeSysroot(t, fs, dir, csumA+".0", csumB+".0")
	require.NoError(t, fs.MkdirAll(filepath.Join(dir, "ostree/boot.1/torizon/b0d3"), 0755))
	require.NoError(t, fs.(afero.Linker).SymlinkIfPossible("../../../deploy/torizon/deploy/"+csumB+".0", filepath.Join(dir, "ostree/boot.1/torizon/b0d3/0")))

	d, err := FindDeployment(fs, dir)
	require.NoError(t, err)
	assert.Equal(t, csumB, d.Checksum)
}

func TestSysrootCommands(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/src/ostree/deploy/torizon/var/rootdirs/home/torizon", 0755))
	run := newFakeRunner()
	s := NewSysroot("/work/sysroot", run)

	require.NoError(t, s.Init(ctx, DefaultOS))
	require.NoError(t, s.Repo().PullLocal(ctx, "/area/ostree", csumA, DefaultOS))
	require.NoError(t, s.Deploy(ctx, DefaultOS, csumA, "quiet  root=LABEL=otaroot"))
	require.NoError(t, s.CopyUnmanaged(ctx, fs, "/src", DefaultOS))

	assert.Equal(t, []string{
		"ostree admin init-fs /work/sysroot",
		"ostree admin os-init --sysroot=/work/sysroot torizon",
		"ostree pull-local --repo=/work/sysroot/ostree/repo --remote=torizon /area/ostree " + csumA,
		"ostree admin deploy --sysroot=/work/sysroot --os=torizon --karg=quiet --karg=root=LABEL=otaroot " + csumA,
		"cp -a -t /work/sysroot/ostree/deploy/torizon/var /src/ostree/deploy/torizon/var/rootdirs",
	}, run.lines, "boot.scr is absent from the source and skipped")
}

func TestPrepareUBoot(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()
	require.NoError(t, NewSysroot(dir, newFakeRunner()).PrepareUBoot(fs))

	target, err := fs.(afero.LinkReader).ReadlinkIfPossible(filepath.Join(dir, "boot/loader"))
	require.NoError(t, err)
	assert.Equal(t, "loader.1", target)
	exists, err := afero.Exists(fs, filepath.Join(dir, "boot/loader/uEnv.txt"))
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Error(t, NewSysroot("/sysroot", newFakeRunner()).PrepareUBoot(afero.NewMemMapFs()))
}

func TestTarCommands(t *testing.T) {
	ctx := context.Background()
	run := newFakeRunner()
	run.outputs["tar --xattrs --xattrs-include=* --numeric-owner -cSpf"] = "tarball"
	require.NoError(t, Extract(ctx, run, strings.NewReader("x"), "/area/sysroot"))
	var buf bytes.Buffer
	require.NoError(t, Pack(ctx, run, "/work/sysroot", &buf))
	assert.Equal(t, "tarball", buf.String())
	assert.Equal(t, []string{
		"tar --xattrs --xattrs-include=* --numeric-owner -xpf - -C /area/sysroot",
		"tar --xattrs --xattrs-include=* --numeric-owner -cSpf - -C /work/sysroot .",
	}, run.lines)
}

func TestExecRunnerReportsErrorOutput(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no shell")
	}
	var out bytes.Buffer
	run := &ExecRunner{}
	require.NoError(t, run.Run(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "cat"}, Stdin: strings.NewReader("in"), Stdout: &out}))
	assert.Equal(t, "in", out.String())

	err := run.Run(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCommand))
	assert.Contains(t, err.Error(), "boom")
}

// requireOstree skips tests needing the ostree command
func requireOstree(t *testing.T) {
	if _, err := exec.LookPath("ostree"); err != nil {
		t.Skip("ostree is not installed")
	}
}

func TestCommitAndExportWithOstree(t *testing.T) {
	requireOstree(t)
	ctx := context.Background()
	dir := t.TempDir()
	run := &ExecRunner{}
	r := NewRepo(filepath.Join(dir, "repo"), run)
	require.NoError(t, r.Init(ctx))

	tarball := filepath.Join(dir, "tree.tar")
	require.NoError(t, exec.Command("sh", "-c", "mkdir -p "+dir+"/tree/usr/etc && echo verdin > "+dir+"/tree/usr/etc/hostname && tar -cf "+tarball+" -C "+dir+"/tree .").Run())
	csum, err := r.Commit(ctx, CommitOptions{
		Tarball:   tarball,
		Subject:   "base",
		Timestamp: time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC),
		Metadata:  map[string]string{MetadataVersion: "5.3.0"},
	})
	require.NoError(t, err)
	require.NoError(t, r.SetRef(ctx, "base", csum))

	resolved, err := r.RevParse(ctx, "base")
	require.NoError(t, err)
	assert.Equal(t, csum, resolved)
	info, err := r.Show(ctx, csum)
	require.NoError(t, err)
	assert.Equal(t, "base", info.Subject)
	assert.True(t, time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC).Equal(info.Date))
	version, err := r.MetadataString(ctx, csum, MetadataVersion)
	require.NoError(t, err)
	assert.Equal(t, "5.3.0", version)

	var buf bytes.Buffer
	require.NoError(t, r.Export(ctx, csum, &buf))
	assert.Contains(t, buf.String(), "usr/etc/hostname")
	require.NoError(t, r.Fsck(ctx))
}
