// Package ostreetest provides system root fixtures and a scripted command runner for tests
// of packages driving OSTree.
package ostreetest

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oneconcern/tcbuilder/pkg/compress"
	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"github.com/oneconcern/tcbuilder/pkg/ostree"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	// Checksum of the deployed commit of the fixtures
	Checksum = "36a6a5e3b3ae5b0dca1d5e5bcf0b2c3c9bd3f7e3dd1c2a4f8d3b8f5e9a7c1d20"

	// Kargs of the boot loader entry of the fixtures
	Kargs = "quiet logo.nologo vt.global_cursor_default=0 root=LABEL=otaroot"

	// Profile is the content of the home directory file of the fixtures
	Profile = "export PATH=$PATH:/usr/sbin\n"

	// BootScript is the content of the boot script of the fixtures
	BootScript = "setenv bootcmd_otenv 'ext4load mmc 0:1 ${loadaddr} /boot/loader/uEnv.txt'\n"
)

// Deployment of the fixtures
func Deployment() ostree.Deployment {
	return ostree.Deployment{OS: ostree.DefaultOS, Checksum: Checksum, Kargs: Kargs}
}

// HomeDir holds the home directories of the fixtures, relative to the system root
var HomeDir = path.Join(ostree.VarDir(ostree.DefaultOS), ostree.HomeDirs, "home/torizon")

// Sysroot lays out rootfs the way a TorizonCore device has it deployed. The boot loader
// entries are in boot/loader.1, without the loader link in-memory filesystems cannot hold.
func Sysroot(t testing.TB, rootfs *fstree.Tree) *fstree.Tree {
	d := Deployment()
	entry := "title TorizonCore 5.3.0+build.7 (ostree:torizon:0)\nversion 1\n" +
		"options " + Kargs + " ostree=/ostree/boot.1/torizon/" + Checksum + "/0\n" +
		"linux /ostree/torizon-0123/vmlinuz-5.4.115\n"
	file := func(p, content string, mode os.FileMode) *fstree.Node {
		return &fstree.Node{Path: p, Type: fstree.TypeFile, Size: int64(len(content)), Content: fstree.Bytes(content), Meta: fstree.Meta{Mode: mode}}
	}

	tree := fstree.New()
	for _, n := range []*fstree.Node{
		file("boot/loader.1/entries/ostree-1-torizon.conf", entry, 0644),
		file("boot/loader.1/uEnv.txt", "kernel_image=/ostree/torizon-0123/vmlinuz-5.4.115\n", 0644),
		file(ostree.BootScript, BootScript, 0644),
		file(ostree.RepoDir+"/config", "[core]\nrepo_version=1\nmode=bare\n", 0644),
		file(d.Dir()+".origin", "[origin]\nrefspec=torizon:torizon/core\n", 0644),
		file(HomeDir+"/.profile", Profile, 0644),
	} {
		require.NoError(t, tree.InsertWithParents(n, fstree.DefaultDirMeta))
	}
	require.NoError(t, tree.InsertWithParents(&fstree.Node{Path: d.Dir(), Type: fstree.TypeDir, Meta: fstree.DefaultDirMeta}, fstree.DefaultDirMeta))
	require.NoError(t, tree.Graft(d.Dir(), rootfs, fstree.DefaultDirMeta))
	if etc, ok := rootfs.Sub("usr/etc"); ok {
		require.NoError(t, tree.Insert(&fstree.Node{Path: d.Dir() + "/etc", Type: fstree.TypeDir, Meta: fstree.DefaultDirMeta}))
		require.NoError(t, tree.Graft(d.Dir()+"/etc", etc, fstree.DefaultDirMeta))
	}
	return tree
}

// Tarball of a tree, compressed with gzip like the rootfs of TorizonCore images
func Tarball(t testing.TB, tree *fstree.Tree) []byte {
	var buf bytes.Buffer
	w, err := compress.NewWriter(compress.Gzip, &buf)
	require.NoError(t, err)
	_, err = fstree.WriteTar(w, tree, fstree.WithModTime(time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// Require skips tests needing the ostree command
func Require(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("ostree"); err != nil {
		t.Skip("ostree is not installed")
	}
}

// RequireRoot skips tests deploying with ostree admin, which keeps file ownership
func RequireRoot(t testing.TB) {
	t.Helper()
	Require(t)
	if os.Geteuid() != 0 {
		t.Skip("deploying a system root requires root")
	}
}

// Build deploys rootfs into a real system root at dir and returns its deployment.
// A kernel is added under usr/lib/modules, as ostree admin deploy requires one.
func Build(t testing.TB, dir string, rootfs *fstree.Tree) ostree.Deployment {
	RequireRoot(t)
	ctx := context.Background()
	run := &ostree.ExecRunner{}
	fs := afero.NewOsFs()

	tree := rootfs.Clone()
	require.NoError(t, tree.InsertWithParents(&fstree.Node{
		Path: "usr/lib/modules/5.4.115/vmlinuz", Type: fstree.TypeFile, Size: 6, Content: fstree.Bytes("kernel"), Meta: fstree.Meta{Mode: 0644},
	}, fstree.DefaultDirMeta))
	tarball := filepath.Join(t.TempDir(), "rootfs.tar")
	f, err := os.Create(tarball)
	require.NoError(t, err)
	_, err = fstree.WriteTar(f, tree)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	sys := ostree.NewSysroot(dir, run)
	require.NoError(t, sys.Init(ctx, ostree.DefaultOS))
	require.NoError(t, sys.PrepareUBoot(fs))
	csum, err := sys.Repo().Commit(ctx, ostree.CommitOptions{
		Tarball:   tarball,
		Subject:   "TorizonCore 5.3.0+build.7",
		Timestamp: time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC),
		Metadata:  map[string]string{ostree.MetadataVersion: "5.3.0+build.7", ostree.MetadataKargs: Kargs},
	})
	require.NoError(t, err)
	require.NoError(t, sys.Deploy(ctx, ostree.DefaultOS, csum, Kargs))

	require.NoError(t, fs.MkdirAll(filepath.Join(dir, filepath.FromSlash(HomeDir)), 0755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, filepath.FromSlash(HomeDir), ".profile"), []byte(Profile), 0644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, ostree.BootScript), []byte(BootScript), 0644))

	d, err := ostree.FindDeployment(fs, dir)
	require.NoError(t, err)
	return d
}

// Runner records the commands it is given and answers them from a script
type Runner struct {
	mu      sync.Mutex
	lines   []string
	answers []answer

	// Hook, when set, runs for every command after the script
	Hook func(ostree.Cmd) error
}

type answer struct {
	prefix string
	output string
	err    error
}

// Answer writes output to the standard output of commands starting with prefix
func (r *Runner) Answer(prefix, output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, answer{prefix: prefix, output: output})
}

// Fail commands starting with prefix with an error reporting msg
func (r *Runner) Fail(prefix, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, answer{prefix: prefix, err: ostree.ErrCommand.WrapMessage("%s: %s", prefix, msg)})
}

// Run answers with the first matching entry of the script
func (r *Runner) Run(_ context.Context, c ostree.Cmd) error {
	line := c.String()
	r.mu.Lock()
	r.lines = append(r.lines, line)
	var match *answer
	for i := range r.answers {
		if strings.HasPrefix(line, r.answers[i].prefix) {
			match = &r.answers[i]
			break
		}
	}
	hook := r.Hook
	r.mu.Unlock()

	if match != nil {
		if match.err != nil {
			return match.err
		}
		if c.Stdout != nil {
			if _, err := io.WriteString(c.Stdout, match.output); err != nil {
				return err
			}
		}
	}
	if hook != nil {
		return hook(c)
	}
	return nil
}

// Lines are the command lines run so far
func (r *Runner) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}
