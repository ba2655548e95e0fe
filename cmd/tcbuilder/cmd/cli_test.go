package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/oneconcern/tcbuilder/pkg/compress"
	"github.com/oneconcern/tcbuilder/pkg/errors"
	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"github.com/oneconcern/tcbuilder/pkg/ostree"
	"github.com/oneconcern/tcbuilder/pkg/ostree/ostreetest"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const imageJSON = `{
    "config_format": 2,
    "name": "TorizonCore",
    "version": "6.4.0+build.5",
    "release_date": "2023-09-29",
    "blockdevs": [
        {
            "name": "emmc",
            "partitions": [
                {
                    "content": {
                        "label": "otaroot",
                        "filesystem_type": "ext4",
                        "filename": "torizon-core.ota.tar.gz",
                        "uncompressed_size": 1.5
                    }
                }
            ]
        }
    ]
}`

func cliRootfs(t *testing.T) *fstree.Tree {
	tree := fstree.New()
	require.NoError(t, tree.InsertWithParents(&fstree.Node{
		Path: "usr/etc/hostname", Type: fstree.TypeFile, Size: 7, Content: fstree.Bytes("verdin\n"), Meta: fstree.Meta{Mode: 0644},
	}, fstree.DefaultDirMeta))
	return tree
}

func writeImage(t *testing.T, dir string, rootfs []byte) {
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.json"), []byte(imageJSON), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "torizon-core.ota.tar.gz"), rootfs, 0644))
}

// deployedRootfs is the compressed system root of a real deployment
func deployedRootfs(t *testing.T, work string) []byte {
	sysroot := filepath.Join(work, "sysroot")
	ostreetest.Build(t, sysroot, cliRootfs(t))
	var buf bytes.Buffer
	w, err := compress.NewWriter(compress.Gzip, &buf)
	require.NoError(t, err)
	require.NoError(t, ostree.Pack(context.Background(), &ostree.ExecRunner{}, sysroot, w))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

type result struct {
	code   int
	stdout string
	stderr string
}

// run the command line, with a configuration file holding cfg
func run(t *testing.T, cfg string, args ...string) result {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "tcbuilder.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(cfg), 0644))
	t.Setenv("TCBUILDER_CONFIG", cfgFile)

	viper.Reset()
	resetFlags(rootCmd)
	started = false
	var stdout, stderr bytes.Buffer
	infoLogger.SetOutput(&stdout)
	errOut = &stderr
	code := exitOK
	osExit = func(c int) { code = c }
	t.Cleanup(func() {
		infoLogger.SetOutput(os.Stdout)
		errOut = os.Stderr
		osExit = os.Exit
	})

	rootCmd.SetArgs(append(args, "--log-level", "none"))
	Execute()
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestExitCodes(t *testing.T) {
	started = true
	for kind, code := range map[errors.Kind]int{
		errors.KindInternal:     exitInternal,
		errors.KindUsage:        exitUsage,
		errors.KindPrecondition: exitPrecondition,
		errors.KindValidation:   exitValidation,
		errors.KindRemote:       exitRemote,
		errors.KindIntegrity:    exitIntegrity,
	} {
		err := errors.New("wrapper").Wrap(errors.NewKind(kind, "cause"))
		assert.Equal(t, code, exitCode(err), kind.String())
	}
	assert.Equal(t, exitOK, exitCode(nil))
}

func TestUsageErrors(t *testing.T) {
	storage := t.TempDir()
	r := run(t, "", "images", "status", "--bogus", "--storage-directory", storage)
	assert.Equal(t, exitUsage, r.code)

	r = run(t, "", "union", "--storage-directory", storage)
	assert.Equal(t, exitUsage, r.code, "a branch is required")

	r = run(t, "", "deploy", "base", "--storage-directory", storage)
	assert.Equal(t, exitUsage, r.code, "a target is required")
	assert.Contains(t, r.stderr, "exactly one of --output-directory, --output-image or --remote-host")

	r = run(t, "", "isolate", "--storage-directory", storage)
	assert.Equal(t, exitUsage, r.code)
}

func TestImagesWorkflow(t *testing.T) {
	work := t.TempDir()
	storage := filepath.Join(work, "storage")
	writeImage(t, filepath.Join(work, "image"), deployedRootfs(t, work))

	r := run(t, "", "images", "status", "--storage-directory", storage)
	assert.Equal(t, exitPrecondition, r.code)
	assert.Contains(t, r.stderr, "hint: unpack an image first")

	r = run(t, "", "images", "unpack", filepath.Join(work, "image"), "--storage-directory", storage)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Unpacked TorizonCore 6.4.0+build.5 (archive)")

	r = run(t, "", "images", "unpack", filepath.Join(work, "image"), "--storage-directory", storage)
	assert.Equal(t, exitPrecondition, r.code)
	assert.Contains(t, r.stderr, "--remove-storage")

	r = run(t, "", "images", "unpack", filepath.Join(work, "image"), "--remove-storage", "--storage-directory", storage)
	require.Equal(t, exitOK, r.code, r.stderr)

	r = run(t, "", "images", "status", "--storage-directory", storage)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Version:     6.4.0+build.5")
	assert.Contains(t, r.stdout, "Kernel args: "+ostreetest.Kargs)

	changes := filepath.Join(work, "changes")
	require.NoError(t, os.MkdirAll(filepath.Join(changes, "etc"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(changes, "etc", "motd"), []byte("hello\n"), 0644))
	r = run(t, "", "union", "custom", "--changes-directory", changes, "--subject", "my changes", "--storage-directory", storage)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "on branch custom, from 1 change sets")

	r = run(t, "", "ostree", "branches", "--storage-directory", storage)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "base")
	assert.Contains(t, r.stdout, "my changes")

	out := filepath.Join(work, "out")
	r = run(t, "", "deploy", "custom", "--output-directory", out, "--image-name", "Custom", "--storage-directory", storage)
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Image written to "+out)
	assert.FileExists(t, filepath.Join(out, "image.json"))
	assert.FileExists(t, filepath.Join(out, "torizon-core.ota.tar.gz"))

	r = run(t, "", "deploy", "custom", "--output-directory", out, "--storage-directory", storage)
	assert.Equal(t, exitPrecondition, r.code)
	assert.Contains(t, r.stderr, "hint: remove the output first")

	r = run(t, "", "images", "clear", "--storage-directory", storage)
	require.Equal(t, exitOK, r.code, r.stderr)
	r = run(t, "", "images", "status", "--storage-directory", storage)
	assert.Equal(t, exitPrecondition, r.code)
}

func TestBuildCommand(t *testing.T) {
	work := t.TempDir()
	manifest := filepath.Join(work, "tcbuild.yaml")

	r := run(t, "", "build", "--create-template", "-f", manifest, "--storage-directory", filepath.Join(work, "storage"))
	require.Equal(t, exitOK, r.code, r.stderr)
	assert.FileExists(t, manifest)
	r = run(t, "", "build", "--create-template", "-f", manifest, "--storage-directory", filepath.Join(work, "storage"))
	assert.Equal(t, exitUsage, r.code, "an existing manifest is kept")

	require.NoError(t, os.WriteFile(manifest, []byte("input:\n  easy-installer: {local: image}\noutput:\n  raw-image: {}\n"), 0644))
	r = run(t, "", "build", "-f", manifest, "--storage-directory", filepath.Join(work, "storage"))
	assert.Equal(t, exitValidation, r.code)
	assert.Contains(t, r.stderr, manifest+`:4:14: output.raw-image: missing required property "local"`)
	assert.Contains(t, r.stderr, manifest+":4:3: output.raw-image: requires an input.raw-image image")

	r = run(t, "", "build", "-f", manifest, "--set", "not an assignment", "--storage-directory", filepath.Join(work, "storage"))
	assert.Equal(t, exitUsage, r.code)
}

func TestBuildWithoutExecutor(t *testing.T) {
	work := t.TempDir()
	writeImage(t, filepath.Join(work, "image"), ostreetest.Tarball(t, ostreetest.Sysroot(t, cliRootfs(t))))
	manifest := filepath.Join(work, "tcbuild.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`input:
  easy-installer:
    local: image
customization:
  splash-screen: splash.png
output:
  easy-installer:
    local: out
`), 0644))

	r := run(t, "", "build", "-f", manifest, "--storage-directory", filepath.Join(work, "storage"))
	assert.Equal(t, exitPrecondition, r.code)
	assert.Contains(t, r.stderr, "steps.splash.command")
	assert.NoDirExists(t, filepath.Join(work, "out"))
}

func TestConfigBaseline(t *testing.T) {
	r := run(t, "attributes:\n  uid: 1000\n  file-mode: \"0640\"\n", "version")
	require.Equal(t, exitOK, r.code, r.stderr)
	b, err := config.baseline()
	require.NoError(t, err)
	assert.Equal(t, 1000, b.UID)
	assert.Equal(t, os.FileMode(0640), b.File)
	assert.Equal(t, os.FileMode(0770), b.Exec)

	r = run(t, "attributes:\n  file-mode: \"0999\"\n", "version")
	assert.Equal(t, exitUsage, r.code)
	assert.Contains(t, r.stderr, "not an octal mode")
}

func TestConfigSteps(t *testing.T) {
	r := run(t, "steps:\n  splash:\n    command: [convert-splash, --verbose]\n  dt: {}\n", "version")
	require.Equal(t, exitOK, r.code, r.stderr)
	steps := config.steps()
	require.Len(t, steps, 1)
	assert.NotNil(t, steps["splash"])
}

func TestVersion(t *testing.T) {
	restore := Version
	t.Cleanup(func() { Version = restore })

	Version = "v1.2.3-4-gabcdef"
	assert.Equal(t, "1.2.3-4-gabcdef", NewVersionInfo().Version)
	Version = "not a version"
	assert.Equal(t, "dev", NewVersionInfo().Version)

	r := run(t, "", "version")
	require.Equal(t, exitOK, r.code)
	assert.Contains(t, r.stdout, "Storage area format: 1.0.0")
}
