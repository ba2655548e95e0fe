package build

import (
	"context"
	"path"
	"testing"
	"time"

	"github.com/oneconcern/tcbuilder/pkg/errors"
	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"github.com/oneconcern/tcbuilder/pkg/image/tezi"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/oneconcern/tcbuilder/pkg/ostree/ostreetest"
	"github.com/oneconcern/tcbuilder/pkg/storagearea"
	"github.com/spf13/afero"
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

const buildManifest = `input:
  easy-installer:
    local: images/tezi
customization:
  splash-screen: splash.png
  filesystem:
    - changes/
  device-tree:
    custom: custom.dts
  kernel:
    arguments: [quiet]
output:
  ostree:
    branch: custom
    commit-subject: custom build
  easy-installer:
    local: out/${N}
    name: Custom
`

func writeImage(t *testing.T, fs afero.Fs, dir string) {
	rootfs := fstree.New()
	require.NoError(t, rootfs.InsertWithParents(&fstree.Node{Path: "usr/etc/hostname", Type: fstree.TypeFile, Size: 7, Content: fstree.Bytes("verdin\n"), Meta: fstree.Meta{Mode: 0644}}, fstree.DefaultDirMeta))
	require.NoError(t, rootfs.InsertWithParents(&fstree.Node{Path: "usr/bin/true", Type: fstree.TypeFile, Size: 3, Content: fstree.Bytes("elf"), Meta: fstree.Meta{Mode: 0755}}, fstree.DefaultDirMeta))
	require.NoError(t, afero.WriteFile(fs, dir+"/image.json", []byte(imageJSON), 0644))
	require.NoError(t, afero.WriteFile(fs, dir+"/torizon-core.ota.tar.gz", ostreetest.Tarball(t, ostreetest.Sysroot(t, rootfs)), 0644))
}

// fakeStep writes one file named after its phase
type fakeStep struct {
	fs   afero.Fs
	reqs []StepRequest
	err  error
}

func (f *fakeStep) Run(_ context.Context, req StepRequest) error {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return f.err
	}
	return afero.WriteFile(f.fs, path.Join(req.Output, "usr/share/tcb", string(req.Phase)), []byte(req.Params["arguments"]), 0644)
}

func workspace(t *testing.T) (afero.Fs, *storagearea.Handle) {
	fs := afero.NewMemMapFs()
	writeImage(t, fs, "/work/images/tezi")
	require.NoError(t, afero.WriteFile(fs, "/work/changes/usr/etc/motd", []byte("hello\n"), 0644))
	a, err := storagearea.Open("/area", storagearea.WithFs(fs))
	require.NoError(t, err)
	h, err := a.Lock(context.Background(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Release() })
	return fs, h
}

func parse(t *testing.T, vars map[string]string) *Manifest {
	m, err := Parse([]byte(buildManifest), "/work/tcbuild.yaml", vars)
	require.NoError(t, err)
	return m
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	fs, h := workspace(t)
	step := &fakeStep{fs: fs}
	steps := map[Phase]Step{PhaseDeviceTree: step, PhaseSplash: step, PhaseKernel: step}
	date := time.Date(2023, 10, 2, 0, 0, 0, 0, time.UTC)

	images, err := Run(ctx, h, parse(t, map[string]string{"N": "1"}), WithSteps(steps), WithReleaseDate(date))
	require.NoError(t, err)
	require.Len(t, images, 1)
	img := images[0]
	assert.Equal(t, model.LayoutArchive, img.Layout)
	assert.Equal(t, "/work/out/1", img.Path)
	assert.Equal(t, "Custom", img.Name)

	require.Len(t, step.reqs, 3)
	assert.Equal(t, []Phase{PhaseDeviceTree, PhaseSplash, PhaseKernel}, []Phase{step.reqs[0].Phase, step.reqs[1].Phase, step.reqs[2].Phase})
	assert.Equal(t, "/work/custom.dts", step.reqs[0].Params["custom"])
	assert.Equal(t, "/work/splash.png", step.reqs[1].Params["splash-screen"])
	assert.Equal(t, "quiet", step.reqs[2].Params["arguments"])
	assert.Equal(t, "/area/splash", step.reqs[1].Output)
	assert.Equal(t, "/area", step.reqs[1].Storage)

	id, err := h.Repo().Resolve(ctx, "custom")
	require.NoError(t, err)
	assert.Equal(t, img.Commit, id)
	commit, err := h.Repo().ReadCommit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "custom build", commit.Subject)
	tree, err := h.Repo().ReadTree(ctx, id)
	require.NoError(t, err)
	for _, p := range []string{"usr/etc/hostname", "usr/etc/motd", "usr/share/tcb/dt", "usr/share/tcb/splash", "usr/share/tcb/kernel"} {
		assert.True(t, tree.Has(p), p)
	}

	cfg, err := tezi.Load(fs, "/work/out/1/image.json")
	require.NoError(t, err)
	assert.Equal(t, "Custom", cfg.Name())
	assert.Equal(t, "2023-10-02", cfg.ReleaseDate())

	again, err := Run(ctx, h, parse(t, map[string]string{"N": "2"}), WithSteps(steps), WithReleaseDate(date))
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, img.Commit, again[0].Commit, "the same inputs give the same commit")
	assert.Equal(t, "/work/out/2", again[0].Path)
}

func TestRunMissingStep(t *testing.T) {
	fs, h := workspace(t)
	step := &fakeStep{fs: fs}

	_, err := Run(context.Background(), h, parse(t, map[string]string{"N": "1"}), WithSteps(map[Phase]Step{PhaseSplash: step}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStepUnavailable))
	assert.Equal(t, errors.KindPrecondition, errors.KindOf(err))
	assert.Empty(t, step.reqs, "nothing runs")
	_, err = h.Area().RequireBase()
	assert.Error(t, err, "the input was not unpacked")
}

func TestRunFailedStep(t *testing.T) {
	fs, h := workspace(t)
	step := &fakeStep{fs: fs, err: errors.New("dtc: syntax error")}
	steps := map[Phase]Step{PhaseDeviceTree: step, PhaseSplash: step, PhaseKernel: step}

	_, err := Run(context.Background(), h, parse(t, map[string]string{"N": "1"}), WithSteps(steps))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStep))
	assert.Contains(t, err.Error(), "dtc: syntax error")
	require.Len(t, step.reqs, 1, "the build stops at the first failure")
	exists, err := afero.Exists(fs, "/work/out/1")
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = h.Repo().Resolve(context.Background(), "custom")
	assert.Error(t, err, "no branch is created")
}

func TestStepEnv(t *testing.T) {
	env := stepEnv(StepRequest{
		Phase:   PhaseKernel,
		Output:  "/area/kernel",
		Storage: "/area",
		Base:    "abc",
		Params:  map[string]string{"source-dirs": "a\nb", "arguments": "quiet"},
	})
	assert.Equal(t, []string{
		"TCB_PHASE=kernel",
		"TCB_OUTPUT=/area/kernel",
		"TCB_STORAGE=/area",
		"TCB_BASE=abc",
		"TCB_ARGUMENTS=quiet",
		"TCB_SOURCE_DIRS=a\nb",
	}, env)
}

func TestCommandStepWithoutCommand(t *testing.T) {
	err := (&CommandStep{}).Run(context.Background(), StepRequest{Phase: PhaseSplash})
	assert.True(t, errors.Is(err, ErrStepUnavailable))
}

func TestWriteTemplate(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, WriteTemplate(fs, "/tcbuild.yaml"))
	b, err := afero.ReadFile(fs, "/tcbuild.yaml")
	require.NoError(t, err)
	assert.Equal(t, Template, string(b))
	assert.Error(t, WriteTemplate(fs, "/tcbuild.yaml"), "an existing manifest is kept")
}
