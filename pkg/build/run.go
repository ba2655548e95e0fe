package build

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/oneconcern/tcbuilder/pkg/changeset"
	"github.com/oneconcern/tcbuilder/pkg/fetch"
	"github.com/oneconcern/tcbuilder/pkg/image"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/oneconcern/tcbuilder/pkg/storagearea"
	"github.com/oneconcern/tcbuilder/pkg/union"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultBranch receives the commit of a build when the manifest names none
const DefaultBranch = "tcbuilder"

type runOptions struct {
	steps       map[Phase]Step
	fetcher     *fetch.Fetcher
	downloads   string
	builder     image.FilesystemBuilder
	releaseDate time.Time
	l           *zap.Logger
}

// RunOption tunes Run
type RunOption func(*runOptions)

// WithSteps sets the executors of the customization phases
func WithSteps(steps map[Phase]Step) RunOption {
	return func(o *runOptions) {
		o.steps = steps
	}
}

// WithFetcher downloads remote input images
func WithFetcher(f *fetch.Fetcher) RunOption {
	return func(o *runOptions) {
		o.fetcher = f
	}
}

// WithDownloadDir is where input images are downloaded. It must lie outside of the storage
// area, which is cleared when the input is unpacked.
func WithDownloadDir(dir string) RunOption {
	return func(o *runOptions) {
		o.downloads = dir
	}
}

// WithFilesystemBuilder builds the root filesystem of raw image outputs
func WithFilesystemBuilder(b image.FilesystemBuilder) RunOption {
	return func(o *runOptions) {
		o.builder = b
	}
}

// WithReleaseDate of installer outputs
func WithReleaseDate(t time.Time) RunOption {
	return func(o *runOptions) {
		o.releaseDate = t
	}
}

// WithLogger for the build
func WithLogger(l *zap.Logger) RunOption {
	return func(o *runOptions) {
		if l != nil {
			o.l = l
		}
	}
}

type runner struct {
	h    *storagearea.Handle
	a    *storagearea.Area
	fs   afero.Fs
	m    *Manifest
	o    runOptions
	base model.CommitID
	l    *zap.Logger
}

// Run builds the images a manifest asks for.
//
// The input image replaces whatever the storage area holds. Customizations are composed
// onto its base commit, on the branch of output.ostree, then every output is materialized
// from the resulting commit.
func Run(ctx context.Context, h *storagearea.Handle, m *Manifest, opts ...RunOption) ([]model.Image, error) {
	if err := h.Valid(); err != nil {
		return nil, err
	}
	a := h.Area()
	o := runOptions{
		l:         zap.NewNop(),
		downloads: filepath.Join(os.TempDir(), "tcbuilder-downloads"),
	}
	for _, apply := range opts {
		apply(&o)
	}
	if o.fetcher == nil {
		o.fetcher = fetch.New(fetch.WithFs(a.Fs()), fetch.WithLogger(o.l))
	}
	r := &runner{h: h, a: a, fs: a.Fs(), m: m, o: o, l: o.l.With(zap.String("manifest", m.File))}

	reqs := m.phases()
	if err := r.checkSteps(reqs); err != nil {
		return nil, err
	}
	if err := r.unpack(ctx); err != nil {
		return nil, err
	}
	id, err := r.customize(ctx, reqs)
	if err != nil {
		return nil, err
	}
	return r.outputs(ctx, id)
}

// checkSteps fails before anything runs when a phase has no executor
func (r *runner) checkSteps(reqs []StepRequest) error {
	phases := make([]Phase, 0, len(reqs)+1)
	for _, req := range reqs {
		phases = append(phases, req.Phase)
	}
	if out := r.m.Output.EasyInstaller; out != nil && out.Bundle != nil && out.Bundle.ComposeFile != "" {
		phases = append(phases, PhaseBundle)
	}
	for _, p := range phases {
		if r.o.steps[p] == nil {
			return ErrStepUnavailable.WrapMessage("%s, please configure steps.%s.command", p, p)
		}
	}
	return nil
}

func (r *runner) unpack(ctx context.Context) error {
	source, remote := r.m.inputSource()
	if remote {
		name, err := r.o.fetcher.Fetch(ctx, source, r.o.downloads)
		if err != nil {
			return err
		}
		source = name
	}
	var label string
	if out := r.m.Output.RawImage; out != nil {
		label = out.RootfsLabel
	}
	st, err := storagearea.Unpack(ctx, r.h, source, storagearea.UnpackOptions{Label: label, Replace: true})
	if err != nil {
		return err
	}
	r.base = st.Base
	r.l.Info("input unpacked", zap.String("image", st.ImageName), zap.String("version", st.ImageVersion), zap.String("base", st.Base.Short()))
	return nil
}

// customize runs the phases, then composes their change sets with the filesystem ones
func (r *runner) customize(ctx context.Context, reqs []StepRequest) (model.CommitID, error) {
	dirs := make([]string, 0, len(reqs)+len(r.m.Customization.Filesystem))
	for _, req := range reqs {
		dir := r.a.Path(string(req.Phase))
		if err := r.fresh(dir); err != nil {
			return "", err
		}
		req.Output, req.Storage, req.Base = dir, r.a.Dir(), string(r.base)
		if err := r.step(ctx, req); err != nil {
			return "", err
		}
		dirs = append(dirs, dir)
	}
	for _, dir := range r.m.Customization.Filesystem {
		dirs = append(dirs, r.m.Path(dir))
	}

	sets, err := union.LoadAll(r.fs, dirs, changeset.WithLogger(r.l))
	if err != nil {
		return "", ErrBuild.WrapWithLog(r.l, err)
	}
	copts := []union.Option{union.WithBranch(DefaultBranch), union.WithLogger(r.l)}
	if o := r.m.Output.OSTree; o != nil {
		if o.Branch != "" {
			copts = append(copts, union.WithBranch(o.Branch))
		}
		copts = append(copts, union.WithSubject(o.CommitSubject), union.WithBody(o.CommitBody))
	}
	return union.Compose(ctx, r.h, string(r.base), sets, copts...)
}

func (r *runner) step(ctx context.Context, req StepRequest) error {
	start := time.Now()
	if err := r.o.steps[req.Phase].Run(ctx, req); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrStep.WrapMessage("%s", req.Phase).WrapWithLog(r.l, err)
	}
	r.l.Info("customization done", zap.String("phase", string(req.Phase)), zap.Duration("took", time.Since(start)))
	return nil
}

func (r *runner) fresh(dir string) error {
	if err := r.fs.RemoveAll(dir); err != nil {
		return err
	}
	return r.fs.MkdirAll(dir, 0755)
}

func (r *runner) outputs(ctx context.Context, id model.CommitID) ([]model.Image, error) {
	var images []model.Image
	common := []image.Option{image.WithLogger(r.l)}
	if r.o.builder != nil {
		common = append(common, image.WithFilesystemBuilder(r.o.builder))
	}

	if out := r.m.Output.EasyInstaller; out != nil {
		opts := append(append([]image.Option{}, common...),
			image.WithLayout(model.LayoutArchive),
			image.WithName(out.Name),
			image.WithDescription(out.Description),
			image.WithLicence(r.m.Path(out.Licence)),
			image.WithReleaseNotes(r.m.Path(out.ReleaseNotes)),
			image.WithAcceptLicence(out.AcceptLicence),
			image.WithAutoInstall(out.AutoInstall),
			image.WithAutoReboot(out.AutoReboot),
		)
		if !r.o.releaseDate.IsZero() {
			opts = append(opts, image.WithReleaseDate(r.o.releaseDate))
		}
		bundle, cleanup, err := r.bundle(ctx, out.Bundle)
		if err != nil {
			return nil, err
		}
		if bundle != "" {
			opts = append(opts, image.WithBundle(bundle))
		}
		img, err := image.Materialize(ctx, r.h, string(id), r.m.Path(out.Local), opts...)
		cleanup()
		if err != nil {
			return nil, err
		}
		images = append(images, *img)
	}

	if out := r.m.Output.RawImage; out != nil {
		opts := append(append([]image.Option{}, common...),
			image.WithLayout(model.LayoutBlock),
			image.WithTemplate(r.m.Path(out.Base)),
			image.WithLabel(out.RootfsLabel),
		)
		img, err := image.Materialize(ctx, r.h, string(id), r.m.Path(out.Local), opts...)
		if err != nil {
			return nil, err
		}
		images = append(images, *img)
	}
	return images, nil
}

// bundle returns the directory of the container bundle, making it from a compose file when needed
func (r *runner) bundle(ctx context.Context, b *Bundle) (string, func(), error) {
	switch {
	case b == nil:
		return "", func() {}, nil
	case b.Dir != "":
		return r.m.Path(b.Dir), func() {}, nil
	}
	dir, cleanup, err := r.h.TempDir("bundle")
	if err != nil {
		return "", nil, err
	}
	req := StepRequest{
		Phase:   PhaseBundle,
		Output:  dir,
		Storage: r.a.Dir(),
		Base:    string(r.base),
		Params: map[string]string{
			"compose-file": r.m.Path(b.ComposeFile),
			"platform":     b.Platform,
		},
	}
	if err := r.step(ctx, req); err != nil {
		cleanup()
		return "", nil, err
	}
	return dir, cleanup, nil
}
