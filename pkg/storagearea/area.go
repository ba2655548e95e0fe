package storagearea

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/oneconcern/tcbuilder/pkg/ostree"
	"github.com/oneconcern/tcbuilder/pkg/repo"
	"github.com/oneconcern/tcbuilder/pkg/storage"
	"github.com/oneconcern/tcbuilder/pkg/storage/localfs"
	"github.com/segmentio/ksuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Names of the storage area entries
const (
	StateFile   = "state.yaml"
	ObjectsDir  = "objects"
	OSTreeDir   = "ostree"
	SysrootDir  = "sysroot"
	ImageDir    = "image"
	ChangesDir  = "changes"
	LockFile    = ".lock"
	partialMark = ".partial"
)

// Area is a storage area directory
type Area struct {
	dir         string
	fs          afero.Fs
	l           *zap.Logger
	concurrency int
	extractor   Extractor
	run         ostree.Runner
	repo        repo.Store
	newLocker   func() locker
}

// Option for a storage area
type Option func(*Area)

// WithFs sets the filesystem holding the area. Areas outside of the OS filesystem keep their
// commits in an object repository instead of OSTree, and lock within the process only.
func WithFs(fs afero.Fs) Option {
	return func(a *Area) {
		if fs != nil {
			a.fs = fs
		}
	}
}

// WithLogger for the area and its repository
func WithLogger(l *zap.Logger) Option {
	return func(a *Area) {
		if l != nil {
			a.l = l
		}
	}
}

// WithConcurrency bounds the concurrent object uploads of the repository
func WithConcurrency(n int) Option {
	return func(a *Area) {
		a.concurrency = n
	}
}

// WithExtractor sets the way filesystems are read from block images
func WithExtractor(e Extractor) Option {
	return func(a *Area) {
		if e != nil {
			a.extractor = e
		}
	}
}

// WithRunner sets the way ostree, tar and cp are run
func WithRunner(r ostree.Runner) Option {
	return func(a *Area) {
		if r != nil {
			a.run = r
		}
	}
}

// Open a storage area, creating the directory if needed
func Open(dir string, opts ...Option) (*Area, error) {
	a := &Area{
		dir: filepath.Clean(dir),
		fs:  afero.NewOsFs(),
		l:   zap.NewNop(),
	}
	for _, apply := range opts {
		apply(a)
	}
	if a.extractor == nil {
		a.extractor = &DebugfsExtractor{}
	}
	if a.run == nil {
		a.run = &ostree.ExecRunner{L: a.l}
	}
	if err := a.fs.MkdirAll(a.dir, 0755); err != nil {
		return nil, err
	}
	lockPath := a.Path(LockFile)
	if a.onOS() {
		a.newLocker = func() locker { return newFlockLocker(lockPath) }
	} else {
		a.newLocker = func() locker { return newMemLocker(lockPath) }
	}
	if err := a.initRepo(); err != nil {
		return nil, err
	}
	st, err := a.Status()
	if err != nil {
		return nil, err
	}
	if err := checkVersion(st.Version); err != nil {
		return nil, err
	}
	return a, nil
}

func checkVersion(v string) error {
	current := semver.MustParse(model.CurrentAreaVersion)
	found, err := semver.Parse(v)
	if err != nil {
		return ErrIncompatible.WrapMessage("version %q", v).Wrap(err)
	}
	if found.Major > current.Major {
		return ErrIncompatible.WrapMessage("version %s is newer than %s, please upgrade", found, current)
	}
	return nil
}

func (a *Area) onOS() bool {
	_, ok := a.fs.(*afero.OsFs)
	return ok
}

// initRepo sets up the commit repository. On the OS filesystem, it is an OSTree repository
// created on the first commit.
func (a *Area) initRepo() error {
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.l.Warn("could not close repository", zap.Error(err))
		}
	}
	if a.onOS() {
		a.repo = repo.NewOSTree(a.Path(OSTreeDir), a.run, repo.Logger(a.l), repo.Scratch(a.dir))
		return nil
	}
	objDir := a.Path(ObjectsDir)
	if err := a.fs.MkdirAll(objDir, 0755); err != nil {
		return err
	}
	objects, err := localfs.NewAtomic(afero.NewBasePathFs(a.fs, objDir))
	if err != nil {
		return err
	}
	objects = storage.Instrument(a.l, objects)
	a.repo = repo.New(objects, repo.NewStoreRefs(objects), repo.Logger(a.l), repo.Concurrency(a.concurrency))
	return nil
}

// Close releases the scratch files of the repository
func (a *Area) Close() error {
	return a.repo.Close()
}

// Sysroot is the system root unpacked from the base image
func (a *Area) Sysroot() (repo.Sysroot, error) {
	dir := a.Path(SysrootDir)
	d, err := ostree.FindDeployment(a.fs, dir)
	if err != nil {
		return repo.Sysroot{}, err
	}
	return repo.Sysroot{Fs: a.fs, Dir: dir, Deployment: d}, nil
}

// Dir of the area
func (a *Area) Dir() string {
	return a.dir
}

// Fs holding the area
func (a *Area) Fs() afero.Fs {
	return a.fs
}

// Path of an entry of the area
func (a *Area) Path(elem ...string) string {
	return filepath.Join(append([]string{a.dir}, elem...)...)
}

// Contains tells if a path lies within the area
func (a *Area) Contains(p string) bool {
	rel, err := filepath.Rel(a.dir, filepath.Clean(p))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Repo gives read access to the commit repository, without locking
func (a *Area) Repo() repo.Reader {
	return a.repo
}

// Logger of the area
func (a *Area) Logger() *zap.Logger {
	return a.l
}

// Status of the area. An area where nothing was unpacked yet has no base.
func (a *Area) Status() (*model.AreaState, error) {
	b, err := afero.ReadFile(a.fs, a.Path(StateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &model.AreaState{Version: model.CurrentAreaVersion}, nil
		}
		return nil, err
	}
	var st model.AreaState
	if err := yaml.Unmarshal(b, &st); err != nil {
		return nil, ErrCorruptState.WrapMessage("%s", a.Path(StateFile)).Wrap(err)
	}
	return &st, nil
}

// RequireBase returns the area state, failing when no base image is unpacked
func (a *Area) RequireBase() (*model.AreaState, error) {
	st, err := a.Status()
	if err != nil {
		return nil, err
	}
	if !st.HasBase() {
		return nil, ErrNoBase.WrapMessage("please unpack an image first")
	}
	return st, nil
}

// SaveState writes the area state atomically
func (h *Handle) SaveState(st *model.AreaState) error {
	if err := h.Valid(); err != nil {
		return err
	}
	a := h.area
	st.Version = model.CurrentAreaVersion
	b, err := yaml.Marshal(st)
	if err != nil {
		return err
	}
	tmp := a.Path(StateFile + "." + ksuid.New().String())
	if err := afero.WriteFile(a.fs, tmp, b, 0644); err != nil {
		return err
	}
	if err := a.fs.Rename(tmp, a.Path(StateFile)); err != nil {
		_ = a.fs.Remove(tmp)
		return err
	}
	return nil
}

// TempDir creates a scratch directory within the area, removed by the returned function
func (h *Handle) TempDir(prefix string) (string, func(), error) {
	if err := h.Valid(); err != nil {
		return "", nil, err
	}
	a := h.area
	dir := a.Path("." + prefix + "-" + ksuid.New().String() + partialMark)
	if err := a.fs.MkdirAll(dir, 0755); err != nil {
		return "", nil, err
	}
	return dir, func() {
		if err := a.fs.RemoveAll(dir); err != nil {
			a.l.Warn("could not remove scratch directory", zap.String("dir", dir), zap.Error(err))
		}
	}, nil
}

// Clear everything in the area but the lock
func (h *Handle) Clear(ctx context.Context) error {
	if err := h.Valid(); err != nil {
		return err
	}
	a := h.area
	start := time.Now()
	entries, err := afero.ReadDir(a.fs, a.dir)
	if err != nil {
		return err
	}
	for _, fi := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fi.Name() == LockFile {
			continue
		}
		if err := a.fs.RemoveAll(a.Path(fi.Name())); err != nil {
			return err
		}
	}
	a.l.Info("storage area cleared", zap.String("dir", a.dir), zap.Duration("took", time.Since(start)))
	return a.initRepo()
}
