package repo

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/oneconcern/tcbuilder/pkg/ostree"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultSubject of commits created without one. OSTree requires a subject.
const DefaultSubject = "Commit created by tcbuilder"

var _ Store = &OSTreeStore{}

// OSTreeStore keeps commits in an OSTree archive repository, through the ostree command line.
//
// Commit IDs are OSTree checksums and branches are OSTree refs, so that the repository can be
// served as is to devices pulling updates.
type OSTreeStore struct {
	repo    *ostree.Repo
	run     ostree.Runner
	fs      afero.Fs
	scratch string
	l       *zap.Logger

	mu    sync.Mutex
	spool string
}

// NewOSTree store for the repository at path, created on the first write
func NewOSTree(path string, run ostree.Runner, opts ...Option) *OSTreeStore {
	c := newConfig(opts)
	return &OSTreeStore{
		repo:    ostree.NewRepo(path, run),
		run:     run,
		fs:      afero.NewOsFs(),
		scratch: c.scratch,
		l:       c.l,
	}
}

// Path of the repository
func (s *OSTreeStore) Path() string {
	return s.repo.Path()
}

func (s *OSTreeStore) initialized() bool {
	ok, _ := afero.Exists(s.fs, filepath.Join(s.repo.Path(), "config"))
	return ok
}

func (s *OSTreeStore) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized() {
		return nil
	}
	if err := s.fs.MkdirAll(s.repo.Path(), 0755); err != nil {
		return err
	}
	if err := s.repo.Init(ctx); err != nil {
		return err
	}
	s.l.Debug("repository created", zap.String("path", s.repo.Path()))
	return nil
}

// missing tells if ostree failed on an unknown object or ref
func missing(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "No such metadata object") || strings.Contains(msg, "not found")
}

func (s *OSTreeStore) ReadCommit(ctx context.Context, id model.CommitID) (*model.Commit, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if !s.initialized() {
		return nil, ErrCommitNotFound.WrapMessage("%s", id)
	}
	info, err := s.repo.Show(ctx, string(id))
	if err != nil {
		if missing(err) {
			return nil, ErrCommitNotFound.WrapMessage("%s", id)
		}
		return nil, err
	}
	raw, err := s.repo.Metadata(ctx, string(id), ostree.CarriedMetadata...)
	if err != nil {
		return nil, err
	}
	metadata := make(map[string]string, len(raw))
	for k, text := range raw {
		v, ok := ostree.UnquoteString(text)
		if !ok {
			s.l.Debug("metadata value is not a string", zap.String("key", k), zap.Stringer("commit", id))
			continue
		}
		metadata[k] = v
	}
	if info.Version != "" {
		metadata[model.MetadataVersion] = info.Version
	}
	if len(metadata) == 0 {
		metadata = nil
	}
	return &model.Commit{
		ID:        id,
		Version:   model.CurrentCommitVersion,
		Parent:    model.CommitID(info.Parent),
		Subject:   info.Subject,
		Body:      info.Body,
		Timestamp: info.Date,
		Metadata:  metadata,
	}, nil
}

// ReadTree exports the tree of a commit. File contents are spooled to scratch files,
// removed by Close.
func (s *OSTreeStore) ReadTree(ctx context.Context, id model.CommitID) (*fstree.Tree, error) {
	if _, err := s.ReadCommit(ctx, id); err != nil {
		return nil, err
	}
	spool, err := s.spoolDir()
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	errc := make(chan error, 1)
	go func() {
		err := s.repo.Export(ctx, string(id), pw)
		_ = pw.CloseWithError(err)
		errc <- err
	}()
	tree, err := fstree.FromTar(pr, fstree.WithSpool(s.fileSpool(spool)))
	if err == nil {
		_, _ = io.Copy(ioutil.Discard, pr)
	}
	_ = pr.CloseWithError(io.ErrClosedPipe)
	if exportErr := <-errc; exportErr != nil {
		return nil, exportErr
	}
	if err != nil {
		return nil, ErrCorruptObject.WrapMessage("tree of %s", id).Wrap(err)
	}
	return tree, nil
}

func (s *OSTreeStore) spoolDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spool != "" {
		return s.spool, nil
	}
	if err := s.fs.MkdirAll(s.scratch, 0755); err != nil {
		return "", err
	}
	dir, err := afero.TempDir(s.fs, s.scratch, ".spool-")
	if err != nil {
		return "", err
	}
	s.spool = dir
	return dir, nil
}

func (s *OSTreeStore) fileSpool(dir string) fstree.SpoolFunc {
	return func(_ *tar.Header, r io.Reader) (fstree.Content, string, error) {
		f, err := afero.TempFile(s.fs, dir, "content-")
		if err != nil {
			return nil, "", err
		}
		name := f.Name()
		digest, _, err := fstree.DigestReader(io.TeeReader(r, f))
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, "", err
		}
		return fstree.ContentFunc(func() (io.ReadCloser, error) {
			return s.fs.Open(name)
		}), digest, nil
	}
}

// CreateCommit commits a tarball of the tree. The metadata of the parent which the commit
// does not set, whatever their type, is kept as is.
func (s *OSTreeStore) CreateCommit(ctx context.Context, tree *fstree.Tree, c model.Commit) (model.CommitID, error) {
	if err := s.ensure(ctx); err != nil {
		return "", err
	}
	var keep []string
	if !c.Parent.IsZero() {
		if _, err := s.ReadCommit(ctx, c.Parent); err != nil {
			return "", err
		}
		present, err := s.repo.Metadata(ctx, string(c.Parent), ostree.CarriedMetadata...)
		if err != nil {
			return "", err
		}
		for _, k := range ostree.CarriedMetadata {
			_, inParent := present[k]
			_, set := c.Metadata[k]
			if inParent && !set {
				keep = append(keep, k)
			}
		}
	}

	start := time.Now()
	tarball, err := s.writeTarball(tree, c.Timestamp)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := s.fs.Remove(tarball); err != nil {
			s.l.Warn("could not remove commit tarball", zap.String("file", tarball), zap.Error(err))
		}
	}()
	subject := c.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	csum, err := s.repo.Commit(ctx, ostree.CommitOptions{
		Tarball:   tarball,
		Parent:    string(c.Parent),
		Subject:   subject,
		Body:      c.Body,
		Timestamp: c.Timestamp,
		Metadata:  c.Metadata,
		Keep:      keep,
	})
	if err != nil {
		return "", err
	}
	id := model.CommitID(csum)
	if err := id.Validate(); err != nil {
		return "", ostree.ErrMalformedOutput.WrapMessage("commit").Wrap(err)
	}
	s.l.Info("created commit",
		zap.Stringer("commit", id),
		zap.Stringer("parent", c.Parent),
		zap.Int("entries", tree.Len()),
		zap.Duration("took", time.Since(start)),
	)
	return id, nil
}

func (s *OSTreeStore) writeTarball(tree *fstree.Tree, modTime time.Time) (string, error) {
	if err := s.fs.MkdirAll(s.scratch, 0755); err != nil {
		return "", err
	}
	f, err := afero.TempFile(s.fs, s.scratch, ".commit-*.tar")
	if err != nil {
		return "", err
	}
	bw := bufio.NewWriter(f)
	_, err = fstree.WriteTar(bw, tree, fstree.WithModTime(modTime))
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Resolve a ref, a full checksum or a unique checksum prefix
func (s *OSTreeStore) Resolve(ctx context.Context, ref string) (model.CommitID, error) {
	if ref == "" {
		return "", ErrRefNotFound.WrapMessage("empty reference")
	}
	if !s.initialized() {
		return "", ErrRefNotFound.WrapMessage("%s", ref)
	}
	csum, err := s.repo.RevParse(ctx, ref)
	if err != nil {
		if strings.Contains(err.Error(), "ambiguous") {
			return "", ErrAmbiguousRef.WrapMessage("%s", ref).Wrap(err)
		}
		return "", ErrRefNotFound.WrapMessage("%s", ref).Wrap(err)
	}
	id := model.CommitID(csum)
	if err := id.Validate(); err != nil {
		return "", ostree.ErrMalformedOutput.WrapMessage("rev-parse %s", ref).Wrap(err)
	}
	if ref == csum {
		// full checksums are returned as they are, present or not
		if _, err := s.ReadCommit(ctx, id); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (s *OSTreeStore) ListBranches(ctx context.Context) ([]model.Branch, error) {
	if !s.initialized() {
		return nil, nil
	}
	refs, err := s.repo.Refs(ctx)
	if err != nil {
		return nil, err
	}
	var branches []model.Branch
	for _, ref := range refs {
		if strings.Contains(ref, ":") {
			continue
		}
		csum, err := s.repo.RevParse(ctx, ref)
		if err != nil {
			return nil, err
		}
		branches = append(branches, model.Branch{Name: ref, Commit: model.CommitID(csum)})
	}
	return branches, nil
}

func (s *OSTreeStore) AdvanceBranch(ctx context.Context, name string, id model.CommitID) error {
	if err := model.ValidateBranchName(name); err != nil {
		return err
	}
	if _, err := s.ReadCommit(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SetRef(ctx, name, string(id)); err != nil {
		return err
	}
	s.l.Info("advanced branch", zap.String("branch", name), zap.Stringer("commit", id))
	return nil
}

// Verify runs ostree fsck over the repository holding the commit
func (s *OSTreeStore) Verify(ctx context.Context, id model.CommitID) error {
	if _, err := s.ReadCommit(ctx, id); err != nil {
		return err
	}
	start := time.Now()
	if err := s.repo.Fsck(ctx); err != nil {
		return err
	}
	s.l.Debug("repository verified", zap.Stringer("commit", id), zap.Duration("took", time.Since(start)))
	return nil
}

// Import pulls the deployed commit from the repository of the system root
func (s *OSTreeStore) Import(ctx context.Context, src Sysroot, _ model.Commit) (model.CommitID, error) {
	if err := s.ensure(ctx); err != nil {
		return "", err
	}
	d := src.Deployment
	if err := s.repo.PullLocal(ctx, joinSlash(src.Dir, ostree.RepoDir), d.Checksum, d.OS); err != nil {
		return "", err
	}
	id := model.CommitID(d.Checksum)
	s.l.Info("imported deployed commit", zap.Stringer("commit", id), zap.String("os", d.OS))
	return id, nil
}

// Deploy builds a system root with ostree admin and writes it to w.
//
// Like U-Boot devices, the system root gets its boot loader configuration in boot/loader.1
// with an empty uEnv.txt.
func (s *OSTreeStore) Deploy(ctx context.Context, id model.CommitID, o DeployOptions, w io.Writer) error {
	if _, err := s.ReadCommit(ctx, id); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.scratch, 0755); err != nil {
		return err
	}
	dir, err := afero.TempDir(s.fs, s.scratch, ".deploy-")
	if err != nil {
		return err
	}
	defer func() {
		if err := s.fs.RemoveAll(dir); err != nil {
			s.l.Warn("could not remove system root", zap.String("dir", dir), zap.Error(err))
		}
	}()

	osName := o.osName()
	sys := ostree.NewSysroot(dir, s.run)
	if err := sys.Init(ctx, osName); err != nil {
		return err
	}
	if err := sys.PrepareUBoot(s.fs); err != nil {
		return err
	}
	if err := sys.Repo().PullLocal(ctx, s.repo.Path(), string(id), osName); err != nil {
		return err
	}
	if err := sys.Deploy(ctx, osName, string(id), o.Kargs); err != nil {
		return err
	}
	if o.Source.Dir != "" {
		if err := sys.CopyUnmanaged(ctx, s.fs, o.Source.Dir, osName); err != nil {
			return err
		}
	}
	s.l.Info("system root deployed", zap.Stringer("commit", id), zap.String("os", osName), zap.String("kargs", o.Kargs))
	return ostree.Pack(ctx, s.run, dir, w)
}

// Handler serves the repository over HTTP, the way devices pull from an archive repository
func (s *OSTreeStore) Handler() http.Handler {
	return http.FileServer(afero.NewHttpFs(s.fs).Dir(s.repo.Path()))
}

// Close removes the spooled contents of the trees read so far
func (s *OSTreeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spool == "" {
		return nil
	}
	err := s.fs.RemoveAll(s.spool)
	s.spool = ""
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
