package image

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/oneconcern/tcbuilder/pkg/compress"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/oneconcern/tcbuilder/pkg/ostree"
	"github.com/oneconcern/tcbuilder/pkg/repo"
	"github.com/oneconcern/tcbuilder/pkg/storage"
	"github.com/oneconcern/tcbuilder/pkg/storagearea"
	"github.com/segmentio/ksuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const partialMark = ".partial"

type materializer struct {
	h      *storagearea.Handle
	fs     afero.Fs
	st     *model.AreaState
	id     model.CommitID
	commit *model.Commit
	deploy repo.DeployOptions
	output string
	o      options
	t      *tracker
	l      *zap.Logger
}

// Materialize produces an image of a commit, given by id or branch name, at output.
//
// The template is the image unpacked in the storage area. Archive images are written as a
// directory, block images as a single file; a directory output of a block image gets the
// default image name. An existing output is never replaced.
func Materialize(ctx context.Context, h *storagearea.Handle, ref, output string, opts ...Option) (*model.Image, error) {
	o := newOptions(opts)
	if output == "" {
		return nil, ErrNoOutput
	}
	if err := h.Valid(); err != nil {
		return nil, err
	}
	a := h.Area()
	st, err := a.RequireBase()
	if err != nil {
		return nil, err
	}
	layout := o.layout
	if layout == "" {
		layout = st.Layout
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if layout != st.Layout {
		return nil, ErrLayoutMismatch.WrapMessage("a %s image was unpacked, a %s image was requested", st.Layout, layout)
	}

	r := h.Repo()
	id, err := r.Resolve(ctx, ref)
	if err != nil {
		return nil, ErrCommitNotFound.WrapMessage("%s", ref).Wrap(err)
	}
	commit, err := r.ReadCommit(ctx, id)
	if err != nil {
		return nil, ErrCommitNotFound.WrapMessage("%s", ref).Wrap(err)
	}
	logger := o.l.With(zap.String("commit", id.Short()), zap.String("layout", string(layout)))
	if err := r.Verify(ctx, id); err != nil {
		return nil, ErrMaterialize.WrapWithLog(logger, err)
	}
	sysroot, err := a.Sysroot()
	if err != nil {
		return nil, ErrMaterialize.WrapWithLog(logger, err)
	}
	kargs := commit.Metadata[ostree.MetadataKargs]
	if kargs == "" {
		kargs = st.Kargs
	}
	m := &materializer{
		h:      h,
		fs:     a.Fs(),
		st:     st,
		id:     id,
		commit: commit,
		deploy: repo.DeployOptions{Source: sysroot, OS: st.OS, Kargs: kargs},
		output: filepath.Clean(output),
		o:      o,
		t:      &tracker{observe: o.observe, l: logger},
		l:      logger,
	}

	var img *model.Image
	if layout == model.LayoutBlock {
		img, err = m.block(ctx)
	} else {
		img, err = m.archive(ctx)
	}
	if err != nil {
		return nil, ErrMaterialize.WrapWithLog(logger, err)
	}
	logger.Info("image created", zap.String("path", img.Path))
	return img, nil
}

// export writes the system root deploying the commit, compressed after the extension of name,
// and returns the uncompressed size of the tarball.
func (m *materializer) export(ctx context.Context, w io.Writer, name string) (int64, error) {
	codec, err := compress.ForName(name)
	if err != nil {
		return 0, err
	}
	cw, err := compress.NewWriter(codec, &ctxWriter{ctx: ctx, w: w})
	if err != nil {
		return 0, err
	}
	counter := &countingWriter{w: cw}
	err = m.h.Repo().Deploy(ctx, m.id, m.deploy, counter)
	if cerr := cw.Close(); err == nil {
		err = cerr
	}
	return counter.n, err
}

func (m *materializer) exportFile(ctx context.Context, name string) (int64, error) {
	f, err := m.fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(f)
	n, err := m.export(ctx, bw, name)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func (m *materializer) describe(layout model.Layout) *model.Image {
	return &model.Image{
		Layout:    layout,
		Path:      m.output,
		Commit:    m.id,
		Name:      m.st.ImageName,
		Version:   m.commit.ImageVersion(),
		CreatedAt: time.Now().UTC(),
	}
}

// ctxWriter stops writing once its context is done
type ctxWriter struct {
	ctx context.Context
	w   io.Writer
}

func (c *ctxWriter) Write(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.w.Write(p)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// partialName is a scratch name next to a destination
func partialName(dest string) string {
	return filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+"-"+ksuid.New().String()+partialMark)
}

// removeStale removes the partial outputs an interrupted run left next to a destination
func removeStale(fs afero.Fs, dest string, l *zap.Logger) error {
	stale, err := afero.Glob(fs, filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+"-*"+partialMark))
	if err != nil {
		return err
	}
	for _, name := range stale {
		if err := fs.RemoveAll(name); err != nil {
			return err
		}
		l.Info("removed stale partial output", zap.String("path", name))
	}
	return nil
}

func mustNotExist(fs afero.Fs, name string) error {
	if _, err := fs.Stat(name); err == nil {
		return ErrOutputExists.WrapMessage("%s", name)
	} else if !os.IsNotExist(err) {
		return err
	}
	return nil
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := storage.PipeIO(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// copyDir copies the regular files and directories of src into dst
func copyDir(ctx context.Context, fs afero.Fs, src, dst string) error {
	return afero.Walk(fs, src, func(name string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, name)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case fi.IsDir():
			return fs.MkdirAll(target, fi.Mode().Perm()|0700)
		case fi.Mode().IsRegular():
			return copyFile(fs, name, target)
		default:
			return nil
		}
	})
}
