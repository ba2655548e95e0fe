package image

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/oneconcern/tcbuilder/pkg/image/blockimg"
	"github.com/oneconcern/tcbuilder/pkg/image/tezi"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/oneconcern/tcbuilder/pkg/storage"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultBlockName of a block image written into a directory
const DefaultBlockName = "tcb_common_torizon_os.wic"

// block writes a copy of the template block image, with the root filesystem partition rebuilt from the commit
func (m *materializer) block(ctx context.Context) (*model.Image, error) {
	fs := m.fs
	template := m.o.template
	if template == "" {
		template = m.st.Template
	}
	if template == "" {
		return nil, ErrNoTemplate.WrapMessage("please give a base image")
	}
	if isDir, err := afero.IsDir(fs, m.output); err == nil && isDir {
		m.output = filepath.Join(m.output, DefaultBlockName)
	}
	if err := mustNotExist(fs, m.output); err != nil {
		return nil, err
	}
	if err := removeStale(fs, m.output, m.l); err != nil {
		return nil, err
	}
	label := m.o.label
	if label == "" {
		label = m.st.Label
	}
	if label == "" {
		label = tezi.RootfsLabel
	}

	src, err := fs.Open(template)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	fi, err := src.Stat()
	if err != nil {
		return nil, err
	}
	part, err := blockimg.FindLabel(src, fi.Size(), label)
	if err != nil {
		return nil, err
	}
	m.l.Info("root filesystem partition", zap.String("template", template), zap.String("partition", part.String()))

	work := partialName(m.output)
	published := false
	defer func() {
		if !published {
			if err := fs.Remove(work); err != nil && !os.IsNotExist(err) {
				m.l.Warn("could not remove partial output", zap.String("file", work), zap.Error(err))
			}
		}
	}()
	if err := fs.MkdirAll(filepath.Dir(m.output), 0755); err != nil {
		return nil, err
	}
	if err := copyFile(fs, template, work); err != nil {
		return nil, err
	}
	if err := m.t.advance(TemplateLoaded); err != nil {
		return nil, err
	}

	scratch, cleanup, err := m.h.TempDir("mkfs")
	if err != nil {
		return nil, err
	}
	defer cleanup()
	built, err := m.buildFilesystem(ctx, FilesystemSpec{Label: label, FSType: part.FSType, Size: part.Size}, scratch)
	if err != nil {
		return nil, err
	}
	defer built.Close()
	if err := m.t.advance(TreeExported); err != nil {
		return nil, err
	}

	dst, err := fs.OpenFile(work, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	err = blockimg.WritePartition(dst, part, built, built.Size)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := fs.Rename(work, m.output); err != nil {
		return nil, err
	}
	published = true
	if err := m.t.advance(Finalized); err != nil {
		return nil, err
	}
	img := m.describe(model.LayoutBlock)
	img.Label = label
	return img, nil
}

// buildFilesystem streams the system root to the filesystem builder
func (m *materializer) buildFilesystem(ctx context.Context, spec FilesystemSpec, scratch string) (*Filesystem, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := m.export(ctx, pw, "rootfs.tar")
		_ = pw.CloseWithError(err)
		done <- err
	}()
	built, err := m.o.builder.Build(ctx, spec, pr, scratch)
	_ = pr.CloseWithError(io.ErrClosedPipe)
	if exportErr := <-done; exportErr != nil && err == nil {
		err = exportErr
	}
	if err != nil {
		if built != nil {
			_ = built.Close()
		}
		return nil, err
	}
	m.l.Info("root filesystem built", zap.String("label", spec.Label), zap.Int64("size", built.Size))
	return built, nil
}

// FilesystemSpec describes the filesystem to build for a partition
type FilesystemSpec struct {
	Label  string
	FSType string
	// Size of the partition in bytes
	Size int64
}

// Filesystem is a built filesystem image of Size bytes
type Filesystem struct {
	io.ReadCloser
	Size int64
}

// FilesystemBuilder makes a filesystem image from a tar stream.
//
// The builder may use scratch for its files: the result is consumed before scratch is removed.
type FilesystemBuilder interface {
	Build(ctx context.Context, spec FilesystemSpec, rootfs io.Reader, scratch string) (*Filesystem, error)
}

func copyStream(fs afero.Fs, name string, r io.Reader) error {
	f, err := fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := storage.PipeIO(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
