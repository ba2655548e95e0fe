package image

import (
	"context"
	"os"
	"path/filepath"

	"github.com/oneconcern/tcbuilder/pkg/compress"
	"github.com/oneconcern/tcbuilder/pkg/image/tezi"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/oneconcern/tcbuilder/pkg/storagearea"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// archive writes an installer directory: the template with the exported tree and a rewritten configuration
func (m *materializer) archive(ctx context.Context) (*model.Image, error) {
	fs := m.fs
	if err := mustNotExist(fs, m.output); err != nil {
		return nil, err
	}
	if err := removeStale(fs, m.output, m.l); err != nil {
		return nil, err
	}
	if m.o.bundle != "" {
		if err := checkBundle(fs, m.o.bundle); err != nil {
			return nil, err
		}
	}
	template := m.h.Area().Path(storagearea.ImageDir)
	cfgName := filepath.Join(template, m.st.Template)
	cfg, err := tezi.Load(fs, cfgName)
	if err != nil {
		return nil, err
	}
	rootfsName, err := cfg.RootfsFilename()
	if err != nil {
		return nil, err
	}

	work := partialName(m.output)
	published := false
	defer func() {
		if !published {
			if err := fs.RemoveAll(work); err != nil {
				m.l.Warn("could not remove partial output", zap.String("dir", work), zap.Error(err))
			}
		}
	}()
	if err := fs.MkdirAll(filepath.Dir(m.output), 0755); err != nil {
		return nil, err
	}
	if err := copyDir(ctx, fs, template, work); err != nil {
		return nil, err
	}
	if err := m.t.advance(TemplateLoaded); err != nil {
		return nil, err
	}

	n, err := m.exportFile(ctx, filepath.Join(work, filepath.FromSlash(rootfsName)))
	if err != nil {
		return nil, err
	}
	if err := cfg.SetUncompressedSize(n); err != nil {
		return nil, err
	}
	m.l.Info("root filesystem exported", zap.String("tarball", rootfsName), zap.String("kargs", m.deploy.Kargs), zap.Int64("size", n))
	if err := m.t.advance(TreeExported); err != nil {
		return nil, err
	}

	if err := rewrite(fs, cfg, work, m.o); err != nil {
		return nil, err
	}
	if err := cfg.Save(fs, filepath.Join(work, filepath.Base(cfgName))); err != nil {
		return nil, err
	}
	if err := m.t.advance(MetadataRewritten); err != nil {
		return nil, err
	}

	if m.o.bundle != "" {
		if err := copyBundle(fs, m.o.bundle, work); err != nil {
			return nil, err
		}
		if err := m.t.advance(ContainerBundleMerged); err != nil {
			return nil, err
		}
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

	img := m.describe(model.LayoutArchive)
	img.Name = cfg.Name()
	img.Version = cfg.Version()
	img.Description = cfg.Description()
	img.ReleaseDate = cfg.ReleaseDate()
	img.UncompressedSize = cfg.UncompressedSize()
	img.Containers = m.o.bundle != ""
	return img, nil
}

// rewrite applies the options to the configuration of the image directory dir, copying the
// referenced documents into it
func rewrite(fs afero.Fs, cfg *tezi.Config, dir string, o options) error {
	r := tezi.Rewrite{
		Name:          o.name,
		Description:   o.description,
		ReleaseDate:   o.releaseDate,
		AutoInstall:   o.autoInstall,
		AcceptLicence: o.acceptLicence,
	}
	for _, doc := range []struct {
		src  string
		dest *string
	}{
		{o.licence, &r.Licence},
		{o.releaseNotes, &r.ReleaseNotes},
	} {
		if doc.src == "" {
			continue
		}
		base := filepath.Base(doc.src)
		if err := copyFile(fs, doc.src, filepath.Join(dir, base)); err != nil {
			return err
		}
		*doc.dest = base
	}
	if o.bundle != "" {
		r.Containers = tezi.ContainerFiles
		r.ContainerSize = bundleSize(fs, o.bundle)
	}
	if err := cfg.Apply(r); err != nil {
		return err
	}
	if o.autoReboot {
		return cfg.SetAutoReboot(fs, dir)
	}
	return nil
}

// uncompressedSize is replaced in tests, so that no external decompressor is needed
var uncompressedSize = compress.UncompressedSize

// bundleSize is the installed size of a bundle file: unpacked entries take their decompressed size
func bundleSize(fs afero.Fs, dir string) tezi.SizeFunc {
	return func(e tezi.FileEntry) (int64, error) {
		name := filepath.Join(dir, filepath.FromSlash(e.Source))
		if !e.Unpacked() {
			fi, err := fs.Stat(name)
			if err != nil {
				return 0, err
			}
			return fi.Size(), nil
		}
		codec, err := compress.ForName(name)
		if err != nil {
			return 0, err
		}
		f, err := fs.Open(name)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		return uncompressedSize(codec, f)
	}
}

func checkBundle(fs afero.Fs, dir string) error {
	var missing []string
	for _, e := range tezi.ContainerFiles {
		fi, err := fs.Stat(filepath.Join(dir, filepath.FromSlash(e.Source)))
		switch {
		case os.IsNotExist(err):
			missing = append(missing, e.Source)
		case err != nil:
			return err
		case !fi.Mode().IsRegular():
			missing = append(missing, e.Source)
		}
	}
	if len(missing) > 0 {
		return ErrBundleIncomplete.WrapMessage("%s: missing %v", dir, missing)
	}
	return nil
}

func copyBundle(fs afero.Fs, bundle, dir string) error {
	for _, e := range tezi.ContainerFiles {
		if err := copyFile(fs, filepath.Join(bundle, filepath.FromSlash(e.Source)), filepath.Join(dir, filepath.FromSlash(e.Source))); err != nil {
			return err
		}
	}
	return nil
}
