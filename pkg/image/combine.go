package image

import (
	"context"
	"path/filepath"
	"time"

	"github.com/oneconcern/tcbuilder/pkg/image/tezi"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Combine adds a container bundle to an installer archive directory.
//
// Without output, or with the image directory itself, the image is updated in place: the
// combined image is still built aside and swapped in once complete. Otherwise output must not exist.
func Combine(ctx context.Context, fs afero.Fs, imageDir, bundleDir, output string, opts ...Option) (*model.Image, error) {
	o := newOptions(append(opts, WithBundle(bundleDir)))
	imageDir = filepath.Clean(imageDir)
	inPlace := output == "" || filepath.Clean(output) == imageDir
	if inPlace {
		output = imageDir
	}
	output = filepath.Clean(output)
	logger := o.l.With(zap.String("image", imageDir), zap.String("bundle", bundleDir), zap.String("output", output))
	t := &tracker{observe: o.observe, l: logger}

	img, err := combine(ctx, fs, imageDir, output, inPlace, o, t, logger)
	if err != nil {
		return nil, ErrMaterialize.WrapWithLog(logger, err)
	}
	logger.Info("container bundle combined")
	return img, nil
}

func combine(ctx context.Context, fs afero.Fs, imageDir, output string, inPlace bool, o options, t *tracker, l *zap.Logger) (*model.Image, error) {
	if o.bundle == "" {
		return nil, ErrBundleIncomplete.WrapMessage("no bundle directory")
	}
	if !inPlace {
		if err := mustNotExist(fs, output); err != nil {
			return nil, err
		}
	}
	if err := removeStale(fs, output, l); err != nil {
		return nil, err
	}
	if err := checkBundle(fs, o.bundle); err != nil {
		return nil, err
	}
	cfgName, err := tezi.FindConfig(fs, imageDir)
	if err != nil {
		return nil, err
	}
	cfg, err := tezi.Load(fs, cfgName)
	if err != nil {
		return nil, err
	}

	work := partialName(output)
	published := false
	defer func() {
		if !published {
			if err := fs.RemoveAll(work); err != nil {
				l.Warn("could not remove partial output", zap.String("dir", work), zap.Error(err))
			}
		}
	}()
	if err := copyDir(ctx, fs, imageDir, work); err != nil {
		return nil, err
	}
	if err := t.advance(TemplateLoaded); err != nil {
		return nil, err
	}

	if err := rewrite(fs, cfg, work, o); err != nil {
		return nil, err
	}
	if err := cfg.Save(fs, filepath.Join(work, filepath.Base(cfgName))); err != nil {
		return nil, err
	}
	if err := t.advance(MetadataRewritten); err != nil {
		return nil, err
	}
	if err := copyBundle(fs, o.bundle, work); err != nil {
		return nil, err
	}
	if err := t.advance(ContainerBundleMerged); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := publish(fs, work, output, inPlace, l); err != nil {
		return nil, err
	}
	published = true
	if err := t.advance(Finalized); err != nil {
		return nil, err
	}
	return &model.Image{
		Layout:           model.LayoutArchive,
		Path:             output,
		Name:             cfg.Name(),
		Version:          cfg.Version(),
		Description:      cfg.Description(),
		ReleaseDate:      cfg.ReleaseDate(),
		UncompressedSize: cfg.UncompressedSize(),
		Containers:       true,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// publish renames work to output. An image updated in place is moved aside first, and
// put back when the swap fails.
func publish(fs afero.Fs, work, output string, inPlace bool, l *zap.Logger) error {
	if !inPlace {
		return fs.Rename(work, output)
	}
	previous := partialName(output)
	if err := fs.Rename(output, previous); err != nil {
		return err
	}
	if err := fs.Rename(work, output); err != nil {
		if rerr := fs.Rename(previous, output); rerr != nil {
			l.Error("could not restore image directory", zap.String("dir", previous), zap.Error(rerr))
		}
		return err
	}
	if err := fs.RemoveAll(previous); err != nil {
		l.Warn("could not remove previous image directory", zap.String("dir", previous), zap.Error(err))
	}
	return nil
}
