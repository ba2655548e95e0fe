package storagearea

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oneconcern/tcbuilder/pkg/compress"
	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"github.com/oneconcern/tcbuilder/pkg/image/blockimg"
	"github.com/oneconcern/tcbuilder/pkg/image/tezi"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/oneconcern/tcbuilder/pkg/ostree"
	"github.com/oneconcern/tcbuilder/pkg/repo"
	"github.com/oneconcern/tcbuilder/pkg/storage"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// UnpackOptions tune Unpack
type UnpackOptions struct {
	// Label of the root filesystem of block images. Defaults to otaroot.
	Label string
	// Replace an image already unpacked. Without it, unpacking into a non-empty area fails.
	Replace bool
}

// Unpack imports a base image into the storage area: its root filesystem becomes the commit
// recorded on the base branch, and the rest of the image is kept as a template for deployment.
//
// The source is an installer archive directory, a tarball of such a directory, or a block
// image (.wic, .img).
func Unpack(ctx context.Context, h *Handle, source string, opts UnpackOptions) (*model.AreaState, error) {
	if err := h.Valid(); err != nil {
		return nil, err
	}
	a := h.area
	if opts.Label == "" {
		opts.Label = tezi.RootfsLabel
	}
	layout, err := sourceLayout(a.fs, source)
	if err != nil {
		return nil, err
	}

	st, err := a.Status()
	if err != nil {
		return nil, err
	}
	if st.HasBase() {
		if !opts.Replace {
			return nil, ErrNotEmpty.WrapMessage("%s holds %s, use --remove-storage to replace it", a.dir, st.ImageName)
		}
		if err := h.Clear(ctx); err != nil {
			return nil, err
		}
	}

	a.l.Info("unpacking image", zap.String("source", source), zap.String("layout", string(layout)))
	start := time.Now()
	var state *model.AreaState
	switch layout {
	case model.LayoutBlock:
		state, err = unpackBlock(ctx, h, source, opts.Label)
	default:
		state, err = unpackArchive(ctx, h, source)
	}
	if err != nil {
		return nil, err
	}
	state.Layout = layout
	state.Source = source
	state.UnpackedAt = time.Now().UTC()
	if err := h.Repo().AdvanceBranch(ctx, model.BaseBranch, state.Base); err != nil {
		return nil, err
	}
	if err := h.SaveState(state); err != nil {
		return nil, err
	}
	a.l.Info("image unpacked",
		zap.String("image", state.ImageName),
		zap.String("version", state.ImageVersion),
		zap.String("commit", state.Base.String()),
		zap.Duration("took", time.Since(start)),
	)
	return state, nil
}

func sourceLayout(fs afero.Fs, source string) (model.Layout, error) {
	fi, err := fs.Stat(source)
	if err != nil {
		return "", ErrUnknownSource.WrapMessage("%s", source).Wrap(err)
	}
	lower := strings.ToLower(source)
	switch {
	case fi.IsDir():
		return model.LayoutArchive, nil
	case strings.HasSuffix(lower, ".wic") || strings.HasSuffix(lower, ".img"):
		return model.LayoutBlock, nil
	case strings.HasSuffix(lower, ".tar") || strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz"):
		return model.LayoutArchive, nil
	}
	return "", ErrUnknownSource.WrapMessage("%s: expected an image directory, a tarball or a .wic/.img image", source)
}

func unpackArchive(ctx context.Context, h *Handle, source string) (*model.AreaState, error) {
	a := h.area
	dir := source
	if fi, err := a.fs.Stat(source); err == nil && !fi.IsDir() {
		scratch, cleanup, err := h.TempDir("extract")
		if err != nil {
			return nil, err
		}
		defer cleanup()
		if dir, err = extractImageTarball(a.fs, source, scratch); err != nil {
			return nil, err
		}
	}

	configName, err := tezi.FindConfig(a.fs, dir)
	if err != nil {
		return nil, err
	}
	cfg, err := tezi.Load(a.fs, configName)
	if err != nil {
		return nil, err
	}
	rootfsName, err := cfg.RootfsFilename()
	if err != nil {
		return nil, err
	}
	sysroot, err := extractRootfs(ctx, h, filepath.Join(dir, filepath.FromSlash(rootfsName)))
	if err != nil {
		return nil, err
	}

	timestamp, err := time.Parse(tezi.ReleaseDateLayout, cfg.ReleaseDate())
	if err != nil {
		timestamp = time.Unix(0, 0)
	}
	id, err := h.Repo().Import(ctx, sysroot, model.Commit{
		Subject:   "Base image " + strings.TrimSpace(cfg.Name()+" "+cfg.Version()),
		Timestamp: timestamp,
		Metadata:  map[string]string{model.MetadataVersion: cfg.Version()},
	})
	if err != nil {
		return nil, err
	}
	if err := copyTemplate(a, dir, rootfsName); err != nil {
		return nil, err
	}
	return &model.AreaState{
		ImageName:    cfg.Name(),
		ImageVersion: cfg.Version(),
		Template:     filepath.Base(configName),
		Base:         id,
		OS:           sysroot.Deployment.OS,
		Kargs:        sysroot.Deployment.Kargs,
	}, nil
}

// resetSysroot removes what a previous unpack left of the system root
func resetSysroot(a *Area) (string, error) {
	dir := a.Path(SysrootDir)
	if err := a.fs.RemoveAll(dir); err != nil {
		return "", err
	}
	return dir, a.fs.MkdirAll(dir, 0755)
}

// extractRootfs unpacks the root filesystem tarball, an OSTree system root, into the area.
//
// On the OS filesystem, tar extracts it so that ownership and extended attributes are kept.
func extractRootfs(ctx context.Context, h *Handle, name string) (repo.Sysroot, error) {
	a := h.area
	dir, err := resetSysroot(a)
	if err != nil {
		return repo.Sysroot{}, err
	}
	codec, err := compress.ForName(name)
	if err != nil {
		return repo.Sysroot{}, err
	}
	f, err := a.fs.Open(name)
	if err != nil {
		return repo.Sysroot{}, err
	}
	defer f.Close()
	rdr, err := compress.NewReader(codec, bufio.NewReader(f))
	if err != nil {
		return repo.Sysroot{}, err
	}
	defer rdr.Close()

	if a.onOS() {
		err = ostree.Extract(ctx, a.run, rdr, dir)
	} else {
		err = writeTarball(a, rdr, dir)
	}
	if err != nil {
		return repo.Sysroot{}, ErrExtract.WrapMessage("%s", name).Wrap(err)
	}
	return findSysroot(a, name)
}

func writeTarball(a *Area, r io.Reader, dir string) error {
	special := 0
	tree, err := fstree.FromTar(r, fstree.WithSkipped(func(hdr *tar.Header) {
		special++
		a.l.Debug("skipping special file", zap.String("path", hdr.Name), zap.Uint8("type", hdr.Typeflag))
	}))
	if err != nil {
		return err
	}
	links, err := fstree.WriteDir(a.fs, dir, tree)
	if err != nil {
		return err
	}
	a.l.Debug("system root written", zap.Int("entries", tree.Len()), zap.Int("special", special), zap.Int("links skipped", len(links)))
	return nil
}

func findSysroot(a *Area, source string) (repo.Sysroot, error) {
	sysroot, err := a.Sysroot()
	if err != nil {
		return repo.Sysroot{}, ErrExtract.WrapMessage("%s is not an OSTree system root", source).Wrap(err)
	}
	d := sysroot.Deployment
	a.l.Info("system root unpacked",
		zap.String("source", source),
		zap.String("os", d.OS),
		zap.String("deployment", d.Checksum),
		zap.String("kargs", d.Kargs),
	)
	return sysroot, nil
}

// extractImageTarball unpacks a tarball of an installer image and returns the directory holding
// its configuration: either the extraction directory or its single top-level directory.
func extractImageTarball(fs afero.Fs, source, dest string) (string, error) {
	codec, err := compress.ForName(source)
	if err != nil {
		return "", err
	}
	f, err := fs.Open(source)
	if err != nil {
		return "", err
	}
	defer f.Close()
	rdr, err := compress.NewReader(codec, bufio.NewReader(f))
	if err != nil {
		return "", err
	}
	defer rdr.Close()

	tr := tar.NewReader(rdr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", ErrExtract.WrapMessage("%s", source).Wrap(err)
		}
		rel, err := fstree.CleanPath(hdr.Name)
		if err != nil {
			return "", ErrExtract.WrapMessage("%s", source).Wrap(err)
		}
		if rel == "" {
			continue
		}
		name := filepath.Join(dest, filepath.FromSlash(rel))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(name, 0755); err != nil {
				return "", err
			}
		case tar.TypeReg:
			if err := fs.MkdirAll(filepath.Dir(name), 0755); err != nil {
				return "", err
			}
			if err := writeStream(fs, name, tr, os.FileMode(hdr.Mode)&os.ModePerm|0600); err != nil {
				return "", err
			}
		}
	}

	if _, err := tezi.FindConfig(fs, dest); err == nil {
		return dest, nil
	}
	entries, err := afero.ReadDir(fs, dest)
	if err != nil {
		return "", err
	}
	for _, fi := range entries {
		if !fi.IsDir() {
			continue
		}
		sub := filepath.Join(dest, fi.Name())
		if _, err := tezi.FindConfig(fs, sub); err == nil {
			return sub, nil
		}
	}
	return "", tezi.ErrNoConfig.WrapMessage("%s", source)
}

func writeStream(fs afero.Fs, name string, r io.Reader, perm os.FileMode) error {
	f, err := fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := storage.PipeIO(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// copyTemplate copies an image directory into the area, leaving out the root filesystem tarball.
// The copy is made next to its destination, then renamed.
func copyTemplate(a *Area, dir, rootfsName string) error {
	dest := a.Path(ImageDir)
	partial := dest + partialMark
	if err := a.fs.RemoveAll(partial); err != nil {
		return err
	}
	skip := filepath.Join(dir, filepath.FromSlash(rootfsName))
	err := afero.Walk(a.fs, dir, func(name string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, name)
		if err != nil {
			return err
		}
		target := filepath.Join(partial, rel)
		switch {
		case fi.IsDir():
			return a.fs.MkdirAll(target, 0755)
		case name == skip || !fi.Mode().IsRegular():
			return nil
		}
		f, err := a.fs.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		return writeStream(a.fs, target, f, fi.Mode().Perm())
	})
	if err != nil {
		_ = a.fs.RemoveAll(partial)
		return err
	}
	if err := a.fs.RemoveAll(dest); err != nil {
		return err
	}
	return a.fs.Rename(partial, dest)
}

func unpackBlock(ctx context.Context, h *Handle, source, label string) (*model.AreaState, error) {
	a := h.area
	f, err := a.fs.Open(source)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	part, err := blockimg.FindLabel(f, fi.Size(), label)
	if err != nil {
		return nil, err
	}
	a.l.Info("root filesystem partition", zap.String("partition", part.String()))

	dir, err := resetSysroot(a)
	if err != nil {
		return nil, err
	}
	if err := a.extractor.Extract(ctx, a.fs, f, part, dir); err != nil {
		return nil, ErrExtract.WrapMessage("%s partition %d", source, part.Index).Wrap(err)
	}
	sysroot, err := findSysroot(a, source)
	if err != nil {
		return nil, err
	}

	name, version := osRelease(sysroot)
	if name == "" {
		name = filepath.Base(source)
	}
	meta := map[string]string{}
	if version != "" {
		meta[model.MetadataVersion] = version
	}
	id, err := h.Repo().Import(ctx, sysroot, model.Commit{
		Subject:   "Base image " + strings.TrimSpace(name+" "+version),
		Timestamp: fi.ModTime().UTC().Truncate(time.Second),
		Metadata:  meta,
	})
	if err != nil {
		return nil, err
	}
	return &model.AreaState{
		ImageName:    name,
		ImageVersion: version,
		Template:     source,
		Base:         id,
		Label:        label,
		OS:           sysroot.Deployment.OS,
		Kargs:        sysroot.Deployment.Kargs,
	}, nil
}

// osRelease reads the distribution name and version of the deployed root filesystem
func osRelease(sysroot repo.Sysroot) (string, string) {
	root := sysroot.DeploymentDir()
	for _, p := range []string{"usr/lib/os-release", "etc/os-release"} {
		f, err := sysroot.Fs.Open(filepath.Join(root, filepath.FromSlash(p)))
		if err != nil {
			continue
		}
		values := map[string]string{}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			k, v, found := strings.Cut(scanner.Text(), "=")
			if found {
				values[k] = strings.Trim(v, `"'`)
			}
		}
		_ = f.Close()
		return values["NAME"], values["VERSION_ID"]
	}
	return "", ""
}
