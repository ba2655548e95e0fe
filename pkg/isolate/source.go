package isolate

import (
	"archive/tar"
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"github.com/oneconcern/tcbuilder/pkg/ostree"
	"github.com/oneconcern/tcbuilder/pkg/remote"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Source provides the tree of a live system, restricted to some directories
type Source interface {
	Tree(ctx context.Context, scopes ...string) (*fstree.Tree, error)
}

var (
	_ Source = &DirSource{}
	_ Source = &RemoteSource{}
)

// DirSource reads a root filesystem available as a directory, e.g. a mounted device storage.
// When the directory is an OSTree system root, the deployment in use is read.
type DirSource struct {
	Fs   afero.Fs
	Root string
	L    *zap.Logger
}

// Tree loads the scopes found under the root. Missing scopes are left out.
// Device nodes, fifos and sockets are skipped.
func (s *DirSource) Tree(ctx context.Context, scopes ...string) (*fstree.Tree, error) {
	fs := s.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	logger := s.L
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := s.base(fs, logger)
	if err != nil {
		return nil, err
	}
	tree := fstree.New()
	skip := func(rel string, fi os.FileInfo) bool {
		if fi.Mode().IsRegular() || fi.IsDir() || fi.Mode()&os.ModeSymlink != 0 {
			return false
		}
		logger.Debug("skipped special file", zap.String("path", rel), zap.Stringer("mode", fi.Mode()))
		return true
	}
	for _, scope := range scopes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cleaned, err := fstree.CleanPath(scope)
		if err != nil {
			return nil, err
		}
		root := filepath.Join(base, filepath.FromSlash(cleaned))
		sub, err := fstree.LoadDir(fs, root, fstree.WithMetaReader(fstree.OSMeta), fstree.WithSkip(skip))
		if os.IsNotExist(err) {
			logger.Debug("scope not found", zap.String("scope", cleaned))
			continue
		}
		if err != nil {
			return nil, ErrSource.WrapMessage("%s", root).Wrap(err)
		}
		if cleaned == "" {
			return sub, nil
		}
		if fi, err := fs.Stat(root); err == nil {
			meta, err := fstree.OSMeta(fs, root, fi)
			if err != nil {
				return nil, ErrSource.WrapMessage("%s", root).Wrap(err)
			}
			if err := tree.InsertWithParents(&fstree.Node{Path: cleaned, Type: fstree.TypeDir, Meta: meta}, fstree.DefaultDirMeta); err != nil {
				return nil, err
			}
		}
		if err := tree.Graft(cleaned, sub, fstree.DefaultDirMeta); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

// base is the root of the deployment when Root is a system root, Root otherwise
func (s *DirSource) base(fs afero.Fs, l *zap.Logger) (string, error) {
	isSysroot, err := afero.DirExists(fs, filepath.Join(s.Root, filepath.FromSlash(ostree.DeployDir)))
	if err != nil || !isSysroot {
		return s.Root, err
	}
	d, err := ostree.FindDeployment(fs, s.Root)
	if err != nil {
		return "", ErrSource.WrapMessage("%s", s.Root).Wrap(err)
	}
	l.Debug("reading the deployment of the system root", zap.String("deployment", d.Dir()))
	return filepath.Join(s.Root, filepath.FromSlash(d.Dir())), nil
}

// RemoteSource reads the configuration of a device over a transport.
//
// The device archives the scopes with tar, as root, keeping numeric ownership and ACLs.
type RemoteSource struct {
	Transport remote.Transport
	L         *zap.Logger
}

// TarCommand is the command line archiving scopes on the device
func TarCommand(scopes ...string) string {
	return "tar --numeric-owner --acls --format=posix --ignore-failed-read -C / -cf - " + remote.Join(scopes...)
}

// Tree streams the scopes from the device
func (s *RemoteSource) Tree(ctx context.Context, scopes ...string) (*fstree.Tree, error) {
	logger := s.L
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaned := make([]string, len(scopes))
	for i, scope := range scopes {
		c, err := fstree.CleanPath(scope)
		if err != nil {
			return nil, err
		}
		cleaned[i] = c
	}
	pr, pw := io.Pipe()
	errc := make(chan error, 1)
	go func() {
		err := s.Transport.Run(ctx, remote.Command{Line: TarCommand(cleaned...), Sudo: true, Stdout: pw})
		_ = pw.CloseWithError(err)
		errc <- err
	}()
	tree, err := fstree.FromTar(pr, fstree.WithSkipped(func(hdr *tar.Header) {
		logger.Debug("skipped special file", zap.String("path", hdr.Name))
	}))
	if err == nil {
		// trailing padding after the end of archive
		_, _ = io.Copy(ioutil.Discard, pr)
	}
	// unblock the command if the archive was rejected early
	_ = pr.CloseWithError(io.ErrClosedPipe)
	if runErr := <-errc; runErr != nil {
		return nil, ErrSource.Wrap(runErr)
	}
	if err != nil {
		return nil, ErrSource.Wrap(err)
	}
	logger.Debug("live tree received", zap.Int("entries", tree.Len()))
	return tree, nil
}
