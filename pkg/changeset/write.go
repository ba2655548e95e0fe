package changeset

import (
	"os"
	"path/filepath"

	"github.com/oneconcern/tcbuilder/pkg/attrs"
	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"github.com/oneconcern/tcbuilder/pkg/storage"
	"github.com/spf13/afero"
)

// WriteDir writes the change set to a directory: material entries, deletion markers and a
// single sidecar at the root holding all the attributes.
//
// Files keep their execute bits, so that loading the directory back with the same baseline
// yields the same metadata.
func (cs *ChangeSet) WriteDir(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return ErrWrite.Wrap(err)
	}
	native := func(p string) string {
		return filepath.Join(dir, filepath.FromSlash(p))
	}
	err := cs.Tree.Walk(func(n *fstree.Node) error {
		name := native(n.Path)
		perm := n.Meta.Mode & os.ModePerm
		switch n.Type {
		case fstree.TypeDir:
			if err := fs.MkdirAll(name, perm|0700); err != nil {
				return err
			}
			return fs.Chmod(name, perm|0700)
		case fstree.TypeSymlink:
			return fstree.Symlink(fs, n.Target, name)
		default:
			return writeFile(fs, name, n, perm|0600)
		}
	})
	if err != nil {
		return ErrWrite.Wrap(err)
	}
	for _, d := range cs.Deletions() {
		marker := fstree.Join(fstree.Parent(d.Path), fstree.WhiteoutPrefix+filepath.Base(d.Path))
		if d.Opaque {
			marker = fstree.Join(d.Path, fstree.OpaqueMarker)
		}
		if err := fs.MkdirAll(filepath.Dir(native(marker)), 0755); err != nil {
			return ErrWrite.Wrap(err)
		}
		if err := afero.WriteFile(fs, native(marker), nil, 0644); err != nil {
			return ErrWrite.Wrap(err)
		}
	}
	if cs.Attributes.Len() == 0 {
		return nil
	}
	f, err := fs.OpenFile(native(attrs.FileName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return ErrWrite.Wrap(err)
	}
	if err := attrs.Encode(f, cs.Attributes); err != nil {
		_ = f.Close()
		return ErrWrite.Wrap(err)
	}
	return f.Close()
}

func writeFile(fs afero.Fs, name string, n *fstree.Node, perm os.FileMode) error {
	f, err := fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if n.Content != nil {
		rdr, err := n.Content.Open()
		if err != nil {
			_ = f.Close()
			return err
		}
		_, err = storage.PipeIO(f, rdr)
		_ = rdr.Close()
		if err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fs.Chmod(name, perm)
}
