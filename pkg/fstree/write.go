package fstree

import (
	"io"
	"os"
	"path/filepath"

	"github.com/oneconcern/tcbuilder/pkg/storage"
	"github.com/spf13/afero"
)

// WriteDir writes the tree under dir, keeping permission bits, setuid and setgid included.
//
// Ownership is not changed. Symbolic links which the filesystem cannot hold are skipped and
// their paths returned.
func WriteDir(fs afero.Fs, dir string, t *Tree) ([]string, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	_, canLink := fs.(afero.Linker)
	var skipped []string
	var dirs []*Node
	err := t.Walk(func(n *Node) error {
		name := filepath.Join(dir, filepath.FromSlash(n.Path))
		switch n.Type {
		case TypeDir:
			dirs = append(dirs, n)
			return fs.MkdirAll(name, 0755)
		case TypeSymlink:
			if !canLink {
				skipped = append(skipped, n.Path)
				return nil
			}
			return Symlink(fs, n.Target, name)
		default:
			return writeContent(fs, name, n)
		}
	})
	if err != nil {
		return skipped, err
	}
	// directories last, read-only ones would refuse their entries
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := fs.Chmod(filepath.Join(dir, filepath.FromSlash(dirs[i].Path)), dirs[i].FileMode()); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

func writeContent(fs afero.Fs, name string, n *Node) error {
	f, err := fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if n.Content != nil {
		rdr, err := n.Content.Open()
		if err != nil {
			_ = f.Close()
			return err
		}
		_, err = storage.PipeIO(f, io.LimitReader(rdr, n.Size+1))
		_ = rdr.Close()
		if err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fs.Chmod(name, n.FileMode())
}
