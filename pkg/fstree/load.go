package fstree

import (
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
)

// MetaReader extracts the metadata of a file found on a filesystem
type MetaReader func(fs afero.Fs, name string, fi os.FileInfo) (Meta, error)

// SkipFunc tells the loader to ignore a path (relative to the loaded root).
// Skipping a directory skips its descendants.
type SkipFunc func(rel string, fi os.FileInfo) bool

// ReservedFunc receives the reserved names (sidecars, whiteout markers) met while loading
type ReservedFunc func(rel string, fi os.FileInfo) error

type loadOptions struct {
	meta     MetaReader
	skip     SkipFunc
	reserved ReservedFunc
}

// LoadOption tunes LoadDir
type LoadOption func(*loadOptions)

// WithMetaReader overrides the way ownership and permissions are read
func WithMetaReader(r MetaReader) LoadOption {
	return func(o *loadOptions) {
		if r != nil {
			o.meta = r
		}
	}
}

// WithSkip ignores some paths
func WithSkip(s SkipFunc) LoadOption {
	return func(o *loadOptions) {
		o.skip = s
	}
}

// WithReserved hands over reserved names to a callback instead of failing
func WithReserved(r ReservedFunc) LoadOption {
	return func(o *loadOptions) {
		o.reserved = r
	}
}

// StatMeta reads the mode from the file info and the ownership from the
// underlying stat structure, when the filesystem exposes one.
func StatMeta(_ afero.Fs, _ string, fi os.FileInfo) (Meta, error) {
	m := Meta{Mode: fi.Mode() & permMask}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		m.UID = int(st.Uid)
		m.GID = int(st.Gid)
	}
	return m, nil
}

// LoadDir builds a tree from the content of a directory.
//
// File contents are not read: nodes open the underlying file lazily.
// A missing root yields an error satisfying os.IsNotExist.
func LoadDir(fs afero.Fs, root string, opts ...LoadOption) (*Tree, error) {
	o := loadOptions{meta: StatMeta}
	for _, apply := range opts {
		apply(&o)
	}
	if _, err := fs.Stat(root); err != nil {
		return nil, err
	}
	tree := New()
	txn := tree.root.Txn()
	err := afero.Walk(fs, root, func(name string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, name)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if o.skip != nil && o.skip(rel, fi) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if IsReservedName(fi.Name()) {
			if o.reserved == nil {
				return ErrReservedName.WrapMessage("%s", rel)
			}
			return o.reserved(rel, fi)
		}
		meta, err := o.meta(fs, name, fi)
		if err != nil {
			return err
		}
		node := &Node{Path: rel, Meta: meta.Normalize()}
		switch {
		case fi.Mode().IsRegular():
			node.Type = TypeFile
			node.Size = fi.Size()
			node.Content = fileContent(fs, name)
		case fi.IsDir():
			node.Type = TypeDir
		case fi.Mode()&os.ModeSymlink != 0:
			node.Type = TypeSymlink
			reader, ok := fs.(afero.LinkReader)
			if !ok {
				return ErrUnsupported.WrapMessage("%s: filesystem cannot read symbolic links", rel)
			}
			if node.Target, err = reader.ReadlinkIfPossible(name); err != nil {
				return err
			}
		default:
			return ErrUnsupported.WrapMessage("%s: %v", rel, fi.Mode().Type())
		}
		txn.Insert([]byte(rel), node)
		return nil
	})
	if err != nil {
		return nil, err
	}
	tree.root = txn.Commit()
	return tree, nil
}

func fileContent(fs afero.Fs, name string) Content {
	return ContentFunc(func() (io.ReadCloser, error) {
		return fs.Open(name)
	})
}

// Symlink creates a symbolic link on a filesystem.
//
// Base path filesystems would rebase the link target under their root: links are created on
// the real path instead, keeping the target verbatim.
func Symlink(fs afero.Fs, target, name string) error {
	if bp, ok := fs.(*afero.BasePathFs); ok {
		real, err := bp.RealPath(name)
		if err != nil {
			return err
		}
		return os.Symlink(target, real)
	}
	linker, ok := fs.(afero.Linker)
	if !ok {
		return ErrUnsupported.WrapMessage("%s: filesystem cannot create symbolic links", name)
	}
	return linker.SymlinkIfPossible(target, name)
}
