package isolate

import (
	"context"
	"os"
	"path/filepath"

	"github.com/oneconcern/tcbuilder/pkg/changeset"
	"github.com/segmentio/ksuid"
	"github.com/spf13/afero"
)

// ToDirectory writes a change set to a directory.
//
// An existing non-empty directory is left untouched unless force is set. The change set is
// first written next to the destination, then moved into place: a failure never leaves a
// partially written destination behind.
func ToDirectory(ctx context.Context, fs afero.Fs, dir string, force bool, cs *changeset.ChangeSet) error {
	dir = filepath.Clean(dir)
	fi, err := fs.Stat(dir)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return ErrIsolate.Wrap(err)
	case force:
	case !fi.IsDir():
		return ErrAlreadyIsolated.WrapMessage("%s", dir)
	default:
		empty, err := afero.IsEmpty(fs, dir)
		if err != nil {
			return ErrIsolate.Wrap(err)
		}
		if !empty {
			return ErrAlreadyIsolated.WrapMessage("%s", dir)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := fs.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return ErrIsolate.Wrap(err)
	}
	tmp := filepath.Join(filepath.Dir(dir), "."+filepath.Base(dir)+"-"+ksuid.New().String()+".partial")
	if err := cs.WriteDir(fs, tmp); err != nil {
		_ = fs.RemoveAll(tmp)
		return err
	}
	if err := fs.RemoveAll(dir); err != nil {
		_ = fs.RemoveAll(tmp)
		return ErrIsolate.Wrap(err)
	}
	if err := fs.Rename(tmp, dir); err != nil {
		_ = fs.RemoveAll(tmp)
		return ErrIsolate.Wrap(err)
	}
	return nil
}
