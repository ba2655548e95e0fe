package union

import (
	"github.com/oneconcern/tcbuilder/pkg/changeset"
	"github.com/oneconcern/tcbuilder/pkg/storagearea"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// StorageChangeSets are the directories of the storage area holding change sets, in the order they are applied
var StorageChangeSets = []string{storagearea.ChangesDir, "splash", "dt", "kernel"}

// Sources lists the change set directories of a composition: the storage area directories
// which exist, then the extra directories in the given order.
func Sources(a *storagearea.Area, extra ...string) ([]string, error) {
	var dirs []string
	for _, name := range StorageChangeSets {
		dir := a.Path(name)
		ok, err := afero.DirExists(a.Fs(), dir)
		if err != nil {
			return nil, err
		}
		if ok {
			dirs = append(dirs, dir)
		}
	}
	return append(dirs, extra...), nil
}

// LoadAll loads change sets from directories, keeping their order. All failures are reported.
func LoadAll(fs afero.Fs, dirs []string, opts ...changeset.Option) ([]*changeset.ChangeSet, error) {
	sets := make([]*changeset.ChangeSet, 0, len(dirs))
	var merr error
	for _, dir := range dirs {
		cs, err := changeset.Load(fs, dir, append(opts, changeset.WithName(dir))...)
		if err != nil {
			merr = multierr.Append(merr, err)
			continue
		}
		sets = append(sets, cs)
	}
	if merr != nil {
		return nil, merr
	}
	return sets, nil
}
