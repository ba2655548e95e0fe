package changeset

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oneconcern/tcbuilder/pkg/attrs"
	"github.com/oneconcern/tcbuilder/pkg/errors"
	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Deletion removes a path, or with Opaque, the lower-layer contents of a directory
type Deletion struct {
	Path   string
	Opaque bool
}

// ChangeSet is a layer of changes to a root filesystem
type ChangeSet struct {
	Name       string
	Tree       *fstree.Tree
	Attributes *attrs.Record

	deletions map[Deletion]struct{}
}

// New empty change set
func New(name string) *ChangeSet {
	return &ChangeSet{
		Name:       name,
		Tree:       fstree.New(),
		Attributes: attrs.NewRecord(),
		deletions:  make(map[Deletion]struct{}),
	}
}

// AddDeletion records a deletion marker
func (cs *ChangeSet) AddDeletion(p string, opaque bool) error {
	cleaned, err := fstree.CleanPath(p)
	if err != nil {
		return err
	}
	if cleaned == "" && !opaque {
		return ErrInvalidMarker.WrapMessage("the root cannot be deleted")
	}
	if cs.deletions == nil {
		cs.deletions = make(map[Deletion]struct{})
	}
	cs.deletions[Deletion{Path: cleaned, Opaque: opaque}] = struct{}{}
	return nil
}

// Deletions sorted by path, opaque markers of a directory first
func (cs *ChangeSet) Deletions() []Deletion {
	out := make([]Deletion, 0, len(cs.deletions))
	for d := range cs.deletions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Opaque && !out[j].Opaque
	})
	return out
}

// IsEmpty tells if the change set carries nothing
func (cs *ChangeSet) IsEmpty() bool {
	return cs.Tree.Len() == 0 && len(cs.deletions) == 0 && cs.Attributes.Len() == 0
}

// Validate checks every sidecar entry matches a material entry and no path is both deleted and provided.
// All violations are reported.
func (cs *ChangeSet) Validate() error {
	var merr error
	for _, e := range cs.Attributes.Entries() {
		if !cs.Tree.Has(e.Path) {
			merr = multierr.Append(merr, ErrOrphanEntry.WrapMessage("%s: %s", cs.Name, e.Path))
		}
	}
	for d := range cs.deletions {
		if !d.Opaque && cs.Tree.Has(d.Path) {
			merr = multierr.Append(merr, ErrConflict.WrapMessage("%s: %s", cs.Name, d.Path))
		}
	}
	return merr
}

type loadOptions struct {
	baseline attrs.Baseline
	logger   *zap.Logger
	name     string
}

// Option tunes Load
type Option func(*loadOptions)

// WithBaseline sets the metadata given to material entries without sidecar entries
func WithBaseline(b attrs.Baseline) Option {
	return func(o *loadOptions) {
		o.baseline = b
	}
}

// WithLogger logs the markers and sidecars found while loading
func WithLogger(l *zap.Logger) Option {
	return func(o *loadOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithName sets the display name of the loaded change set, defaulting to the directory
func WithName(name string) Option {
	return func(o *loadOptions) {
		o.name = name
	}
}

// Load a change set from a directory.
//
// Material entries get the baseline metadata: ownership and permissions found on disk
// only tell executables apart. Sidecars found in any directory are merged into the change
// set attributes, with paths rebased to the change set root.
func Load(fs afero.Fs, dir string, opts ...Option) (*ChangeSet, error) {
	o := loadOptions{baseline: attrs.DefaultBaseline(), logger: zap.NewNop(), name: dir}
	for _, apply := range opts {
		apply(&o)
	}
	if err := o.baseline.Validate(); err != nil {
		return nil, err
	}
	if fi, err := fs.Stat(dir); err != nil || !fi.IsDir() {
		return nil, ErrNotFound.WrapMessage("%s", dir)
	}

	cs := New(o.name)
	var merr error
	reserved := func(rel string, fi os.FileInfo) error {
		parent, name := fstree.Parent(rel), path.Base(rel)
		switch {
		case fi.IsDir():
			merr = multierr.Append(merr, ErrInvalidMarker.WrapMessage("%s: reserved name used by a directory", rel))
			return filepath.SkipDir
		case name == attrs.FileName:
			rec, err := decodeSidecar(fs, filepath.Join(dir, filepath.FromSlash(rel)))
			if err != nil {
				merr = multierr.Append(merr, errors.New(rel).Wrap(err))
				return nil
			}
			o.logger.Debug("sidecar", zap.String("changeset", cs.Name), zap.String("path", rel), zap.Int("entries", rec.Len()))
			cs.Attributes.Merge(parent, rec)
		case name == fstree.OpaqueMarker:
			merr = multierr.Append(merr, cs.AddDeletion(parent, true))
		default:
			target := strings.TrimPrefix(name, fstree.WhiteoutPrefix)
			if target == "" || target == "." || target == ".." {
				merr = multierr.Append(merr, ErrInvalidMarker.WrapMessage("%s", rel))
				return nil
			}
			merr = multierr.Append(merr, cs.AddDeletion(fstree.Join(parent, target), false))
		}
		return nil
	}
	tree, err := fstree.LoadDir(fs, dir, fstree.WithReserved(reserved))
	if err != nil {
		return nil, err
	}
	if merr != nil {
		return nil, merr
	}
	if err := o.baseline.Apply(tree); err != nil {
		return nil, err
	}
	cs.Tree = tree
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	o.logger.Debug("loaded change set",
		zap.String("changeset", cs.Name),
		zap.Int("entries", tree.Len()),
		zap.Int("deletions", len(cs.deletions)),
		zap.Int("attributes", cs.Attributes.Len()),
	)
	return cs, nil
}

func decodeSidecar(fs afero.Fs, name string) (*attrs.Record, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return attrs.Decode(f)
}
