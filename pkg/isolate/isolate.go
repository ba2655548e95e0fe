package isolate

import (
	"context"

	"github.com/oneconcern/tcbuilder/pkg/attrs"
	"github.com/oneconcern/tcbuilder/pkg/changeset"
	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"go.uber.org/zap"
)

const (
	// LiveScope is the configuration in use on a system
	LiveScope = "etc"

	// ReferenceScope is the configuration shipped by the image
	ReferenceScope = "usr/etc"

	// OutputScope is where isolated changes are rooted in the change set
	OutputScope = "usr/etc"
)

// DefaultIgnore lists the paths, relative to the scope, which belong to a single device
// and are never isolated
var DefaultIgnore = []string{
	"gshadow",
	"machine-id",
	"group",
	"shadow",
	"systemd/system/sysinit.target.wants/run-postinsts.service",
	"ostree/remotes.d/toradex-nightly.conf",
	"docker/key.json",
	".updated",
	".pwd.lock",
	"group-",
	"gshadow-",
	"hostname",
	"ssh/ssh_host_rsa_key",
	"ssh/ssh_host_rsa_key.pub",
	"ssh/ssh_host_ecdsa_key",
	"ssh/ssh_host_ecdsa_key.pub",
	"ssh/ssh_host_ed25519_key",
	"ssh/ssh_host_ed25519_key.pub",
	"ipk-postinsts",
	"fw_env.conf",
}

type options struct {
	live, reference, output string
	ignore                  map[string]struct{}
	baseline                attrs.Baseline
	name                    string
	l                       *zap.Logger
}

// Option for Isolate
type Option func(*options)

// WithScopes overrides the compared directories and the root of the produced change set
func WithScopes(live, reference, output string) Option {
	return func(o *options) {
		o.live, o.reference, o.output = live, reference, output
	}
}

// WithIgnore adds paths to the ignore list. An ignored directory hides its descendants.
func WithIgnore(paths ...string) Option {
	return func(o *options) {
		for _, p := range paths {
			if cleaned, err := fstree.CleanPath(p); err == nil && cleaned != "" {
				o.ignore[cleaned] = struct{}{}
			}
		}
	}
}

// WithBaseline sets the metadata left out of the sidecar
func WithBaseline(b attrs.Baseline) Option {
	return func(o *options) {
		o.baseline = b
	}
}

// WithName of the produced change set
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger logs every isolated entry at debug level
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.l = l
		}
	}
}

func (o *options) ignored(p string) bool {
	for {
		if _, ok := o.ignore[p]; ok {
			return true
		}
		if p = fstree.Parent(p); p == "" {
			return false
		}
	}
}

// Stats of an isolation
type Stats struct {
	Added    int
	Modified int
	Deleted  int
	Ignored  int
}

// Isolate compares the live configuration of a system with the reference shipped by its image.
//
// Unchanged entries are left out. Added or modified entries are part of the change set
// tree, along with their parent directories. Removed entries become deletion markers: a
// directory emptied on the live side is marked opaque. Symbolic links are compared by target.
// Metadata differing from the baseline goes to the change set attributes.
func Isolate(ctx context.Context, reference, live *fstree.Tree, opts ...Option) (*changeset.ChangeSet, error) {
	cs, _, err := Diff(ctx, reference, live, opts...)
	return cs, err
}

// Diff is Isolate, with statistics
func Diff(ctx context.Context, reference, live *fstree.Tree, opts ...Option) (*changeset.ChangeSet, Stats, error) {
	o := options{
		live:      LiveScope,
		reference: ReferenceScope,
		output:    OutputScope,
		ignore:    make(map[string]struct{}, len(DefaultIgnore)),
		baseline:  attrs.DefaultBaseline(),
		name:      "isolated changes",
		l:         zap.NewNop(),
	}
	WithIgnore(DefaultIgnore...)(&o)
	for _, apply := range opts {
		apply(&o)
	}
	var stats Stats
	if err := o.baseline.Validate(); err != nil {
		return nil, stats, err
	}
	output, err := fstree.CleanPath(o.output)
	if err != nil {
		return nil, stats, err
	}
	logger := o.l.With(zap.String("live", o.live), zap.String("reference", o.reference))

	liveSub, ok := live.Sub(o.live)
	if !ok {
		logger.Warn("live configuration not found")
	}
	refSub, ok := reference.Sub(o.reference)
	if !ok {
		logger.Warn("reference configuration not found")
	}

	d := &differ{
		o:        &o,
		live:     liveSub,
		ref:      refSub,
		out:      fstree.New(),
		output:   output,
		recorded: make(map[string]bool),
		l:        logger,
	}
	if err := d.changes(ctx, &stats); err != nil {
		return nil, stats, ErrIsolate.Wrap(err)
	}
	deletions, err := d.deletions(ctx, &stats)
	if err != nil {
		return nil, stats, ErrIsolate.Wrap(err)
	}

	cs := changeset.New(o.name)
	cs.Tree = d.out
	for _, del := range deletions {
		if err := cs.AddDeletion(fstree.Join(output, del.Path), del.Opaque); err != nil {
			return nil, stats, ErrIsolate.Wrap(err)
		}
	}
	cs.Attributes = attrs.Capture(d.out, o.baseline, func(n *fstree.Node) bool {
		return d.recorded[n.Path]
	})
	if err := cs.Validate(); err != nil {
		return nil, stats, ErrIsolate.Wrap(err)
	}
	logger.Info("changes isolated",
		zap.Int("added", stats.Added),
		zap.Int("modified", stats.Modified),
		zap.Int("deleted", stats.Deleted),
		zap.Int("ignored", stats.Ignored),
		zap.Int("attributes", cs.Attributes.Len()),
	)
	return cs, stats, nil
}

type differ struct {
	o        *options
	live     *fstree.Tree
	ref      *fstree.Tree
	out      *fstree.Tree
	output   string
	recorded map[string]bool
	l        *zap.Logger
}

func (d *differ) changes(ctx context.Context, stats *Stats) error {
	return d.live.Walk(func(n *fstree.Node) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.o.ignored(n.Path) {
			if _, ok := d.o.ignore[n.Path]; ok {
				stats.Ignored++
			}
			return nil
		}
		ref, found := d.ref.Get(n.Path)
		if found {
			same, err := n.SameContent(ref)
			if err != nil {
				return err
			}
			if same && n.Meta.Equal(ref.Meta) {
				return nil
			}
			stats.Modified++
			d.l.Debug("modified", zap.String("path", n.Path), zap.Stringer("type", n.Type))
			if n.IsDir() && ref.IsDir() {
				// layering keeps the metadata of existing directories unless recorded
				d.recorded[fstree.Join(d.output, n.Path)] = true
			}
		} else {
			stats.Added++
			d.l.Debug("added", zap.String("path", n.Path), zap.Stringer("type", n.Type))
		}
		return d.include(n)
	})
}

// include adds a node to the output, with its live parent directories
func (d *differ) include(n *fstree.Node) error {
	var parents []string
	for p := fstree.Parent(n.Path); p != ""; p = fstree.Parent(p) {
		parents = append(parents, p)
	}
	for i := len(parents) - 1; i >= 0; i-- {
		p := parents[i]
		if d.out.Has(fstree.Join(d.output, p)) {
			continue
		}
		parent, ok := d.live.Get(p)
		if !ok {
			return fstree.ErrNotFound.WrapMessage("%s", p)
		}
		if err := d.insert(parent); err != nil {
			return err
		}
	}
	return d.insert(n)
}

func (d *differ) insert(n *fstree.Node) error {
	c := n.Clone()
	c.Path = fstree.Join(d.output, n.Path)
	dirMeta := fstree.Meta{UID: d.o.baseline.UID, GID: d.o.baseline.GID, Mode: d.o.baseline.Dir}
	return d.out.InsertWithParents(c, dirMeta)
}

// deletions lists the topmost reference entries missing on the live side
func (d *differ) deletions(ctx context.Context, stats *Stats) ([]changeset.Deletion, error) {
	deleted := make(map[string]bool)
	opaque := make(map[string]bool)
	var out []changeset.Deletion

	// entries below a deletion, or below a directory replaced by another type, need no marker
	covered := func(p string) bool {
		for q := fstree.Parent(p); q != ""; q = fstree.Parent(q) {
			if deleted[q] || opaque[q] {
				return true
			}
			if n, ok := d.live.Get(q); ok && !n.IsDir() {
				return true
			}
		}
		return false
	}

	err := d.ref.Walk(func(r *fstree.Node) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.o.ignored(r.Path) || d.live.Has(r.Path) || covered(r.Path) {
			return nil
		}
		parent := fstree.Parent(r.Path)
		if parent != "" && d.emptied(parent) {
			opaque[parent] = true
			stats.Deleted++
			d.l.Debug("emptied", zap.String("path", parent))
			out = append(out, changeset.Deletion{Path: parent, Opaque: true})
			return nil
		}
		deleted[r.Path] = true
		stats.Deleted++
		d.l.Debug("deleted", zap.String("path", r.Path), zap.Stringer("type", r.Type))
		out = append(out, changeset.Deletion{Path: r.Path})
		return nil
	})
	return out, err
}

// emptied tells if a directory exists on the live side without any entry, while none
// of its reference entries are ignored
func (d *differ) emptied(dir string) bool {
	n, ok := d.live.Get(dir)
	if !ok || !n.IsDir() || len(d.live.Children(dir)) > 0 {
		return false
	}
	for _, c := range d.ref.Children(dir) {
		if d.o.ignored(c.Path) {
			return false
		}
	}
	return true
}

// IsEmpty tells if nothing was isolated
func IsEmpty(cs *changeset.ChangeSet) bool {
	return cs == nil || cs.IsEmpty()
}
