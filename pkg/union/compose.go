package union

import (
	"context"
	"strings"
	"time"

	"github.com/oneconcern/tcbuilder/pkg/attrs"
	"github.com/oneconcern/tcbuilder/pkg/changeset"
	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/oneconcern/tcbuilder/pkg/storagearea"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	versionSuffix     = "-tcbuilder."
	versionTimeLayout = "20060102150405"
	subjectPrefix     = "TorizonCore Builder union commit created at "
)

type options struct {
	branch    string
	subject   string
	body      string
	timestamp time.Time
	l         *zap.Logger
}

// Option for Compose
type Option func(*options)

// WithBranch sets the branch advanced to the composed commit
func WithBranch(name string) Option {
	return func(o *options) {
		o.branch = name
	}
}

// WithSubject sets the commit subject
func WithSubject(subject string) Option {
	return func(o *options) {
		o.subject = subject
	}
}

// WithBody sets the commit body
func WithBody(body string) Option {
	return func(o *options) {
		o.body = body
	}
}

// WithTimestamp sets the commit timestamp. It defaults to the timestamp of the base commit,
// so that composing the same inputs yields the same commit.
func WithTimestamp(t time.Time) Option {
	return func(o *options) {
		o.timestamp = t
	}
}

// WithLogger for the composition
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.l = l
		}
	}
}

// Stats of a composition
type Stats struct {
	Added    int
	Replaced int
	Deleted  int
	Restored int
}

// Compose layers change sets onto a base commit, commits the result as a child of the base
// and advances the branch to it.
func Compose(ctx context.Context, h *storagearea.Handle, base string, sets []*changeset.ChangeSet, opts ...Option) (model.CommitID, error) {
	o := options{l: zap.NewNop()}
	for _, apply := range opts {
		apply(&o)
	}
	if o.branch == "" {
		return "", ErrNoBranch
	}
	if err := model.ValidateBranchName(o.branch); err != nil {
		return "", err
	}
	if err := h.Valid(); err != nil {
		return "", err
	}
	var merr error
	for i, cs := range sets {
		if cs == nil {
			merr = multierr.Append(merr, ErrInvalidChangeSet.WrapMessage("change set #%d is nil", i+1))
			continue
		}
		merr = multierr.Append(merr, cs.Validate())
	}
	if merr != nil {
		return "", ErrInvalidChangeSet.Wrap(merr)
	}

	repo := h.Repo()
	baseID, err := repo.Resolve(ctx, base)
	if err != nil {
		return "", ErrBaseNotFound.WrapMessage("%s", base).Wrap(err)
	}
	logger := o.l.With(zap.String("base", baseID.Short()), zap.String("branch", o.branch))

	baseCommit, err := repo.ReadCommit(ctx, baseID)
	if err != nil {
		return "", ErrBaseNotFound.WrapMessage("%s", base).Wrap(err)
	}
	tree, err := repo.ReadTree(ctx, baseID)
	if err != nil {
		return "", ErrComposeGivenUp.WrapWithLog(logger, err)
	}

	composed, stats, err := Layer(tree, sets, logger)
	if err != nil {
		return "", ErrComposeGivenUp.WrapWithLog(logger, err)
	}

	timestamp := o.timestamp
	if timestamp.IsZero() {
		timestamp = baseCommit.Timestamp
	}
	timestamp = timestamp.UTC().Truncate(time.Second)
	subject := o.subject
	if subject == "" {
		subject = subjectPrefix + timestamp.Format(time.RFC3339)
	}
	metadata := make(map[string]string, len(baseCommit.Metadata))
	for k, v := range baseCommit.Metadata {
		metadata[k] = v
	}
	if v, ok := metadata[model.MetadataVersion]; ok {
		metadata[model.MetadataVersion] = v + versionSuffix + timestamp.Format(versionTimeLayout)
	}

	id, err := repo.CreateCommit(ctx, composed, model.Commit{
		Parent:    baseID,
		Subject:   subject,
		Body:      o.body,
		Timestamp: timestamp,
		Metadata:  metadata,
	})
	if err != nil {
		return "", ErrComposeGivenUp.WrapWithLog(logger, err)
	}
	if err := repo.AdvanceBranch(ctx, o.branch, id); err != nil {
		return "", ErrComposeGivenUp.WrapWithLog(logger, err)
	}
	logger.Info("union commit created",
		zap.String("commit", id.String()),
		zap.String("version", metadata[model.MetadataVersion]),
		zap.Int("changesets", len(sets)),
		zap.Int("added", stats.Added),
		zap.Int("replaced", stats.Replaced),
		zap.Int("deleted", stats.Deleted),
		zap.Int("restored", stats.Restored),
	)
	return id, nil
}

// Layer applies change sets in order onto a copy of a tree.
//
// Directories already present keep their metadata unless a sidecar entry says otherwise.
// Sidecar entries of a layer are superseded by any later layer writing or deleting the same path.
func Layer(base *fstree.Tree, sets []*changeset.ChangeSet, l *zap.Logger) (*fstree.Tree, Stats, error) {
	if l == nil {
		l = zap.NewNop()
	}
	var stats Stats
	tree := base.Clone()
	pending := make(map[string]fstree.Meta)

	for _, cs := range sets {
		var layer Stats
		for _, d := range cs.Deletions() {
			if d.Opaque {
				layer.Deleted += tree.DeleteChildren(d.Path)
				forget(pending, d.Path, false)
				l.Debug("opaque directory", zap.String("changeset", cs.Name), zap.String("path", d.Path))
				continue
			}
			layer.Deleted += tree.Delete(d.Path)
			forget(pending, d.Path, true)
			l.Debug("deleted", zap.String("changeset", cs.Name), zap.String("path", d.Path))
		}

		err := cs.Tree.Walk(func(n *fstree.Node) error {
			existing, found := tree.Get(n.Path)
			switch {
			case !found:
				layer.Added++
			case existing.IsDir() && n.IsDir():
				return nil
			case existing.IsDir():
				forget(pending, n.Path, false)
				layer.Replaced++
			default:
				layer.Replaced++
			}
			delete(pending, n.Path)
			return tree.Insert(n)
		})
		if err != nil {
			return nil, stats, ErrInvalidChangeSet.WrapMessage("%s", cs.Name).Wrap(err)
		}
		for _, e := range cs.Attributes.Entries() {
			pending[e.Path] = e.Meta
		}
		l.Debug("change set applied",
			zap.String("changeset", cs.Name),
			zap.Int("added", layer.Added),
			zap.Int("replaced", layer.Replaced),
			zap.Int("deleted", layer.Deleted),
			zap.Int("attributes", cs.Attributes.Len()),
		)
		stats.Added += layer.Added
		stats.Replaced += layer.Replaced
		stats.Deleted += layer.Deleted
	}

	rec := attrs.NewRecord()
	for p, meta := range pending {
		rec.Set(attrs.Entry{Path: p, Meta: meta})
	}
	if err := attrs.Restore(tree, rec); err != nil {
		return nil, stats, err
	}
	stats.Restored = rec.Len()
	return tree, stats, nil
}

// forget drops the pending sidecar entries of the descendants of dir, and of dir itself with self
func forget(pending map[string]fstree.Meta, dir string, self bool) {
	for p := range pending {
		if (self && p == dir) || dir == "" || strings.HasPrefix(p, dir+"/") {
			delete(pending, p)
		}
	}
}
