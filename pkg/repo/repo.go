package repo

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"io/ioutil"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oneconcern/tcbuilder/pkg/errors"
	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/oneconcern/tcbuilder/pkg/storage"
	"github.com/minio/blake2b-simd"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// New commit repository, with objects in a store and branches in a reference store.
//
// The repository is kept by tcbuilder itself: it serves storage areas which OSTree cannot
// reach, such as in-memory filesystems.
func New(objects storage.Store, refs RefStore, opts ...Option) Store {
	c := newConfig(opts)
	return &objectRepo{
		objects:     objects,
		refs:        refs,
		l:           c.l,
		concurrency: c.concurrency,
	}
}

type objectRepo struct {
	objects     storage.Store
	refs        RefStore
	l           *zap.Logger
	concurrency int
}

type aclRecord struct {
	Tag  uint8  `yaml:"tag"`
	ID   int    `yaml:"id,omitempty"`
	Perm uint32 `yaml:"perm"`
}

type treeRecord struct {
	Path   string      `yaml:"path"`
	Type   string      `yaml:"type"`
	Mode   uint32      `yaml:"mode"`
	UID    int         `yaml:"uid"`
	GID    int         `yaml:"gid"`
	ACL    []aclRecord `yaml:"acl,omitempty"`
	Size   int64       `yaml:"size,omitempty"`
	Target string      `yaml:"target,omitempty"`
	Digest string      `yaml:"digest,omitempty"`
}

type treeListing struct {
	Version uint64       `yaml:"version"`
	Entries []treeRecord `yaml:"entries"`
}

var typeNames = map[fstree.Type]string{
	fstree.TypeFile:    "file",
	fstree.TypeDir:     "dir",
	fstree.TypeSymlink: "symlink",
}

func typeFromName(name string) (fstree.Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

type errorHit struct {
	error
	path string
}

func (r *objectRepo) putObject(ctx context.Context, key string, data io.Reader) error {
	err := r.objects.Put(ctx, key, data, storage.NoOverWrite)
	if err != nil && !errors.Is(err, storage.ErrExists) {
		return err
	}
	return nil
}

// storeContents uploads the content of every regular file not yet in the object store
func (r *objectRepo) storeContents(ctx context.Context, tree *fstree.Tree) error {
	var files []*fstree.Node
	_ = tree.Walk(func(n *fstree.Node) error {
		if n.Type == fstree.TypeFile {
			files = append(files, n)
		}
		return nil
	})

	var wg sync.WaitGroup
	errC := make(chan errorHit, len(files))
	concurrencyControl := make(chan struct{}, r.concurrency)
	for _, f := range files {
		wg.Add(1)
		go func(n *fstree.Node, cc chan struct{}) {
			cc <- struct{}{}
			defer func() {
				<-cc
			}()
			defer wg.Done()

			if ctx.Err() != nil {
				errC <- errorHit{ctx.Err(), n.Path}
				return
			}
			digest, err := n.ComputeDigest()
			if err != nil {
				errC <- errorHit{err, n.Path}
				return
			}
			key := model.GetArchivePathToContent(digest)
			has, err := r.objects.Has(ctx, key)
			if err != nil {
				errC <- errorHit{err, n.Path}
				return
			}
			if has {
				return
			}
			if err := r.putContent(ctx, key, digest, n); err != nil {
				errC <- errorHit{err, n.Path}
			}
		}(f, concurrencyControl)
	}
	wg.Wait()
	select {
	case eh := <-errC:
		return errors.New("store content of " + eh.path).Wrap(eh.error)
	default:
		return nil
	}
}

// putContent streams the content of a file to the store, checking its digest on the way
func (r *objectRepo) putContent(ctx context.Context, key, digest string, n *fstree.Node) error {
	var rdr io.ReadCloser = ioutil.NopCloser(bytes.NewReader(nil))
	if n.Content != nil {
		var err error
		if rdr, err = n.Content.Open(); err != nil {
			return err
		}
	}
	defer rdr.Close()
	h := blake2b.New256()
	err := r.objects.Put(ctx, key, io.TeeReader(rdr, h), storage.NoOverWrite)
	if errors.Is(err, storage.ErrExists) {
		return nil
	}
	if err != nil {
		return err
	}
	if hex.EncodeToString(h.Sum(nil)) != digest {
		_ = r.objects.Delete(ctx, key)
		return ErrCorruptObject.WrapMessage("content of %s changed while committing", n.Path)
	}
	return nil
}

func encodeTree(tree *fstree.Tree) ([]byte, error) {
	listing := treeListing{Version: model.CurrentCommitVersion, Entries: make([]treeRecord, 0, tree.Len())}
	err := tree.Walk(func(n *fstree.Node) error {
		rec := treeRecord{
			Path:   n.Path,
			Type:   typeNames[n.Type],
			Mode:   uint32(n.Meta.Perm()),
			UID:    n.Meta.UID,
			GID:    n.Meta.GID,
			Target: n.Target,
		}
		for _, e := range n.Meta.Normalize().ACL {
			rec.ACL = append(rec.ACL, aclRecord{Tag: uint8(e.Tag), ID: e.ID, Perm: uint32(e.Perm)})
		}
		if n.Type == fstree.TypeFile {
			digest, err := n.ComputeDigest()
			if err != nil {
				return err
			}
			rec.Size, rec.Digest = n.Size, digest
		}
		listing.Entries = append(listing.Entries, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(listing)
}

// CreateCommit stores the tree contents, the tree listing, then the commit descriptor.
//
// Objects are content-addressed: storing them again is harmless, and nothing is visible
// until a branch is advanced to the new commit.
func (r *objectRepo) CreateCommit(ctx context.Context, tree *fstree.Tree, c model.Commit) (model.CommitID, error) {
	if !c.Parent.IsZero() {
		if _, err := r.ReadCommit(ctx, c.Parent); err != nil {
			return "", err
		}
	}
	start := time.Now()
	if err := r.storeContents(ctx, tree); err != nil {
		return "", err
	}
	listing, err := encodeTree(tree)
	if err != nil {
		return "", err
	}
	treeDigest := fstree.DigestBytes(listing)
	if err = r.putObject(ctx, model.GetArchivePathToTree(treeDigest), bytes.NewReader(listing)); err != nil {
		return "", err
	}

	c.ID = ""
	c.Version = model.CurrentCommitVersion
	c.Tree = treeDigest
	c.Timestamp = c.Timestamp.UTC()
	if len(c.Metadata) == 0 {
		c.Metadata = nil
	}
	descriptor, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	id := model.CommitID(fstree.DigestBytes(descriptor))
	if err = r.putObject(ctx, model.GetArchivePathToCommit(id), bytes.NewReader(descriptor)); err != nil {
		return "", err
	}
	r.l.Info("created commit",
		zap.Stringer("commit", id),
		zap.Stringer("parent", c.Parent),
		zap.Int("entries", tree.Len()),
		zap.Duration("took", time.Since(start)),
	)
	return id, nil
}

func (r *objectRepo) getObject(ctx context.Context, key string) ([]byte, error) {
	rdr, err := r.objects.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rdr.Close()
	return ioutil.ReadAll(rdr)
}

func (r *objectRepo) ReadCommit(ctx context.Context, id model.CommitID) (*model.Commit, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	descriptor, err := r.getObject(ctx, model.GetArchivePathToCommit(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrCommitNotFound.WrapMessage("%s", id)
		}
		return nil, err
	}
	if fstree.DigestBytes(descriptor) != string(id) {
		return nil, ErrCorruptObject.WrapMessage("commit %s", id)
	}
	var c model.Commit
	if err := yaml.Unmarshal(descriptor, &c); err != nil {
		return nil, ErrCorruptObject.WrapMessage("commit %s", id).Wrap(err)
	}
	c.ID = id
	return &c, nil
}

func (r *objectRepo) readListing(ctx context.Context, c *model.Commit) (*treeListing, error) {
	raw, err := r.getObject(ctx, model.GetArchivePathToTree(c.Tree))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrDanglingObject.WrapMessage("tree %s of commit %s", c.Tree, c.ID)
		}
		return nil, err
	}
	if fstree.DigestBytes(raw) != c.Tree {
		return nil, ErrCorruptObject.WrapMessage("tree %s", c.Tree)
	}
	var listing treeListing
	if err := yaml.Unmarshal(raw, &listing); err != nil {
		return nil, ErrCorruptObject.WrapMessage("tree %s", c.Tree).Wrap(err)
	}
	return &listing, nil
}

// ReadTree rebuilds the tree of a commit. File contents are read lazily from the object store.
func (r *objectRepo) ReadTree(ctx context.Context, id model.CommitID) (*fstree.Tree, error) {
	c, err := r.ReadCommit(ctx, id)
	if err != nil {
		return nil, err
	}
	listing, err := r.readListing(ctx, c)
	if err != nil {
		return nil, err
	}
	tree := fstree.New()
	for _, rec := range listing.Entries {
		typ, ok := typeFromName(rec.Type)
		if !ok {
			return nil, ErrCorruptObject.WrapMessage("tree %s: %s has unknown type %q", c.Tree, rec.Path, rec.Type)
		}
		meta := fstree.Meta{UID: rec.UID, GID: rec.GID, Mode: os.FileMode(rec.Mode)}
		for _, a := range rec.ACL {
			meta.ACL = append(meta.ACL, fstree.ACLEntry{Tag: fstree.ACLTag(a.Tag), ID: a.ID, Perm: os.FileMode(a.Perm)})
		}
		n := &fstree.Node{Path: rec.Path, Type: typ, Meta: meta, Target: rec.Target}
		if typ == fstree.TypeFile {
			n.Size, n.Digest = rec.Size, rec.Digest
			n.Content = r.lazyContent(ctx, rec.Digest)
		}
		if err := tree.Insert(n); err != nil {
			return nil, ErrCorruptObject.WrapMessage("tree %s", c.Tree).Wrap(err)
		}
	}
	return tree, nil
}

func (r *objectRepo) lazyContent(ctx context.Context, digest string) fstree.Content {
	return fstree.ContentFunc(func() (rc io.ReadCloser, err error) {
		rc, err = r.objects.Get(ctx, model.GetArchivePathToContent(digest))
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrDanglingObject.WrapMessage("content %s", digest)
		}
		return rc, err
	})
}

// Verify all contents of a commit are present and match their digest
func (r *objectRepo) Verify(ctx context.Context, id model.CommitID) error {
	c, err := r.ReadCommit(ctx, id)
	if err != nil {
		return err
	}
	listing, err := r.readListing(ctx, c)
	if err != nil {
		return err
	}
	checked := make(map[string]struct{})
	for _, rec := range listing.Entries {
		if rec.Type != typeNames[fstree.TypeFile] {
			continue
		}
		if _, ok := checked[rec.Digest]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.verifyContent(ctx, rec); err != nil {
			return err
		}
		checked[rec.Digest] = struct{}{}
	}
	r.l.Debug("commit verified", zap.Stringer("commit", id), zap.Int("contents", len(checked)))
	return nil
}

func (r *objectRepo) verifyContent(ctx context.Context, rec treeRecord) error {
	rdr, err := r.objects.Get(ctx, model.GetArchivePathToContent(rec.Digest))
	if errors.Is(err, storage.ErrNotFound) {
		return ErrDanglingObject.WrapMessage("%s (content %s)", rec.Path, rec.Digest)
	}
	if err != nil {
		return err
	}
	defer rdr.Close()
	h := blake2b.New256()
	if _, err := io.Copy(h, rdr); err != nil {
		return err
	}
	if hex.EncodeToString(h.Sum(nil)) != rec.Digest {
		return ErrCorruptObject.WrapMessage("%s (content %s)", rec.Path, rec.Digest)
	}
	return nil
}

// Close is a no-op: contents are read from the object store
func (r *objectRepo) Close() error {
	return nil
}

// Resolve a branch name, a full commit ID or a unique commit ID prefix
func (r *objectRepo) Resolve(ctx context.Context, ref string) (model.CommitID, error) {
	if ref == "" {
		return "", ErrRefNotFound.WrapMessage("empty reference")
	}
	if id, ok, err := r.refs.Get(ctx, ref); err != nil {
		return "", err
	} else if ok {
		return id, nil
	}
	if model.CommitID(ref).Validate() == nil {
		if _, err := r.ReadCommit(ctx, model.CommitID(ref)); err != nil {
			return "", err
		}
		return model.CommitID(ref), nil
	}
	if len(ref) < 4 || strings.Trim(ref, "0123456789abcdef") != "" {
		return "", ErrRefNotFound.WrapMessage("%s", ref)
	}
	keys, err := r.objects.Keys(ctx)
	if err != nil {
		return "", err
	}
	var matches []model.CommitID
	for _, key := range keys {
		apc, err := model.GetArchivePathComponents(key)
		if err != nil || apc.Kind != model.ObjectCommit {
			continue
		}
		if strings.HasPrefix(apc.Digest, ref) {
			matches = append(matches, model.CommitID(apc.Digest))
		}
	}
	switch len(matches) {
	case 0:
		return "", ErrRefNotFound.WrapMessage("%s", ref)
	case 1:
		return matches[0], nil
	default:
		return "", ErrAmbiguousRef.WrapMessage("%s matches %d commits", ref, len(matches))
	}
}

func (r *objectRepo) AdvanceBranch(ctx context.Context, name string, id model.CommitID) error {
	if err := model.ValidateBranchName(name); err != nil {
		return err
	}
	if _, err := r.ReadCommit(ctx, id); err != nil {
		return err
	}
	if err := r.refs.Set(ctx, name, id); err != nil {
		return err
	}
	r.l.Info("advanced branch", zap.String("branch", name), zap.Stringer("commit", id))
	return nil
}

func (r *objectRepo) ListBranches(ctx context.Context) ([]model.Branch, error) {
	branches, err := r.refs.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, nil
}
