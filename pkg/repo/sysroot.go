package repo

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/oneconcern/tcbuilder/pkg/ostree"
	"go.uber.org/zap"
)

func joinSlash(dir, rel string) string {
	return filepath.Join(dir, filepath.FromSlash(rel))
}

// Import commits the checkout of the deployment. The merged /etc of the checkout is left
// out: the configuration shipped by the image is under usr/etc.
func (r *objectRepo) Import(ctx context.Context, src Sysroot, c model.Commit) (model.CommitID, error) {
	tree, err := fstree.LoadDir(src.Fs, src.DeploymentDir(),
		fstree.WithMetaReader(fstree.OSMeta),
		fstree.WithSkip(func(rel string, _ os.FileInfo) bool { return rel == "etc" }),
	)
	if err != nil {
		return "", err
	}
	if kargs := src.Deployment.Kargs; kargs != "" {
		metadata := make(map[string]string, len(c.Metadata)+1)
		for k, v := range c.Metadata {
			metadata[k] = v
		}
		if _, ok := metadata[ostree.MetadataKargs]; !ok {
			metadata[ostree.MetadataKargs] = kargs
		}
		c.Metadata = metadata
	}
	return r.CreateCommit(ctx, tree, c)
}

// Deploy lays out the system root the way ostree admin deploy does for a U-Boot device,
// without the repository objects
func (r *objectRepo) Deploy(ctx context.Context, id model.CommitID, o DeployOptions, w io.Writer) error {
	c, err := r.ReadCommit(ctx, id)
	if err != nil {
		return err
	}
	tree, err := r.ReadTree(ctx, id)
	if err != nil {
		return err
	}
	sysroot, err := sysrootTree(id, tree, o)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := fstree.WriteTar(w, sysroot, fstree.WithModTime(c.Timestamp))
	if err != nil {
		return err
	}
	r.l.Info("system root written", zap.Stringer("commit", id), zap.Int("entries", sysroot.Len()), zap.Int64("size", n))
	return nil
}

func sysrootTree(id model.CommitID, tree *fstree.Tree, o DeployOptions) (*fstree.Tree, error) {
	osName := o.osName()
	d := ostree.Deployment{OS: osName, Checksum: string(id)}
	bootLink := path.Join("ostree", "boot.1", osName, string(id), "0")
	options := strings.TrimSpace(o.Kargs + " ostree=/" + bootLink)
	entry := "title TorizonCore\nversion 1\noptions " + options + "\n"
	file := func(p, content string) *fstree.Node {
		return &fstree.Node{Path: p, Type: fstree.TypeFile, Size: int64(len(content)), Content: fstree.Bytes(content), Meta: fstree.Meta{Mode: 0644}}
	}
	link := func(p, target string) *fstree.Node {
		return &fstree.Node{Path: p, Type: fstree.TypeSymlink, Target: target, Meta: fstree.Meta{Mode: 0777}}
	}
	dir := func(p string) *fstree.Node {
		return &fstree.Node{Path: p, Type: fstree.TypeDir, Meta: fstree.DefaultDirMeta}
	}

	out := fstree.New()
	for _, n := range []*fstree.Node{
		dir("boot/loader.1/entries"),
		link("boot/loader", "loader.1"),
		file("boot/loader.1/uEnv.txt", ""),
		file("boot/loader.1/entries/ostree-1-"+osName+".conf", entry),
		dir(ostree.RepoDir),
		link(bootLink, "../../../deploy/"+osName+"/deploy/"+string(id)+".0"),
		dir(d.Dir()),
		file(d.Dir()+".origin", "[origin]\nrefspec="+string(id)+"\n"),
		dir(ostree.VarDir(osName)),
	} {
		if err := out.InsertWithParents(n, fstree.DefaultDirMeta); err != nil {
			return nil, err
		}
	}
	if err := out.Graft(d.Dir(), tree, fstree.DefaultDirMeta); err != nil {
		return nil, err
	}
	if etc, ok := tree.Sub("usr/etc"); ok {
		usrEtc, _ := tree.Get("usr/etc")
		if err := out.InsertWithParents(&fstree.Node{Path: d.Dir() + "/etc", Type: fstree.TypeDir, Meta: usrEtc.Meta}, fstree.DefaultDirMeta); err != nil {
			return nil, err
		}
		if err := out.Graft(d.Dir()+"/etc", etc, fstree.DefaultDirMeta); err != nil {
			return nil, err
		}
	}
	if err := addUnmanaged(out, o.Source, osName); err != nil {
		return nil, err
	}
	return out, nil
}

// addUnmanaged copies the home directories and the boot script of the source system root
func addUnmanaged(out *fstree.Tree, src Sysroot, osName string) error {
	if src.Fs == nil || src.Dir == "" {
		return nil
	}
	srcOS := src.Deployment.OS
	if srcOS == "" {
		srcOS = osName
	}
	homes := path.Join(ostree.VarDir(srcOS), ostree.HomeDirs)
	sub, err := fstree.LoadDir(src.Fs, joinSlash(src.Dir, homes), fstree.WithMetaReader(fstree.OSMeta))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return err
	default:
		dest := path.Join(ostree.VarDir(osName), ostree.HomeDirs)
		if err := out.InsertWithParents(&fstree.Node{Path: dest, Type: fstree.TypeDir, Meta: fstree.DefaultDirMeta}, fstree.DefaultDirMeta); err != nil {
			return err
		}
		if err := out.Graft(dest, sub, fstree.DefaultDirMeta); err != nil {
			return err
		}
	}

	script := joinSlash(src.Dir, ostree.BootScript)
	fi, err := src.Fs.Stat(script)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	fs := src.Fs
	content := fstree.ContentFunc(func() (io.ReadCloser, error) {
		return fs.Open(script)
	})
	return out.Insert(&fstree.Node{Path: ostree.BootScript, Type: fstree.TypeFile, Size: fi.Size(), Meta: fstree.Meta{Mode: fi.Mode().Perm()}, Content: content})
}
