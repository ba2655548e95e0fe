package repo

import (
	"context"
	"io"
	"os"

	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/oneconcern/tcbuilder/pkg/ostree"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const defaultConcurrency = 8

// Reader gives read access to commits and branches
type Reader interface {
	ReadCommit(context.Context, model.CommitID) (*model.Commit, error)
	ReadTree(context.Context, model.CommitID) (*fstree.Tree, error)
	Resolve(context.Context, string) (model.CommitID, error)
	ListBranches(context.Context) ([]model.Branch, error)
}

// Store is a commit repository
type Store interface {
	Reader

	// CreateCommit stores a tree and a commit descriptor. The ID of the commit argument is ignored.
	CreateCommit(context.Context, *fstree.Tree, model.Commit) (model.CommitID, error)

	// AdvanceBranch points a branch at a commit, atomically
	AdvanceBranch(context.Context, string, model.CommitID) error

	// Verify checks the objects of a commit are all present and intact
	Verify(context.Context, model.CommitID) error

	// Import takes the deployed commit of a system root into the repository. The commit
	// argument describes it when the store has to create it.
	Import(context.Context, Sysroot, model.Commit) (model.CommitID, error)

	// Deploy writes a system root deploying a commit to w, as a tar stream
	Deploy(context.Context, model.CommitID, DeployOptions, io.Writer) error

	// Close releases the scratch files backing trees read so far
	Close() error
}

// Sysroot is an unpacked system root
type Sysroot struct {
	Fs         afero.Fs
	Dir        string
	Deployment ostree.Deployment
}

// DeploymentDir is the checkout of the deployed commit
func (s Sysroot) DeploymentDir() string {
	return joinSlash(s.Dir, s.Deployment.Dir())
}

// DeployOptions tune Deploy
type DeployOptions struct {
	// Source is the system root of the base image: the parts of it OSTree does not manage are copied
	Source Sysroot

	// OS name of the deployment. Defaults to the one of the source deployment.
	OS string

	// Kargs are the kernel arguments of the boot loader entry
	Kargs string
}

func (o DeployOptions) osName() string {
	switch {
	case o.OS != "":
		return o.OS
	case o.Source.Deployment.OS != "":
		return o.Source.Deployment.OS
	}
	return ostree.DefaultOS
}

type config struct {
	l           *zap.Logger
	concurrency int
	scratch     string
}

func newConfig(opts []Option) config {
	c := config{l: zap.NewNop(), concurrency: defaultConcurrency, scratch: os.TempDir()}
	for _, apply := range opts {
		apply(&c)
	}
	return c
}

// Option for the repository
type Option func(*config)

// Logger for the repository
func Logger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.l = l
		}
	}
}

// Concurrency sets the maximum number of concurrent object uploads
func Concurrency(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// Scratch sets the directory receiving temporary files
func Scratch(dir string) Option {
	return func(c *config) {
		if dir != "" {
			c.scratch = dir
		}
	}
}
