package push

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/oneconcern/tcbuilder/pkg/remote"
	"github.com/oneconcern/tcbuilder/pkg/repo"
	"go.uber.org/zap"
)

const (
	// DefaultPort of the repository forwarded to the device
	DefaultPort = 8080

	// RemoteName is the OSTree remote configured on the device
	RemoteName = "tcbuilder"

	stagedMark = "(staged)"
)

// bootEnv prepares U-Boot to try the new deployment: a fresh boot counter, no pending rollback
var bootEnv = []string{
	"fw_setenv bootcount 0",
	"fw_setenv rollback 0",
	"fw_setenv upgrade_available 1",
}

// Source of the commits pushed to a device
type Source interface {
	Resolve(context.Context, string) (model.CommitID, error)
	ReadCommit(context.Context, model.CommitID) (*model.Commit, error)

	// Handler serves the OSTree repository holding the commits
	Handler() http.Handler
}

// Device runs commands and reaches back to the host through the connection
type Device interface {
	remote.Transport

	// Forward serves h on addr of the device until closed
	Forward(addr string, h http.Handler) (io.Closer, error)
}

var (
	_ Device = &remote.Client{}
	_ Source = &repo.OSTreeStore{}
)

type options struct {
	port    int
	reboot  bool
	bootEnv bool
	l       *zap.Logger
}

// Option for Push
type Option func(*options)

// WithPort sets the port the repository is served on, on the loopback interface of the device
func WithPort(port int) Option {
	return func(o *options) {
		if port > 0 {
			o.port = port
		}
	}
}

// WithReboot reboots the device once the deployment is staged
func WithReboot(reboot bool) Option {
	return func(o *options) {
		o.reboot = reboot
	}
}

// WithBootEnv toggles the update of the bootloader environment
func WithBootEnv(enabled bool) Option {
	return func(o *options) {
		o.bootEnv = enabled
	}
}

// WithLogger for the push
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.l = l
		}
	}
}

// Push deploys a commit, given by id or branch name, to a device.
//
// The device pulls the commit from the repository of src, served through the connection,
// then stages a deployment of it. The bootloader environment is left untouched unless the
// device reports the deployment as staged.
func Push(ctx context.Context, src Source, ref string, dev Device, opts ...Option) error {
	o := options{port: DefaultPort, bootEnv: true, l: zap.NewNop()}
	for _, apply := range opts {
		apply(&o)
	}
	id, err := src.Resolve(ctx, ref)
	if err != nil {
		return ErrCommitNotFound.WrapMessage("%s", ref).Wrap(err)
	}
	commit, err := src.ReadCommit(ctx, id)
	if err != nil {
		return ErrCommitNotFound.WrapMessage("%s", ref).Wrap(err)
	}
	logger := o.l.With(zap.String("commit", id.Short()))

	port := strconv.Itoa(o.port)
	fwd, err := dev.Forward(net.JoinHostPort("127.0.0.1", port), src.Handler())
	if err != nil {
		return ErrPush.Wrap(err)
	}
	defer func() {
		if err := fwd.Close(); err != nil {
			logger.Warn("could not stop serving the repository", zap.Error(err))
		}
	}()
	logger.Debug("repository served to the device", zap.Int("port", o.port))

	d := &deployer{dev: dev, l: logger}
	ostreeRef := RemoteName + ":" + id.String()
	for _, line := range []string{
		remote.Join("ostree", "remote", "add", "--no-gpg-verify", "--force", RemoteName, "http://localhost:"+port+"/"),
		remote.Join("ostree", "pull", ostreeRef),
		remote.Join("ostree", "admin", "deploy", "--stage", ostreeRef),
	} {
		if err := d.run(ctx, line); err != nil {
			return ErrPush.Wrap(err)
		}
	}
	if err := d.checkStaged(ctx, id); err != nil {
		return err
	}
	logger.Info("deployment staged", zap.String("version", commit.ImageVersion()))

	if o.bootEnv {
		for _, line := range bootEnv {
			if err := d.run(ctx, line); err != nil {
				return ErrPush.Wrap(err)
			}
		}
	}
	if err := d.run(ctx, "ostree admin finalize-staged"); err != nil {
		return ErrPush.Wrap(err)
	}
	logger.Info("deployment finalized")

	if o.reboot {
		// a reboot in the foreground may cut the session before the exit status is sent
		if err := d.run(ctx, "sh -c 'reboot &'"); err != nil {
			return ErrPush.Wrap(err)
		}
		logger.Info("device reboot initiated")
		return nil
	}
	logger.Info("please reboot the device to boot into the new deployment")
	return nil
}

type deployer struct {
	dev Device
	l   *zap.Logger
}

func (d *deployer) run(ctx context.Context, line string) error {
	return d.dev.Run(ctx, remote.Command{Line: line, Sudo: true})
}

// checkStaged looks for the commit among the deployments the device lists as staged
func (d *deployer) checkStaged(ctx context.Context, id model.CommitID) error {
	out, err := remote.Output(ctx, d.dev, "ostree admin status", true)
	if err != nil {
		return ErrPush.Wrap(err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, id.String()) && strings.Contains(line, stagedMark) {
			return nil
		}
	}
	d.l.Debug("deployments of the device", zap.String("status", string(out)))
	return ErrNotStaged.WrapMessage("%s", id)
}
