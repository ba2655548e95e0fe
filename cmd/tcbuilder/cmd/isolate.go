package cmd

import (
	"context"

	"github.com/oneconcern/tcbuilder/pkg/changeset"
	"github.com/oneconcern/tcbuilder/pkg/fstree"
	"github.com/oneconcern/tcbuilder/pkg/isolate"
	"github.com/oneconcern/tcbuilder/pkg/remote"
	"github.com/oneconcern/tcbuilder/pkg/storagearea"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var isolateCmd = &cobra.Command{
	Use:   "isolate",
	Short: "Isolate the configuration changes of a device",
	Long: `Isolate the configuration changes of a device.

The /etc directory of the device is compared with /usr/etc, the configuration shipped by
its image. Added, modified and removed entries are written as a change set, with ownership
and permissions kept in sidecar files.

The device is reached over SSH with --remote-host. With --local-root, a root filesystem
available as a directory is compared with the base commit instead.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := tcbFlags.isolate
		if (tcbFlags.remote.host == "") == (f.localRoot == "") {
			return errUsage.WrapMessage("exactly one of --remote-host or --local-root is required")
		}
		ctx := cmd.Context()
		h, release, err := lockArea(ctx)
		if err != nil {
			return err
		}
		defer release()

		b, err := config.baseline()
		if err != nil {
			return err
		}
		opts := []isolate.Option{
			isolate.WithIgnore(config.Isolate.Ignore...),
			isolate.WithBaseline(b),
			isolate.WithLogger(logger),
		}
		var cs *changeset.ChangeSet
		var stats isolate.Stats
		if f.localRoot != "" {
			cs, stats, err = isolateLocal(ctx, h, f.localRoot, opts)
		} else {
			cs, stats, err = isolateRemote(ctx, config.remoteConfig(&tcbFlags), opts)
		}
		if err != nil {
			return err
		}
		if isolate.IsEmpty(cs) {
			infoLogger.Println("No changes found")
		}

		dir := f.changesDir
		if dir == "" {
			dir = h.Area().Path(storagearea.ChangesDir)
		}
		if err := isolate.ToDirectory(ctx, h.Area().Fs(), dir, f.force, cs); err != nil {
			return err
		}
		infoLogger.Printf("Changes isolated in %s: %d added, %d modified, %d deleted, %d ignored",
			dir, stats.Added, stats.Modified, stats.Deleted, stats.Ignored)
		return nil
	},
}

// isolateLocal compares a root filesystem directory with the base commit
func isolateLocal(ctx context.Context, h *storagearea.Handle, root string, opts []isolate.Option) (*changeset.ChangeSet, isolate.Stats, error) {
	st, err := h.Area().RequireBase()
	if err != nil {
		return nil, isolate.Stats{}, err
	}
	reference, err := h.Repo().ReadTree(ctx, st.Base)
	if err != nil {
		return nil, isolate.Stats{}, err
	}
	src := &isolate.DirSource{Fs: afero.NewOsFs(), Root: root, L: logger}
	live, err := src.Tree(ctx, isolate.LiveScope)
	if err != nil {
		return nil, isolate.Stats{}, err
	}
	return isolate.Diff(ctx, reference, live, opts...)
}

// isolateRemote reads both the live and the reference configuration from the device
func isolateRemote(ctx context.Context, cfg remote.Config, opts []isolate.Option) (*changeset.ChangeSet, isolate.Stats, error) {
	client, err := remote.Dial(ctx, cfg, remote.WithLogger(logger))
	if err != nil {
		return nil, isolate.Stats{}, err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("could not close the connection", zap.Error(err))
		}
	}()
	src := &isolate.RemoteSource{Transport: client, L: logger}
	var tree *fstree.Tree
	if tree, err = src.Tree(ctx, isolate.LiveScope, isolate.ReferenceScope); err != nil {
		return nil, isolate.Stats{}, err
	}
	return isolate.Diff(ctx, tree, tree, opts...)
}

func init() {
	addRemoteFlags(isolateCmd)
	addLocalRootFlag(isolateCmd)
	addChangesDirFlag(isolateCmd)
	addForceFlag(isolateCmd)

	rootCmd.AddCommand(isolateCmd)
}
