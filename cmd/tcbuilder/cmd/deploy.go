package cmd

import (
	"context"

	"github.com/oneconcern/tcbuilder/pkg/image"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/oneconcern/tcbuilder/pkg/push"
	"github.com/oneconcern/tcbuilder/pkg/remote"
	"github.com/oneconcern/tcbuilder/pkg/storagearea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var deployCmd = &cobra.Command{
	Use:   "deploy <commit or branch>",
	Short: "Deploy a commit as an image, or to a device",
	Long: `Deploy a commit as an image, or to a device.

With --output-directory, an installer archive is made from the unpacked archive image.
With --output-image, a raw block image is made from the unpacked raw image, or from the
one given with --base-image. With --remote-host, the device pulls the commit from the
storage area through the SSH connection and stages it with OSTree.

Outputs are never replaced: a failed deployment leaves nothing behind.`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := tcbFlags.deploy
		targets := 0
		for _, t := range []string{f.outputDir, f.outputImage, tcbFlags.remote.host} {
			if t != "" {
				targets++
			}
		}
		if targets != 1 {
			return errUsage.WrapMessage("exactly one of --output-directory, --output-image or --remote-host is required")
		}

		ctx := cmd.Context()
		h, release, err := lockArea(ctx)
		if err != nil {
			return err
		}
		defer release()

		ref := args[0]
		if tcbFlags.remote.host != "" {
			return pushCommit(ctx, h, ref, config.remoteConfig(&tcbFlags))
		}
		opts := imageOptions(cmd)
		output := f.outputDir
		if f.outputImage != "" {
			output = f.outputImage
			opts = append(opts,
				image.WithLayout(model.LayoutBlock),
				image.WithTemplate(f.baseImage),
				image.WithLabel(f.label),
			)
		} else {
			opts = append(opts, image.WithLayout(model.LayoutArchive))
		}
		img, err := image.Materialize(ctx, h, ref, output, opts...)
		if err != nil {
			return err
		}
		printImage(img)
		return nil
	},
}

func pushCommit(ctx context.Context, h *storagearea.Handle, ref string, cfg remote.Config) error {
	src, ok := h.Repo().(push.Source)
	if !ok {
		return push.ErrNoRepository.WrapMessage("%s", h.Area().Path())
	}
	client, err := remote.Dial(ctx, cfg, remote.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("could not close the connection", zap.Error(err))
		}
	}()
	err = push.Push(ctx, src, ref, client,
		push.WithPort(tcbFlags.deploy.repoPort),
		push.WithReboot(tcbFlags.deploy.reboot),
		push.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	infoLogger.Printf("%s deployed to %s", ref, cfg.Host)
	return nil
}

func init() {
	addOutputDirFlag(deployCmd, &tcbFlags.deploy.outputDir)
	addDeployFlags(deployCmd)
	addImageFlags(deployCmd)
	addBundleDirFlag(deployCmd)
	addRemoteFlags(deployCmd)

	rootCmd.AddCommand(deployCmd)
}
