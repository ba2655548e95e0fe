package cmd

import (
	"os"

	"github.com/oneconcern/tcbuilder/pkg/build"
	"github.com/oneconcern/tcbuilder/pkg/image"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build images as described by a manifest",
	Long: `Build images as described by a manifest.

The manifest names the input image, its customizations and the images to produce. It is
validated before anything runs, and every problem found is reported.

Values of the manifest may refer to variables, as ${NAME}, ${NAME:-default} or $NAME,
assigned with --set NAME=VALUE.

The device tree, splash screen and kernel customizations, and container bundles made from
a compose file, run external executors configured under steps in tcbuilder.yaml.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := tcbFlags.build
		fs := afero.NewOsFs()
		if f.createTemplate {
			if err := build.WriteTemplate(fs, f.file); err != nil {
				if os.IsExist(err) {
					return errUsage.WrapMessage("%s already exists", f.file)
				}
				return err
			}
			infoLogger.Printf("Manifest template written to %s", f.file)
			return nil
		}

		vars, err := build.ParseAssignments(f.assignments)
		if err != nil {
			return err
		}
		if f.noSubst {
			vars = nil
		}
		data, err := afero.ReadFile(fs, f.file)
		if err != nil {
			return errUsage.WrapMessage("cannot read the manifest").Wrap(err)
		}
		m, err := build.Parse(data, f.file, vars)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		h, release, err := lockArea(ctx)
		if err != nil {
			return err
		}
		defer release()
		opts := []build.RunOption{
			build.WithSteps(config.steps()),
			build.WithFetcher(newFetcher()),
			build.WithDownloadDir(downloadDir(f.downloadDir)),
			build.WithLogger(logger),
		}
		if config.Block.Mkfs != "" {
			opts = append(opts, build.WithFilesystemBuilder(&image.MkfsBuilder{Command: config.Block.Mkfs}))
		}
		images, err := build.Run(ctx, h, m, opts...)
		if err != nil {
			return err
		}
		for i := range images {
			printImage(&images[i])
		}
		return nil
	},
}

func init() {
	addBuildFlags(buildCmd)

	rootCmd.AddCommand(buildCmd)
}
