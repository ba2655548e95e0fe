package cmd

import (
	"github.com/oneconcern/tcbuilder/pkg/image"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var combineCmd = &cobra.Command{
	Use:   "combine <image directory>",
	Short: "Add a container bundle to an installer image",
	Long: `Add a container bundle to an installer image.

The bundle is merged into a copy of the image written to --output-directory, or into the
image itself when no output is given. An image already holding containers is refused.`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		if tcbFlags.image.bundleDir == "" {
			return errUsage.WrapMessage("--bundle-directory is required")
		}
		img, err := image.Combine(cmd.Context(), afero.NewOsFs(), args[0], tcbFlags.image.bundleDir, tcbFlags.combine.outputDir, imageOptions(cmd)...)
		if err != nil {
			return err
		}
		printImage(img)
		return nil
	},
}

func init() {
	addOutputDirFlag(combineCmd, &tcbFlags.combine.outputDir)
	addBundleDirFlag(combineCmd)
	addImageFlags(combineCmd)

	rootCmd.AddCommand(combineCmd)
}
