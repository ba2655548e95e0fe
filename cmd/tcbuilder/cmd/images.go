package cmd

import (
	"github.com/docker/go-units"
	"github.com/oneconcern/tcbuilder/pkg/fetch"
	"github.com/oneconcern/tcbuilder/pkg/storagearea"
	"github.com/spf13/cobra"
)

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Manage the image of the storage area",
	Long: `Manage the image of the storage area.

The storage area holds one base image at a time: its root filesystem, committed on the
base branch, and everything else needed to deploy it again.`,
}

var imagesUnpack = &cobra.Command{
	Use:   "unpack <image>",
	Short: "Unpack an image into the storage area",
	Long: `Unpack an image into the storage area.

The image is an installer archive, as a directory or a tarball, or a raw block image (.wic,
.img). It may also be a http(s)://, s3:// or gs:// URL, optionally followed by
;sha256sum=<digest> and ;filename=<name>.`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, release, err := lockArea(cmd.Context())
		if err != nil {
			return err
		}
		defer release()

		source := args[0]
		if _, perr := fetch.ParseSource(source); perr == nil {
			if source, err = newFetcher().Fetch(cmd.Context(), source, downloadDir(tcbFlags.unpack.downloadDir)); err != nil {
				return err
			}
		}
		st, err := storagearea.Unpack(cmd.Context(), h, source, storagearea.UnpackOptions{
			Label:   tcbFlags.unpack.label,
			Replace: tcbFlags.unpack.removeStorage,
		})
		if err != nil {
			return err
		}
		infoLogger.Printf("Unpacked %s %s (%s), base commit %s", st.ImageName, st.ImageVersion, st.Layout, st.Base)
		return nil
	},
}

var imagesStatus = &cobra.Command{
	Use:   "status",
	Short: "Show the image unpacked in the storage area",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openArea()
		if err != nil {
			return err
		}
		defer closeArea(a)
		st, err := a.RequireBase()
		if err != nil {
			return err
		}
		infoLogger.Printf("Image:       %s", st.ImageName)
		infoLogger.Printf("Version:     %s", st.ImageVersion)
		infoLogger.Printf("Layout:      %s", st.Layout)
		infoLogger.Printf("Source:      %s", st.Source)
		infoLogger.Printf("Base commit: %s", st.Base)
		if st.Label != "" {
			infoLogger.Printf("Label:       %s", st.Label)
		}
		if st.Kargs != "" {
			infoLogger.Printf("Kernel args: %s", st.Kargs)
		}
		infoLogger.Printf("Unpacked:    %s ago", units.HumanDuration(now().Sub(st.UnpackedAt)))
		return nil
	},
}

var imagesClear = &cobra.Command{
	Use:   "clear",
	Short: "Remove everything from the storage area",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, release, err := lockArea(cmd.Context())
		if err != nil {
			return err
		}
		defer release()
		return h.Clear(cmd.Context())
	},
}

func init() {
	addRemoveStorageFlag(imagesUnpack)
	addRootfsLabelFlag(imagesUnpack, &tcbFlags.unpack.label)
	addDownloadDirFlag(imagesUnpack, &tcbFlags.unpack.downloadDir)

	imagesCmd.AddCommand(imagesUnpack, imagesStatus, imagesClear)
	rootCmd.AddCommand(imagesCmd)
}
