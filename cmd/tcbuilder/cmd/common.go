package cmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/oneconcern/tcbuilder/pkg/fetch"
	"github.com/oneconcern/tcbuilder/pkg/image"
	"github.com/oneconcern/tcbuilder/pkg/model"
	"github.com/spf13/cobra"
)

// used to patch over the clock during test
var now = time.Now

// usageArgs reports argument count errors as usage errors
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return errUsage.Wrap(err)
		}
		return nil
	}
}

// downloadDir defaults to a directory outside of the storage area, which unpacking clears
func downloadDir(dir string) string {
	if dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "tcbuilder-downloads")
}

func newFetcher() *fetch.Fetcher {
	cache := config.DownloadCache
	if cache == "" {
		cache = filepath.Join(downloadDir(""), "downloads.db")
	}
	return fetch.New(fetch.WithLogger(logger), fetch.WithGCSCredentials(config.Credential), fetch.WithCache(cache))
}

// imageOptions gathers the installer image flags
func imageOptions(cmd *cobra.Command) []image.Option {
	f := tcbFlags.image
	opts := []image.Option{
		image.WithLogger(logger),
		image.WithName(f.name),
		image.WithDescription(f.description),
		image.WithLicence(f.licence),
		image.WithReleaseNotes(f.releaseNotes),
		image.WithAutoReboot(f.autoReboot),
		image.WithAcceptLicence(f.acceptLicence),
		image.WithBundle(f.bundleDir),
	}
	if cmd.Flags().Changed("image-autoinstall") {
		autoInstall := f.autoInstall
		opts = append(opts, image.WithAutoInstall(&autoInstall))
	}
	if config.Block.Mkfs != "" {
		opts = append(opts, image.WithFilesystemBuilder(&image.MkfsBuilder{Command: config.Block.Mkfs}))
	}
	return opts
}

func printImage(img *model.Image) {
	infoLogger.Printf("Image written to %s", img.Path)
	if img.Name != "" {
		infoLogger.Printf("  name:     %s %s", img.Name, img.Version)
	}
	infoLogger.Printf("  commit:   %s", img.Commit)
	if img.UncompressedSize > 0 {
		infoLogger.Printf("  size:     %s", units.BytesSize(img.UncompressedSize*units.MiB))
	}
	if img.Containers {
		infoLogger.Printf("  includes a container bundle")
	}
}
