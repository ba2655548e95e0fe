package storagearea

import (
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/oneconcern/tcbuilder/pkg/image/blockimg"
	"github.com/oneconcern/tcbuilder/pkg/storage"
	"github.com/spf13/afero"
)

// Extractor dumps the filesystem held by a partition of a block image into a directory
type Extractor interface {
	Extract(ctx context.Context, fs afero.Fs, image io.ReaderAt, part blockimg.Partition, dest string) error
}

// DebugfsExtractor dumps ext filesystems with debugfs from e2fsprogs, without mounting them.
//
// Ownership is kept only when running as root.
type DebugfsExtractor struct {
	// Command defaults to debugfs
	Command string
}

// Extract the partition. The destination must be on the OS filesystem.
func (d *DebugfsExtractor) Extract(ctx context.Context, fs afero.Fs, image io.ReaderAt, part blockimg.Partition, dest string) error {
	if part.FSType != "ext" {
		return ErrExtract.WrapMessage("partition %d holds %q, only ext filesystems can be read", part.Index, part.FSType)
	}
	if _, ok := fs.(*afero.OsFs); !ok {
		return ErrExtract.WrapMessage("%s: debugfs dumps to the OS filesystem only", dest)
	}
	command := d.Command
	if command == "" {
		command = "debugfs"
	}
	img, err := afero.TempFile(fs, filepath.Dir(dest), ".partition-*.img")
	if err != nil {
		return err
	}
	fsImage := img.Name()
	defer func() {
		_ = fs.Remove(fsImage)
	}()
	if _, err := storage.PipeIO(img, io.NewSectionReader(image, part.Start, part.Size)); err != nil {
		_ = img.Close()
		return err
	}
	if err := img.Close(); err != nil {
		return err
	}
	if err := fs.MkdirAll(dest, 0755); err != nil {
		return err
	}
	out, err := exec.CommandContext(ctx, command, "-R", "rdump / "+dest, fsImage).CombinedOutput()
	if err != nil {
		return ErrExtract.WrapMessage("%s: %s", command, strings.TrimSpace(string(out))).Wrap(err)
	}
	return nil
}
