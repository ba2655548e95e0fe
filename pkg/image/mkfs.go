package image

import (
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// MkfsBuilder builds ext4 filesystems with mkfs.ext4 from e2fsprogs, populated straight from
// the tarball so that ownership is kept without privileges. This needs e2fsprogs 1.47.1 or later.
type MkfsBuilder struct {
	// Command defaults to mkfs.ext4
	Command string
}

// Build the filesystem, filling the whole partition
func (b *MkfsBuilder) Build(ctx context.Context, spec FilesystemSpec, rootfs io.Reader, scratch string) (*Filesystem, error) {
	if spec.FSType != "" && spec.FSType != "ext" {
		return nil, ErrMaterialize.WrapMessage("partition holds %q, only ext filesystems can be built", spec.FSType)
	}
	command := b.Command
	if command == "" {
		command = "mkfs.ext4"
	}
	osFs := afero.NewOsFs()
	tarball := filepath.Join(scratch, "rootfs.tar")
	if err := copyStream(osFs, tarball, rootfs); err != nil {
		return nil, err
	}
	out := filepath.Join(scratch, "rootfs.img")
	args := []string{"-q", "-F", "-L", spec.Label, "-d", tarball, out, strconv.FormatInt(spec.Size/1024, 10) + "k"}
	if msg, err := exec.CommandContext(ctx, command, args...).CombinedOutput(); err != nil {
		return nil, ErrMaterialize.WrapMessage("%s: %s", command, strings.TrimSpace(string(msg))).Wrap(err)
	}
	if err := osFs.Remove(tarball); err != nil {
		return nil, err
	}
	f, err := osFs.Open(out)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Filesystem{ReadCloser: f, Size: fi.Size()}, nil
}
