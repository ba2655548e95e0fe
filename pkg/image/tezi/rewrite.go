package tezi

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Container bundle files added to an image, relative to the image directory
const (
	ComposeFileName = "docker-compose.yml"
	BundleFileName  = "docker-storage.tar.xz"
)

// ContainerFiles is the filelist of a container bundle
var ContainerFiles = []FileEntry{
	MustParseFileEntry(ComposeFileName + ":/ostree/deploy/torizon/var/sota/storage/docker-compose/"),
	MustParseFileEntry(BundleFileName + ":/ostree/deploy/torizon/var/lib/docker/:true"),
}

// Rewrite describes the changes made to the configuration of a derived image.
// Empty strings keep the template values.
type Rewrite struct {
	Name          string
	Description   string
	Licence       string
	ReleaseNotes  string
	ReleaseDate   time.Time
	AutoInstall   *bool
	AcceptLicence bool

	// Containers lists the container bundle files added to the image
	Containers []FileEntry
	// ContainerSize returns the installed size of a container bundle file
	ContainerSize SizeFunc
}

// Apply the rewrite. Names and versions get a suffix telling a derived image apart.
func (c *Config) Apply(r Rewrite) error {
	content, err := c.Rootfs()
	if err != nil {
		return err
	}
	withContainers := len(r.Containers) > 0
	if withContainers {
		if _, has := content["filelist"]; has {
			return ErrHasContainers
		}
	}

	switch {
	case r.Name != "":
		c.SetName(r.Name)
	case withContainers:
		c.SetName(c.Name() + " with Containers")
	}
	if r.Description != "" {
		c.SetDescription(r.Description)
	}
	if r.Licence != "" {
		c.SetLicence(r.Licence)
	}
	if r.ReleaseNotes != "" {
		c.SetReleaseNotes(r.ReleaseNotes)
	}
	if withContainers {
		c.SetVersion(c.Version() + ".container")
	} else {
		c.SetVersion(c.Version() + ".modified")
	}
	date := r.ReleaseDate
	if date.IsZero() {
		date = time.Now()
	}
	c.SetReleaseDate(date)

	if r.AutoInstall != nil {
		c.SetAutoInstall(*r.AutoInstall)
	}
	if c.AutoInstall() && c.Licence() != "" && !r.AcceptLicence {
		return ErrLicenceNotAccepted.WrapMessage("licence %s", c.Licence())
	}

	if withContainers {
		return c.AddFiles(r.Containers, r.ContainerSize, false, false)
	}
	return nil
}

// WrapupScript is the script run by the installer once an image is installed, when the
// configuration names none
const WrapupScript = "wrapup.sh"

const rebootCommand = "reboot -f"

// SetAutoReboot makes the installer reboot the device after installation, through the
// wrapup script of the image directory dir.
func (c *Config) SetAutoReboot(fs afero.Fs, dir string) error {
	name := c.str("wrapup_script")
	if name == "" {
		name = WrapupScript
		c.data["wrapup_script"] = name
	}
	script := filepath.Join(dir, filepath.FromSlash(name))
	b, err := afero.ReadFile(fs, script)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if len(b) == 0 {
		b = []byte("#!/bin/sh\n")
	}
	for _, line := range strings.Split(string(b), "\n") {
		if strings.TrimSpace(line) == rebootCommand {
			return nil
		}
	}
	if !bytes.HasSuffix(b, []byte("\n")) {
		b = append(b, '\n')
	}
	b = append(b, rebootCommand+"\n"...)
	return afero.WriteFile(fs, script, b, 0755)
}
