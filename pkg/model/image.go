package model

import "time"

// Layout of a deployable image
type Layout string

const (
	// LayoutArchive is an installer archive directory (image.json, a compressed root filesystem tarball...)
	LayoutArchive Layout = "archive"

	// LayoutBlock is a raw block-device image with a partition table
	LayoutBlock Layout = "block"
)

// Validate the layout is known
func (l Layout) Validate() error {
	switch l {
	case LayoutArchive, LayoutBlock:
		return nil
	default:
		return ErrUnknownLayout.WrapMessage("%q", string(l))
	}
}

// Image describes an image materialized from a commit
type Image struct {
	Layout           Layout    `json:"layout" yaml:"layout"`
	Path             string    `json:"path" yaml:"path"`
	Commit           CommitID  `json:"commit,omitempty" yaml:"commit,omitempty"`
	Name             string    `json:"name,omitempty" yaml:"name,omitempty"`
	Version          string    `json:"version,omitempty" yaml:"version,omitempty"`
	Description      string    `json:"description,omitempty" yaml:"description,omitempty"`
	ReleaseDate      string    `json:"releaseDate,omitempty" yaml:"releaseDate,omitempty"`
	UncompressedSize float64   `json:"uncompressedSize,omitempty" yaml:"uncompressedSize,omitempty"`
	Containers       bool      `json:"containers,omitempty" yaml:"containers,omitempty"`
	Label            string    `json:"label,omitempty" yaml:"label,omitempty"`
	CreatedAt        time.Time `json:"createdAt" yaml:"createdAt"`
	_                struct{}
}
