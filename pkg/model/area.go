package model

import "time"

// CurrentAreaVersion is the format version of the storage area layout.
//
// A storage area written by a newer major version is refused.
const CurrentAreaVersion = "1.0.0"

// AreaState is the persisted state of a storage area
type AreaState struct {
	Version      string    `json:"version" yaml:"version"`
	Layout       Layout    `json:"layout,omitempty" yaml:"layout,omitempty"`
	Source       string    `json:"source,omitempty" yaml:"source,omitempty"`
	ImageName    string    `json:"imageName,omitempty" yaml:"imageName,omitempty"`
	ImageVersion string    `json:"imageVersion,omitempty" yaml:"imageVersion,omitempty"`
	Template     string    `json:"template,omitempty" yaml:"template,omitempty"`
	Base         CommitID  `json:"base,omitempty" yaml:"base,omitempty"`
	OS           string    `json:"os,omitempty" yaml:"os,omitempty"`
	Kargs        string    `json:"kargs,omitempty" yaml:"kargs,omitempty"`
	Label        string    `json:"label,omitempty" yaml:"label,omitempty"`
	UnpackedAt   time.Time `json:"unpackedAt,omitempty" yaml:"unpackedAt,omitempty"`
	_            struct{}
}

// HasBase tells if a base image has been unpacked
func (s *AreaState) HasBase() bool {
	return s != nil && !s.Base.IsZero()
}
