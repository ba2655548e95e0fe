package model

import (
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

const (
	// CurrentCommitVersion is the version of the commit descriptor format
	CurrentCommitVersion = 1

	// MetadataVersion is the metadata key holding the image version
	MetadataVersion = "version"

	// BaseBranch is the branch recording the unpacked base image
	BaseBranch = "base"

	// DigestSize is the size in bytes of object digests
	DigestSize = 32
)

// CommitID is the hex-encoded digest of a commit descriptor
type CommitID string

func (c CommitID) String() string {
	return string(c)
}

// Short form of the commit ID, for display
func (c CommitID) Short() string {
	if len(c) <= 12 {
		return string(c)
	}
	return string(c[:12])
}

// IsZero tells if this ID is empty
func (c CommitID) IsZero() bool {
	return c == ""
}

// Validate the ID is a full-length hex digest
func (c CommitID) Validate() error {
	if len(c) != 2*DigestSize {
		return ErrInvalidCommitID.WrapMessage("%q: expected %d hex characters", string(c), 2*DigestSize)
	}
	if _, err := hex.DecodeString(string(c)); err != nil {
		return ErrInvalidCommitID.WrapMessage("%q", string(c)).Wrap(err)
	}
	return nil
}

// Commit describes an immutable snapshot of a root filesystem tree.
//
// The ID is not part of the serialized descriptor: it is the digest of it.
type Commit struct {
	ID        CommitID          `json:"-" yaml:"-"`
	Version   uint64            `json:"version" yaml:"version"`
	Tree      string            `json:"tree" yaml:"tree"`
	Parent    CommitID          `json:"parent,omitempty" yaml:"parent,omitempty"`
	Subject   string            `json:"subject,omitempty" yaml:"subject,omitempty"`
	Body      string            `json:"body,omitempty" yaml:"body,omitempty"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	_         struct{}
}

// ImageVersion returns the version recorded in the commit metadata, if any
func (c *Commit) ImageVersion() string {
	if c == nil || c.Metadata == nil {
		return ""
	}
	return c.Metadata[MetadataVersion]
}

// Branch is a named reference to a commit
type Branch struct {
	Name   string   `json:"name" yaml:"name"`
	Commit CommitID `json:"commit" yaml:"commit"`
	_      struct{}
}

var branchNameRe = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.\-/]*$`)

// ValidateBranchName checks a branch name may be used as a reference
func ValidateBranchName(name string) error {
	if !branchNameRe.MatchString(name) {
		return ErrInvalidBranch.WrapMessage("%q", name)
	}
	for _, bad := range []string{"..", "//"} {
		if strings.Contains(name, bad) {
			return ErrInvalidBranch.WrapMessage("%q must not contain %q", name, bad)
		}
	}
	if name[len(name)-1] == '/' || name[len(name)-1] == '.' {
		return ErrInvalidBranch.WrapMessage("%q must not end with %q", name, name[len(name)-1:])
	}
	return nil
}
