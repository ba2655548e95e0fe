package model

import (
	"strings"
	"testing"

	"github.com/oneconcern/tcbuilder/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errorsIs(err, target error) bool {
	return errors.Is(err, target)
}

func TestCommitID(t *testing.T) {
	id := CommitID(strings.Repeat("0f", DigestSize))
	require.NoError(t, id.Validate())
	assert.Equal(t, "0f0f0f0f0f0f", id.Short())
	assert.False(t, id.IsZero())

	assert.True(t, CommitID("").IsZero())
	assert.Equal(t, "abc", CommitID("abc").Short())

	err := CommitID("abc").Validate()
	require.Error(t, err)
	assert.True(t, errorsIs(err, ErrInvalidCommitID))
	assert.Equal(t, errors.KindUsage, errors.KindOf(err))

	require.Error(t, CommitID(strings.Repeat("zz", DigestSize)).Validate())
}

func TestValidateBranchName(t *testing.T) {
	for _, good := range []string{"base", "custom", "release/1.0", "my_branch-2"} {
		assert.NoError(t, ValidateBranchName(good), good)
	}
	for _, bad := range []string{"", "/abs", "a..b", "a//b", "trailing/", "dot.", "with space", ".hidden"} {
		err := ValidateBranchName(bad)
		assert.Error(t, err, bad)
		assert.True(t, errorsIs(err, ErrInvalidBranch), bad)
	}
}

func TestImageVersion(t *testing.T) {
	var c *Commit
	assert.Empty(t, c.ImageVersion())
	c = &Commit{Metadata: map[string]string{MetadataVersion: "6.8.0+build.22"}}
	assert.Equal(t, "6.8.0+build.22", c.ImageVersion())
}

func TestLayout(t *testing.T) {
	require.NoError(t, LayoutArchive.Validate())
	require.NoError(t, LayoutBlock.Validate())
	err := Layout("iso").Validate()
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestAreaState(t *testing.T) {
	var s *AreaState
	assert.False(t, s.HasBase())
	s = &AreaState{Version: CurrentAreaVersion}
	assert.False(t, s.HasBase())
	s.Base = CommitID(strings.Repeat("01", DigestSize))
	assert.True(t, s.HasBase())
}
