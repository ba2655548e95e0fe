package model

import (
	"encoding/hex"
	"strings"
)

// ObjectKind tells which kind of object is stored at some key of the repository
type ObjectKind string

const (
	// ObjectCommit is a commit descriptor
	ObjectCommit ObjectKind = "commits"
	// ObjectTree is a flattened tree listing
	ObjectTree ObjectKind = "trees"
	// ObjectContent is the content of a regular file
	ObjectContent ObjectKind = "content"

	descriptorExt = ".yaml"
)

// ObjectPathComponents defines the unique path parts to retrieve an object in the repository
type ObjectPathComponents struct {
	Kind   ObjectKind
	Digest string
}

func fanout(digest string) string {
	if len(digest) < 2 {
		return digest
	}
	return digest[:2] + "/" + digest
}

// GetArchivePathToCommit yields the key of a commit descriptor
func GetArchivePathToCommit(id CommitID) string {
	return string(ObjectCommit) + "/" + fanout(string(id)) + descriptorExt
}

// GetArchivePathToTree yields the key of a tree listing
func GetArchivePathToTree(digest string) string {
	return string(ObjectTree) + "/" + fanout(digest) + descriptorExt
}

// GetArchivePathToContent yields the key of a file content
func GetArchivePathToContent(digest string) string {
	return string(ObjectContent) + "/" + fanout(digest)
}

// GetArchivePathPrefixToCommits yields the prefix of all commit keys
func GetArchivePathPrefixToCommits() string {
	return string(ObjectCommit) + "/"
}

// GetArchivePathComponents yields the object kind and digest from a parsed object key.
func GetArchivePathComponents(key string) (ObjectPathComponents, error) {
	cs := strings.Split(key, "/")
	if len(cs) != 3 {
		return ObjectPathComponents{}, ErrInvalidObjectPath.WrapMessage("expected 3 parts: %s", key)
	}
	kind := ObjectKind(cs[0])
	name := cs[2]
	switch kind {
	case ObjectCommit, ObjectTree:
		if !strings.HasSuffix(name, descriptorExt) {
			return ObjectPathComponents{}, ErrInvalidObjectPath.WrapMessage("expected a %s descriptor: %s", descriptorExt, key)
		}
		name = strings.TrimSuffix(name, descriptorExt)
	case ObjectContent:
	default:
		return ObjectPathComponents{}, ErrInvalidObjectPath.WrapMessage("unknown object kind %q: %s", cs[0], key)
	}
	if len(name) != 2*DigestSize || !strings.HasPrefix(name, cs[1]) {
		return ObjectPathComponents{}, ErrInvalidObjectPath.WrapMessage("digest does not match fanout: %s", key)
	}
	if _, err := hex.DecodeString(name); err != nil {
		return ObjectPathComponents{}, ErrInvalidObjectPath.WrapMessage("%s", key).Wrap(err)
	}
	return ObjectPathComponents{Kind: kind, Digest: name}, nil
}
