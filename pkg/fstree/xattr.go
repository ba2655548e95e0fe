package fstree

import (
	"encoding/binary"
	"os"

	"github.com/spf13/afero"
)

const (
	aclXattr   = "system.posix_acl_access"
	aclVersion = 2

	aclUserObj  = 0x01
	aclUser     = 0x02
	aclGroupObj = 0x04
	aclGroup    = 0x08
	aclMask     = 0x10
	aclOther    = 0x20
)

// OSMeta reads ownership, permissions and the POSIX access ACL of a file on the host filesystem.
//
// Filesystems other than the OS filesystem (or a base path on it) get StatMeta.
func OSMeta(fs afero.Fs, name string, fi os.FileInfo) (Meta, error) {
	m, err := StatMeta(fs, name, fi)
	if err != nil || fi.Mode()&os.ModeSymlink != 0 {
		return m, err
	}
	real := name
	switch f := fs.(type) {
	case *afero.OsFs:
	case *afero.BasePathFs:
		if real, err = f.RealPath(name); err != nil {
			return m, err
		}
	default:
		return m, nil
	}
	raw, err := getxattr(real, aclXattr)
	if err != nil || len(raw) == 0 {
		return m, err
	}
	acl, err := decodeXattrACL(raw)
	if err != nil {
		return m, ErrMalformedACL.WrapMessage("%s", name).Wrap(err)
	}
	m.ACL = acl
	return m.Normalize(), nil
}

// decodeXattrACL decodes the kernel representation of an access ACL.
// Only the extended entries are returned: base permissions are already part of the mode.
func decodeXattrACL(raw []byte) ([]ACLEntry, error) {
	if len(raw) < 4 || (len(raw)-4)%8 != 0 {
		return nil, ErrMalformedACL.WrapMessage("xattr of %d bytes", len(raw))
	}
	if v := binary.LittleEndian.Uint32(raw[:4]); v != aclVersion {
		return nil, ErrMalformedACL.WrapMessage("xattr version %d", v)
	}
	var (
		acl      []ACLEntry
		groupObj os.FileMode
		extended bool
	)
	for off := 4; off < len(raw); off += 8 {
		tag := binary.LittleEndian.Uint16(raw[off:])
		perm := os.FileMode(binary.LittleEndian.Uint16(raw[off+2:]) & 7)
		id := int(binary.LittleEndian.Uint32(raw[off+4:]))
		switch tag {
		case aclUserObj, aclOther:
		case aclGroupObj:
			groupObj = perm
		case aclUser:
			acl = append(acl, ACLEntry{Tag: ACLUser, ID: id, Perm: perm})
			extended = true
		case aclGroup:
			acl = append(acl, ACLEntry{Tag: ACLGroup, ID: id, Perm: perm})
			extended = true
		case aclMask:
			acl = append(acl, ACLEntry{Tag: ACLMask, Perm: perm})
			extended = true
		default:
			return nil, ErrMalformedACL.WrapMessage("xattr tag %#x", tag)
		}
	}
	if !extended {
		return nil, nil
	}
	return append(acl, ACLEntry{Tag: ACLGroupObj, Perm: groupObj}), nil
}
