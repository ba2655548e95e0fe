package fstree

import (
	"os"
	"strconv"
	"strings"
)

// FormatPerm renders the 3 lower bits of a permission as "rwx"
func FormatPerm(p os.FileMode) string {
	b := []byte("---")
	if p&4 != 0 {
		b[0] = 'r'
	}
	if p&2 != 0 {
		b[1] = 'w'
	}
	if p&1 != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// ParsePerm parses "rwx", "r-x"... into the 3 lower bits of a permission
func ParsePerm(s string) (os.FileMode, error) {
	if len(s) != 3 {
		return 0, ErrMalformedACL.WrapMessage("permission %q", s)
	}
	var p os.FileMode
	for i, want := range "rwx" {
		switch rune(s[i]) {
		case want:
			p |= 1 << uint(2-i)
		case '-':
		default:
			return 0, ErrMalformedACL.WrapMessage("permission %q", s)
		}
	}
	return p, nil
}

// FormatACL renders the permissions of a node metadata as getfacl-style entries:
// user::, named users, group::, named groups, mask:: and other::.
func FormatACL(m Meta) []string {
	m = m.Normalize()
	groupObj := (m.Mode >> 3) & 7
	var users, groups, mask []string
	for _, e := range m.ACL {
		switch e.Tag {
		case ACLUser:
			users = append(users, "user:"+strconv.Itoa(e.ID)+":"+FormatPerm(e.Perm))
		case ACLGroup:
			groups = append(groups, "group:"+strconv.Itoa(e.ID)+":"+FormatPerm(e.Perm))
		case ACLGroupObj:
			groupObj = e.Perm
		case ACLMask:
			mask = append(mask, "mask::"+FormatPerm(e.Perm))
		}
	}
	lines := make([]string, 0, 4+len(users)+len(groups))
	lines = append(lines, "user::"+FormatPerm((m.Mode>>6)&7))
	lines = append(lines, users...)
	lines = append(lines, "group::"+FormatPerm(groupObj))
	lines = append(lines, groups...)
	lines = append(lines, mask...)
	lines = append(lines, "other::"+FormatPerm(m.Mode&7))
	return lines
}

// ParseACL parses getfacl-style entries into the 9 permission bits of a mode and the extended ACL.
//
// Qualifiers must be numeric, or carry a numeric id as a fourth field (star format).
// A minimal ACL (no named entry, mask equal to the owning group permissions) yields no extended entry.
func ParseACL(entries []string) (os.FileMode, []ACLEntry, error) {
	var (
		user, group, other, mask os.FileMode
		seen                     = map[string]bool{}
		named                    []ACLEntry
		hasMask                  bool
	)
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if i := strings.IndexByte(entry, '#'); i >= 0 {
			entry = strings.TrimSpace(entry[:i])
		}
		fields := strings.Split(entry, ":")
		if len(fields) < 3 || len(fields) > 4 {
			return 0, nil, ErrMalformedACL.WrapMessage("entry %q", raw)
		}
		perm, err := ParsePerm(fields[2])
		if err != nil {
			return 0, nil, err
		}
		qualifier := fields[1]
		if len(fields) == 4 {
			qualifier = fields[3]
		}
		tag := fields[0]
		switch tag {
		case "u":
			tag = "user"
		case "g":
			tag = "group"
		case "m":
			tag = "mask"
		case "o":
			tag = "other"
		}
		if qualifier == "" {
			if seen[tag] {
				return 0, nil, ErrMalformedACL.WrapMessage("duplicate entry %q", raw)
			}
			seen[tag] = true
			switch tag {
			case "user":
				user = perm
			case "group":
				group = perm
			case "mask":
				mask, hasMask = perm, true
			case "other":
				other = perm
			default:
				return 0, nil, ErrMalformedACL.WrapMessage("unknown tag in %q", raw)
			}
			continue
		}
		id, err := strconv.Atoi(qualifier)
		if err != nil || id < 0 {
			return 0, nil, ErrMalformedACL.WrapMessage("non-numeric qualifier in %q", raw)
		}
		switch tag {
		case "user":
			named = append(named, ACLEntry{Tag: ACLUser, ID: id, Perm: perm})
		case "group":
			named = append(named, ACLEntry{Tag: ACLGroup, ID: id, Perm: perm})
		default:
			return 0, nil, ErrMalformedACL.WrapMessage("unexpected qualifier in %q", raw)
		}
	}
	for _, required := range []string{"user", "group", "other"} {
		if !seen[required] {
			return 0, nil, ErrMalformedACL.WrapMessage("missing %s:: entry", required)
		}
	}
	if len(named) > 0 && !hasMask {
		mask, hasMask = group, true
		for _, e := range named {
			mask |= e.Perm
		}
	}
	if !hasMask || (len(named) == 0 && mask == group) {
		return user<<6 | group<<3 | other, nil, nil
	}
	acl := append(named, ACLEntry{Tag: ACLGroupObj, Perm: group}, ACLEntry{Tag: ACLMask, Perm: mask})
	m := Meta{Mode: user<<6 | mask<<3 | other, ACL: acl}.Normalize()
	return m.Mode, m.ACL, nil
}

// ParseACLText parses a comma or newline separated ACL, as stored in tar PAX records
func ParseACLText(s string) (os.FileMode, []ACLEntry, error) {
	return ParseACL(strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }))
}

// FormatACLText renders an ACL as a comma separated list, as stored in tar PAX records
func FormatACLText(m Meta) string {
	return strings.Join(FormatACL(m), ",")
}
