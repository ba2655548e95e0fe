package fstree

import "os"

func osMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0777)
	if m&04000 != 0 {
		mode |= os.ModeSetuid
	}
	if m&02000 != 0 {
		mode |= os.ModeSetgid
	}
	if m&01000 != 0 {
		mode |= os.ModeSticky
	}
	return mode
}
