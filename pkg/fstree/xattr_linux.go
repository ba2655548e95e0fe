package fstree

import (
	"golang.org/x/sys/unix"
)

func getxattr(path, attr string) ([]byte, error) {
	buf := make([]byte, 256)
	for {
		n, err := unix.Lgetxattr(path, attr, buf)
		switch err {
		case nil:
			return buf[:n], nil
		case unix.ENODATA, unix.ENOTSUP:
			return nil, nil
		case unix.ERANGE:
			buf = make([]byte, 2*len(buf))
		default:
			return nil, err
		}
	}
}
