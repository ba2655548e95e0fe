//go:build !windows

package storagearea

import (
	"os"

	"golang.org/x/sys/unix"
)

// flockLocker holds an advisory lock on a file, released by the kernel if the process dies
type flockLocker struct {
	path string
	f    *os.File
}

func newFlockLocker(path string) locker {
	return &flockLocker{path: path}
}

func (l *flockLocker) tryLock() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return false, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			return false, nil
		}
		return false, err
	}
	l.f = f
	return true, nil
}

func (l *flockLocker) unlock() error {
	if l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
