package storagearea

import (
	"context"
	"sync"
	"time"

	"github.com/oneconcern/tcbuilder/pkg/repo"
	"go.uber.org/zap"
)

const lockPollInterval = 200 * time.Millisecond

type locker interface {
	tryLock() (bool, error)
	unlock() error
}

// memLocks serializes writers of areas which do not live on the OS filesystem
var memLocks sync.Map

type memLocker struct {
	sem chan struct{}
}

func newMemLocker(key string) locker {
	sem, _ := memLocks.LoadOrStore(key, make(chan struct{}, 1))
	return &memLocker{sem: sem.(chan struct{})}
}

func (m *memLocker) tryLock() (bool, error) {
	select {
	case m.sem <- struct{}{}:
		return true, nil
	default:
		return false, nil
	}
}

func (m *memLocker) unlock() error {
	<-m.sem
	return nil
}

// Handle grants exclusive write access to a storage area until released
type Handle struct {
	area     *Area
	locker   locker
	mu       sync.Mutex
	released bool
}

// Lock acquires the storage area for writing. Without wait, a busy area fails right away
// with ErrLocked. Otherwise Lock polls until the area is free or the context is done.
func (a *Area) Lock(ctx context.Context, wait bool) (*Handle, error) {
	l := a.newLocker()
	start := time.Now()
	for {
		ok, err := l.tryLock()
		if err != nil {
			return nil, ErrLocked.WrapMessage("%s", a.dir).Wrap(err)
		}
		if ok {
			break
		}
		if !wait {
			return nil, ErrLocked.WrapMessage("%s", a.dir)
		}
		a.l.Debug("waiting for storage area", zap.String("dir", a.dir), zap.Duration("waited", time.Since(start)))
		select {
		case <-ctx.Done():
			return nil, ErrLocked.WrapMessage("%s", a.dir).Wrap(ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
	a.l.Debug("storage area locked", zap.String("dir", a.dir))
	return &Handle{area: a, locker: l}, nil
}

// Release the area. Releasing twice is harmless.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	h.area.l.Debug("storage area released", zap.String("dir", h.area.dir))
	return h.locker.unlock()
}

// Valid returns ErrReleased once the handle is released
func (h *Handle) Valid() error {
	if h == nil {
		return ErrReleased
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	return nil
}

// Area held by this handle
func (h *Handle) Area() *Area {
	return h.area
}

// Repo gives write access to the commit repository
func (h *Handle) Repo() repo.Store {
	return h.area.repo
}
