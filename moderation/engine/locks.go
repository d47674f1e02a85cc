package engine

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"
)

type targetLock struct {
	sem  *semaphore.Weighted
	refs int
}

// Mutual exclusion keyed by target. Entries are reference counted and dropped once nobody holds or waits on them.
type keyedLocks struct {
	m *xsync.MapOf[string, *targetLock]
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{
		m: xsync.NewMapOf[string, *targetLock](),
	}
}

// Blocks until the lock for key is held, or the context is done. The returned function releases the lock.
func (l *keyedLocks) Acquire(ctx context.Context, key string) (func(), error) {
	tl, _ := l.m.Compute(key, func(old *targetLock, loaded bool) (*targetLock, bool) {
		if !loaded {
			old = &targetLock{sem: semaphore.NewWeighted(1)}
		}
		old.refs++
		return old, false
	})
	if err := tl.sem.Acquire(ctx, 1); err != nil {
		l.unref(key)
		return nil, err
	}
	return func() {
		tl.sem.Release(1)
		l.unref(key)
	}, nil
}

func (l *keyedLocks) unref(key string) {
	l.m.Compute(key, func(old *targetLock, loaded bool) (*targetLock, bool) {
		if !loaded {
			return old, true
		}
		old.refs--
		return old, old.refs <= 0
	})
}

func (l *keyedLocks) Len() int {
	return l.m.Size()
}
