package seatlock

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type localEntry struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process keyed mutex. Entries are dropped once no caller
// holds or waits for them.
type Local struct {
	wait  time.Duration
	locks *xsync.MapOf[string, *localEntry]
}

func NewLocal(wait time.Duration) *Local {
	return &Local{
		wait:  wait,
		locks: xsync.NewMapOf[string, *localEntry](),
	}
}

func (l *Local) Acquire(ctx context.Context, key string) (Unlock, error) {
	e, _ := l.locks.Compute(key, func(old *localEntry, loaded bool) (*localEntry, bool) {
		if !loaded {
			old = &localEntry{ch: make(chan struct{}, 1)}
		}
		old.refs++
		return old, false
	})

	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case e.ch <- struct{}{}:
	case <-waitCtx.Done():
		l.deref(key)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.deref(key)
		})
	}, nil
}

// Size returns the number of keys currently tracked.
func (l *Local) Size() int {
	return l.locks.Size()
}

func (l *Local) deref(key string) {
	l.locks.Compute(key, func(old *localEntry, loaded bool) (*localEntry, bool) {
		if !loaded {
			return old, true
		}
		old.refs--
		return old, old.refs <= 0
	})
}
