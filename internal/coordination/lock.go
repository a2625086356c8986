// Package coordination provides single-process implementations of the reaper's
// coordination primitives: a bounded try-lock and a badger-backed durable work queue.
package coordination

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/coordination"
)

// LocalLock is a process-wide mutual-exclusion lock with bounded acquisition.
type LocalLock struct {
	sem  *semaphore.Weighted
	mu   sync.Mutex
	held bool
}

// NewLocalLock creates an unlocked lock
func NewLocalLock() *LocalLock {
	return &LocalLock{sem: semaphore.NewWeighted(1)}
}

// TryLock waits at most timeout for the lock. A timeout is reported as (false, nil);
// cancellation of ctx is reported as an error.
func (l *LocalLock) TryLock(ctx context.Context, timeout time.Duration) (bool, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := l.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return false, nil
		}
		return false, err
	}

	l.mu.Lock()
	l.held = true
	l.mu.Unlock()
	return true, nil
}

// Unlock releases the lock. Releasing an unheld lock does nothing.
func (l *LocalLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false
	l.sem.Release(1)
	return nil
}

// Held reports whether the lock is currently held.
func (l *LocalLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

var _ coordination.Lock = (*LocalLock)(nil)
