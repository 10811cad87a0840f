// Package lock serializes workspace mutations across processes using an
// advisory file lock on <state>/.lock. Mutations take the exclusive lock;
// reads take the shared lock. Every wait is bounded by a timeout and honors
// context cancellation.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/taskmesh/taskmesh/internal/types"
)

// retryInterval is the poll cadence while waiting for the lock.
const retryInterval = 25 * time.Millisecond

// Lock wraps the workspace advisory file lock.
type Lock struct {
	path    string
	timeout time.Duration
}

// New creates a lock handle for the given lock file path.
func New(path string, timeout time.Duration) *Lock {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Lock{path: path, timeout: timeout}
}

// Exclusive acquires the exclusive (writer) lock. The returned release
// function must be called exactly once. Fails with Busy on timeout.
func (l *Lock) Exclusive(ctx context.Context) (func(), error) {
	return l.acquire(ctx, true)
}

// Shared acquires the shared (reader) lock. Readers never block each other
// but wait out active mutations.
func (l *Lock) Shared(ctx context.Context) (func(), error) {
	return l.acquire(ctx, false)
}

func (l *Lock) acquire(ctx context.Context, exclusive bool) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	fl := flock.New(l.path)

	var locked bool
	var err error
	if exclusive {
		locked, err = fl.TryLockContext(ctx, retryInterval)
	} else {
		locked, err = fl.TryRLockContext(ctx, retryInterval)
	}
	if err != nil || !locked {
		cancel()
		if ctx.Err() == context.Canceled {
			return nil, ctx.Err()
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: lock acquisition timed out after %s", types.ErrBusy, l.timeout)
		}
		return nil, fmt.Errorf("%w: acquiring lock: %v", types.ErrBusy, err)
	}
	return func() {
		_ = fl.Unlock()
		cancel()
	}, nil
}
