package runlock

import (
	"context"
	"fmt"
	"sync"
)

// LocalLocker is an in-process locker for single-process runs without
// Redis, such as PIPELINE_STORE=memory.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]string
}

// NewLocalLocker creates an empty locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]string)}
}

// Acquire takes the lock for stage on behalf of runID. A local lock is
// never lost; the returned context ends with ctx or on release.
func (l *LocalLocker) Acquire(ctx context.Context, stage, runID string) (context.Context, Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if holder, ok := l.held[stage]; ok {
		return nil, nil, fmt.Errorf("%s: %w (run %s)", stage, ErrHeld, holder)
	}
	l.held[stage] = runID

	leaseCtx, cancel := context.WithCancel(ctx)
	return leaseCtx, func(context.Context) error {
		cancel()
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[stage] == runID {
			delete(l.held, stage)
		}
		return nil
	}, nil
}
