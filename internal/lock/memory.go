package lock

import (
	"context"
	"sync"

	"github.com/ledgerline/procurement-core/internal/errors"
)

// MemoryLocker provides per-key mutual exclusion within one process.
// Entries are reference counted so the key table does not grow with the
// number of aggregates ever touched.
type MemoryLocker struct {
	mu   sync.Mutex
	keys map[string]*semaphore
}

type semaphore struct {
	slot chan struct{}
	refs int
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{keys: make(map[string]*semaphore)}
}

// WithLock waits for the key's lock, runs fn, and releases. Waiting is
// interrupted by context cancellation. fn's error is returned unchanged so
// domain error codes survive the lock boundary.
func (l *MemoryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if key == "" {
		return errors.New(errors.ErrCodeInvalidInput, "lock key must not be empty")
	}

	sem := l.retain(key)
	select {
	case sem.slot <- struct{}{}:
	case <-ctx.Done():
		l.release(key)
		return errors.Wrap(ctx.Err(), errors.ErrCodeConflict, "interrupted waiting for "+key)
	}

	defer func() {
		<-sem.slot
		l.release(key)
	}()
	return fn(ctx)
}

func (l *MemoryLocker) retain(key string) *semaphore {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.keys[key]
	if !ok {
		sem = &semaphore{slot: make(chan struct{}, 1)}
		l.keys[key] = sem
	}
	sem.refs++
	return sem
}

func (l *MemoryLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem := l.keys[key]
	sem.refs--
	if sem.refs == 0 {
		delete(l.keys, key)
	}
}
