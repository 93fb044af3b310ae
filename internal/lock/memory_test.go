package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/procurement-core/internal/errors"
)

func TestMemoryLockerSerializesPerKey(t *testing.T) {
	locker := NewMemoryLocker()

	const workers = 50
	var inCritical atomic.Int32
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), RequisitionKey("req-1"), func(context.Context) error {
				if !inCritical.CompareAndSwap(0, 1) {
					t.Error("two goroutines inside the same critical section")
				}
				counter++
				time.Sleep(time.Millisecond)
				inCritical.Store(0)
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
	assert.Empty(t, locker.keys)
}

func TestMemoryLockerKeysAreIndependent(t *testing.T) {
	locker := NewMemoryLocker()
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = locker.WithLock(context.Background(), RequisitionKey("req-1"), func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	done := make(chan error, 1)
	go func() {
		done <- locker.WithLock(context.Background(), RequisitionKey("req-2"), func(context.Context) error {
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("independent key blocked behind an unrelated lock")
	}
}

func TestMemoryLockerCancelledWait(t *testing.T) {
	locker := NewMemoryLocker()
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = locker.WithLock(context.Background(), BudgetKey("bud-1"), func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := locker.WithLock(ctx, BudgetKey("bud-1"), func(context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestMemoryLockerPassesThroughDomainErrors(t *testing.T) {
	locker := NewMemoryLocker()

	err := locker.WithLock(context.Background(), "k", func(context.Context) error {
		return errors.BudgetViolation("insufficient funds")
	})
	assert.True(t, errors.IsBudgetViolation(err))
}

func TestMemoryLockerEmptyKey(t *testing.T) {
	locker := NewMemoryLocker()

	err := locker.WithLock(context.Background(), "", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.IsInvalidInput(err))
}
