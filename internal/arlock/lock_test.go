// ABOUTME: Tests for the context-scoped reentrant lock
// ABOUTME: Covers re-entry, release accounting, cross-chain exclusion and panics

package arlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_ReentrantAcquire(t *testing.T) {
	lock := New()
	ctx := context.Background()

	ctx1, err := lock.Acquire(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx2, err := lock.Acquire(ctx1)
		assert.NoError(t, err)
		assert.True(t, lock.Held(ctx2))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("re-entrant acquire blocked")
	}

	require.NoError(t, lock.Release(ctx1))
	assert.True(t, lock.Held(ctx1), "one acquire still outstanding")
	require.NoError(t, lock.Release(ctx1))
	assert.False(t, lock.Held(ctx1))
}

func TestLock_FullyReleasedAfterDoubleAcquire(t *testing.T) {
	lock := New()

	ctx, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	ctx, err = lock.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Release(ctx))

	// An independent chain must now get the lock without waiting.
	probe, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	other, err := lock.Acquire(probe)
	require.NoError(t, err)
	require.NoError(t, lock.Release(other))
}

func TestLock_ReleaseUnacquired(t *testing.T) {
	lock := New()
	err := lock.Release(context.Background())
	assert.ErrorIs(t, err, ErrNotHeld)

	ctx, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Release(ctx), ErrNotHeld)
}

func TestLock_OtherChainBlocks(t *testing.T) {
	lock := New()
	held, err := lock.Acquire(context.Background())
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		ctx, err := lock.Acquire(context.Background())
		if err == nil {
			close(acquired)
			_ = lock.Release(ctx)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second chain acquired a held lock")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, lock.Release(held))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second chain never acquired the released lock")
	}
}

func TestLock_DoReleasesOnPanic(t *testing.T) {
	lock := New()

	func() {
		defer func() {
			assert.NotNil(t, recover())
		}()
		_ = lock.Do(context.Background(), func(ctx context.Context) error {
			panic("boom")
		})
	}()

	probe, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	ctx, err := lock.Acquire(probe)
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))
}

func TestLock_DoNested(t *testing.T) {
	lock := New()
	sentinel := errors.New("inner")

	err := lock.Do(context.Background(), func(ctx context.Context) error {
		return lock.Do(ctx, func(ctx context.Context) error {
			assert.True(t, lock.Held(ctx))
			return sentinel
		})
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestLock_MutualExclusion(t *testing.T) {
	lock := New()
	var inside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lock.Do(context.Background(), func(ctx context.Context) error {
				if n := inside.Add(1); n != 1 {
					t.Errorf("%d chains inside the lock", n)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
}
