// ABOUTME: Reentrant lock whose ownership follows a context.Context call chain
// ABOUTME: Re-acquiring on the same chain never blocks; other chains wait on one mutex

package arlock

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrNotHeld is returned when Release is called on a chain that does not hold the lock.
var ErrNotHeld = errors.New("arlock: release of un-acquired lock")

// Lock is a mutual-exclusion lock that can be acquired recursively by the
// call chain that already holds it. A call chain is identified by the context
// returned from Acquire: pass that context down to nested code so it can
// re-enter without deadlocking against itself.
type Lock struct {
	sem chan struct{}
}

// holder is the per-chain recursion counter stored in the context.
type holder struct {
	count atomic.Int32
}

// holderKey scopes context values to a single Lock.
type holderKey struct {
	lock *Lock
}

// New creates an unlocked Lock.
func New() *Lock {
	return &Lock{sem: make(chan struct{}, 1)}
}

func (l *Lock) holder(ctx context.Context) *holder {
	h, _ := ctx.Value(holderKey{l}).(*holder)
	return h
}

// Acquire takes the lock for the chain identified by ctx and returns the
// context the chain must use from now on. If the chain already holds the
// lock, Acquire only increments its counter. Otherwise it waits for the
// lock or for ctx to be done.
func (l *Lock) Acquire(ctx context.Context) (context.Context, error) {
	if h := l.holder(ctx); h != nil && h.count.Load() > 0 {
		h.count.Add(1)
		return ctx, nil
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx, ctx.Err()
	}

	h := &holder{}
	h.count.Store(1)
	return context.WithValue(ctx, holderKey{l}, h), nil
}

// Release undoes one Acquire on the chain identified by ctx. The underlying
// mutex is released when the counter drops to zero.
func (l *Lock) Release(ctx context.Context) error {
	h := l.holder(ctx)
	if h == nil || h.count.Load() <= 0 {
		return ErrNotHeld
	}
	if h.count.Add(-1) == 0 {
		<-l.sem
	}
	return nil
}

// Held reports whether the chain identified by ctx currently holds the lock.
func (l *Lock) Held(ctx context.Context) bool {
	h := l.holder(ctx)
	return h != nil && h.count.Load() > 0
}

// Do runs fn while holding the lock. The lock is released on every exit
// path, including a panic in fn.
func (l *Lock) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		// Release only fails on a counter mismatch, which Acquire above rules out.
		_ = l.Release(ctx)
	}()
	return fn(ctx)
}
