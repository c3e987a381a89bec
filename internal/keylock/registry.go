// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package keylock

import (
	"context"
	"errors"
	"sync"
	"time"
)

type entry struct {
	lock Lock
	// done is closed on release
	done chan struct{}
}

// MemoryRegistry implements Registry in memory. It is safe for concurrent use.
type MemoryRegistry struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		locks: make(map[string]*entry),
	}
}

// Acquire blocks until key is free, then locks it for holder.
// Returns ctx.Err() if the context ends first.
func (r *MemoryRegistry) Acquire(ctx context.Context, key, holder string) error {
	for {
		r.mu.Lock()
		e, held := r.locks[key]
		if !held {
			r.grant(key, holder)
			r.mu.Unlock()
			return nil
		}
		done := e.done
		r.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryAcquire locks key for holder without waiting.
func (r *MemoryRegistry) TryAcquire(key, holder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, held := r.locks[key]; held {
		return &ConflictError{
			Key:             key,
			Holder:          e.lock.Holder,
			RequestedHolder: holder,
		}
	}
	r.grant(key, holder)
	return nil
}

// grant must be called with r.mu held.
func (r *MemoryRegistry) grant(key, holder string) {
	r.locks[key] = &entry{
		lock: Lock{
			Key:        key,
			Holder:     holder,
			AcquiredAt: time.Now(),
		},
		done: make(chan struct{}),
	}
}

// Release unlocks key and wakes any waiters.
func (r *MemoryRegistry) Release(key, holder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, held := r.locks[key]
	if !held {
		return ErrLockNotFound
	}
	if e.lock.Holder != holder {
		return ErrLockNotHeld
	}
	delete(r.locks, key)
	close(e.done)
	return nil
}

// Check returns the lock on key without modifying it.
func (r *MemoryRegistry) Check(key string) (Lock, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, held := r.locks[key]
	if !held {
		return Lock{}, false
	}
	return e.lock, true
}

// Held returns the number of keys currently locked.
func (r *MemoryRegistry) Held() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

// With runs fn while holding key. The lock is released when fn returns,
// including on panic.
func With(ctx context.Context, r Registry, key, holder string, fn func() error) error {
	return WithWait(ctx, r, key, holder, nil, fn)
}

// WithWait is With, but first tries the key without blocking. If someone
// else holds it, waiting is called with the conflict before blocking.
func WithWait(ctx context.Context, r Registry, key, holder string, waiting func(*ConflictError), fn func() error) error {
	err := r.TryAcquire(key, holder)
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		if waiting != nil {
			waiting(conflict)
		}
		err = r.Acquire(ctx, key, holder)
	}
	if err != nil {
		return err
	}
	defer func() { _ = r.Release(key, holder) }()
	return fn()
}
