// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package keylock serializes work on named keys such as a run or a task
// fingerprint.
package keylock

import (
	"context"
	"errors"
	"time"
)

// Lock is a held lock on a key.
//
// Locking Semantics:
//   - Locks are exclusive. A second Acquire on a held key waits until the
//     key is released or the context ends.
//   - Locks are not reentrant: a holder acquiring its own key again waits
//     forever unless its context ends.
//   - Only the holder that acquired a key may release it.
type Lock struct {
	// Key is the locked name, e.g. "run:<id>"
	Key string

	// Holder identifies who took the lock
	Holder string

	// AcquiredAt is when the lock was granted
	AcquiredAt time.Time
}

// Registry manages exclusive locks on keys.
type Registry interface {
	// Acquire blocks until key is free, then locks it for holder.
	Acquire(ctx context.Context, key, holder string) error

	// TryAcquire locks key for holder or returns a ConflictError without waiting.
	TryAcquire(key, holder string) error

	// Release unlocks key. Returns an error if holder does not hold it.
	Release(key, holder string) error

	// Check reports the current lock on key, if any.
	Check(key string) (Lock, bool)
}

// ErrLockNotFound is returned when releasing a key that is not locked.
var ErrLockNotFound = errors.New("lock not found")

// ErrLockNotHeld is returned when releasing a key locked by someone else.
var ErrLockNotHeld = errors.New("lock not held by holder")

// ConflictError reports a TryAcquire on a key that is already held.
type ConflictError struct {
	// Key is the requested key
	Key string

	// Holder holds the key now
	Holder string

	// RequestedHolder asked for it
	RequestedHolder string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return "lock conflict: " + e.Key + " is held by " + e.Holder
}
