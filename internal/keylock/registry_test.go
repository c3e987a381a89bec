// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package keylock

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

func TestAcquireRelease(t *testing.T) {
	registry := NewMemoryRegistry()
	ctx := context.Background()

	require.NoError(t, registry.Acquire(ctx, "run:1", "push"))

	lock, held := registry.Check("run:1")
	assert.True(t, held)
	assert.Equal(t, "push", lock.Holder)
	assert.False(t, lock.AcquiredAt.IsZero())

	require.NoError(t, registry.Release("run:1", "push"))
	_, held = registry.Check("run:1")
	assert.False(t, held)
	assert.Equal(t, 0, registry.Held())
}

func TestTryAcquire_Conflict(t *testing.T) {
	registry := NewMemoryRegistry()

	require.NoError(t, registry.TryAcquire("fp:abc", "task-1"))

	err := registry.TryAcquire("fp:abc", "task-2")
	require.Error(t, err)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "task-1", conflict.Holder)
	assert.Equal(t, "task-2", conflict.RequestedHolder)

	// Other keys are independent.
	assert.NoError(t, registry.TryAcquire("fp:def", "task-2"))
}

func TestRelease_Errors(t *testing.T) {
	registry := NewMemoryRegistry()

	assert.ErrorIs(t, registry.Release("missing", "a"), ErrLockNotFound)

	require.NoError(t, registry.TryAcquire("k", "a"))
	assert.ErrorIs(t, registry.Release("k", "b"), ErrLockNotHeld)
	assert.NoError(t, registry.Release("k", "a"))
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	registry := NewMemoryRegistry()
	ctx := context.Background()
	require.NoError(t, registry.Acquire(ctx, "k", "first"))

	acquired := make(chan struct{})
	go func() {
		assert.NoError(t, registry.Acquire(ctx, "k", "second"))
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, registry.Release("k", "first"))
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the key")
	}
	lock, _ := registry.Check("k")
	assert.Equal(t, "second", lock.Holder)
}

func TestAcquire_ContextCancelled(t *testing.T) {
	registry := NewMemoryRegistry()
	require.NoError(t, registry.TryAcquire("k", "first"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := registry.Acquire(ctx, "k", "second")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	lock, _ := registry.Check("k")
	assert.Equal(t, "first", lock.Holder)
}

func TestWith_SerializesConcurrentWork(t *testing.T) {
	registry := NewMemoryRegistry()
	ctx := context.Background()

	var inside, maxInside, total int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := With(ctx, registry, "run:1", "worker", func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				atomic.AddInt32(&total, 1)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, int32(50), total)
	assert.Equal(t, 0, registry.Held())
}

func TestWith_ReleasesOnError(t *testing.T) {
	registry := NewMemoryRegistry()
	boom := errors.New("boom")

	err := With(context.Background(), registry, "k", "h", func() error { return boom })
	assert.ErrorIs(t, err, boom)
	_, held := registry.Check("k")
	assert.False(t, held)
}

func TestWithWait_ReportsHolder(t *testing.T) {
	registry := NewMemoryRegistry()
	ctx := context.Background()
	require.NoError(t, registry.Acquire(ctx, "fp:abc", "schedule"))

	conflicts := make(chan *ConflictError, 1)
	ran := make(chan struct{})
	go func() {
		err := WithWait(ctx, registry, "fp:abc", "complete", func(c *ConflictError) { conflicts <- c }, func() error {
			close(ran)
			return nil
		})
		assert.NoError(t, err)
	}()

	select {
	case c := <-conflicts:
		assert.Equal(t, "fp:abc", c.Key)
		assert.Equal(t, "schedule", c.Holder)
		assert.Equal(t, "complete", c.RequestedHolder)
	case <-time.After(time.Second):
		t.Fatal("waiter never reported the conflict")
	}

	require.NoError(t, registry.Release("fp:abc", "schedule"))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("waiter never ran")
	}
	assert.Eventually(t, func() bool { return registry.Held() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWithWait_FreeKeySkipsCallback(t *testing.T) {
	registry := NewMemoryRegistry()
	called := false
	err := WithWait(context.Background(), registry, "k", "h", func(*ConflictError) { called = true }, func() error {
		lock, held := registry.Check("k")
		assert.True(t, held)
		assert.Equal(t, "h", lock.Holder)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Zero(t, registry.Held())
}
