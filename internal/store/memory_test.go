// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom/internal/data"
)

func TestUpdate_CommitsAllWrites(t *testing.T) {
	m := NewMemory()

	err := m.Update(context.Background(), func(tx Tx) error {
		require.NoError(t, tx.PutRun(RunRecord{ID: "run-1", Name: "wc", Status: "running"}))
		require.NoError(t, tx.PutTask(TaskRecord{ID: "task-1", RunID: "run-1", Status: "running"}))
		return tx.PutAttempt(AttemptRecord{ID: "att-1", Status: "created"})
	})
	require.NoError(t, err)

	r, err := m.Run("run-1")
	require.NoError(t, err)
	assert.Equal(t, "wc", r.Name)
	_, err = m.Task("task-1")
	assert.NoError(t, err)
	_, err = m.Attempt("att-1")
	assert.NoError(t, err)
	assert.Equal(t, 1, m.Stats().Commits)
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	m := NewMemory()
	boom := errors.New("boom")

	err := m.Update(context.Background(), func(tx Tx) error {
		require.NoError(t, tx.PutRun(RunRecord{ID: "run-1"}))
		_, _, err := tx.CreateObject(data.String("x"))
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = m.Run("run-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, Stats{}, m.Stats())
}

func TestUpdate_EmptyIDRejected(t *testing.T) {
	m := NewMemory()
	err := m.Update(context.Background(), func(tx Tx) error {
		return tx.PutTask(TaskRecord{})
	})
	assert.Error(t, err)
}

func TestUpdate_CancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := m.Update(ctx, func(Tx) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestCreateObject_ContentAddressed(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var first, second string
	require.NoError(t, m.Update(ctx, func(tx Tx) error {
		id, created, err := tx.CreateObject(data.Integer(42))
		require.NoError(t, err)
		assert.True(t, created)
		first = id

		// Same content in the same transaction.
		id, created, err = tx.CreateObject(data.Integer(42))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first, id)
		return nil
	}))

	require.NoError(t, m.Update(ctx, func(tx Tx) error {
		id, created, err := tx.CreateObject(data.Integer(42))
		require.NoError(t, err)
		assert.False(t, created)
		second = id
		return nil
	}))
	assert.Equal(t, first, second)
	assert.Equal(t, 1, m.Stats().Objects)

	// Same rendering, different type.
	require.NoError(t, m.Update(ctx, func(tx Tx) error {
		id, created, err := tx.CreateObject(data.String("42"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first, id)
		return nil
	}))

	o, err := m.Object(first)
	require.NoError(t, err)
	assert.Equal(t, data.TypeInteger, o.Type)
	assert.Equal(t, data.Integer(42), o.Object)
}
