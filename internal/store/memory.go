// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package store

import (
	"context"
	"fmt"
	"sync"

	"loom/internal/data"
)

// Memory is an in-process Store. Records are kept as values, so readers
// never observe a half-applied transaction.
type Memory struct {
	mu       sync.RWMutex
	runs     map[string]RunRecord
	tasks    map[string]TaskRecord
	attempts map[string]AttemptRecord
	objects  map[string]ObjectRecord
	commits  int
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		runs:     make(map[string]RunRecord),
		tasks:    make(map[string]TaskRecord),
		attempts: make(map[string]AttemptRecord),
		objects:  make(map[string]ObjectRecord),
	}
}

type memTx struct {
	base     *Memory
	runs     map[string]RunRecord
	tasks    map[string]TaskRecord
	attempts map[string]AttemptRecord
	objects  map[string]ObjectRecord
}

// Update stages fn's writes and applies them together if fn succeeds.
func (m *Memory) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		base:     m,
		runs:     make(map[string]RunRecord),
		tasks:    make(map[string]TaskRecord),
		attempts: make(map[string]AttemptRecord),
		objects:  make(map[string]ObjectRecord),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id, r := range tx.runs {
		m.runs[id] = r
	}
	for id, t := range tx.tasks {
		m.tasks[id] = t
	}
	for id, a := range tx.attempts {
		m.attempts[id] = a
	}
	for id, o := range tx.objects {
		m.objects[id] = o
	}
	m.commits++
	return nil
}

func (tx *memTx) PutRun(r RunRecord) error {
	if r.ID == "" {
		return fmt.Errorf("put run: empty id")
	}
	tx.runs[r.ID] = r
	return nil
}

func (tx *memTx) PutTask(t TaskRecord) error {
	if t.ID == "" {
		return fmt.Errorf("put task: empty id")
	}
	tx.tasks[t.ID] = t
	return nil
}

func (tx *memTx) PutAttempt(a AttemptRecord) error {
	if a.ID == "" {
		return fmt.Errorf("put attempt: empty id")
	}
	tx.attempts[a.ID] = a
	return nil
}

func (tx *memTx) CreateObject(obj data.Object) (string, bool, error) {
	if obj == nil {
		return "", false, fmt.Errorf("create object: nil object")
	}
	id := obj.Fingerprint()
	if _, ok := tx.base.objects[id]; ok {
		return id, false, nil
	}
	if _, ok := tx.objects[id]; ok {
		return id, false, nil
	}
	tx.objects[id] = ObjectRecord{ID: id, Type: obj.Type(), Object: obj}
	return id, true, nil
}

// Run returns a stored run.
func (m *Memory) Run(id string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return RunRecord{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// Task returns a stored task.
func (m *Memory) Task(id string) (TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return TaskRecord{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, nil
}

// Attempt returns a stored attempt.
func (m *Memory) Attempt(id string) (AttemptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return AttemptRecord{}, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	return a, nil
}

// Object returns a stored data object.
func (m *Memory) Object(id string) (ObjectRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[id]
	if !ok {
		return ObjectRecord{}, fmt.Errorf("object %s: %w", id, ErrNotFound)
	}
	return o, nil
}

// Stats reports record counts and the number of committed transactions.
type Stats struct {
	Runs     int
	Tasks    int
	Attempts int
	Objects  int
	Commits  int
}

// Stats returns current counts.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Runs:     len(m.runs),
		Tasks:    len(m.tasks),
		Attempts: len(m.attempts),
		Objects:  len(m.objects),
		Commits:  m.commits,
	}
}
