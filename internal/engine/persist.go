// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package engine

import (
	"context"
	"maps"

	"loom/internal/data"
	"loom/internal/store"
)

type dirtySet struct {
	runs     map[string]struct{}
	tasks    map[string]struct{}
	attempts map[string]struct{}
}

func newDirtySet() dirtySet {
	return dirtySet{
		runs:     make(map[string]struct{}),
		tasks:    make(map[string]struct{}),
		attempts: make(map[string]struct{}),
	}
}

func (d dirtySet) empty() bool {
	return len(d.runs) == 0 && len(d.tasks) == 0 && len(d.attempts) == 0
}

// The mark functions and flushLocked require e.mu.
func (e *Engine) markRun(id string)     { e.dirty.runs[id] = struct{}{} }
func (e *Engine) markTask(id string)    { e.dirty.tasks[id] = struct{}{} }
func (e *Engine) markAttempt(id string) { e.dirty.attempts[id] = struct{}{} }

// flushLocked writes every record changed since the last flush in one
// transaction. A failed write is logged; in-memory state stays authoritative.
func (e *Engine) flushLocked(ctx context.Context) {
	if e.dirty.empty() {
		return
	}
	dirty := e.dirty
	e.dirty = newDirtySet()

	err := e.store.Update(context.WithoutCancel(ctx), func(tx store.Tx) error {
		for id := range dirty.runs {
			if err := tx.PutRun(e.runs[id].record()); err != nil {
				return err
			}
		}
		for id := range dirty.tasks {
			rec, err := e.tasks[id].record(tx)
			if err != nil {
				return err
			}
			if err := tx.PutTask(rec); err != nil {
				return err
			}
		}
		for id := range dirty.attempts {
			rec, err := e.attempts[id].record(tx)
			if err != nil {
				return err
			}
			if err := tx.PutAttempt(rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Error("persisting scheduler state failed",
			"runs", len(dirty.runs),
			"tasks", len(dirty.tasks),
			"attempts", len(dirty.attempts),
			"error", err)
	}
}

func (r *run) record() store.RunRecord {
	rec := store.RunRecord{
		ID:              r.ID,
		ParentID:        r.ParentID,
		Name:            r.Name,
		Status:          string(r.Status),
		Reason:          r.Reason,
		FailedTaskID:    r.FailedTaskID,
		FailedAttemptID: r.FailedAttemptID,
		FailureKind:     string(r.FailureKind),
		ChildIDs:        append([]string(nil), r.ChildIDs...),
		TaskIDs:         append([]string(nil), r.TaskIDs...),
		CreatedAt:       r.CreatedAt,
	}
	if !r.FinishedAt.IsZero() {
		t := r.FinishedAt
		rec.FinishedAt = &t
	}
	return rec
}

func (t *task) record(tx store.Tx) (store.TaskRecord, error) {
	rec := store.TaskRecord{
		ID:              t.ID,
		RunID:           t.RunID,
		DataPath:        t.Path.String(),
		Status:          string(t.Status),
		Command:         t.Command,
		Env:             maps.Clone(t.Env),
		Fingerprint:     t.Fingerprint,
		ActiveAttemptID: t.ActiveAttemptID,
		AttemptIDs:      append([]string(nil), t.AttemptIDs...),
		Inputs:          make(map[string][]string, len(t.Inputs)),
	}
	for _, it := range t.Inputs {
		for _, obj := range it.Data.Values(it.Data.Root()) {
			id, _, err := tx.CreateObject(obj)
			if err != nil {
				return store.TaskRecord{}, err
			}
			rec.Inputs[it.AsChannel] = append(rec.Inputs[it.AsChannel], id)
		}
	}
	if len(t.Outputs) > 0 {
		rec.Outputs = make(map[string][]string, len(t.Outputs))
		for _, out := range t.Outputs {
			ids, err := createObjects(tx, out.Values)
			if err != nil {
				return store.TaskRecord{}, err
			}
			rec.Outputs[out.Channel] = ids
		}
	}
	return rec, nil
}

func (a *attempt) record(tx store.Tx) (store.AttemptRecord, error) {
	rec := store.AttemptRecord{
		ID:          a.ID,
		Fingerprint: a.Fingerprint,
		Status:      string(a.Status),
		FailureKind: string(a.FailureKind),
		Detail:      a.Detail,
		Command:     a.descriptor.Command,
		CreatedAt:   a.CreatedAt,
	}
	if !a.LastHeartbeat.IsZero() {
		hb := a.LastHeartbeat
		rec.LastHeartbeat = &hb
	}
	if len(a.LogFiles) > 0 {
		rec.LogFiles = make(map[string]string, len(a.LogFiles))
		for _, l := range a.LogFiles {
			rec.LogFiles[l.Name] = l.Path
		}
	}
	if len(a.Outputs) > 0 {
		rec.Outputs = make(map[string][]string, len(a.Outputs))
		for ch, values := range a.Outputs {
			ids, err := createObjects(tx, values)
			if err != nil {
				return store.AttemptRecord{}, err
			}
			rec.Outputs[ch] = ids
		}
	}
	return rec, nil
}

// createObjects stores values and returns their ids in order.
func createObjects(tx store.Tx, values []data.Object) ([]string, error) {
	ids := make([]string, 0, len(values))
	for _, obj := range values {
		id, _, err := tx.CreateObject(obj)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
