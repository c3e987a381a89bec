// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"loom/internal/telemetry"
)

// checkRun settles the status of a run and then of its ancestors. It
// returns notifications for top-level runs that became terminal.
func (e *Engine) checkRun(ctx context.Context, id string) []RunNotification {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []RunNotification
	for id != "" {
		r, ok := e.runs[id]
		if !ok || r.Status.Terminal() {
			break
		}
		status := e.evaluateLocked(r)
		if status == RunRunning {
			break
		}
		r.Status = status
		r.FinishedAt = e.now()
		r.closeDone()
		e.markRun(r.ID)
		e.logger.Info("run finished",
			"run_id", r.ID,
			"name", r.Name,
			"status", r.Status,
			"reason", r.Reason)
		telemetry.AddEvent(ctx, "run.finished", r.statusAttrs()...)
		if r.ParentID == "" {
			out = append(out, r.notification())
		}
		id = r.ParentID
	}
	e.flushLocked(ctx)
	return out
}

// evaluateLocked works out the status a running run should have now,
// recording the cause when it failed.
func (e *Engine) evaluateLocked(r *run) RunStatus {
	if r.spec.IsWorkflow() {
		done := true
		for _, cid := range r.ChildIDs {
			c := e.runs[cid]
			switch c.Status {
			case RunFailed, RunKilled:
				r.Reason = fmt.Sprintf("step %s %s", c.Name, c.Status)
				r.FailedTaskID = c.FailedTaskID
				r.FailedAttemptID = c.FailedAttemptID
				r.FailureKind = c.FailureKind
				return RunFailed
			case RunRunning:
				done = false
			}
		}
		if done {
			return RunSucceeded
		}
		return RunRunning
	}

	for _, tid := range r.TaskIDs {
		t := e.tasks[tid]
		if t.Status == TaskFailed {
			r.Reason = fmt.Sprintf("task %s failed (%s)", t.ID, t.FailureKind)
			r.FailedTaskID = t.ID
			r.FailedAttemptID = t.ActiveAttemptID
			r.FailureKind = t.FailureKind
			return RunFailed
		}
	}
	if !r.inputsClosed {
		return RunRunning
	}
	for _, tid := range r.TaskIDs {
		if e.tasks[tid].Status != TaskSucceeded {
			return RunRunning
		}
	}
	return RunSucceeded
}

// reopenLocked puts a failed run and its failed ancestors back to running.
func (e *Engine) reopenLocked(r *run) {
	for r != nil && r.Status == RunFailed {
		r.Status = RunRunning
		r.Reason = ""
		r.FailedTaskID = ""
		r.FailedAttemptID = ""
		r.FailureKind = ""
		r.FinishedAt = time.Time{}
		r.done = make(chan struct{})
		e.markRun(r.ID)
		e.logger.Info("run reopened", "run_id", r.ID, "name", r.Name)
		r = e.runs[r.ParentID]
	}
}

func (r *run) statusAttrs() []attribute.KeyValue {
	return append(telemetry.RunAttrs(r.ID, r.Name), telemetry.AttrStatus.String(string(r.Status)))
}

func (r *run) notification() RunNotification {
	return RunNotification{
		RunID:           r.ID,
		Name:            r.Name,
		Status:          r.Status,
		Reason:          r.Reason,
		FailedTaskID:    r.FailedTaskID,
		FailedAttemptID: r.FailedAttemptID,
		FailureKind:     r.FailureKind,
		FinishedAt:      r.FinishedAt,
	}
}
