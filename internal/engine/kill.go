// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package engine

import (
	"context"
	"fmt"

	"loom/internal/telemetry"
)

// Kill stops a run and all its descendants. Running tasks are killed and
// their attempts cancelled unless a task outside the killed runs still uses
// them. Killing a killed or succeeded run does nothing. A failed run keeps
// its status, but whatever still runs below it is stopped.
func (e *Engine) Kill(ctx context.Context, runID, reason string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.kill", telemetry.AttrRunID.String(runID))
	defer func() { telemetry.EndSpan(span, err) }()

	e.mu.RLock()
	r, ok := e.runs[runID]
	var parentID string
	if ok {
		parentID = r.ParentID
	}
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("kill run %s: %w", runID, ErrRunNotFound)
	}
	if reason == "" {
		reason = "killed"
	}

	var fx effects
	if err := e.killCascade(ctx, runID, reason, &fx); err != nil {
		e.apply(ctx, &fx)
		return err
	}
	if parentID != "" {
		fx.check = append(fx.check, parentID)
	}
	e.apply(ctx, &fx)
	return nil
}

// killCascade kills the run before its children so that no ancestor is
// evaluated as failed while the cascade is in progress.
func (e *Engine) killCascade(ctx context.Context, runID, reason string, fx *effects) error {
	var children, attempts []string
	err := e.withLock(ctx, runKey(runID), "kill", func() error {
		e.mu.Lock()
		defer e.mu.Unlock()

		r := e.runs[runID]
		switch r.Status {
		case RunKilled, RunSucceeded:
			return nil
		case RunRunning:
			r.Status = RunKilled
			r.Reason = reason
			r.FinishedAt = e.now()
			r.closeDone()
			e.markRun(r.ID)
			e.logger.Warn("run killed", "run_id", r.ID, "name", r.Name, "reason", reason)
			telemetry.AddEvent(ctx, "run.killed", r.statusAttrs()...)
			if r.ParentID == "" {
				fx.notify = append(fx.notify, r.notification())
			}
		default:
			e.logger.Info("stopping work below finished run", "run_id", r.ID, "status", r.Status)
		}

		for _, tid := range r.TaskIDs {
			t := e.tasks[tid]
			if t.Status != TaskRunning {
				continue
			}
			t.Status = TaskKilled
			e.markTask(t.ID)
			attempts = append(attempts, t.ActiveAttemptID)
		}
		children = append(children, r.ChildIDs...)
		e.flushLocked(ctx)
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range attempts {
		if err := e.killAttempt(ctx, id, fx); err != nil {
			return err
		}
	}
	for _, id := range children {
		if err := e.killCascade(ctx, id, reason, fx); err != nil {
			return err
		}
	}
	return nil
}

// killAttempt kills an attempt no running task uses any more.
func (e *Engine) killAttempt(ctx context.Context, attemptID string, fx *effects) error {
	fp, err := e.attemptFingerprint(attemptID)
	if err != nil {
		return err
	}
	return e.withLock(ctx, fpKey(fp), "kill", func() error {
		e.mu.Lock()
		defer e.mu.Unlock()

		a := e.attempts[attemptID]
		if a.Status.Terminal() {
			return nil
		}
		for _, tid := range a.TaskIDs {
			if t := e.tasks[tid]; t.Status == TaskRunning && t.ActiveAttemptID == a.ID {
				e.logger.Info("attempt still in use", "attempt_id", a.ID, "task_id", t.ID)
				return nil
			}
		}
		if err := e.transitionLocked(a, AttemptKilled); err != nil {
			return err
		}
		fx.cancel = append(fx.cancel, a.ID)
		e.flushLocked(ctx)
		return nil
	})
}
