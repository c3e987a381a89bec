// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package engine

import (
	"context"
	"fmt"
	"slices"

	"loom/internal/telemetry"
)

// Heartbeat records that an attempt is alive. It returns ErrAttemptTerminal
// once the attempt has finished or been killed, so executors can stop.
func (e *Engine) Heartbeat(ctx context.Context, attemptID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.attempts[attemptID]
	if !ok {
		return fmt.Errorf("heartbeat %s: %w", attemptID, ErrAttemptNotFound)
	}
	if a.Status.Terminal() {
		return fmt.Errorf("heartbeat %s (%s): %w", attemptID, a.Status, ErrAttemptTerminal)
	}
	now := e.now()
	if a.Status == AttemptCreated {
		if err := e.transitionLocked(a, AttemptRunning); err != nil {
			return err
		}
		a.DispatchedAt = now
	}
	a.LastHeartbeat = now
	e.markAttempt(a.ID)
	e.flushLocked(ctx)
	return nil
}

// AttachLogs records where an attempt's logs are kept. A log whose name is
// already attached replaces the earlier reference. Logs may be attached to
// finished attempts.
func (e *Engine) AttachLogs(ctx context.Context, attemptID string, logs ...LogFile) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.attempts[attemptID]
	if !ok {
		return fmt.Errorf("attach logs %s: %w", attemptID, ErrAttemptNotFound)
	}
	for _, l := range logs {
		i := slices.IndexFunc(a.LogFiles, func(x LogFile) bool { return x.Name == l.Name })
		if i >= 0 {
			a.LogFiles[i] = l
			continue
		}
		a.LogFiles = append(a.LogFiles, l)
	}
	e.markAttempt(a.ID)
	e.flushLocked(ctx)
	return nil
}

// Complete records a successful attempt. Every running task using the
// attempt succeeds and its outputs flow into downstream steps. Completions
// of killed or failed attempts are ignored. Outputs that do not match the
// declared channels fail the attempt as an analysis failure and the
// validation error is returned.
func (e *Engine) Complete(ctx context.Context, attemptID string, outputs Outputs) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.complete", telemetry.AttrAttemptID.String(attemptID))
	defer func() { telemetry.EndSpan(span, err) }()

	fp, err := e.attemptFingerprint(attemptID)
	if err != nil {
		return err
	}
	span.SetAttributes(telemetry.AttemptAttrs(attemptID, fp)...)

	var fx effects
	err = e.withLock(ctx, fpKey(fp), "complete", func() error {
		e.mu.Lock()
		defer e.mu.Unlock()

		a := e.attempts[attemptID]
		if a.Status.Terminal() {
			e.logger.Info("ignoring completion of finished attempt", "attempt_id", a.ID, "status", a.Status)
			return nil
		}
		if a.Status == AttemptCreated {
			if terr := e.transitionLocked(a, AttemptRunning); terr != nil {
				return terr
			}
			a.DispatchedAt = e.now()
		}
		if verr := validateOutputs(a.descriptor.Outputs, outputs); verr != nil {
			if ferr := e.failLocked(a, FailureAnalysis, verr.Error(), &fx); ferr != nil {
				return ferr
			}
			e.flushLocked(ctx)
			return verr
		}
		if terr := e.transitionLocked(a, AttemptSucceeded); terr != nil {
			return terr
		}
		a.Outputs = cloneOutputs(outputs)
		for _, id := range a.TaskIDs {
			if t := e.tasks[id]; t.ActiveAttemptID == a.ID {
				e.succeedTaskLocked(t, a, &fx)
			}
		}
		e.flushLocked(ctx)
		return nil
	})
	e.apply(ctx, &fx)
	return err
}

// Fail records a failed attempt. Each task using it is retried on a new
// attempt while its budget for kind lasts, otherwise it fails for good and
// so does its run. Failures of attempts that already finished are ignored.
func (e *Engine) Fail(ctx context.Context, attemptID string, kind FailureKind, detail string) error {
	return e.fail(ctx, attemptID, kind, detail, nil)
}

// fail is Fail with an optional condition re-checked under the locks.
func (e *Engine) fail(ctx context.Context, attemptID string, kind FailureKind, detail string, still func(*attempt) bool) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.fail",
		telemetry.AttrAttemptID.String(attemptID),
		telemetry.AttrFailureKind.String(string(kind)))
	defer func() { telemetry.EndSpan(span, err) }()

	if _, err := ParseFailureKind(string(kind)); err != nil {
		return err
	}
	fp, err := e.attemptFingerprint(attemptID)
	if err != nil {
		return err
	}

	var fx effects
	err = e.withLock(ctx, fpKey(fp), "fail", func() error {
		e.mu.Lock()
		defer e.mu.Unlock()

		a := e.attempts[attemptID]
		if a.Status.Terminal() {
			e.logger.Info("ignoring failure of finished attempt", "attempt_id", a.ID, "status", a.Status)
			return nil
		}
		if still != nil && !still(a) {
			return nil
		}
		if ferr := e.failLocked(a, kind, detail, &fx); ferr != nil {
			return ferr
		}
		e.flushLocked(ctx)
		return nil
	})
	e.apply(ctx, &fx)
	return err
}

// failLocked fails a and retries or fails its tasks. Caller holds the
// fingerprint's key lock and e.mu.
func (e *Engine) failLocked(a *attempt, kind FailureKind, detail string, fx *effects) error {
	if err := e.transitionLocked(a, AttemptFailed); err != nil {
		return err
	}
	a.FailureKind = kind
	a.Detail = detail

	var retry []*task
	for _, id := range a.TaskIDs {
		t := e.tasks[id]
		if t.Status != TaskRunning || t.ActiveAttemptID != a.ID {
			continue
		}
		if t.budget.CanRetry(kind, e.limits) {
			n := t.budget.IncrementRetry(kind)
			e.logger.Warn("retrying task",
				"task_id", t.ID,
				"failed_attempt_id", a.ID,
				"kind", kind,
				"retry", n,
				"max", e.limits.Max(kind))
			retry = append(retry, t)
			continue
		}
		t.Status = TaskFailed
		t.FailureKind = kind
		e.markTask(t.ID)
		e.logger.Error("task failed",
			"task_id", t.ID,
			"run_id", t.RunID,
			"attempt_id", a.ID,
			"kind", kind,
			"detail", detail)
		fx.check = append(fx.check, t.RunID)
	}
	for _, t := range retry {
		e.assignAttemptLocked(t, fx)
	}
	return nil
}

// RetryTask starts a new attempt for a task that failed for good, if the
// retry limits now allow another retry for its failure kind. The run and
// its ancestors return to running.
func (e *Engine) RetryTask(ctx context.Context, taskID string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.retry_task", telemetry.AttrTaskID.String(taskID))
	defer func() { telemetry.EndSpan(span, err) }()

	e.mu.RLock()
	t, ok := e.tasks[taskID]
	if !ok {
		e.mu.RUnlock()
		return fmt.Errorf("retry %s: %w", taskID, ErrTaskNotFound)
	}
	runID, fp := t.RunID, t.Fingerprint
	e.mu.RUnlock()

	var fx effects
	err = e.withLock(ctx, runKey(runID), "retry", func() error {
		return e.withLock(ctx, fpKey(fp), "retry", func() error {
			e.mu.Lock()
			defer e.mu.Unlock()

			if t.Status != TaskFailed {
				return fmt.Errorf("retry task %s (%s): %w", t.ID, t.Status, ErrInvalidTransition)
			}
			r := e.runs[runID]
			if r.Status == RunKilled {
				return fmt.Errorf("retry task %s: %w", t.ID, ErrRunTerminal)
			}
			kind := t.FailureKind
			if !t.budget.CanRetry(kind, e.limits) {
				return fmt.Errorf("retry task %s: %d of %d %s retries used: %w",
					t.ID, t.budget.RetryCount(kind), e.limits.Max(kind), kind, ErrRetryBudgetExhausted)
			}
			t.budget.IncrementRetry(kind)
			t.Status = TaskRunning
			t.FailureKind = ""
			e.markTask(t.ID)
			e.reopenLocked(r)
			e.logger.Info("task retry requested", "task_id", t.ID, "kind", kind)
			e.assignAttemptLocked(t, &fx)
			fx.check = append(fx.check, r.ID)
			e.flushLocked(ctx)
			return nil
		})
	})
	e.apply(ctx, &fx)
	return err
}

func (e *Engine) attemptFingerprint(attemptID string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.attempts[attemptID]
	if !ok {
		return "", fmt.Errorf("attempt %s: %w", attemptID, ErrAttemptNotFound)
	}
	return a.Fingerprint, nil
}
