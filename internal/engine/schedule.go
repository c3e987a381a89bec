// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"loom/internal/data"
	"loom/internal/datanode"
	"loom/internal/fingerprint"
	"loom/internal/inputcalc"
	"loom/internal/telemetry"
)

// effects collects work to do once all locks are released.
type effects struct {
	dispatch []AttemptDescriptor
	cancel   []string
	touched  []*datanode.Tree
	check    []string
	notify   []RunNotification
}

// PushNewData stores obj at path on an input channel of a run and creates
// tasks for every input set that became ready, in this run and in every
// other step reading the same channel.
func (e *Engine) PushNewData(ctx context.Context, runID, channel string, path datanode.Path, obj data.Object) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.push_new_data",
		telemetry.AttrRunID.String(runID),
		telemetry.AttrChannel.String(channel),
		telemetry.AttrDataPath.String(path.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	e.mu.RLock()
	r, ok := e.runs[runID]
	if !ok {
		e.mu.RUnlock()
		return fmt.Errorf("push to run %s: %w", runID, ErrRunNotFound)
	}
	status := r.Status
	var tree *datanode.Tree
	for _, in := range r.Inputs {
		if in.Channel == channel {
			tree = in.Data
			break
		}
	}
	e.mu.RUnlock()

	if status.Terminal() {
		return fmt.Errorf("push to run %s (%s): %w", runID, status, ErrRunTerminal)
	}
	if tree == nil {
		return fmt.Errorf("push to run %s channel %q: %w", runID, channel, ErrUnknownChannel)
	}
	if err := tree.AddDataObject(path, obj); err != nil {
		return fmt.Errorf("push to run %s channel %q: %w", runID, channel, err)
	}
	e.logger.Debug("data arrived", "run_id", runID, "channel", channel, "path", path.String())

	return e.dataArrived(ctx, tree)
}

// GetReadyTaskInputs returns the input sets of a step run that are ready
// but have no task yet.
func (e *Engine) GetReadyTaskInputs(runID string) ([]inputcalc.InputSet, error) {
	e.mu.RLock()
	r, ok := e.runs[runID]
	if !ok {
		e.mu.RUnlock()
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if r.spec.IsWorkflow() {
		e.mu.RUnlock()
		return nil, fmt.Errorf("run %s: %w", runID, ErrWorkflowRun)
	}
	calc := r.calc
	e.mu.RUnlock()

	sets, err := calc.InputSets()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []inputcalc.InputSet
	for _, set := range sets {
		if _, exists := r.byPath[set.Path.String()]; !exists {
			out = append(out, set)
		}
	}
	return out, nil
}

// dataArrived schedules every step reading one of trees.
func (e *Engine) dataArrived(ctx context.Context, trees ...*datanode.Tree) error {
	e.mu.RLock()
	var ids []string
	seen := make(map[string]bool)
	for _, tree := range trees {
		for _, id := range e.consumers[tree] {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	e.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := e.schedule(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// schedule creates tasks for the new input sets of a step run.
func (e *Engine) schedule(ctx context.Context, runID string) error {
	var fx effects
	err := e.withLock(ctx, runKey(runID), "schedule", func() error {
		return e.scheduleRunLocked(ctx, runID, &fx)
	})
	e.apply(ctx, &fx)
	return err
}

// scheduleRunLocked runs under the run's key lock.
func (e *Engine) scheduleRunLocked(ctx context.Context, runID string, fx *effects) error {
	e.mu.RLock()
	r, ok := e.runs[runID]
	if !ok || r.Status.Terminal() || r.spec.IsWorkflow() {
		e.mu.RUnlock()
		return nil
	}
	e.mu.RUnlock()

	// Checked before the scan: if every input is complete now, the scan
	// below sees everything the run will ever get.
	closed := true
	for _, in := range r.Inputs {
		if ready, err := in.Data.IsReady(nil); err != nil || !ready {
			closed = false
			break
		}
	}

	sets, err := r.calc.InputSets()
	if err != nil {
		e.logger.Error("input calculation failed", "run_id", runID, "name", r.Name, "error", err)
		return fmt.Errorf("run %s: %w", runID, err)
	}

	created := 0
	for _, set := range sets {
		key := set.Path.String()
		e.mu.RLock()
		_, exists := r.byPath[key]
		e.mu.RUnlock()
		if exists {
			continue
		}

		t, err := e.newTask(r, set)
		if err != nil {
			return fmt.Errorf("run %s path %s: %w", runID, key, err)
		}
		err = e.withLock(ctx, fpKey(t.Fingerprint), "schedule", func() error {
			e.mu.Lock()
			defer e.mu.Unlock()
			if r.Status.Terminal() {
				return nil
			}
			e.tasks[t.ID] = t
			r.byPath[key] = t.ID
			r.TaskIDs = append(r.TaskIDs, t.ID)
			e.markTask(t.ID)
			e.markRun(r.ID)
			e.logger.Info("task created",
				"run_id", r.ID,
				"task_id", t.ID,
				"path", key,
				"fingerprint", t.Fingerprint)
			e.assignAttemptLocked(t, fx)
			e.flushLocked(ctx)
			return nil
		})
		if err != nil {
			return err
		}
		created++
	}

	e.mu.Lock()
	if closed {
		r.inputsClosed = true
	}
	e.mu.Unlock()
	fx.check = append(fx.check, runID)

	if created > 0 {
		telemetry.AddEvent(ctx, "tasks.created",
			telemetry.AttrRunID.String(runID),
			telemetry.AttrCount.Int(created))
	}
	return nil
}

// newTask builds a task for set. Nothing is registered yet.
func (e *Engine) newTask(r *run, set inputcalc.InputSet) (*task, error) {
	cmd, err := renderCommand(r.command, commandValues(set.Items))
	if err != nil {
		return nil, fmt.Errorf("render command: %w", err)
	}
	fp := fingerprint.ForInputSet(fingerprint.Spec{
		Command:     r.spec.Command,
		Interpreter: r.spec.Interpreter,
		Env:         r.spec.Env,
		Outputs:     outputStrings(r.spec.Outputs),
	}, set)

	return &task{
		Task: Task{
			ID:          uuid.NewString(),
			RunID:       r.ID,
			Path:        set.Path.Clone(),
			Status:      TaskRunning,
			Command:     cmd,
			Env:         maps.Clone(r.spec.Env),
			Fingerprint: fp,
			Inputs:      set.Items,
		},
		budget: NewRetryBudget(),
		descriptor: AttemptDescriptor{
			Fingerprint: fp,
			StepName:    r.Name,
			Command:     cmd,
			Interpreter: r.spec.Interpreter,
			Env:         maps.Clone(r.spec.Env),
			Inputs:      resolveInputs(set.Items),
			Outputs:     r.spec.Outputs,
		},
	}, nil
}

// assignAttemptLocked gives t an attempt: the viable attempt already serving
// its fingerprint, or a new one queued for dispatch. Caller holds the
// fingerprint's key lock and e.mu.
func (e *Engine) assignAttemptLocked(t *task, fx *effects) {
	if id, ok := e.byFingerprint[t.Fingerprint]; ok {
		if a := e.attempts[id]; e.viableLocked(a) {
			t.ActiveAttemptID = a.ID
			t.AttemptIDs = append(t.AttemptIDs, a.ID)
			a.TaskIDs = append(a.TaskIDs, t.ID)
			e.markTask(t.ID)
			e.markAttempt(a.ID)
			e.logger.Info("task adopted attempt",
				"task_id", t.ID,
				"attempt_id", a.ID,
				"attempt_status", a.Status)
			if a.Status == AttemptSucceeded {
				e.succeedTaskLocked(t, a, fx)
			}
			return
		}
	}

	d := t.descriptor
	d.AttemptID = uuid.NewString()
	a := &attempt{
		TaskAttempt: TaskAttempt{
			ID:          d.AttemptID,
			Fingerprint: t.Fingerprint,
			Status:      AttemptCreated,
			TaskIDs:     []string{t.ID},
			CreatedAt:   e.now(),
		},
		descriptor: d,
	}
	e.attempts[a.ID] = a
	e.byFingerprint[t.Fingerprint] = a.ID
	t.ActiveAttemptID = a.ID
	t.AttemptIDs = append(t.AttemptIDs, a.ID)
	e.markTask(t.ID)
	e.markAttempt(a.ID)
	e.logger.Info("attempt created", "task_id", t.ID, "attempt_id", a.ID, "fingerprint", a.Fingerprint)
	fx.dispatch = append(fx.dispatch, d)
}

// viableLocked reports whether a can still serve new tasks.
func (e *Engine) viableLocked(a *attempt) bool {
	if a == nil {
		return false
	}
	switch a.Status {
	case AttemptCreated, AttemptSucceeded:
		return true
	case AttemptRunning:
		return !e.staleLocked(a, e.now())
	default:
		return false
	}
}

// staleLocked reports whether a running attempt has missed its heartbeats.
func (e *Engine) staleLocked(a *attempt, now time.Time) bool {
	last := a.LastHeartbeat
	if last.IsZero() {
		last = a.DispatchedAt
	}
	return now.Sub(last) > e.cfg.StaleAfter()
}

// succeedTaskLocked completes t with the outputs of a, records them on the
// task and writes them into the run's output channels.
func (e *Engine) succeedTaskLocked(t *task, a *attempt, fx *effects) {
	if t.Status != TaskRunning {
		return
	}
	r := e.runs[t.RunID]
	produced := make([]TaskOutput, 0, len(r.Outputs))
	for _, out := range r.Outputs {
		values := a.Outputs[out.Channel]
		if err := writeOutput(out, t.Path, values); err != nil {
			e.logger.Error("writing task output failed",
				"task_id", t.ID,
				"channel", out.Channel,
				"error", err)
			t.Status = TaskFailed
			t.FailureKind = FailureSystem
			e.markTask(t.ID)
			fx.check = append(fx.check, r.ID)
			return
		}
		produced = append(produced, TaskOutput{
			Channel: out.Channel,
			Type:    out.Type,
			Mode:    out.Mode,
			Values:  slices.Clone(values),
		})
		fx.touched = append(fx.touched, out.Data)
	}
	t.Outputs = produced
	t.Status = TaskSucceeded
	e.markTask(t.ID)
	e.logger.Info("task succeeded", "task_id", t.ID, "run_id", t.RunID, "attempt_id", a.ID)
	fx.check = append(fx.check, r.ID)
}

func writeOutput(out RunOutput, path datanode.Path, values []data.Object) error {
	if out.Mode == OutputScatter {
		n := len(values)
		for i, v := range values {
			if err := out.Data.AddDataObject(path.Append(datanode.Step{Index: i, Degree: n}), v); err != nil {
				return err
			}
		}
		return nil
	}
	if len(values) != 1 {
		return fmt.Errorf("%w: channel %s needs one value, got %d", ErrInvalidOutputs, out.Channel, len(values))
	}
	return out.Data.AddDataObject(path, values[0])
}

// validateOutputs checks outputs against the declared channels.
func validateOutputs(specs []OutputSpec, outputs Outputs) error {
	for _, s := range specs {
		values, ok := outputs[s.Channel]
		if !ok {
			return fmt.Errorf("%w: missing channel %s", ErrInvalidOutputs, s.Channel)
		}
		switch {
		case s.Mode == OutputScatter && len(values) == 0:
			return fmt.Errorf("%w: scatter channel %s is empty", ErrInvalidOutputs, s.Channel)
		case s.Mode != OutputScatter && len(values) != 1:
			return fmt.Errorf("%w: channel %s needs one value, got %d", ErrInvalidOutputs, s.Channel, len(values))
		}
		for _, v := range values {
			if v == nil || v.Type() != s.Type {
				return fmt.Errorf("%w: channel %s holds %s values", ErrInvalidOutputs, s.Channel, s.Type)
			}
		}
	}
	return nil
}

// apply performs deferred effects. No lock may be held.
func (e *Engine) apply(ctx context.Context, fx *effects) {
	for _, id := range fx.check {
		fx.notify = append(fx.notify, e.checkRun(ctx, id)...)
	}

	bg := context.WithoutCancel(ctx)
	e.mu.RLock()
	dispatcher := e.dispatcher
	e.mu.RUnlock()

	for _, d := range fx.dispatch {
		e.wg.Add(1)
		go func(d AttemptDescriptor) {
			defer e.wg.Done()
			e.runAttempt(bg, dispatcher, d)
		}(d)
	}

	for _, id := range fx.cancel {
		if err := dispatcher.Cancel(bg, id); err != nil {
			e.logger.Warn("cancelling attempt failed", "attempt_id", id, "error", err)
		}
	}

	if len(fx.touched) > 0 {
		if err := e.dataArrived(ctx, fx.touched...); err != nil {
			e.logger.Error("scheduling downstream steps failed", "error", err)
		}
	}

	for _, n := range fx.notify {
		if err := e.notifier.NotifyRunFinished(bg, n); err != nil {
			e.logger.Warn("run notification failed", "run_id", n.RunID, "status", n.Status, "error", err)
		}
	}
}

// runAttempt marks the attempt running and hands it to the dispatcher.
func (e *Engine) runAttempt(ctx context.Context, dispatcher Dispatcher, d AttemptDescriptor) {
	if !e.startAttempt(ctx, d.AttemptID) {
		return
	}
	if err := dispatcher.Dispatch(ctx, d); err != nil {
		e.logger.Error("dispatch failed", "attempt_id", d.AttemptID, "error", err)
		if ferr := e.Fail(ctx, d.AttemptID, FailureSystem, "dispatch: "+err.Error()); ferr != nil {
			e.logger.Error("recording dispatch failure failed", "attempt_id", d.AttemptID, "error", ferr)
		}
	}
}

func (e *Engine) startAttempt(ctx context.Context, id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.attempts[id]
	if !ok || a.Status != AttemptCreated {
		return false
	}
	if err := e.transitionLocked(a, AttemptRunning); err != nil {
		return false
	}
	a.DispatchedAt = e.now()
	e.flushLocked(ctx)
	return true
}
