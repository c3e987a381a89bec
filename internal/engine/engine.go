// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package engine is the data-parallel scheduler. It turns data arriving on
// run inputs into tasks, deduplicates executions by fingerprint, retries
// failed attempts within per-kind budgets and cascades results into
// downstream runs.
//
// Locking: decisions about one run (which tasks exist) are serialized by a
// per-run key lock, and decisions about one fingerprint (which attempt
// serves it) by a per-fingerprint key lock, always taken in that order.
// Engine.mu guards the maps and every status field and is held only for
// in-memory work. Dispatch, cancellation, notification and downstream
// scheduling happen after all locks are released.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"

	"loom/internal/data"
	"loom/internal/datanode"
	"loom/internal/inputcalc"
	"loom/internal/keylock"
	"loom/internal/store"
	"loom/internal/telemetry"
)

const (
	defaultHeartbeatInterval        = 60 * time.Second
	defaultHeartbeatTimeoutMultiple = 3
	defaultSweepInterval            = 30 * time.Second
)

// Config holds scheduler settings.
type Config struct {
	// HeartbeatInterval is how often a running attempt must report.
	HeartbeatInterval time.Duration
	// HeartbeatTimeoutMultiple intervals without a heartbeat make an attempt stale.
	HeartbeatTimeoutMultiple int
	// SweepInterval is the period of MonitorHeartbeats.
	SweepInterval time.Duration
	// Retries bounds automatic and manual retries per failure kind.
	Retries RetryLimits
}

// StaleAfter is how long an attempt may go without a heartbeat.
func (c Config) StaleAfter() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.HeartbeatTimeoutMultiple)
}

// Dispatcher executes attempts out of band and reports back through
// Heartbeat, Complete and Fail.
type Dispatcher interface {
	Dispatch(ctx context.Context, d AttemptDescriptor) error
	Cancel(ctx context.Context, attemptID string) error
}

// Notifier receives terminal statuses of top-level runs.
type Notifier interface {
	NotifyRunFinished(ctx context.Context, n RunNotification) error
}

// Store persists scheduler state. Update must not call back into the engine.
type Store interface {
	Update(ctx context.Context, fn func(tx store.Tx) error) error
}

type run struct {
	Run
	spec    RunSpec
	command *template.Template
	calc    *inputcalc.Calculator
	// byPath maps a data path to the task created for it.
	byPath       map[string]string
	inputsClosed bool
	done         chan struct{}
}

type task struct {
	Task
	budget     *RetryBudget
	descriptor AttemptDescriptor
}

type attempt struct {
	TaskAttempt
	descriptor AttemptDescriptor
}

// Engine schedules runs. It is safe for concurrent use.
type Engine struct {
	cfg      Config
	store    Store
	notifier Notifier
	logger   *slog.Logger
	locks    *keylock.MemoryRegistry
	now      func() time.Time
	wg       sync.WaitGroup

	mu            sync.RWMutex
	dispatcher    Dispatcher
	limits        RetryLimits
	runs          map[string]*run
	tasks         map[string]*task
	attempts      map[string]*attempt
	byFingerprint map[string]string
	consumers     map[*datanode.Tree][]string
	dirty         dirtySet
}

// New creates an engine. Nil collaborators are replaced by an in-memory
// store, a dispatcher and notifier that do nothing, and slog.Default().
func New(cfg Config, st Store, dispatcher Dispatcher, notifier Notifier, logger *slog.Logger) *Engine {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.HeartbeatTimeoutMultiple == 0 {
		cfg.HeartbeatTimeoutMultiple = defaultHeartbeatTimeoutMultiple
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Retries == (RetryLimits{}) {
		cfg.Retries = DefaultRetryLimits()
	}
	if st == nil {
		st = store.NewMemory()
	}
	if dispatcher == nil {
		dispatcher = nopDispatcher{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:           cfg,
		store:         st,
		notifier:      notifier,
		logger:        logger,
		locks:         keylock.NewMemoryRegistry(),
		now:           time.Now,
		dispatcher:    dispatcher,
		limits:        cfg.Retries,
		runs:          make(map[string]*run),
		tasks:         make(map[string]*task),
		attempts:      make(map[string]*attempt),
		byFingerprint: make(map[string]string),
		consumers:     make(map[*datanode.Tree][]string),
		dirty:         newDirtySet(),
	}
}

// SetDispatcher replaces the dispatcher. Dispatchers that report back to the
// engine are created after it and attached here.
func (e *Engine) SetDispatcher(d Dispatcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatcher = d
}

// SetRetryLimits changes the retry limits for all tasks, including tasks
// that have already failed.
func (e *Engine) SetRetryLimits(l RetryLimits) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limits = l
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

func runKey(id string) string { return "run:" + id }
func fpKey(fp string) string  { return "fp:" + fp }

// CreateRun instantiates spec as a tree of runs with empty input channels.
// Steps without inputs are scheduled immediately.
func (e *Engine) CreateRun(ctx context.Context, spec RunSpec) (_ Run, err error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.create_run", telemetry.RunAttrs("", spec.Name)...)
	defer func() { telemetry.EndSpan(span, err) }()

	b := &builder{now: e.now(), consumers: make(map[*datanode.Tree][]string)}
	root, err := b.build(spec, "", nil, nil)
	if err != nil {
		return Run{}, err
	}

	e.mu.Lock()
	var steps []string
	for _, r := range b.runs {
		e.runs[r.ID] = r
		e.markRun(r.ID)
		if !r.spec.IsWorkflow() {
			steps = append(steps, r.ID)
		}
	}
	for tree, ids := range b.consumers {
		e.consumers[tree] = append(e.consumers[tree], ids...)
	}
	e.flushLocked(ctx)
	snap := root.snapshot()
	e.mu.Unlock()

	e.logger.Info("run created", "run_id", root.ID, "name", root.Name, "runs", len(b.runs))

	for _, id := range steps {
		if err := e.schedule(ctx, id); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

type builder struct {
	now       time.Time
	runs      []*run
	consumers map[*datanode.Tree][]string
}

// build creates the run for spec. in and out hold trees already allocated
// by the parent for this run's channels; missing ones are created.
func (b *builder) build(spec RunSpec, parentID string, in, out map[string]*datanode.Tree) (*run, error) {
	if spec.Name == "" {
		return nil, &SpecError{Field: "name", Msg: "must not be empty"}
	}
	spec.Outputs = slices.Clone(spec.Outputs)
	r := &run{
		Run: Run{
			ID:        uuid.NewString(),
			ParentID:  parentID,
			Name:      spec.Name,
			Status:    RunRunning,
			CreatedAt: b.now,
		},
		spec:   spec,
		byPath: make(map[string]string),
		done:   make(chan struct{}),
	}

	aliases := make(map[string]bool)
	for _, is := range spec.Inputs {
		if err := checkChannel(spec.Name, "input", is.Channel, is.Type); err != nil {
			return nil, err
		}
		if is.Group < 0 {
			return nil, &SpecError{Step: spec.Name, Field: "input " + is.Channel, Msg: "group must be >= 0"}
		}
		if aliases[is.Alias()] {
			return nil, &SpecError{Step: spec.Name, Field: "input " + is.Channel, Msg: "duplicate channel " + is.Alias()}
		}
		aliases[is.Alias()] = true

		tree := in[is.Channel]
		if tree == nil {
			tree = datanode.New(is.Type)
		} else if tree.Type() != is.Type {
			return nil, &SpecError{Step: spec.Name, Field: "input " + is.Channel,
				Msg: fmt.Sprintf("declared %s but connected channel carries %s", is.Type, tree.Type())}
		}
		r.Inputs = append(r.Inputs, RunInput{InputSpec: is, Data: tree})
	}

	outputs := make(map[string]bool)
	for i, os := range spec.Outputs {
		if err := checkChannel(spec.Name, "output", os.Channel, os.Type); err != nil {
			return nil, err
		}
		if outputs[os.Channel] {
			return nil, &SpecError{Step: spec.Name, Field: "output " + os.Channel, Msg: "duplicate channel"}
		}
		outputs[os.Channel] = true
		switch os.Mode {
		case "":
			os.Mode = OutputNoScatter
			spec.Outputs[i].Mode = OutputNoScatter
		case OutputNoScatter, OutputScatter:
		default:
			return nil, &SpecError{Step: spec.Name, Field: "output " + os.Channel, Msg: "unknown mode " + string(os.Mode)}
		}

		tree := out[os.Channel]
		if tree == nil {
			tree = datanode.New(os.Type)
		} else if tree.Type() != os.Type {
			return nil, &SpecError{Step: spec.Name, Field: "output " + os.Channel,
				Msg: fmt.Sprintf("declared %s but connected channel carries %s", os.Type, tree.Type())}
		}
		r.Outputs = append(r.Outputs, RunOutput{OutputSpec: os, Data: tree})
	}
	b.runs = append(b.runs, r)

	if spec.IsWorkflow() {
		return r, b.buildSteps(r)
	}

	if spec.Command == "" {
		return nil, &SpecError{Step: spec.Name, Field: "command", Msg: "must not be empty"}
	}
	tmpl, err := parseCommand(spec.Name, spec.Command)
	if err != nil {
		return nil, &SpecError{Step: spec.Name, Field: "command", Msg: err.Error()}
	}
	placeholders := make(map[string]string, len(r.Inputs))
	for _, ri := range r.Inputs {
		placeholders[ri.Alias()] = "x"
	}
	if _, err := renderCommand(tmpl, placeholders); err != nil {
		return nil, &SpecError{Step: spec.Name, Field: "command", Msg: err.Error()}
	}
	r.command = tmpl

	calcInputs := make([]inputcalc.Input, len(r.Inputs))
	for i, ri := range r.Inputs {
		calcInputs[i] = inputcalc.Input{
			Channel:   ri.Channel,
			AsChannel: ri.AsChannel,
			Mode:      ri.Mode,
			Group:     ri.Group,
			Data:      ri.Data,
		}
		b.consumers[ri.Data] = append(b.consumers[ri.Data], r.ID)
	}
	r.calc = inputcalc.NewCalculator(calcInputs)
	return r, nil
}

// buildSteps wires the children of workflow r. A step input reads the
// workflow input or the sibling output with the same channel name.
func (b *builder) buildSteps(r *run) error {
	scope := make(map[string]*datanode.Tree)
	for _, ri := range r.Inputs {
		scope[ri.Channel] = ri.Data
	}
	ownOut := make(map[string]*datanode.Tree)
	for _, ro := range r.Outputs {
		ownOut[ro.Channel] = ro.Data
	}

	produced := make(map[string]string)
	stepOut := make([]map[string]*datanode.Tree, len(r.spec.Steps))
	for i, step := range r.spec.Steps {
		stepOut[i] = make(map[string]*datanode.Tree)
		for _, os := range step.Outputs {
			if prev, dup := produced[os.Channel]; dup {
				return &SpecError{Step: step.Name, Field: "output " + os.Channel,
					Msg: "channel already produced by step " + prev}
			}
			if _, isInput := scope[os.Channel]; isInput {
				return &SpecError{Step: step.Name, Field: "output " + os.Channel,
					Msg: "channel is an input of workflow " + r.Name}
			}
			produced[os.Channel] = step.Name
			tree := ownOut[os.Channel]
			if tree == nil {
				tree = datanode.New(os.Type)
			}
			stepOut[i][os.Channel] = tree
		}
		for ch, tree := range stepOut[i] {
			scope[ch] = tree
		}
	}
	for _, ro := range r.Outputs {
		if _, ok := produced[ro.Channel]; !ok {
			return &SpecError{Step: r.Name, Field: "output " + ro.Channel, Msg: "not produced by any step"}
		}
	}

	for i, step := range r.spec.Steps {
		stepIn := make(map[string]*datanode.Tree)
		for _, is := range step.Inputs {
			tree, ok := scope[is.Channel]
			if !ok {
				return &SpecError{Step: step.Name, Field: "input " + is.Channel,
					Msg: fmt.Sprintf("%v in workflow %s", ErrUnknownChannel, r.Name)}
			}
			stepIn[is.Channel] = tree
		}
		child, err := b.build(step, r.ID, stepIn, stepOut[i])
		if err != nil {
			return err
		}
		r.ChildIDs = append(r.ChildIDs, child.ID)
	}
	return nil
}

func checkChannel(step, kind, channel string, t data.Type) error {
	if channel == "" {
		return &SpecError{Step: step, Field: kind, Msg: "channel must not be empty"}
	}
	if _, err := data.ParseType(string(t)); err != nil {
		return &SpecError{Step: step, Field: kind + " " + channel, Msg: err.Error()}
	}
	return nil
}

func (r *run) snapshot() Run {
	s := r.Run
	s.ChildIDs = slices.Clone(r.ChildIDs)
	s.TaskIDs = slices.Clone(r.TaskIDs)
	s.Inputs = slices.Clone(r.Inputs)
	s.Outputs = slices.Clone(r.Outputs)
	return s
}

func (t *task) snapshot() Task {
	s := t.Task
	s.Path = t.Path.Clone()
	s.Inputs = slices.Clone(t.Inputs)
	s.AttemptIDs = slices.Clone(t.AttemptIDs)
	s.Env = maps.Clone(t.Env)
	s.Outputs = slices.Clone(t.Outputs)
	s.Retries = t.budget.snapshot()
	return s
}

func (a *attempt) snapshot() TaskAttempt {
	s := a.TaskAttempt
	s.TaskIDs = slices.Clone(a.TaskIDs)
	s.Outputs = cloneOutputs(a.Outputs)
	s.LogFiles = slices.Clone(a.LogFiles)
	return s
}

// closeDone wakes waiters. Caller holds e.mu.
func (r *run) closeDone() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

// Run returns a snapshot of a run.
func (e *Engine) Run(id string) (Run, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[id]
	if !ok {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	return r.snapshot(), nil
}

// Task returns a snapshot of a task.
func (e *Engine) Task(id string) (Task, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	return t.snapshot(), nil
}

// Attempt returns a snapshot of an attempt.
func (e *Engine) Attempt(id string) (TaskAttempt, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.attempts[id]
	if !ok {
		return TaskAttempt{}, fmt.Errorf("attempt %s: %w", id, ErrAttemptNotFound)
	}
	return a.snapshot(), nil
}

// Tasks returns the tasks of a step run in creation order.
func (e *Engine) Tasks(runID string) ([]Task, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	out := make([]Task, 0, len(r.TaskIDs))
	for _, id := range r.TaskIDs {
		out = append(out, e.tasks[id].snapshot())
	}
	return out, nil
}

// Wait blocks until the run is terminal or ctx ends.
func (e *Engine) Wait(ctx context.Context, runID string) (Run, error) {
	for {
		e.mu.RLock()
		r, ok := e.runs[runID]
		if !ok {
			e.mu.RUnlock()
			return Run{}, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}
		if r.Status.Terminal() {
			snap := r.snapshot()
			e.mu.RUnlock()
			return snap, nil
		}
		done := r.done
		e.mu.RUnlock()

		select {
		case <-done:
		case <-ctx.Done():
			return Run{}, ctx.Err()
		}
	}
}

// withLock runs fn holding key. When the key is contended, the current
// holder is logged before waiting for it.
func (e *Engine) withLock(ctx context.Context, key, holder string, fn func() error) error {
	return keylock.WithWait(ctx, e.locks, key, holder, func(c *keylock.ConflictError) {
		attrs := []any{"key", c.Key, "holder", c.Holder, "waiter", c.RequestedHolder}
		if l, ok := e.locks.Check(c.Key); ok {
			attrs = append(attrs, "held_for", time.Since(l.AcquiredAt))
		}
		e.logger.Debug("waiting for lock", attrs...)
	}, fn)
}

// drain waits for in-flight dispatch goroutines.
func (e *Engine) drain() { e.wg.Wait() }

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, AttemptDescriptor) error { return nil }
func (nopDispatcher) Cancel(context.Context, string) error              { return nil }

type nopNotifier struct{}

func (nopNotifier) NotifyRunFinished(context.Context, RunNotification) error { return nil }
