// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"loom/internal/engine"
	"loom/internal/worker"
)

// WorkflowClient is the part of client.Client the dispatcher uses.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	CancelWorkflow(ctx context.Context, workflowID string, runID string) error
}

// TemporalConfig configures the Temporal dispatcher.
type TemporalConfig struct {
	TaskQueue           string
	StartToCloseTimeout time.Duration
	HeartbeatTimeout    time.Duration
	// ReportEvery is how often an open workflow is reported to the engine
	// as a heartbeat.
	ReportEvery time.Duration
	// SubmitMaxRetries bounds retries of ExecuteWorkflow.
	SubmitMaxRetries      uint64
	SubmitInitialInterval time.Duration
}

// Temporal runs every attempt as an AttemptWorkflow and follows it until it
// closes. Temporal's activity heartbeat timeout detects lost workers; while
// the workflow is open the engine is told the attempt is alive.
type Temporal struct {
	client WorkflowClient
	cfg    TemporalConfig
	logger *slog.Logger

	mu       sync.Mutex
	reporter Reporter
	wg       sync.WaitGroup
}

// NewTemporal creates a dispatcher submitting to c.
func NewTemporal(c WorkflowClient, cfg TemporalConfig, logger *slog.Logger) (*Temporal, error) {
	if cfg.TaskQueue == "" {
		return nil, errors.New("task_queue is required")
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = 30 * time.Second
	}
	if cfg.SubmitInitialInterval <= 0 {
		cfg.SubmitInitialInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Temporal{client: c, cfg: cfg, logger: logger}, nil
}

// Attach sets where results are reported.
func (t *Temporal) Attach(r Reporter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reporter = r
}

// WorkflowID is the Temporal workflow id of an attempt.
func WorkflowID(attemptID string) string { return "loom-attempt-" + attemptID }

// Dispatch starts the attempt's workflow, retrying submission with
// exponential backoff.
func (t *Temporal) Dispatch(ctx context.Context, d engine.AttemptDescriptor) error {
	t.mu.Lock()
	r := t.reporter
	t.mu.Unlock()
	if r == nil {
		return ErrNotAttached
	}

	in := AttemptInput{
		Job:                 worker.JobFor(d),
		StartToCloseTimeout: t.cfg.StartToCloseTimeout,
		HeartbeatTimeout:    t.cfg.HeartbeatTimeout,
	}
	opts := client.StartWorkflowOptions{
		ID:        WorkflowID(d.AttemptID),
		TaskQueue: t.cfg.TaskQueue,
	}

	var run client.WorkflowRun
	submit := func() error {
		var err error
		run, err = t.client.ExecuteWorkflow(ctx, opts, AttemptWorkflow, in)
		if err != nil {
			t.logger.Warn("starting attempt workflow failed", "attempt_id", d.AttemptID, "error", err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.SubmitInitialInterval
	if err := backoff.Retry(submit, backoff.WithContext(backoff.WithMaxRetries(b, t.cfg.SubmitMaxRetries), ctx)); err != nil {
		return fmt.Errorf("start workflow for attempt %s: %w", d.AttemptID, err)
	}

	t.logger.Info("attempt workflow started",
		"attempt_id", d.AttemptID,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID())

	// The workflow history holds the attempt's activity events and failures.
	history := engine.LogFile{Name: "workflow", Path: run.GetID() + "/" + run.GetRunID()}
	if err := r.AttachLogs(ctx, d.AttemptID, history); err != nil {
		t.logger.Warn("attaching logs failed", "attempt_id", d.AttemptID, "error", err)
	}

	t.wg.Add(1)
	go t.follow(context.WithoutCancel(ctx), r, run, in.Job)
	return nil
}

// follow waits for the workflow result and reports it.
func (t *Temporal) follow(ctx context.Context, r Reporter, run client.WorkflowRun, job worker.Job) {
	defer t.wg.Done()

	type outcome struct {
		res worker.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		var res worker.Result
		err := run.Get(ctx, &res)
		done <- outcome{res: res, err: err}
	}()

	ticker := time.NewTicker(t.cfg.ReportEvery)
	defer ticker.Stop()

	var out outcome
wait:
	for {
		select {
		case out = <-done:
			break wait
		case <-ticker.C:
			if err := r.Heartbeat(ctx, job.AttemptID); err != nil {
				t.logger.Info("stopped following attempt", "attempt_id", job.AttemptID, "reason", err)
				return
			}
		}
	}

	if out.err != nil {
		kind, cancelled := failureOf(out.err)
		if cancelled {
			t.logger.Info("attempt workflow cancelled", "attempt_id", job.AttemptID)
			return
		}
		if err := r.Fail(ctx, job.AttemptID, kind, out.err.Error()); err != nil {
			t.logger.Error("reporting failure failed", "attempt_id", job.AttemptID, "error", err)
		}
		return
	}

	outputs, err := out.res.Decode(job.Outputs)
	if err != nil {
		if ferr := r.Fail(ctx, job.AttemptID, engine.FailureAnalysis, err.Error()); ferr != nil {
			t.logger.Error("reporting failure failed", "attempt_id", job.AttemptID, "error", ferr)
		}
		return
	}
	if err := r.Complete(ctx, job.AttemptID, outputs); err != nil {
		t.logger.Warn("reporting completion failed", "attempt_id", job.AttemptID, "error", err)
	}
}

// failureOf classifies a workflow error.
func failureOf(err error) (kind engine.FailureKind, cancelled bool) {
	if temporal.IsCanceledError(err) {
		return "", true
	}
	if temporal.IsTimeoutError(err) {
		return engine.FailureTimeout, false
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		if k, perr := engine.ParseFailureKind(appErr.Type()); perr == nil {
			return k, false
		}
	}
	return engine.FailureSystem, false
}

// Cancel requests cancellation of the attempt's workflow.
func (t *Temporal) Cancel(ctx context.Context, attemptID string) error {
	if err := t.client.CancelWorkflow(ctx, WorkflowID(attemptID), ""); err != nil {
		return fmt.Errorf("cancel workflow for attempt %s: %w", attemptID, err)
	}
	return nil
}

// Wait blocks until every followed workflow has been reported.
func (t *Temporal) Wait() { t.wg.Wait() }
