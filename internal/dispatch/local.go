// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"loom/internal/engine"
	"loom/internal/worker"
)

// Local executes attempts in this process with bounded concurrency.
type Local struct {
	exec   Executor
	sem    chan struct{}
	logger *slog.Logger

	mu       sync.Mutex
	reporter Reporter
	running  map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// NewLocal creates a dispatcher running at most maxConcurrent attempts.
func NewLocal(exec Executor, maxConcurrent int, logger *slog.Logger) *Local {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		exec:    exec,
		sem:     make(chan struct{}, maxConcurrent),
		logger:  logger,
		running: make(map[string]context.CancelFunc),
	}
}

// Attach sets where results are reported.
func (l *Local) Attach(r Reporter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reporter = r
}

// Dispatch starts the attempt in the background and returns at once.
func (l *Local) Dispatch(ctx context.Context, d engine.AttemptDescriptor) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reporter == nil {
		return ErrNotAttached
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.running[d.AttemptID] = cancel
	l.wg.Add(1)
	go l.run(runCtx, l.reporter, worker.JobFor(d))
	return nil
}

func (l *Local) run(ctx context.Context, r Reporter, job worker.Job) {
	defer l.wg.Done()
	defer l.forget(job.AttemptID)

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-l.sem }()

	if loc, ok := l.exec.(logLocator); ok {
		if err := r.AttachLogs(ctx, job.AttemptID, loc.LogFiles(job.AttemptID)...); err != nil {
			l.logger.Warn("attaching logs failed", "attempt_id", job.AttemptID, "error", err)
		}
	}

	outputs, err := l.exec.Execute(ctx, job, func() error {
		return r.Heartbeat(ctx, job.AttemptID)
	})
	if ctx.Err() != nil || errors.Is(err, worker.ErrAbandoned) {
		l.logger.Info("attempt stopped", "attempt_id", job.AttemptID)
		return
	}

	report := context.WithoutCancel(ctx)
	if err != nil {
		kind := worker.KindOf(err)
		if ferr := r.Fail(report, job.AttemptID, kind, err.Error()); ferr != nil {
			l.logger.Error("reporting failure failed", "attempt_id", job.AttemptID, "error", ferr)
		}
		return
	}
	if cerr := r.Complete(report, job.AttemptID, outputs); cerr != nil {
		l.logger.Warn("reporting completion failed", "attempt_id", job.AttemptID, "error", cerr)
	}
}

func (l *Local) forget(attemptID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cancel, ok := l.running[attemptID]; ok {
		cancel()
		delete(l.running, attemptID)
	}
}

// Cancel stops a queued or running attempt. Unknown ids are ignored.
func (l *Local) Cancel(_ context.Context, attemptID string) error {
	l.mu.Lock()
	cancel, ok := l.running[attemptID]
	l.mu.Unlock()
	if ok {
		l.logger.Info("cancelling attempt", "attempt_id", attemptID)
		cancel()
	}
	return nil
}

// Wait blocks until every dispatched attempt has finished.
func (l *Local) Wait() { l.wg.Wait() }
