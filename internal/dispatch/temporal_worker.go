// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package dispatch

import (
	"errors"
	"fmt"
	"sync"

	"go.temporal.io/sdk/client"
	sdkworker "go.temporal.io/sdk/worker"
)

// WorkerOptions configures a TemporalWorker.
type WorkerOptions struct {
	// TaskQueue is the task queue attempt workflows are started on.
	TaskQueue string
	// MaxConcurrent is max concurrent activity executions (default: 10).
	MaxConcurrent int
}

// TemporalWorker hosts AttemptWorkflow and its activity.
type TemporalWorker struct {
	worker  sdkworker.Worker
	opts    WorkerOptions
	started bool
	mu      sync.Mutex
}

// NewTemporalWorker creates a worker polling opts.TaskQueue and registers
// the attempt workflow and activities.
func NewTemporalWorker(c client.Client, acts *Activities, opts WorkerOptions) (*TemporalWorker, error) {
	if opts.TaskQueue == "" {
		return nil, errors.New("task_queue is required")
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}

	w := sdkworker.New(c, opts.TaskQueue, sdkworker.Options{
		MaxConcurrentActivityExecutionSize: opts.MaxConcurrent,
	})
	w.RegisterWorkflow(AttemptWorkflow)
	w.RegisterActivity(acts)

	return &TemporalWorker{worker: w, opts: opts}, nil
}

// Start begins polling. Calling Start twice is safe.
func (w *TemporalWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}
	if err := w.worker.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	w.started = true
	return nil
}

// Stop shuts the worker down. Calling Stop twice is safe.
func (w *TemporalWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return
	}
	w.worker.Stop()
	w.started = false
}
