// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package dispatch implements engine.Dispatcher: Local runs attempts in
// goroutines of this process, Temporal runs each attempt as a Temporal
// workflow. Both report results back through a Reporter.
package dispatch

import (
	"context"
	"errors"

	"loom/internal/engine"
	"loom/internal/worker"
)

// ErrNotAttached is returned by Dispatch before a Reporter is attached.
var ErrNotAttached = errors.New("dispatcher has no reporter attached")

// Reporter receives attempt progress. *engine.Engine implements it.
type Reporter interface {
	Heartbeat(ctx context.Context, attemptID string) error
	Complete(ctx context.Context, attemptID string, outputs engine.Outputs) error
	Fail(ctx context.Context, attemptID string, kind engine.FailureKind, detail string) error
	AttachLogs(ctx context.Context, attemptID string, logs ...engine.LogFile) error
}

// Executor runs one job. *worker.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, job worker.Job, heartbeat func() error) (engine.Outputs, error)
}

// logLocator is implemented by executors that know where an attempt's logs
// will be written.
type logLocator interface {
	LogFiles(attemptID string) []engine.LogFile
}

var (
	_ engine.Dispatcher = (*Local)(nil)
	_ engine.Dispatcher = (*Temporal)(nil)
	_ Reporter          = (*engine.Engine)(nil)
	_ Executor          = (*worker.Executor)(nil)
	_ logLocator        = (*worker.Executor)(nil)
)
