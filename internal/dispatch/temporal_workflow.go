// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package dispatch

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"loom/internal/worker"
)

// Activity timeout defaults.
const (
	DefaultStartToCloseTimeout = 6 * time.Hour
	DefaultHeartbeatTimeout    = 2 * time.Minute
)

// AttemptInput is the argument of AttemptWorkflow.
type AttemptInput struct {
	Job                 worker.Job    `json:"job"`
	StartToCloseTimeout time.Duration `json:"start_to_close_timeout"`
	HeartbeatTimeout    time.Duration `json:"heartbeat_timeout"`
}

// attemptActivityOptions never retries: the engine owns retries and counts
// them per failure kind.
func attemptActivityOptions(in AttemptInput) workflow.ActivityOptions {
	opts := workflow.ActivityOptions{
		StartToCloseTimeout: in.StartToCloseTimeout,
		HeartbeatTimeout:    in.HeartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	if opts.StartToCloseTimeout <= 0 {
		opts.StartToCloseTimeout = DefaultStartToCloseTimeout
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	return opts
}

// AttemptWorkflow executes one task attempt as a single activity.
func AttemptWorkflow(ctx workflow.Context, in AttemptInput) (worker.Result, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting attempt workflow", "attemptID", in.Job.AttemptID, "step", in.Job.StepName)

	ctx = workflow.WithActivityOptions(ctx, attemptActivityOptions(in))

	var a *Activities
	var res worker.Result
	if err := workflow.ExecuteActivity(ctx, a.ExecuteAttempt, in.Job).Get(ctx, &res); err != nil {
		logger.Error("Attempt failed", "attemptID", in.Job.AttemptID, "error", err)
		return worker.Result{}, err
	}

	logger.Info("Attempt completed", "attemptID", in.Job.AttemptID, "outputs", len(res.Outputs))
	return res, nil
}

// Activities runs attempts on a Temporal worker.
type Activities struct {
	exec Executor
}

// NewActivities creates the activity set around exec.
func NewActivities(exec Executor) *Activities {
	return &Activities{exec: exec}
}

// ExecuteAttempt runs the job, heartbeating to Temporal while the command
// runs. Failures are non-retryable application errors whose type is the
// failure kind.
func (a *Activities) ExecuteAttempt(ctx context.Context, job worker.Job) (worker.Result, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Executing attempt", "attemptID", job.AttemptID, "cmd", job.Command)

	activity.RecordHeartbeat(ctx, "starting")

	outputs, err := a.exec.Execute(ctx, job, func() error {
		activity.RecordHeartbeat(ctx, "executing")
		return ctx.Err()
	})
	if err != nil {
		kind := worker.KindOf(err)
		logger.Error("Attempt execution failed", "attemptID", job.AttemptID, "kind", kind, "error", err)
		return worker.Result{}, temporal.NewNonRetryableApplicationError(err.Error(), string(kind), err)
	}
	return worker.Encode(outputs), nil
}
