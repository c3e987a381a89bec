// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"loom/internal/data"
	"loom/internal/engine"
	"loom/internal/worker"
)

func echoExecutor() Executor {
	return execFunc(func(_ context.Context, job worker.Job, heartbeat func() error) (engine.Outputs, error) {
		if err := heartbeat(); err != nil {
			return nil, err
		}
		if job.Command == "fail" {
			return nil, &worker.Error{Kind: engine.FailureAnalysis, Err: errors.New("exit status 1")}
		}
		return engine.Outputs{"out": {data.String(job.Command)}}, nil
	})
}

func TestAttemptWorkflow_Success(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(AttemptWorkflow)
	env.RegisterActivity(NewActivities(echoExecutor()))

	env.ExecuteWorkflow(AttemptWorkflow, AttemptInput{Job: worker.JobFor(descriptor("a1"))})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var res worker.Result
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, []string{"echo a1"}, res.Outputs["out"])
}

func TestAttemptWorkflow_FailureKindSurvives(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(AttemptWorkflow)
	env.RegisterActivity(NewActivities(echoExecutor()))

	d := descriptor("a2")
	d.Command = "fail"
	env.ExecuteWorkflow(AttemptWorkflow, AttemptInput{Job: worker.JobFor(d)})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	kind, cancelled := failureOf(err)
	assert.False(t, cancelled)
	assert.Equal(t, engine.FailureAnalysis, kind)
}

func TestExecuteAttemptActivity(t *testing.T) {
	var s testsuite.WorkflowTestSuite
	env := s.NewTestActivityEnvironment()
	acts := NewActivities(echoExecutor())
	env.RegisterActivity(acts)

	val, err := env.ExecuteActivity(acts.ExecuteAttempt, worker.JobFor(descriptor("a3")))
	require.NoError(t, err)
	var res worker.Result
	require.NoError(t, val.Get(&res))
	assert.Equal(t, []string{"echo a3"}, res.Outputs["out"])
}

func TestActivityOptions(t *testing.T) {
	opts := attemptActivityOptions(AttemptInput{})
	assert.Equal(t, DefaultStartToCloseTimeout, opts.StartToCloseTimeout)
	assert.Equal(t, DefaultHeartbeatTimeout, opts.HeartbeatTimeout)
	assert.Equal(t, int32(1), opts.RetryPolicy.MaximumAttempts)

	opts = attemptActivityOptions(AttemptInput{HeartbeatTimeout: time.Second})
	assert.Equal(t, time.Second, opts.HeartbeatTimeout)
}

func TestFailureOf(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      engine.FailureKind
		cancelled bool
	}{
		{"analysis", temporal.NewNonRetryableApplicationError("bad", "analysis", nil), engine.FailureAnalysis, false},
		{"timeout kind", temporal.NewNonRetryableApplicationError("slow", "timeout", nil), engine.FailureTimeout, false},
		{"unknown type", temporal.NewApplicationError("odd", "SomethingElse"), engine.FailureSystem, false},
		{"plain", errors.New("connection reset"), engine.FailureSystem, false},
		{"cancelled", temporal.NewCanceledError(), "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kind, cancelled := failureOf(tc.err)
			assert.Equal(t, tc.kind, kind)
			assert.Equal(t, tc.cancelled, cancelled)
		})
	}
}

type fakeRun struct {
	client.WorkflowRun
	id  string
	res worker.Result
	err error
}

func (r *fakeRun) GetID() string    { return r.id }
func (r *fakeRun) GetRunID() string { return "run-" + r.id }

func (r *fakeRun) Get(_ context.Context, valuePtr interface{}) error {
	if r.err != nil {
		return r.err
	}
	*valuePtr.(*worker.Result) = r.res
	return nil
}

type fakeClient struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	started   []client.StartWorkflowOptions
	inputs    []AttemptInput
	cancelled []string
	res       worker.Result
	runErr    error
}

func (c *fakeClient) ExecuteWorkflow(_ context.Context, opts client.StartWorkflowOptions, _ interface{}, args ...interface{}) (client.WorkflowRun, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failFirst {
		return nil, errors.New("frontend unavailable")
	}
	c.started = append(c.started, opts)
	c.inputs = append(c.inputs, args[0].(AttemptInput))
	return &fakeRun{id: opts.ID, res: c.res, err: c.runErr}, nil
}

func (c *fakeClient) CancelWorkflow(_ context.Context, workflowID, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, workflowID)
	return nil
}

func newTestTemporal(t *testing.T, c *fakeClient, retries uint64) *Temporal {
	t.Helper()
	d, err := NewTemporal(c, TemporalConfig{
		TaskQueue:             "loom-test",
		HeartbeatTimeout:      time.Minute,
		ReportEvery:           time.Hour,
		SubmitMaxRetries:      retries,
		SubmitInitialInterval: time.Millisecond,
	}, quietLogger())
	require.NoError(t, err)
	return d
}

func TestNewTemporal_RequiresTaskQueue(t *testing.T) {
	_, err := NewTemporal(&fakeClient{}, TemporalConfig{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task_queue")
}

func TestTemporal_DispatchRetriesSubmission(t *testing.T) {
	c := &fakeClient{failFirst: 2, res: worker.Result{Outputs: map[string][]string{"out": {"hello"}}}}
	d := newTestTemporal(t, c, 3)
	rep := &fakeReporter{}
	d.Attach(rep)

	require.NoError(t, d.Dispatch(context.Background(), descriptor("a1")))
	d.Wait()

	assert.Equal(t, 3, c.calls)
	require.Len(t, c.started, 1)
	assert.Equal(t, WorkflowID("a1"), c.started[0].ID)
	assert.Equal(t, "loom-test", c.started[0].TaskQueue)
	assert.Equal(t, time.Minute, c.inputs[0].HeartbeatTimeout)

	completed, _ := rep.snapshot()
	require.Len(t, completed, 1)
	assert.Equal(t, []data.Object{data.String("hello")}, completed[0].outputs["out"])
	assert.Equal(t, []engine.LogFile{{Name: "workflow", Path: WorkflowID("a1") + "/run-" + WorkflowID("a1")}},
		rep.logsOf("a1"))
}

func TestTemporal_DispatchGivesUp(t *testing.T) {
	c := &fakeClient{failFirst: 10}
	d := newTestTemporal(t, c, 2)
	d.Attach(&fakeReporter{})

	err := d.Dispatch(context.Background(), descriptor("a1"))
	require.Error(t, err)
	assert.Equal(t, 3, c.calls)
}

func TestTemporal_NotAttached(t *testing.T) {
	d := newTestTemporal(t, &fakeClient{}, 0)
	assert.ErrorIs(t, d.Dispatch(context.Background(), descriptor("a1")), ErrNotAttached)
}

func TestTemporal_ReportsFailures(t *testing.T) {
	tests := []struct {
		name   string
		runErr error
		res    worker.Result
		kind   engine.FailureKind
	}{
		{"timeout", temporal.NewNonRetryableApplicationError("late", "timeout", nil), worker.Result{}, engine.FailureTimeout},
		{"bad output", nil, worker.Result{Outputs: map[string][]string{"out": {"x"}}}, ""},
		{"system", errors.New("workflow terminated"), worker.Result{}, engine.FailureSystem},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &fakeClient{runErr: tc.runErr, res: tc.res}
			d := newTestTemporal(t, c, 0)
			rep := &fakeReporter{}
			d.Attach(rep)

			desc := descriptor("a1")
			if tc.kind == "" {
				desc.Outputs = []engine.OutputSpec{{Channel: "out", Type: data.TypeInteger}}
				tc.kind = engine.FailureAnalysis
			}
			require.NoError(t, d.Dispatch(context.Background(), desc))
			d.Wait()

			completed, failed := rep.snapshot()
			assert.Empty(t, completed)
			require.Len(t, failed, 1)
			assert.Equal(t, tc.kind, failed[0].kind)
		})
	}
}

func TestTemporal_CancelledWorkflowIsNotReported(t *testing.T) {
	c := &fakeClient{runErr: temporal.NewCanceledError()}
	d := newTestTemporal(t, c, 0)
	rep := &fakeReporter{}
	d.Attach(rep)

	require.NoError(t, d.Dispatch(context.Background(), descriptor("a1")))
	d.Wait()
	completed, failed := rep.snapshot()
	assert.Empty(t, completed)
	assert.Empty(t, failed)

	require.NoError(t, d.Cancel(context.Background(), "a1"))
	assert.Equal(t, []string{WorkflowID("a1")}, c.cancelled)
}
