// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom/internal/data"
	"loom/internal/engine"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	return NewExecutor(t.TempDir(), 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExecute_Stdout(t *testing.T) {
	x := newTestExecutor(t)
	out, err := x.Execute(context.Background(), Job{
		AttemptID: "a1",
		Command:   "echo hello | tr a-z A-Z",
		Outputs:   []engine.OutputSpec{{Channel: "loud", Type: data.TypeString}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []data.Object{data.String("HELLO")}, out["loud"])
}

func TestExecute_ScatterAndTypes(t *testing.T) {
	x := newTestExecutor(t)
	out, err := x.Execute(context.Background(), Job{
		AttemptID: "a2",
		Command:   "echo 3 1 2",
		Outputs: []engine.OutputSpec{
			{Channel: "nums", Type: data.TypeInteger, Mode: engine.OutputScatter},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []data.Object{data.Integer(3), data.Integer(1), data.Integer(2)}, out["nums"])
}

func TestExecute_FileOutputsAndEnv(t *testing.T) {
	x := newTestExecutor(t)
	out, err := x.Execute(context.Background(), Job{
		AttemptID: "a3",
		Command:   `printf '%s' "$GREETING" > greeting.txt && echo report.csv`,
		Env:       map[string]string{"GREETING": "it's me"},
		Outputs: []engine.OutputSpec{
			{Channel: "greeting", Type: data.TypeString, Source: engine.OutputSource{Filename: "greeting.txt"}},
			{Channel: "report", Type: data.TypeFile},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []data.Object{data.String("it's me")}, out["greeting"])
	assert.Equal(t, []data.Object{data.File{Filename: filepath.Join(x.WorkDir("a3"), "report.csv")}}, out["report"])
}

func TestExecute_Interpreter(t *testing.T) {
	x := newTestExecutor(t)
	out, err := x.Execute(context.Background(), Job{
		AttemptID:   "a4",
		Interpreter: "bash",
		Command:     "echo $((6 * 7))",
		Outputs:     []engine.OutputSpec{{Channel: "n", Type: data.TypeInteger}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []data.Object{data.Integer(42)}, out["n"])
}

func TestExecute_CommandFailureIsAnalysis(t *testing.T) {
	x := newTestExecutor(t)
	_, err := x.Execute(context.Background(), Job{
		AttemptID: "a5",
		Command:   "echo broken >&2; exit 3",
	}, nil)
	require.Error(t, err)
	assert.Equal(t, engine.FailureAnalysis, KindOf(err))
	assert.Contains(t, err.Error(), "broken")
}

func TestExecute_BadOutputIsAnalysis(t *testing.T) {
	x := newTestExecutor(t)
	_, err := x.Execute(context.Background(), Job{
		AttemptID: "a6",
		Command:   "echo lots",
		Outputs:   []engine.OutputSpec{{Channel: "n", Type: data.TypeInteger}},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, engine.FailureAnalysis, KindOf(err))
	assert.ErrorIs(t, err, data.ErrInvalidValue)

	_, err = x.Execute(context.Background(), Job{
		AttemptID: "a7",
		Command:   "true",
		Outputs:   []engine.OutputSpec{{Channel: "f", Type: data.TypeString, Source: engine.OutputSource{Filename: "nope.txt"}}},
	}, nil)
	assert.Equal(t, engine.FailureAnalysis, KindOf(err))
}

func TestExecute_Heartbeats(t *testing.T) {
	x := newTestExecutor(t)
	beats := 0
	_, err := x.Execute(context.Background(), Job{AttemptID: "a8", Command: "sleep 0.2"}, func() error {
		beats++
		return nil
	})
	require.NoError(t, err)
	assert.Positive(t, beats)
}

func TestExecute_AbandonedByHeartbeat(t *testing.T) {
	x := newTestExecutor(t)
	_, err := x.Execute(context.Background(), Job{AttemptID: "a9", Command: "sleep 5"}, func() error {
		return engine.ErrAttemptTerminal
	})
	assert.ErrorIs(t, err, ErrAbandoned)
}

func TestExecute_ContextCancelled(t *testing.T) {
	x := newTestExecutor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := x.Execute(ctx, Job{AttemptID: "a10", Command: "sleep 5"}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecute_CancelKillsCommand(t *testing.T) {
	x := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := x.Execute(ctx, Job{AttemptID: "a11", Command: "sleep 1; touch marker"}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	time.Sleep(1500 * time.Millisecond)
	_, statErr := os.Stat(filepath.Join(x.WorkDir("a11"), "marker"))
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestExecute_AbandonKillsCommand(t *testing.T) {
	x := newTestExecutor(t)
	_, err := x.Execute(context.Background(), Job{AttemptID: "a12", Command: "sleep 1; touch marker"}, func() error {
		return engine.ErrAttemptTerminal
	})
	require.ErrorIs(t, err, ErrAbandoned)

	time.Sleep(1500 * time.Millisecond)
	_, statErr := os.Stat(filepath.Join(x.WorkDir("a12"), "marker"))
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestEncodeDecode(t *testing.T) {
	specs := []engine.OutputSpec{
		{Channel: "n", Type: data.TypeInteger, Mode: engine.OutputScatter},
		{Channel: "ok", Type: data.TypeBoolean},
	}
	res := Encode(engine.Outputs{
		"n":     {data.Integer(1), data.Integer(2)},
		"ok":    {data.Boolean(true)},
		"extra": {data.String("dropped")},
	})
	assert.Equal(t, []string{"1", "2"}, res.Outputs["n"])

	out, err := res.Decode(specs)
	require.NoError(t, err)
	assert.Equal(t, engine.Outputs{
		"n":  {data.Integer(1), data.Integer(2)},
		"ok": {data.Boolean(true)},
	}, out)

	_, err = Result{Outputs: map[string][]string{"ok": {"maybe"}}}.Decode(specs)
	assert.ErrorIs(t, err, data.ErrInvalidValue)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, engine.FailureSystem, KindOf(errors.New("plain")))
	assert.Equal(t, engine.FailureTimeout, KindOf(&Error{Kind: engine.FailureTimeout, Err: errors.New("slow")}))
}

func TestShellLine(t *testing.T) {
	line := shellLine("/work/a1", Job{
		Command: "echo 'hi'",
		Env:     map[string]string{"B": "2", "A": "1"},
	})
	assert.Equal(t, `cd '/work/a1' && env 'A=1' 'B=2' 'sh' -c 'echo '\''hi'\''' 2>.loom-stderr`, line)
}
