// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/bitfield/script"

	"loom/internal/data"
	"loom/internal/engine"
)

// ErrAbandoned is returned when the heartbeat callback reports that the
// attempt is no longer wanted.
var ErrAbandoned = errors.New("attempt abandoned")

const (
	defaultInterpreter = "sh"
	stderrFile         = ".loom-stderr"
	stderrTailLines    = 20
	killWaitDelay      = 5 * time.Second
)

// Executor runs jobs as shell commands and reads their results with
// bitfield/script.
type Executor struct {
	root           string
	heartbeatEvery time.Duration
	logger         *slog.Logger
}

// NewExecutor creates an executor that works below root. heartbeatEvery is
// how often Execute calls its heartbeat callback.
func NewExecutor(root string, heartbeatEvery time.Duration, logger *slog.Logger) *Executor {
	if heartbeatEvery <= 0 {
		heartbeatEvery = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{root: root, heartbeatEvery: heartbeatEvery, logger: logger}
}

// WorkDir is the working directory of an attempt.
func (x *Executor) WorkDir(attemptID string) string {
	return filepath.Join(x.root, attemptID)
}

// LogFiles lists the logs Execute keeps for an attempt.
func (x *Executor) LogFiles(attemptID string) []engine.LogFile {
	return []engine.LogFile{{Name: "stderr", Path: filepath.Join(x.WorkDir(attemptID), stderrFile)}}
}

// Execute runs job and returns its outputs. heartbeat is called
// periodically while the command runs; when it returns an error, or ctx is
// done, the command's process group is killed and Execute returns once it
// has exited. A command exiting non-zero or producing unusable
// outputs is an analysis failure; anything the executor itself cannot do
// is a system failure.
func (x *Executor) Execute(ctx context.Context, job Job, heartbeat func() error) (engine.Outputs, error) {
	dir := x.WorkDir(job.AttemptID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, failure(engine.FailureSystem, "create working directory: %w", err)
	}

	logger := x.logger.With("attempt_id", job.AttemptID, "step", job.StepName)
	logger.Info("Executing attempt", "cmd", job.Command, "dir", dir)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	cmd := exec.CommandContext(runCtx, "sh", "-c", shellLine(dir, job))
	// Own process group so the whole tree dies on cancel.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killWaitDelay
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, failure(engine.FailureSystem, "open stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, failure(engine.FailureSystem, "start command: %w", err)
	}

	type outcome struct {
		stdout string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		stdout, readErr := script.NewPipe().WithReader(stdoutPipe).String()
		err := cmd.Wait()
		if err == nil {
			err = readErr
		}
		done <- outcome{stdout: stdout, err: err}
	}()

	ticker := time.NewTicker(x.heartbeatEvery)
	defer ticker.Stop()

	var res outcome
wait:
	for {
		select {
		case res = <-done:
			break wait
		case <-ticker.C:
			if heartbeat == nil {
				continue
			}
			if err := heartbeat(); err != nil {
				logger.Warn("Abandoning attempt", "error", err)
				stop()
				<-done
				return nil, fmt.Errorf("%w: %v", ErrAbandoned, err)
			}
		case <-ctx.Done():
			<-done
			return nil, ctx.Err()
		}
	}

	if res.err != nil {
		tail := x.stderrTail(dir)
		logger.Error("Command failed", "error", res.err, "stderr", tail)
		return nil, failure(engine.FailureAnalysis, "command failed: %v: %s", res.err, tail)
	}

	outputs, err := x.collect(dir, job.Outputs, res.stdout)
	if err != nil {
		logger.Error("Collecting outputs failed", "error", err)
		return nil, failure(engine.FailureAnalysis, "%w", err)
	}
	logger.Info("Attempt succeeded", "outputs", len(outputs))
	return outputs, nil
}

// shellLine builds the command line run by sh -c: change to the working
// directory, set the environment in sorted order and send stderr to a file.
func shellLine(dir string, job Job) string {
	interpreter := job.Interpreter
	if interpreter == "" {
		interpreter = defaultInterpreter
	}

	var b strings.Builder
	b.WriteString("cd ")
	b.WriteString(shellQuote(dir))
	b.WriteString(" && env")
	keys := make([]string, 0, len(job.Env))
	for k := range job.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(shellQuote(k + "=" + job.Env[k]))
	}
	b.WriteByte(' ')
	b.WriteString(shellQuote(interpreter))
	b.WriteString(" -c ")
	b.WriteString(shellQuote(job.Command))
	b.WriteString(" 2>")
	b.WriteString(stderrFile)
	return b.String()
}

func (x *Executor) stderrTail(dir string) string {
	tail, err := script.File(filepath.Join(dir, stderrFile)).Last(stderrTailLines).String()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(tail)
}

// collect reads every declared output. Scatter outputs split on whitespace.
func (x *Executor) collect(dir string, specs []engine.OutputSpec, stdout string) (engine.Outputs, error) {
	outputs := make(engine.Outputs, len(specs))
	for _, s := range specs {
		text := stdout
		if s.Source.Filename != "" {
			content, err := script.File(filepath.Join(dir, s.Source.Filename)).String()
			if err != nil {
				return nil, fmt.Errorf("output %s: read %s: %w", s.Channel, s.Source.Filename, err)
			}
			text = content
		}

		var raw []string
		if s.Mode == engine.OutputScatter {
			raw = strings.Fields(text)
		} else {
			raw = []string{strings.TrimSpace(text)}
		}
		if s.Type == data.TypeFile {
			for i, name := range raw {
				if name != "" && !filepath.IsAbs(name) {
					raw[i] = filepath.Join(dir, name)
				}
			}
		}
		values, err := parseAll(s.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", s.Channel, err)
		}
		outputs[s.Channel] = values
	}
	return outputs, nil
}
