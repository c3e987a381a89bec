// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package engine

import (
	"fmt"
	"strings"
	"time"

	"loom/internal/data"
	"loom/internal/datanode"
	"loom/internal/inputcalc"
)

// RunStatus is the user-visible state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunKilled    RunStatus = "killed"
)

// Terminal reports whether the run can no longer change on its own.
func (s RunStatus) Terminal() bool { return s != RunRunning }

// TaskStatus is the state of one unit of work.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskKilled    TaskStatus = "killed"
)

// AttemptStatus is the state of one execution.
type AttemptStatus string

const (
	AttemptCreated   AttemptStatus = "created"
	AttemptRunning   AttemptStatus = "running"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
	AttemptKilled    AttemptStatus = "killed"
)

// Terminal reports whether the attempt is finished.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptSucceeded || s == AttemptFailed || s == AttemptKilled
}

// FailureKind classifies why an attempt failed.
type FailureKind string

const (
	// FailureSystem is an infrastructure fault such as a lost heartbeat.
	FailureSystem FailureKind = "system"
	// FailureAnalysis means the work itself reported an invalid result.
	FailureAnalysis FailureKind = "analysis"
	// FailureTimeout means the attempt stopped reporting in time.
	FailureTimeout FailureKind = "timeout"
)

// ParseFailureKind converts a kind name.
func ParseFailureKind(s string) (FailureKind, error) {
	switch k := FailureKind(strings.ToLower(strings.TrimSpace(s))); k {
	case FailureSystem, FailureAnalysis, FailureTimeout:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFailureKind, s)
}

// OutputMode says how many values a task writes to an output channel.
type OutputMode string

const (
	// OutputNoScatter writes one value at the task's data path.
	OutputNoScatter OutputMode = "no_scatter"
	// OutputScatter writes an array, one level deeper than the task's path.
	OutputScatter OutputMode = "scatter"
)

// OutputSource says where a worker finds an output value.
type OutputSource struct {
	// Stream is "stdout" unless Filename is set.
	Stream string `yaml:"stream,omitempty" json:"stream,omitempty"`
	// Filename is read from the attempt's working directory.
	Filename string `yaml:"filename,omitempty" json:"filename,omitempty"`
}

func (s OutputSource) String() string {
	if s.Filename != "" {
		return "file:" + s.Filename
	}
	if s.Stream != "" {
		return s.Stream
	}
	return "stdout"
}

// InputSpec declares one input channel of a step or workflow.
type InputSpec struct {
	Channel   string
	AsChannel string
	Type      data.Type
	Mode      inputcalc.Mode
	Group     int
}

// Alias is the name the command refers to the input by.
func (in InputSpec) Alias() string {
	if in.AsChannel != "" {
		return in.AsChannel
	}
	return in.Channel
}

// OutputSpec declares one output channel.
type OutputSpec struct {
	Channel string
	Type    data.Type
	Mode    OutputMode
	Source  OutputSource
}

func (o OutputSpec) String() string {
	mode := o.Mode
	if mode == "" {
		mode = OutputNoScatter
	}
	return o.Channel + ":" + string(o.Type) + ":" + string(mode) + ":" + o.Source.String()
}

// RunSpec describes what to run. A spec with Steps is a workflow whose
// channels connect its steps by name; otherwise it is a step that runs
// Command once per ready input set.
type RunSpec struct {
	Name string
	// Command is a text/template rendered with one field per input alias.
	Command     string
	Interpreter string
	Env         map[string]string
	Inputs      []InputSpec
	Outputs     []OutputSpec
	Steps       []RunSpec
}

// IsWorkflow reports whether s has child steps.
func (s RunSpec) IsWorkflow() bool { return len(s.Steps) > 0 }

// Outputs maps an output channel to the values an attempt produced on it.
// Scatter outputs have one value per array element; other outputs exactly one.
type Outputs map[string][]data.Object

// RunInput is a bound input channel and the tree its data arrives in.
type RunInput struct {
	InputSpec
	Data *datanode.Tree
}

// RunOutput is an output channel and the tree tasks write into.
type RunOutput struct {
	OutputSpec
	Data *datanode.Tree
}

// Run is a data-bound node of the execution graph.
type Run struct {
	ID       string
	ParentID string
	Name     string
	Status   RunStatus
	Reason   string

	// Set when the run failed because of a task.
	FailedTaskID    string
	FailedAttemptID string
	FailureKind     FailureKind

	ChildIDs []string
	TaskIDs  []string
	Inputs   []RunInput
	Outputs  []RunOutput

	CreatedAt  time.Time
	FinishedAt time.Time
}

// Task is one required unit of work of a step run.
type Task struct {
	ID     string
	RunID  string
	Path   datanode.Path
	Status TaskStatus
	// Command is the rendered command line.
	Command     string
	Env         map[string]string
	Fingerprint string
	Inputs      []inputcalc.InputItem
	// Outputs is set once the task succeeds, in declaration order.
	Outputs []TaskOutput

	ActiveAttemptID string
	AttemptIDs      []string
	FailureKind     FailureKind
	Retries         map[FailureKind]int
}

// TaskAttempt is one execution. Tasks with the same fingerprint share it.
type TaskAttempt struct {
	ID          string
	Fingerprint string
	Status      AttemptStatus
	FailureKind FailureKind
	Detail      string
	TaskIDs     []string
	Outputs     Outputs
	LogFiles    []LogFile

	CreatedAt     time.Time
	DispatchedAt  time.Time
	LastHeartbeat time.Time
	FinishedAt    time.Time
}

// TaskOutput is what a task produced on one output channel.
type TaskOutput struct {
	Channel string
	Type    data.Type
	Mode    OutputMode
	Values  []data.Object
}

// LogFile references a log kept for an attempt, such as the stderr capture
// in its working directory.
type LogFile struct {
	Name string
	Path string
}

// ResolvedInput is an input value handed to a worker.
type ResolvedInput struct {
	Channel  string
	Type     data.Type
	Gathered bool
	Values   []data.Object
}

// AttemptDescriptor is everything a dispatcher needs to execute an attempt.
type AttemptDescriptor struct {
	AttemptID   string
	Fingerprint string
	StepName    string
	Command     string
	Interpreter string
	Env         map[string]string
	Inputs      []ResolvedInput
	Outputs     []OutputSpec
}

// RunNotification reports a top-level run reaching a terminal status.
type RunNotification struct {
	RunID           string      `json:"run_id"`
	Name            string      `json:"name"`
	Status          RunStatus   `json:"status"`
	Reason          string      `json:"reason,omitempty"`
	FailedTaskID    string      `json:"failed_task_id,omitempty"`
	FailedAttemptID string      `json:"failed_attempt_id,omitempty"`
	FailureKind     FailureKind `json:"failure_kind,omitempty"`
	FinishedAt      time.Time   `json:"finished_at"`
}
