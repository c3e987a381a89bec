// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package worker executes task attempts: it runs the rendered command in a
// per-attempt working directory and collects the declared outputs.
package worker

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"loom/internal/data"
	"loom/internal/engine"
)

// Job is the serializable part of an attempt that execution needs.
type Job struct {
	AttemptID   string              `json:"attempt_id"`
	StepName    string              `json:"step_name"`
	Command     string              `json:"command"`
	Interpreter string              `json:"interpreter,omitempty"`
	Env         map[string]string   `json:"env,omitempty"`
	Outputs     []engine.OutputSpec `json:"outputs,omitempty"`
}

// JobFor extracts the job of an attempt descriptor.
func JobFor(d engine.AttemptDescriptor) Job {
	return Job{
		AttemptID:   d.AttemptID,
		StepName:    d.StepName,
		Command:     d.Command,
		Interpreter: d.Interpreter,
		Env:         maps.Clone(d.Env),
		Outputs:     slices.Clone(d.Outputs),
	}
}

// Result carries outputs as rendered strings so it can cross process
// boundaries. Decode restores the typed values.
type Result struct {
	Outputs map[string][]string `json:"outputs"`
}

// Encode renders outputs.
func Encode(outputs engine.Outputs) Result {
	r := Result{Outputs: make(map[string][]string, len(outputs))}
	for ch, values := range outputs {
		rendered := make([]string, len(values))
		for i, v := range values {
			rendered[i] = v.String()
		}
		r.Outputs[ch] = rendered
	}
	return r
}

// Decode parses the rendered outputs with the types declared in specs.
// Channels not declared are dropped.
func (r Result) Decode(specs []engine.OutputSpec) (engine.Outputs, error) {
	out := make(engine.Outputs, len(specs))
	for _, s := range specs {
		raw, ok := r.Outputs[s.Channel]
		if !ok {
			continue
		}
		values, err := parseAll(s.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", s.Channel, err)
		}
		out[s.Channel] = values
	}
	return out, nil
}

func parseAll(t data.Type, raw []string) ([]data.Object, error) {
	values := make([]data.Object, 0, len(raw))
	for _, s := range raw {
		v, err := data.Parse(t, s)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// Error is an execution failure classified by kind.
type Error struct {
	Kind engine.FailureKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func failure(kind engine.FailureKind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the failure kind of err. Unclassified errors are system
// failures.
func KindOf(err error) engine.FailureKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return engine.FailureSystem
}

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
