// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package template loads workflow and step templates from YAML and binds
// them to input data as engine runs.
package template

import (
	"errors"
	"fmt"
)

// ErrInvalidTemplate is wrapped by every validation error.
var ErrInvalidTemplate = errors.New("invalid template")

// ErrMissingInput is returned when a template input has no value.
var ErrMissingInput = errors.New("missing input value")

// Template is a step (Command set) or a workflow (Steps set).
type Template struct {
	Name        string            `yaml:"name"`
	Command     string            `yaml:"command,omitempty"`
	Interpreter string            `yaml:"interpreter,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Inputs      []Input           `yaml:"inputs,omitempty"`
	Outputs     []Output          `yaml:"outputs,omitempty"`
	Steps       []Template        `yaml:"steps,omitempty"`
}

// IsWorkflow reports whether the template has steps.
func (t *Template) IsWorkflow() bool { return len(t.Steps) > 0 }

// Input declares an input channel.
type Input struct {
	Channel   string `yaml:"channel"`
	AsChannel string `yaml:"as_channel,omitempty"`
	Type      string `yaml:"type"`
	// Mode is "no_gather" (default), "gather" or "gather(n)".
	Mode  string `yaml:"mode,omitempty"`
	Group int    `yaml:"group,omitempty"`
	// Value is used when binding provides none. Top-level inputs only.
	Value any `yaml:"value,omitempty"`
}

// Output declares an output channel.
type Output struct {
	Channel string `yaml:"channel"`
	Type    string `yaml:"type"`
	// Mode is "no_scatter" (default) or "scatter".
	Mode   string `yaml:"mode,omitempty"`
	Source Source `yaml:"source,omitempty"`
}

// Source says where a worker reads an output value.
type Source struct {
	Stream   string `yaml:"stream,omitempty"`
	Filename string `yaml:"filename,omitempty"`
}

// ValidationError describes what is wrong with a template.
type ValidationError struct {
	Template string
	Msg      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrInvalidTemplate, e.Template, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidTemplate }

func invalid(name, format string, args ...any) error {
	return &ValidationError{Template: name, Msg: fmt.Sprintf(format, args...)}
}
