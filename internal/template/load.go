// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package template

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"loom/internal/data"
	"loom/internal/inputcalc"
)

// Load reads and validates a template file.
func Load(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML template.
func Parse(raw []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadInputs reads a YAML map of channel name to value. Values may be
// scalars or nested lists.
func LoadInputs(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inputs file: %w", err)
	}
	inputs := make(map[string]any)
	if err := yaml.Unmarshal(raw, &inputs); err != nil {
		return nil, fmt.Errorf("failed to parse inputs file: %w", err)
	}
	return inputs, nil
}

// Validate checks field values of t and its steps. Channel wiring between
// steps is checked when a run is created.
func (t *Template) Validate() error {
	if t.Name == "" {
		return invalid("<unnamed>", "name is required")
	}
	switch {
	case t.IsWorkflow() && t.Command != "":
		return invalid(t.Name, "a workflow cannot have a command")
	case !t.IsWorkflow() && t.Command == "":
		return invalid(t.Name, "a step needs a command")
	}

	for _, in := range t.Inputs {
		if in.Channel == "" {
			return invalid(t.Name, "input channel is required")
		}
		if _, err := data.ParseType(in.Type); err != nil {
			return invalid(t.Name, "input %s: %v", in.Channel, err)
		}
		if _, err := inputcalc.ParseMode(in.Mode); err != nil {
			return invalid(t.Name, "input %s: %v", in.Channel, err)
		}
		if in.Group < 0 {
			return invalid(t.Name, "input %s: group must be >= 0", in.Channel)
		}
	}
	for _, out := range t.Outputs {
		if out.Channel == "" {
			return invalid(t.Name, "output channel is required")
		}
		if _, err := data.ParseType(out.Type); err != nil {
			return invalid(t.Name, "output %s: %v", out.Channel, err)
		}
		switch out.Mode {
		case "", "no_scatter", "scatter":
		default:
			return invalid(t.Name, "output %s: unknown mode %q", out.Channel, out.Mode)
		}
		if out.Source.Stream != "" && out.Source.Stream != "stdout" {
			return invalid(t.Name, "output %s: unknown stream %q", out.Channel, out.Source.Stream)
		}
	}

	names := make(map[string]bool, len(t.Steps))
	for i := range t.Steps {
		step := &t.Steps[i]
		if err := step.Validate(); err != nil {
			return err
		}
		if names[step.Name] {
			return invalid(t.Name, "duplicate step %s", step.Name)
		}
		names[step.Name] = true
	}
	return nil
}
