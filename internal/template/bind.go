// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package template

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"loom/internal/data"
	"loom/internal/datanode"
	"loom/internal/engine"
	"loom/internal/inputcalc"
)

// Runner is the part of the engine a binding needs.
type Runner interface {
	CreateRun(ctx context.Context, spec engine.RunSpec) (engine.Run, error)
	PushNewData(ctx context.Context, runID, channel string, path datanode.Path, obj data.Object) error
}

// RunSpec converts t into an engine run spec, with workflow steps in
// dependency order.
func (t *Template) RunSpec() (engine.RunSpec, error) {
	spec := engine.RunSpec{
		Name:        t.Name,
		Command:     t.Command,
		Interpreter: t.Interpreter,
		Env:         maps.Clone(t.Environment),
	}
	for _, in := range t.Inputs {
		typ, err := data.ParseType(in.Type)
		if err != nil {
			return engine.RunSpec{}, invalid(t.Name, "input %s: %v", in.Channel, err)
		}
		mode, err := inputcalc.ParseMode(in.Mode)
		if err != nil {
			return engine.RunSpec{}, invalid(t.Name, "input %s: %v", in.Channel, err)
		}
		spec.Inputs = append(spec.Inputs, engine.InputSpec{
			Channel:   in.Channel,
			AsChannel: in.AsChannel,
			Type:      typ,
			Mode:      mode,
			Group:     in.Group,
		})
	}
	for _, out := range t.Outputs {
		typ, err := data.ParseType(out.Type)
		if err != nil {
			return engine.RunSpec{}, invalid(t.Name, "output %s: %v", out.Channel, err)
		}
		spec.Outputs = append(spec.Outputs, engine.OutputSpec{
			Channel: out.Channel,
			Type:    typ,
			Mode:    engine.OutputMode(out.Mode),
			Source:  engine.OutputSource{Stream: out.Source.Stream, Filename: out.Source.Filename},
		})
	}

	if !t.IsWorkflow() {
		return spec, nil
	}
	steps, err := orderSteps(t)
	if err != nil {
		return engine.RunSpec{}, err
	}
	for i := range steps {
		child, err := steps[i].RunSpec()
		if err != nil {
			return engine.RunSpec{}, err
		}
		spec.Steps = append(spec.Steps, child)
	}
	return spec, nil
}

// Binding is the data for one top-level input channel.
type Binding struct {
	Channel string
	Data    *datanode.Tree
}

// Bind builds the data trees for t's inputs from values, falling back to
// each input's declared default. Extra values are an error.
func (t *Template) Bind(values map[string]any) ([]Binding, error) {
	declared := make(map[string]bool, len(t.Inputs))
	bindings := make([]Binding, 0, len(t.Inputs))
	for _, in := range t.Inputs {
		declared[in.Channel] = true
		raw, ok := values[in.Channel]
		if !ok {
			raw = in.Value
		}
		if raw == nil {
			return nil, fmt.Errorf("input %s: %w", in.Channel, ErrMissingInput)
		}
		typ, err := data.ParseType(in.Type)
		if err != nil {
			return nil, invalid(t.Name, "input %s: %v", in.Channel, err)
		}
		tree, err := datanode.FromLiteral(typ, raw)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Channel, err)
		}
		bindings = append(bindings, Binding{Channel: in.Channel, Data: tree})
	}

	var extra []string
	for ch := range values {
		if !declared[ch] {
			extra = append(extra, ch)
		}
	}
	if len(extra) > 0 {
		slices.Sort(extra)
		return nil, invalid(t.Name, "values for undeclared inputs %v", extra)
	}
	return bindings, nil
}

// Start creates a run for t and pushes every bound input value into it.
func Start(ctx context.Context, r Runner, t *Template, values map[string]any) (engine.Run, error) {
	spec, err := t.RunSpec()
	if err != nil {
		return engine.Run{}, err
	}
	bindings, err := t.Bind(values)
	if err != nil {
		return engine.Run{}, err
	}

	run, err := r.CreateRun(ctx, spec)
	if err != nil {
		return engine.Run{}, err
	}
	for _, b := range bindings {
		for _, leaf := range b.Data.ReadySubtrees(0) {
			obj, _ := b.Data.Value(leaf.Node)
			if err := r.PushNewData(ctx, run.ID, b.Channel, leaf.Path, obj); err != nil {
				return run, fmt.Errorf("push %s%s: %w", b.Channel, leaf.Path, err)
			}
		}
	}
	return run, nil
}
