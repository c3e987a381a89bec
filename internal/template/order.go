// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package template

import (
	"fmt"

	"github.com/gammazero/toposort"
)

// orderSteps sorts the steps of a workflow so that every step comes after
// the steps producing its inputs. Steps without connections keep their
// declaration order after the connected ones.
func orderSteps(t *Template) ([]Template, error) {
	producer := make(map[string]string)
	for _, step := range t.Steps {
		for _, out := range step.Outputs {
			producer[out.Channel] = step.Name
		}
	}

	edges := make([]toposort.Edge, 0)
	for _, step := range t.Steps {
		for _, in := range step.Inputs {
			if from, ok := producer[in.Channel]; ok {
				edges = append(edges, toposort.Edge{from, step.Name})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, invalid(t.Name, "cycle detected in template: %v", err)
	}

	byName := make(map[string]Template, len(t.Steps))
	for _, step := range t.Steps {
		byName[step.Name] = step
	}
	out := make([]Template, 0, len(t.Steps))
	placed := make(map[string]bool, len(t.Steps))
	for _, node := range sorted {
		name, ok := node.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected node %v in step order", node)
		}
		out = append(out, byName[name])
		placed[name] = true
	}
	for _, step := range t.Steps {
		if !placed[step.Name] {
			out = append(out, step)
		}
	}
	return out, nil
}
