// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package inputcalc works out which combinations of available data make up
// a ready unit of work.
//
// Each input is scanned into a GeneratorNode at its gather depth. Inputs
// that share a group are dot-producted, then the groups are cross-producted
// in ascending group number. The resulting order (group order, then path
// order within a group) is stable for a given tree content.
package inputcalc

import (
	"fmt"
	"sort"
)

// Calculator computes the ready input sets of a scheduling unit.
type Calculator struct {
	inputs []Input
}

// NewCalculator creates a calculator over inputs. Declaration order is kept
// within a group.
func NewCalculator(inputs []Input) *Calculator {
	return &Calculator{inputs: inputs}
}

// InputSets returns every input set that is ready now. A unit with no
// inputs has exactly one, empty, input set.
func (c *Calculator) InputSets() ([]InputSet, error) {
	if len(c.inputs) == 0 {
		return []InputSet{{}}, nil
	}

	groups := make(map[int][]Input)
	for _, in := range c.inputs {
		if in.Group < 0 {
			return nil, fmt.Errorf("input %q: group must be >= 0, got %d", in.Channel, in.Group)
		}
		groups[in.Group] = append(groups[in.Group], in)
	}
	order := make([]int, 0, len(groups))
	for g := range groups {
		order = append(order, g)
	}
	sort.Ints(order)

	var result *GeneratorNode
	for _, g := range order {
		var merged *GeneratorNode
		for _, in := range groups[g] {
			gen := NewGeneratorNode(in)
			if merged == nil {
				merged = gen
				continue
			}
			var err error
			if merged, err = merged.DotProduct(gen); err != nil {
				return nil, fmt.Errorf("group %d, input %q: %w", g, in.Channel, err)
			}
		}
		if result == nil {
			result = merged
		} else {
			result = result.CrossProduct(merged)
		}
	}
	return result.InputSets(), nil
}
