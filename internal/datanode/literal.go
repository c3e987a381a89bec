// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package datanode

import (
	"fmt"

	"loom/internal/data"
)

// FromLiteral builds a complete tree from a scalar or from nested lists of
// scalars, as decoded from YAML.
func FromLiteral(typ data.Type, raw any) (*Tree, error) {
	t := New(typ)
	if err := t.addLiteral(nil, raw); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) addLiteral(path Path, raw any) error {
	items, ok := raw.([]any)
	if !ok {
		obj, err := data.Parse(t.typ, raw)
		if err != nil {
			return fmt.Errorf("value at %s: %w", path, err)
		}
		return t.AddDataObject(path, obj)
	}
	if len(items) == 0 {
		return structural(ErrInvalidDegree, path, "empty list")
	}
	for i, item := range items {
		if err := t.addLiteral(path.Append(Step{Index: i, Degree: len(items)}), item); err != nil {
			return err
		}
	}
	return nil
}
