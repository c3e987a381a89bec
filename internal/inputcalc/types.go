// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package inputcalc

import (
	"loom/internal/datanode"
)

// Input is one named input of a scheduling unit and the tree holding its data.
type Input struct {
	Channel   string
	AsChannel string
	Mode      Mode
	Group     int
	Data      *datanode.Tree
}

// Alias is the name the input is seen under by a task.
func (in Input) Alias() string {
	if in.AsChannel != "" {
		return in.AsChannel
	}
	return in.Channel
}

// InputItem is the data one input contributes to one input set: a single
// leaf, or for gathered inputs a flattened array.
type InputItem struct {
	Channel   string
	AsChannel string
	Mode      Mode
	// Path is where Data was found in the source tree.
	Path datanode.Path
	// Data is a private copy; it never changes after the scan.
	Data *datanode.Tree
}

// Fingerprint is the content hash of the item's data.
func (it InputItem) Fingerprint() string {
	return it.Data.ContentsFingerprint(it.Data.Root())
}

// Value renders the item's data as Go values.
func (it InputItem) Value() any {
	return it.Data.Render(it.Data.Root())
}

// InputSet is one ready combination of input values. Path identifies the
// combination and is the data path of anything the resulting task produces.
type InputSet struct {
	Path  datanode.Path
	Items []InputItem
}

// Item returns the item seen under the given alias.
func (s InputSet) Item(alias string) (InputItem, bool) {
	for _, it := range s.Items {
		if it.AsChannel == alias {
			return it, true
		}
	}
	return InputItem{}, false
}
