// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package datanode

// Subtree is a ready node found by ReadySubtrees together with its path.
type Subtree struct {
	Path Path
	Node NodeID
}

// ReadySubtrees scans the tree for the units a consumer can use right now.
//
// With gatherDepth 0 every ready leaf is a unit. With gatherDepth n the
// units are the subtrees that have at most n branch levels below them; such
// a subtree is returned only once all of its leaves are present. Anything
// not yet arrived is left out, so repeated scans only ever grow.
//
// Results are in depth-first index order.
func (t *Tree) ReadySubtrees(gatherDepth int) []Subtree {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Subtree
	t.scan(t.Root(), nil, gatherDepth, &out)
	return out
}

func (t *Tree) scan(id NodeID, path Path, gatherDepth int, out *[]Subtree) {
	if t.height(id) <= gatherDepth {
		if t.ready(id) {
			*out = append(*out, Subtree{Path: path.Clone(), Node: id})
		}
		return
	}
	n := t.nodes[id]
	for _, c := range t.sortedChildren(id) {
		step := Step{Index: t.nodes[c].index, Degree: n.degree}
		t.scan(c, path.Append(step), gatherDepth, out)
	}
}
