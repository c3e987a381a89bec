// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package inputcalc

import (
	"sort"

	"loom/internal/datanode"
)

// GeneratorNode is a shadow of the ready part of one or more data trees.
// Leaves carry the input items available at their path; anything not yet
// ready is simply absent. A node is a leaf (items, no degree), a branch
// (degree and children) or empty.
type GeneratorNode struct {
	degree   int
	items    []InputItem
	children map[int]*GeneratorNode
}

func newNode() *GeneratorNode {
	return &GeneratorNode{children: make(map[int]*GeneratorNode)}
}

// NewGeneratorNode scans the input's tree at its gather depth and builds
// the shadow tree of everything currently ready.
func NewGeneratorNode(in Input) *GeneratorNode {
	root := newNode()
	if in.Data == nil {
		return root
	}
	depth := in.Mode.GatherDepth()
	for _, sub := range in.Data.ReadySubtrees(depth) {
		var copied *datanode.Tree
		if depth == 0 {
			copied = in.Data.Clone(sub.Node)
		} else {
			copied = in.Data.FlattenedClone(sub.Node)
		}
		root.add(sub.Path, InputItem{
			Channel:   in.Channel,
			AsChannel: in.Alias(),
			Mode:      in.Mode,
			Path:      sub.Path,
			Data:      copied,
		})
	}
	return root
}

func (g *GeneratorNode) add(path datanode.Path, item InputItem) {
	cur := g
	for _, step := range path {
		cur.degree = step.Degree
		child, ok := cur.children[step.Index]
		if !ok {
			child = newNode()
			cur.children[step.Index] = child
		}
		cur = child
	}
	cur.items = append(cur.items, item)
}

func (g *GeneratorNode) isLeaf() bool { return len(g.items) > 0 }

func (g *GeneratorNode) isEmpty() bool { return len(g.items) == 0 && len(g.children) == 0 }

func (g *GeneratorNode) sortedIndexes() []int {
	idx := make([]int, 0, len(g.children))
	for i := range g.children {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// DotProduct pairs the sets of g and o that share a data path.
//
// Where one side is a leaf and the other continues deeper, the leaf's items
// are paired with every set under the deeper side. Where a path exists on
// only one side, that combination is not ready yet and is left out.
// Branches that meet at the same path with different degrees are a
// structural error.
func (g *GeneratorNode) DotProduct(o *GeneratorNode) (*GeneratorNode, error) {
	return dot(g, o, nil)
}

func dot(a, b *GeneratorNode, path datanode.Path) (*GeneratorNode, error) {
	switch {
	case a.isEmpty() || b.isEmpty():
		return newNode(), nil
	case a.isLeaf() && b.isLeaf():
		out := newNode()
		out.items = concatItems(a.items, b.items)
		return out, nil
	case a.isLeaf():
		return graft(b, a.items, nil), nil
	case b.isLeaf():
		return graft(a, nil, b.items), nil
	}

	if a.degree != b.degree {
		return nil, &datanode.Error{
			Kind: datanode.ErrDegreeMismatch,
			Path: path.Clone(),
			Msg:  "inputs in the same group disagree on array size",
		}
	}

	out := newNode()
	out.degree = a.degree
	for _, i := range a.sortedIndexes() {
		bc, ok := b.children[i]
		if !ok {
			continue
		}
		child, err := dot(a.children[i], bc, path.Append(datanode.Step{Index: i, Degree: a.degree}))
		if err != nil {
			return nil, err
		}
		if !child.isEmpty() {
			out.children[i] = child
		}
	}
	if len(out.children) == 0 {
		return newNode(), nil
	}
	return out, nil
}

// CrossProduct combines every set of g with every set of o. Paths are
// concatenated, g's steps first, and so are the items.
func (g *GeneratorNode) CrossProduct(o *GeneratorNode) *GeneratorNode {
	if g.isEmpty() || o.isEmpty() {
		return newNode()
	}
	if g.isLeaf() {
		return graft(o, g.items, nil)
	}
	out := newNode()
	out.degree = g.degree
	for _, i := range g.sortedIndexes() {
		child := g.children[i].CrossProduct(o)
		if !child.isEmpty() {
			out.children[i] = child
		}
	}
	if len(out.children) == 0 {
		return newNode()
	}
	return out
}

// graft copies n, surrounding the items of each of its leaves with before
// and after.
func graft(n *GeneratorNode, before, after []InputItem) *GeneratorNode {
	out := newNode()
	if n.isLeaf() {
		out.items = concatItems(before, n.items, after)
		return out
	}
	out.degree = n.degree
	for i, c := range n.children {
		out.children[i] = graft(c, before, after)
	}
	return out
}

func concatItems(parts ...[]InputItem) []InputItem {
	var out []InputItem
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// InputSets lists the leaves of the generator in path order.
func (g *GeneratorNode) InputSets() []InputSet {
	var out []InputSet
	g.walk(nil, &out)
	return out
}

func (g *GeneratorNode) walk(path datanode.Path, out *[]InputSet) {
	if g.isLeaf() {
		*out = append(*out, InputSet{
			Path:  path.Clone(),
			Items: concatItems(g.items),
		})
		return
	}
	for _, i := range g.sortedIndexes() {
		g.children[i].walk(path.Append(datanode.Step{Index: i, Degree: g.degree}), out)
	}
}
