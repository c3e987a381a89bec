// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package datanode stores channel data as a tree of fixed branching factor
// per level, with partial availability.
//
// Nodes live in an arena owned by a Tree and are addressed by NodeID. A
// parent keeps an index-keyed map of its children; a child keeps a plain
// back-reference to its parent. A node is in one of three shapes:
//
//   - unset: no degree, no value, no children (a slot waiting for data)
//   - leaf: holds exactly one data.Object, never overwritten
//   - branch: fixed degree, children keyed by index in [0, degree)
//
// Trees are append-only and safe for concurrent use.
package datanode

import (
	"errors"
	"sort"
	"sync"

	"loom/internal/data"
)

// NodeID addresses a node inside its Tree.
type NodeID int

// NoNode is the parent of a tree root.
const NoNode NodeID = -1

type node struct {
	parent   NodeID
	index    int // -1 at the root
	degree   int // 0 while unknown, and always for leaves
	value    data.Object
	children map[int]NodeID
}

func (n *node) isLeaf() bool   { return n.value != nil }
func (n *node) isBranch() bool { return n.degree > 0 }

// Tree is an arena of nodes holding values of one data type.
type Tree struct {
	mu    sync.RWMutex
	typ   data.Type
	nodes []*node
}

// New creates a tree with a single unset root.
func New(typ data.Type) *Tree {
	t := &Tree{typ: typ}
	t.nodes = append(t.nodes, &node{parent: NoNode, index: -1})
	return t
}

// Type returns the data type every leaf of the tree carries.
func (t *Tree) Type() data.Type { return t.typ }

// Root returns the root node id.
func (t *Tree) Root() NodeID { return 0 }

func (t *Tree) newNode(parent NodeID, index int) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, &node{parent: parent, index: index})
	p := t.nodes[parent]
	if p.children == nil {
		p.children = make(map[int]NodeID)
	}
	p.children[index] = id
	return id
}

// AddDataObject stores obj at path, creating intermediate branches as
// needed. The first write at a level fixes its degree; later writes must
// agree. Nothing is modified when an error is returned.
func (t *Tree) AddDataObject(path Path, obj data.Object) error {
	if obj == nil {
		return structural(ErrInvalidDegree, path, "nil data object")
	}
	if obj.Type() != t.typ {
		return structural(ErrTypeMismatch, path, "tree holds %s, got %s", t.typ, obj.Type())
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkPath(path); err != nil {
		return err
	}

	cur := t.Root()
	for _, step := range path {
		n := t.nodes[cur]
		n.degree = step.Degree
		child, ok := n.children[step.Index]
		if !ok {
			child = t.newNode(cur, step.Index)
		}
		cur = child
	}
	t.nodes[cur].value = obj
	return nil
}

// checkPath validates a write of a leaf at path without mutating anything.
func (t *Tree) checkPath(path Path) error {
	cur := t.Root()
	exists := true
	for depth, step := range path {
		prefix := path[:depth]
		if step.Degree < 1 {
			return structural(ErrInvalidDegree, prefix, "degree %d", step.Degree)
		}
		if step.Index < 0 || step.Index >= step.Degree {
			return structural(ErrIndexOutOfRange, prefix, "index %d not in [0,%d)", step.Index, step.Degree)
		}
		if !exists {
			continue
		}
		n := t.nodes[cur]
		if n.isLeaf() {
			return structural(ErrUnexpectedLeafNode, prefix, "cannot add a branch where a leaf exists")
		}
		if n.isBranch() && n.degree != step.Degree {
			return structural(ErrDegreeMismatch, prefix, "existing degree %d, got %d", n.degree, step.Degree)
		}
		child, ok := n.children[step.Index]
		if !ok {
			exists = false
			continue
		}
		cur = child
	}
	if !exists {
		return nil
	}
	target := t.nodes[cur]
	if target.isLeaf() {
		return structural(ErrDataAlreadyExists, path, "leaf already holds a value")
	}
	if target.isBranch() {
		return structural(ErrUnexpectedLeafNode, path, "cannot add a leaf where a branch exists")
	}
	return nil
}

// SetDegree turns the unset node at path into a branch of the given degree.
// Setting the same degree again is a no-op.
func (t *Tree) SetDegree(path Path, degree int) error {
	if degree < 1 {
		return structural(ErrInvalidDegree, path, "degree %d", degree)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id, err := t.find(path)
	if err != nil {
		return err
	}
	n := t.nodes[id]
	switch {
	case n.isLeaf():
		return structural(ErrUnexpectedLeafNode, path, "cannot add a branch where a leaf exists")
	case n.isBranch() && n.degree != degree:
		return structural(ErrDegreeMismatch, path, "existing degree %d, got %d", n.degree, degree)
	}
	n.degree = degree
	return nil
}

// AddBranch creates a branch of the given degree as child index of the node
// at parent. The parent's degree must already be known.
func (t *Tree) AddBranch(parent Path, index, degree int) error {
	if degree < 1 {
		return structural(ErrInvalidDegree, parent, "degree %d", degree)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pid, err := t.childSlot(parent, index)
	if err != nil {
		return err
	}
	p := t.nodes[pid]
	if cid, ok := p.children[index]; ok {
		c := t.nodes[cid]
		childPath := parent.Append(Step{Index: index, Degree: p.degree})
		switch {
		case c.isLeaf():
			return structural(ErrUnexpectedLeafNode, childPath, "cannot add a branch where a leaf exists")
		case c.isBranch() && c.degree != degree:
			return structural(ErrDegreeMismatch, childPath, "existing degree %d, got %d", c.degree, degree)
		}
		c.degree = degree
		return nil
	}
	cid := t.newNode(pid, index)
	t.nodes[cid].degree = degree
	return nil
}

// AddLeaf stores obj as child index of the node at parent. The parent's
// degree must already be known.
func (t *Tree) AddLeaf(parent Path, index int, obj data.Object) error {
	if obj == nil {
		return structural(ErrInvalidDegree, parent, "nil data object")
	}
	if obj.Type() != t.typ {
		return structural(ErrTypeMismatch, parent, "tree holds %s, got %s", t.typ, obj.Type())
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pid, err := t.childSlot(parent, index)
	if err != nil {
		return err
	}
	p := t.nodes[pid]
	if cid, ok := p.children[index]; ok {
		c := t.nodes[cid]
		childPath := parent.Append(Step{Index: index, Degree: p.degree})
		switch {
		case c.isLeaf():
			return structural(ErrDataAlreadyExists, childPath, "leaf already holds a value")
		case c.isBranch():
			return structural(ErrUnexpectedLeafNode, childPath, "cannot add a leaf where a branch exists")
		}
		c.value = obj
		return nil
	}
	cid := t.newNode(pid, index)
	t.nodes[cid].value = obj
	return nil
}

// childSlot resolves parent and checks that index is a valid child position.
func (t *Tree) childSlot(parent Path, index int) (NodeID, error) {
	pid, err := t.find(parent)
	if err != nil {
		return NoNode, err
	}
	p := t.nodes[pid]
	if p.isLeaf() {
		return NoNode, structural(ErrUnexpectedLeafNode, parent, "leaf cannot have children")
	}
	if !p.isBranch() {
		return NoNode, structural(ErrUnknownDegree, parent, "parent degree is not known")
	}
	if index < 0 || index >= p.degree {
		return NoNode, structural(ErrIndexOutOfRange, parent, "index %d not in [0,%d)", index, p.degree)
	}
	return pid, nil
}

// find walks an existing path. Callers hold the lock.
func (t *Tree) find(path Path) (NodeID, error) {
	cur := t.Root()
	for depth, step := range path {
		n := t.nodes[cur]
		if n.isBranch() && n.degree != step.Degree {
			return NoNode, structural(ErrDegreeMismatch, path[:depth], "existing degree %d, got %d", n.degree, step.Degree)
		}
		child, ok := n.children[step.Index]
		if !ok {
			return NoNode, structural(ErrMissingBranch, path[:depth+1], "no node at this path")
		}
		cur = child
	}
	return cur, nil
}

// Find returns the node at path.
func (t *Tree) Find(path Path) (NodeID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.find(path)
}

// GetDataObject returns the value stored at path. An unset slot yields a nil
// object and no error.
func (t *Tree) GetDataObject(path Path) (data.Object, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, err := t.find(path)
	if err != nil {
		return nil, err
	}
	n := t.nodes[id]
	if n.isBranch() {
		return nil, structural(ErrUnexpectedLeafNode, path, "node is a branch")
	}
	return n.value, nil
}

// IsReady reports whether every leaf under path holds a value. A path that
// does not exist yet is not ready.
func (t *Tree) IsReady(path Path) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, err := t.find(path)
	if err != nil {
		if errors.Is(err, ErrMissingBranch) {
			return false, nil
		}
		return false, err
	}
	return t.ready(id), nil
}

func (t *Tree) ready(id NodeID) bool {
	n := t.nodes[id]
	if n.isLeaf() {
		return true
	}
	if !n.isBranch() || len(n.children) < n.degree {
		return false
	}
	for _, c := range n.children {
		if !t.ready(c) {
			return false
		}
	}
	return true
}

// height is the number of branch levels below id along its deepest known path.
func (t *Tree) height(id NodeID) int {
	n := t.nodes[id]
	if !n.isBranch() {
		return 0
	}
	h := 0
	for _, c := range n.children {
		if ch := t.height(c); ch > h {
			h = ch
		}
	}
	return h + 1
}

// sortedChildren returns child ids in ascending index order.
func (t *Tree) sortedChildren(id NodeID) []NodeID {
	n := t.nodes[id]
	idx := make([]int, 0, len(n.children))
	for i := range n.children {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]NodeID, len(idx))
	for i, k := range idx {
		out[i] = n.children[k]
	}
	return out
}

// Degree returns the degree of a branch, or 0 for leaves and unset nodes.
func (t *Tree) Degree(id NodeID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[id].degree
}

// Value returns the value held by a leaf.
func (t *Tree) Value(id NodeID) (data.Object, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := t.nodes[id]
	return n.value, n.value != nil
}

// Parent returns the parent of id, or NoNode for the root.
func (t *Tree) Parent(id NodeID) NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[id].parent
}

// Children returns the existing children of id in index order.
func (t *Tree) Children(id NodeID) []NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sortedChildren(id)
}

// Values returns the leaf values under id in depth-first index order.
func (t *Tree) Values(id NodeID) []data.Object {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []data.Object
	t.collect(id, &out)
	return out
}

func (t *Tree) collect(id NodeID, out *[]data.Object) {
	n := t.nodes[id]
	if n.isLeaf() {
		*out = append(*out, n.value)
		return
	}
	for _, c := range t.sortedChildren(id) {
		t.collect(c, out)
	}
}

// Render returns the content under id as Go values: a scalar for a leaf,
// nested []any for branches, nil for missing slots.
func (t *Tree) Render(id NodeID) any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.render(id)
}

func (t *Tree) render(id NodeID) any {
	n := t.nodes[id]
	if n.isLeaf() {
		return n.value.Value()
	}
	if !n.isBranch() {
		return nil
	}
	out := make([]any, n.degree)
	for i, c := range n.children {
		out[i] = t.render(c)
	}
	return out
}
