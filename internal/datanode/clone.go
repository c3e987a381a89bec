// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package datanode

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"loom/internal/data"
)

// Clone copies the subtree rooted at id into a new tree. Node identities are
// fresh; data objects are shared since they are immutable.
func (t *Tree) Clone(id NodeID) *Tree {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := New(t.typ)
	t.copyInto(out, id, out.Root())
	return out
}

func (t *Tree) copyInto(dst *Tree, src, at NodeID) {
	n := t.nodes[src]
	d := dst.nodes[at]
	d.degree = n.degree
	d.value = n.value
	for _, c := range t.sortedChildren(src) {
		child := dst.newNode(at, t.nodes[c].index)
		t.copyInto(dst, c, child)
	}
}

// FlattenedClone copies the subtree rooted at id into a new one-level tree
// whose leaves are all leaves of the subtree in depth-first index order.
// A leaf is cloned as a leaf.
func (t *Tree) FlattenedClone(id NodeID) *Tree {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := New(t.typ)
	n := t.nodes[id]
	if !n.isBranch() {
		out.nodes[0].value = n.value
		return out
	}

	var values []data.Object
	t.collect(id, &values)
	if len(values) == 0 {
		return out
	}
	root := out.nodes[0]
	root.degree = len(values)
	for i, v := range values {
		c := out.newNode(out.Root(), i)
		out.nodes[c].value = v
	}
	return out
}

// ContentsFingerprint hashes the shape and leaf values of the subtree at id.
// Child order is significant.
func (t *Tree) ContentsFingerprint(id NodeID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h := sha256.New()
	h.Write([]byte(t.typ))
	h.Write([]byte{0})
	h.Write([]byte(t.canonical(id)))
	return hex.EncodeToString(h.Sum(nil))
}

// canonical renders a subtree as "L<hash>", "N" for an empty slot, or
// "B<degree>[child,child,...]" with every position present.
func (t *Tree) canonical(id NodeID) string {
	n := t.nodes[id]
	if n.isLeaf() {
		return "L" + n.value.Fingerprint()
	}
	if !n.isBranch() {
		return "N"
	}
	s := "B" + strconv.Itoa(n.degree) + "["
	for i := 0; i < n.degree; i++ {
		if i > 0 {
			s += ","
		}
		if c, ok := n.children[i]; ok {
			s += t.canonical(c)
		} else {
			s += "N"
		}
	}
	return s + "]"
}
