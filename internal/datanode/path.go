// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package datanode

import (
	"strconv"
	"strings"
)

// Step is one level of a data path: the position among siblings and the
// number of siblings expected at that level.
type Step struct {
	Index  int `json:"index" yaml:"index"`
	Degree int `json:"degree" yaml:"degree"`
}

// Path addresses a node from the root, one Step per level.
type Path []Step

// Clone returns an independent copy of p.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Append returns a new path with steps added after p. p is not modified.
func (p Path) Append(steps ...Step) Path {
	out := make(Path, 0, len(p)+len(steps))
	out = append(out, p...)
	return append(out, steps...)
}

// Equal reports whether both paths have identical steps.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// String renders the path as "[(0,3),(1,2)]". It is also used as a map key.
func (p Path) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, s := range p {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		b.WriteString(strconv.Itoa(s.Index))
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(s.Degree))
		b.WriteByte(')')
	}
	b.WriteByte(']')
	return b.String()
}
