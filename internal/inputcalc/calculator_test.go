// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package inputcalc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom/internal/data"
	"loom/internal/datanode"
)

func step(index, degree int) datanode.Step {
	return datanode.Step{Index: index, Degree: degree}
}

var robotLeaves = []struct {
	path  datanode.Path
	value string
}{
	{datanode.Path{step(0, 3), step(0, 1)}, "i"},
	{datanode.Path{step(1, 3), step(0, 2)}, "a"},
	{datanode.Path{step(1, 3), step(1, 2)}, "m"},
	{datanode.Path{step(2, 3), step(0, 5)}, "r"},
	{datanode.Path{step(2, 3), step(1, 5)}, "o"},
	{datanode.Path{step(2, 3), step(2, 5)}, "b"},
	{datanode.Path{step(2, 3), step(3, 5)}, "o"},
	{datanode.Path{step(2, 3), step(4, 5)}, "t"},
}

func robotTree(t *testing.T, n int) *datanode.Tree {
	t.Helper()
	tree := datanode.New(data.TypeString)
	for _, leaf := range robotLeaves[:n] {
		require.NoError(t, tree.AddDataObject(leaf.path, data.String(leaf.value)))
	}
	return tree
}

func scalarTree(t *testing.T, v string) *datanode.Tree {
	t.Helper()
	tree := datanode.New(data.TypeString)
	require.NoError(t, tree.AddDataObject(nil, data.String(v)))
	return tree
}

func arrayTree(t *testing.T, values ...string) *datanode.Tree {
	t.Helper()
	tree := datanode.New(data.TypeString)
	for i, v := range values {
		require.NoError(t, tree.AddDataObject(datanode.Path{step(i, len(values))}, data.String(v)))
	}
	return tree
}

func values(set InputSet) []any {
	out := make([]any, len(set.Items))
	for i, it := range set.Items {
		out[i] = it.Value()
	}
	return out
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in    string
		depth int
	}{
		{"", 0},
		{"no_gather", 0},
		{"gather", 1},
		{"gather(1)", 1},
		{"gather(3)", 3},
		{" gather( 2 ) ", 2},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			m, err := ParseMode(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.depth, m.GatherDepth())
		})
	}

	for _, bad := range []string{"gather(0)", "gather(-1)", "gather(x)", "scatter", "gather(2"} {
		_, err := ParseMode(bad)
		assert.ErrorIs(t, err, ErrInvalidMode, bad)
		var merr *ModeError
		assert.ErrorAs(t, err, &merr)
	}

	assert.Equal(t, "gather(4)", Gather(4).String())
	assert.Equal(t, "no_gather", NoGather.String())
}

func TestNoInputs(t *testing.T) {
	sets, err := NewCalculator(nil).InputSets()
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Empty(t, sets[0].Items)
}

func TestSingleScalar(t *testing.T) {
	calc := NewCalculator([]Input{
		{Channel: "word", Mode: NoGather, Data: scalarTree(t, "robot")},
	})

	sets, err := calc.InputSets()
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Empty(t, sets[0].Path)
	assert.Equal(t, []any{"robot"}, values(sets[0]))
	assert.Equal(t, "word", sets[0].Items[0].AsChannel)
}

func TestSingleScalar_NotReady(t *testing.T) {
	calc := NewCalculator([]Input{
		{Channel: "word", Mode: NoGather, Data: datanode.New(data.TypeString)},
	})

	sets, err := calc.InputSets()
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestAlias(t *testing.T) {
	calc := NewCalculator([]Input{
		{Channel: "word", AsChannel: "w", Data: scalarTree(t, "x")},
	})
	sets, err := calc.InputSets()
	require.NoError(t, err)
	require.Len(t, sets, 1)

	item, ok := sets[0].Item("w")
	require.True(t, ok)
	assert.Equal(t, "word", item.Channel)
	_, ok = sets[0].Item("word")
	assert.False(t, ok)
}

func TestDotProduct_ScalarWithArray(t *testing.T) {
	calc := NewCalculator([]Input{
		{Channel: "letters", Mode: NoGather, Data: arrayTree(t, "x", "y", "z")},
		{Channel: "suffix", Mode: NoGather, Data: scalarTree(t, "!")},
	})

	sets, err := calc.InputSets()
	require.NoError(t, err)
	require.Len(t, sets, 3)
	for i, want := range []string{"x", "y", "z"} {
		assert.Equal(t, datanode.Path{step(i, 3)}, sets[i].Path)
		assert.Equal(t, []any{want, "!"}, values(sets[i]))
	}
}

func TestDotProduct_ItemOrderFollowsDeclaration(t *testing.T) {
	calc := NewCalculator([]Input{
		{Channel: "suffix", Data: scalarTree(t, "!")},
		{Channel: "letters", Data: arrayTree(t, "x", "y")},
	})

	sets, err := calc.InputSets()
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, []any{"!", "x"}, values(sets[0]))
	assert.Equal(t, []any{"!", "y"}, values(sets[1]))
}

func TestDotProduct_SameShape(t *testing.T) {
	calc := NewCalculator([]Input{
		{Channel: "a", Data: robotTree(t, 8)},
		{Channel: "b", Data: robotTree(t, 8)},
	})

	sets, err := calc.InputSets()
	require.NoError(t, err)
	require.Len(t, sets, 8)
	for i, set := range sets {
		assert.Equal(t, robotLeaves[i].path, set.Path)
		assert.Equal(t, []any{robotLeaves[i].value, robotLeaves[i].value}, values(set))
	}
}

func TestDotProduct_PartialSiblingStaysPending(t *testing.T) {
	calc := NewCalculator([]Input{
		{Channel: "a", Data: robotTree(t, 8)},
		{Channel: "b", Data: robotTree(t, 3)},
	})

	sets, err := calc.InputSets()
	require.NoError(t, err)
	require.Len(t, sets, 3)
	assert.Equal(t, robotLeaves[2].path, sets[2].Path)
}

func TestDotProduct_DegreeMismatch(t *testing.T) {
	calc := NewCalculator([]Input{
		{Channel: "a", Data: arrayTree(t, "x", "y", "z")},
		{Channel: "b", Data: arrayTree(t, "x", "y")},
	})

	_, err := calc.InputSets()
	require.Error(t, err)
	assert.ErrorIs(t, err, datanode.ErrDegreeMismatch)
}

func TestDotProduct_MissingIsNotMismatch(t *testing.T) {
	// b has not received anything yet, so there is nothing to compare.
	calc := NewCalculator([]Input{
		{Channel: "a", Data: arrayTree(t, "x", "y", "z")},
		{Channel: "b", Data: datanode.New(data.TypeString)},
	})

	sets, err := calc.InputSets()
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestCrossProduct(t *testing.T) {
	calc := NewCalculator([]Input{
		{Channel: "robot", Group: 1, Data: robotTree(t, 8)},
		{Channel: "letters", Group: 0, Data: arrayTree(t, "x", "y", "z")},
	})

	sets, err := calc.InputSets()
	require.NoError(t, err)
	require.Len(t, sets, 24)

	n := 0
	for i, letter := range []string{"x", "y", "z"} {
		for _, leaf := range robotLeaves {
			set := sets[n]
			wantPath := datanode.Path{step(i, 3)}.Append(leaf.path...)
			assert.Equal(t, wantPath, set.Path)
			assert.Equal(t, []any{letter, leaf.value}, values(set))
			n++
		}
	}
}

func TestCrossProduct_EmptyGroup(t *testing.T) {
	calc := NewCalculator([]Input{
		{Channel: "a", Group: 0, Data: arrayTree(t, "x", "y")},
		{Channel: "b", Group: 1, Data: datanode.New(data.TypeString)},
	})

	sets, err := calc.InputSets()
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestCrossProduct_ThreeGroupsWithDotInside(t *testing.T) {
	calc := NewCalculator([]Input{
		{Channel: "a", Group: 0, Data: arrayTree(t, "a0", "a1")},
		{Channel: "b", Group: 0, Data: arrayTree(t, "b0", "b1")},
		{Channel: "c", Group: 2, Data: scalarTree(t, "c")},
		{Channel: "d", Group: 1, Data: arrayTree(t, "d0", "d1", "d2")},
	})

	sets, err := calc.InputSets()
	require.NoError(t, err)
	require.Len(t, sets, 6)
	assert.Equal(t, []any{"a0", "b0", "d0", "c"}, values(sets[0]))
	assert.Equal(t, []any{"a1", "b1", "d2", "c"}, values(sets[5]))
	assert.Equal(t, datanode.Path{step(1, 2), step(2, 3)}, sets[5].Path)
}

func TestGather2_PartialThenFull(t *testing.T) {
	tree := robotTree(t, 5)
	calc := NewCalculator([]Input{
		{Channel: "letters", Mode: Gather(2), Data: tree},
	})

	sets, err := calc.InputSets()
	require.NoError(t, err)
	assert.Empty(t, sets)

	for _, leaf := range robotLeaves[5:] {
		require.NoError(t, tree.AddDataObject(leaf.path, data.String(leaf.value)))
	}

	sets, err = calc.InputSets()
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Empty(t, sets[0].Path)
	require.Len(t, sets[0].Items, 1)
	assert.Equal(t,
		[]any{"i", "a", "m", "r", "o", "b", "o", "t"},
		sets[0].Items[0].Value())
}

func TestGather1_PerBranch(t *testing.T) {
	calc := NewCalculator([]Input{
		{Channel: "letters", Mode: Gather(1), Data: robotTree(t, 3)},
	})

	sets, err := calc.InputSets()
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, datanode.Path{step(0, 3)}, sets[0].Path)
	assert.Equal(t, []any{"i"}, sets[0].Items[0].Value())
	assert.Equal(t, datanode.Path{step(1, 3)}, sets[1].Path)
	assert.Equal(t, []any{"a", "m"}, sets[1].Items[0].Value())
}

func TestIncrementalArrival(t *testing.T) {
	tree := datanode.New(data.TypeString)
	calc := NewCalculator([]Input{{Channel: "letters", Data: tree}})

	for i, leaf := range robotLeaves {
		require.NoError(t, tree.AddDataObject(leaf.path, data.String(leaf.value)))
		sets, err := calc.InputSets()
		require.NoError(t, err)
		assert.Len(t, sets, i+1)
	}
}

func TestItemsAreSnapshots(t *testing.T) {
	tree := robotTree(t, 3)
	sets, err := NewCalculator([]Input{{Channel: "l", Mode: Gather(1), Data: tree}}).InputSets()
	require.NoError(t, err)
	before := sets[0].Items[0].Fingerprint()

	require.NoError(t, tree.AddDataObject(robotLeaves[3].path, data.String("r")))
	assert.Equal(t, before, sets[0].Items[0].Fingerprint())
}

func TestNegativeGroup(t *testing.T) {
	_, err := NewCalculator([]Input{{Channel: "a", Group: -1, Data: scalarTree(t, "x")}}).InputSets()
	assert.Error(t, err)
}
