// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom/internal/data"
	"loom/internal/datanode"
	"loom/internal/inputcalc"
)

func baseSpec() Spec {
	return Spec{
		Command:     "wc -c {{.words}}",
		Interpreter: "/bin/bash -euo pipefail",
		Env:         map[string]string{"LANG": "C", "HOME": "/tmp"},
		Outputs:     []string{"count:integer:no_scatter:stdout"},
		Inputs: []Input{
			{Alias: "words", Contents: "abc"},
			{Alias: "n", Contents: "def"},
		},
	}
}

func TestCompute_Deterministic(t *testing.T) {
	a := Compute(baseSpec())
	b := Compute(baseSpec())
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestCompute_EnvOrderIrrelevant(t *testing.T) {
	s := baseSpec()
	s.Env = map[string]string{"HOME": "/tmp", "LANG": "C"}
	assert.Equal(t, Compute(baseSpec()), Compute(s))
}

func TestCompute_Sensitivity(t *testing.T) {
	base := Compute(baseSpec())

	tests := []struct {
		name   string
		mutate func(*Spec)
	}{
		{"command", func(s *Spec) { s.Command = "wc -l {{.words}}" }},
		{"interpreter", func(s *Spec) { s.Interpreter = "/bin/sh" }},
		{"env value", func(s *Spec) { s.Env["LANG"] = "en_US" }},
		{"env key", func(s *Spec) { s.Env["EXTRA"] = "" }},
		{"outputs", func(s *Spec) { s.Outputs = []string{"count:string:no_scatter:stdout"} }},
		{"input contents", func(s *Spec) { s.Inputs[0].Contents = "abd" }},
		{"input alias", func(s *Spec) { s.Inputs[1].Alias = "m" }},
		{"input order", func(s *Spec) { s.Inputs[0], s.Inputs[1] = s.Inputs[1], s.Inputs[0] }},
		{"input dropped", func(s *Spec) { s.Inputs = s.Inputs[:1] }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := baseSpec()
			tc.mutate(&s)
			assert.NotEqual(t, base, Compute(s))
		})
	}
}

func TestCompute_FieldBoundaries(t *testing.T) {
	a := Spec{Command: "ab", Interpreter: "c"}
	b := Spec{Command: "b", Interpreter: "ca"}
	assert.NotEqual(t, Compute(a), Compute(b))
}

func TestForInputSet(t *testing.T) {
	mk := func(v string) inputcalc.InputSet {
		tree := datanode.New(data.TypeString)
		require.NoError(t, tree.AddDataObject(nil, data.String(v)))
		sets, err := inputcalc.NewCalculator([]inputcalc.Input{
			{Channel: "word", Data: tree},
		}).InputSets()
		require.NoError(t, err)
		require.Len(t, sets, 1)
		return sets[0]
	}

	base := Spec{Command: "echo {{.word}}", Env: map[string]string{"A": "1"}}
	first := ForInputSet(base, mk("robot"))
	again := ForInputSet(base, mk("robot"))
	other := ForInputSet(base, mk("human"))

	assert.Equal(t, first, again)
	assert.NotEqual(t, first, other)
}
