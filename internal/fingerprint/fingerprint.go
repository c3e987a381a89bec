// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package fingerprint computes the deduplication key of a task execution.
//
// Two tasks with the same fingerprint would run the same command in the same
// environment over the same input content, so one execution can serve both.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"loom/internal/inputcalc"
)

// Input is one resolved input as seen by the command.
type Input struct {
	// Alias is the channel name the command refers to.
	Alias string
	// Contents is the content fingerprint of the input's data.
	Contents string
}

// Spec holds everything that determines what an execution produces.
type Spec struct {
	Command     string
	Interpreter string
	Env         map[string]string
	// Outputs are the declared outputs, one string each, hashed in order.
	Outputs []string
	// Inputs are hashed in the order given.
	Inputs []Input
}

// Compute returns the hex sha256 fingerprint of s.
//
// Fields are length-prefixed so that no two different specs share an
// encoding. Environment keys are sorted.
func Compute(s Spec) string {
	h := sha256.New()

	writeField(h, []byte(s.Interpreter))
	writeField(h, []byte(s.Command))

	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeCount(h, len(keys))
	for _, k := range keys {
		writeField(h, []byte(k))
		writeField(h, []byte(s.Env[k]))
	}

	writeCount(h, len(s.Outputs))
	for _, o := range s.Outputs {
		writeField(h, []byte(o))
	}

	writeCount(h, len(s.Inputs))
	for _, in := range s.Inputs {
		writeField(h, []byte(in.Alias))
		writeField(h, []byte(in.Contents))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// ForInputSet fingerprints base run over one input set. Any Inputs already
// in base are replaced.
func ForInputSet(base Spec, set inputcalc.InputSet) string {
	base.Inputs = make([]Input, len(set.Items))
	for i, it := range set.Items {
		base.Inputs[i] = Input{Alias: it.AsChannel, Contents: it.Fingerprint()}
	}
	return Compute(base)
}

func writeField(h hash.Hash, b []byte) {
	writeCount(h, len(b))
	h.Write(b)
}

func writeCount(h hash.Hash, n int) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}
