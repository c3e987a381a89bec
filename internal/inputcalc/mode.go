// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package inputcalc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidMode is returned for a gather mode string that cannot be parsed.
var ErrInvalidMode = errors.New("invalid gather mode")

// ModeError reports the offending mode string.
type ModeError struct {
	Mode string
	Err  error
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Mode)
}

func (e *ModeError) Unwrap() error { return e.Err }

// Mode controls how many levels of array nesting an input collapses into a
// single task value.
type Mode struct {
	depth int
}

// NoGather hands every leaf to its own task.
var NoGather = Mode{}

// Gather collapses n levels. Gather(1) is the plain "gather" mode.
func Gather(n int) Mode { return Mode{depth: n} }

// ParseMode accepts "no_gather" (or ""), "gather" and "gather(n)" with n >= 1.
func ParseMode(s string) (Mode, error) {
	switch s = strings.TrimSpace(s); s {
	case "", "no_gather":
		return NoGather, nil
	case "gather":
		return Gather(1), nil
	}
	if !strings.HasPrefix(s, "gather(") || !strings.HasSuffix(s, ")") {
		return Mode{}, &ModeError{Mode: s, Err: ErrInvalidMode}
	}
	n, err := strconv.Atoi(strings.TrimSpace(s[len("gather(") : len(s)-1]))
	if err != nil || n < 1 {
		return Mode{}, &ModeError{Mode: s, Err: ErrInvalidMode}
	}
	return Gather(n), nil
}

// GatherDepth is the number of levels collapsed; 0 for NoGather.
func (m Mode) GatherDepth() int { return m.depth }

// IsGather reports whether values are collapsed into arrays.
func (m Mode) IsGather() bool { return m.depth > 0 }

func (m Mode) String() string {
	switch m.depth {
	case 0:
		return "no_gather"
	case 1:
		return "gather"
	default:
		return "gather(" + strconv.Itoa(m.depth) + ")"
	}
}
