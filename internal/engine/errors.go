// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package engine

import (
	"errors"
	"fmt"
)

var (
	ErrRunNotFound          = errors.New("run not found")
	ErrTaskNotFound         = errors.New("task not found")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrUnknownChannel       = errors.New("unknown channel")
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrRunTerminal          = errors.New("run is terminal")
	ErrAttemptTerminal      = errors.New("attempt is terminal")
	ErrInvalidRunSpec       = errors.New("invalid run spec")
	ErrInvalidOutputs       = errors.New("invalid attempt outputs")
	ErrWorkflowRun          = errors.New("operation needs a step run")
	ErrUnknownFailureKind   = errors.New("unknown failure kind")
)

// SpecError reports a problem in a RunSpec found while creating a run.
type SpecError struct {
	Step  string
	Field string
	Msg   string
}

func (e *SpecError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%v: %s: %s", ErrInvalidRunSpec, e.Field, e.Msg)
	}
	return fmt.Sprintf("%v: step %q: %s: %s", ErrInvalidRunSpec, e.Step, e.Field, e.Msg)
}

func (e *SpecError) Unwrap() error { return ErrInvalidRunSpec }

// TransitionError reports a status change that is not allowed.
type TransitionError struct {
	AttemptID string
	From      AttemptStatus
	To        AttemptStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("attempt %s: %v: %s -> %s", e.AttemptID, ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
