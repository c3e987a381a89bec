// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package engine

// attemptTransition is one allowed status change.
type attemptTransition struct {
	From        AttemptStatus
	To          AttemptStatus
	Description string
}

var attemptTransitions = []attemptTransition{
	{AttemptCreated, AttemptRunning, "dispatched"},
	{AttemptCreated, AttemptFailed, "could not be dispatched"},
	{AttemptCreated, AttemptKilled, "run killed before dispatch"},
	{AttemptRunning, AttemptSucceeded, "completed"},
	{AttemptRunning, AttemptFailed, "failed"},
	{AttemptRunning, AttemptKilled, "run killed"},
}

func findTransition(from, to AttemptStatus) (attemptTransition, bool) {
	for _, t := range attemptTransitions {
		if t.From == from && t.To == to {
			return t, true
		}
	}
	return attemptTransition{}, false
}

// transitionLocked moves a to status to. Caller holds e.mu.
func (e *Engine) transitionLocked(a *attempt, to AttemptStatus) error {
	t, ok := findTransition(a.Status, to)
	if !ok {
		return &TransitionError{AttemptID: a.ID, From: a.Status, To: to}
	}
	e.logger.Info("attempt transition",
		"attempt_id", a.ID,
		"fingerprint", a.Fingerprint,
		"from", t.From,
		"to", t.To,
		"reason", t.Description)
	a.Status = to
	if to.Terminal() {
		a.FinishedAt = e.now()
	}
	e.markAttempt(a.ID)
	return nil
}
