// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package engine

// Default retry limits per failure kind.
const (
	DefaultSystemRetries   = 10
	DefaultAnalysisRetries = 1
	DefaultTimeoutRetries  = 2
)

// RetryLimits is the number of retries allowed for each failure kind.
type RetryLimits struct {
	System   int `yaml:"system"`
	Analysis int `yaml:"analysis"`
	Timeout  int `yaml:"timeout"`
}

// DefaultRetryLimits gives system faults the most retries and analysis
// failures the fewest.
func DefaultRetryLimits() RetryLimits {
	return RetryLimits{
		System:   DefaultSystemRetries,
		Analysis: DefaultAnalysisRetries,
		Timeout:  DefaultTimeoutRetries,
	}
}

// Max returns the limit for kind, or 0 for an unknown kind.
func (l RetryLimits) Max(kind FailureKind) int {
	switch kind {
	case FailureSystem:
		return l.System
	case FailureAnalysis:
		return l.Analysis
	case FailureTimeout:
		return l.Timeout
	default:
		return 0
	}
}

// RetryBudget counts the retries a task has used, per failure kind.
type RetryBudget struct {
	used map[FailureKind]int
}

// NewRetryBudget creates an unused budget.
func NewRetryBudget() *RetryBudget {
	return &RetryBudget{used: make(map[FailureKind]int)}
}

// CanRetry reports whether another retry for kind fits within limits.
func (rb *RetryBudget) CanRetry(kind FailureKind, limits RetryLimits) bool {
	return rb.used[kind] < limits.Max(kind)
}

// IncrementRetry records a retry for kind and returns the new count.
func (rb *RetryBudget) IncrementRetry(kind FailureKind) int {
	rb.used[kind]++
	return rb.used[kind]
}

// RetryCount returns the retries used for kind.
func (rb *RetryBudget) RetryCount(kind FailureKind) int {
	return rb.used[kind]
}

// RemainingRetries returns how many retries for kind are left.
func (rb *RetryBudget) RemainingRetries(kind FailureKind, limits RetryLimits) int {
	if n := limits.Max(kind) - rb.used[kind]; n > 0 {
		return n
	}
	return 0
}

func (rb *RetryBudget) snapshot() map[FailureKind]int {
	out := make(map[FailureKind]int, len(rb.used))
	for k, v := range rb.used {
		out[k] = v
	}
	return out
}
