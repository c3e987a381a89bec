// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// SweepHeartbeats fails running attempts that missed their heartbeats as
// of now. An attempt that stopped reporting fails with FailureTimeout; one
// that never reported fails with FailureSystem. Failed attempts are
// cancelled. It returns how many attempts were failed.
func (e *Engine) SweepHeartbeats(ctx context.Context, now time.Time) (int, error) {
	type stale struct {
		id   string
		kind FailureKind
		last time.Time
	}

	e.mu.RLock()
	var found []stale
	for _, a := range e.attempts {
		if a.Status != AttemptRunning || !e.staleLocked(a, now) {
			continue
		}
		s := stale{id: a.ID, kind: FailureTimeout, last: a.LastHeartbeat}
		if a.LastHeartbeat.IsZero() {
			s.kind = FailureSystem
			s.last = a.DispatchedAt
		}
		found = append(found, s)
	}
	dispatcher := e.dispatcher
	e.mu.RUnlock()

	slices.SortFunc(found, func(a, b stale) int {
		if a.id < b.id {
			return -1
		}
		if a.id > b.id {
			return 1
		}
		return 0
	})

	var (
		count int
		errs  []error
	)
	for _, s := range found {
		failed := false
		detail := fmt.Sprintf("no heartbeat since %s", s.last.Format(time.RFC3339))
		err := e.fail(ctx, s.id, s.kind, detail, func(a *attempt) bool {
			failed = a.Status == AttemptRunning && e.staleLocked(a, now)
			return failed
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !failed {
			continue
		}
		count++
		if err := dispatcher.Cancel(context.WithoutCancel(ctx), s.id); err != nil {
			e.logger.Warn("cancelling stale attempt failed", "attempt_id", s.id, "error", err)
		}
	}
	if count > 0 {
		e.logger.Warn("stale attempts failed", "count", count)
	}
	return count, errors.Join(errs...)
}

// MonitorHeartbeats sweeps every SweepInterval until ctx is done.
func (e *Engine) MonitorHeartbeats(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	e.logger.Info("heartbeat monitor started",
		"sweep_interval", e.cfg.SweepInterval,
		"stale_after", e.cfg.StaleAfter())
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("heartbeat monitor stopped")
			return nil
		case <-ticker.C:
			if _, err := e.SweepHeartbeats(ctx, e.now()); err != nil {
				e.logger.Error("heartbeat sweep failed", "error", err)
			}
		}
	}
}
