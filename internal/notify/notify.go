// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package notify delivers terminal run statuses.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"loom/internal/engine"
)

// Webhook POSTs each notification as JSON to a URL.
type Webhook struct {
	url        string
	httpClient *http.Client
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NotifyRunFinished sends n. Any non-2xx response is an error.
func (w *Webhook) NotifyRunFinished(ctx context.Context, n engine.RunNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification for run %s: %w", n.RunID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification for run %s: unexpected status code: %d", n.RunID, resp.StatusCode)
	}
	return nil
}

// NoOp drops notifications, for when none are configured.
type NoOp struct{}

// NotifyRunFinished does nothing.
func (NoOp) NotifyRunFinished(context.Context, engine.RunNotification) error { return nil }

// New returns a Webhook for url, or NoOp when url is empty.
func New(url string) engine.Notifier {
	if url == "" {
		return NoOp{}
	}
	return NewWebhook(url)
}
