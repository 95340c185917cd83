// Package notify implements the reference Notification sink
// collaborator contract of spec.md §6: `notify(channel, message)`,
// fire-and-forget. The core only depends on the Sink interface; a
// deployment wires a concrete chat/SMS/email adapter behind it under
// its own `external.<service>.*` event prefix per spec.md §6.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Sink is the collaborator contract: fire-and-forget, no acknowledgement
// beyond delivery-attempt success.
type Sink interface {
	Notify(ctx context.Context, channel, message string) error
}

// WebhookSink posts {channel, message} as JSON to a single configured
// webhook URL — the minimal reference chat/ops-bridge adapter spec.md
// §1 carves out of scope beyond its contract. No ecosystem HTTP client
// library is warranted here: this is a single best-effort POST bounded by
// the http.Client's own timeout, exactly the shape net/http's client exists
// for.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink posts to url with the given per-call timeout.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &WebhookSink{url: url, client: &http.Client{Timeout: timeout}}
}

type webhookPayload struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
	SentAt  string `json:"sent_at"`
}

func (s *WebhookSink) Notify(ctx context.Context, channel, message string) error {
	body, err := json.Marshal(webhookPayload{Channel: channel, Message: message, SentAt: time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post to %s: %w", s.url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NoopSink discards every notification; used when no channel is
// configured so callers never need a nil check.
type NoopSink struct{}

func (NoopSink) Notify(context.Context, string, string) error { return nil }
