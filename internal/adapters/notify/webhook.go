package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 5 * time.Second

type webhookEnvelope struct {
	Event   string    `json:"event"`
	OrgID   string    `json:"org_id"`
	Payload any       `json:"payload"`
	SentAt  time.Time `json:"sent_at"`
}

// HTTPWebhook posts event envelopes to a configured endpoint.
type HTTPWebhook struct {
	url    string
	client *http.Client
}

// WebhookOption applies a configuration option to the HTTPWebhook.
type WebhookOption func(*HTTPWebhook)

// WithHTTPClient overrides the HTTP client, e.g. for tests.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *HTTPWebhook) {
		if c != nil {
			w.client = c
		}
	}
}

// WithTimeout bounds each dispatch attempt.
func WithTimeout(d time.Duration) WebhookOption {
	return func(w *HTTPWebhook) {
		if d > 0 {
			w.client.Timeout = d
		}
	}
}

// NewHTTPWebhook creates a sink posting to url.
func NewHTTPWebhook(url string, opts ...WebhookOption) *HTTPWebhook {
	w := &HTTPWebhook{
		url:    url,
		client: &http.Client{Timeout: defaultWebhookTimeout},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dispatch posts the envelope as JSON. Non-2xx responses are errors so the
// caller can log them; retries are the receiver's problem.
func (w *HTTPWebhook) Dispatch(ctx context.Context, orgID, event string, payload any) error {
	body, err := json.Marshal(webhookEnvelope{
		Event:   event,
		OrgID:   orgID,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook endpoint returned %s", resp.Status)
	}
	return nil
}
