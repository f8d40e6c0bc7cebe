// Package notify carries winner-decision side channels: a realtime
// broadcast hub and a webhook sink. Both are advisory; a transport failure
// must never roll back or block an already-persisted decision.
package notify

import "context"

// Broadcaster fans an event out to realtime listeners.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, payload any)
}

// WebhookSink delivers an event to an external HTTP endpoint, scoped to an
// organization.
type WebhookSink interface {
	Dispatch(ctx context.Context, orgID, event string, payload any) error
}

// NopBroadcaster drops all broadcasts.
type NopBroadcaster struct{}

// Broadcast does nothing.
func (NopBroadcaster) Broadcast(context.Context, string, any) {}

// NopWebhookSink drops all dispatches.
type NopWebhookSink struct{}

// Dispatch does nothing.
func (NopWebhookSink) Dispatch(context.Context, string, string, any) error { return nil }
