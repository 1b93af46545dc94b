// Package push delivers web push notifications to every subscription a user
// has registered. One failing endpoint never blocks the others.
package push

import (
	"context"
	"errors"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

// ErrSubscriptionGone means the push service no longer knows the endpoint
// (HTTP 404/410); the subscription should be removed.
var ErrSubscriptionGone = errors.New("push subscription gone")

// ErrNoSubscriptions is reported when a user has nothing to send to.
var ErrNoSubscriptions = errors.New("no active push subscriptions")

// Payload is the JSON document handed to the service worker.
type Payload struct {
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Tag                string         `json:"tag,omitempty"`
	Icon               string         `json:"icon,omitempty"`
	Data               map[string]any `json:"data,omitempty"`
	RequireInteraction bool           `json:"requireInteraction,omitempty"`
}

// DeviceResult is the outcome of one endpoint.
type DeviceResult struct {
	TargetID string
	Success  bool
	Err      error
}

// SubscriptionStore reads and prunes registered subscriptions.
type SubscriptionStore interface {
	PushSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// Transport sends an encoded payload to one endpoint.
type Transport interface {
	Send(ctx context.Context, sub domain.PushSubscription, body []byte, urgent bool) error
}
