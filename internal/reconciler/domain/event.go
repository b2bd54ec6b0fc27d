// Package domain defines the normalized provider event consumed by the
// reconciler.
package domain

import (
	"context"
	"errors"
)

// EventType identifies the provider notification kinds the reconciler
// understands. Anything else is acknowledged and skipped.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout.session.completed"
	EventSubscriptionCreated EventType = "customer.subscription.created"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
	EventPaymentSucceeded    EventType = "invoice.payment_succeeded"
	EventPaymentFailed       EventType = "invoice.payment_failed"
)

// Event is one provider notification after webhook decoding. ID is the
// provider's event id and drives idempotency; the payload carries the
// subscription snapshot the event describes.
type Event struct {
	ID      string       `json:"id"`
	Type    EventType    `json:"type"`
	Payload EventPayload `json:"payload"`
}

// EventPayload is the subset of the provider object the reconciler acts
// on. Period bounds and trial end are unix seconds, matching the wire
// format.
type EventPayload struct {
	EntityID                string `json:"entity_id"`
	ProviderSubscriptionRef string `json:"provider_subscription_ref"`
	PriceRef                string `json:"price_ref"`
	Status                  string `json:"status"`
	SeatQuantity            int64  `json:"seat_quantity"`
	AddonQuantity           int64  `json:"addon_quantity"`
	PeriodStart             int64  `json:"period_start"`
	PeriodEnd               int64  `json:"period_end"`
	CancelAtPeriodEnd       bool   `json:"cancel_at_period_end"`
	TrialEnd                int64  `json:"trial_end"`
	BillingReason           string `json:"billing_reason"`
}

// Service applies provider events to local state. A nil return means the
// event is safe to acknowledge; any error means the provider should
// redeliver.
type Service interface {
	Handle(ctx context.Context, event Event) error
}

var (
	ErrMissingEventID  = errors.New("missing_event_id")
	ErrMissingEntityID = errors.New("missing_entity_id")
	ErrInvalidPeriod   = errors.New("invalid_period")
)
