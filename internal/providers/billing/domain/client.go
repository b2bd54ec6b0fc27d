// Package domain defines the outbound billing provider boundary. Provider
// calls are the only fallible I/O in the system; every caller performs them
// before committing any local write.
package domain

import (
	"context"
	"errors"
	"time"
)

// CreateTrialRequest asks the provider for a subscription with no payment
// instrument that auto-cancels (never auto-charges) at trial end.
type CreateTrialRequest struct {
	EntityID string
	PriceRef string
	TrialEnd time.Time
}

// ProviderSubscription is the provider's view of a subscription after a
// mutating call.
type ProviderSubscription struct {
	Ref      string
	Status   string
	TrialEnd time.Time
}

type Client interface {
	CreateTrialSubscription(ctx context.Context, req CreateTrialRequest) (*ProviderSubscription, error)
	// CancelSubscription cancels immediately, not at period end.
	CancelSubscription(ctx context.Context, subscriptionRef string) error
	// UpdateAddonQuantity sets the add-on line item quantity on an
	// existing subscription.
	UpdateAddonQuantity(ctx context.Context, subscriptionRef, priceRef string, quantity int64) error
}

var (
	ErrInvalidConfig       = errors.New("invalid_provider_config")
	ErrProviderUnavailable = errors.New("provider_unavailable")
	ErrProviderRejected    = errors.New("provider_rejected")
	ErrMissingRef          = errors.New("missing_subscription_ref")
)
