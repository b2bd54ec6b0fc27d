// Package domain defines operator-initiated trial grants and revocations.
package domain

import (
	"context"
	"errors"
	"time"

	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
)

type GrantRequest struct {
	EntityID     string `json:"entity_id"`
	DurationDays int    `json:"duration_days"`
	GrantedBy    string `json:"granted_by"`
}

type RevokeRequest struct {
	EntityID  string `json:"entity_id"`
	RevokedBy string `json:"revoked_by"`
}

type Grant struct {
	EntityID                string    `json:"entity_id"`
	ProviderSubscriptionRef string    `json:"provider_subscription_ref"`
	TrialEnd                time.Time `json:"trial_end"`
	BaseAllowance           int64     `json:"base_allowance"`
}

type Service interface {
	// Grant creates the trial at the provider first; local state is only
	// written once the provider call succeeds, so a provider failure
	// leaves nothing behind.
	Grant(ctx context.Context, req GrantRequest) (*Grant, error)
	// Revoke cancels the provider subscription and expires the local
	// record immediately.
	Revoke(ctx context.Context, req RevokeRequest) (*subscriptiondomain.SubscriptionRecord, error)
}

var (
	ErrInvalidEntityID    = errors.New("invalid_entity_id")
	ErrInvalidDuration    = errors.New("invalid_trial_duration")
	ErrAlreadySubscribed  = errors.New("already_subscribed")
	ErrNotTrialing        = errors.New("not_trialing")
	ErrProviderCallFailed = errors.New("provider_call_failed")
)
