package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/meterline/pkg/db/pagination"
)

type ListRequest struct {
	Status    string
	PageToken string
	PageSize  int32
}

type ListResponse struct {
	pagination.PageInfo
	Subscriptions []SubscriptionRecord `json:"subscriptions"`
}

type SetAddonQuantityRequest struct {
	EntityID string `json:"entity_id"`
	Quantity int64  `json:"quantity"`
}

type Service interface {
	GetByEntityID(ctx context.Context, entityID string) (SubscriptionRecord, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	// SetAddonQuantity pushes the line-item change to the provider first;
	// the local record and the current usage period are only updated once
	// the provider call succeeds.
	SetAddonQuantity(ctx context.Context, req SetAddonQuantityRequest) (SubscriptionRecord, error)
	// ExpireTrialsDue flips trialing records whose trial_end passed to
	// expired. Safety net for missed provider webhooks; returns the
	// number of records transitioned.
	ExpireTrialsDue(ctx context.Context, now time.Time) (int64, error)
}

var (
	ErrInvalidEntityID       = errors.New("invalid_entity_id")
	ErrInvalidQuantity       = errors.New("invalid_quantity")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrSubscriptionNotLive   = errors.New("subscription_not_live")
	ErrMissingProviderSubRef = errors.New("missing_provider_subscription_ref")
	ErrTierHasNoAddon        = errors.New("tier_has_no_addon")
	ErrProviderCallFailed    = errors.New("provider_call_failed")
	ErrInvalidStatus         = errors.New("invalid_status")
)
