package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type CreateRequest struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	BaseAllowance    int64  `json:"base_allowance"`
	AddonUnitSize    int64  `json:"addon_unit_size"`
	ProviderPriceRef string `json:"provider_price_ref"`
	IsDefault        bool   `json:"is_default"`
}

type UpdateRequest struct {
	ID               string  `json:"id"`
	Name             *string `json:"name,omitempty"`
	BaseAllowance    *int64  `json:"base_allowance,omitempty"`
	AddonUnitSize    *int64  `json:"addon_unit_size,omitempty"`
	ProviderPriceRef *string `json:"provider_price_ref,omitempty"`
	Active           *bool   `json:"active,omitempty"`
}

type Service interface {
	// WithTx returns a view of the service whose queries run on the
	// caller's transaction. Callers resolving tiers inside a transaction
	// must use it so the lookup shares the transaction's connection.
	WithTx(tx *gorm.DB) Service
	List(ctx context.Context) ([]PlanTier, error)
	Create(ctx context.Context, req CreateRequest) (*PlanTier, error)
	Update(ctx context.Context, req UpdateRequest) (*PlanTier, error)
	// Delete rejects with ErrTierInUse while any live subscription record
	// or usage period row still references the tier.
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*PlanTier, error)
	GetDefault(ctx context.Context) (*PlanTier, error)
	// ResolveByPriceRef falls back to the default tier when the price
	// reference is unknown. Degrade, never fail.
	ResolveByPriceRef(ctx context.Context, priceRef string) (*PlanTier, error)
}

var (
	ErrInvalidTierID    = errors.New("invalid_tier_id")
	ErrInvalidCode      = errors.New("invalid_code")
	ErrInvalidAllowance = errors.New("invalid_allowance")
	ErrTierNotFound     = errors.New("tier_not_found")
	ErrTierInUse        = errors.New("tier_in_use")
	ErrNoDefaultTier    = errors.New("no_default_tier")
	ErrDuplicateCode    = errors.New("duplicate_code")
)
