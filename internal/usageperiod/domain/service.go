package domain

import (
	"context"
	"errors"
	"time"
)

// ConsumeResult reports a quota decision with enough context for the caller
// to render a limit message.
type ConsumeResult struct {
	Allowed   bool      `json:"allowed"`
	Consumed  int64     `json:"consumed"`
	Allowance int64     `json:"allowance"`
	PeriodEnd time.Time `json:"period_end"`
	// Synthesized marks a decision made against an allowance derived from
	// the subscription record because no ledger row exists yet.
	Synthesized bool `json:"synthesized,omitempty"`
}

// Usage is the read-only view returned to display callers.
type Usage struct {
	Consumed  int64     `json:"consumed"`
	Allowance int64     `json:"allowance"`
	PeriodEnd time.Time `json:"period_end"`
}

type Service interface {
	// TryConsume atomically admits one unit of consumption for the
	// entity's current period. Ambiguous outcomes surface as errors and
	// must be treated as deny by callers.
	TryConsume(ctx context.Context, entityID string) (ConsumeResult, error)
	GetCurrentUsage(ctx context.Context, entityID string) (Usage, error)
	// ApplyTierToActiveUsers recomputes allowances on every current-period
	// row referencing the tier without resetting consumed. Returns the
	// number of rows updated.
	ApplyTierToActiveUsers(ctx context.Context, tierID string) (int64, error)
}

var (
	ErrInvalidEntityID  = errors.New("invalid_entity_id")
	ErrInvalidTierID    = errors.New("invalid_tier_id")
	ErrNoUsagePeriod    = errors.New("no_usage_period")
	ErrNoEntitlement    = errors.New("no_entitlement")
	ErrInvalidPeriod    = errors.New("invalid_period")
	ErrInvalidAllowance = errors.New("invalid_allowance")
)
