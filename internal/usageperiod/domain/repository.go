package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// EnsureParams carries everything needed to guarantee a ledger row for one
// (entity, period) with up-to-date allowances.
type EnsureParams struct {
	EntityID       string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	BaseAllowance  int64
	AddonAllowance int64
	PlanTierID     snowflake.ID
}

// Repository methods take the caller's db handle so the reconciler and the
// trial grant path can run them inside their transactions.
type Repository interface {
	// Ensure inserts the row if absent; if present only the allowance and
	// tier columns are updated. Consumed is never written on the update
	// arm.
	Ensure(ctx context.Context, db *gorm.DB, params EnsureParams) error
	// TryConsume performs the atomic conditional increment against the
	// entity's row covering now. Returns the updated row when admitted,
	// the unchanged row when denied, or (nil, false, nil) when no row
	// covers now.
	TryConsume(ctx context.Context, db *gorm.DB, entityID string, now time.Time) (*UsagePeriod, bool, error)
	FindCurrent(ctx context.Context, db *gorm.DB, entityID string, now time.Time) (*UsagePeriod, error)
	FindAll(ctx context.Context, db *gorm.DB, entityID string) ([]UsagePeriod, error)
}
