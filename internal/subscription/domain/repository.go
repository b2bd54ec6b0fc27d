package domain

import (
	"context"

	"gorm.io/gorm"
)

// Repository methods take the caller's db handle so the reconciler can run
// them inside its per-event transaction.
type Repository interface {
	FindByEntityID(ctx context.Context, db *gorm.DB, entityID string) (*SubscriptionRecord, error)
	// Upsert applies the record keyed by entity_id. A write whose
	// period_start is older than the stored one is merge-ignored so
	// arrival order can never regress logical state; the stored record
	// is returned either way.
	Upsert(ctx context.Context, db *gorm.DB, record *SubscriptionRecord) (*SubscriptionRecord, error)
	// UpdateStatus moves the state machine without touching period
	// columns; used by events that carry no period (payment_failed,
	// subscription_deleted).
	UpdateStatus(ctx context.Context, db *gorm.DB, entityID string, status Status) error
	UpdateAddonQuantity(ctx context.Context, db *gorm.DB, entityID string, quantity int64) error
}
