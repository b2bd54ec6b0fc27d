package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository takes the caller's db handle so the ledger insert commits or
// rolls back together with the state writes it guards.
type Repository interface {
	// Exists reports whether the event id was already processed. Advisory
	// only; Record inside the same transaction is the real barrier.
	Exists(ctx context.Context, db *gorm.DB, providerEventID string) (bool, error)
	// Record inserts the ledger row. Returns false with a nil error when
	// the id is already present.
	Record(ctx context.Context, db *gorm.DB, providerEventID, eventType string, processedAt time.Time) (bool, error)
}
