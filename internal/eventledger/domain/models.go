// Package domain contains the processed-event ledger model backing
// reconciliation idempotency.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ProviderEvent records a provider event id that has been fully applied.
// The unique index on provider_event_id is the idempotency barrier: a
// redelivery collides here and commits nothing.
type ProviderEvent struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	ProviderEventID string       `gorm:"type:text;not null;uniqueIndex"`
	EventType       string       `gorm:"type:text;not null"`
	ProcessedAt     time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (ProviderEvent) TableName() string { return "provider_events" }
