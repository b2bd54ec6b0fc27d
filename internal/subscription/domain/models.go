// Package domain contains persistence models for subscription records.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status represents lifecycle states for a subscription record.
type Status string

const (
	StatusNone     Status = "none"
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// Live reports whether the status still entitles the entity to consume.
func (s Status) Live() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue:
		return true
	default:
		return false
	}
}

// SubscriptionRecord mirrors the provider-side subscription for one
// billable entity. Exactly one row per entity; deletion is a status
// transition, never a physical delete.
type SubscriptionRecord struct {
	ID                      snowflake.ID      `gorm:"primaryKey"`
	EntityID                string            `gorm:"type:text;not null;uniqueIndex"`
	ProviderSubscriptionRef string            `gorm:"type:text;index"`
	Status                  Status            `gorm:"type:text;not null"`
	PlanTierID              snowflake.ID      `gorm:"not null;index"`
	SeatQuantity            int64             `gorm:"not null;default:1"`
	AddonQuantity           int64             `gorm:"not null;default:0"`
	PeriodStart             time.Time         `gorm:"not null"`
	PeriodEnd               time.Time         `gorm:"not null"`
	CancelAtPeriodEnd       bool              `gorm:"not null;default:false"`
	TrialEnd                *time.Time        `gorm:""`
	GrantedBy               *string           `gorm:"type:text"`
	GrantedAt               *time.Time        `gorm:""`
	Metadata                datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt               time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt               time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SubscriptionRecord) TableName() string { return "subscription_records" }
