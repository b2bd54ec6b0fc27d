// Package domain contains persistence models for the usage period ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsagePeriod holds consumption and the two-part allowance for one billable
// entity and one billing period. At most one row per (entity_id,
// period_start), enforced by a uniqueness constraint. Rollover creates a
// new row; old periods stay queryable for audit.
type UsagePeriod struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	EntityID       string       `gorm:"type:text;not null;uniqueIndex:ux_usage_periods_entity_period,priority:1"`
	PeriodStart    time.Time    `gorm:"not null;uniqueIndex:ux_usage_periods_entity_period,priority:2"`
	PeriodEnd      time.Time    `gorm:"not null"`
	Consumed       int64        `gorm:"not null;default:0"`
	BaseAllowance  int64        `gorm:"not null"`
	AddonAllowance int64        `gorm:"not null;default:0"`
	PlanTierID     snowflake.ID `gorm:"not null;index"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsagePeriod) TableName() string { return "usage_periods" }

// Allowance is the total admission ceiling for the period.
func (u UsagePeriod) Allowance() int64 {
	return u.BaseAllowance + u.AddonAllowance
}
