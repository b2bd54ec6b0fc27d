// Package domain contains persistence models for the plan catalog.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PlanTier defines the quota formula a subscription resolves against:
// base_allowance × seats plus addon_unit_size × add-on quantity.
type PlanTier struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	Code             string       `gorm:"type:text;not null;uniqueIndex"`
	Name             string       `gorm:"type:text;not null"`
	BaseAllowance    int64        `gorm:"not null"`
	AddonUnitSize    int64        `gorm:"not null;default:0"`
	ProviderPriceRef string       `gorm:"type:text;index"`
	IsDefault        bool         `gorm:"not null;default:false"`
	Active           bool         `gorm:"not null;default:true"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PlanTier) TableName() string { return "plan_tiers" }
