// Package seed bootstraps the reference data a fresh install needs.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	plantierdomain "github.com/smallbiznis/meterline/internal/plantier/domain"
	"gorm.io/gorm"
)

const (
	defaultTierCode          = "standard"
	defaultTierName          = "Standard"
	defaultTierBaseAllowance = 30
	defaultTierAddonUnitSize = 20
)

// EnsureDefaultTier seeds the fallback plan tier used for trial grants and
// unknown provider price references. Idempotent; an existing default wins.
func EnsureDefaultTier(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.WithContext(ctx).
			Model(&plantierdomain.PlanTier{}).
			Where("is_default = ?", true).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		now := time.Now().UTC()
		tier := plantierdomain.PlanTier{
			ID:            node.Generate(),
			Code:          defaultTierCode,
			Name:          defaultTierName,
			BaseAllowance: defaultTierBaseAllowance,
			AddonUnitSize: defaultTierAddonUnitSize,
			IsDefault:     true,
			Active:        true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return tx.WithContext(ctx).Create(&tier).Error
	})
}
