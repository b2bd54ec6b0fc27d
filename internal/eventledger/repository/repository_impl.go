package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterline/internal/eventledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	genID *snowflake.Node
}

func New(genID *snowflake.Node) domain.Repository {
	return &repository{genID: genID}
}

func (r *repository) Exists(ctx context.Context, db *gorm.DB, providerEventID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.ProviderEvent{}).
		Where("provider_event_id = ?", providerEventID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) Record(ctx context.Context, db *gorm.DB, providerEventID, eventType string, processedAt time.Time) (bool, error) {
	row := domain.ProviderEvent{
		ID:              r.genID.Generate(),
		ProviderEventID: providerEventID,
		EventType:       eventType,
		ProcessedAt:     processedAt.UTC(),
	}

	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(&row)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
