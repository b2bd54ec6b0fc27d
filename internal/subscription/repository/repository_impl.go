package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	"gorm.io/gorm"
)

type repository struct{}

func New() subscriptiondomain.Repository {
	return &repository{}
}

func (r *repository) FindByEntityID(ctx context.Context, db *gorm.DB, entityID string) (*subscriptiondomain.SubscriptionRecord, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, subscriptiondomain.ErrInvalidEntityID
	}

	var record subscriptiondomain.SubscriptionRecord
	err := db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Upsert keys on entity_id. Writes carrying an older period_start than the
// stored row are merge-ignored: provider events are delivered at least once
// and out of order, and the payload period is the only ordering signal.
func (r *repository) Upsert(ctx context.Context, db *gorm.DB, record *subscriptiondomain.SubscriptionRecord) (*subscriptiondomain.SubscriptionRecord, error) {
	if record == nil {
		return nil, errors.New("missing_subscription_record")
	}
	record.EntityID = strings.TrimSpace(record.EntityID)
	if record.EntityID == "" {
		return nil, subscriptiondomain.ErrInvalidEntityID
	}

	existing, err := r.FindByEntityID(ctx, db, record.EntityID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if existing == nil {
		record.CreatedAt = now
		record.UpdatedAt = now
		if err := db.WithContext(ctx).Create(record).Error; err != nil {
			return nil, err
		}
		return record, nil
	}

	if existing.PeriodStart.After(record.PeriodStart) {
		return existing, nil
	}

	updates := map[string]any{
		"provider_subscription_ref": record.ProviderSubscriptionRef,
		"status":                    record.Status,
		"plan_tier_id":              record.PlanTierID,
		"seat_quantity":             record.SeatQuantity,
		"addon_quantity":            record.AddonQuantity,
		"period_start":              record.PeriodStart,
		"period_end":                record.PeriodEnd,
		"cancel_at_period_end":      record.CancelAtPeriodEnd,
		"trial_end":                 record.TrialEnd,
		"updated_at":                now,
	}
	if record.GrantedBy != nil {
		updates["granted_by"] = record.GrantedBy
		updates["granted_at"] = record.GrantedAt
	}

	err = db.WithContext(ctx).
		Model(&subscriptiondomain.SubscriptionRecord{}).
		Where("entity_id = ?", record.EntityID).
		Updates(updates).Error
	if err != nil {
		return nil, err
	}
	return r.FindByEntityID(ctx, db, record.EntityID)
}

func (r *repository) UpdateStatus(ctx context.Context, db *gorm.DB, entityID string, status subscriptiondomain.Status) error {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return subscriptiondomain.ErrInvalidEntityID
	}

	result := db.WithContext(ctx).
		Model(&subscriptiondomain.SubscriptionRecord{}).
		Where("entity_id = ?", entityID).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	return nil
}

func (r *repository) UpdateAddonQuantity(ctx context.Context, db *gorm.DB, entityID string, quantity int64) error {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return subscriptiondomain.ErrInvalidEntityID
	}

	result := db.WithContext(ctx).
		Model(&subscriptiondomain.SubscriptionRecord{}).
		Where("entity_id = ?", entityID).
		Updates(map[string]any{
			"addon_quantity": quantity,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	return nil
}
