package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	usageperioddomain "github.com/smallbiznis/meterline/internal/usageperiod/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	genID *snowflake.Node
}

func New(genID *snowflake.Node) usageperioddomain.Repository {
	return &repository{genID: genID}
}

// Ensure upserts on (entity_id, period_start). The conflict clause updates
// allowance and tier columns only; consumed belongs exclusively to
// TryConsume and must survive any number of Ensure calls.
func (r *repository) Ensure(ctx context.Context, db *gorm.DB, params usageperioddomain.EnsureParams) error {
	entityID := strings.TrimSpace(params.EntityID)
	if entityID == "" {
		return usageperioddomain.ErrInvalidEntityID
	}
	if params.PeriodStart.IsZero() || !params.PeriodEnd.After(params.PeriodStart) {
		return usageperioddomain.ErrInvalidPeriod
	}
	if params.BaseAllowance < 0 || params.AddonAllowance < 0 {
		return usageperioddomain.ErrInvalidAllowance
	}

	now := time.Now().UTC()
	row := &usageperioddomain.UsagePeriod{
		ID:             r.genID.Generate(),
		EntityID:       entityID,
		PeriodStart:    params.PeriodStart.UTC(),
		PeriodEnd:      params.PeriodEnd.UTC(),
		Consumed:       0,
		BaseAllowance:  params.BaseAllowance,
		AddonAllowance: params.AddonAllowance,
		PlanTierID:     params.PlanTierID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity_id"}, {Name: "period_start"}},
		DoUpdates: clause.Assignments(map[string]any{
			"period_end":      row.PeriodEnd,
			"base_allowance":  row.BaseAllowance,
			"addon_allowance": row.AddonAllowance,
			"plan_tier_id":    row.PlanTierID,
			"updated_at":      now,
		}),
	}).Create(row).Error
}

// TryConsume is the quota-critical path: a single conditional UPDATE so two
// concurrent callers can never both pass the allowance check on the same
// row. No explicit lock management; a losing racer simply affects zero
// rows. RETURNING hands back the row exactly as this statement left it, so
// the reported count never includes a concurrent caller's increment.
func (r *repository) TryConsume(ctx context.Context, db *gorm.DB, entityID string, now time.Time) (*usageperioddomain.UsagePeriod, bool, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, false, usageperioddomain.ErrInvalidEntityID
	}

	var row usageperioddomain.UsagePeriod
	result := db.WithContext(ctx).
		Model(&row).
		Clauses(clause.Returning{}).
		Where("entity_id = ? AND period_start <= ? AND period_end > ?", entityID, now, now).
		Where("consumed < base_allowance + addon_allowance").
		Updates(map[string]any{
			"consumed":   gorm.Expr("consumed + 1"),
			"updated_at": now.UTC(),
		})
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected > 0 {
		if row.ID != 0 {
			return &row, true, nil
		}
		// Dialects without RETURNING (mysql) leave the row unpopulated.
		current, err := r.FindCurrent(ctx, db, entityID, now)
		if err != nil {
			return nil, false, err
		}
		return current, true, nil
	}

	// Denied or no current-period row; read whichever it is for the
	// response.
	denied, err := r.FindCurrent(ctx, db, entityID, now)
	if err != nil {
		return nil, false, err
	}
	if denied == nil {
		return nil, false, nil
	}
	return denied, false, nil
}

func (r *repository) FindCurrent(ctx context.Context, db *gorm.DB, entityID string, now time.Time) (*usageperioddomain.UsagePeriod, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, usageperioddomain.ErrInvalidEntityID
	}

	var row usageperioddomain.UsagePeriod
	err := db.WithContext(ctx).
		Where("entity_id = ? AND period_start <= ? AND period_end > ?", entityID, now, now).
		Order("period_start DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindAll(ctx context.Context, db *gorm.DB, entityID string) ([]usageperioddomain.UsagePeriod, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, usageperioddomain.ErrInvalidEntityID
	}

	var rows []usageperioddomain.UsagePeriod
	err := db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("period_start DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
