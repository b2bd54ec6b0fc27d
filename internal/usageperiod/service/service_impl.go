package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/observability/metrics"
	plantierdomain "github.com/smallbiznis/meterline/internal/plantier/domain"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	usageperioddomain "github.com/smallbiznis/meterline/internal/usageperiod/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    usageperioddomain.Repository
	SubRepo subscriptiondomain.Repository
	TierSvc plantierdomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock   clock.Clock
	repo    usageperioddomain.Repository
	subRepo subscriptiondomain.Repository
	tierSvc plantierdomain.Service
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) usageperioddomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usageperiod.service"),

		clock:   p.Clock,
		repo:    p.Repo,
		subRepo: p.SubRepo,
		tierSvc: p.TierSvc,
		metrics: p.Metrics,
	}
}

func (s *Service) TryConsume(ctx context.Context, entityID string) (usageperioddomain.ConsumeResult, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return usageperioddomain.ConsumeResult{}, usageperioddomain.ErrInvalidEntityID
	}

	now := s.clock.Now()
	row, allowed, err := s.repo.TryConsume(ctx, s.db, entityID, now)
	if err != nil {
		return usageperioddomain.ConsumeResult{}, err
	}

	if row != nil {
		result := usageperioddomain.ConsumeResult{
			Allowed:   allowed,
			Consumed:  row.Consumed,
			Allowance: row.Allowance(),
			PeriodEnd: row.PeriodEnd,
		}
		s.recordDecision(allowed)
		return result, nil
	}

	// No ledger row covers now (e.g. a never-synced trial). Synthesize the
	// allowance from the subscription record instead of failing closed.
	// This path never writes a row: only the reconciler's Ensure may
	// create one, so a lazy write here can't race it into divergent
	// allowances.
	synth, err := s.synthesize(ctx, entityID, now)
	if err != nil {
		return usageperioddomain.ConsumeResult{}, err
	}

	result := usageperioddomain.ConsumeResult{
		Allowed:     synth.Allowance > 0,
		Consumed:    1,
		Allowance:   synth.Allowance,
		PeriodEnd:   synth.PeriodEnd,
		Synthesized: true,
	}
	if !result.Allowed {
		result.Consumed = 0
	}
	s.log.Warn("consume admitted against synthesized allowance; no ledger row for current period",
		zap.String("entity_id", entityID),
	)
	s.recordDecision(result.Allowed)
	return result, nil
}

func (s *Service) GetCurrentUsage(ctx context.Context, entityID string) (usageperioddomain.Usage, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return usageperioddomain.Usage{}, usageperioddomain.ErrInvalidEntityID
	}

	now := s.clock.Now()
	row, err := s.repo.FindCurrent(ctx, s.db, entityID, now)
	if err != nil {
		return usageperioddomain.Usage{}, err
	}
	if row != nil {
		return usageperioddomain.Usage{
			Consumed:  row.Consumed,
			Allowance: row.Allowance(),
			PeriodEnd: row.PeriodEnd,
		}, nil
	}

	synth, err := s.synthesize(ctx, entityID, now)
	if err != nil {
		return usageperioddomain.Usage{}, err
	}
	return usageperioddomain.Usage{
		Consumed:  0,
		Allowance: synth.Allowance,
		PeriodEnd: synth.PeriodEnd,
	}, nil
}

// ApplyTierToActiveUsers recomputes both allowance columns on every
// current-period row referencing the tier from the row owner's seat and
// add-on quantities. Consumed is untouched.
func (s *Service) ApplyTierToActiveUsers(ctx context.Context, tierID string) (int64, error) {
	tier, err := s.tierSvc.GetByID(ctx, tierID)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	var rows []usageperioddomain.UsagePeriod
	err = s.db.WithContext(ctx).
		Where("plan_tier_id = ? AND period_start <= ? AND period_end > ?", tier.ID, now, now).
		Find(&rows).Error
	if err != nil {
		return 0, err
	}

	var updated int64
	for i := range rows {
		row := rows[i]
		sub, err := s.subRepo.FindByEntityID(ctx, s.db, row.EntityID)
		if err != nil {
			return updated, err
		}
		seats, addons := int64(1), int64(0)
		if sub != nil {
			seats, addons = sub.SeatQuantity, sub.AddonQuantity
		}
		if seats < 1 {
			seats = 1
		}

		err = s.repo.Ensure(ctx, s.db, usageperioddomain.EnsureParams{
			EntityID:       row.EntityID,
			PeriodStart:    row.PeriodStart,
			PeriodEnd:      row.PeriodEnd,
			BaseAllowance:  tier.BaseAllowance * seats,
			AddonAllowance: tier.AddonUnitSize * addons,
			PlanTierID:     tier.ID,
		})
		if err != nil {
			return updated, err
		}
		updated++
	}

	s.log.Info("applied tier allowances to current-period rows",
		zap.String("tier_id", tier.ID.String()),
		zap.Int64("rows", updated),
	)
	return updated, nil
}

type synthesized struct {
	Allowance int64
	PeriodEnd time.Time
}

func (s *Service) synthesize(ctx context.Context, entityID string, now time.Time) (synthesized, error) {
	sub, err := s.subRepo.FindByEntityID(ctx, s.db, entityID)
	if err != nil {
		return synthesized{}, err
	}
	if sub == nil || !sub.Status.Live() {
		return synthesized{}, usageperioddomain.ErrNoEntitlement
	}
	if !sub.PeriodEnd.After(now) {
		return synthesized{}, usageperioddomain.ErrNoEntitlement
	}

	tier, err := s.resolveTier(ctx, sub.PlanTierID)
	if err != nil {
		return synthesized{}, err
	}

	seats := sub.SeatQuantity
	if seats < 1 {
		seats = 1
	}
	return synthesized{
		Allowance: tier.BaseAllowance*seats + tier.AddonUnitSize*sub.AddonQuantity,
		PeriodEnd: sub.PeriodEnd,
	}, nil
}

func (s *Service) resolveTier(ctx context.Context, tierID snowflake.ID) (*plantierdomain.PlanTier, error) {
	if tierID != 0 {
		tier, err := s.tierSvc.GetByID(ctx, tierID.String())
		if err == nil {
			return tier, nil
		}
	}
	return s.tierSvc.GetDefault(ctx)
}

func (s *Service) recordDecision(allowed bool) {
	if s.metrics == nil {
		return
	}
	if allowed {
		s.metrics.RecordConsume("allowed")
		return
	}
	s.metrics.RecordConsume("denied")
}
