package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/observability/metrics"
	plantierdomain "github.com/smallbiznis/meterline/internal/plantier/domain"
	billingdomain "github.com/smallbiznis/meterline/internal/providers/billing/domain"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	"github.com/smallbiznis/meterline/internal/trial/domain"
	usageperioddomain "github.com/smallbiznis/meterline/internal/usageperiod/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultTrialDays = 14
	maxTrialDays     = 730
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	SubRepo  subscriptiondomain.Repository
	Usage    usageperioddomain.Repository
	TierSvc  plantierdomain.Service
	Provider billingdomain.Client
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	subRepo  subscriptiondomain.Repository
	usage    usageperioddomain.Repository
	tierSvc  plantierdomain.Service
	provider billingdomain.Client
	metrics  *metrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("trial.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		subRepo:  p.SubRepo,
		usage:    p.Usage,
		tierSvc:  p.TierSvc,
		provider: p.Provider,
		metrics:  p.Metrics,
	}
}

func (s *Service) Grant(ctx context.Context, req domain.GrantRequest) (*domain.Grant, error) {
	entityID := strings.TrimSpace(req.EntityID)
	if entityID == "" {
		return nil, domain.ErrInvalidEntityID
	}

	days := req.DurationDays
	if days == 0 {
		days = defaultTrialDays
	}
	if days < 1 || days > maxTrialDays {
		return nil, domain.ErrInvalidDuration
	}

	existing, err := s.subRepo.FindByEntityID(ctx, s.db, entityID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status.Live() {
		return nil, domain.ErrAlreadySubscribed
	}

	tier, err := s.tierSvc.GetDefault(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	trialEnd := now.Add(time.Duration(days) * 24 * time.Hour)

	providerSub, err := s.provider.CreateTrialSubscription(ctx, billingdomain.CreateTrialRequest{
		EntityID: entityID,
		PriceRef: tier.ProviderPriceRef,
		TrialEnd: trialEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderCallFailed, err)
	}
	if providerSub.TrialEnd.After(now) {
		trialEnd = providerSub.TrialEnd
	}

	grantedBy := strings.TrimSpace(req.GrantedBy)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := &subscriptiondomain.SubscriptionRecord{
			ID:                      s.genID.Generate(),
			EntityID:                entityID,
			ProviderSubscriptionRef: providerSub.Ref,
			Status:                  subscriptiondomain.StatusTrialing,
			PlanTierID:              tier.ID,
			SeatQuantity:            1,
			AddonQuantity:           0,
			PeriodStart:             now,
			PeriodEnd:               trialEnd,
			TrialEnd:                &trialEnd,
			GrantedAt:               &now,
		}
		if grantedBy != "" {
			record.GrantedBy = &grantedBy
		}

		stored, err := s.subRepo.Upsert(ctx, tx, record)
		if err != nil {
			return err
		}

		return s.usage.Ensure(ctx, tx, usageperioddomain.EnsureParams{
			EntityID:       stored.EntityID,
			PeriodStart:    stored.PeriodStart,
			PeriodEnd:      stored.PeriodEnd,
			BaseAllowance:  tier.BaseAllowance,
			AddonAllowance: 0,
			PlanTierID:     tier.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("trial granted",
		zap.String("entity_id", entityID),
		zap.String("granted_by", grantedBy),
		zap.Time("trial_end", trialEnd),
		zap.String("provider_subscription_ref", providerSub.Ref),
	)
	if s.metrics != nil {
		s.metrics.RecordTrialGrant()
	}

	return &domain.Grant{
		EntityID:                entityID,
		ProviderSubscriptionRef: providerSub.Ref,
		TrialEnd:                trialEnd,
		BaseAllowance:           tier.BaseAllowance,
	}, nil
}

func (s *Service) Revoke(ctx context.Context, req domain.RevokeRequest) (*subscriptiondomain.SubscriptionRecord, error) {
	entityID := strings.TrimSpace(req.EntityID)
	if entityID == "" {
		return nil, domain.ErrInvalidEntityID
	}

	record, err := s.subRepo.FindByEntityID(ctx, s.db, entityID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if record.Status != subscriptiondomain.StatusTrialing {
		return nil, domain.ErrNotTrialing
	}

	if record.ProviderSubscriptionRef != "" {
		if err := s.provider.CancelSubscription(ctx, record.ProviderSubscriptionRef); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrProviderCallFailed, err)
		}
	}

	if err := s.subRepo.UpdateStatus(ctx, s.db, entityID, subscriptiondomain.StatusExpired); err != nil {
		return nil, err
	}

	s.log.Info("trial revoked",
		zap.String("entity_id", entityID),
		zap.String("revoked_by", strings.TrimSpace(req.RevokedBy)),
	)

	return s.subRepo.FindByEntityID(ctx, s.db, entityID)
}
