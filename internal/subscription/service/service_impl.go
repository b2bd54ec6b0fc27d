package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	plantierdomain "github.com/smallbiznis/meterline/internal/plantier/domain"
	billingdomain "github.com/smallbiznis/meterline/internal/providers/billing/domain"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	usageperioddomain "github.com/smallbiznis/meterline/internal/usageperiod/domain"
	"github.com/smallbiznis/meterline/pkg/db/option"
	"github.com/smallbiznis/meterline/pkg/db/pagination"
	"github.com/smallbiznis/meterline/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     subscriptiondomain.Repository
	UsageRep usageperioddomain.Repository
	TierSvc  plantierdomain.Service
	Provider billingdomain.Client
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	repo      subscriptiondomain.Repository
	usageRepo usageperioddomain.Repository
	tierSvc   plantierdomain.Service
	provider  billingdomain.Client

	listRepo repository.Repository[subscriptiondomain.SubscriptionRecord]
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:     p.GenID,
		repo:      p.Repo,
		usageRepo: p.UsageRep,
		tierSvc:   p.TierSvc,
		provider:  p.Provider,

		listRepo: repository.ProvideStore[subscriptiondomain.SubscriptionRecord](p.DB),
	}
}

func (s *Service) GetByEntityID(ctx context.Context, entityID string) (subscriptiondomain.SubscriptionRecord, error) {
	record, err := s.repo.FindByEntityID(ctx, s.db, entityID)
	if err != nil {
		return subscriptiondomain.SubscriptionRecord{}, err
	}
	if record == nil {
		return subscriptiondomain.SubscriptionRecord{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *record, nil
}

func (s *Service) List(ctx context.Context, req subscriptiondomain.ListRequest) (subscriptiondomain.ListResponse, error) {
	filter := &subscriptiondomain.SubscriptionRecord{}

	if status := strings.TrimSpace(req.Status); status != "" {
		parsed := subscriptiondomain.Status(status)
		switch parsed {
		case subscriptiondomain.StatusNone, subscriptiondomain.StatusTrialing,
			subscriptiondomain.StatusActive, subscriptiondomain.StatusPastDue,
			subscriptiondomain.StatusCanceled, subscriptiondomain.StatusExpired:
			filter.Status = parsed
		default:
			return subscriptiondomain.ListResponse{}, subscriptiondomain.ErrInvalidStatus
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.listRepo.Find(ctx, filter,
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
		option.WithSortBy(option.WithQuerySortBy("created_at", "desc", map[string]bool{"created_at": true})),
	)
	if err != nil {
		return subscriptiondomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *subscriptiondomain.SubscriptionRecord) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	records := make([]subscriptiondomain.SubscriptionRecord, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}

	resp := subscriptiondomain.ListResponse{Subscriptions: records}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// SetAddonQuantity orders its side effects so a provider failure leaves no
// local trace: line-item update at the provider first, then the record and
// the current period's addon allowance in one transaction.
func (s *Service) SetAddonQuantity(ctx context.Context, req subscriptiondomain.SetAddonQuantityRequest) (subscriptiondomain.SubscriptionRecord, error) {
	if req.Quantity < 0 {
		return subscriptiondomain.SubscriptionRecord{}, subscriptiondomain.ErrInvalidQuantity
	}

	record, err := s.GetByEntityID(ctx, req.EntityID)
	if err != nil {
		return subscriptiondomain.SubscriptionRecord{}, err
	}
	if !record.Status.Live() {
		return subscriptiondomain.SubscriptionRecord{}, subscriptiondomain.ErrSubscriptionNotLive
	}
	if record.ProviderSubscriptionRef == "" {
		return subscriptiondomain.SubscriptionRecord{}, subscriptiondomain.ErrMissingProviderSubRef
	}

	tier, err := s.tierSvc.GetByID(ctx, record.PlanTierID.String())
	if err != nil {
		return subscriptiondomain.SubscriptionRecord{}, err
	}
	if tier.AddonUnitSize <= 0 {
		return subscriptiondomain.SubscriptionRecord{}, subscriptiondomain.ErrTierHasNoAddon
	}

	if err := s.provider.UpdateAddonQuantity(ctx, record.ProviderSubscriptionRef, tier.ProviderPriceRef, req.Quantity); err != nil {
		return subscriptiondomain.SubscriptionRecord{}, fmt.Errorf("%w: %v", subscriptiondomain.ErrProviderCallFailed, err)
	}

	seats := record.SeatQuantity
	if seats < 1 {
		seats = 1
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpdateAddonQuantity(ctx, tx, record.EntityID, req.Quantity); err != nil {
			return err
		}
		return s.usageRepo.Ensure(ctx, tx, usageperioddomain.EnsureParams{
			EntityID:       record.EntityID,
			PeriodStart:    record.PeriodStart,
			PeriodEnd:      record.PeriodEnd,
			BaseAllowance:  tier.BaseAllowance * seats,
			AddonAllowance: tier.AddonUnitSize * req.Quantity,
			PlanTierID:     tier.ID,
		})
	})
	if err != nil {
		return subscriptiondomain.SubscriptionRecord{}, err
	}

	s.log.Info("addon quantity updated",
		zap.String("entity_id", record.EntityID),
		zap.Int64("quantity", req.Quantity),
	)
	return s.GetByEntityID(ctx, record.EntityID)
}

// ExpireTrialsDue is the scheduler's safety net for provider webhooks that
// never arrived: any trialing record whose trial_end passed flips to
// expired.
func (s *Service) ExpireTrialsDue(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&subscriptiondomain.SubscriptionRecord{}).
		Where("status = ? AND trial_end IS NOT NULL AND trial_end < ?", subscriptiondomain.StatusTrialing, now.UTC()).
		Updates(map[string]any{
			"status":     subscriptiondomain.StatusExpired,
			"updated_at": now.UTC(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Info("expired overdue trials", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}
