package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	plantierdomain "github.com/smallbiznis/meterline/internal/plantier/domain"
	"github.com/smallbiznis/meterline/pkg/db"
	"github.com/smallbiznis/meterline/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	tierRepo repository.Repository[plantierdomain.PlanTier]
}

func NewService(p ServiceParam) plantierdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("plantier.service"),

		genID:    p.GenID,
		tierRepo: repository.ProvideStore[plantierdomain.PlanTier](p.DB),
	}
}

func (s *Service) WithTx(tx *gorm.DB) plantierdomain.Service {
	return &Service{
		db:  tx,
		log: s.log,

		genID:    s.genID,
		tierRepo: s.tierRepo.WithTrx(tx),
	}
}

func (s *Service) List(ctx context.Context) ([]plantierdomain.PlanTier, error) {
	items, err := s.tierRepo.Find(ctx, &plantierdomain.PlanTier{})
	if err != nil {
		return nil, err
	}
	tiers := make([]plantierdomain.PlanTier, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		tiers = append(tiers, *item)
	}
	return tiers, nil
}

func (s *Service) Create(ctx context.Context, req plantierdomain.CreateRequest) (*plantierdomain.PlanTier, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, plantierdomain.ErrInvalidCode
	}
	if req.BaseAllowance < 0 || req.AddonUnitSize < 0 {
		return nil, plantierdomain.ErrInvalidAllowance
	}

	tier := &plantierdomain.PlanTier{
		ID:               s.genID.Generate(),
		Code:             code,
		Name:             strings.TrimSpace(req.Name),
		BaseAllowance:    req.BaseAllowance,
		AddonUnitSize:    req.AddonUnitSize,
		ProviderPriceRef: strings.TrimSpace(req.ProviderPriceRef),
		IsDefault:        req.IsDefault,
		Active:           true,
	}
	if tier.Name == "" {
		tier.Name = code
	}

	if err := s.tierRepo.Create(ctx, tier); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, plantierdomain.ErrDuplicateCode
		}
		return nil, err
	}
	return tier, nil
}

func (s *Service) Update(ctx context.Context, req plantierdomain.UpdateRequest) (*plantierdomain.PlanTier, error) {
	tier, err := s.GetByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.BaseAllowance != nil {
		if *req.BaseAllowance < 0 {
			return nil, plantierdomain.ErrInvalidAllowance
		}
		updates["base_allowance"] = *req.BaseAllowance
	}
	if req.AddonUnitSize != nil {
		if *req.AddonUnitSize < 0 {
			return nil, plantierdomain.ErrInvalidAllowance
		}
		updates["addon_unit_size"] = *req.AddonUnitSize
	}
	if req.ProviderPriceRef != nil {
		updates["provider_price_ref"] = strings.TrimSpace(*req.ProviderPriceRef)
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) == 0 {
		return tier, nil
	}

	if err := s.tierRepo.Update(ctx, tier.ID.String(), updates); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, req.ID)
}

// Delete is rejected while the tier is referenced by any live subscription
// record or any usage period row; history stays queryable so the tier must
// stay resolvable.
func (s *Service) Delete(ctx context.Context, id string) error {
	tier, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	var refs int64
	err = s.db.WithContext(ctx).Raw(
		`SELECT (SELECT COUNT(1) FROM subscription_records WHERE plan_tier_id = ? AND status NOT IN ('none', 'canceled', 'expired'))
		      + (SELECT COUNT(1) FROM usage_periods WHERE plan_tier_id = ?)`,
		tier.ID, tier.ID,
	).Scan(&refs).Error
	if err != nil {
		return err
	}
	if refs > 0 {
		return plantierdomain.ErrTierInUse
	}

	return s.tierRepo.Delete(ctx, tier.ID.String())
}

func (s *Service) GetByID(ctx context.Context, id string) (*plantierdomain.PlanTier, error) {
	tierID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || tierID == 0 {
		return nil, plantierdomain.ErrInvalidTierID
	}

	tier, err := s.tierRepo.FindOne(ctx, &plantierdomain.PlanTier{ID: tierID})
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, plantierdomain.ErrTierNotFound
	}
	return tier, nil
}

func (s *Service) GetDefault(ctx context.Context) (*plantierdomain.PlanTier, error) {
	tier, err := s.tierRepo.FindOne(ctx, &plantierdomain.PlanTier{IsDefault: true, Active: true})
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, plantierdomain.ErrNoDefaultTier
	}
	return tier, nil
}

// ResolveByPriceRef maps a provider price reference to a tier, degrading to
// the default tier when no match exists. The warning is the operator's only
// signal that the catalog is out of sync with the provider.
func (s *Service) ResolveByPriceRef(ctx context.Context, priceRef string) (*plantierdomain.PlanTier, error) {
	priceRef = strings.TrimSpace(priceRef)
	if priceRef != "" {
		tier, err := s.tierRepo.FindOne(ctx, &plantierdomain.PlanTier{ProviderPriceRef: priceRef})
		if err != nil {
			return nil, err
		}
		if tier != nil {
			return tier, nil
		}
	}

	s.log.Warn("unresolvable provider price ref, falling back to default tier",
		zap.String("provider_price_ref", priceRef),
	)
	return s.GetDefault(ctx)
}
