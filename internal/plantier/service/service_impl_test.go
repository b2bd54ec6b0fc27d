package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	plantierdomain "github.com/smallbiznis/meterline/internal/plantier/domain"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	usageperioddomain "github.com/smallbiznis/meterline/internal/usageperiod/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T) (plantierdomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// Each :memory: connection is its own database; keep the pool at one.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&plantierdomain.PlanTier{},
		&subscriptiondomain.SubscriptionRecord{},
		&usageperioddomain.UsagePeriod{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
	return svc, db, node
}

func TestCreateTier(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	tier, err := svc.Create(ctx, plantierdomain.CreateRequest{
		Code:             "pro",
		Name:             "Pro",
		BaseAllowance:    100,
		AddonUnitSize:    25,
		ProviderPriceRef: "price_pro",
	})
	require.NoError(t, err)
	assert.Equal(t, "pro", tier.Code)
	assert.True(t, tier.Active)

	_, err = svc.Create(ctx, plantierdomain.CreateRequest{Code: "pro", BaseAllowance: 50})
	assert.ErrorIs(t, err, plantierdomain.ErrDuplicateCode)

	_, err = svc.Create(ctx, plantierdomain.CreateRequest{Code: "  ", BaseAllowance: 50})
	assert.ErrorIs(t, err, plantierdomain.ErrInvalidCode)

	_, err = svc.Create(ctx, plantierdomain.CreateRequest{Code: "bad", BaseAllowance: -1})
	assert.ErrorIs(t, err, plantierdomain.ErrInvalidAllowance)
}

func TestUpdateTier(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	tier, err := svc.Create(ctx, plantierdomain.CreateRequest{Code: "pro", BaseAllowance: 100})
	require.NoError(t, err)

	allowance := int64(200)
	name := "Pro Plus"
	updated, err := svc.Update(ctx, plantierdomain.UpdateRequest{
		ID:            tier.ID.String(),
		Name:          &name,
		BaseAllowance: &allowance,
	})
	require.NoError(t, err)
	assert.Equal(t, "Pro Plus", updated.Name)
	assert.Equal(t, int64(200), updated.BaseAllowance)
	assert.Equal(t, "pro", updated.Code)
}

func TestDeleteTierInUse(t *testing.T) {
	svc, db, node := newService(t)
	ctx := context.Background()

	tier, err := svc.Create(ctx, plantierdomain.CreateRequest{Code: "pro", BaseAllowance: 100})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, db.Create(&subscriptiondomain.SubscriptionRecord{
		ID:           node.Generate(),
		EntityID:     "ent_1",
		Status:       subscriptiondomain.StatusActive,
		PlanTierID:   tier.ID,
		SeatQuantity: 1,
		PeriodStart:  now,
		PeriodEnd:    now.AddDate(0, 1, 0),
	}).Error)

	err = svc.Delete(ctx, tier.ID.String())
	assert.ErrorIs(t, err, plantierdomain.ErrTierInUse)

	// Once the subscription is no longer live the tier can go, provided no
	// usage period row references it either.
	require.NoError(t, db.Model(&subscriptiondomain.SubscriptionRecord{}).
		Where("entity_id = ?", "ent_1").
		Update("status", subscriptiondomain.StatusCanceled).Error)
	require.NoError(t, svc.Delete(ctx, tier.ID.String()))

	_, err = svc.GetByID(ctx, tier.ID.String())
	assert.ErrorIs(t, err, plantierdomain.ErrTierNotFound)
}

func TestDeleteTierWithUsageHistory(t *testing.T) {
	svc, db, node := newService(t)
	ctx := context.Background()

	tier, err := svc.Create(ctx, plantierdomain.CreateRequest{Code: "pro", BaseAllowance: 100})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, db.Create(&usageperioddomain.UsagePeriod{
		ID:            node.Generate(),
		EntityID:      "ent_1",
		PeriodStart:   now.AddDate(0, -1, 0),
		PeriodEnd:     now,
		Consumed:      12,
		BaseAllowance: 100,
		PlanTierID:    tier.ID,
	}).Error)

	err = svc.Delete(ctx, tier.ID.String())
	assert.ErrorIs(t, err, plantierdomain.ErrTierInUse)
}

func TestGetDefault(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.GetDefault(ctx)
	assert.ErrorIs(t, err, plantierdomain.ErrNoDefaultTier)

	_, err = svc.Create(ctx, plantierdomain.CreateRequest{
		Code:          "standard",
		BaseAllowance: 30,
		IsDefault:     true,
	})
	require.NoError(t, err)

	tier, err := svc.GetDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "standard", tier.Code)
}

func TestResolveByPriceRef(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, plantierdomain.CreateRequest{
		Code:          "standard",
		BaseAllowance: 30,
		IsDefault:     true,
	})
	require.NoError(t, err)
	pro, err := svc.Create(ctx, plantierdomain.CreateRequest{
		Code:             "pro",
		BaseAllowance:    100,
		ProviderPriceRef: "price_pro",
	})
	require.NoError(t, err)

	tier, err := svc.ResolveByPriceRef(ctx, "price_pro")
	require.NoError(t, err)
	assert.Equal(t, pro.ID, tier.ID)

	// Unknown refs degrade to the default tier rather than failing the event.
	tier, err = svc.ResolveByPriceRef(ctx, "price_unmapped")
	require.NoError(t, err)
	assert.Equal(t, "standard", tier.Code)

	tier, err = svc.ResolveByPriceRef(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "standard", tier.Code)
}

func TestWithTxScopesQueriesToTransaction(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()

	sentinel := errors.New("rollback")
	err := db.Transaction(func(tx *gorm.DB) error {
		txSvc := svc.WithTx(tx)
		if _, err := txSvc.Create(ctx, plantierdomain.CreateRequest{
			Code:          "tmp",
			BaseAllowance: 10,
			IsDefault:     true,
		}); err != nil {
			return err
		}

		// Resolution inside the transaction sees the uncommitted tier.
		tier, err := txSvc.ResolveByPriceRef(ctx, "price_unmapped")
		if err != nil {
			return err
		}
		assert.Equal(t, "tmp", tier.Code)
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	tiers, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, tiers)
}

func TestGetByIDValidation(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.GetByID(context.Background(), "not-a-snowflake")
	assert.ErrorIs(t, err, plantierdomain.ErrInvalidTierID)
}
