package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/meterline/internal/clock"
	eventledgerdomain "github.com/smallbiznis/meterline/internal/eventledger/domain"
	eventledgerrepo "github.com/smallbiznis/meterline/internal/eventledger/repository"
	plantierdomain "github.com/smallbiznis/meterline/internal/plantier/domain"
	plantierservice "github.com/smallbiznis/meterline/internal/plantier/service"
	"github.com/smallbiznis/meterline/internal/reconciler/domain"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/meterline/internal/subscription/repository"
	usageperioddomain "github.com/smallbiznis/meterline/internal/usageperiod/domain"
	usageperiodrepo "github.com/smallbiznis/meterline/internal/usageperiod/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	svc   domain.Service
	clock *clock.FakeClock
	tier  plantierdomain.PlanTier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// Each :memory: connection is its own database; capping the pool at one
	// connection makes any query that escapes the transaction fail loudly.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&plantierdomain.PlanTier{},
		&subscriptiondomain.SubscriptionRecord{},
		&usageperioddomain.UsagePeriod{},
		&eventledgerdomain.ProviderEvent{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	fakeClock := clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	tier := plantierdomain.PlanTier{
		ID:               node.Generate(),
		Code:             "standard",
		Name:             "Standard",
		BaseAllowance:    30,
		AddonUnitSize:    20,
		ProviderPriceRef: "price_standard",
		IsDefault:        true,
		Active:           true,
	}
	require.NoError(t, db.Create(&tier).Error)

	tierSvc := plantierservice.NewService(plantierservice.ServiceParam{
		DB:    db,
		Log:   log,
		GenID: node,
	})

	svc := NewService(ServiceParam{
		DB:      db,
		Log:     log,
		GenID:   node,
		Clock:   fakeClock,
		Ledger:  eventledgerrepo.New(node),
		SubRepo: subscriptionrepo.New(),
		Usage:   usageperiodrepo.New(node),
		TierSvc: tierSvc,
	})

	return &fixture{db: db, svc: svc, clock: fakeClock, tier: tier}
}

func subscriptionEvent(id string, eventType domain.EventType, periodStart, periodEnd time.Time) domain.Event {
	return domain.Event{
		ID:   id,
		Type: eventType,
		Payload: domain.EventPayload{
			EntityID:                "ent_1",
			ProviderSubscriptionRef: "sub_1",
			PriceRef:                "price_standard",
			Status:                  "active",
			SeatQuantity:            1,
			PeriodStart:             periodStart.Unix(),
			PeriodEnd:               periodEnd.Unix(),
		},
	}
}

func TestHandleSubscriptionCreated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clock.Now().Add(-time.Hour)
	end := start.AddDate(0, 1, 0)
	err := f.svc.Handle(ctx, subscriptionEvent("evt_1", domain.EventSubscriptionCreated, start, end))
	require.NoError(t, err)

	var record subscriptiondomain.SubscriptionRecord
	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").First(&record).Error)
	assert.Equal(t, subscriptiondomain.StatusActive, record.Status)
	assert.Equal(t, "sub_1", record.ProviderSubscriptionRef)
	assert.Equal(t, f.tier.ID, record.PlanTierID)

	var period usageperioddomain.UsagePeriod
	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").First(&period).Error)
	assert.Equal(t, int64(0), period.Consumed)
	assert.Equal(t, int64(30), period.BaseAllowance)

	var ledger eventledgerdomain.ProviderEvent
	require.NoError(t, f.db.Where("provider_event_id = ?", "evt_1").First(&ledger).Error)
}

func TestHandleCheckoutCompletedWithoutPeriodIsAcked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.Handle(ctx, domain.Event{
		ID:   "evt_cs",
		Type: domain.EventCheckoutCompleted,
		Payload: domain.EventPayload{
			EntityID:                "ent_1",
			ProviderSubscriptionRef: "sub_1",
		},
	})
	require.NoError(t, err)

	// Acked and ledgered; the record arrives with the subscription events.
	var ledgerCount int64
	require.NoError(t, f.db.Model(&eventledgerdomain.ProviderEvent{}).Count(&ledgerCount).Error)
	assert.Equal(t, int64(1), ledgerCount)

	var subCount int64
	require.NoError(t, f.db.Model(&subscriptiondomain.SubscriptionRecord{}).Count(&subCount).Error)
	assert.Equal(t, int64(0), subCount)

	start := f.clock.Now().Add(-time.Hour)
	end := start.AddDate(0, 1, 0)
	require.NoError(t, f.svc.Handle(ctx, subscriptionEvent("evt_sub", domain.EventSubscriptionCreated, start, end)))

	var record subscriptiondomain.SubscriptionRecord
	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").First(&record).Error)
	assert.Equal(t, subscriptiondomain.StatusActive, record.Status)
}

func TestHandleCheckoutCompletedWithPeriodAppliesState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clock.Now().Add(-time.Hour)
	end := start.AddDate(0, 1, 0)
	require.NoError(t, f.svc.Handle(ctx, subscriptionEvent("evt_cs", domain.EventCheckoutCompleted, start, end)))

	var record subscriptiondomain.SubscriptionRecord
	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").First(&record).Error)
	assert.Equal(t, "sub_1", record.ProviderSubscriptionRef)

	var period usageperioddomain.UsagePeriod
	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").First(&period).Error)
	assert.Equal(t, int64(30), period.BaseAllowance)
}

func TestHandleDuplicateEventIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clock.Now().Add(-time.Hour)
	end := start.AddDate(0, 1, 0)
	event := subscriptionEvent("evt_dup", domain.EventSubscriptionCreated, start, end)
	require.NoError(t, f.svc.Handle(ctx, event))

	// Consume a few units so a replay would be visible as a reset.
	require.NoError(t, f.db.Model(&usageperioddomain.UsagePeriod{}).
		Where("entity_id = ?", "ent_1").
		Update("consumed", 5).Error)

	require.NoError(t, f.svc.Handle(ctx, event))

	var period usageperioddomain.UsagePeriod
	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").First(&period).Error)
	assert.Equal(t, int64(5), period.Consumed)

	var count int64
	require.NoError(t, f.db.Model(&subscriptiondomain.SubscriptionRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestHandleOutOfOrderEventsConverge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	newStart := f.clock.Now().Add(-time.Hour)
	newEnd := newStart.AddDate(0, 1, 0)
	require.NoError(t, f.svc.Handle(ctx, subscriptionEvent("evt_new", domain.EventSubscriptionUpdated, newStart, newEnd)))

	// A delayed delivery carrying the previous billing period arrives
	// afterwards and must not regress the stored state.
	oldStart := newStart.AddDate(0, -1, 0)
	stale := subscriptionEvent("evt_old", domain.EventSubscriptionUpdated, oldStart, newStart)
	stale.Payload.Status = "trialing"
	require.NoError(t, f.svc.Handle(ctx, stale))

	var record subscriptiondomain.SubscriptionRecord
	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").First(&record).Error)
	assert.Equal(t, subscriptiondomain.StatusActive, record.Status)
	assert.WithinDuration(t, newStart, record.PeriodStart, time.Second)

	// Both events are recorded as processed.
	var count int64
	require.NoError(t, f.db.Model(&eventledgerdomain.ProviderEvent{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestHandlePaymentSucceededCycleRollsPeriodOver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clock.Now().AddDate(0, -1, 0)
	end := f.clock.Now().Add(-time.Hour)
	require.NoError(t, f.svc.Handle(ctx, subscriptionEvent("evt_init", domain.EventSubscriptionCreated, start, end)))

	require.NoError(t, f.db.Model(&usageperioddomain.UsagePeriod{}).
		Where("entity_id = ?", "ent_1").
		Update("consumed", 30).Error)

	renewal := subscriptionEvent("evt_renew", domain.EventPaymentSucceeded, end, end.AddDate(0, 1, 0))
	renewal.Payload.BillingReason = "subscription_cycle"
	require.NoError(t, f.svc.Handle(ctx, renewal))

	var periods []usageperioddomain.UsagePeriod
	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").Order("period_start ASC").Find(&periods).Error)
	require.Len(t, periods, 2)
	assert.Equal(t, int64(30), periods[0].Consumed)
	assert.Equal(t, int64(0), periods[1].Consumed)

	var record subscriptiondomain.SubscriptionRecord
	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").First(&record).Error)
	assert.Equal(t, subscriptiondomain.StatusActive, record.Status)
	assert.WithinDuration(t, end, record.PeriodStart, time.Second)
}

func TestHandleRenewalKeepsSeatsAndAddons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clock.Now().AddDate(0, -1, 0)
	end := f.clock.Now().Add(-time.Hour)
	created := subscriptionEvent("evt_init", domain.EventSubscriptionCreated, start, end)
	created.Payload.SeatQuantity = 3
	created.Payload.AddonQuantity = 2
	require.NoError(t, f.svc.Handle(ctx, created))

	var period usageperioddomain.UsagePeriod
	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").First(&period).Error)
	assert.Equal(t, int64(90), period.BaseAllowance)
	assert.Equal(t, int64(40), period.AddonAllowance)

	// Renewal invoices carry no line-item quantities; the stored record is
	// authoritative for seats and add-ons.
	renewal := domain.Event{
		ID:   "evt_renew",
		Type: domain.EventPaymentSucceeded,
		Payload: domain.EventPayload{
			EntityID:                "ent_1",
			ProviderSubscriptionRef: "sub_1",
			PriceRef:                "price_standard",
			BillingReason:           "subscription_cycle",
			PeriodStart:             end.Unix(),
			PeriodEnd:               end.AddDate(0, 1, 0).Unix(),
		},
	}
	require.NoError(t, f.svc.Handle(ctx, renewal))

	var record subscriptiondomain.SubscriptionRecord
	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").First(&record).Error)
	assert.Equal(t, int64(3), record.SeatQuantity)
	assert.Equal(t, int64(2), record.AddonQuantity)
	assert.WithinDuration(t, end, record.PeriodStart, time.Second)

	var periods []usageperioddomain.UsagePeriod
	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").Order("period_start ASC").Find(&periods).Error)
	require.Len(t, periods, 2)
	assert.Equal(t, int64(90), periods[1].BaseAllowance)
	assert.Equal(t, int64(40), periods[1].AddonAllowance)
	assert.Equal(t, int64(0), periods[1].Consumed)

	// A late redelivery of the previous cycle's renewal changes nothing.
	stale := renewal
	stale.ID = "evt_renew_old"
	stale.Payload.PeriodStart = start.Unix()
	stale.Payload.PeriodEnd = end.Unix()
	require.NoError(t, f.svc.Handle(ctx, stale))

	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").First(&record).Error)
	assert.WithinDuration(t, end, record.PeriodStart, time.Second)
}

func TestHandleDuplicatePaymentSucceededKeepsOnePeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clock.Now().Add(-time.Hour)
	end := start.AddDate(0, 1, 0)
	renewal := subscriptionEvent("evt_pay", domain.EventPaymentSucceeded, start, end)
	renewal.Payload.BillingReason = "subscription_cycle"

	require.NoError(t, f.svc.Handle(ctx, renewal))
	require.NoError(t, f.svc.Handle(ctx, renewal))

	var count int64
	require.NoError(t, f.db.Model(&usageperioddomain.UsagePeriod{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestHandlePaymentFailedMarksPastDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clock.Now().Add(-time.Hour)
	end := start.AddDate(0, 1, 0)
	require.NoError(t, f.svc.Handle(ctx, subscriptionEvent("evt_1", domain.EventSubscriptionCreated, start, end)))

	failed := domain.Event{
		ID:   "evt_fail",
		Type: domain.EventPaymentFailed,
		Payload: domain.EventPayload{
			EntityID: "ent_1",
		},
	}
	require.NoError(t, f.svc.Handle(ctx, failed))

	var record subscriptiondomain.SubscriptionRecord
	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").First(&record).Error)
	assert.Equal(t, subscriptiondomain.StatusPastDue, record.Status)
	// Past due keeps the current period open; consumption continues until
	// deletion arrives.
	assert.True(t, record.Status.Live())
}

func TestHandleSubscriptionDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clock.Now().Add(-time.Hour)
	end := start.AddDate(0, 1, 0)
	require.NoError(t, f.svc.Handle(ctx, subscriptionEvent("evt_1", domain.EventSubscriptionCreated, start, end)))

	deleted := domain.Event{
		ID:   "evt_del",
		Type: domain.EventSubscriptionDeleted,
		Payload: domain.EventPayload{
			EntityID: "ent_1",
		},
	}
	require.NoError(t, f.svc.Handle(ctx, deleted))

	var record subscriptiondomain.SubscriptionRecord
	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").First(&record).Error)
	assert.Equal(t, subscriptiondomain.StatusCanceled, record.Status)
}

func TestHandleSubscriptionDeletedExpiresTrial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clock.Now().Add(-time.Hour)
	end := start.AddDate(0, 0, 14)
	event := subscriptionEvent("evt_trial", domain.EventSubscriptionCreated, start, end)
	event.Payload.Status = "trialing"
	require.NoError(t, f.svc.Handle(ctx, event))

	deleted := domain.Event{
		ID:   "evt_del",
		Type: domain.EventSubscriptionDeleted,
		Payload: domain.EventPayload{
			EntityID: "ent_1",
		},
	}
	require.NoError(t, f.svc.Handle(ctx, deleted))

	var record subscriptiondomain.SubscriptionRecord
	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").First(&record).Error)
	assert.Equal(t, subscriptiondomain.StatusExpired, record.Status)
}

func TestHandleUnknownEventTypeIsAcked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.Handle(ctx, domain.Event{
		ID:   "evt_other",
		Type: domain.EventType("customer.updated"),
	})
	require.NoError(t, err)

	// Nothing persisted, not even a ledger row.
	var count int64
	require.NoError(t, f.db.Model(&eventledgerdomain.ProviderEvent{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestHandleUnknownPriceRefFallsBackToDefaultTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clock.Now().Add(-time.Hour)
	end := start.AddDate(0, 1, 0)
	event := subscriptionEvent("evt_1", domain.EventSubscriptionCreated, start, end)
	event.Payload.PriceRef = "price_unmapped"
	require.NoError(t, f.svc.Handle(ctx, event))

	var record subscriptiondomain.SubscriptionRecord
	require.NoError(t, f.db.Where("entity_id = ?", "ent_1").First(&record).Error)
	assert.Equal(t, f.tier.ID, record.PlanTierID)
}

func TestHandleRejectsMissingEventID(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Handle(context.Background(), domain.Event{Type: domain.EventSubscriptionCreated})
	assert.ErrorIs(t, err, domain.ErrMissingEventID)
}

func TestHandleRejectsInvalidPeriod(t *testing.T) {
	f := newFixture(t)

	event := subscriptionEvent("evt_bad", domain.EventSubscriptionCreated, f.clock.Now(), f.clock.Now())
	err := f.svc.Handle(context.Background(), event)
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)

	// A failed event leaves no ledger row so redelivery can succeed later.
	var count int64
	require.NoError(t, f.db.Model(&eventledgerdomain.ProviderEvent{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}
