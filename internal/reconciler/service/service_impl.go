package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterline/internal/clock"
	eventledgerdomain "github.com/smallbiznis/meterline/internal/eventledger/domain"
	"github.com/smallbiznis/meterline/internal/observability/metrics"
	plantierdomain "github.com/smallbiznis/meterline/internal/plantier/domain"
	"github.com/smallbiznis/meterline/internal/reconciler/domain"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	usageperioddomain "github.com/smallbiznis/meterline/internal/usageperiod/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errDuplicateEvent flows out of the transaction when the ledger already
// holds the event id. Mapped to a clean acknowledgement by Handle.
var errDuplicateEvent = errors.New("duplicate_event")

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Ledger  eventledgerdomain.Repository
	SubRepo subscriptiondomain.Repository
	Usage   usageperioddomain.Repository
	TierSvc plantierdomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	ledger  eventledgerdomain.Repository
	subRepo subscriptiondomain.Repository
	usage   usageperioddomain.Repository
	tierSvc plantierdomain.Service
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("reconciler.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		ledger:  p.Ledger,
		subRepo: p.SubRepo,
		usage:   p.Usage,
		tierSvc: p.TierSvc,
		metrics: p.Metrics,
	}
}

// Handle applies one provider event. State writes and the ledger insert
// share a single transaction, so an event is either fully applied and
// recorded or not applied at all. Redeliveries hit the ledger's unique
// index and commit nothing.
func (s *Service) Handle(ctx context.Context, event domain.Event) error {
	if strings.TrimSpace(event.ID) == "" {
		return domain.ErrMissingEventID
	}

	handler, known := s.dispatch(event.Type)
	if !known {
		// Unknown types are acknowledged without a ledger row; there is
		// nothing to protect against redelivery of.
		s.log.Debug("ignoring unhandled event type",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
		)
		s.recordEvent(event.Type, "ignored")
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen, err := s.ledger.Exists(ctx, tx, event.ID)
		if err != nil {
			return err
		}
		if seen {
			return errDuplicateEvent
		}

		if err := handler(ctx, tx, event); err != nil {
			return err
		}

		inserted, err := s.ledger.Record(ctx, tx, event.ID, string(event.Type), s.clock.Now())
		if err != nil {
			return err
		}
		if !inserted {
			// A concurrent delivery of the same event won the race.
			return errDuplicateEvent
		}
		return nil
	})
	if errors.Is(err, errDuplicateEvent) {
		s.log.Info("skipping already processed event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
		)
		s.recordEvent(event.Type, "duplicate")
		return nil
	}
	if err != nil {
		s.recordEvent(event.Type, "error")
		return err
	}

	s.recordEvent(event.Type, "applied")
	return nil
}

type eventHandler func(ctx context.Context, tx *gorm.DB, event domain.Event) error

func (s *Service) dispatch(eventType domain.EventType) (eventHandler, bool) {
	switch eventType {
	case domain.EventCheckoutCompleted:
		return s.handleCheckoutCompleted, true
	case domain.EventSubscriptionCreated,
		domain.EventSubscriptionUpdated:
		return s.applySubscriptionState, true
	case domain.EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted, true
	case domain.EventPaymentSucceeded:
		return s.handlePaymentSucceeded, true
	case domain.EventPaymentFailed:
		return s.handlePaymentFailed, true
	default:
		return nil, false
	}
}

// applySubscriptionState upserts the subscription snapshot the event
// carries and guarantees a usage period row for the record's current
// period. The upsert merge-ignores stale periods, so the period row is
// derived from the stored record, not the raw payload.
func (s *Service) applySubscriptionState(ctx context.Context, tx *gorm.DB, event domain.Event) error {
	payload := event.Payload
	if strings.TrimSpace(payload.EntityID) == "" {
		return domain.ErrMissingEntityID
	}

	periodStart := time.Unix(payload.PeriodStart, 0).UTC()
	periodEnd := time.Unix(payload.PeriodEnd, 0).UTC()
	if payload.PeriodStart <= 0 || payload.PeriodEnd <= 0 || !periodEnd.After(periodStart) {
		return domain.ErrInvalidPeriod
	}

	tierSvc := s.tierSvc.WithTx(tx)
	tier, err := tierSvc.ResolveByPriceRef(ctx, payload.PriceRef)
	if err != nil {
		return err
	}

	seats := payload.SeatQuantity
	if seats < 1 {
		seats = 1
	}

	record := &subscriptiondomain.SubscriptionRecord{
		ID:                      s.genID.Generate(),
		EntityID:                payload.EntityID,
		ProviderSubscriptionRef: payload.ProviderSubscriptionRef,
		Status:                  mapProviderStatus(payload.Status),
		PlanTierID:              tier.ID,
		SeatQuantity:            seats,
		AddonQuantity:           payload.AddonQuantity,
		PeriodStart:             periodStart,
		PeriodEnd:               periodEnd,
		CancelAtPeriodEnd:       payload.CancelAtPeriodEnd,
	}
	if payload.TrialEnd > 0 {
		trialEnd := time.Unix(payload.TrialEnd, 0).UTC()
		record.TrialEnd = &trialEnd
	}

	stored, err := s.subRepo.Upsert(ctx, tx, record)
	if err != nil {
		return err
	}

	storedTier := tier
	if stored.PlanTierID != tier.ID {
		storedTier, err = tierSvc.GetByID(ctx, stored.PlanTierID.String())
		if err != nil {
			return err
		}
	}

	storedSeats := stored.SeatQuantity
	if storedSeats < 1 {
		storedSeats = 1
	}

	return s.usage.Ensure(ctx, tx, usageperioddomain.EnsureParams{
		EntityID:       stored.EntityID,
		PeriodStart:    stored.PeriodStart,
		PeriodEnd:      stored.PeriodEnd,
		BaseAllowance:  storedTier.BaseAllowance * storedSeats,
		AddonAllowance: storedTier.AddonUnitSize * stored.AddonQuantity,
		PlanTierID:     storedTier.ID,
	})
}

// handleCheckoutCompleted acks the checkout session. The session carries no
// subscription snapshot and no billing period, so there is nothing to apply
// yet; the subscription events that follow materialize the record. A session
// that does carry a full period is treated like a subscription event.
func (s *Service) handleCheckoutCompleted(ctx context.Context, tx *gorm.DB, event domain.Event) error {
	payload := event.Payload
	if strings.TrimSpace(payload.EntityID) == "" {
		return domain.ErrMissingEntityID
	}

	if payload.PeriodStart > 0 && payload.PeriodEnd > payload.PeriodStart {
		return s.applySubscriptionState(ctx, tx, event)
	}

	record, err := s.subRepo.FindByEntityID(ctx, tx, payload.EntityID)
	if err != nil {
		return err
	}
	if record == nil {
		s.log.Info("checkout completed ahead of subscription snapshot",
			zap.String("event_id", event.ID),
			zap.String("entity_id", payload.EntityID),
		)
	}
	return nil
}

// handlePaymentSucceeded opens the next billing period on a cycle renewal;
// the Ensure insert arm starts the new period's counter at zero. Payments
// outside a cycle boundary only confirm the record is in good standing.
func (s *Service) handlePaymentSucceeded(ctx context.Context, tx *gorm.DB, event domain.Event) error {
	if event.Payload.BillingReason == "subscription_cycle" {
		return s.rollPeriodOver(ctx, tx, event)
	}

	err := s.subRepo.UpdateStatus(ctx, tx, event.Payload.EntityID, subscriptiondomain.StatusActive)
	if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		// A later subscription event will materialize the record; nothing
		// to apply yet.
		s.log.Warn("payment event for unknown entity",
			zap.String("event_id", event.ID),
			zap.String("entity_id", event.Payload.EntityID),
		)
		return nil
	}
	return err
}

// rollPeriodOver advances the stored record to the invoice's billing window
// and opens the new period's ledger row. Renewal invoices carry no seat or
// add-on quantities, so the stored record is authoritative for both and the
// new allowances are recomputed from it plus the catalog.
func (s *Service) rollPeriodOver(ctx context.Context, tx *gorm.DB, event domain.Event) error {
	payload := event.Payload
	if strings.TrimSpace(payload.EntityID) == "" {
		return domain.ErrMissingEntityID
	}

	periodStart := time.Unix(payload.PeriodStart, 0).UTC()
	periodEnd := time.Unix(payload.PeriodEnd, 0).UTC()
	if payload.PeriodStart <= 0 || payload.PeriodEnd <= 0 || !periodEnd.After(periodStart) {
		return domain.ErrInvalidPeriod
	}

	record, err := s.subRepo.FindByEntityID(ctx, tx, payload.EntityID)
	if err != nil {
		return err
	}
	if record == nil {
		// First contact with this entity: fall back to the payload like a
		// subscription event would.
		if payload.Status == "" {
			event.Payload.Status = string(subscriptiondomain.StatusActive)
		}
		return s.applySubscriptionState(ctx, tx, event)
	}
	if record.PeriodStart.After(periodStart) {
		// Late delivery of a renewal the record has already moved past.
		return nil
	}

	next := *record
	next.Status = subscriptiondomain.StatusActive
	next.PeriodStart = periodStart
	next.PeriodEnd = periodEnd

	stored, err := s.subRepo.Upsert(ctx, tx, &next)
	if err != nil {
		return err
	}

	tier, err := s.tierSvc.WithTx(tx).GetByID(ctx, stored.PlanTierID.String())
	if err != nil {
		return err
	}

	seats := stored.SeatQuantity
	if seats < 1 {
		seats = 1
	}
	return s.usage.Ensure(ctx, tx, usageperioddomain.EnsureParams{
		EntityID:       stored.EntityID,
		PeriodStart:    stored.PeriodStart,
		PeriodEnd:      stored.PeriodEnd,
		BaseAllowance:  tier.BaseAllowance * seats,
		AddonAllowance: tier.AddonUnitSize * stored.AddonQuantity,
		PlanTierID:     tier.ID,
	})
}

func (s *Service) handlePaymentFailed(ctx context.Context, tx *gorm.DB, event domain.Event) error {
	err := s.subRepo.UpdateStatus(ctx, tx, event.Payload.EntityID, subscriptiondomain.StatusPastDue)
	if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		s.log.Warn("payment failure for unknown entity",
			zap.String("event_id", event.ID),
			zap.String("entity_id", event.Payload.EntityID),
		)
		return nil
	}
	return err
}

// handleSubscriptionDeleted ends the subscription. A trial that was never
// paid expires; anything else is a cancellation.
func (s *Service) handleSubscriptionDeleted(ctx context.Context, tx *gorm.DB, event domain.Event) error {
	record, err := s.subRepo.FindByEntityID(ctx, tx, event.Payload.EntityID)
	if err != nil {
		return err
	}
	if record == nil {
		s.log.Warn("deletion event for unknown entity",
			zap.String("event_id", event.ID),
			zap.String("entity_id", event.Payload.EntityID),
		)
		return nil
	}

	next := subscriptiondomain.StatusCanceled
	if record.Status == subscriptiondomain.StatusTrialing {
		next = subscriptiondomain.StatusExpired
	}
	return s.subRepo.UpdateStatus(ctx, tx, record.EntityID, next)
}

func mapProviderStatus(status string) subscriptiondomain.Status {
	switch status {
	case "trialing":
		return subscriptiondomain.StatusTrialing
	case "active", "":
		return subscriptiondomain.StatusActive
	case "past_due":
		return subscriptiondomain.StatusPastDue
	case "canceled":
		return subscriptiondomain.StatusCanceled
	case "incomplete_expired", "unpaid":
		return subscriptiondomain.StatusExpired
	default:
		return subscriptiondomain.StatusNone
	}
}

func (s *Service) recordEvent(eventType domain.EventType, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordEvent(string(eventType), outcome)
}
