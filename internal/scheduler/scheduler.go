// Package scheduler runs the periodic trial-expiry sweep.
package scheduler

import (
	"context"
	"time"

	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/config"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultInterval = 5 * time.Minute

type Params struct {
	fx.In

	Cfg             config.Config
	Log             *zap.Logger
	Clock           clock.Clock
	SubscriptionSvc subscriptiondomain.Service
}

type Scheduler struct {
	log             *zap.Logger
	clock           clock.Clock
	interval        time.Duration
	subscriptionSvc subscriptiondomain.Service
}

func New(p Params) *Scheduler {
	interval := time.Duration(p.Cfg.SchedulerInterval) * time.Second
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler"),
		clock:           p.Clock,
		interval:        interval,
		subscriptionSvc: p.SubscriptionSvc,
	}
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce expires trials whose end passed without a provider deletion
// event ever arriving. The webhook path remains the primary mechanism;
// this sweep only closes the gap.
func (s *Scheduler) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	expired, err := s.subscriptionSvc.ExpireTrialsDue(runCtx, s.clock.Now())
	if err != nil {
		s.log.Warn("trial expiry sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		s.log.Info("trial expiry sweep", zap.Int64("expired", expired))
	}
}
