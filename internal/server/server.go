package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/meterline/internal/config"
	"github.com/smallbiznis/meterline/internal/eventledger"
	obsmetrics "github.com/smallbiznis/meterline/internal/observability/metrics"
	"github.com/smallbiznis/meterline/internal/plantier"
	plantierdomain "github.com/smallbiznis/meterline/internal/plantier/domain"
	"github.com/smallbiznis/meterline/internal/providers/billing"
	"github.com/smallbiznis/meterline/internal/providers/billing/webhook"
	"github.com/smallbiznis/meterline/internal/ratelimit"
	"github.com/smallbiznis/meterline/internal/reconciler"
	reconcilerdomain "github.com/smallbiznis/meterline/internal/reconciler/domain"
	"github.com/smallbiznis/meterline/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	"github.com/smallbiznis/meterline/internal/trial"
	trialdomain "github.com/smallbiznis/meterline/internal/trial/domain"
	"github.com/smallbiznis/meterline/internal/usageperiod"
	usageperioddomain "github.com/smallbiznis/meterline/internal/usageperiod/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	plantier.Module,
	subscription.Module,
	usageperiod.Module,
	eventledger.Module,
	reconciler.Module,
	trial.Module,
	billing.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(provideWebhookDecoder),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(m *obsmetrics.Metrics, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmetrics.GinMiddleware(m))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}

func registerGin(m *obsmetrics.Metrics, gatherer prometheus.Gatherer) *gin.Engine {
	return NewEngine(m, gatherer)
}

func provideWebhookDecoder(cfg config.Config) *webhook.Decoder {
	return webhook.NewDecoder(cfg.ProviderWebhookSecret)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	decoder         *webhook.Decoder
	reconcilerSvc   reconcilerdomain.Service
	usageSvc        usageperioddomain.Service
	subscriptionSvc subscriptiondomain.Service
	tierSvc         plantierdomain.Service
	trialSvc        trialdomain.Service
	consumeLimiter  *ratelimit.ConsumeLimiter
	metrics         *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Decoder         *webhook.Decoder
	ReconcilerSvc   reconcilerdomain.Service
	UsageSvc        usageperioddomain.Service
	SubscriptionSvc subscriptiondomain.Service
	TierSvc         plantierdomain.Service
	TrialSvc        trialdomain.Service
	ConsumeLimiter  *ratelimit.ConsumeLimiter `optional:"true"`
	Metrics         *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		decoder:         p.Decoder,
		reconcilerSvc:   p.ReconcilerSvc,
		usageSvc:        p.UsageSvc,
		subscriptionSvc: p.SubscriptionSvc,
		tierSvc:         p.TierSvc,
		trialSvc:        p.TrialSvc,
		consumeLimiter:  p.ConsumeLimiter,
		metrics:         p.Metrics,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/billing", s.HandleBillingWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Quota --------
	api.POST("/entities/:entity_id/consume", s.ConsumeRateLimit(), s.Consume)
	api.GET("/entities/:entity_id/usage", s.GetUsage)

	// -------- Subscriptions --------
	api.GET("/subscriptions", s.ListSubscriptions)
	api.GET("/entities/:entity_id/subscription", s.GetSubscription)
	api.PUT("/entities/:entity_id/addons", s.SetAddonQuantity)

	// -------- Trials --------
	api.POST("/entities/:entity_id/trial", s.GrantTrial)
	api.DELETE("/entities/:entity_id/trial", s.RevokeTrial)

	// -------- Plan tiers --------
	api.GET("/tiers", s.ListTiers)
	api.POST("/tiers", s.CreateTier)
	api.GET("/tiers/:id", s.GetTierByID)
	api.PATCH("/tiers/:id", s.UpdateTier)
	api.DELETE("/tiers/:id", s.DeleteTier)
	api.POST("/tiers/:id/apply", s.ApplyTier)
}
