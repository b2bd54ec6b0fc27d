package billing

import (
	"github.com/smallbiznis/meterline/internal/config"
	billingdomain "github.com/smallbiznis/meterline/internal/providers/billing/domain"
	"github.com/smallbiznis/meterline/internal/providers/billing/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.billing",
	fx.Provide(NewClient),
)

func NewClient(cfg config.Config, log *zap.Logger) (billingdomain.Client, error) {
	if cfg.ProviderSecretKey == "" {
		log.Warn("billing provider secret key not configured; provider calls will fail")
		return disabledClient{}, nil
	}
	return stripe.NewClient(stripe.Config{
		APIBase:   cfg.ProviderAPIBase,
		SecretKey: cfg.ProviderSecretKey,
	}, log)
}
