package migration

import (
	"github.com/smallbiznis/meterline/internal/config"
	"github.com/smallbiznis/meterline/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"

	plantierdomain "github.com/smallbiznis/meterline/internal/plantier/domain"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	usageperioddomain "github.com/smallbiznis/meterline/internal/usageperiod/domain"

	eventledgerdomain "github.com/smallbiznis/meterline/internal/eventledger/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// Versioned SQL targets postgres; other dialects get the
			// schema straight from the models.
			if err := conn.AutoMigrate(
				&plantierdomain.PlanTier{},
				&subscriptiondomain.SubscriptionRecord{},
				&usageperioddomain.UsagePeriod{},
				&eventledgerdomain.ProviderEvent{},
			); err != nil {
				return err
			}
		}

		return seed.EnsureDefaultTier(conn)
	}),
)
