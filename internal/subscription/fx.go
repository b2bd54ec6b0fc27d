package subscription

import (
	"github.com/smallbiznis/meterline/internal/subscription/repository"
	"github.com/smallbiznis/meterline/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.New),
	fx.Provide(service.NewService),
)
