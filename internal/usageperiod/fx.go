package usageperiod

import (
	"github.com/smallbiznis/meterline/internal/usageperiod/repository"
	"github.com/smallbiznis/meterline/internal/usageperiod/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usageperiod.service",
	fx.Provide(repository.New),
	fx.Provide(service.NewService),
)
