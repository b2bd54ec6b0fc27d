package plantier

import (
	"github.com/smallbiznis/meterline/internal/plantier/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plantier.service",
	fx.Provide(service.NewService),
)
