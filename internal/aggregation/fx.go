package aggregation

import (
	"github.com/smallbiznis/adl/internal/aggregation/repository"
	"github.com/smallbiznis/adl/internal/aggregation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("aggregation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
