package activity

import (
	"github.com/smallbiznis/adl/internal/activity/repository"
	"github.com/smallbiznis/adl/internal/activity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("activity.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
