package dispatch

import (
	"github.com/smallbiznis/adl/internal/dispatch/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("dispatch.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewSinkRegistryFromGroup),
	fx.Provide(NewCursorStore),
	fx.Provide(NewEngine),
)
