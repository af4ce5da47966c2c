package wis2box

import (
	"github.com/smallbiznis/adl/internal/dispatch"
	"go.uber.org/fx"
)

var Module = fx.Module("dispatch.wis2box",
	fx.Provide(dispatch.AsSinkFactory(NewFactory)),
)
