package webhook

import (
	"github.com/smallbiznis/adl/internal/dispatch"
	"go.uber.org/fx"
)

var Module = fx.Module("dispatch.webhook",
	fx.Provide(dispatch.AsSinkFactory(NewFactory)),
)
