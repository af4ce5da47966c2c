package kafka

import (
	"github.com/smallbiznis/adl/internal/dispatch"
	"go.uber.org/fx"
)

var Module = fx.Module("dispatch.kafka",
	fx.Provide(dispatch.AsSinkFactory(NewFactory)),
)
