package ingestion

import "go.uber.org/fx"

var Module = fx.Module("ingestion.service",
	fx.Provide(NewService),
)
