package station

import (
	"github.com/smallbiznis/adl/internal/station/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("station.repository",
	fx.Provide(repository.Provide),
)
