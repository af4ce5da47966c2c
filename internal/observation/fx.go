package observation

import (
	"github.com/smallbiznis/adl/internal/observation/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("observation.repository",
	fx.Provide(repository.Provide),
)
