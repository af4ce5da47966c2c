package httpjson

import (
	"github.com/smallbiznis/adl/internal/source"
	"go.uber.org/fx"
)

var Module = fx.Module("source.httpjson",
	fx.Provide(source.AsAdapter(New)),
)
