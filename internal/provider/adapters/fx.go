package adapters

import "go.uber.org/fx"

var Module = fx.Module("provider.adapters",
	fx.Provide(New),
)
