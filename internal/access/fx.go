package access

import "go.uber.org/fx"

var Module = fx.Module("access.resolver",
	fx.Provide(NewResolver),
)
