package statussync

import (
	"go.uber.org/fx"
)

var Module = fx.Module("statussync",
	fx.Provide(New),
)
