package spend

import (
	"github.com/adlift/trafficdesk/internal/spend/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("spend.store",
	fx.Provide(repository.Provide),
)
