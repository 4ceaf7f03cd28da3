package channel

import (
	"github.com/adlift/trafficdesk/internal/channel/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("channel.repository",
	fx.Provide(repository.Provide),
)
