package service

import (
	"github.com/adlift/trafficdesk/internal/status/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("status.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewEvaluator),
)
