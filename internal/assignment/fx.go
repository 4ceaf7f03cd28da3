package assignment

import (
	"github.com/adlift/trafficdesk/internal/assignment/repository"
	"github.com/adlift/trafficdesk/internal/assignment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("assignment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
