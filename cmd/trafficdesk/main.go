package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/adlift/trafficdesk/internal/access"
	"github.com/adlift/trafficdesk/internal/assignment"
	"github.com/adlift/trafficdesk/internal/cache"
	"github.com/adlift/trafficdesk/internal/channel"
	"github.com/adlift/trafficdesk/internal/clock"
	"github.com/adlift/trafficdesk/internal/config"
	"github.com/adlift/trafficdesk/internal/migration"
	"github.com/adlift/trafficdesk/internal/observability"
	"github.com/adlift/trafficdesk/internal/scheduler"
	"github.com/adlift/trafficdesk/internal/server"
	"github.com/adlift/trafficdesk/internal/spend"
	statusservice "github.com/adlift/trafficdesk/internal/status/service"
	"github.com/adlift/trafficdesk/internal/statussync"
	"github.com/adlift/trafficdesk/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		migration.Module,

		// Functional domains
		channel.Module,
		spend.Module,
		access.Module,
		assignment.Module,
		statusservice.Module,
		statussync.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
