package scheduler

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/adlift/trafficdesk/internal/statussync"
)

var Module = fx.Module("scheduler",
	fx.Provide(NewLocker),
	fx.Provide(New),
	fx.Invoke(Start),
)

// Start warms the status cache from the persisted records and then
// keeps the sync loop running for the lifetime of the process.
func Start(lc fx.Lifecycle, sched *Scheduler, syncJob *statussync.Job, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := syncJob.WarmStart(startCtx); err != nil {
				log.Warn("status cache warm start failed", zap.Error(err))
			}

			ctx, cancel := context.WithCancel(context.Background())
			go sched.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
