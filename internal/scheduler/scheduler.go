// Package scheduler drives the periodic status sync. One run acquires
// leadership (when Redis is configured), executes every enabled job
// with a per-job timeout, and accumulates errors without aborting the
// remaining jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/adlift/trafficdesk/internal/clock"
	obsmetrics "github.com/adlift/trafficdesk/internal/observability/metrics"
	"github.com/adlift/trafficdesk/internal/statussync"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log     *zap.Logger
	SyncJob *statussync.Job
	GenID   *snowflake.Node
	Clock   clock.Clock
	Locker  *Locker `optional:"true"`
	Config  Config  `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	syncJob *statussync.Job
	locker  *Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.SyncJob == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		syncJob: p.SyncJob,
		locker:  p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	engineMetrics := obsmetrics.Engine()
	engineMetrics.IncJobRun(name)

	err := fn(ctx)
	engineMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	engineMetrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one scheduler pass. When another instance holds the
// leader lock the pass is skipped silently; the leader is refreshing
// the shared Redis cache for everyone.
func (s *Scheduler) RunOnce(parent context.Context) error {
	token, leader, err := s.locker.TryLock(parent, s.cfg.LockKey, s.cfg.LockTTL)
	if err != nil {
		s.log.Warn("leader lock unavailable, running unlocked", zap.Error(err))
	} else if !leader {
		s.log.Debug("another instance leads, skipping run")
		return nil
	}
	if token != "" {
		defer func() {
			if releaseErr := s.locker.Release(context.WithoutCancel(parent), s.cfg.LockKey, token); releaseErr != nil {
				s.log.Warn("leader lock release failed", zap.Error(releaseErr))
			}
		}()
	}

	var runErr error
	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"status_sync", func(ctx context.Context) error {
			return s.runJob(ctx, "status_sync", s.cfg.JobTimeout, s.syncJob.Run)
		}},
	}
	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			runErr = errors.Join(runErr, job.Run(parent))
		}
	}
	return runErr
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	engineMetrics := obsmetrics.Engine()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			engineMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means every job runs (single-worker mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
