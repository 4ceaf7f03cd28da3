// Package metrics exposes the engine's Prometheus instruments as a
// process-wide singleton so services and the scheduler share one
// registration.
package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ErrorTypeDeadlineExceeded = "deadline_exceeded"
	ErrorTypeTransient        = "transient"
	ErrorTypeValidation       = "validation"
	ErrorTypeDB               = "db"
	ErrorTypeUnknown          = "unknown"
)

// EngineMetrics captures sync-job and lifecycle health signals.
type EngineMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobErrors      *prometheus.CounterVec
	chunkRetries   prometheus.Counter
	chunksDegraded prometheus.Counter
	recordsSynced  prometheus.Counter
	removals       *prometheus.CounterVec
	classified     *prometheus.CounterVec
	runLoopLag     prometheus.Observer
}

var (
	engineMetricsOnce sync.Once
	engineMetrics     *EngineMetrics
)

// Engine returns the singleton engine metrics registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineMetrics = newEngineMetrics(prometheus.DefaultRegisterer)
	})
	return engineMetrics
}

// ResetEngineMetricsForTest resets the singleton for tests.
func ResetEngineMetricsForTest() {
	engineMetricsOnce = sync.Once{}
	engineMetrics = nil
}

func newEngineMetrics(registerer prometheus.Registerer) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trafficdesk_sync_job_runs_total",
		Help: "Status sync job runs by name.",
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trafficdesk_sync_job_duration_seconds",
		Help:    "Status sync job latency to protect status cache freshness.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trafficdesk_sync_job_errors_total",
		Help: "Status sync job errors by type.",
	}, []string{"job", "error_type"})
	chunkRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trafficdesk_sync_chunk_retries_total",
		Help: "Tracker chunk queries retried after transient failures.",
	})
	chunksDegraded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trafficdesk_sync_chunks_degraded_total",
		Help: "Tracker chunks that exhausted retries and degraded to empty results.",
	})
	recordsSynced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trafficdesk_sync_records_total",
		Help: "Status records written to the cache.",
	})
	removals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trafficdesk_assignment_removals_total",
		Help: "Assignment removals by outcome and branch.",
	}, []string{"outcome", "branch"})
	classified := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trafficdesk_status_classifications_total",
		Help: "Display statuses produced by the classifier.",
	}, []string{"status"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "trafficdesk_sync_runloop_lag_seconds",
		Help:    "Scheduler run loop lag beyond the configured interval.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobErrors,
		chunkRetries,
		chunksDegraded,
		recordsSynced,
		removals,
		classified,
		runLoopLag,
	)

	return &EngineMetrics{
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		jobErrors:      jobErrors,
		chunkRetries:   chunkRetries,
		chunksDegraded: chunksDegraded,
		recordsSynced:  recordsSynced,
		removals:       removals,
		classified:     classified,
		runLoopLag:     runLoopLag,
	}
}

func (m *EngineMetrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *EngineMetrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *EngineMetrics) IncJobError(job string, err error) {
	m.jobErrors.WithLabelValues(job, ClassifyErrorType(err)).Inc()
}

func (m *EngineMetrics) IncChunkRetry()        { m.chunkRetries.Inc() }
func (m *EngineMetrics) IncChunkDegraded()     { m.chunksDegraded.Inc() }
func (m *EngineMetrics) AddRecordsSynced(n int) {
	if n > 0 {
		m.recordsSynced.Add(float64(n))
	}
}

func (m *EngineMetrics) IncRemoval(outcome string, early bool) {
	branch := "late"
	if early {
		branch = "early"
	}
	m.removals.WithLabelValues(outcome, branch).Inc()
}

func (m *EngineMetrics) IncClassified(status string) {
	m.classified.WithLabelValues(status).Inc()
}

func (m *EngineMetrics) ObserveRunLoopLag(d time.Duration) {
	m.runLoopLag.Observe(d.Seconds())
}

// ClassifyErrorType maps an error to a low-cardinality label.
func ClassifyErrorType(err error) string {
	if err == nil {
		return ErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorTypeDeadlineExceeded
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return ErrorTypeDB
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection"):
		return ErrorTypeTransient
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "required"):
		return ErrorTypeValidation
	default:
		return ErrorTypeUnknown
	}
}
