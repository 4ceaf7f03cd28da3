// Package statussync refreshes the tracker-status cache for every live
// assignment. One run is a full batch: collect article keys and channel
// ids, aggregate spend per chunk, reduce to a status per assignment,
// then write the cache and the warm-start table.
package statussync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adlift/trafficdesk/internal/access"
	assignmentdomain "github.com/adlift/trafficdesk/internal/assignment/domain"
	"github.com/adlift/trafficdesk/internal/cache"
	channeldomain "github.com/adlift/trafficdesk/internal/channel/domain"
	"github.com/adlift/trafficdesk/internal/clock"
	"github.com/adlift/trafficdesk/internal/config"
	obsmetrics "github.com/adlift/trafficdesk/internal/observability/metrics"
	spenddomain "github.com/adlift/trafficdesk/internal/spend/domain"
	statusdomain "github.com/adlift/trafficdesk/internal/status/domain"
	statusrepo "github.com/adlift/trafficdesk/internal/status/repository"
)

const assignmentPageSize = 1000

type JobParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Ops         *config.OpsConfigHolder
	Repo        assignmentdomain.Repository
	ChannelRepo channeldomain.Repository
	Resolver    *access.Resolver
	SpendStore  spenddomain.Store
	StatusCache cache.StatusCache
	StatusRepo  statusrepo.Repository
}

type Job struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	ops         *config.OpsConfigHolder
	repo        assignmentdomain.Repository
	channelRepo channeldomain.Repository
	resolver    *access.Resolver
	spendStore  spenddomain.Store
	statusCache cache.StatusCache
	statusRepo  statusrepo.Repository
}

func New(p JobParam) *Job {
	return &Job{
		db:          p.DB,
		log:         p.Log.Named("statussync"),
		clock:       p.Clock,
		ops:         p.Ops,
		repo:        p.Repo,
		channelRepo: p.ChannelRepo,
		resolver:    p.Resolver,
		spendStore:  p.SpendStore,
		statusCache: p.StatusCache,
		statusRepo:  p.StatusRepo,
	}
}

// target is one assignment with its resolved tracker coordinates.
type target struct {
	assignment assignmentdomain.Assignment
	articleKey string
	channelIDs []string
}

// WarmStart loads persisted records into the cache so reads right after
// a restart see stale-but-flagged data instead of a cold cache.
func (j *Job) WarmStart(ctx context.Context) error {
	rows, err := j.statusRepo.LoadAll(ctx, j.db)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	var latest time.Time
	for _, row := range rows {
		key := statusdomain.Key{OfferID: row.OfferID, BuyerID: row.BuyerID, Source: row.Source}
		j.statusCache.SetStatus(ctx, key, statusdomain.Record{
			Status:        row.Status,
			LastSpendDate: row.LastSpendDate,
			RefreshedAt:   row.RefreshedAt,
		})
		if row.RefreshedAt.After(latest) {
			latest = row.RefreshedAt
		}
	}
	j.statusCache.MarkRefreshed(latest)
	j.log.Info("status cache warmed from store", zap.Int("record_count", len(rows)))
	return nil
}

// Run performs one full refresh. Transient chunk failures degrade the
// affected assignments to not_in_tracker instead of aborting the batch.
func (j *Job) Run(ctx context.Context) error {
	ops := j.ops.Get()
	now := j.clock.Now()
	batchID := uuid.NewString()
	log := j.log.With(zap.String("batch_id", batchID))

	targets, jobErr := j.collectTargets(ctx, log)
	if len(targets) == 0 {
		return jobErr
	}

	articleKeys, channelIDs := distinctCoordinates(targets)
	aggregates, degradedChunks := j.aggregateChunks(ctx, log, ops, articleKeys, channelIDs, now)

	rows := make([]statusdomain.RecordRow, 0, len(targets))
	for _, t := range targets {
		record := reduce(t, aggregates, now)
		j.statusCache.SetStatus(ctx, t.assignment.StatusKey(), record)
		rows = append(rows, statusdomain.RecordRow{
			OfferID:       t.assignment.OfferID,
			BuyerID:       t.assignment.BuyerID,
			Source:        t.assignment.Source,
			Status:        record.Status,
			LastSpendDate: record.LastSpendDate,
			ChannelIDs:    t.channelIDs,
			RefreshedAt:   now,
			UpdatedAt:     now,
		})
	}

	if err := j.statusRepo.UpsertRecords(ctx, j.db, rows); err != nil {
		jobErr = errors.Join(jobErr, err)
		log.Error("status record persistence failed", zap.Error(err))
	}
	j.statusCache.MarkRefreshed(now)
	obsmetrics.Engine().AddRecordsSynced(len(rows))

	log.Info("status sync finished",
		zap.Int("assignment_count", len(targets)),
		zap.Int("article_count", len(articleKeys)),
		zap.Int("channel_count", len(channelIDs)),
		zap.Int("degraded_chunks", degradedChunks),
	)
	return jobErr
}

// collectTargets pages through live assignments and resolves each one's
// article key and in-window channel ids. An empty article key is a
// per-assignment validation failure: that row degrades to
// not_in_tracker and the batch moves on.
func (j *Job) collectTargets(ctx context.Context, log *zap.Logger) ([]target, error) {
	var (
		assignments []assignmentdomain.Assignment
		jobErr      error
	)
	for offset := 0; ; offset += assignmentPageSize {
		page, err := j.repo.ListActive(ctx, j.db, assignmentPageSize, offset)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, page...)
		if len(page) < assignmentPageSize {
			break
		}
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	buyerSet := map[snowflake.ID]struct{}{}
	for _, a := range assignments {
		buyerSet[a.BuyerID] = struct{}{}
	}
	buyerIDs := make([]snowflake.ID, 0, len(buyerSet))
	for id := range buyerSet {
		buyerIDs = append(buyerIDs, id)
	}
	channels, err := j.channelRepo.ListByBuyers(ctx, j.db, buyerIDs)
	if err != nil {
		return nil, err
	}
	channelsByBuyer := map[snowflake.ID][]channeldomain.Channel{}
	for _, ch := range channels {
		channelsByBuyer[ch.BuyerID] = append(channelsByBuyer[ch.BuyerID], ch)
	}

	targets := make([]target, 0, len(assignments))
	for _, a := range assignments {
		articleKey := a.ArticleKey()
		if articleKey == "" {
			jobErr = errors.Join(jobErr, assignmentdomain.ErrInvalidCampaignLabel)
			log.Warn("assignment label yields empty article key",
				zap.String("assignment_id", a.ID.String()),
				zap.String("campaign_label", a.CampaignLabel),
			)
			targets = append(targets, target{assignment: a})
			continue
		}
		windows := j.resolver.Resolve(a.BuyerID, a.Source, channelsByBuyer[a.BuyerID])
		channelIDs := make([]string, 0, len(windows))
		for id := range windows {
			channelIDs = append(channelIDs, id)
		}
		sort.Strings(channelIDs)
		targets = append(targets, target{
			assignment: a,
			articleKey: articleKey,
			channelIDs: channelIDs,
		})
	}
	return targets, jobErr
}

// aggregateChunks runs the per-chunk tracker queries with bounded
// concurrency. A chunk that exhausts its retries contributes nothing;
// its assignments fall through to not_in_tracker.
func (j *Job) aggregateChunks(
	ctx context.Context,
	log *zap.Logger,
	ops config.OpsConfig,
	articleKeys, channelIDs []string,
	now time.Time,
) (map[string]spenddomain.ChannelAggregate, int) {
	chunks := chunkStrings(channelIDs, ops.ChunkSize)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		merged   = make(map[string]spenddomain.ChannelAggregate)
		degraded int
	)
	sem := make(chan struct{}, ops.ChunkConcurrency)

	for i, chunk := range chunks {
		wg.Add(1)
		sem <- struct{}{}
		go func(index int, chunk []string) {
			defer wg.Done()
			defer func() { <-sem }()

			aggregates, err := j.queryChunk(ctx, ops, articleKeys, chunk, now)
			if err != nil {
				obsmetrics.Engine().IncChunkDegraded()
				log.Warn("tracker chunk degraded to empty results",
					zap.Int("chunk_index", index),
					zap.Int("chunk_size", len(chunk)),
					zap.Error(err),
				)
				mu.Lock()
				degraded++
				mu.Unlock()
				return
			}

			mu.Lock()
			for _, agg := range aggregates {
				merged[aggregateKey(agg.ArticleKey, agg.ChannelID)] = agg
			}
			mu.Unlock()
		}(i, chunk)
	}
	wg.Wait()

	return merged, degraded
}

// queryChunk retries transient tracker failures with exponential
// backoff up to the configured cap.
func (j *Job) queryChunk(
	ctx context.Context,
	ops config.OpsConfig,
	articleKeys, chunk []string,
	now time.Time,
) ([]spenddomain.ChannelAggregate, error) {
	var lastErr error
	for attempt := 0; attempt <= ops.RetryCap; attempt++ {
		if attempt > 0 {
			obsmetrics.Engine().IncChunkRetry()
			delay := ops.RetryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		aggregates, err := j.spendStore.AggregateByArticle(ctx, articleKeys, chunk, now)
		if err == nil {
			return aggregates, nil
		}
		lastErr = err
		if !spenddomain.IsTransient(err) {
			break
		}
	}
	return nil, lastErr
}

// reduce turns the chunk aggregates into one cache record. Any spend
// today wins; otherwise the day after the most recent spend is reported
// so the dashboard can say "спенд был до <date>".
func reduce(t target, aggregates map[string]spenddomain.ChannelAggregate, now time.Time) statusdomain.Record {
	record := statusdomain.Record{
		Status:      statusdomain.StatusNotInTracker,
		RefreshedAt: now,
	}
	var lastSpend *time.Time
	for _, channelID := range t.channelIDs {
		agg, ok := aggregates[aggregateKey(t.articleKey, channelID)]
		if !ok {
			continue
		}
		if agg.SpendToday > 0 {
			record.Status = statusdomain.StatusActive
			record.LastSpendDate = nil
			return record
		}
		if agg.LastSpendDate != nil && (lastSpend == nil || agg.LastSpendDate.After(*lastSpend)) {
			lastSpend = agg.LastSpendDate
		}
	}
	if lastSpend != nil {
		next := lastSpend.AddDate(0, 0, 1)
		record.Status = statusdomain.StatusNotConfigured
		record.LastSpendDate = &next
	}
	return record
}

func distinctCoordinates(targets []target) (articleKeys, channelIDs []string) {
	articleSet := map[string]struct{}{}
	channelSet := map[string]struct{}{}
	for _, t := range targets {
		if t.articleKey != "" {
			articleSet[t.articleKey] = struct{}{}
		}
		for _, id := range t.channelIDs {
			channelSet[id] = struct{}{}
		}
	}
	articleKeys = make([]string, 0, len(articleSet))
	for key := range articleSet {
		articleKeys = append(articleKeys, key)
	}
	channelIDs = make([]string, 0, len(channelSet))
	for id := range channelSet {
		channelIDs = append(channelIDs, id)
	}
	sort.Strings(articleKeys)
	sort.Strings(channelIDs)
	return articleKeys, channelIDs
}

func chunkStrings(values []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var chunks [][]string
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}

func aggregateKey(article, channel string) string {
	return article + "|" + channel
}
