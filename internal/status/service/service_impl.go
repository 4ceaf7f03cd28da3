// Package service assembles display statuses for list surfaces. It is
// the single place where access windows, tracker cache entries and
// spend series meet the classifier.
package service

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adlift/trafficdesk/internal/access"
	"github.com/adlift/trafficdesk/internal/activity"
	assignmentdomain "github.com/adlift/trafficdesk/internal/assignment/domain"
	"github.com/adlift/trafficdesk/internal/cache"
	channeldomain "github.com/adlift/trafficdesk/internal/channel/domain"
	"github.com/adlift/trafficdesk/internal/clock"
	"github.com/adlift/trafficdesk/internal/config"
	obsmetrics "github.com/adlift/trafficdesk/internal/observability/metrics"
	spenddomain "github.com/adlift/trafficdesk/internal/spend/domain"
	"github.com/adlift/trafficdesk/internal/status"
	statusdomain "github.com/adlift/trafficdesk/internal/status/domain"
)

// View is one dashboard row: the assignment plus everything derived
// for it. Aggregate covers the configured active-day window.
type View struct {
	Assignment            assignmentdomain.Assignment
	Status                statusdomain.Status
	LastSpendDate         *time.Time
	LastActiveDate        *time.Time
	ConsecutiveActiveDays int
	DaysSinceAssigned     int
	Aggregate             activity.Aggregate
}

type EvaluatorParam struct {
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
}

// Evaluator classifies assignments for read surfaces. It never writes.
type Evaluator struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	ops         *config.OpsConfigHolder
	repo        assignmentdomain.Repository
	channelRepo channeldomain.Repository
	resolver    *access.Resolver
	spendStore  spenddomain.Store
	statusCache cache.StatusCache
}

func NewEvaluator(p EvaluatorParam) *Evaluator {
	return &Evaluator{
		db:          p.DB,
		log:         p.Log.Named("status.evaluator"),
		clock:       p.Clock,
		ops:         p.Ops,
		repo:        p.Repo,
		channelRepo: p.ChannelRepo,
		resolver:    p.Resolver,
		spendStore:  p.SpendStore,
		statusCache: p.StatusCache,
	}
}

// EvaluateOffer returns the visible assignments of an offer, classified
// and ordered by the canonical status priority.
func (e *Evaluator) EvaluateOffer(ctx context.Context, offerID snowflake.ID) ([]View, error) {
	assignments, err := e.repo.ListVisible(ctx, e.db, offerID)
	if err != nil {
		return nil, err
	}
	return e.evaluateAll(ctx, assignments)
}

// EvaluateArchived returns the archived-only surface for an offer.
func (e *Evaluator) EvaluateArchived(ctx context.Context, offerID snowflake.ID) ([]View, error) {
	assignments, err := e.repo.ListArchived(ctx, e.db, offerID)
	if err != nil {
		return nil, err
	}
	return e.evaluateAll(ctx, assignments)
}

func (e *Evaluator) evaluateAll(ctx context.Context, assignments []assignmentdomain.Assignment) ([]View, error) {
	views := make([]View, 0, len(assignments))

	// One channel fetch per buyer, shared across that buyer's rows.
	channelsByBuyer := map[snowflake.ID][]channeldomain.Channel{}
	for _, a := range assignments {
		if _, ok := channelsByBuyer[a.BuyerID]; ok {
			continue
		}
		channels, err := e.channelRepo.ListByBuyer(ctx, e.db, a.BuyerID)
		if err != nil {
			return nil, err
		}
		channelsByBuyer[a.BuyerID] = channels
	}

	for _, a := range assignments {
		views = append(views, e.evaluate(ctx, a, channelsByBuyer[a.BuyerID]))
	}

	sort.SliceStable(views, func(i, j int) bool {
		pi, pj := views[i].Status.Priority(), views[j].Status.Priority()
		if pi != pj {
			return pi < pj
		}
		return views[i].Assignment.CreatedAt.After(views[j].Assignment.CreatedAt)
	})
	return views, nil
}

// Evaluate classifies a single assignment against the buyer's current
// channel settings.
func (e *Evaluator) Evaluate(ctx context.Context, a assignmentdomain.Assignment) (View, error) {
	channels, err := e.channelRepo.ListByBuyer(ctx, e.db, a.BuyerID)
	if err != nil {
		return View{}, err
	}
	return e.evaluate(ctx, a, channels), nil
}

func (e *Evaluator) evaluate(ctx context.Context, a assignmentdomain.Assignment, channels []channeldomain.Channel) View {
	now := e.clock.Now()
	view := View{
		Assignment:        a,
		DaysSinceAssigned: a.DaysSince(now),
	}

	windows := e.resolver.Resolve(a.BuyerID, a.Source, channels)

	var (
		series        []spenddomain.DailyMetric
		seriesLoading bool
	)
	if len(windows) > 0 {
		channelIDs := make([]string, 0, len(windows))
		for id := range windows {
			channelIDs = append(channelIDs, id)
		}
		series, seriesLoading = e.fetchSeries(ctx, a.ArticleKey(), channelIDs)
	}

	var tracker *statusdomain.Record
	if record, ok := e.statusCache.GetStatus(a.StatusKey()); ok {
		tracker = &record
		view.LastSpendDate = record.LastSpendDate
	}

	hasActivity := activity.HasActivityInWindow(series, windows)
	view.Status = status.Classify(status.ClassifyInput{
		Archived:      a.Archived,
		CacheLoading:  !e.statusCache.Ready(),
		SeriesLoading: seriesLoading,
		AccessExpired: activity.IsAccessExpired(windows, now),
		HasActivity:   hasActivity,
		Tracker:       tracker,
	})

	if hasActivity {
		view.LastActiveDate = activity.LastActiveDate(series, windows)
		view.ConsecutiveActiveDays = activity.ConsecutiveActiveDays(series, windows, now)
		view.Aggregate = activity.AggregateByActiveDays(series, windows, now, e.ops.Get().AggregateWindowDays)
	}

	obsmetrics.Engine().IncClassified(string(view.Status))
	return view
}

// fetchSeries degrades a failed tracker read to the loading state: the
// UI shows a spinner rather than an error or a lying status.
func (e *Evaluator) fetchSeries(ctx context.Context, article string, channelIDs []string) ([]spenddomain.DailyMetric, bool) {
	if article == "" {
		return nil, false
	}
	series, err := e.spendStore.FetchSeries(ctx, article, channelIDs)
	if err != nil {
		e.log.Warn("spend series fetch failed",
			zap.String("article_key", article),
			zap.Error(err),
		)
		return nil, true
	}
	return series, false
}
