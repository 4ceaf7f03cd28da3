package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adlift/trafficdesk/internal/access"
	assignmentdomain "github.com/adlift/trafficdesk/internal/assignment/domain"
	assignmentrepo "github.com/adlift/trafficdesk/internal/assignment/repository"
	"github.com/adlift/trafficdesk/internal/cache"
	channelrepo "github.com/adlift/trafficdesk/internal/channel/repository"
	"github.com/adlift/trafficdesk/internal/clock"
	"github.com/adlift/trafficdesk/internal/config"
	spendrepo "github.com/adlift/trafficdesk/internal/spend/repository"
	statusdomain "github.com/adlift/trafficdesk/internal/status/domain"
)

var evalToday = time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)

func setupEvaluator(t *testing.T, withSpendTable bool) (*Evaluator, *gorm.DB, cache.StatusCache, *snowflake.Node) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ddl := []string{
		`CREATE TABLE assignments (
			id INTEGER PRIMARY KEY,
			offer_id INTEGER NOT NULL,
			buyer_id INTEGER NOT NULL,
			source TEXT NOT NULL,
			campaign_label TEXT NOT NULL,
			archived BOOLEAN NOT NULL DEFAULT 0,
			archived_at DATETIME,
			hidden BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE buyer_channels (
			id INTEGER PRIMARY KEY,
			buyer_id INTEGER NOT NULL,
			source TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			access_granted DATETIME,
			access_limited DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}
	if withSpendTable {
		ddl = append(ddl, `CREATE TABLE ads_spend_daily (
			date DATE NOT NULL,
			article_key TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			cost REAL NOT NULL DEFAULT 0,
			leads INTEGER NOT NULL DEFAULT 0
		)`)
	}
	for _, stmt := range ddl {
		require.NoError(t, db.Exec(stmt).Error)
	}

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	statusCache := cache.NewStatusCache(nil, zap.NewNop())
	ops := config.StaticOpsConfigHolder(config.DefaultOpsConfig())

	eval := NewEvaluator(EvaluatorParam{
		DB:          db,
		Log:         zap.NewNop(),
		Clock:       clock.NewFakeClock(evalToday),
		Ops:         ops,
		Repo:        assignmentrepo.Provide(),
		ChannelRepo: channelrepo.Provide(),
		Resolver:    access.NewResolver(),
		SpendStore:  spendrepo.Provide(db, ops),
		StatusCache: statusCache,
	})
	return eval, db, statusCache, node
}

func seedAssignment(t *testing.T, db *gorm.DB, node *snowflake.Node, offerID, buyerID snowflake.ID, label string, createdAt time.Time, archived bool) assignmentdomain.Assignment {
	t.Helper()
	a := assignmentdomain.Assignment{
		ID:            node.Generate(),
		OfferID:       offerID,
		BuyerID:       buyerID,
		Source:        "facebook",
		CampaignLabel: label,
		Archived:      archived,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	require.NoError(t, db.Exec(
		`INSERT INTO assignments (id, offer_id, buyer_id, source, campaign_label, archived, hidden, created_at, updated_at)
		 VALUES (?, ?, ?, 'facebook', ?, ?, 0, ?, ?)`,
		a.ID, offerID, buyerID, label, archived, createdAt, createdAt,
	).Error)
	return a
}

func seedChannel(t *testing.T, db *gorm.DB, node *snowflake.Node, buyerID snowflake.ID, channelID string, granted, limited *time.Time) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO buyer_channels (id, buyer_id, source, channel_id, access_granted, access_limited, created_at, updated_at)
		 VALUES (?, ?, 'facebook', ?, ?, ?, ?, ?)`,
		node.Generate(), buyerID, channelID, granted, limited, evalToday, evalToday,
	).Error)
}

func seedSpend(t *testing.T, db *gorm.DB, article, channelID string, day time.Time, cost float64, leads int64) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO ads_spend_daily (date, article_key, channel_id, cost, leads) VALUES (?, ?, ?, ?, ?)`,
		day.UTC().Format("2006-01-02"), article, channelID, cost, leads,
	).Error)
}

// A buyer whose channel access closed a month ago but who spent while
// it was open reads as not_configured, with the activity facts intact.
func TestEvaluateExpiredAccessWithPastActivity(t *testing.T) {
	eval, db, statusCache, node := setupEvaluator(t, true)
	buyerID := node.Generate()

	granted := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limited := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	seedChannel(t, db, node, buyerID, "fb-10", &granted, &limited)
	seedSpend(t, db, "1001", "fb-10", time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC), 12, 3)
	statusCache.MarkRefreshed(evalToday)

	a := seedAssignment(t, db, node, node.Generate(), buyerID, "1001-spring-push",
		time.Date(2024, 6, 21, 9, 0, 0, 0, time.UTC), false)

	view, err := eval.Evaluate(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, statusdomain.StatusNotConfigured, view.Status)
	require.Equal(t, 10, view.DaysSinceAssigned)
	require.NotNil(t, view.LastActiveDate)
	require.Equal(t, "2024-05-30", view.LastActiveDate.Format("2006-01-02"))
	require.Equal(t, float64(12), view.Aggregate.Cost)
	require.Equal(t, int64(3), view.Aggregate.Leads)
	require.Equal(t, float64(4), view.Aggregate.CPL)
	require.True(t, view.Aggregate.LowSample())
}

func TestEvaluateColdCacheReportsLoading(t *testing.T) {
	eval, db, _, node := setupEvaluator(t, true)
	buyerID := node.Generate()
	seedChannel(t, db, node, buyerID, "fb-11", nil, nil)
	seedSpend(t, db, "2002", "fb-11", evalToday, 40, 1)

	a := seedAssignment(t, db, node, node.Generate(), buyerID, "2002-launch", evalToday, false)

	view, err := eval.Evaluate(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, statusdomain.StatusLoading, view.Status)
}

// A failed series read must not surface as an error or a false
// not_in_tracker; the row shows as loading until the store recovers.
func TestEvaluateSeriesFailureDegradesToLoading(t *testing.T) {
	eval, db, statusCache, node := setupEvaluator(t, false)
	buyerID := node.Generate()
	seedChannel(t, db, node, buyerID, "fb-12", nil, nil)
	statusCache.MarkRefreshed(evalToday)

	a := seedAssignment(t, db, node, node.Generate(), buyerID, "3003-promo", evalToday, false)

	view, err := eval.Evaluate(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, statusdomain.StatusLoading, view.Status)
}

func TestEvaluateTrackerActiveWithoutWindowActivity(t *testing.T) {
	eval, db, statusCache, node := setupEvaluator(t, true)
	buyerID := node.Generate()
	seedChannel(t, db, node, buyerID, "fb-13", nil, nil)
	statusCache.MarkRefreshed(evalToday)

	a := seedAssignment(t, db, node, node.Generate(), buyerID, "4004-promo", evalToday, false)
	statusCache.SetStatus(context.Background(), a.StatusKey(), statusdomain.Record{
		Status:      statusdomain.StatusActive,
		RefreshedAt: evalToday,
	})

	view, err := eval.Evaluate(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, statusdomain.StatusNotInTracker, view.Status)
}

// EvaluateOffer orders by status priority first, newer rows first
// within the same status, archived always last.
func TestEvaluateOfferOrdering(t *testing.T) {
	eval, db, statusCache, node := setupEvaluator(t, true)
	offerID := node.Generate()
	statusCache.MarkRefreshed(evalToday)

	activate := func(label, channelID string, createdAt time.Time) assignmentdomain.Assignment {
		buyerID := node.Generate()
		seedChannel(t, db, node, buyerID, channelID, nil, nil)
		a := seedAssignment(t, db, node, offerID, buyerID, label, createdAt, false)
		seedSpend(t, db, a.ArticleKey(), channelID, evalToday, 100, 2)
		statusCache.SetStatus(context.Background(), a.StatusKey(), statusdomain.Record{
			Status:      statusdomain.StatusActive,
			RefreshedAt: evalToday,
		})
		return a
	}

	activeOld := activate("5001-old", "fb-20", evalToday.AddDate(0, 0, -20))
	activeNew := activate("5002-new", "fb-21", evalToday.AddDate(0, 0, -2))

	idleBuyer := node.Generate()
	seedChannel(t, db, node, idleBuyer, "fb-22", nil, nil)
	idle := seedAssignment(t, db, node, offerID, idleBuyer, "5003-idle", evalToday.AddDate(0, 0, -1), false)

	archivedBuyer := node.Generate()
	seedChannel(t, db, node, archivedBuyer, "fb-23", nil, nil)
	archived := seedAssignment(t, db, node, offerID, archivedBuyer, "5004-done", evalToday, true)

	views, err := eval.EvaluateOffer(context.Background(), offerID)
	require.NoError(t, err)
	require.Len(t, views, 4)

	require.Equal(t, activeNew.ID, views[0].Assignment.ID)
	require.Equal(t, statusdomain.StatusActive, views[0].Status)
	require.Equal(t, activeOld.ID, views[1].Assignment.ID)
	require.Equal(t, idle.ID, views[2].Assignment.ID)
	require.Equal(t, statusdomain.StatusNotInTracker, views[2].Status)
	require.Equal(t, archived.ID, views[3].Assignment.ID)
	require.Equal(t, statusdomain.StatusArchived, views[3].Status)
}
