package service

import (
	"context"
	"errors"
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
	channelrepo "github.com/adlift/trafficdesk/internal/channel/repository"
	"github.com/adlift/trafficdesk/internal/clock"
	"github.com/adlift/trafficdesk/internal/config"
	spendrepo "github.com/adlift/trafficdesk/internal/spend/repository"
)

var testStart = time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	for _, ddl := range []string{
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
		`CREATE UNIQUE INDEX uq_assignments_active_key
			ON assignments (offer_id, buyer_id, source)
			WHERE NOT archived AND NOT hidden`,
		`CREATE TABLE assignment_history (
			id INTEGER PRIMARY KEY,
			assignment_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			actor_name TEXT NOT NULL,
			reason TEXT,
			reason_details TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL
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
		`CREATE TABLE ads_spend_daily (
			date DATE NOT NULL,
			article_key TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			cost REAL NOT NULL DEFAULT 0,
			leads INTEGER NOT NULL DEFAULT 0
		)`,
	} {
		require.NoError(t, db.Exec(ddl).Error)
	}
	return db
}

func setupService(t *testing.T) (*Service, *gorm.DB, *clock.FakeClock, *snowflake.Node) {
	t.Helper()
	db := setupDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(testStart)
	ops := config.StaticOpsConfigHolder(config.DefaultOpsConfig())

	svc := NewService(ServiceParam{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fake,
		Ops:         ops,
		Repo:        assignmentrepo.Provide(),
		ChannelRepo: channelrepo.Provide(),
		Resolver:    access.NewResolver(),
		SpendStore:  spendrepo.Provide(db, ops),
	}).(*Service)
	return svc, db, fake, node
}

func grantChannel(t *testing.T, db *gorm.DB, node *snowflake.Node, buyerID snowflake.ID, source, channelID string) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO buyer_channels (id, buyer_id, source, channel_id, access_granted, access_limited, created_at, updated_at)
		 VALUES (?, ?, ?, ?, NULL, NULL, ?, ?)`,
		node.Generate(), buyerID, source, channelID, testStart, testStart,
	).Error)
}

func recordSpend(t *testing.T, db *gorm.DB, article, channelID string, day time.Time, cost float64, leads int64) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO ads_spend_daily (date, article_key, channel_id, cost, leads) VALUES (?, ?, ?, ?, ?)`,
		day.UTC().Format("2006-01-02"), article, channelID, cost, leads,
	).Error)
}

func createAssignment(t *testing.T, svc *Service, node *snowflake.Node) *assignmentdomain.Assignment {
	t.Helper()
	a, err := svc.Create(context.Background(), assignmentdomain.CreateRequest{
		OfferID:       node.Generate(),
		BuyerID:       node.Generate(),
		Source:        "facebook",
		CampaignLabel: "1001-summer-promo",
		ActorName:     "alex",
	})
	require.NoError(t, err)
	return a
}

func TestCreateWritesHistory(t *testing.T) {
	svc, _, _, node := setupService(t)

	a := createAssignment(t, svc, node)
	require.False(t, a.Archived)
	require.False(t, a.Hidden)
	require.Equal(t, "1001", a.ArticleKey())

	history, err := svc.History(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, assignmentdomain.HistoryAssigned, history[0].Action)
	require.Equal(t, "alex", history[0].ActorName)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _, node := setupService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, assignmentdomain.CreateRequest{
		BuyerID: node.Generate(), Source: "facebook", CampaignLabel: "1001", ActorName: "alex",
	})
	require.ErrorIs(t, err, assignmentdomain.ErrInvalidOffer)

	_, err = svc.Create(ctx, assignmentdomain.CreateRequest{
		OfferID: node.Generate(), BuyerID: node.Generate(), Source: "facebook",
		CampaignLabel: "-broken", ActorName: "alex",
	})
	require.ErrorIs(t, err, assignmentdomain.ErrInvalidCampaignLabel)
}

func TestCreateRejectsDuplicateLiveKey(t *testing.T) {
	svc, db, _, node := setupService(t)
	ctx := context.Background()

	created := createAssignment(t, svc, node)
	req := assignmentdomain.CreateRequest{
		OfferID:       created.OfferID,
		BuyerID:       created.BuyerID,
		Source:        created.Source,
		CampaignLabel: "1001-second-attempt",
		ActorName:     "alex",
	}
	_, err := svc.Create(ctx, req)
	require.ErrorIs(t, err, assignmentdomain.ErrAlreadyAssigned)

	visible, err := svc.ListVisible(ctx, created.OfferID)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	require.Equal(t, created.ID, visible[0].ID)

	// A different source for the same pair is a distinct key.
	req.Source = "tiktok"
	_, err = svc.Create(ctx, req)
	require.NoError(t, err)

	// Uniqueness also holds at the storage layer, not only in the
	// service check.
	var count int64
	require.NoError(t, db.Raw(
		`SELECT COUNT(*) FROM assignments WHERE offer_id = ? AND buyer_id = ? AND source = ? AND NOT archived AND NOT hidden`,
		created.OfferID, created.BuyerID, created.Source,
	).Scan(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestRemoveEarlyNoSpendHidesWithoutReason(t *testing.T) {
	svc, db, fake, node := setupService(t)
	ctx := context.Background()

	a := createAssignment(t, svc, node)
	fake.Advance(30 * time.Second)

	result, err := svc.Remove(ctx, assignmentdomain.RemoveRequest{
		AssignmentID: a.ID,
		ActorName:    "alex",
	})
	require.NoError(t, err)
	require.True(t, result.Early)
	require.Equal(t, assignmentdomain.OutcomeHidden, result.Outcome)
	require.Equal(t, 0.0, result.TotalCost)

	var hidden bool
	require.NoError(t, db.Raw(`SELECT hidden FROM assignments WHERE id = ?`, a.ID).Scan(&hidden).Error)
	require.True(t, hidden)

	history, err := svc.History(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	removed := history[1]
	require.Equal(t, assignmentdomain.HistoryRemoved, removed.Action)
	require.Nil(t, removed.Reason)
	require.Nil(t, removed.ReasonDetails)
}

func TestRemoveLateRequiresReason(t *testing.T) {
	svc, _, fake, node := setupService(t)
	ctx := context.Background()

	a := createAssignment(t, svc, node)
	fake.Advance(5 * time.Minute)

	_, err := svc.Remove(ctx, assignmentdomain.RemoveRequest{
		AssignmentID: a.ID,
		ActorName:    "alex",
	})
	require.ErrorIs(t, err, assignmentdomain.ErrReasonRequired)

	_, err = svc.Remove(ctx, assignmentdomain.RemoveRequest{
		AssignmentID: a.ID,
		ActorName:    "alex",
		Reason:       "because",
	})
	require.ErrorIs(t, err, assignmentdomain.ErrInvalidReason)

	_, err = svc.Remove(ctx, assignmentdomain.RemoveRequest{
		AssignmentID: a.ID,
		ActorName:    "alex",
		Reason:       assignmentdomain.ReasonOther,
	})
	require.ErrorIs(t, err, assignmentdomain.ErrReasonDetailsRequired)

	// Validation failures must not touch state.
	got, err := svc.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, got.Archived)
	require.False(t, got.Hidden)
}

func TestRemoveLateWithSpendArchives(t *testing.T) {
	svc, db, fake, node := setupService(t)
	ctx := context.Background()

	a := createAssignment(t, svc, node)
	grantChannel(t, db, node, a.BuyerID, "facebook", "fb-77")
	recordSpend(t, db, "1001", "fb-77", testStart, 250, 5)

	fake.Advance(10 * time.Minute)

	result, err := svc.Remove(ctx, assignmentdomain.RemoveRequest{
		AssignmentID: a.ID,
		ActorName:    "alex",
		Reason:       assignmentdomain.ReasonMisclick,
	})
	require.NoError(t, err)
	require.False(t, result.Early)
	require.Equal(t, assignmentdomain.OutcomeArchived, result.Outcome)
	require.Equal(t, 250.0, result.TotalCost)

	got, err := svc.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, got.Archived)
	require.NotNil(t, got.ArchivedAt)
	require.False(t, got.Hidden)

	history, err := svc.History(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	archived := history[1]
	require.Equal(t, assignmentdomain.HistoryArchived, archived.Action)
	require.NotNil(t, archived.Reason)
	require.Equal(t, assignmentdomain.ReasonMisclick, *archived.Reason)
}

func TestRemoveEarlyWithSpendStillArchives(t *testing.T) {
	svc, db, fake, node := setupService(t)
	ctx := context.Background()

	a := createAssignment(t, svc, node)
	grantChannel(t, db, node, a.BuyerID, "facebook", "fb-1")
	recordSpend(t, db, "1001", "fb-1", testStart, 40, 1)

	fake.Advance(time.Minute)

	// The archive-or-hide decision comes from spend, not the branch:
	// an early removal with money spent still archives, just without a
	// reason.
	result, err := svc.Remove(ctx, assignmentdomain.RemoveRequest{
		AssignmentID: a.ID,
		ActorName:    "alex",
	})
	require.NoError(t, err)
	require.True(t, result.Early)
	require.Equal(t, assignmentdomain.OutcomeArchived, result.Outcome)

	history, err := svc.History(ctx, a.ID)
	require.NoError(t, err)
	require.Nil(t, history[1].Reason)
}

func TestRemoveIgnoresOutOfWindowSpend(t *testing.T) {
	svc, db, fake, node := setupService(t)
	ctx := context.Background()

	a := createAssignment(t, svc, node)
	// Window closed before any of the spend below.
	limited := testStart.AddDate(0, 0, -30)
	require.NoError(t, db.Exec(
		`INSERT INTO buyer_channels (id, buyer_id, source, channel_id, access_granted, access_limited, created_at, updated_at)
		 VALUES (?, ?, ?, ?, NULL, ?, ?, ?)`,
		node.Generate(), a.BuyerID, "facebook", "fb-1", limited, testStart, testStart,
	).Error)
	recordSpend(t, db, "1001", "fb-1", testStart, 500, 3)

	fake.Advance(time.Minute)

	result, err := svc.Remove(ctx, assignmentdomain.RemoveRequest{
		AssignmentID: a.ID,
		ActorName:    "alex",
	})
	require.NoError(t, err)
	require.Equal(t, assignmentdomain.OutcomeHidden, result.Outcome)
	require.Equal(t, 0.0, result.TotalCost)
}

func TestRemoveIsIdempotent(t *testing.T) {
	svc, _, fake, node := setupService(t)
	ctx := context.Background()

	a := createAssignment(t, svc, node)
	fake.Advance(time.Minute)

	_, err := svc.Remove(ctx, assignmentdomain.RemoveRequest{AssignmentID: a.ID, ActorName: "alex"})
	require.NoError(t, err)

	_, err = svc.Remove(ctx, assignmentdomain.RemoveRequest{AssignmentID: a.ID, ActorName: "alex"})
	require.True(t, errors.Is(err, assignmentdomain.ErrAlreadyHidden) || errors.Is(err, assignmentdomain.ErrAlreadyArchived))

	history, err := svc.History(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestRestoreSupersedesArchivedRow(t *testing.T) {
	svc, db, fake, node := setupService(t)
	ctx := context.Background()

	a := createAssignment(t, svc, node)
	grantChannel(t, db, node, a.BuyerID, "facebook", "fb-1")
	recordSpend(t, db, "1001", "fb-1", testStart, 90, 0)
	fake.Advance(10 * time.Minute)

	_, err := svc.Remove(ctx, assignmentdomain.RemoveRequest{
		AssignmentID: a.ID, ActorName: "alex", Reason: assignmentdomain.ReasonChangedMind,
	})
	require.NoError(t, err)

	restored, err := svc.Restore(ctx, assignmentdomain.RestoreRequest{
		AssignmentID: a.ID, ActorName: "alex",
	})
	require.NoError(t, err)
	require.NotEqual(t, a.ID, restored.ID)
	require.Equal(t, a.OfferID, restored.OfferID)
	require.Equal(t, a.CampaignLabel, restored.CampaignLabel)

	// Superseded original leaves every list but stays on disk.
	var hidden bool
	require.NoError(t, db.Raw(`SELECT hidden FROM assignments WHERE id = ?`, a.ID).Scan(&hidden).Error)
	require.True(t, hidden)

	visible, err := svc.ListVisible(ctx, a.OfferID)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	require.Equal(t, restored.ID, visible[0].ID)
}

func TestRestoreRejectsNonArchived(t *testing.T) {
	svc, _, fake, node := setupService(t)
	ctx := context.Background()

	a := createAssignment(t, svc, node)
	_, err := svc.Restore(ctx, assignmentdomain.RestoreRequest{AssignmentID: a.ID, ActorName: "alex"})
	require.ErrorIs(t, err, assignmentdomain.ErrNotArchived)

	fake.Advance(time.Minute)
	_, err = svc.Remove(ctx, assignmentdomain.RemoveRequest{AssignmentID: a.ID, ActorName: "alex"})
	require.NoError(t, err)

	// Hidden rows are terminal, not restorable.
	_, err = svc.Restore(ctx, assignmentdomain.RestoreRequest{AssignmentID: a.ID, ActorName: "alex"})
	require.ErrorIs(t, err, assignmentdomain.ErrNotArchived)
}

func TestEarlyLateBoundaryUsesConfiguredPeriod(t *testing.T) {
	svc, _, fake, node := setupService(t)
	ctx := context.Background()

	a := createAssignment(t, svc, node)
	fake.Advance(3 * time.Minute)

	// Exactly at the boundary counts as late.
	_, err := svc.Remove(ctx, assignmentdomain.RemoveRequest{AssignmentID: a.ID, ActorName: "alex"})
	require.ErrorIs(t, err, assignmentdomain.ErrReasonRequired)
}
