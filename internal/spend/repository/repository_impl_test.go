package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/adlift/trafficdesk/internal/config"
)

func setupStore(t *testing.T, table string) *store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec(fmt.Sprintf(`CREATE TABLE %s (
		date DATE NOT NULL,
		article_key TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		cost REAL NOT NULL DEFAULT 0,
		leads INTEGER NOT NULL DEFAULT 0
	)`, table)).Error)

	cfg := config.DefaultOpsConfig()
	cfg.TrackerTable = table
	return Provide(db, config.StaticOpsConfigHolder(cfg)).(*store)
}

func TestStoreReadsConfiguredTable(t *testing.T) {
	s := setupStore(t, "spend_archive")
	ctx := context.Background()

	require.NoError(t, s.db.Exec(
		`INSERT INTO spend_archive (date, article_key, channel_id, cost, leads) VALUES ('2024-07-14', '1001', 'fb-1', 80, 2)`,
	).Error)

	series, err := s.FetchSeries(ctx, "1001", []string{"fb-1"})
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Equal(t, float64(80), series[0].Cost)

	today := time.Date(2024, 7, 15, 9, 0, 0, 0, time.UTC)
	aggregates, err := s.AggregateByArticle(ctx, []string{"1001"}, []string{"fb-1"}, today)
	require.NoError(t, err)
	require.Len(t, aggregates, 1)
	require.Equal(t, float64(0), aggregates[0].SpendToday)
	require.NotNil(t, aggregates[0].LastSpendDate)
}

func TestStoreEmptyInputsShortCircuit(t *testing.T) {
	s := setupStore(t, "ads_spend_daily")
	ctx := context.Background()

	series, err := s.FetchSeries(ctx, "", []string{"fb-1"})
	require.NoError(t, err)
	require.Nil(t, series)

	aggregates, err := s.AggregateByArticle(ctx, nil, []string{"fb-1"}, time.Now())
	require.NoError(t, err)
	require.Nil(t, aggregates)
}
