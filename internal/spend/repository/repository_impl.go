package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/adlift/trafficdesk/internal/config"
	spenddomain "github.com/adlift/trafficdesk/internal/spend/domain"
)

type store struct {
	db  *gorm.DB
	ops *config.OpsConfigHolder
}

func Provide(db *gorm.DB, ops *config.OpsConfigHolder) spenddomain.Store {
	return &store{db: db, ops: ops}
}

// table returns the configured tracker table name. The name is
// validated as a bare identifier on config load and reload, so
// interpolating it into SQL is safe.
func (s *store) table() string {
	if name := s.ops.Get().TrackerTable; name != "" {
		return name
	}
	return config.DefaultOpsConfig().TrackerTable
}

func (s *store) FetchSeries(ctx context.Context, article string, channelIDs []string) ([]spenddomain.DailyMetric, error) {
	if article == "" || len(channelIDs) == 0 {
		return nil, nil
	}
	var series []spenddomain.DailyMetric
	err := s.db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT date, channel_id, cost, leads
		 FROM %s
		 WHERE article_key = ? AND channel_id IN ?
		 ORDER BY date DESC`, s.table()),
		article,
		channelIDs,
	).Scan(&series).Error
	if err != nil {
		return nil, err
	}
	return series, nil
}

func (s *store) AggregateByArticle(ctx context.Context, articleKeys, channelIDs []string, today time.Time) ([]spenddomain.ChannelAggregate, error) {
	if len(articleKeys) == 0 || len(channelIDs) == 0 {
		return nil, nil
	}
	day := today.UTC().Format("2006-01-02")
	var aggregates []spenddomain.ChannelAggregate
	err := s.db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT article_key, channel_id,
		        MAX(CASE WHEN cost > 0 THEN date END) AS last_spend_date,
		        SUM(CASE WHEN date = ? THEN cost ELSE 0 END) AS spend_today
		 FROM %s
		 WHERE article_key IN ? AND channel_id IN ?
		 GROUP BY article_key, channel_id`, s.table()),
		day,
		articleKeys,
		channelIDs,
	).Scan(&aggregates).Error
	if err != nil {
		return nil, err
	}
	return aggregates, nil
}
