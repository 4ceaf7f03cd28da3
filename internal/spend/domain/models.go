// Package domain models the external ad-spend store (tracker). The
// tracker is append-only and read-only from this module's perspective.
package domain

import (
	"context"
	"time"
)

// DailyMetric is one day of spend for one channel under one article.
type DailyMetric struct {
	Date      time.Time `gorm:"column:date"`
	ChannelID string    `gorm:"column:channel_id"`
	Cost      float64   `gorm:"column:cost"`
	Leads     int64     `gorm:"column:leads"`
}

// ChannelAggregate is the per (article, channel) reduction the sync job
// consumes: the most recent day with spend and today's summed cost.
type ChannelAggregate struct {
	ArticleKey    string     `gorm:"column:article_key"`
	ChannelID     string     `gorm:"column:channel_id"`
	LastSpendDate *time.Time `gorm:"column:last_spend_date"`
	SpendToday    float64    `gorm:"column:spend_today"`
}

// Store is the read-only query surface over the tracker.
type Store interface {
	FetchSeries(ctx context.Context, article string, channelIDs []string) ([]DailyMetric, error)
	AggregateByArticle(ctx context.Context, articleKeys, channelIDs []string, today time.Time) ([]ChannelAggregate, error)
}
