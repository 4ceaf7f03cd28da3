// Package domain contains the display status vocabulary shared by the
// classifier, the sync job and the status cache.
package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

// Status is the derived health of a buyer-offer assignment.
type Status string

const (
	StatusActive        Status = "active"
	StatusNotConfigured Status = "not_configured"
	StatusNotInTracker  Status = "not_in_tracker"
	StatusArchived      Status = "archived"
	StatusLoading       Status = "loading"
)

// Priority is the canonical sort ordering for statuses. Active sorts
// first, archived always last. Every list surface must order through
// this function; no call site defines its own ordering.
func (s Status) Priority() int {
	switch s {
	case StatusActive:
		return 0
	case StatusNotConfigured:
		return 1
	case StatusNotInTracker:
		return 2
	case StatusLoading:
		return 3
	case StatusArchived:
		return 4
	default:
		return 5
	}
}

// Key identifies one tracker-status cache entry.
type Key struct {
	OfferID snowflake.ID
	BuyerID snowflake.ID
	Source  string
}

func (k Key) String() string {
	return fmt.Sprintf("%d|%d|%s", k.OfferID, k.BuyerID, k.Source)
}

// Record is a tracker-status cache entry produced by the sync job.
// Status here is restricted to active, not_configured or not_in_tracker;
// LastSpendDate is set only for not_configured and points at the day
// after the most recent spend.
type Record struct {
	Status        Status
	LastSpendDate *time.Time
	RefreshedAt   time.Time
}

// Reader is the read-only cache dependency injected into status
// assembly. A missing entry is not an error.
type Reader interface {
	GetStatus(key Key) (Record, bool)
}

// RecordRow is the persisted form of a cache entry, written on every
// sync so a restarted worker serves stale-but-flagged data immediately.
type RecordRow struct {
	OfferID       snowflake.ID   `gorm:"column:offer_id;primaryKey"`
	BuyerID       snowflake.ID   `gorm:"column:buyer_id;primaryKey"`
	Source        string         `gorm:"column:source;type:text;primaryKey"`
	Status        Status         `gorm:"type:text;not null"`
	LastSpendDate *time.Time     `gorm:"column:last_spend_date"`
	ChannelIDs    pq.StringArray `gorm:"column:channel_ids;type:text[]"`
	RefreshedAt   time.Time      `gorm:"column:refreshed_at;not null"`
	UpdatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RecordRow) TableName() string { return "status_records" }
