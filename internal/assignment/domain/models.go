// Package domain contains persistence models for buyer-offer
// assignments and their append-only history trail.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	statusdomain "github.com/adlift/trafficdesk/internal/status/domain"
)

// Assignment binds a buyer to an offer on one traffic source. Rows are
// never physically deleted: removal either archives (spend happened) or
// hides (no financial footprint) through the lifecycle service.
// Archived and hidden are mutually exclusive.
type Assignment struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	OfferID       snowflake.ID `gorm:"column:offer_id;not null;index"`
	BuyerID       snowflake.ID `gorm:"column:buyer_id;not null;index"`
	Source        string       `gorm:"type:text;not null"`
	CampaignLabel string       `gorm:"column:campaign_label;type:text;not null"`
	Archived      bool         `gorm:"not null;default:false"`
	ArchivedAt    *time.Time   `gorm:"column:archived_at"`
	Hidden        bool         `gorm:"not null;default:false"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Assignment) TableName() string { return "assignments" }

// articleKeyDelimiters are the label separators recognized by the
// tracker join. The first segment before the earliest one wins.
const articleKeyDelimiters = "- _|:"

// ArticleKey extracts the tracker join key from the free-text campaign
// label: everything before the earliest delimiter, or the whole label
// when none occurs. Empty keys are a validation failure upstream.
func (a Assignment) ArticleKey() string {
	label := strings.TrimSpace(a.CampaignLabel)
	if idx := strings.IndexAny(label, articleKeyDelimiters); idx >= 0 {
		return label[:idx]
	}
	return label
}

// StatusKey is the tracker-status cache key for this assignment.
func (a Assignment) StatusKey() statusdomain.Key {
	return statusdomain.Key{OfferID: a.OfferID, BuyerID: a.BuyerID, Source: a.Source}
}

// DaysSince reports whole days between creation and now.
func (a Assignment) DaysSince(now time.Time) int {
	d := now.UTC().Sub(a.CreatedAt.UTC())
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// HistoryAction labels one audit trail entry.
type HistoryAction string

const (
	HistoryAssigned HistoryAction = "assigned"
	HistoryArchived HistoryAction = "archived"
	HistoryRemoved  HistoryAction = "removed"
)

// Removal reasons offered on late removal. ReasonOther requires a
// non-empty free-text detail.
const (
	ReasonChangedMind = "Передумал"
	ReasonMisclick    = "Мисклик"
	ReasonOther       = "other"
)

// HistoryEntry is one append-only audit record. Reason fields stay nil
// for early removals; there is no "not applicable" marker.
type HistoryEntry struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	AssignmentID  snowflake.ID      `gorm:"column:assignment_id;not null;index"`
	Action        HistoryAction     `gorm:"type:text;not null"`
	ActorName     string            `gorm:"column:actor_name;type:text;not null"`
	Reason        *string           `gorm:"type:text"`
	ReasonDetails *string           `gorm:"column:reason_details;type:text"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (HistoryEntry) TableName() string { return "assignment_history" }
