// Package domain contains buyer channel settings models. These rows are
// owned by user management; this module only reads them.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Channel is one ad-platform account attributed to a buyer for a given
// traffic source. AccessGranted nil means no lower bound; AccessLimited
// nil means the attribution is still open-ended.
type Channel struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	BuyerID       snowflake.ID `gorm:"column:buyer_id;not null;index"`
	Source        string       `gorm:"type:text;not null"`
	ChannelID     string       `gorm:"column:channel_id;type:text"`
	AccessGranted *time.Time   `gorm:"column:access_granted"`
	AccessLimited *time.Time   `gorm:"column:access_limited"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Channel) TableName() string { return "buyer_channels" }

type Repository interface {
	ListByBuyer(ctx context.Context, db *gorm.DB, buyerID snowflake.ID) ([]Channel, error)
	ListByBuyers(ctx context.Context, db *gorm.DB, buyerIDs []snowflake.ID) ([]Channel, error)
}
