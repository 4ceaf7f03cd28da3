package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, assignment *Assignment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Assignment, error)
	FindArchivedByKey(ctx context.Context, db *gorm.DB, offerID, buyerID snowflake.ID, source string) (*Assignment, error)
	FindLiveByKey(ctx context.Context, db *gorm.DB, offerID, buyerID snowflake.ID, source string) (*Assignment, error)
	ListVisible(ctx context.Context, db *gorm.DB, offerID snowflake.ID) ([]Assignment, error)
	ListArchived(ctx context.Context, db *gorm.DB, offerID snowflake.ID) ([]Assignment, error)
	ListActive(ctx context.Context, db *gorm.DB, limit, offset int) ([]Assignment, error)
	MarkArchived(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	MarkHidden(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	AppendHistory(ctx context.Context, db *gorm.DB, entry *HistoryEntry) error
	ListHistory(ctx context.Context, db *gorm.DB, assignmentID snowflake.ID) ([]HistoryEntry, error)
}
