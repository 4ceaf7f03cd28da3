// Package repository persists tracker-status records so a restarted
// worker can warm the cache before its first sync completes.
package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	statusdomain "github.com/adlift/trafficdesk/internal/status/domain"
)

type Repository interface {
	UpsertRecords(ctx context.Context, db *gorm.DB, rows []statusdomain.RecordRow) error
	LoadAll(ctx context.Context, db *gorm.DB) ([]statusdomain.RecordRow, error)
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) UpsertRecords(ctx context.Context, db *gorm.DB, rows []statusdomain.RecordRow) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "offer_id"}, {Name: "buyer_id"}, {Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "last_spend_date", "channel_ids", "refreshed_at", "updated_at",
		}),
	}).Create(&rows).Error
}

func (r *repo) LoadAll(ctx context.Context, db *gorm.DB) ([]statusdomain.RecordRow, error) {
	var rows []statusdomain.RecordRow
	err := db.WithContext(ctx).Raw(
		`SELECT offer_id, buyer_id, source, status, last_spend_date, channel_ids, refreshed_at, updated_at
		 FROM status_records`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
