package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	assignmentdomain "github.com/adlift/trafficdesk/internal/assignment/domain"
)

type repo struct{}

func Provide() assignmentdomain.Repository {
	return &repo{}
}

const assignmentColumns = `id, offer_id, buyer_id, source, campaign_label,
	 archived, archived_at, hidden, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, assignment *assignmentdomain.Assignment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO assignments (
			id, offer_id, buyer_id, source, campaign_label,
			archived, archived_at, hidden, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		assignment.ID,
		assignment.OfferID,
		assignment.BuyerID,
		assignment.Source,
		assignment.CampaignLabel,
		assignment.Archived,
		assignment.ArchivedAt,
		assignment.Hidden,
		assignment.CreatedAt,
		assignment.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*assignmentdomain.Assignment, error) {
	var assignment assignmentdomain.Assignment
	err := db.WithContext(ctx).Raw(
		`SELECT `+assignmentColumns+`
		 FROM assignments WHERE id = ?`,
		id,
	).Scan(&assignment).Error
	if err != nil {
		return nil, err
	}
	if assignment.ID == 0 {
		return nil, nil
	}
	return &assignment, nil
}

func (r *repo) FindArchivedByKey(ctx context.Context, db *gorm.DB, offerID, buyerID snowflake.ID, source string) (*assignmentdomain.Assignment, error) {
	var assignment assignmentdomain.Assignment
	err := db.WithContext(ctx).Raw(
		`SELECT `+assignmentColumns+`
		 FROM assignments
		 WHERE offer_id = ? AND buyer_id = ? AND source = ?
		   AND archived = ? AND hidden = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		offerID,
		buyerID,
		source,
		true,
		false,
	).Scan(&assignment).Error
	if err != nil {
		return nil, err
	}
	if assignment.ID == 0 {
		return nil, nil
	}
	return &assignment, nil
}

func (r *repo) FindLiveByKey(ctx context.Context, db *gorm.DB, offerID, buyerID snowflake.ID, source string) (*assignmentdomain.Assignment, error) {
	var assignment assignmentdomain.Assignment
	err := db.WithContext(ctx).Raw(
		`SELECT `+assignmentColumns+`
		 FROM assignments
		 WHERE offer_id = ? AND buyer_id = ? AND source = ?
		   AND archived = ? AND hidden = ?
		 LIMIT 1`,
		offerID,
		buyerID,
		source,
		false,
		false,
	).Scan(&assignment).Error
	if err != nil {
		return nil, err
	}
	if assignment.ID == 0 {
		return nil, nil
	}
	return &assignment, nil
}

func (r *repo) ListVisible(ctx context.Context, db *gorm.DB, offerID snowflake.ID) ([]assignmentdomain.Assignment, error) {
	var assignments []assignmentdomain.Assignment
	err := db.WithContext(ctx).Raw(
		`SELECT `+assignmentColumns+`
		 FROM assignments
		 WHERE offer_id = ? AND hidden = ?
		 ORDER BY created_at ASC`,
		offerID,
		false,
	).Scan(&assignments).Error
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

func (r *repo) ListArchived(ctx context.Context, db *gorm.DB, offerID snowflake.ID) ([]assignmentdomain.Assignment, error) {
	var assignments []assignmentdomain.Assignment
	err := db.WithContext(ctx).Raw(
		`SELECT `+assignmentColumns+`
		 FROM assignments
		 WHERE offer_id = ? AND hidden = ? AND archived = ?
		 ORDER BY archived_at DESC`,
		offerID,
		false,
		true,
	).Scan(&assignments).Error
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, limit, offset int) ([]assignmentdomain.Assignment, error) {
	if limit <= 0 {
		limit = 500
	}
	var assignments []assignmentdomain.Assignment
	err := db.WithContext(ctx).Raw(
		`SELECT `+assignmentColumns+`
		 FROM assignments
		 WHERE hidden = ? AND archived = ?
		 ORDER BY id
		 LIMIT ? OFFSET ?`,
		false,
		false,
		limit,
		offset,
	).Scan(&assignments).Error
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

// MarkArchived flips archived on a live row only. RowsAffected zero
// means a concurrent commit already moved the row to a terminal state.
func (r *repo) MarkArchived(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE assignments
		 SET archived = ?, archived_at = COALESCE(archived_at, ?), updated_at = ?
		 WHERE id = ? AND archived = ? AND hidden = ?`,
		true,
		now,
		now,
		id,
		false,
		false,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkHidden(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE assignments
		 SET hidden = ?, updated_at = ?
		 WHERE id = ? AND hidden = ?`,
		true,
		now,
		id,
		false,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) AppendHistory(ctx context.Context, db *gorm.DB, entry *assignmentdomain.HistoryEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO assignment_history (
			id, assignment_id, action, actor_name, reason, reason_details, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.AssignmentID,
		entry.Action,
		entry.ActorName,
		entry.Reason,
		entry.ReasonDetails,
		entry.Metadata,
		entry.CreatedAt,
	).Error
}

func (r *repo) ListHistory(ctx context.Context, db *gorm.DB, assignmentID snowflake.ID) ([]assignmentdomain.HistoryEntry, error) {
	var entries []assignmentdomain.HistoryEntry
	err := db.WithContext(ctx).Raw(
		`SELECT id, assignment_id, action, actor_name, reason, reason_details, metadata, created_at
		 FROM assignment_history
		 WHERE assignment_id = ?
		 ORDER BY created_at ASC, id ASC`,
		assignmentID,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
