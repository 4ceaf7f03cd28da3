package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	channeldomain "github.com/adlift/trafficdesk/internal/channel/domain"
)

type repo struct{}

func Provide() channeldomain.Repository {
	return &repo{}
}

func (r *repo) ListByBuyer(ctx context.Context, db *gorm.DB, buyerID snowflake.ID) ([]channeldomain.Channel, error) {
	var channels []channeldomain.Channel
	err := db.WithContext(ctx).Raw(
		`SELECT id, buyer_id, source, channel_id, access_granted, access_limited, created_at, updated_at
		 FROM buyer_channels
		 WHERE buyer_id = ?
		 ORDER BY id`,
		buyerID,
	).Scan(&channels).Error
	if err != nil {
		return nil, err
	}
	return channels, nil
}

func (r *repo) ListByBuyers(ctx context.Context, db *gorm.DB, buyerIDs []snowflake.ID) ([]channeldomain.Channel, error) {
	if len(buyerIDs) == 0 {
		return nil, nil
	}
	var channels []channeldomain.Channel
	err := db.WithContext(ctx).Raw(
		`SELECT id, buyer_id, source, channel_id, access_granted, access_limited, created_at, updated_at
		 FROM buyer_channels
		 WHERE buyer_id IN ?
		 ORDER BY buyer_id, id`,
		buyerIDs,
	).Scan(&channels).Error
	if err != nil {
		return nil, err
	}
	return channels, nil
}
