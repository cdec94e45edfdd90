// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/harsh-dev0/Slack-connect/internal/domain"
)

// ScheduledMessageStats returns aggregate metadata for a user's scheduled
// messages: the total number of rows and the maximum UpdatedAt timestamp
// among them. The HTTP layer derives a weak ETag from the pair, so a list
// response only changes when a message is created or transitions status.
//
// When the user has no messages, the returned count is 0 and maxUpdatedAt
// is nil.
func ScheduledMessageStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.ScheduledMessage{}).Where("user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
