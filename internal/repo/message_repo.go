// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ScheduledMessage model, including the conditional status transition that
// the delivery scheduler relies on for race safety.
//
// Error semantics:
//   - When a message is not found, functions return ErrNotFound (an alias
//     of gorm.ErrRecordNotFound).
//   - TransitionScheduledMessage returns ErrConflict when the row exists
//     but its status no longer matches the expected "from" status. Callers
//     treat that as "someone else already handled this".
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/harsh-dev0/Slack-connect/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrConflict is returned by TransitionScheduledMessage when the message
// exists but is not in the expected source status. The losing side of a
// timer-vs-sweep race observes this and does nothing further.
var ErrConflict = errors.New("status transition conflict")

// CreateScheduledMessage inserts a new pending message row. The message ID
// is a randomly generated UUID and CreatedAt is set to UTC.
func CreateScheduledMessage(ctx context.Context, db *gorm.DB, userID, teamID, channelID, channelName, text string, scheduledFor time.Time) (*domain.ScheduledMessage, error) {
	now := time.Now().UTC()
	m := &domain.ScheduledMessage{
		ID:           uuid.NewString(),
		UserID:       userID,
		TeamID:       teamID,
		ChannelID:    channelID,
		ChannelName:  channelName,
		Text:         text,
		ScheduledFor: scheduledFor.UTC(),
		Status:       domain.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// GetScheduledMessage fetches a message by ID, or ErrNotFound.
func GetScheduledMessage(ctx context.Context, db *gorm.DB, id string) (*domain.ScheduledMessage, error) {
	var m domain.ScheduledMessage
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListDueScheduledMessages returns all messages in the given status whose
// scheduled time is at or before the cutoff, ordered by scheduled time
// ascending. The recovery sweep calls this every pass with status=pending
// and cutoff=now.
func ListDueScheduledMessages(ctx context.Context, db *gorm.DB, status domain.MessageStatus, atOrBefore time.Time) ([]domain.ScheduledMessage, error) {
	var out []domain.ScheduledMessage
	err := db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", status, atOrBefore.UTC()).
		Order("scheduled_for ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListPendingAfter returns pending messages scheduled strictly after the
// cutoff. Startup recovery uses this to re-arm in-memory timers; already
// overdue rows are left for the first sweep pass.
func ListPendingAfter(ctx context.Context, db *gorm.DB, after time.Time) ([]domain.ScheduledMessage, error) {
	var out []domain.ScheduledMessage
	err := db.WithContext(ctx).
		Where("status = ? AND scheduled_for > ?", domain.StatusPending, after.UTC()).
		Order("scheduled_for ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CountUserScheduledMessages returns the total number of messages owned by
// userID in any of the given statuses.
func CountUserScheduledMessages(ctx context.Context, db *gorm.DB, userID string, statuses []domain.MessageStatus) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.ScheduledMessage{}).
		Where("user_id = ? AND status IN ?", userID, statuses).
		Count(&total).Error
	return total, err
}

// ListUserScheduledMessagesPage returns a paginated slice of a user's
// messages in the given statuses, ordered by scheduled time ascending.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListUserScheduledMessagesPage(ctx context.Context, db *gorm.DB, userID string, statuses []domain.MessageStatus, offset, limit int) ([]domain.ScheduledMessage, error) {
	var out []domain.ScheduledMessage
	err := db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, statuses).
		Order("scheduled_for ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// TransitionFields carries the terminal-state bookkeeping written together
// with a status change. Exactly one of SentAt/Error is set, matching the
// target status.
type TransitionFields struct {
	SentAt *time.Time
	Error  string
}

// TransitionScheduledMessage atomically moves a message from one status to
// another. The transition is a single conditional UPDATE guarded on the
// current status (compare-and-swap), never a read-then-write pair, so a
// timer fire and a concurrent sweep pick of the same message cannot both
// succeed.
//
// Returns nil on success, ErrConflict when the row exists in a different
// status, and ErrNotFound when no such row exists.
func TransitionScheduledMessage(ctx context.Context, db *gorm.DB, id string, from, to domain.MessageStatus, fields TransitionFields) error {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if fields.SentAt != nil {
		updates["sent_at"] = fields.SentAt.UTC()
	}
	if fields.Error != "" {
		updates["error"] = fields.Error
	}

	res := db.WithContext(ctx).
		Model(&domain.ScheduledMessage{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// Zero rows: the message is either gone or already in another status.
	var n int64
	if err := db.WithContext(ctx).
		Model(&domain.ScheduledMessage{}).
		Where("id = ?", id).
		Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}
