// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// UserCredential model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/harsh-dev0/Slack-connect/internal/domain"
)

// GetCredential fetches the credential row for a Slack user, or ErrNotFound.
func GetCredential(ctx context.Context, db *gorm.DB, userID string) (*domain.UserCredential, error) {
	var c domain.UserCredential
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertCredential inserts or fully replaces the credential row for a user.
// The OAuth callback calls this after every successful code exchange, so a
// reconnecting user simply overwrites their previous token material.
func UpsertCredential(ctx context.Context, db *gorm.DB, cred *domain.UserCredential) error {
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"team_id", "access_token", "refresh_token", "expires_at", "updated_at",
			}),
		}).
		Create(cred).Error
}

// ReplaceCredentialTokens swaps in freshly refreshed token material as a
// single UPDATE. Access token, refresh token, and expiry change together;
// readers never see a row mixing old and new values. Concurrent refreshes
// are benign: the last write wins and every token written was valid when
// issued.
//
// An empty refreshToken or nil expiresAt keeps the stored value, matching
// Slack's refresh responses which may omit either field.
func ReplaceCredentialTokens(ctx context.Context, db *gorm.DB, userID, accessToken, refreshToken string, expiresAt *time.Time) error {
	updates := map[string]any{
		"access_token": accessToken,
		"updated_at":   time.Now().UTC(),
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	if expiresAt != nil {
		updates["expires_at"] = expiresAt.UTC()
	}

	res := db.WithContext(ctx).
		Model(&domain.UserCredential{}).
		Where("user_id = ?", userID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
