// Package services – CredentialService
//
// This file implements the credential resolver: given a Slack user ID it
// returns an access token that is valid right now, transparently refreshing
// an expired token through Slack's oauth.v2.access refresh grant and
// persisting the new material before returning it.
//
// Concurrency: Resolve may be invoked for the same user from several
// goroutines at once (a sweep pass and a manual send, for instance). No
// locking is used beyond the repository's atomic token replacement; when two
// refreshes race, the last write wins and both issued tokens are valid, so
// either outcome is correct.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harsh-dev0/Slack-connect/internal/domain"
	"github.com/harsh-dev0/Slack-connect/internal/slack"
)

// TokenRefresher exchanges a refresh token for new token material.
// *slack.Client satisfies this.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*slack.OAuthResponse, error)
}

// CredentialRepo defines the persistence contract required by CredentialService.
type CredentialRepo interface {
	GetCredential(ctx context.Context, db *gorm.DB, userID string) (*domain.UserCredential, error)
	ReplaceCredentialTokens(ctx context.Context, db *gorm.DB, userID, accessToken, refreshToken string, expiresAt *time.Time) error
}

// CredentialService resolves a user's current access token, refreshing it
// when expired.
type CredentialService struct {
	DB        *gorm.DB
	Repo      CredentialRepo
	Refresher TokenRefresher

	// Now is a clock seam for tests; defaults to time.Now.
	Now func() time.Time
}

// NewCredentialService constructs a CredentialService with a real clock.
func NewCredentialService(db *gorm.DB, r CredentialRepo, refresher TokenRefresher) *CredentialService {
	return &CredentialService{DB: db, Repo: r, Refresher: refresher, Now: time.Now}
}

// Resolve returns an access token for userID that is valid at call time.
//
// If the stored token carries an expiry at or before now, the refresh token
// is exchanged once; success atomically replaces the stored material, and
// failure maps to ErrTokenUnrefreshable without any retry. A token with no
// expiry is treated as never expiring.
func (s *CredentialService) Resolve(ctx context.Context, userID string) (string, error) {
	tr := otel.Tracer("services/CredentialService")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	cred, err := s.Repo.GetCredential(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}

	now := s.Now().UTC()
	if cred.ExpiresAt == nil || cred.ExpiresAt.After(now) {
		return cred.AccessToken, nil
	}

	if cred.RefreshToken == "" {
		return "", ErrTokenUnrefreshable
	}

	resp, err := s.Refresher.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenUnrefreshable, err)
	}

	access, refresh, expiresAt := tokenMaterial(resp, now)
	if access == "" {
		return "", fmt.Errorf("%w: refresh response carried no access token", ErrTokenUnrefreshable)
	}

	if err := s.Repo.ReplaceCredentialTokens(ctx, s.DB, userID, access, refresh, expiresAt); err != nil {
		return "", err
	}
	return access, nil
}

// tokenMaterial extracts the effective token fields from an OAuth response.
// Slack returns user tokens under authed_user for user-scoped apps and at
// the top level for refresh grants issued against bot tokens; prefer the
// authed_user block when present, as the original connect flow stores the
// user token.
func tokenMaterial(resp *slack.OAuthResponse, now time.Time) (access, refresh string, expiresAt *time.Time) {
	access = resp.AuthedUser.AccessToken
	refresh = resp.AuthedUser.RefreshToken
	expiresIn := resp.AuthedUser.ExpiresIn
	if access == "" {
		access = resp.AccessToken
		refresh = resp.RefreshToken
		expiresIn = resp.ExpiresIn
	}
	if expiresIn > 0 {
		t := now.Add(time.Duration(expiresIn) * time.Second)
		expiresAt = &t
	}
	return access, refresh, expiresAt
}
