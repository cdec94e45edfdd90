// Package services – AuthService
//
// This file implements the Slack OAuth connect flow around the one-shot
// authorization-code exchange: building the authorize URL, handling the
// redirect callback, and reporting a user's connection status. Token
// validity over time is the CredentialService's job; this service only
// establishes the initial credential row.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/harsh-dev0/Slack-connect/internal/domain"
	"github.com/harsh-dev0/Slack-connect/internal/slack"
)

// OAuthExchanger trades an authorization code for token material.
// *slack.Client satisfies this.
type OAuthExchanger interface {
	AuthorizeURL(scopes string) string
	ExchangeCode(ctx context.Context, code string) (*slack.OAuthResponse, error)
}

// AuthRepo defines the persistence contract required by AuthService.
type AuthRepo interface {
	GetCredential(ctx context.Context, db *gorm.DB, userID string) (*domain.UserCredential, error)
	UpsertCredential(ctx context.Context, db *gorm.DB, cred *domain.UserCredential) error
}

// ConnectionStatus describes whether (and how) a user is connected to Slack.
type ConnectionStatus struct {
	Connected bool       `json:"connected"`
	TeamID    string     `json:"team_id,omitempty"`
	ExpiresAt *time.Time `json:"token_expires,omitempty"`
}

// AuthService handles the OAuth connect flow and connection status.
type AuthService struct {
	DB     *gorm.DB
	Repo   AuthRepo
	Slack  OAuthExchanger
	Scopes string

	// Now is a clock seam for tests; defaults to time.Now.
	Now func() time.Time
}

// NewAuthService constructs an AuthService with the standard scopes the
// message composer needs.
func NewAuthService(db *gorm.DB, r AuthRepo, sl OAuthExchanger, scopes string) *AuthService {
	if scopes == "" {
		scopes = "channels:read,chat:write,users:read"
	}
	return &AuthService{DB: db, Repo: r, Slack: sl, Scopes: scopes, Now: time.Now}
}

// AuthURL returns the Slack authorization URL the browser should visit.
func (s *AuthService) AuthURL() string {
	return s.Slack.AuthorizeURL(s.Scopes)
}

// HandleCallback exchanges the authorization code and stores (or replaces)
// the user's credential. It returns the connected user and team IDs.
func (s *AuthService) HandleCallback(ctx context.Context, code string) (userID, teamID string, err error) {
	resp, err := s.Slack.ExchangeCode(ctx, code)
	if err != nil {
		return "", "", err
	}

	access, refresh, expiresAt := tokenMaterial(resp, s.Now().UTC())
	cred := &domain.UserCredential{
		UserID:       resp.AuthedUser.ID,
		TeamID:       resp.Team.ID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}
	if err := s.Repo.UpsertCredential(ctx, s.DB, cred); err != nil {
		return "", "", err
	}
	return cred.UserID, cred.TeamID, nil
}

// Status reports whether the user has a stored Slack credential. A missing
// row is not an error: the user simply has not connected yet.
func (s *AuthService) Status(ctx context.Context, userID string) (ConnectionStatus, error) {
	cred, err := s.Repo.GetCredential(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ConnectionStatus{Connected: false}, nil
		}
		return ConnectionStatus{}, err
	}
	return ConnectionStatus{
		Connected: true,
		TeamID:    cred.TeamID,
		ExpiresAt: cred.ExpiresAt,
	}, nil
}
