// Package domain defines the persistence models for scheduled messages and
// user credentials. These types are mapped with GORM and form the core data
// layer of the Slack Connect application.
package domain

import "time"

// MessageStatus is the lifecycle state of a ScheduledMessage.
//
// A message starts as StatusPending and moves exactly once to one of the
// terminal states (StatusSent, StatusCancelled, StatusFailed). Transitions
// out of a terminal state are never performed; the repository enforces this
// with a conditional update on the current status.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusCancelled MessageStatus = "cancelled"
	StatusFailed    MessageStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s MessageStatus) Terminal() bool {
	switch s {
	case StatusSent, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is one of the known message statuses.
func (s MessageStatus) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// ScheduledMessage represents a message queued for future delivery to a
// Slack channel. The row is the single source of truth for the message
// lifecycle; in-memory timers only reference it by ID.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: Slack user who scheduled the message; indexed for listing.
//   - TeamID: Slack workspace the message belongs to.
//   - ChannelID / ChannelName: delivery target.
//   - Text: message body, never empty.
//   - ScheduledFor: absolute delivery time (UTC); strictly in the future
//     at creation time.
//   - Status: see MessageStatus; indexed together with ScheduledFor so the
//     recovery sweep's "pending and due" query stays cheap.
//   - SentAt: set only when the message reaches StatusSent.
//   - Error: human-readable cause, set only on StatusFailed.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type ScheduledMessage struct {
	ID           string        `json:"id"            gorm:"type:char(36);primaryKey"`
	UserID       string        `json:"user_id"       gorm:"type:varchar(64);not null;index:idx_user_messages"`
	TeamID       string        `json:"team_id"       gorm:"type:varchar(64);not null"`
	ChannelID    string        `json:"channel_id"    gorm:"type:varchar(64);not null"`
	ChannelName  string        `json:"channel_name"  gorm:"type:varchar(255);not null"`
	Text         string        `json:"message"       gorm:"type:text;not null"`
	ScheduledFor time.Time     `json:"scheduled_for" gorm:"not null;index:idx_status_due,priority:2"`
	Status       MessageStatus `json:"status"        gorm:"type:varchar(16);not null;default:'pending';index:idx_status_due,priority:1;check:status IN ('pending','sent','cancelled','failed')"`
	SentAt       *time.Time    `json:"sent_at,omitempty"`
	Error        string        `json:"error,omitempty" gorm:"type:text"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// TableName returns the database table name for ScheduledMessage.
func (ScheduledMessage) TableName() string { return "scheduled_messages" }

// UserCredential holds the Slack OAuth token material for a single user.
// There is exactly one row per Slack user.
//
// Fields:
//   - UserID: Slack user ID, primary key.
//   - TeamID: Slack workspace ID.
//   - AccessToken: always present once the row exists; never serialized.
//   - RefreshToken: empty when Slack did not issue one; without it an
//     expired token cannot be renewed.
//   - ExpiresAt: nil means the token never expires (non-rotating tokens).
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//
// A successful refresh replaces AccessToken, RefreshToken, and ExpiresAt in
// a single UPDATE so readers never observe a mix of old and new material.
type UserCredential struct {
	UserID       string     `json:"user_id"       gorm:"type:varchar(64);primaryKey"`
	TeamID       string     `json:"team_id"       gorm:"type:varchar(64);not null"`
	AccessToken  string     `json:"-"             gorm:"type:text;not null"`
	RefreshToken string     `json:"-"             gorm:"type:text"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName returns the database table name for UserCredential.
func (UserCredential) TableName() string { return "user_credentials" }
