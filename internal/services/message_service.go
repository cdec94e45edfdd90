// Package services – MessageService
//
// This file implements MessageService, the application-level component
// behind the message endpoints. It validates drafts, persists scheduled
// messages, hands them to the SchedulerService, lists a user's messages
// with pagination, cancels pending ones, and performs immediate sends.
//
// Observability: public methods are OpenTelemetry-instrumented; spans
// include user/channel identifiers where applicable.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harsh-dev0/Slack-connect/internal/domain"
	"github.com/harsh-dev0/Slack-connect/internal/repo"
)

// MessageRepo defines the persistence contract required by MessageService.
type MessageRepo interface {
	CreateScheduledMessage(ctx context.Context, db *gorm.DB, userID, teamID, channelID, channelName, text string, scheduledFor time.Time) (*domain.ScheduledMessage, error)
	GetScheduledMessage(ctx context.Context, db *gorm.DB, id string) (*domain.ScheduledMessage, error)
	CountUserScheduledMessages(ctx context.Context, db *gorm.DB, userID string, statuses []domain.MessageStatus) (int64, error)
	ListUserScheduledMessagesPage(ctx context.Context, db *gorm.DB, userID string, statuses []domain.MessageStatus, offset, limit int) ([]domain.ScheduledMessage, error)
	TransitionScheduledMessage(ctx context.Context, db *gorm.DB, id string, from, to domain.MessageStatus, fields repo.TransitionFields) error
	GetCredential(ctx context.Context, db *gorm.DB, userID string) (*domain.UserCredential, error)
}

// Scheduler is the slice of SchedulerService the message service needs.
type Scheduler interface {
	Schedule(msg domain.ScheduledMessage)
	Cancel(id string)
}

// ScheduleDraft is a validated-on-entry request to queue a message.
type ScheduleDraft struct {
	UserID       string
	ChannelID    string
	ChannelName  string
	Text         string
	ScheduledFor time.Time
}

// listStatuses are the statuses shown on the scheduled-messages list by
// default. Cancelled rows are hidden, matching the UI's expectations.
var listStatuses = []domain.MessageStatus{
	domain.StatusPending, domain.StatusSent, domain.StatusFailed,
}

// MessageService coordinates message persistence, scheduling, and sending.
type MessageService struct {
	DB        *gorm.DB
	Repo      MessageRepo
	Scheduler Scheduler
	Tokens    TokenResolver
	Sender    MessageSender

	// MaxTextRunes caps the message body length; 0 disables the check.
	MaxTextRunes int

	// Now is a clock seam for tests; defaults to time.Now.
	Now func() time.Time
}

// NewMessageService constructs a MessageService with sane defaults.
func NewMessageService(db *gorm.DB, r MessageRepo, sched Scheduler, tokens TokenResolver, sender MessageSender) *MessageService {
	return &MessageService{
		DB:           db,
		Repo:         r,
		Scheduler:    sched,
		Tokens:       tokens,
		Sender:       sender,
		MaxTextRunes: 4000, // chat.postMessage truncates around 40k chars; keep well under
		Now:          time.Now,
	}
}

// SendNow resolves the user's token and posts the message immediately.
// Nothing is persisted; this is the "send right away" path.
func (s *MessageService) SendNow(ctx context.Context, userID, channelID, text string) error {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "SendNow",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("channel.id", channelID),
		),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if channelID == "" {
		return ErrMissingChannel
	}

	token, err := s.Tokens.Resolve(ctx, userID)
	if err != nil {
		return err
	}
	return s.Sender.PostMessage(ctx, token, channelID, text)
}

// Schedule validates the draft, persists a pending row, and arms a delivery
// timer. The scheduled time must be strictly in the future and the user
// must have completed the Slack connect flow.
func (s *MessageService) Schedule(ctx context.Context, draft ScheduleDraft) (*domain.ScheduledMessage, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Schedule",
		trace.WithAttributes(
			attribute.String("user.id", draft.UserID),
			attribute.String("channel.id", draft.ChannelID),
		),
	)
	defer span.End()

	draft.Text = strings.TrimSpace(draft.Text)
	if draft.Text == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxTextRunes > 0 && len([]rune(draft.Text)) > s.MaxTextRunes {
		return nil, ErrEmptyMessage
	}
	if draft.ChannelID == "" {
		return nil, ErrMissingChannel
	}
	if !draft.ScheduledFor.After(s.Now()) {
		return nil, ErrScheduleInPast
	}

	cred, err := s.Repo.GetCredential(ctx, s.DB, draft.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	msg, err := s.Repo.CreateScheduledMessage(ctx, s.DB,
		draft.UserID, cred.TeamID, draft.ChannelID, draft.ChannelName,
		draft.Text, draft.ScheduledFor)
	if err != nil {
		return nil, err
	}

	s.Scheduler.Schedule(*msg)
	return msg, nil
}

// ListPage returns a page of a user's scheduled messages ordered by
// scheduled time ascending, plus the total count for pagination metadata.
// An empty statuses filter defaults to pending|sent|failed.
func (s *MessageService) ListPage(ctx context.Context, userID string, statuses []domain.MessageStatus, page, pageSize int) ([]domain.ScheduledMessage, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if len(statuses) == 0 {
		statuses = listStatuses
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountUserScheduledMessages(ctx, s.DB, userID, statuses)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ScheduledMessage{}, 0, nil
	}

	items, err := s.Repo.ListUserScheduledMessagesPage(ctx, s.DB, userID, statuses, offset, pageSize)
	return items, total, err
}

// Cancel moves a pending message to cancelled and disarms its timer.
//
// The store transition is the source of truth: it is applied first, and only
// when it succeeds is the in-memory timer removed. A message that already
// left pending (sent, failed, or cancelled) yields ErrNotCancellable; a
// missing message yields ErrMessageNotFound.
func (s *MessageService) Cancel(ctx context.Context, id string) error {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Cancel",
		trace.WithAttributes(attribute.String("message.id", id)),
	)
	defer span.End()

	err := s.Repo.TransitionScheduledMessage(ctx, s.DB, id,
		domain.StatusPending, domain.StatusCancelled, repo.TransitionFields{})
	switch {
	case err == nil:
		s.Scheduler.Cancel(id)
		return nil
	case errors.Is(err, repo.ErrConflict):
		return ErrNotCancellable
	case errors.Is(err, repo.ErrNotFound):
		return ErrMessageNotFound
	default:
		return err
	}
}

// Get fetches a single scheduled message by ID.
func (s *MessageService) Get(ctx context.Context, id string) (*domain.ScheduledMessage, error) {
	msg, err := s.Repo.GetScheduledMessage(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}
