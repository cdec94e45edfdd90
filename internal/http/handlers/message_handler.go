// Message HTTP handlers.
//
// This file exposes REST endpoints for message resources:
//   - POST   /messages/send               (send immediately)
//   - POST   /messages/schedule           (queue for future delivery)
//   - GET    /messages/scheduled/:userId  (list, paginated, ETag support)
//   - DELETE /messages/scheduled/:id      (cancel a pending message)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/harsh-dev0/Slack-connect/internal/domain"
	"github.com/harsh-dev0/Slack-connect/internal/http/middleware"
	"github.com/harsh-dev0/Slack-connect/internal/repo"
	"github.com/harsh-dev0/Slack-connect/internal/services"
	"github.com/harsh-dev0/Slack-connect/internal/slack"
	"github.com/harsh-dev0/Slack-connect/internal/utils"
)

//
// Service contracts (context-aware)
//

// MessageService defines message operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MessageService interface {
	// SendNow posts a message to a channel immediately.
	SendNow(ctx context.Context, userID, channelID, text string) error
	// Schedule queues a message for future delivery and arms its timer.
	Schedule(ctx context.Context, draft services.ScheduleDraft) (*domain.ScheduledMessage, error)
	// ListPage returns a page of a user's scheduled messages and the total count.
	ListPage(ctx context.Context, userID string, statuses []domain.MessageStatus, page, pageSize int) ([]domain.ScheduledMessage, int64, error)
	// Cancel moves a pending message to cancelled.
	Cancel(ctx context.Context, id string) error
	// Get fetches a single scheduled message.
	Get(ctx context.Context, id string) (*domain.ScheduledMessage, error)
}

// AuthService defines the OAuth connect flow operations.
type AuthService interface {
	AuthURL() string
	HandleCallback(ctx context.Context, code string) (userID, teamID string, err error)
	Status(ctx context.Context, userID string) (services.ConnectionStatus, error)
}

// ChannelService lists the channels a connected user can post to.
type ChannelService interface {
	List(ctx context.Context, userID string) ([]slack.Channel, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for messages, auth, and channels.
type Handlers struct {
	msgSvc  MessageService
	authSvc AuthService
	chanSvc ChannelService

	// DB is used only for cheap aggregate queries (ETag) and idempotency
	// records; business logic stays in the services.
	DB *gorm.DB

	// IdempotencyTTL bounds how long a schedule Idempotency-Key replays.
	IdempotencyTTL time.Duration
}

// New constructs a Handlers instance bound to the given services.
func New(msgSvc MessageService, authSvc AuthService, chanSvc ChannelService, db *gorm.DB, idemTTL time.Duration) *Handlers {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Handlers{msgSvc: msgSvc, authSvc: authSvc, chanSvc: chanSvc, DB: db, IdempotencyTTL: idemTTL}
}

//
// DTOs
//

// SendMessageRequest is the JSON payload for an immediate send.
type SendMessageRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	ChannelID string `json:"channel_id" binding:"required"`
	Text      string `json:"message" binding:"required"`
}

// ScheduleMessageRequest is the JSON payload for queueing a message.
type ScheduleMessageRequest struct {
	UserID       string    `json:"user_id" binding:"required"`
	ChannelID    string    `json:"channel_id" binding:"required"`
	ChannelName  string    `json:"channel_name" binding:"required"`
	Text         string    `json:"message" binding:"required"`
	ScheduledFor time.Time `json:"scheduled_for" binding:"required"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListMessagesResponse wraps a page of scheduled messages.
type ListMessagesResponse struct {
	Messages   []domain.ScheduledMessage `json:"messages"`
	Pagination Pagination                `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// statusFilter parses the optional comma-separated status query param.
// Unknown values are rejected by returning ok=false.
func statusFilter(c *gin.Context) (statuses []domain.MessageStatus, valid bool) {
	raw := strings.TrimSpace(c.Query("status"))
	if raw == "" {
		return nil, true
	}
	for _, p := range strings.Split(raw, ",") {
		s := domain.MessageStatus(strings.TrimSpace(p))
		if !s.Valid() {
			return nil, false
		}
		statuses = append(statuses, s)
	}
	return statuses, true
}

// credentialFail maps credential resolution errors onto HTTP responses.
func credentialFail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotConnected, "user not connected to slack")
	case errors.Is(err, services.ErrTokenUnrefreshable), errors.Is(err, slack.ErrTokenInvalid):
		fail(c, http.StatusUnauthorized, ErrCodeTokenExpired, "slack token expired")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

//
// Handlers
//

// SendMessage posts a message to Slack immediately, without persisting it.
func (h *Handlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user_id, channel_id and message are required")
		return
	}

	err := h.msgSvc.SendNow(c.Request.Context(), req.UserID, req.ChannelID, req.Text)
	switch {
	case err == nil:
		ok(c, http.StatusOK, gin.H{"success": true})
	case errors.Is(err, services.ErrEmptyMessage), errors.Is(err, services.ErrMissingChannel):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrTokenUnrefreshable),
		errors.Is(err, slack.ErrTokenInvalid):
		credentialFail(c, err)
	default:
		fail(c, http.StatusBadGateway, ErrCodeSendFailed, err.Error())
	}
}

// ScheduleMessage validates the draft and queues it for future delivery.
// When the request carries an Idempotency-Key already seen for this user,
// the originally created message is returned instead of queueing a second
// delivery.
func (h *Handlers) ScheduleMessage(c *gin.Context) {
	var req ScheduleMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest,
			"user_id, channel_id, channel_name, message and scheduled_for are required")
		return
	}

	ctx := c.Request.Context()
	idemKey := middleware.IdempotencyKeyFrom(c)

	// Replay: return the message created by the first attempt.
	if idemKey != "" {
		if rec, err := repo.GetIdempotency(ctx, h.DB, req.UserID, idemKey, time.Now().UTC()); err == nil {
			if msg, err := h.msgSvc.Get(ctx, rec.MessageID); err == nil {
				ok(c, rec.Status, gin.H{"success": true, "message_id": msg.ID, "scheduled_message": msg})
				return
			}
		}
	}

	msg, err := h.msgSvc.Schedule(ctx, services.ScheduleDraft{
		UserID:       req.UserID,
		ChannelID:    req.ChannelID,
		ChannelName:  req.ChannelName,
		Text:         req.Text,
		ScheduledFor: req.ScheduledFor,
	})
	switch {
	case err == nil:
	case errors.Is(err, services.ErrScheduleInPast):
		fail(c, http.StatusBadRequest, ErrCodeScheduleInPast, err.Error())
		return
	case errors.Is(err, services.ErrEmptyMessage), errors.Is(err, services.ErrMissingChannel):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotConnected, "user not connected to slack")
		return
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	// Record the key after the message exists; a duplicate means a
	// concurrent retry won the race, which is fine.
	if idemKey != "" {
		_, _ = repo.CreateIdempotency(ctx, h.DB, req.UserID, req.ChannelID, idemKey,
			msg.ID, http.StatusCreated, h.IdempotencyTTL)
	}

	ok(c, http.StatusCreated, gin.H{"success": true, "message_id": msg.ID, "scheduled_message": msg})
}

// ListScheduledMessages returns a page of the user's scheduled messages
// ordered by scheduled time ascending. Cancelled messages are hidden unless
// explicitly requested via the status filter. Supports weak ETags.
func (h *Handlers) ListScheduledMessages(c *gin.Context) {
	ctx := c.Request.Context()
	uid := c.Param("userId")
	page, pageSize := clampPagination(c)

	statuses, valid := statusFilter(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status must be a comma-separated list of pending, sent, cancelled, failed")
		return
	}

	// ETag pre-check (best effort).
	if h.DB != nil {
		count, maxTS, err := repo.ScheduledMessageStats(ctx, h.DB, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.msgSvc.ListPage(ctx, uid, statuses, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// CancelScheduledMessage cancels a pending message. Cancelling a message
// that already left pending is a user-visible error, not a silent no-op.
func (h *Handlers) CancelScheduledMessage(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message id must be a UUID")
		return
	}

	err := h.msgSvc.Cancel(c.Request.Context(), id)
	switch {
	case err == nil:
		ok(c, http.StatusOK, gin.H{"success": true})
	case errors.Is(err, services.ErrMessageNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "scheduled message not found")
	case errors.Is(err, services.ErrNotCancellable):
		fail(c, http.StatusConflict, ErrCodeNotCancellable, "only pending messages can be cancelled")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
