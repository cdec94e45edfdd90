package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/harsh-dev0/Slack-connect/internal/domain"
	"github.com/harsh-dev0/Slack-connect/internal/http/middleware"
	"github.com/harsh-dev0/Slack-connect/internal/repo"
	"github.com/harsh-dev0/Slack-connect/internal/services"
	"github.com/harsh-dev0/Slack-connect/internal/slack"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeMessageService is a scriptable MessageService.
type fakeMessageService struct {
	sendErr     error
	scheduleErr error
	scheduled   *domain.ScheduledMessage
	listItems   []domain.ScheduledMessage
	listTotal   int64
	listErr     error
	cancelErr   error
	messages    map[string]*domain.ScheduledMessage

	gotDraft services.ScheduleDraft
}

func (f *fakeMessageService) SendNow(_ context.Context, _, _, _ string) error { return f.sendErr }

func (f *fakeMessageService) Schedule(_ context.Context, draft services.ScheduleDraft) (*domain.ScheduledMessage, error) {
	f.gotDraft = draft
	if f.scheduleErr != nil {
		return nil, f.scheduleErr
	}
	return f.scheduled, nil
}

func (f *fakeMessageService) ListPage(_ context.Context, _ string, _ []domain.MessageStatus, _, _ int) ([]domain.ScheduledMessage, int64, error) {
	return f.listItems, f.listTotal, f.listErr
}

func (f *fakeMessageService) Cancel(_ context.Context, _ string) error { return f.cancelErr }

func (f *fakeMessageService) Get(_ context.Context, id string) (*domain.ScheduledMessage, error) {
	m, ok := f.messages[id]
	if !ok {
		return nil, services.ErrMessageNotFound
	}
	return m, nil
}

// fakeAuth is a scriptable AuthService.
type fakeAuth struct {
	url       string
	userID    string
	teamID    string
	cbErr     error
	status    services.ConnectionStatus
	statusErr error
}

func (f *fakeAuth) AuthURL() string { return f.url }

func (f *fakeAuth) HandleCallback(context.Context, string) (string, string, error) {
	return f.userID, f.teamID, f.cbErr
}

func (f *fakeAuth) Status(context.Context, string) (services.ConnectionStatus, error) {
	return f.status, f.statusErr
}

// fakeChannels is a scriptable ChannelService.
type fakeChannels struct {
	channels []slack.Channel
	err      error
}

func (f *fakeChannels) List(context.Context, string) ([]slack.Channel, error) {
	return f.channels, f.err
}

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("handlers_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.ScheduledMessage{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mountMessageRoutes(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	r.POST("/messages/send", h.SendMessage)
	r.POST("/messages/schedule", h.ScheduleMessage)
	r.GET("/messages/scheduled/:userId", h.ListScheduledMessages)
	r.DELETE("/messages/scheduled/:id", h.CancelScheduledMessage)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSendMessage_SuccessAndBadRequest(t *testing.T) {
	svc := &fakeMessageService{}
	h := New(svc, &fakeAuth{}, &fakeChannels{}, nil, 0)
	r := mountMessageRoutes(h)

	w := doJSON(t, r, http.MethodPost, "/messages/send",
		`{"user_id":"U1","channel_id":"C1","message":"hi"}`, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"success":true`) {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}

	// Missing fields fail binding.
	w = doJSON(t, r, http.MethodPost, "/messages/send", `{"user_id":"U1"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSendMessage_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not connected", services.ErrUserNotFound, http.StatusNotFound, ErrCodeNotConnected},
		{"token expired", services.ErrTokenUnrefreshable, http.StatusUnauthorized, ErrCodeTokenExpired},
		{"slack rejected token", slack.ErrTokenInvalid, http.StatusUnauthorized, ErrCodeTokenExpired},
		{"slack failure", fmt.Errorf("channel_not_found"), http.StatusBadGateway, ErrCodeSendFailed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := New(&fakeMessageService{sendErr: c.err}, &fakeAuth{}, &fakeChannels{}, nil, 0)
			r := mountMessageRoutes(h)
			w := doJSON(t, r, http.MethodPost, "/messages/send",
				`{"user_id":"U1","channel_id":"C1","message":"hi"}`, nil)
			if w.Code != c.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, c.wantStatus, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), c.wantCode) {
				t.Fatalf("body = %s, want code %q", w.Body.String(), c.wantCode)
			}
		})
	}
}

func TestScheduleMessage_Created(t *testing.T) {
	msg := &domain.ScheduledMessage{
		ID: uuid.NewString(), UserID: "U1", ChannelID: "C1",
		Text: "hi", Status: domain.StatusPending,
	}
	svc := &fakeMessageService{scheduled: msg}
	h := New(svc, &fakeAuth{}, &fakeChannels{}, newHandlerDB(t), time.Hour)
	r := mountMessageRoutes(h)

	w := doJSON(t, r, http.MethodPost, "/messages/schedule",
		`{"user_id":"U1","channel_id":"C1","channel_name":"general","message":"hi","scheduled_for":"2030-01-01T10:00:00Z"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), msg.ID) {
		t.Fatalf("message_id missing: %s", w.Body.String())
	}
	if svc.gotDraft.ChannelName != "general" {
		t.Fatalf("draft not forwarded: %+v", svc.gotDraft)
	}
}

func TestScheduleMessage_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"past time", services.ErrScheduleInPast, http.StatusBadRequest, ErrCodeScheduleInPast},
		{"empty message", services.ErrEmptyMessage, http.StatusBadRequest, ErrCodeBadRequest},
		{"not connected", services.ErrUserNotFound, http.StatusNotFound, ErrCodeNotConnected},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := New(&fakeMessageService{scheduleErr: c.err}, &fakeAuth{}, &fakeChannels{}, newHandlerDB(t), time.Hour)
			r := mountMessageRoutes(h)
			w := doJSON(t, r, http.MethodPost, "/messages/schedule",
				`{"user_id":"U1","channel_id":"C1","channel_name":"general","message":"hi","scheduled_for":"2030-01-01T10:00:00Z"}`, nil)
			if w.Code != c.wantStatus || !strings.Contains(w.Body.String(), c.wantCode) {
				t.Fatalf("got %d %s, want %d %q", w.Code, w.Body.String(), c.wantStatus, c.wantCode)
			}
		})
	}
}

func TestScheduleMessage_IdempotentReplay(t *testing.T) {
	db := newHandlerDB(t)
	msg := &domain.ScheduledMessage{
		ID: uuid.NewString(), UserID: "U1", ChannelID: "C1",
		Text: "hi", Status: domain.StatusPending,
	}
	svc := &fakeMessageService{
		scheduled: msg,
		messages:  map[string]*domain.ScheduledMessage{msg.ID: msg},
	}
	h := New(svc, &fakeAuth{}, &fakeChannels{}, db, time.Hour)
	r := mountMessageRoutes(h)

	body := `{"user_id":"U1","channel_id":"C1","channel_name":"general","message":"hi","scheduled_for":"2030-01-01T10:00:00Z"}`
	hdr := map[string]string{
		middleware.HeaderIdempotencyKey: "retry-1",
		"X-User-ID":                     "U1",
	}

	w := doJSON(t, r, http.MethodPost, "/messages/schedule", body, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("first attempt: %d %s", w.Code, w.Body.String())
	}

	// The retry must serve the recorded result instead of scheduling again.
	svc.scheduled = &domain.ScheduledMessage{ID: "should-not-appear"}
	w = doJSON(t, r, http.MethodPost, "/messages/schedule", body, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("replay attempt: %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), msg.ID) || strings.Contains(w.Body.String(), "should-not-appear") {
		t.Fatalf("replay did not return the original message: %s", w.Body.String())
	}

	rec, err := repo.GetIdempotency(context.Background(), db, "U1", "retry-1", time.Now().UTC())
	if err != nil || rec.MessageID != msg.ID {
		t.Fatalf("idempotency record: %+v %v", rec, err)
	}
}

func TestListScheduledMessages_PaginationEnvelope(t *testing.T) {
	items := []domain.ScheduledMessage{
		{ID: "a", UserID: "U1", Status: domain.StatusPending},
		{ID: "b", UserID: "U1", Status: domain.StatusSent},
	}
	h := New(&fakeMessageService{listItems: items, listTotal: 5}, &fakeAuth{}, &fakeChannels{}, nil, 0)
	r := mountMessageRoutes(h)

	w := doJSON(t, r, http.MethodGet, "/messages/scheduled/U1?page=1&page_size=2", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ListMessagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) != 2 || resp.Pagination.Total != 5 {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	if resp.Pagination.TotalPages != 3 || !resp.Pagination.HasNext {
		t.Fatalf("unexpected pagination math: %+v", resp.Pagination)
	}
}

func TestListScheduledMessages_InvalidStatusFilter(t *testing.T) {
	h := New(&fakeMessageService{}, &fakeAuth{}, &fakeChannels{}, nil, 0)
	r := mountMessageRoutes(h)

	w := doJSON(t, r, http.MethodGet, "/messages/scheduled/U1?status=pending,bogus", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListScheduledMessages_ETagNotModified(t *testing.T) {
	db := newHandlerDB(t)
	seed := domain.ScheduledMessage{
		ID: uuid.NewString(), UserID: "U1", TeamID: "T1", ChannelID: "C1",
		ChannelName: "general", Text: "x", Status: domain.StatusPending,
		ScheduledFor: time.Now().UTC().Add(time.Hour),
	}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := New(&fakeMessageService{listItems: []domain.ScheduledMessage{seed}, listTotal: 1},
		&fakeAuth{}, &fakeChannels{}, db, 0)
	r := mountMessageRoutes(h)

	w := doJSON(t, r, http.MethodGet, "/messages/scheduled/U1", "", nil)
	etag := w.Header().Get("ETag")
	if w.Code != http.StatusOK || etag == "" {
		t.Fatalf("first fetch: %d etag=%q", w.Code, etag)
	}

	w = doJSON(t, r, http.MethodGet, "/messages/scheduled/U1", "", map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}
}

func TestCancelScheduledMessage(t *testing.T) {
	id := uuid.NewString()

	cases := []struct {
		name       string
		path       string
		cancelErr  error
		wantStatus int
		wantCode   string
	}{
		{"success", "/messages/scheduled/" + id, nil, http.StatusOK, ""},
		{"not a uuid", "/messages/scheduled/not-a-uuid", nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"not found", "/messages/scheduled/" + id, services.ErrMessageNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"already sent", "/messages/scheduled/" + id, services.ErrNotCancellable, http.StatusConflict, ErrCodeNotCancellable},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := New(&fakeMessageService{cancelErr: c.cancelErr}, &fakeAuth{}, &fakeChannels{}, nil, 0)
			r := mountMessageRoutes(h)
			w := doJSON(t, r, http.MethodDelete, c.path, "", nil)
			if w.Code != c.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, c.wantStatus, w.Body.String())
			}
			if c.wantCode != "" && !strings.Contains(w.Body.String(), c.wantCode) {
				t.Fatalf("body = %s, want code %q", w.Body.String(), c.wantCode)
			}
		})
	}
}
