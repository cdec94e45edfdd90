package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/harsh-dev0/Slack-connect/internal/domain"
	"github.com/harsh-dev0/Slack-connect/internal/repo"
)

// realStore delegates to the repo package against a test database.
type realStore struct{}

func (realStore) ListDueScheduledMessages(ctx context.Context, db *gorm.DB, status domain.MessageStatus, atOrBefore time.Time) ([]domain.ScheduledMessage, error) {
	return repo.ListDueScheduledMessages(ctx, db, status, atOrBefore)
}

func (realStore) ListPendingAfter(ctx context.Context, db *gorm.DB, after time.Time) ([]domain.ScheduledMessage, error) {
	return repo.ListPendingAfter(ctx, db, after)
}

func (realStore) TransitionScheduledMessage(ctx context.Context, db *gorm.DB, id string, from, to domain.MessageStatus, fields repo.TransitionFields) error {
	return repo.TransitionScheduledMessage(ctx, db, id, from, to, fields)
}

// fakeSender records posts and signals each one on a channel.
type fakeSender struct {
	mu    sync.Mutex
	posts []string // channel IDs in call order
	err   error
	fired chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{fired: make(chan struct{}, 16)}
}

func (f *fakeSender) PostMessage(_ context.Context, _ string, channelID, _ string) error {
	f.mu.Lock()
	f.posts = append(f.posts, channelID)
	f.mu.Unlock()
	f.fired <- struct{}{}
	return f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

// staticResolver always yields the same token.
type staticResolver struct {
	err error
}

func (r staticResolver) Resolve(context.Context, string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "xoxp-test", nil
}

func newSchedulerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("sched_%d.db", time.Now().UnixNano()))
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
	if err := db.AutoMigrate(&domain.ScheduledMessage{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedPending(t *testing.T, db *gorm.DB, id string, scheduledFor time.Time) domain.ScheduledMessage {
	t.Helper()
	m := domain.ScheduledMessage{
		ID:           id,
		UserID:       "U1",
		TeamID:       "T1",
		ChannelID:    "C1",
		ChannelName:  "general",
		Text:         "hello",
		ScheduledFor: scheduledFor,
		Status:       domain.StatusPending,
	}
	if err := db.Create(&m).Error; err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return m
}

func newTestScheduler(db *gorm.DB, sender *fakeSender) *SchedulerService {
	return NewSchedulerService(db, realStore{}, staticResolver{}, sender, zerolog.Nop())
}

func waitFired(t *testing.T, s *fakeSender, within time.Duration) {
	t.Helper()
	select {
	case <-s.fired:
	case <-time.After(within):
		t.Fatalf("delivery did not fire within %v", within)
	}
}

func loadStatus(t *testing.T, db *gorm.DB, id string) domain.ScheduledMessage {
	t.Helper()
	var m domain.ScheduledMessage
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	return m
}

func TestSchedule_TimerFiresAndMarksSent(t *testing.T) {
	db := newSchedulerDB(t)
	sender := newFakeSender()
	s := newTestScheduler(db, sender)

	msg := seedPending(t, db, "m1", time.Now().UTC().Add(60*time.Millisecond))
	s.Schedule(msg)

	waitFired(t, sender, 2*time.Second)
	s.Stop() // drain the finalize

	got := loadStatus(t, db, "m1")
	if got.Status != domain.StatusSent {
		t.Fatalf("expected sent, got %q", got.Status)
	}
	if got.SentAt == nil {
		t.Fatalf("sent_at not recorded")
	}
	if sender.count() != 1 {
		t.Fatalf("expected one post, got %d", sender.count())
	}
}

func TestSchedule_AlreadyDueDeliversImmediately(t *testing.T) {
	db := newSchedulerDB(t)
	sender := newFakeSender()
	s := newTestScheduler(db, sender)

	msg := seedPending(t, db, "m1", time.Now().UTC().Add(-time.Minute))
	s.Schedule(msg) // synchronous delivery path

	if sender.count() != 1 {
		t.Fatalf("overdue message must be delivered synchronously, got %d posts", sender.count())
	}
	if got := loadStatus(t, db, "m1"); got.Status != domain.StatusSent {
		t.Fatalf("expected sent, got %q", got.Status)
	}
}

func TestSchedule_DoubleScheduleDeliversOnce(t *testing.T) {
	db := newSchedulerDB(t)
	sender := newFakeSender()
	s := newTestScheduler(db, sender)

	msg := seedPending(t, db, "m1", time.Now().UTC().Add(80*time.Millisecond))
	s.Schedule(msg)
	s.Schedule(msg) // rearms the same ID; the first timer is discarded

	waitFired(t, sender, 2*time.Second)
	// Allow a hypothetical second fire to surface before asserting.
	select {
	case <-sender.fired:
		t.Fatalf("second timer fired; re-schedule must discard the old timer")
	case <-time.After(300 * time.Millisecond):
	}
	s.Stop()

	if sender.count() != 1 {
		t.Fatalf("expected exactly one post, got %d", sender.count())
	}
}

func TestCancel_DisarmsTimerBeforeFire(t *testing.T) {
	db := newSchedulerDB(t)
	sender := newFakeSender()
	s := newTestScheduler(db, sender)

	msg := seedPending(t, db, "m1", time.Now().UTC().Add(80*time.Millisecond))
	s.Schedule(msg)
	s.Cancel("m1")

	select {
	case <-sender.fired:
		t.Fatalf("cancelled timer must not fire")
	case <-time.After(300 * time.Millisecond):
	}
	if got := loadStatus(t, db, "m1"); got.Status != domain.StatusPending {
		t.Fatalf("Cancel only disarms the timer; store status changed to %q", got.Status)
	}
}

func TestSweep_RecoversOverduePending(t *testing.T) {
	db := newSchedulerDB(t)
	sender := newFakeSender()
	s := newTestScheduler(db, sender)

	// Simulates rows left behind by a crashed process: pending, overdue, no
	// timer armed.
	seedPending(t, db, "m1", time.Now().UTC().Add(-2*time.Minute))
	seedPending(t, db, "m2", time.Now().UTC().Add(-time.Minute))
	seedPending(t, db, "m-future", time.Now().UTC().Add(time.Hour))

	s.Sweep()
	waitFired(t, sender, 2*time.Second)
	waitFired(t, sender, 2*time.Second)
	s.Stop()

	if got := loadStatus(t, db, "m1"); got.Status != domain.StatusSent {
		t.Fatalf("m1 not recovered: %q", got.Status)
	}
	if got := loadStatus(t, db, "m2"); got.Status != domain.StatusSent {
		t.Fatalf("m2 not recovered: %q", got.Status)
	}
	if got := loadStatus(t, db, "m-future"); got.Status != domain.StatusPending {
		t.Fatalf("future message must be untouched by the sweep: %q", got.Status)
	}
}

func TestDeliver_SendFailureMarksFailedWithCause(t *testing.T) {
	db := newSchedulerDB(t)
	sender := newFakeSender()
	sender.err = errors.New("channel_not_found")
	s := newTestScheduler(db, sender)

	msg := seedPending(t, db, "m1", time.Now().UTC().Add(-time.Second))
	s.Schedule(msg)

	got := loadStatus(t, db, "m1")
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %q", got.Status)
	}
	if got.Error == "" {
		t.Fatalf("failure cause not recorded")
	}
	if got.SentAt != nil {
		t.Fatalf("failed message must not carry sent_at")
	}
}

func TestDeliver_TokenResolutionFailureMarksFailed(t *testing.T) {
	db := newSchedulerDB(t)
	sender := newFakeSender()
	s := NewSchedulerService(db, realStore{}, staticResolver{err: ErrTokenUnrefreshable}, sender, zerolog.Nop())

	msg := seedPending(t, db, "m1", time.Now().UTC().Add(-time.Second))
	s.Schedule(msg)

	if sender.count() != 0 {
		t.Fatalf("send must not be attempted without a token")
	}
	if got := loadStatus(t, db, "m1"); got.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %q", got.Status)
	}
}

func TestDeliver_LosesTransitionRaceSilently(t *testing.T) {
	db := newSchedulerDB(t)
	sender := newFakeSender()
	s := newTestScheduler(db, sender)

	// A stale timer can fire after the user cancelled. The CAS guard must
	// refuse to resurrect the row.
	msg := seedPending(t, db, "m1", time.Now().UTC().Add(-time.Second))
	if err := repo.TransitionScheduledMessage(context.Background(), db, "m1",
		domain.StatusPending, domain.StatusCancelled, repo.TransitionFields{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	s.Schedule(msg) // delivers with the stale pending snapshot

	if got := loadStatus(t, db, "m1"); got.Status != domain.StatusCancelled {
		t.Fatalf("terminal status overwritten by losing racer: %q", got.Status)
	}
}

func TestStart_RearmsFuturePendingOnly(t *testing.T) {
	db := newSchedulerDB(t)
	sender := newFakeSender()
	s := newTestScheduler(db, sender)

	seedPending(t, db, "m-soon", time.Now().UTC().Add(80*time.Millisecond))
	seedPending(t, db, "m-overdue", time.Now().UTC().Add(-time.Minute))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFired(t, sender, 2*time.Second)
	s.Stop()

	if got := loadStatus(t, db, "m-soon"); got.Status != domain.StatusSent {
		t.Fatalf("future pending message not re-armed: %q", got.Status)
	}
	// Overdue rows are deliberately left for the first sweep pass, which
	// will not have run inside this test window.
	if got := loadStatus(t, db, "m-overdue"); got.Status != domain.StatusPending {
		t.Fatalf("overdue row should wait for the sweep, got %q", got.Status)
	}
}

func TestStop_IsIdempotentAndDisarmsTimers(t *testing.T) {
	db := newSchedulerDB(t)
	sender := newFakeSender()
	s := newTestScheduler(db, sender)

	msg := seedPending(t, db, "m1", time.Now().UTC().Add(time.Hour))
	s.Schedule(msg)

	s.Stop()
	s.Stop()

	select {
	case <-sender.fired:
		t.Fatalf("timer fired after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}
