// Package services – SchedulerService
//
// This file implements the delivery scheduler, the component that turns
// pending ScheduledMessage rows into Slack messages. It owns three pieces:
//
//   - the timer registry: an in-process, mutex-guarded map from message ID
//     to a one-shot time.AfterFunc handle. Purely ephemeral; it carries no
//     business data and is rebuilt from the store on every process start.
//   - the delivery path: resolve credentials, post to Slack, then finalize
//     the row with a single compare-and-swap status transition. The send
//     happens before the transition so no lock is held across the network
//     call; the CAS is what prevents a double-send from being recorded
//     twice.
//   - the recovery sweep: a cron-driven pass that re-discovers overdue
//     pending rows and pushes them through the same delivery path. This is
//     the sole correctness backstop for timers lost to a restart, a missed
//     firing, or a clock anomaly.
//
// The scheduler is constructed explicitly and injected into the HTTP layer;
// there is exactly one per process but no package-level singleton.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harsh-dev0/Slack-connect/internal/domain"
	"github.com/harsh-dev0/Slack-connect/internal/repo"
)

// sweepSpec fires the recovery sweep once a minute.
const sweepSpec = "* * * * *"

var (
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_deliveries_total",
			Help: "Scheduled message delivery attempts by outcome.",
		},
		[]string{"outcome"}, // sent | failed | conflict
	)

	sweepPicked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_sweep_picked_total",
			Help: "Overdue pending messages picked up by the recovery sweep.",
		},
	)

	timersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_timers_active",
			Help: "Currently armed in-memory delivery timers.",
		},
	)
)

func init() {
	prometheus.MustRegister(deliveries, sweepPicked, timersActive)
}

// TokenResolver yields a currently-valid access token for a user.
// *CredentialService satisfies this.
type TokenResolver interface {
	Resolve(ctx context.Context, userID string) (string, error)
}

// MessageSender posts a message to a channel. *slack.Client satisfies this.
type MessageSender interface {
	PostMessage(ctx context.Context, accessToken, channelID, text string) error
}

// SchedulerStore defines the persistence contract required by SchedulerService.
type SchedulerStore interface {
	ListDueScheduledMessages(ctx context.Context, db *gorm.DB, status domain.MessageStatus, atOrBefore time.Time) ([]domain.ScheduledMessage, error)
	ListPendingAfter(ctx context.Context, db *gorm.DB, after time.Time) ([]domain.ScheduledMessage, error)
	TransitionScheduledMessage(ctx context.Context, db *gorm.DB, id string, from, to domain.MessageStatus, fields repo.TransitionFields) error
}

// SchedulerService arms per-message timers, runs the recovery sweep, and
// performs the send-and-record-outcome sequence. All exported methods are
// safe for concurrent use.
type SchedulerService struct {
	DB          *gorm.DB
	Store       SchedulerStore
	Tokens      TokenResolver
	Sender      MessageSender
	Log         zerolog.Logger
	SendTimeout time.Duration

	// Now is a clock seam for tests; defaults to time.Now.
	Now func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	cron   *cron.Cron

	// wg tracks in-flight deliveries so Stop can drain them.
	wg sync.WaitGroup
}

// NewSchedulerService constructs a SchedulerService with an empty timer
// registry. Call Start to re-arm persisted timers and begin the sweep.
func NewSchedulerService(db *gorm.DB, store SchedulerStore, tokens TokenResolver, sender MessageSender, log zerolog.Logger) *SchedulerService {
	return &SchedulerService{
		DB:          db,
		Store:       store,
		Tokens:      tokens,
		Sender:      sender,
		Log:         log,
		SendTimeout: 30 * time.Second,
		Now:         time.Now,
		timers:      make(map[string]*time.Timer),
	}
}

// Start re-arms in-memory timers for every pending message still scheduled
// in the future, then starts the per-minute recovery sweep. Messages that
// are already overdue are deliberately left for the first sweep pass.
//
// Start must complete before the HTTP layer begins accepting scheduling
// requests.
func (s *SchedulerService) Start(ctx context.Context) error {
	now := s.Now().UTC()
	pending, err := s.Store.ListPendingAfter(ctx, s.DB, now)
	if err != nil {
		return err
	}
	for i := range pending {
		s.Schedule(pending[i])
	}
	s.Log.Info().Int("count", len(pending)).Msg("re-armed pending scheduled messages")

	c := cron.New()
	if _, err := c.AddFunc(sweepSpec, s.Sweep); err != nil {
		return err
	}
	c.Start()

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	return nil
}

// Stop halts the sweep, disarms all timers, and waits for in-flight
// deliveries to finish. In-flight sends are not interrupted; their store
// writes remain guarded by the status transition.
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	timersActive.Set(0)
	s.mu.Unlock()

	s.wg.Wait()
}

// Schedule arms a one-shot timer for the message. Calling it again for the
// same ID first discards the previous timer, so re-scheduling is idempotent
// and results in at most one fire. A message that is already due is
// delivered synchronously instead of armed.
func (s *SchedulerService) Schedule(msg domain.ScheduledMessage) {
	id := msg.ID

	s.mu.Lock()
	if old, ok := s.timers[id]; ok {
		old.Stop()
		delete(s.timers, id)
		timersActive.Dec()
	}

	delay := msg.ScheduledFor.Sub(s.Now())
	if delay <= 0 {
		s.mu.Unlock()
		s.deliver(msg)
		return
	}

	s.timers[id] = time.AfterFunc(delay, func() {
		// Remove the registry entry regardless of delivery outcome.
		s.mu.Lock()
		if _, ok := s.timers[id]; ok {
			delete(s.timers, id)
			timersActive.Dec()
		}
		s.mu.Unlock()

		s.wg.Add(1)
		defer s.wg.Done()
		s.deliver(msg)
	})
	timersActive.Inc()
	s.mu.Unlock()
}

// Cancel disarms and removes the timer for a message ID, if one exists.
//
// This is an optimization to avoid a spurious fire, not a correctness
// requirement: the store's pending→cancelled transition is the source of
// truth, and a timer that already fired loses the transition race and does
// nothing.
func (s *SchedulerService) Cancel(id string) {
	s.mu.Lock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
		timersActive.Dec()
	}
	s.mu.Unlock()
}

// Sweep runs one recovery pass: every pending message due at or before now
// is handed to the delivery path, each on its own goroutine so one slow
// Slack call never delays the rest of the batch. A failure on one message
// never aborts the pass.
func (s *SchedulerService) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.SendTimeout)
	defer cancel()

	due, err := s.Store.ListDueScheduledMessages(ctx, s.DB, domain.StatusPending, s.Now().UTC())
	if err != nil {
		s.Log.Error().Err(err).Msg("recovery sweep query failed")
		return
	}
	if len(due) == 0 {
		return
	}
	sweepPicked.Add(float64(len(due)))
	s.Log.Debug().Int("count", len(due)).Msg("recovery sweep picked up overdue messages")

	for i := range due {
		msg := due[i]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.deliver(msg)
		}()
	}
}

// deliver performs the send-and-record sequence exactly once per message:
// resolve a token, post to Slack, then finalize with a single conditional
// pending→sent|failed transition. The send runs before the transition and
// outside any lock; when the transition reports a conflict the outcome of
// the just-performed send is discarded, because another path (timer, sweep,
// or a user cancellation) finalized the row first.
func (s *SchedulerService) deliver(msg domain.ScheduledMessage) {
	tr := otel.Tracer("services/SchedulerService")
	ctx, cancel := context.WithTimeout(context.Background(), s.SendTimeout)
	defer cancel()
	ctx, span := tr.Start(ctx, "deliver",
		trace.WithAttributes(
			attribute.String("message.id", msg.ID),
			attribute.String("channel.id", msg.ChannelID),
		),
	)
	defer span.End()

	var sendErr error
	token, err := s.Tokens.Resolve(ctx, msg.UserID)
	if err != nil {
		sendErr = err
	} else {
		sendErr = s.Sender.PostMessage(ctx, token, msg.ChannelID, msg.Text)
	}

	if sendErr != nil {
		s.finalize(ctx, msg.ID, domain.StatusFailed, repo.TransitionFields{Error: sendErr.Error()})
		return
	}
	now := s.Now().UTC()
	s.finalize(ctx, msg.ID, domain.StatusSent, repo.TransitionFields{SentAt: &now})
}

// finalize applies the terminal transition and absorbs benign races.
func (s *SchedulerService) finalize(ctx context.Context, id string, to domain.MessageStatus, fields repo.TransitionFields) {
	err := s.Store.TransitionScheduledMessage(ctx, s.DB, id, domain.StatusPending, to, fields)
	switch {
	case err == nil:
		deliveries.WithLabelValues(string(to)).Inc()
		ev := s.Log.Info().Str("message_id", id).Str("status", string(to))
		if fields.Error != "" {
			ev = ev.Str("error", fields.Error)
		}
		ev.Msg("scheduled message finalized")
	case errors.Is(err, repo.ErrConflict), errors.Is(err, repo.ErrNotFound):
		// Another path already finalized this message; nothing to do.
		deliveries.WithLabelValues("conflict").Inc()
		s.Log.Debug().Str("message_id", id).Msg("delivery lost transition race")
	default:
		s.Log.Error().Err(err).Str("message_id", id).Msg("failed to record delivery outcome")
	}
}
