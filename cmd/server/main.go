// Command server runs the Slack-connect backend: the OAuth connect flow,
// channel listing, immediate sends, and the scheduled-message delivery
// engine.
//
// Startup order matters: the database is migrated and the scheduler is
// started (re-arming persisted timers) before the HTTP listener accepts
// traffic, so a scheduling request can never observe a half-initialized
// delivery engine.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/harsh-dev0/Slack-connect/internal/config"
	"github.com/harsh-dev0/Slack-connect/internal/domain"
	httpapi "github.com/harsh-dev0/Slack-connect/internal/http"
	"github.com/harsh-dev0/Slack-connect/internal/observability"
	"github.com/harsh-dev0/Slack-connect/internal/repo"
	"github.com/harsh-dev0/Slack-connect/internal/services"
	"github.com/harsh-dev0/Slack-connect/internal/slack"
	"github.com/harsh-dev0/Slack-connect/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// schedulerStoreShim adapts repo free functions to services.SchedulerStore.
type schedulerStoreShim struct{}

func (schedulerStoreShim) ListDueScheduledMessages(ctx context.Context, db *gorm.DB, status domain.MessageStatus, atOrBefore time.Time) ([]domain.ScheduledMessage, error) {
	return repo.ListDueScheduledMessages(ctx, db, status, atOrBefore)
}

func (schedulerStoreShim) ListPendingAfter(ctx context.Context, db *gorm.DB, after time.Time) ([]domain.ScheduledMessage, error) {
	return repo.ListPendingAfter(ctx, db, after)
}

func (schedulerStoreShim) TransitionScheduledMessage(ctx context.Context, db *gorm.DB, id string, from, to domain.MessageStatus, fields repo.TransitionFields) error {
	return repo.TransitionScheduledMessage(ctx, db, id, from, to, fields)
}

// credentialShim adapts repo free functions to services.CredentialRepo.
type credentialShim struct{}

func (credentialShim) GetCredential(ctx context.Context, db *gorm.DB, userID string) (*domain.UserCredential, error) {
	return repo.GetCredential(ctx, db, userID)
}

func (credentialShim) ReplaceCredentialTokens(ctx context.Context, db *gorm.DB, userID, accessToken, refreshToken string, expiresAt *time.Time) error {
	return repo.ReplaceCredentialTokens(ctx, db, userID, accessToken, refreshToken, expiresAt)
}

func main() {
	// .env is optional; real deployments use the process environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("component", "server").Logger()

	gin.SetMode(cfg.GinMode)

	// Tracing
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}

	// Storage
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	// Slack Web API client
	sl := slack.New(cfg.Slack.ClientID, cfg.Slack.ClientSecret, cfg.Slack.RedirectURI, cfg.Slack.Timeout)

	// Delivery engine: re-arm persisted timers and start the recovery sweep
	// before the listener comes up.
	creds := services.NewCredentialService(db, credentialShim{}, sl)
	sched := services.NewSchedulerService(db, schedulerStoreShim{}, creds, sl,
		log.With().Str("component", "scheduler").Logger())
	if err := sched.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("scheduler start failed")
	}

	// HTTP
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, sl, sched, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	// Stop accepting traffic, then drain in-flight deliveries, then flush
	// traces. Each stage gets a bounded window.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}

	sched.Stop()

	if err := otelShutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("otel shutdown error")
	}

	logger.Info().Msg("bye")
}
