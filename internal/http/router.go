// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, CORS,
// security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected,
//     including the delivery scheduler, which the process entry point
//     constructs and starts before mounting routes
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/harsh-dev0/Slack-connect/internal/config"
	"github.com/harsh-dev0/Slack-connect/internal/domain"
	"github.com/harsh-dev0/Slack-connect/internal/http/handlers"
	"github.com/harsh-dev0/Slack-connect/internal/http/middleware"
	"github.com/harsh-dev0/Slack-connect/internal/repo"
	"github.com/harsh-dev0/Slack-connect/internal/services"
	"github.com/harsh-dev0/Slack-connect/internal/slack"
)

// messageRepoShim adapts the repository free functions to the
// services.MessageRepo interface expected by MessageService. This keeps
// services decoupled from the concrete repo package while reusing the
// existing functions.
type messageRepoShim struct{}

func (messageRepoShim) CreateScheduledMessage(ctx context.Context, db *gorm.DB, userID, teamID, channelID, channelName, text string, scheduledFor time.Time) (*domain.ScheduledMessage, error) {
	return repo.CreateScheduledMessage(ctx, db, userID, teamID, channelID, channelName, text, scheduledFor)
}

func (messageRepoShim) GetScheduledMessage(ctx context.Context, db *gorm.DB, id string) (*domain.ScheduledMessage, error) {
	return repo.GetScheduledMessage(ctx, db, id)
}

func (messageRepoShim) CountUserScheduledMessages(ctx context.Context, db *gorm.DB, userID string, statuses []domain.MessageStatus) (int64, error) {
	return repo.CountUserScheduledMessages(ctx, db, userID, statuses)
}

func (messageRepoShim) ListUserScheduledMessagesPage(ctx context.Context, db *gorm.DB, userID string, statuses []domain.MessageStatus, offset, limit int) ([]domain.ScheduledMessage, error) {
	return repo.ListUserScheduledMessagesPage(ctx, db, userID, statuses, offset, limit)
}

func (messageRepoShim) TransitionScheduledMessage(ctx context.Context, db *gorm.DB, id string, from, to domain.MessageStatus, fields repo.TransitionFields) error {
	return repo.TransitionScheduledMessage(ctx, db, id, from, to, fields)
}

func (messageRepoShim) GetCredential(ctx context.Context, db *gorm.DB, userID string) (*domain.UserCredential, error) {
	return repo.GetCredential(ctx, db, userID)
}

// credentialRepoShim adapts the repository free functions to the
// services.CredentialRepo and services.AuthRepo interfaces.
type credentialRepoShim struct{}

func (credentialRepoShim) GetCredential(ctx context.Context, db *gorm.DB, userID string) (*domain.UserCredential, error) {
	return repo.GetCredential(ctx, db, userID)
}

func (credentialRepoShim) ReplaceCredentialTokens(ctx context.Context, db *gorm.DB, userID, accessToken, refreshToken string, expiresAt *time.Time) error {
	return repo.ReplaceCredentialTokens(ctx, db, userID, accessToken, refreshToken, expiresAt)
}

func (credentialRepoShim) UpsertCredential(ctx context.Context, db *gorm.DB, cred *domain.UserCredential) error {
	return repo.UpsertCredential(ctx, db, cred)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. The delivery scheduler is injected, not constructed here: the
// process entry point owns its lifecycle (Start before routes are mounted,
// Stop on shutdown).
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Structured logging (with OAuth code redaction)
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip compression
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, sl *slack.Client, sched *services.SchedulerService, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Gzip responses
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/slack/scheduler
	credSvc := services.NewCredentialService(db, credentialRepoShim{}, sl)
	msgSvc := services.NewMessageService(db, messageRepoShim{}, sched, credSvc, sl)
	authSvc := services.NewAuthService(db, credentialRepoShim{}, sl, cfg.Slack.Scopes)
	chanSvc := &services.ChannelService{Tokens: credSvc, Slack: sl}

	h := handlers.New(msgSvc, authSvc, chanSvc, db, cfg.IdempotencyTTL)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Auth
		api.GET("/auth/slack", h.SlackAuthURL)
		api.GET("/auth/slack/callback", h.SlackCallback)
		api.GET("/auth/status/:userId", h.AuthStatus)

		// Channels
		api.GET("/channels/:userId", h.ListChannels)

		// Messages
		api.POST("/messages/send", h.SendMessage)
		api.POST("/messages/schedule", h.ScheduleMessage)
		api.GET("/messages/scheduled/:userId", h.ListScheduledMessages)
		api.DELETE("/messages/scheduled/:id", h.CancelScheduledMessage)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
