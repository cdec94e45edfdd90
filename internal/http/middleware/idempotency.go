// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key validation for the schedule
// endpoint. Scheduling a message has a side effect (an eventual Slack
// post), so a client retrying a timed-out POST must not queue a second
// delivery. The middleware validates the header, stashes the key for the
// handler, and marks detected replays so the rate limiter can let them
// through for free; the handler remains in control of serving the replay
// (it returns the originally created message).
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client-chosen key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idemKey"
	ctxKeyIdemReplay = "idemReplay"
	ctxKeyRateBypass = "rateBypass"
)

// IdempotencyOptions tunes header validation.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length; defaults to 200.
	MaxLen int
	// Pattern overrides the accepted key alphabet; defaults to an
	// RFC-7230-ish token plus common safe characters.
	Pattern *regexp.Regexp
}

// IdempotencyLookup answers whether a still-valid result exists for
// (userID, key) at the given time. Return an error only for lookup
// failures, which must not block normal processing.
type IdempotencyLookup func(ctx context.Context, userID, key string, now time.Time) (exists bool, err error)

// IdempotencyKeyFrom returns the validated key stashed by the validator,
// or "" when the request carried none.
func IdempotencyKeyFrom(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyIdemKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// IsReplay reports whether the validator detected a previously completed
// request for this key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyValidator validates the Idempotency-Key header (if present),
// stashes it in the request context, and checks for a prior completed
// request via the supplied lookup. An absent header makes the middleware a
// no-op; an invalid header is rejected with 400.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			if exists, _ := lookup(c.Request.Context(), userIDFromCtx(c), key, time.Now().UTC()); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// userIDFromCtx extracts the user identifier set by upstream middleware,
// falling back to the X-User-ID header used by the demo frontend.
func userIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return c.GetHeader("X-User-ID")
}
