// Channel HTTP handlers.
//
// This file exposes:
//   - GET /channels/:userId  (channels the connected user can post to)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harsh-dev0/Slack-connect/internal/services"
	"github.com/harsh-dev0/Slack-connect/internal/slack"
)

// ListChannels returns the public and private channels visible to the
// user's token, excluding archived conversations.
func (h *Handlers) ListChannels(c *gin.Context) {
	channels, err := h.chanSvc.List(c.Request.Context(), c.Param("userId"))
	switch {
	case err == nil:
		ok(c, http.StatusOK, gin.H{"channels": channels})
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrTokenUnrefreshable),
		errors.Is(err, slack.ErrTokenInvalid):
		credentialFail(c, err)
	default:
		fail(c, http.StatusBadGateway, ErrCodeInternal, err.Error())
	}
}
