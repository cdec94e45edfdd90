// Auth HTTP handlers.
//
// This file exposes the Slack OAuth connect flow:
//   - GET /auth/slack           (returns the authorization URL)
//   - GET /auth/slack/callback  (redirect target; exchanges the code)
//   - GET /auth/status/:userId  (connection status)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SlackAuthURL returns the URL the browser should visit to authorize the app.
func (h *Handlers) SlackAuthURL(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"auth_url": h.authSvc.AuthURL()})
}

// SlackCallback handles the OAuth redirect: it exchanges the authorization
// code for tokens and stores the user's credential.
func (h *Handlers) SlackCallback(c *gin.Context) {
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "authorization code is required")
		return
	}

	userID, teamID, err := h.authSvc.HandleCallback(c.Request.Context(), code)
	if err != nil {
		fail(c, http.StatusBadGateway, ErrCodeOAuthFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, gin.H{
		"success": true,
		"user_id": userID,
		"team_id": teamID,
	})
}

// AuthStatus reports whether the user has connected their Slack workspace.
// An unconnected user is a normal 200 response with connected=false.
func (h *Handlers) AuthStatus(c *gin.Context) {
	status, err := h.authSvc.Status(c.Request.Context(), c.Param("userId"))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, status)
}
