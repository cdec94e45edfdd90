// Package slack is a thin client for the handful of Slack Web API methods
// this service consumes: the OAuth v2 code exchange and token refresh,
// conversations.list, and chat.postMessage.
//
// Slack reports failures inside a 200 response ({"ok":false,"error":"..."}),
// so every call decodes the envelope and maps the error string. Token
// problems (token_expired, invalid_auth, token_revoked) are surfaced as
// ErrTokenInvalid so callers can distinguish credential failures from
// transient ones.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the Slack Web API root.
const DefaultBaseURL = "https://slack.com/api"

// ErrTokenInvalid indicates the access token was rejected by Slack and a
// refresh (or a full re-authorization) is required.
var ErrTokenInvalid = errors.New("slack token expired or invalid")

// Channel is a Slack conversation as returned by conversations.list.
type Channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsChannel  bool   `json:"is_channel"`
	IsGroup    bool   `json:"is_group"`
	IsIM       bool   `json:"is_im"`
	IsArchived bool   `json:"is_archived,omitempty"`
}

// AuthedUser is the user-token section of an oauth.v2.access response.
type AuthedUser struct {
	ID           string `json:"id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

// OAuthResponse is the decoded body of oauth.v2.access, used for both the
// initial code exchange and refresh_token grants.
type OAuthResponse struct {
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Team         struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"team"`
	AuthedUser AuthedUser `json:"authed_user"`
}

// Client calls the Slack Web API. The zero value is not usable; construct
// with New.
type Client struct {
	// HTTPClient performs the underlying requests. Callers may replace it;
	// New installs one with a bounded timeout so a stuck Slack call can
	// never wedge a delivery goroutine.
	HTTPClient *http.Client

	// BaseURL is overridable for tests (httptest server).
	BaseURL string

	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// New constructs a Client with the given OAuth application settings.
func New(clientID, clientSecret, redirectURI string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		HTTPClient:   &http.Client{Timeout: timeout},
		BaseURL:      DefaultBaseURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
	}
}

// AuthorizeURL builds the user-facing Slack OAuth authorization URL.
func (c *Client) AuthorizeURL(scopes string) string {
	q := url.Values{}
	q.Set("client_id", c.ClientID)
	q.Set("user_scope", scopes)
	q.Set("redirect_uri", c.RedirectURI)
	return "https://slack.com/oauth/v2/authorize?" + q.Encode()
}

// ExchangeCode trades an authorization code for token material.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*OAuthResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", c.RedirectURI)
	return c.oauthAccess(ctx, form)
}

// RefreshToken exchanges a refresh token for new token material.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*OAuthResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.oauthAccess(ctx, form)
}

func (c *Client) oauthAccess(ctx context.Context, form url.Values) (*OAuthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/oauth.v2.access", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack oauth.v2.access: %w", err)
	}
	defer resp.Body.Close()

	var out OAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("slack oauth.v2.access: decode: %w", err)
	}
	if !out.OK {
		return nil, apiError("oauth.v2.access", out.Error)
	}
	return &out, nil
}

// ListChannels returns the public and private channels visible to the token,
// excluding archived conversations.
func (c *Client) ListChannels(ctx context.Context, accessToken string) ([]Channel, error) {
	u := c.BaseURL + "/conversations.list?" + url.Values{
		"types":            {"public_channel,private_channel"},
		"exclude_archived": {"true"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack conversations.list: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		OK       bool      `json:"ok"`
		Error    string    `json:"error,omitempty"`
		Channels []Channel `json:"channels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("slack conversations.list: decode: %w", err)
	}
	if !out.OK {
		return nil, apiError("conversations.list", out.Error)
	}
	return out.Channels, nil
}

// PostMessage posts text to a channel via chat.postMessage.
func (c *Client) PostMessage(ctx context.Context, accessToken, channelID, text string) error {
	body, err := json.Marshal(map[string]string{
		"channel": channelID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/chat.postMessage", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack chat.postMessage: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("slack chat.postMessage: decode: %w", err)
	}
	if !out.OK {
		return apiError("chat.postMessage", out.Error)
	}
	return nil
}

// apiError maps Slack's error strings to sentinel errors where the caller
// needs to branch, wrapping the method name for everything else.
func apiError(method, code string) error {
	switch code {
	case "token_expired", "invalid_auth", "token_revoked", "account_inactive":
		return fmt.Errorf("slack %s: %s: %w", method, code, ErrTokenInvalid)
	case "":
		code = "unknown_error"
	}
	return fmt.Errorf("slack %s: %s", method, code)
}
