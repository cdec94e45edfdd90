// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable: clients branch on them
// programmatically, so renaming one is a breaking change. Generic codes
// mirror common HTTP status semantics; domain-specific codes cover business
// failures that a status alone cannot convey.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeNotConnected   = "not_connected"    // user never completed the Slack OAuth flow
	ErrCodeTokenExpired   = "token_expired"    // token expired and could not be refreshed
	ErrCodeNotCancellable = "not_cancellable"  // message already left the pending state
	ErrCodeScheduleInPast = "schedule_in_past" // scheduled_for must be strictly in the future
	ErrCodeSendFailed     = "send_failed"
	ErrCodeListFailed     = "list_failed"
	ErrCodeOAuthFailed    = "oauth_failed"
)
