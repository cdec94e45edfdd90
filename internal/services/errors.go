// Package services defines the business logic for scheduling, delivering,
// and cancelling Slack messages, and for keeping per-user credentials valid.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Scheduling errors.
var (
	// ErrMessageNotFound indicates that the requested scheduled message does
	// not exist.
	ErrMessageNotFound = errors.New("scheduled message not found")

	// ErrEmptyMessage is returned when a schedule or send request contains an
	// empty message body.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrMissingChannel is returned when a request omits the delivery channel.
	ErrMissingChannel = errors.New("channel is required")

	// ErrScheduleInPast is returned when scheduled_for is not strictly in the
	// future at creation time.
	ErrScheduleInPast = errors.New("scheduled time must be in the future")

	// ErrNotCancellable is returned when cancellation is requested for a
	// message that already left the pending state. Cancelling a sent, failed,
	// or already-cancelled message is a user-visible error, not a no-op.
	ErrNotCancellable = errors.New("only pending messages can be cancelled")
)

// Credential errors.
var (
	// ErrUserNotFound indicates that no Slack credential exists for the user,
	// i.e. the user never completed the OAuth connect flow.
	ErrUserNotFound = errors.New("user not connected to slack")

	// ErrTokenUnrefreshable is returned when the stored access token is
	// expired and cannot be renewed, either because no refresh token exists
	// or because the refresh call itself failed. Callers must not retry the
	// refresh; the delivery path maps this to a terminal failed status.
	ErrTokenUnrefreshable = errors.New("access token expired and cannot be refreshed")
)
