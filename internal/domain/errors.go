package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidChannel     = errors.New("invalid channel: must be email, sms, push, webhook, slack, or in-app")
	ErrInvalidPriority    = errors.New("invalid priority: must be critical, urgent, high, normal, or low")
	ErrInvalidRecipient   = errors.New("recipient must not be empty")
	ErrInvalidContent     = errors.New("content requires text, html, or a template reference")
	ErrInvalidMaxAttempts = errors.New("max_attempts must not be negative")
	ErrAlreadyCancelled   = errors.New("notification is already cancelled")
	ErrNotCancellable     = errors.New("notification cannot be cancelled in its current status")
	ErrQueueFull          = errors.New("queue is at capacity, try again later")
	ErrUnknownStrategy    = errors.New("unknown retry strategy")
	ErrUnknownLane        = errors.New("unknown priority lane")
)
