package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// The delivery pipeline classifies every failure into exactly one of five
// categories. Retry and dispatch decisions key off the category, never off
// string matching:
//
//	TransientError:   network/timeout/5xx/429; retried per strategy
//	PermanentError:   validation, other 4xx; raised immediately, never retried
//	CapacityError:    concurrency cap, queue full, rate limit; rejected
//	                  without consuming an attempt
//	CircuitOpenError: breaker rejected the call; the operation never ran
//	AbortedError:     cooperative cancellation mid-flight

// TransientError marks a failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// CapacityError is a local resource rejection: the wrapped operation was
// never attempted, so no retry attempt is consumed.
type CapacityError struct {
	Resource string
	Err      error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity exceeded on %s: %v", e.Resource, e.Err)
}
func (e *CapacityError) Unwrap() error { return e.Err }

// CircuitOpenError distinguishes a breaker rejection from a real operation
// failure so callers can apply fallback logic.
type CircuitOpenError struct {
	Key string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %q", e.Key)
}

// AbortedError marks a cooperative cancellation, distinguished from failure
// in statistics.
type AbortedError struct {
	Err error
}

func (e *AbortedError) Error() string { return "aborted: " + e.Err.Error() }
func (e *AbortedError) Unwrap() error { return e.Err }

// StatusCoder is implemented by errors carrying an HTTP-like status code.
// Channel senders wrap provider responses in such errors.
type StatusCoder interface {
	StatusCode() int
}

// SendError is the structured failure a channel sender returns.
type SendError struct {
	Code int
	Err  error
}

func (e *SendError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("send failed with status %d: %v", e.Code, e.Err)
	}
	return "send failed: " + e.Err.Error()
}
func (e *SendError) Unwrap() error   { return e.Err }
func (e *SendError) StatusCode() int { return e.Code }

// IsRetryable is the default retry predicate: an error without an HTTP-like
// status is assumed transient (network failure), 5xx and 429 are transient,
// every other status is permanent. Explicit classifications always win.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	var aborted *AbortedError
	if errors.As(err, &aborted) {
		return false
	}
	// Breaker and capacity rejections are raised to the caller untouched;
	// retrying inside the same execution would just hammer the guard.
	var open *CircuitOpenError
	if errors.As(err, &open) {
		return false
	}
	var capacity *CapacityError
	if errors.As(err, &capacity) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var coder StatusCoder
	if errors.As(err, &coder) {
		code := coder.StatusCode()
		return code >= 500 || code == 429
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// No status information: assume a transport-level failure.
	return true
}
