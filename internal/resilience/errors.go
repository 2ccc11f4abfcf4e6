// Package resilience wraps task work in a fixed guard stack: timeout
// outermost, then rate limiting, then circuit breaking, then retry. One
// logical call acquires rate budget once and counts once against the
// breaker no matter how many attempts the retrier makes inside.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Retryable marks errors that are safe to retry. Errors without the marker
// are treated as permanent: retrying is opt-in, never guessed.
type Retryable interface {
	Retryable() bool
}

// IsRetryable walks the wrap chain looking for a Retryable marker. Context
// cancellation and deadline errors are never retryable here; the retrier
// checks the outer context separately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// markedError attaches an explicit retryability verdict to a wrapped error.
type markedError struct {
	err       error
	retryable bool
}

func (e *markedError) Error() string   { return e.err.Error() }
func (e *markedError) Unwrap() error   { return e.err }
func (e *markedError) Retryable() bool { return e.retryable }

// MarkRetryable wraps err so IsRetryable reports true.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, retryable: true}
}

// MarkPermanent wraps err so IsRetryable reports false, overriding any
// marker deeper in the chain.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, retryable: false}
}

// TimeoutError reports that a guarded call exceeded its time limit.
type TimeoutError struct {
	Name  string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Name, e.Limit)
}

// Retryable reports true: a fresh attempt may beat the clock.
func (e *TimeoutError) Retryable() bool { return true }

// BreakerOpenError reports a call rejected because the circuit is open.
// Until is when the breaker will next admit a trial call.
type BreakerOpenError struct {
	Name  string
	Until time.Time
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("%s: circuit open until %s", e.Name, e.Until.Format(time.RFC3339))
}

// Retryable reports true: the condition is temporary.
func (e *BreakerOpenError) Retryable() bool { return true }

// RateLimitError reports an abandoned rate-budget acquisition, with the
// window occupancy at the time. It unwraps to the context error that ended
// the wait, so errors.Is(err, context.Canceled) still holds.
type RateLimitError struct {
	Name     string
	Requests int
	Tokens   int
	Cause    error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate budget unavailable (window: %d requests, %d tokens): %v",
		e.Name, e.Requests, e.Tokens, e.Cause)
}

func (e *RateLimitError) Unwrap() error { return e.Cause }
