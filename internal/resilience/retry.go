package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Retrier re-runs failing calls with exponential backoff. Only errors
// carrying a Retryable marker are retried; everything else returns on the
// first failure.
type Retrier struct {
	// MaxAttempts is the maximum number of attempts including the first.
	MaxAttempts int
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// Multiplier scales the delay between attempts.
	Multiplier float64
	// Jitter is the maximum random adjustment as a fraction of the delay
	// (0 to 1), spreading out synchronized retries.
	Jitter float64
}

// DefaultRetrier returns the standard retry policy: 3 attempts, 100ms
// initial delay doubling to a 10s cap, 10% jitter.
func DefaultRetrier() Retrier {
	return Retrier{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Do runs fn, retrying retryable failures until an attempt succeeds, a
// permanent error surfaces, attempts run out, or ctx ends. The returned
// error wraps the last attempt's error with the attempt count.
func (r Retrier) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := r.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := r.withJitter(delay)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = r.nextDelay(delay)
	}

	return fmt.Errorf("%s: %d attempts failed: %w", name, attempts, lastErr)
}

func (r Retrier) withJitter(d time.Duration) time.Duration {
	if r.Jitter <= 0 {
		return d
	}
	// Uniform in [d*(1-jitter), d*(1+jitter)].
	factor := 1.0 + (rand.Float64()*2-1)*r.Jitter
	return time.Duration(float64(d) * factor)
}

func (r Retrier) nextDelay(current time.Duration) time.Duration {
	mult := r.Multiplier
	if mult < 1.0 {
		mult = 2.0
	}
	next := time.Duration(float64(current) * mult)
	if r.MaxDelay > 0 && next > r.MaxDelay {
		return r.MaxDelay
	}
	return next
}
