package resilience

import (
	"context"
	"errors"
	"time"
)

// Call describes one guarded unit of work.
type Call struct {
	// Name identifies the call in errors and logs; usually the task ID.
	Name string
	// EstimatedCost is the token estimate acquired from the rate limiter
	// before the call runs.
	EstimatedCost int
	// Fn is the work to run under the guard stack.
	Fn func(ctx context.Context) error
}

// GuardConfig selects which layers a Guard carries. Zero values disable
// individual layers: no timeout, no ceilings, no breaker, single attempt.
type GuardConfig struct {
	// Timeout bounds one logical call including all retry attempts.
	Timeout time.Duration
	// RequestsPerMinute and TokensPerMinute are the rate limiter ceilings.
	RequestsPerMinute int
	TokensPerMinute   int
	// FailureThreshold opens the circuit after that many consecutive
	// failed logical calls; 0 disables the breaker.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a trial.
	RecoveryTimeout time.Duration
	// Retry is the backoff policy for attempts inside one logical call.
	Retry Retrier
}

// Guard composes the resilience layers in fixed order around a call:
//
//	timeout( limiter( breaker( retry( fn ) ) ) )
//
// The rate budget is acquired once per logical call and the breaker counts
// one success or failure per logical call, regardless of how many attempts
// the retrier makes inside.
type Guard struct {
	name    string
	timeout time.Duration
	limiter *Limiter
	breaker *Breaker
	retrier Retrier
}

// NewGuard builds a guard from the config. Layers whose config is zero are
// left out entirely.
func NewGuard(name string, cfg GuardConfig) *Guard {
	g := &Guard{
		name:    name,
		timeout: cfg.Timeout,
		retrier: cfg.Retry,
	}
	if cfg.RequestsPerMinute > 0 || cfg.TokensPerMinute > 0 {
		g.limiter = NewLimiter(name, cfg.RequestsPerMinute, cfg.TokensPerMinute)
	}
	if cfg.FailureThreshold > 0 {
		g.breaker = NewBreaker(name, cfg.FailureThreshold, cfg.RecoveryTimeout)
	}
	return g
}

// Do runs one logical call through the guard stack.
func (g *Guard) Do(ctx context.Context, call Call) error {
	outer := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if g.limiter != nil {
		if err := g.limiter.Acquire(ctx, call.EstimatedCost); err != nil {
			return g.mapTimeout(outer, ctx, call, err)
		}
	}

	if g.breaker != nil {
		if err := g.breaker.Allow(); err != nil {
			return err
		}
	}

	err := g.retrier.Do(ctx, call.Name, call.Fn)

	if g.breaker != nil {
		switch {
		case err == nil:
			g.breaker.RecordSuccess()
		case outer.Err() != nil || errors.Is(err, context.Canceled):
			// Cancellation is not a dependency failure.
		default:
			g.breaker.RecordFailure()
		}
	}

	return g.mapTimeout(outer, ctx, call, err)
}

// RecordActual forwards the observed token cost of the latest call to the
// rate limiter, replacing its admission estimate.
func (g *Guard) RecordActual(cost int) {
	if g.limiter != nil {
		g.limiter.RecordActual(cost)
	}
}

// Limiter returns the guard's rate limiter, or nil when disabled.
func (g *Guard) Limiter() *Limiter {
	return g.limiter
}

// Breaker returns the guard's circuit breaker, or nil when disabled.
func (g *Guard) Breaker() *Breaker {
	return g.breaker
}

// mapTimeout converts the guard's own deadline expiry into a TimeoutError.
// A deadline or cancellation inherited from the outer context passes
// through untouched; that is the caller's, not ours.
func (g *Guard) mapTimeout(outer, inner context.Context, call Call, err error) error {
	if err == nil {
		return nil
	}
	if g.timeout > 0 && outer.Err() == nil &&
		errors.Is(err, context.DeadlineExceeded) && inner.Err() != nil {
		return &TimeoutError{Name: call.Name, Limit: g.timeout}
	}
	return err
}
