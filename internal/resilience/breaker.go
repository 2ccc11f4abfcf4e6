package resilience

import (
	"sync"
	"time"
)

// BreakerState is the externally visible state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed allows calls through normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls immediately until the recovery timeout
	// elapses, then admits a single trial call.
	BreakerOpen
)

// String returns the human-readable name for the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Breaker is a circuit breaker keyed to one downstream dependency. After
// failureThreshold consecutive failures it opens and fails calls fast;
// once recoveryTimeout elapses exactly one trial call is admitted. The
// trial closing or re-opening the circuit is internal bookkeeping; callers
// only ever observe closed or open.
type Breaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration

	mu           sync.Mutex
	state        BreakerState
	failures     int
	openedAt     time.Time
	trialPending bool
}

// NewBreaker creates a closed breaker. A threshold below 1 is clamped to
// 1; a non-positive recovery timeout defaults to 30 seconds.
func NewBreaker(name string, failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            BreakerClosed,
	}
}

// Allow reports whether a call may proceed. When the circuit is open and
// the recovery timeout has elapsed, the first caller is admitted as the
// trial; concurrent callers keep failing fast until the trial resolves.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerClosed {
		return nil
	}

	if !b.trialPending && time.Since(b.openedAt) >= b.recoveryTimeout {
		b.trialPending = true
		return nil
	}
	return &BreakerOpenError{Name: b.name, Until: b.openedAt.Add(b.recoveryTimeout)}
}

// RecordSuccess reports a successful call. In the closed state it resets
// the consecutive-failure count; a successful trial closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && b.trialPending {
		b.state = BreakerClosed
		b.trialPending = false
	}
	b.failures = 0
}

// RecordFailure reports a failed call. Reaching the threshold opens the
// circuit; a failed trial re-opens it and restarts the recovery clock.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.trialPending {
			b.trialPending = false
			b.openedAt = time.Now()
		}
		return
	}

	b.failures++
	if b.failures >= b.failureThreshold {
		b.state = BreakerOpen
		b.openedAt = time.Now()
		b.trialPending = false
	}
}

// State returns the current externally visible state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
