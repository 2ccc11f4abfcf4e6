package resilience

import (
	"context"
	"sync"
	"time"
)

// windowEntry records one admitted request and its token cost.
type windowEntry struct {
	at   time.Time
	cost int
}

// Limiter enforces two ceilings over a trailing window: admitted requests
// and total token cost. Admission records the estimated cost up front;
// RecordActual corrects it once the real cost is known. Entries fall out
// of the window as time passes, so the limiter needs no background
// goroutine.
type Limiter struct {
	name              string
	requestsPerMinute int
	tokensPerMinute   int
	window            time.Duration

	mu      sync.Mutex
	entries []windowEntry
}

// NewLimiter creates a limiter over a trailing 60-second window. A ceiling
// of 0 disables that ceiling; with both 0 every Acquire succeeds
// immediately.
func NewLimiter(name string, requestsPerMinute, tokensPerMinute int) *Limiter {
	return &Limiter{
		name:              name,
		requestsPerMinute: requestsPerMinute,
		tokensPerMinute:   tokensPerMinute,
		window:            time.Minute,
	}
}

// Acquire blocks until one request of the given token cost fits under both
// ceilings, then records the admission. The wait is event-driven: it
// sleeps until the oldest window entry expires and re-checks. When ctx
// ends first, the acquisition is abandoned with a *RateLimitError that
// unwraps to the context error.
//
// A single call costing more than the token ceiling is admitted alone in
// an empty window; it could never fit otherwise and must not starve.
func (l *Limiter) Acquire(ctx context.Context, cost int) error {
	if l.requestsPerMinute <= 0 && l.tokensPerMinute <= 0 {
		return nil
	}
	if cost < 0 {
		cost = 0
	}

	l.mu.Lock()
	for {
		now := time.Now()
		l.pruneLocked(now)

		if l.admitsLocked(cost) {
			l.entries = append(l.entries, windowEntry{at: now, cost: cost})
			l.mu.Unlock()
			return nil
		}

		// Not admitted, so the window is non-empty. Wake just after the
		// oldest entry leaves the window and re-check.
		wake := l.entries[0].at.Add(l.window + time.Millisecond)
		requests, tokens := len(l.entries), l.tokensLocked()
		l.mu.Unlock()

		timer := time.NewTimer(time.Until(wake))
		select {
		case <-ctx.Done():
			timer.Stop()
			return &RateLimitError{
				Name:     l.name,
				Requests: requests,
				Tokens:   tokens,
				Cause:    ctx.Err(),
			}
		case <-timer.C:
		}
		l.mu.Lock()
	}
}

// admitsLocked reports whether a request of the given cost fits now.
func (l *Limiter) admitsLocked(cost int) bool {
	if l.requestsPerMinute > 0 && len(l.entries) >= l.requestsPerMinute {
		return false
	}
	if l.tokensPerMinute > 0 {
		if len(l.entries) == 0 {
			return true
		}
		if l.tokensLocked()+cost > l.tokensPerMinute {
			return false
		}
	}
	return true
}

// RecordActual replaces the estimated cost of the most recent admission
// with the observed cost. Under concurrency the corrected entry may belong
// to a sibling caller; the window total still ends up right, which is what
// the ceilings are computed from.
func (l *Limiter) RecordActual(cost int) {
	if cost < 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(time.Now())
	if n := len(l.entries); n > 0 {
		l.entries[n-1].cost = cost
	}
}

// Snapshot returns the current window occupancy.
func (l *Limiter) Snapshot() (requests int, tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(time.Now())
	return len(l.entries), l.tokensLocked()
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.entries) && !l.entries[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		l.entries = append(l.entries[:0], l.entries[i:]...)
	}
}

func (l *Limiter) tokensLocked() int {
	total := 0
	for _, e := range l.entries {
		total += e.cost
	}
	return total
}
