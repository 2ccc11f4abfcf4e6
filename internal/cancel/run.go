// Package cancel provides cancellable run handles and their registry.
//
// A run is cancelled at most once; the first Cancel wins, records the
// reason, and closes the run's context so every in-flight operation
// observes it at its next suspension point. Cancellation is cooperative:
// nothing is killed, workers notice the closed context and stop.
package cancel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// CancelledError reports that a run was cancelled. It is distinct from
// task failure everywhere results are reported.
type CancelledError struct {
	RunID  string
	Reason string
}

func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("run %s cancelled", e.RunID)
	}
	return fmt.Sprintf("run %s cancelled: %s", e.RunID, e.Reason)
}

// Run is a cancellable run handle. The zero value is not usable; create
// runs with NewRun.
type Run struct {
	id        string
	startedAt time.Time

	ctx      context.Context
	cancelFn context.CancelFunc

	// cancelled flips exactly once; the winner writes reason before
	// closing the context, so readers that observe Done() see the reason.
	cancelled atomic.Bool
	reasonMu  sync.RWMutex
	reason    string
}

// NewRun creates a run handle whose context derives from parent.
func NewRun(parent context.Context) *Run {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancelFn := context.WithCancel(parent)
	return &Run{
		id:        uuid.New().String()[:8],
		startedAt: time.Now(),
		ctx:       ctx,
		cancelFn:  cancelFn,
	}
}

// ID returns the run's identifier.
func (r *Run) ID() string {
	return r.id
}

// StartedAt returns when the run handle was created.
func (r *Run) StartedAt() time.Time {
	return r.startedAt
}

// Context returns the run's context. It is cancelled by Cancel and by
// cancellation of the parent context.
func (r *Run) Context() context.Context {
	return r.ctx
}

// Done returns a channel closed when the run is cancelled.
func (r *Run) Done() <-chan struct{} {
	return r.ctx.Done()
}

// Cancel cancels the run. The first call records the reason, closes the
// context, and returns true; every later call is a no-op returning false.
func (r *Run) Cancel(reason string) bool {
	if !r.cancelled.CompareAndSwap(false, true) {
		return false
	}
	r.reasonMu.Lock()
	r.reason = reason
	r.reasonMu.Unlock()
	r.cancelFn()
	return true
}

// Cancelled reports whether Cancel has been called.
func (r *Run) Cancelled() bool {
	return r.cancelled.Load()
}

// Reason returns the reason recorded by the winning Cancel call, or "".
func (r *Run) Reason() string {
	r.reasonMu.RLock()
	defer r.reasonMu.RUnlock()
	return r.reason
}

// Err returns nil while the run is live and a *CancelledError once it has
// been cancelled.
func (r *Run) Err() error {
	if !r.cancelled.Load() {
		return nil
	}
	return &CancelledError{RunID: r.id, Reason: r.Reason()}
}
