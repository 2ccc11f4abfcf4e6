package cancel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRun_CancelIsIdempotent(t *testing.T) {
	run := NewRun(context.Background())

	if !run.Cancel("first") {
		t.Fatal("first Cancel should return true")
	}
	if run.Cancel("second") {
		t.Error("second Cancel should return false")
	}
	if got := run.Reason(); got != "first" {
		t.Errorf("Reason() = %q, want %q (first caller wins)", got, "first")
	}
}

func TestRun_CancelClosesContext(t *testing.T) {
	run := NewRun(context.Background())

	select {
	case <-run.Done():
		t.Fatal("Done() closed before Cancel")
	default:
	}

	run.Cancel("stop")

	select {
	case <-run.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed after Cancel")
	}
	if run.Context().Err() == nil {
		t.Error("Context().Err() should be non-nil after Cancel")
	}
}

func TestRun_ErrReportsCancellation(t *testing.T) {
	run := NewRun(context.Background())

	if err := run.Err(); err != nil {
		t.Fatalf("Err() before cancel = %v, want nil", err)
	}

	run.Cancel("user interrupt")

	err := run.Err()
	if err == nil {
		t.Fatal("Err() after cancel should be non-nil")
	}
	var ce *CancelledError
	if !errors.As(err, &ce) {
		t.Fatalf("Err() should be *CancelledError, got %T", err)
	}
	if ce.RunID != run.ID() {
		t.Errorf("CancelledError.RunID = %q, want %q", ce.RunID, run.ID())
	}
	if ce.Reason != "user interrupt" {
		t.Errorf("CancelledError.Reason = %q, want %q", ce.Reason, "user interrupt")
	}
}

func TestRun_ConcurrentCancel(t *testing.T) {
	run := NewRun(context.Background())

	var wg sync.WaitGroup
	wins := make(chan string, 10)
	for i := 0; i < 10; i++ {
		reason := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if run.Cancel(reason) {
				wins <- reason
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for r := range wins {
		winners = append(winners, r)
	}
	if len(winners) != 1 {
		t.Fatalf("exactly one Cancel should win, got %d", len(winners))
	}
	if got := run.Reason(); got != winners[0] {
		t.Errorf("Reason() = %q, want winning reason %q", got, winners[0])
	}
}

func TestRun_ParentContextCancellation(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	run := NewRun(parent)
	cancelParent()

	select {
	case <-run.Done():
	case <-time.After(time.Second):
		t.Fatal("run context should close when parent is cancelled")
	}
	// Parent cancellation is not a run Cancel: no reason, Cancelled false.
	if run.Cancelled() {
		t.Error("parent cancellation should not mark the run Cancelled")
	}
}

func TestRegistry_RegisterGetRemove(t *testing.T) {
	reg := NewRegistry()
	run := NewRun(context.Background())

	reg.Register(run)
	got, ok := reg.Get(run.ID())
	if !ok || got != run {
		t.Fatalf("Get(%q) = %v, %v; want the registered run", run.ID(), got, ok)
	}

	reg.Remove(run.ID())
	if _, ok := reg.Get(run.ID()); ok {
		t.Error("Get after Remove should report not found")
	}
	if run.Cancelled() {
		t.Error("Remove must not cancel the run")
	}
}

func TestRegistry_CancelAll(t *testing.T) {
	reg := NewRegistry()
	a := NewRun(context.Background())
	b := NewRun(context.Background())
	c := NewRun(context.Background())
	reg.Register(a)
	reg.Register(b)
	reg.Register(c)

	b.Cancel("already done")

	if got := reg.CancelAll("shutdown"); got != 2 {
		t.Errorf("CancelAll() = %d, want 2 (one run was already cancelled)", got)
	}
	for _, run := range []*Run{a, b, c} {
		if !run.Cancelled() {
			t.Errorf("run %s not cancelled after CancelAll", run.ID())
		}
	}
	if got := b.Reason(); got != "already done" {
		t.Errorf("pre-cancelled run reason = %q, want %q", got, "already done")
	}
	if got := len(reg.Active()); got != 0 {
		t.Errorf("Active() after CancelAll = %d runs, want 0", got)
	}
}
