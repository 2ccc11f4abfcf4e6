package models

import (
	"errors"
	"testing"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name string
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{"pending to in_progress", TaskStatusPending, TaskStatusInProgress, true},
		{"pending to cancelled", TaskStatusPending, TaskStatusCancelled, true},
		{"pending to skipped", TaskStatusPending, TaskStatusSkipped, true},
		{"pending to completed", TaskStatusPending, TaskStatusCompleted, false},
		{"pending to failed", TaskStatusPending, TaskStatusFailed, false},
		{"in_progress to completed", TaskStatusInProgress, TaskStatusCompleted, true},
		{"in_progress to failed", TaskStatusInProgress, TaskStatusFailed, true},
		{"in_progress to cancelled", TaskStatusInProgress, TaskStatusCancelled, true},
		{"in_progress requeued", TaskStatusInProgress, TaskStatusPending, true},
		{"in_progress to skipped", TaskStatusInProgress, TaskStatusSkipped, false},
		{"failed to pending", TaskStatusFailed, TaskStatusPending, true},
		{"failed to in_progress", TaskStatusFailed, TaskStatusInProgress, false},
		{"completed to pending", TaskStatusCompleted, TaskStatusPending, true},
		{"completed to failed", TaskStatusCompleted, TaskStatusFailed, false},
		{"skipped to pending", TaskStatusSkipped, TaskStatusPending, true},
		{"cancelled to pending", TaskStatusCancelled, TaskStatusPending, true},
		{"cancelled to completed", TaskStatusCancelled, TaskStatusCompleted, false},
		{"empty treated as pending", TaskStatus(""), TaskStatusInProgress, true},
		{"unknown from", TaskStatus("bogus"), TaskStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transition(tt.from, tt.to); got != tt.want {
				t.Errorf("Transition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTask_SetStatus(t *testing.T) {
	task := &Task{ID: "t1", Status: TaskStatusPending}

	if err := task.SetStatus(TaskStatusInProgress); err != nil {
		t.Fatalf("SetStatus(in_progress) returned error: %v", err)
	}
	if task.StartedAt == nil {
		t.Error("StartedAt should be set after entering in_progress")
	}
	if task.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", task.Attempts)
	}

	if err := task.SetStatus(TaskStatusCompleted); err != nil {
		t.Fatalf("SetStatus(completed) returned error: %v", err)
	}
	if task.CompletedAt == nil {
		t.Error("CompletedAt should be set after completion")
	}
}

func TestTask_SetStatus_RejectsIllegalMove(t *testing.T) {
	task := &Task{ID: "t1", Status: TaskStatusPending}

	err := task.SetStatus(TaskStatusCompleted)
	if err == nil {
		t.Fatal("SetStatus(pending -> completed) should fail")
	}

	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("error should be *TransitionError, got %T", err)
	}
	if te.From != TaskStatusPending || te.To != TaskStatusCompleted {
		t.Errorf("TransitionError = %s -> %s, want pending -> completed", te.From, te.To)
	}
	if task.Status != TaskStatusPending {
		t.Errorf("status changed on rejected transition: %q", task.Status)
	}
}

func TestTask_SetStatus_RequeueClearsRunState(t *testing.T) {
	task := &Task{ID: "t1", Status: TaskStatusPending}
	if err := task.SetStatus(TaskStatusInProgress); err != nil {
		t.Fatal(err)
	}
	if err := task.Fail("boom"); err != nil {
		t.Fatal(err)
	}
	if task.LastError != "boom" {
		t.Fatalf("LastError = %q, want %q", task.LastError, "boom")
	}

	if err := task.SetStatus(TaskStatusPending); err != nil {
		t.Fatalf("requeue returned error: %v", err)
	}
	if task.StartedAt != nil || task.CompletedAt != nil {
		t.Error("requeue should clear StartedAt and CompletedAt")
	}
	if task.LastError != "" {
		t.Errorf("requeue should clear LastError, got %q", task.LastError)
	}
	// Attempts survive the requeue so retry accounting persists.
	if task.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", task.Attempts)
	}
}

func TestTask_Fail_EmptyReason(t *testing.T) {
	task := &Task{ID: "t1", Status: TaskStatusInProgress}
	if err := task.Fail(""); err != nil {
		t.Fatal(err)
	}
	if task.LastError == "" {
		t.Error("failed task must carry a non-empty LastError")
	}
}

func TestRunResult_Success(t *testing.T) {
	tests := []struct {
		name   string
		result RunResult
		want   bool
	}{
		{"empty result", RunResult{}, true},
		{"only completions", RunResult{Completed: []string{"a", "b"}}, true},
		{"with failure", RunResult{Completed: []string{"a"}, Failed: []TaskFailure{{TaskID: "b", Reason: "x"}}}, false},
		{"with skip", RunResult{Skipped: []string{"c"}}, false},
		{"with cancellation", RunResult{Cancelled: []string{"d"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Success(); got != tt.want {
				t.Errorf("Success() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProgress_Done(t *testing.T) {
	if (Progress{Total: 3, Pending: 1}).Done() {
		t.Error("Done() should be false with pending tasks")
	}
	if (Progress{Total: 3, Running: 2}).Done() {
		t.Error("Done() should be false with running tasks")
	}
	if !(Progress{Total: 3, Completed: 2, Failed: 1}).Done() {
		t.Error("Done() should be true when nothing is pending or running")
	}
}
