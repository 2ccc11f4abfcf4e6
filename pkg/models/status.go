package models

import (
	"fmt"
	"time"
)

// TransitionError reports a status change that the task lifecycle does not
// allow.
type TransitionError struct {
	TaskID string
	From   TaskStatus
	To     TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: illegal status transition %s -> %s", e.TaskID, e.From, e.To)
}

// Transition validates a status change against the task lifecycle:
//
//	pending     -> in_progress, cancelled, skipped
//	in_progress -> completed, failed, cancelled, pending
//	terminal    -> pending (requeue for another run)
//
// Any other pair is rejected. The empty status is treated as pending so
// zero-value tasks behave sensibly.
func Transition(from, to TaskStatus) bool {
	if from == "" {
		from = TaskStatusPending
	}
	switch from {
	case TaskStatusPending:
		return to == TaskStatusInProgress || to == TaskStatusCancelled || to == TaskStatusSkipped
	case TaskStatusInProgress:
		return to == TaskStatusCompleted || to == TaskStatusFailed ||
			to == TaskStatusCancelled || to == TaskStatusPending
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return to == TaskStatusPending
	default:
		return false
	}
}

// SetStatus applies a validated status change and stamps the lifecycle
// timestamps: StartedAt on entering in_progress, CompletedAt on reaching a
// terminal status. Requeueing to pending clears both.
func (t *Task) SetStatus(to TaskStatus) error {
	if !to.Valid() {
		return &TransitionError{TaskID: t.ID, From: t.Status, To: to}
	}
	if !Transition(t.Status, to) {
		return &TransitionError{TaskID: t.ID, From: t.Status, To: to}
	}
	now := time.Now()
	switch to {
	case TaskStatusInProgress:
		t.StartedAt = &now
		t.Attempts++
	case TaskStatusPending:
		t.StartedAt = nil
		t.CompletedAt = nil
		t.LastError = ""
	default:
		if to.Terminal() {
			t.CompletedAt = &now
		}
	}
	t.Status = to
	return nil
}

// Fail marks the task failed and records the reason. Failing without a
// reason is a programming error, so an empty message is replaced with a
// placeholder rather than silently accepted.
func (t *Task) Fail(reason string) error {
	if reason == "" {
		reason = "unknown error"
	}
	if err := t.SetStatus(TaskStatusFailed); err != nil {
		return err
	}
	t.LastError = reason
	return nil
}
