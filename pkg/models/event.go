package models

import "time"

// EventType represents the kind of execution event.
type EventType string

const (
	// EventTaskStarted indicates a task has started execution.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskSkipped indicates a task was skipped after an upstream failure.
	EventTaskSkipped EventType = "task_skipped"
	// EventTaskCacheHit indicates a task was satisfied from the result cache.
	EventTaskCacheHit EventType = "task_cache_hit"
	// EventRunCancelled indicates the run was cancelled.
	EventRunCancelled EventType = "run_cancelled"
	// EventRunDone indicates the run finished, successfully or not.
	EventRunDone EventType = "run_done"
)

// Event represents a state change emitted during a run. Events feed the TUI
// and plain-mode progress output; emission never blocks execution.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// TaskTitle is the title of the related task, if applicable.
	TaskTitle string
	// Message provides additional context about the event.
	Message string
	// Err contains error details for failure events.
	Err string
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// TokensUsed is the token cost of the task, for completion events.
	TokensUsed int64
	// Duration is how long the task ran, for completion events.
	Duration time.Duration
}
