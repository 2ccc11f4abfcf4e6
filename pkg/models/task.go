package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates the task is being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task's work returned an error.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusSkipped indicates an upstream dependency failed, so the
	// task never ran.
	TaskStatusSkipped TaskStatus = "skipped"
	// TaskStatusCancelled indicates the run was cancelled before or while
	// the task was running.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status ends a task's participation in a run.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Task represents a unit of work in the execution graph.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// ParentID names the task that spawned this one, if any. It is used
	// for hierarchy display only and never affects scheduling.
	ParentID string `json:"parent_id,omitempty"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Detail provides the full work description handed to the work function.
	Detail string `json:"detail,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// DependsOn lists task IDs that must complete before this task runs.
	DependsOn []string `json:"depends_on,omitempty"`
	// Priority orders tasks among ready peers; higher runs first.
	Priority int `json:"priority,omitempty"`
	// Source is the path the task's inputs come from, if any. Cached
	// results for the task are invalidated when this path changes.
	Source string `json:"source,omitempty"`
	// Scope groups cached results (e.g. "build", "api").
	Scope string `json:"scope,omitempty"`
	// Target names the artifact the task produces within its scope.
	Target string `json:"target,omitempty"`
	// EstimatedCost is the token estimate handed to the rate limiter.
	EstimatedCost int `json:"estimated_cost,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the task entered in_progress, if it has.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal status, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Attempts is the number of times the work function has been started.
	Attempts int `json:"attempts,omitempty"`
	// LastError contains the most recent error message if the task failed.
	LastError string `json:"last_error,omitempty"`
}
