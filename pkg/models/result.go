package models

import "time"

// TaskFailure pairs a failed task with the reason it failed.
type TaskFailure struct {
	// TaskID is the failed task.
	TaskID string `json:"task_id"`
	// Reason is the error message from the final attempt.
	Reason string `json:"reason"`
}

// RunResult summarizes a finished run. A run with failures still produces a
// result; the unaffected parts of the graph execute to completion.
type RunResult struct {
	// RunID identifies the run this result belongs to.
	RunID string `json:"run_id"`
	// Completed lists the IDs of tasks that finished successfully.
	Completed []string `json:"completed,omitempty"`
	// Failed lists tasks whose work returned an error, with reasons.
	Failed []TaskFailure `json:"failed,omitempty"`
	// Skipped lists tasks that never ran because an upstream dependency
	// failed.
	Skipped []string `json:"skipped,omitempty"`
	// Cancelled lists tasks stopped or never started due to cancellation.
	Cancelled []string `json:"cancelled,omitempty"`
	// Duration is the wall-clock time of the run.
	Duration time.Duration `json:"duration"`
}

// Success returns true if every task completed.
func (r *RunResult) Success() bool {
	return len(r.Failed) == 0 && len(r.Skipped) == 0 && len(r.Cancelled) == 0
}

// Progress is a point-in-time snapshot of a run, safe to read while the run
// is still executing.
type Progress struct {
	// Total is the number of tasks in the graph.
	Total int `json:"total"`
	// Pending is the number of tasks not yet dispatched.
	Pending int `json:"pending"`
	// Running is the number of tasks currently in flight.
	Running int `json:"running"`
	// Completed is the number of tasks that finished successfully.
	Completed int `json:"completed"`
	// Failed is the number of tasks that failed.
	Failed int `json:"failed"`
	// Skipped is the number of tasks skipped due to upstream failures.
	Skipped int `json:"skipped"`
	// Cancelled is the number of tasks cancelled.
	Cancelled int `json:"cancelled"`
	// CacheHits counts tasks satisfied from the result cache this run.
	CacheHits int64 `json:"cache_hits"`
	// CacheMisses counts cache lookups that went to the work function.
	CacheMisses int64 `json:"cache_misses"`
	// Errors lists the failures observed so far.
	Errors []TaskFailure `json:"errors,omitempty"`
}

// Done reports whether every task has reached a terminal status.
func (p Progress) Done() bool {
	return p.Pending == 0 && p.Running == 0
}
