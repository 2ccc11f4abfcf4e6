// Package state persists run history: one row per run, one row per task
// outcome, queried by the status command.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/taskmill/taskmill/pkg/models"
)

// RunRecord is one finished or in-flight run.
type RunRecord struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Outcome     string
	Total       int
	Completed   int
	Failed      int
	Skipped     int
	Cancelled   int
	CacheHits   int64
	CacheMisses int64
	Reason      string
}

// TaskRecord is one task outcome within a run.
type TaskRecord struct {
	RunID      string
	TaskID     string
	ParentID   string
	Title      string
	Status     string
	Attempts   int
	Tokens     int64
	DurationMS int64
	Error      string
}

// Store manages run history in SQLite.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the history database location under the user's
// data directory.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "taskmill", "history.db")
}

// Open opens the history database at path, creating tables as needed.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME,
			finished_at DATETIME,
			outcome TEXT,
			total INT,
			completed INT,
			failed INT,
			skipped INT,
			cancelled INT,
			cache_hits INT,
			cache_misses INT,
			reason TEXT
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS run_tasks (
			run_id TEXT,
			task_id TEXT,
			parent_id TEXT,
			title TEXT,
			status TEXT,
			attempts INT,
			tokens INT,
			duration_ms INT,
			error TEXT,
			PRIMARY KEY (run_id, task_id)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create run_tasks table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun records a run starting. Outcome stays "running" until
// FinishRun.
func (s *Store) BeginRun(runID string, startedAt time.Time, total int) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, outcome, total, completed, failed, skipped, cancelled, cache_hits, cache_misses, reason)
		VALUES (?, ?, 'running', ?, 0, 0, 0, 0, 0, 0, '')
	`, runID, startedAt, total)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun finalizes the run row from its result. A run counts as
// cancelled when any task was cancelled, failed when any task failed or
// was skipped, and completed otherwise.
func (s *Store) FinishRun(runID string, result *models.RunResult, hits, misses int64, reason string) error {
	outcome := "completed"
	switch {
	case len(result.Cancelled) > 0:
		outcome = "cancelled"
	case len(result.Failed) > 0 || len(result.Skipped) > 0:
		outcome = "failed"
	}

	res, err := s.db.Exec(`
		UPDATE runs
		SET finished_at = ?, outcome = ?, completed = ?, failed = ?, skipped = ?, cancelled = ?,
		    cache_hits = ?, cache_misses = ?, reason = ?
		WHERE id = ?
	`, time.Now(), outcome, len(result.Completed), len(result.Failed), len(result.Skipped),
		len(result.Cancelled), hits, misses, reason, runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// RecordTask records one task's outcome within a run.
func (s *Store) RecordTask(runID string, task *models.Task, tokens int64, duration time.Duration) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO run_tasks (run_id, task_id, parent_id, title, status, attempts, tokens, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, task.ID, task.ParentID, task.Title, string(task.Status), task.Attempts, tokens,
		duration.Milliseconds(), task.LastError)
	if err != nil {
		return fmt.Errorf("insert run task: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, outcome, total, completed, failed, skipped, cancelled,
		       cache_hits, cache_misses, reason
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		var r RunRecord
		var finishedAt sql.NullTime
		err := rows.Scan(&r.ID, &r.StartedAt, &finishedAt, &r.Outcome, &r.Total, &r.Completed,
			&r.Failed, &r.Skipped, &r.Cancelled, &r.CacheHits, &r.CacheMisses, &r.Reason)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finishedAt.Valid {
			r.FinishedAt = finishedAt.Time
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// GetRun returns one run by ID, or nil when absent.
func (s *Store) GetRun(runID string) (*RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, finished_at, outcome, total, completed, failed, skipped, cancelled,
		       cache_hits, cache_misses, reason
		FROM runs WHERE id = ?
	`, runID)

	var r RunRecord
	var finishedAt sql.NullTime
	err := row.Scan(&r.ID, &r.StartedAt, &finishedAt, &r.Outcome, &r.Total, &r.Completed,
		&r.Failed, &r.Skipped, &r.Cancelled, &r.CacheHits, &r.CacheMisses, &r.Reason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if finishedAt.Valid {
		r.FinishedAt = finishedAt.Time
	}
	return &r, nil
}

// RunTasks returns the task rows for one run, task ID order.
func (s *Store) RunTasks(runID string) ([]*TaskRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, task_id, parent_id, title, status, attempts, tokens, duration_ms, error
		FROM run_tasks
		WHERE run_id = ?
		ORDER BY task_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run tasks: %w", err)
	}
	defer rows.Close()

	var records []*TaskRecord
	for rows.Next() {
		var r TaskRecord
		err := rows.Scan(&r.RunID, &r.TaskID, &r.ParentID, &r.Title, &r.Status, &r.Attempts, &r.Tokens,
			&r.DurationMS, &r.Error)
		if err != nil {
			return nil, fmt.Errorf("scan run task: %w", err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}
