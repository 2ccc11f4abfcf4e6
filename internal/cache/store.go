package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one cached result row.
type Entry struct {
	KeyID       string
	Fingerprint string
	Scope       string
	Target      string
	Payload     string
	Source      string
	TokensUsed  int64
	CreatedAt   time.Time
	LastUsed    time.Time
	UseCount    int64
}

// Store persists cache entries in SQLite. WAL mode is enabled for
// concurrent reads; the schema is migration-versioned.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the cache database location under the user's data
// directory.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "taskmill", "cache.db")
}

// OpenStore opens (creating if needed) the cache database at path and
// applies pending migrations.
func OpenStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Entries},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Entries = `
CREATE TABLE IF NOT EXISTS entries (
	key_id TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	scope TEXT NOT NULL,
	target TEXT NOT NULL,
	payload TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	tokens_used INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	last_used DATETIME NOT NULL,
	use_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_entries_scope ON entries(scope);
CREATE INDEX IF NOT EXISTS idx_entries_source ON entries(source);
CREATE INDEX IF NOT EXISTS idx_entries_created_at ON entries(created_at);
`

// Put inserts or replaces an entry. A replaced entry's use count starts
// over; the payload is new content.
func (s *Store) Put(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT OR REPLACE INTO entries (
			key_id, fingerprint, scope, target, payload, source,
			tokens_used, created_at, last_used, use_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.KeyID,
		e.Fingerprint,
		e.Scope,
		e.Target,
		e.Payload,
		e.Source,
		e.TokensUsed,
		formatTime(e.CreatedAt),
		formatTime(e.LastUsed),
		e.UseCount,
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Get returns the entry with the given key ID and bumps its last_used
// timestamp and use count. A missing entry returns (nil, nil).
func (s *Store) Get(keyID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.conn.QueryRow(`
		SELECT key_id, fingerprint, scope, target, payload, source,
		       tokens_used, created_at, last_used, use_count
		FROM entries WHERE key_id = ?
	`, keyID)

	var (
		e         Entry
		createdAt string
		lastUsed  string
	)
	err := row.Scan(&e.KeyID, &e.Fingerprint, &e.Scope, &e.Target, &e.Payload,
		&e.Source, &e.TokensUsed, &createdAt, &lastUsed, &e.UseCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}

	e.CreatedAt, _ = parseTime(createdAt)
	e.LastUsed, _ = parseTime(lastUsed)

	now := time.Now()
	if _, err := s.conn.Exec(
		"UPDATE entries SET last_used = ?, use_count = use_count + 1 WHERE key_id = ?",
		formatTime(now), keyID,
	); err != nil {
		return nil, fmt.Errorf("touch entry: %w", err)
	}
	e.LastUsed = now
	e.UseCount++

	return &e, nil
}

// Delete removes one entry by key ID.
func (s *Store) Delete(keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Exec("DELETE FROM entries WHERE key_id = ?", keyID); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// DeleteBySource removes every entry recorded against the given source
// path and returns how many were removed.
func (s *Store) DeleteBySource(source string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec("DELETE FROM entries WHERE source = ?", source)
	if err != nil {
		return 0, fmt.Errorf("delete by source: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteByScope removes every entry in a scope and returns how many were
// removed.
func (s *Store) DeleteByScope(scope string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec("DELETE FROM entries WHERE scope = ?", scope)
	if err != nil {
		return 0, fmt.Errorf("delete by scope: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteOlderThan removes entries last used before the cutoff and returns
// how many were removed.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec("DELETE FROM entries WHERE last_used < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete older than: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountAndSize returns the number of entries and the total payload bytes.
func (s *Store) CountAndSize() (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count, size int64
	row := s.conn.QueryRow("SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0) FROM entries")
	if err := row.Scan(&count, &size); err != nil {
		return 0, 0, fmt.Errorf("count entries: %w", err)
	}
	return count, size, nil
}

// MostUsed returns the entry read most often, without bumping its count.
// An empty cache returns (nil, nil).
func (s *Store) MostUsed() (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(`
		SELECT key_id, fingerprint, scope, target, payload, source,
		       tokens_used, created_at, last_used, use_count
		FROM entries ORDER BY use_count DESC, key_id LIMIT 1
	`)

	var (
		e         Entry
		createdAt string
		lastUsed  string
	)
	err := row.Scan(&e.KeyID, &e.Fingerprint, &e.Scope, &e.Target, &e.Payload,
		&e.Source, &e.TokensUsed, &createdAt, &lastUsed, &e.UseCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("most used entry: %w", err)
	}
	e.CreatedAt, _ = parseTime(createdAt)
	e.LastUsed, _ = parseTime(lastUsed)
	return &e, nil
}

// Vacuum reclaims space after large deletions.
func (s *Store) Vacuum() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Exec("VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
