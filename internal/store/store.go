package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ibeckermayer/xhscollect/internal/types"
)

// Store handles all database operations
type Store struct {
	db *sql.DB
}

// New creates a new Store with SQLite backend
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Watch mode writes from several goroutines.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		url TEXT,
		title TEXT,
		outcome TEXT NOT NULL,
		status TEXT,
		expected INTEGER,
		actual INTEGER,
		collected INTEGER,
		has_end BOOLEAN,
		rate INTEGER,
		stop_reason TEXT,
		json_path TEXT,
		csv_path TEXT,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_finished_at ON sessions(finished_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_url ON sessions(url);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Databases created before stop_reason existed
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('sessions') WHERE name = 'stop_reason'`).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		_, err := s.db.Exec(`ALTER TABLE sessions ADD COLUMN stop_reason TEXT`)
		return err
	}
	return nil
}

func (s *Store) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, string(data), time.Now())
	return err
}

// get decodes the value at key into v. It reports false when the key is unset.
func (s *Store) get(ctx context.Context, key string, v any) (bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// SaveComments replaces the last collected record list
func (s *Store) SaveComments(ctx context.Context, comments []types.Comment) error {
	if comments == nil {
		comments = []types.Comment{}
	}
	return s.put(ctx, KeyComments, comments)
}

// LastComments returns the last collected record list, empty when none
func (s *Store) LastComments(ctx context.Context) ([]types.Comment, error) {
	comments := []types.Comment{}
	if _, err := s.get(ctx, KeyComments, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// SaveSettings persists the user toggles
func (s *Store) SaveSettings(ctx context.Context, settings types.Settings) error {
	return s.put(ctx, KeySettings, settings)
}

// Settings returns the user toggles, defaulting both to on
func (s *Store) Settings(ctx context.Context) (types.Settings, error) {
	settings := types.DefaultSettings()
	if _, err := s.get(ctx, KeySettings, &settings); err != nil {
		return types.DefaultSettings(), err
	}
	return settings, nil
}

// RecordSession inserts or updates a session history row
func (s *Store) RecordSession(ctx context.Context, r SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, url, title, outcome, status, expected, actual,
			collected, has_end, rate, stop_reason, json_path, csv_path, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			outcome = excluded.outcome,
			status = excluded.status,
			collected = excluded.collected,
			stop_reason = excluded.stop_reason,
			json_path = excluded.json_path,
			csv_path = excluded.csv_path,
			error = excluded.error,
			finished_at = excluded.finished_at
	`, r.ID, r.URL, r.Title, r.Outcome, r.Status, r.Expected, r.Actual,
		r.Collected, r.HasEnd, r.Rate, r.StopReason, r.JSONPath, r.CSVPath, r.Error, r.StartedAt, r.FinishedAt)

	return err
}

// RecentSessions returns up to limit sessions, newest first
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, title, outcome, status, expected, actual, collected,
			has_end, rate, COALESCE(stop_reason, ''), json_path, csv_path, error, started_at, finished_at
		FROM sessions
		ORDER BY finished_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var r SessionRecord
		err := rows.Scan(
			&r.ID, &r.URL, &r.Title, &r.Outcome, &r.Status, &r.Expected, &r.Actual, &r.Collected,
			&r.HasEnd, &r.Rate, &r.StopReason, &r.JSONPath, &r.CSVPath, &r.Error, &r.StartedAt, &r.FinishedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
