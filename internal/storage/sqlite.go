package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on an embedded SQLite database. WAL
// journaling plus the busy timeout let the poller, the sample ticker and the
// read API share the file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// ensures the schema.
func NewSQLiteStore(path string, maxOpenConns int, busyTimeout time.Duration) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	if busyTimeout <= 0 {
		busyTimeout = 2 * time.Second
	}
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", fmt.Sprintf("%d", busyTimeout.Milliseconds()))
	q.Set("_foreign_keys", "on")
	dsn := fmt.Sprintf("file:%s?%s", path, q.Encode())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate creates tables and indexes; all statements are idempotent.
func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT,
			protocol TEXT,
			host TEXT,
			port INTEGER,
			api_path TEXT,
			token TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS live_session (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			device_host TEXT,
			input_key TEXT NOT NULL,
			input_index INTEGER NOT NULL,
			input_identifier TEXT,
			input_display_name TEXT,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			title TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_session_unique
			ON live_session(device_id, input_key, started_at)`,
		`CREATE TABLE IF NOT EXISTS live_sample (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			ts DATETIME NOT NULL,
			year INTEGER, month INTEGER, day INTEGER,
			hour INTEGER, minute INTEGER, second INTEGER,
			latitude REAL, longitude REAL,
			drops_video INTEGER, drops_ts INTEGER,
			link_name TEXT, owdR INTEGER, rx_bitrate INTEGER,
			rx_percent_lost INTEGER, rx_lost_nb_packets INTEGER,
			FOREIGN KEY(session_id) REFERENCES live_session(id) ON DELETE CASCADE
		)`,
		// MAX(ts)-per-host and per-session scans
		`CREATE INDEX IF NOT EXISTS idx_live_sample_sid_ts ON live_sample(session_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_live_sample_sid_id ON live_sample(session_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_live_session_host_ended ON live_session(device_host, ended_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
