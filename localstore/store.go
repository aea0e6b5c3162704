// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

// Package localstore is the SQLite mirror of the notes database that the
// sync engine reads and writes. It owns the schema, the reserved system
// rows, and the per-record change tracking that keeps local writes from
// clobbering concurrent edits.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mobilenotes/tasksync/node"
)

// Store wraps the mirror database. All methods are safe for use from the
// single sync goroutine; the store does not serialize concurrent syncs.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the mirror database at path. Use
// ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror database: %w", err)
	}
	// SQLite locks the whole file per write; a second connection only buys
	// "database is locked" errors.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.bootstrap(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) bootstrap(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS note (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  parent_id INTEGER NOT NULL DEFAULT 0,
  alerted_date INTEGER NOT NULL DEFAULT 0,
  bg_color_id INTEGER NOT NULL DEFAULT 0,
  created_date INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000),
  has_attachment INTEGER NOT NULL DEFAULT 0,
  modified_date INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000),
  notes_count INTEGER NOT NULL DEFAULT 0,
  snippet TEXT NOT NULL DEFAULT '',
  type INTEGER NOT NULL DEFAULT 0,
  widget_id INTEGER NOT NULL DEFAULT 0,
  widget_type INTEGER NOT NULL DEFAULT -1,
  origin_parent_id INTEGER NOT NULL DEFAULT 0,
  remote_id TEXT NOT NULL DEFAULT '',
  sync_stamp INTEGER NOT NULL DEFAULT 0,
  local_modified INTEGER NOT NULL DEFAULT 0,
  version INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS data (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  note_id INTEGER NOT NULL,
  mime_type TEXT NOT NULL,
  content TEXT NOT NULL DEFAULT '',
  data1 INTEGER NOT NULL DEFAULT 0,
  data2 INTEGER NOT NULL DEFAULT 0,
  data3 TEXT NOT NULL DEFAULT '',
  data4 TEXT NOT NULL DEFAULT '',
  FOREIGN KEY (note_id) REFERENCES note(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_data_note_id ON data(note_id);

CREATE TABLE IF NOT EXISTS sync_info (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  device_id TEXT NOT NULL DEFAULT '',
  last_sync_time INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO sync_info (id) VALUES (1);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to bootstrap mirror schema: %w", err)
	}

	// Reserved system rows. The trash and temp folders never sync but must
	// exist so reparenting has somewhere to point.
	systemRows := []struct {
		id      int64
		snippet string
	}{
		{node.RootFolderID, ""},
		{node.TempFolderID, ""},
		{node.CallFolderID, node.FolderCall},
		{node.TrashFolderID, ""},
	}
	for _, r := range systemRows {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO note (id, type, snippet) VALUES (?, ?, ?)`,
			r.id, node.TypeSystem, r.snippet)
		if err != nil {
			return fmt.Errorf("failed to seed system folder %d: %w", r.id, err)
		}
	}
	return nil
}

// EnsureDeviceID returns the stable per-install device id, minting one on
// first use.
func (s *Store) EnsureDeviceID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT device_id FROM sync_info WHERE id = 1`).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	if id != "" {
		return id, nil
	}
	id = uuid.New().String()
	if _, err := s.db.ExecContext(ctx, `UPDATE sync_info SET device_id = ? WHERE id = 1`, id); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}

// LastSyncTime returns the wall-clock time of the last successful sync, or
// the zero time when none has completed.
func (s *Store) LastSyncTime(ctx context.Context) (time.Time, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT last_sync_time FROM sync_info WHERE id = 1`).Scan(&ms)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last sync time: %w", err)
	}
	if ms == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

// SetLastSyncTime records the completion time of a successful sync.
func (s *Store) SetLastSyncTime(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_info SET last_sync_time = ? WHERE id = 1`, t.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to persist last sync time: %w", err)
	}
	return nil
}
