// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mobilenotes/tasksync/node"
)

const recordColumns = `id, parent_id, alerted_date, bg_color_id, created_date,
 has_attachment, modified_date, snippet, type, widget_id, widget_type,
 origin_parent_id, remote_id, sync_stamp, local_modified, version`

func scanRecord(rows interface{ Scan(...any) error }) (*Record, error) {
	r := &Record{}
	var localMod int64
	err := rows.Scan(&r.ID, &r.ParentID, &r.AlertDate, &r.BgColorID, &r.CreatedDate,
		&r.HasAttachment, &r.ModifiedDate, &r.Snippet, &r.Type, &r.WidgetID,
		&r.WidgetType, &r.OriginParent, &r.RemoteID, &r.SyncStamp, &localMod, &r.Version)
	if err != nil {
		return nil, err
	}
	r.LocalModified = localMod != 0
	return r, nil
}

func (s *Store) loadFragments(ctx context.Context, r *Record) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, note_id, mime_type, content, data1, data2, data3, data4
		 FROM data WHERE note_id = ? ORDER BY id`, r.ID)
	if err != nil {
		return fmt.Errorf("failed to load fragments of note %d: %w", r.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var f Fragment
		if err := rows.Scan(&f.ID, &f.NoteID, &f.Mime, &f.Content,
			&f.Data1, &f.Data2, &f.Data3, &f.Data4); err != nil {
			return fmt.Errorf("failed to scan fragment of note %d: %w", r.ID, err)
		}
		r.Fragments = append(r.Fragments, f)
	}
	return rows.Err()
}

func (s *Store) queryRecords(ctx context.Context, q string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	for _, r := range out {
		if err := s.loadFragments(ctx, r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ErrNotFound reports a record id with no row behind it.
var ErrNotFound = errors.New("record not found")

// RecordByID loads one record with its fragments.
func (s *Store) RecordByID(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM note WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %d: %w", id, err)
	}
	if err := s.loadFragments(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// TrashedRecords returns every record parked under the trash folder, in id
// order so deletes replay deterministically.
func (s *Store) TrashedRecords(ctx context.Context) ([]*Record, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM note WHERE parent_id = ? AND type != ? ORDER BY id`,
		node.TrashFolderID, node.TypeSystem)
}

// FolderRecords returns user folders plus the syncable system folders (root
// and call log). The temp and trash folders never participate.
func (s *Store) FolderRecords(ctx context.Context) ([]*Record, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM note
		 WHERE (type = ? AND parent_id != ?) OR id IN (?, ?)
		 ORDER BY type DESC, id DESC`,
		node.TypeFolder, node.TrashFolderID, node.RootFolderID, node.CallFolderID)
}

// NoteRecords returns every syncable note outside the trash and temp
// folders.
func (s *Store) NoteRecords(ctx context.Context) ([]*Record, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM note
		 WHERE type = ? AND parent_id NOT IN (?, ?)
		 ORDER BY id`,
		node.TypeNote, node.TrashFolderID, node.TempFolderID)
}

// FolderByName finds a user folder by snippet, returning nil when none
// exists.
func (s *Store) FolderByName(ctx context.Context, name string) (*Record, error) {
	recs, err := s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM note
		 WHERE type = ? AND snippet = ? AND parent_id != ?
		 ORDER BY id LIMIT 1`,
		node.TypeFolder, name, node.TrashFolderID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// BatchDelete removes rows (and their fragments via cascade) in one
// transaction.
func (s *Store) BatchDelete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch delete: %w", err)
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM note WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete record %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch delete: %w", err)
	}
	return nil
}

// RefreshSyncStamp rewrites the sync stamp of a record by remote id without
// touching the version guard; stamp refresh runs after all content writes.
func (s *Store) RefreshSyncStamp(ctx context.Context, remoteID string, stamp int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE note SET sync_stamp = ? WHERE remote_id = ?`, stamp, remoteID)
	if err != nil {
		return fmt.Errorf("failed to refresh sync stamp for %s: %w", remoteID, err)
	}
	return nil
}

// SyncedRemoteIDs returns local id keyed by remote id for every record that
// has completed at least one sync.
func (s *Store) SyncedRemoteIDs(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, remote_id FROM note WHERE remote_id != ''`)
	if err != nil {
		return nil, fmt.Errorf("failed to list synced remote ids: %w", err)
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var id int64
		var gid string
		if err := rows.Scan(&id, &gid); err != nil {
			return nil, fmt.Errorf("failed to scan synced remote id: %w", err)
		}
		out[gid] = id
	}
	return out, rows.Err()
}
