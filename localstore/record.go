// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mobilenotes/tasksync/node"
)

// Record is a single note or folder row plus its content fragments, loaded
// into memory for one sync pass. Mutations accumulate in a diff map so a
// commit writes only what changed, and version-guarded updates detect rows
// edited concurrently by the notes app.
type Record struct {
	ID            int64
	ParentID      int64
	AlertDate     int64
	BgColorID     int64
	CreatedDate   int64
	HasAttachment int64
	ModifiedDate  int64
	Snippet       string
	Type          int
	WidgetID      int64
	WidgetType    int64
	OriginParent  int64
	RemoteID      string
	SyncStamp     int64
	LocalModified bool
	Version       int64

	Fragments []Fragment

	diff  map[string]any
	isNew bool
}

// Fragment is one data row belonging to a record.
type Fragment struct {
	ID      int64
	NoteID  int64
	Mime    string
	Content string
	Data1   int64
	Data2   int64
	Data3   string
	Data4   string

	diff  map[string]any
	isNew bool
}

// NewRecord returns an empty, uncommitted record. Commit assigns its id.
func NewRecord() *Record {
	return &Record{diff: map[string]any{}, isNew: true}
}

func (r *Record) set(col string, v any) {
	if r.diff == nil {
		r.diff = map[string]any{}
	}
	r.diff[col] = v
}

// SetRemoteID stages the remote id assignment.
func (r *Record) SetRemoteID(gid string) {
	r.RemoteID = gid
	r.set("remote_id", gid)
}

// SetSyncStamp stages the sync stamp.
func (r *Record) SetSyncStamp(stamp int64) {
	r.SyncStamp = stamp
	r.set("sync_stamp", stamp)
}

// MarkLocalModified stages the dirty flag, as the notes app does on every
// user edit.
func (r *Record) MarkLocalModified() {
	r.LocalModified = true
	r.set("local_modified", 1)
}

// ResetLocalModified stages clearing of the dirty flag after a successful
// push.
func (r *Record) ResetLocalModified() {
	r.LocalModified = false
	r.set("local_modified", 0)
}

// SetParentID stages a reparent.
func (r *Record) SetParentID(parent int64) {
	r.ParentID = parent
	r.set("parent_id", parent)
}

// Meta returns the sync-relevant view of the record consumed by the node
// model's action decisions.
func (r *Record) Meta() node.RecordMeta {
	return node.RecordMeta{
		LocalID:         r.ID,
		RemoteID:        r.RemoteID,
		SyncStamp:       r.SyncStamp,
		LocallyModified: r.LocalModified,
	}
}

// Envelope materializes the record and its fragments into the interchange
// envelope shared with the node model.
func (r *Record) Envelope() *node.Envelope {
	id := r.ID
	env := &node.Envelope{Note: node.NoteHead{
		ID:            &id,
		Type:          r.Type,
		ParentID:      r.ParentID,
		Snippet:       r.Snippet,
		AlertDate:     r.AlertDate,
		BgColorID:     r.BgColorID,
		CreatedDate:   r.CreatedDate,
		HasAttachment: r.HasAttachment,
		ModifiedDate:  r.ModifiedDate,
		OriginParent:  r.OriginParent,
		WidgetID:      r.WidgetID,
		WidgetType:    r.WidgetType,
	}}
	for i := range r.Fragments {
		f := &r.Fragments[i]
		fid := f.ID
		env.Data = append(env.Data, node.FragmentData{
			ID:      &fid,
			Mime:    f.Mime,
			Content: f.Content,
			Data1:   f.Data1,
			Data2:   f.Data2,
			Data3:   f.Data3,
			Data4:   f.Data4,
		})
	}
	return env
}

// SetEnvelope stages every field the envelope carries onto the record and
// its fragments. Fragment ids inside a downloaded envelope belong to the
// remote snapshot's view of the world and are ignored; fragments are matched
// by mime kind instead.
func (r *Record) SetEnvelope(env *node.Envelope) {
	h := env.Note
	r.Type = h.Type
	r.set("type", h.Type)
	r.ParentID = h.ParentID
	r.set("parent_id", h.ParentID)
	r.Snippet = h.Snippet
	r.set("snippet", h.Snippet)
	r.AlertDate = h.AlertDate
	r.set("alerted_date", h.AlertDate)
	r.BgColorID = h.BgColorID
	r.set("bg_color_id", h.BgColorID)
	if h.CreatedDate != 0 {
		r.CreatedDate = h.CreatedDate
		r.set("created_date", h.CreatedDate)
	}
	r.HasAttachment = h.HasAttachment
	r.set("has_attachment", h.HasAttachment)
	if h.ModifiedDate != 0 {
		r.ModifiedDate = h.ModifiedDate
		r.set("modified_date", h.ModifiedDate)
	}
	r.OriginParent = h.OriginParent
	r.set("origin_parent_id", h.OriginParent)
	r.WidgetID = h.WidgetID
	r.set("widget_id", h.WidgetID)
	r.WidgetType = h.WidgetType
	r.set("widget_type", h.WidgetType)

	for _, fd := range env.Data {
		frag := r.fragmentByMime(fd.Mime)
		if frag == nil {
			r.Fragments = append(r.Fragments, Fragment{isNew: true, diff: map[string]any{}})
			frag = &r.Fragments[len(r.Fragments)-1]
		}
		frag.setAll(fd)
	}
}

func (r *Record) fragmentByMime(mime string) *Fragment {
	for i := range r.Fragments {
		if r.Fragments[i].Mime == mime {
			return &r.Fragments[i]
		}
	}
	return nil
}

func (f *Fragment) set(col string, v any) {
	if f.diff == nil {
		f.diff = map[string]any{}
	}
	f.diff[col] = v
}

func (f *Fragment) setAll(fd node.FragmentData) {
	f.Mime = fd.Mime
	f.set("mime_type", fd.Mime)
	f.Content = fd.Content
	f.set("content", fd.Content)
	f.Data1 = fd.Data1
	f.set("data1", fd.Data1)
	f.Data2 = fd.Data2
	f.set("data2", fd.Data2)
	f.Data3 = fd.Data3
	f.set("data3", fd.Data3)
	f.Data4 = fd.Data4
	f.set("data4", fd.Data4)
}

// Commit writes staged changes. New records are inserted and pick up their
// assigned id; existing records are updated with a version guard when
// validateVersion is set, so a row the notes app touched mid-sync keeps its
// newer content and simply stays dirty for the next pass. A lost guard is
// logged, not fatal.
func (s *Store) Commit(ctx context.Context, r *Record, validateVersion bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin commit: %w", err)
	}
	defer tx.Rollback()

	if r.isNew {
		if err := s.insertRecord(ctx, tx, r); err != nil {
			return err
		}
	} else if len(r.diff) > 0 {
		if err := s.updateRecord(ctx, tx, r, validateVersion); err != nil {
			return err
		}
	}

	for i := range r.Fragments {
		f := &r.Fragments[i]
		if f.isNew {
			f.NoteID = r.ID
			if err := insertFragment(ctx, tx, f); err != nil {
				return err
			}
		} else if len(f.diff) > 0 {
			if err := updateFragment(ctx, tx, f); err != nil {
				return err
			}
		}
		f.diff = nil
		f.isNew = false
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit record %d: %w", r.ID, err)
	}
	r.diff = nil
	r.isNew = false
	return nil
}

func (s *Store) insertRecord(ctx context.Context, tx *sql.Tx, r *Record) error {
	// A fresh row never dictates its own id.
	delete(r.diff, "id")
	cols := []string{"version"}
	args := []any{int64(1)}
	for col, v := range r.diff {
		cols = append(cols, col)
		args = append(args, v)
	}
	q := "INSERT INTO note ("
	for i, c := range cols {
		if i > 0 {
			q += ", "
		}
		q += c
	}
	q += ") VALUES ("
	for i := range cols {
		if i > 0 {
			q += ", "
		}
		q += "?"
	}
	q += ")"
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted record id: %w", err)
	}
	r.ID = id
	r.Version = 1
	return nil
}

func (s *Store) updateRecord(ctx context.Context, tx *sql.Tx, r *Record, validateVersion bool) error {
	q := "UPDATE note SET version = version + 1"
	args := []any{}
	for col, v := range r.diff {
		q += ", " + col + " = ?"
		args = append(args, v)
	}
	q += " WHERE id = ?"
	args = append(args, r.ID)
	if validateVersion {
		q += " AND version <= ?"
		args = append(args, r.Version)
	}
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("failed to update record %d: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to inspect update of record %d: %w", r.ID, err)
	}
	if n == 0 {
		s.logger.Warn("record changed underneath sync, keeping newer local content",
			"note_id", r.ID, "version", r.Version)
		return nil
	}
	r.Version++
	return nil
}

func insertFragment(ctx context.Context, tx *sql.Tx, f *Fragment) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO data (note_id, mime_type, content, data1, data2, data3, data4)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.NoteID, f.Mime, f.Content, f.Data1, f.Data2, f.Data3, f.Data4)
	if err != nil {
		return fmt.Errorf("failed to insert fragment for note %d: %w", f.NoteID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted fragment id: %w", err)
	}
	f.ID = id
	return nil
}

func updateFragment(ctx context.Context, tx *sql.Tx, f *Fragment) error {
	q := "UPDATE data SET "
	args := []any{}
	first := true
	for col, v := range f.diff {
		if !first {
			q += ", "
		}
		first = false
		q += col + " = ?"
		args = append(args, v)
	}
	q += " WHERE id = ?"
	args = append(args, f.ID)
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("failed to update fragment %d: %w", f.ID, err)
	}
	f.diff = nil
	return nil
}
