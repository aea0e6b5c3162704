// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mobilenotes/tasksync/node"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newNote(t *testing.T, s *Store, parent int64, text string) *Record {
	t.Helper()
	rec := NewRecord()
	rec.SetEnvelope(&node.Envelope{
		Note: node.NoteHead{Type: node.TypeNote, ParentID: parent, Snippet: text, ModifiedDate: 100},
		Data: []node.FragmentData{{Mime: node.MimeNote, Content: text}},
	})
	require.NoError(t, s.Commit(context.Background(), rec, false))
	return rec
}

func TestBootstrapSeedsSystemRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{node.RootFolderID, node.TempFolderID, node.CallFolderID, node.TrashFolderID} {
		rec, err := s.RecordByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, node.TypeSystem, rec.Type)
	}

	// Reopen against the same handle must not duplicate anything.
	require.NoError(t, s.bootstrap(ctx))
	recs, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM note WHERE type = ?`, node.TypeSystem)
	require.NoError(t, err)
	require.Len(t, recs, 4)
}

func TestCommitAssignsIDAndVersion(t *testing.T) {
	s := openTestStore(t)
	rec := newNote(t, s, node.RootFolderID, "hello")

	require.Positive(t, rec.ID)
	require.Equal(t, int64(1), rec.Version)

	loaded, err := s.RecordByID(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", loaded.Snippet)
	require.Len(t, loaded.Fragments, 1)
	require.Equal(t, "hello", loaded.Fragments[0].Content)
}

func TestCommitWritesOnlyDiff(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := newNote(t, s, node.RootFolderID, "hello")

	loaded, err := s.RecordByID(ctx, rec.ID)
	require.NoError(t, err)
	loaded.SetRemoteID("td:1")
	loaded.SetSyncStamp(500)
	require.NoError(t, s.Commit(ctx, loaded, false))

	again, err := s.RecordByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, "td:1", again.RemoteID)
	require.Equal(t, int64(500), again.SyncStamp)
	require.Equal(t, "hello", again.Snippet)
	require.Equal(t, int64(2), again.Version)
}

func TestVersionGuardKeepsConcurrentEdit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := newNote(t, s, node.RootFolderID, "hello")

	loaded, err := s.RecordByID(ctx, rec.ID)
	require.NoError(t, err)

	// The notes app edits the row while the sync pass holds a stale copy.
	_, err = s.db.ExecContext(ctx,
		`UPDATE note SET snippet = 'user edit', version = version + 1, local_modified = 1 WHERE id = ?`,
		rec.ID)
	require.NoError(t, err)

	loaded.SetSyncStamp(900)
	loaded.ResetLocalModified()
	require.NoError(t, s.Commit(ctx, loaded, true))

	after, err := s.RecordByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, "user edit", after.Snippet)
	require.True(t, after.LocalModified)
	require.NotEqual(t, int64(900), after.SyncStamp)
}

func TestFragmentUpdateByMime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := newNote(t, s, node.RootFolderID, "before")

	loaded, err := s.RecordByID(ctx, rec.ID)
	require.NoError(t, err)
	loaded.SetEnvelope(&node.Envelope{
		Note: node.NoteHead{Type: node.TypeNote, ParentID: node.RootFolderID, Snippet: "after", ModifiedDate: 200},
		Data: []node.FragmentData{{Mime: node.MimeNote, Content: "after"}},
	})
	require.NoError(t, s.Commit(ctx, loaded, false))

	again, err := s.RecordByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, again.Fragments, 1)
	require.Equal(t, "after", again.Fragments[0].Content)
}

func TestQueriesPartitionRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	folder := NewRecord()
	folder.SetEnvelope(&node.Envelope{
		Note: node.NoteHead{Type: node.TypeFolder, ParentID: node.RootFolderID, Snippet: "Work"},
	})
	require.NoError(t, s.Commit(ctx, folder, false))

	kept := newNote(t, s, folder.ID, "kept")
	trashed := newNote(t, s, node.TrashFolderID, "trashed")
	newNote(t, s, node.TempFolderID, "draft")

	notes, err := s.NoteRecords(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	require.Equal(t, kept.ID, notes[0].ID)

	trash, err := s.TrashedRecords(ctx)
	require.NoError(t, err)
	require.Len(t, trash, 1)
	require.Equal(t, trashed.ID, trash[0].ID)

	folders, err := s.FolderRecords(ctx)
	require.NoError(t, err)
	// Root, call log, then the user folder.
	require.Len(t, folders, 3)
	require.Equal(t, node.RootFolderID, folders[0].ID)
	require.Equal(t, node.CallFolderID, folders[1].ID)
	require.Equal(t, folder.ID, folders[2].ID)

	byName, err := s.FolderByName(ctx, "Work")
	require.NoError(t, err)
	require.NotNil(t, byName)
	require.Equal(t, folder.ID, byName.ID)

	missing, err := s.FolderByName(ctx, "Nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestBatchDeleteCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := newNote(t, s, node.RootFolderID, "a")
	b := newNote(t, s, node.RootFolderID, "b")

	require.NoError(t, s.BatchDelete(ctx, []int64{a.ID, b.ID}))

	_, err := s.RecordByID(ctx, a.ID)
	require.ErrorIs(t, err, ErrNotFound)

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data`).Scan(&count))
	require.Zero(t, count)
}

func TestSyncedRemoteIDsAndStampRefresh(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := newNote(t, s, node.RootFolderID, "a")
	rec.SetRemoteID("td:1")
	require.NoError(t, s.Commit(ctx, rec, false))
	newNote(t, s, node.RootFolderID, "unsynced")

	synced, err := s.SyncedRemoteIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"td:1": rec.ID}, synced)

	require.NoError(t, s.RefreshSyncStamp(ctx, "td:1", 777))
	after, err := s.RecordByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, int64(777), after.SyncStamp)
}

func TestEnsureDeviceIDIsStable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.EnsureDeviceID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := s.EnsureDeviceID(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
