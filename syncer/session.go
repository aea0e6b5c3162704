// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/mobilenotes/tasksync/localstore"
	"github.com/mobilenotes/tasksync/node"
	"github.com/mobilenotes/tasksync/remote"
)

// remoteItem is one unclaimed remote node in the session index. Exactly one
// of list/task is set; owner is the list a task belongs to.
type remoteItem struct {
	list  *node.List
	task  *node.Task
	owner *node.List
}

// session holds the state of one sync pass: the unclaimed remote index, the
// metadata collection, the id translation maps and the deferred local
// deletes.
type session struct {
	store     *localstore.Store
	client    *remote.Client
	logger    *slog.Logger
	progress  func(string)
	cancelled *atomic.Bool

	lists       map[string]*node.List
	listsByName map[string]*node.List
	metaList    *node.List
	meta        map[string]*node.MetaData
	index       map[string]remoteItem

	gidToLocal map[string]int64
	localToGid map[int64]string

	localDeletes []int64
}

func (s *session) checkCancelled() error {
	if s.cancelled.Load() {
		return errCancelled
	}
	return nil
}

func (s *session) claim(gid string, localID int64) {
	s.gidToLocal[gid] = localID
	s.localToGid[localID] = gid
}

func (s *session) run(ctx context.Context) error {
	s.lists = map[string]*node.List{}
	s.listsByName = map[string]*node.List{}
	s.meta = map[string]*node.MetaData{}
	s.index = map[string]remoteItem{}
	s.gidToLocal = map[string]int64{}
	s.localToGid = map[int64]string{}

	s.progress("logging in")
	if err := s.client.Login(ctx); err != nil {
		return err
	}
	if err := s.checkCancelled(); err != nil {
		return err
	}

	s.progress("fetching lists")
	if err := s.initIndex(ctx); err != nil {
		return err
	}
	if err := s.checkCancelled(); err != nil {
		return err
	}

	s.progress("syncing")
	if err := s.syncTrash(ctx); err != nil {
		return err
	}
	if err := s.syncFolders(ctx); err != nil {
		return err
	}
	if err := s.client.FlushUpdates(ctx); err != nil {
		return err
	}
	if err := s.syncNotes(ctx); err != nil {
		return err
	}
	if err := s.checkCancelled(); err != nil {
		return err
	}
	if err := s.store.BatchDelete(ctx, s.localDeletes); err != nil {
		return err
	}
	if err := s.checkCancelled(); err != nil {
		return err
	}
	if err := s.client.FlushUpdates(ctx); err != nil {
		return err
	}
	return s.refreshSyncStamps(ctx)
}

// initIndex downloads the remote state: the hidden metadata list first
// (created when absent), then every application-prefixed list with its
// tasks. Foreign lists on the account are left untouched.
func (s *session) initIndex(ctx context.Context) error {
	lists, err := s.client.ListLists(ctx)
	if err != nil {
		return err
	}

	metaName := node.ListPrefix + node.FolderMeta
	for _, rn := range lists {
		if rn.Name != metaName {
			continue
		}
		l := &node.List{}
		l.UpdateFromRemote(rn)
		s.metaList = l
		if err := s.initMeta(ctx); err != nil {
			return err
		}
		break
	}
	if s.metaList == nil {
		l := &node.List{Node: node.Node{Name: metaName}}
		if err := s.client.CreateList(ctx, l); err != nil {
			return err
		}
		s.metaList = l
		s.logger.Info("created metadata list", "gid", l.RemoteID)
	}

	for _, rn := range lists {
		if !strings.HasPrefix(rn.Name, node.ListPrefix) || rn.Name == metaName {
			continue
		}
		l := &node.List{}
		l.UpdateFromRemote(rn)
		s.lists[l.RemoteID] = l
		s.listsByName[l.Name] = l
		s.index[l.RemoteID] = remoteItem{list: l}

		tasks, err := s.client.ListTasks(ctx, l.RemoteID)
		if err != nil {
			return err
		}
		for _, tn := range tasks {
			t := &node.Task{}
			t.UpdateFromRemote(tn)
			l.AddChild(t)
			if t.Name == node.MetaTaskName {
				// A stray metadata task outside the hidden list is noise.
				continue
			}
			t.SetMeta(s.meta[t.RemoteID])
			if !t.WorthSaving() {
				continue
			}
			s.index[t.RemoteID] = remoteItem{task: t, owner: l}
		}
	}
	return nil
}

func (s *session) initMeta(ctx context.Context) error {
	tasks, err := s.client.ListTasks(ctx, s.metaList.RemoteID)
	if err != nil {
		return err
	}
	for _, tn := range tasks {
		md := &node.MetaData{}
		md.UpdateFromRemote(tn)
		s.metaList.AddChild(&md.Task)
		if md.RelatedRemoteID != "" {
			s.meta[md.RelatedRemoteID] = md
		}
	}
	return nil
}

// syncTrash removes trashed records from both sides. A trashed record whose
// remote counterpart is already gone (or never existed) is purged locally.
func (s *session) syncTrash(ctx context.Context) error {
	recs, err := s.store.TrashedRecords(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := s.checkCancelled(); err != nil {
			return err
		}
		item, ok := s.index[rec.RemoteID]
		if rec.RemoteID == "" || !ok {
			s.localDeletes = append(s.localDeletes, rec.ID)
			continue
		}
		delete(s.index, rec.RemoteID)
		if err := s.apply(ctx, node.ActionDelRemote, item, rec); err != nil {
			return err
		}
	}
	return nil
}

func remoteFolderName(rec *localstore.Record) string {
	switch rec.ID {
	case node.RootFolderID:
		return node.ListPrefix + node.FolderDefault
	case node.CallFolderID:
		return node.ListPrefix + node.FolderCall
	default:
		return ""
	}
}

// syncFolders reconciles local folders with remote lists, system folders
// first, then claims or creates; remote lists nobody claimed become local
// folders.
func (s *session) syncFolders(ctx context.Context) error {
	recs, err := s.store.FolderRecords(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := s.checkCancelled(); err != nil {
			return err
		}
		if rec.RemoteID != "" {
			if item, ok := s.index[rec.RemoteID]; ok && item.list != nil {
				delete(s.index, rec.RemoteID)
				s.claim(rec.RemoteID, rec.ID)
				var action node.SyncAction
				if rec.Type == node.TypeSystem {
					// System folders only push their reserved name.
					action = node.ActionNone
					if item.list.Name != remoteFolderName(rec) {
						action = node.ActionUpdateRemote
					}
				} else {
					action = item.list.SyncAction(rec.Meta())
				}
				if err := s.apply(ctx, action, item, rec); err != nil {
					return err
				}
				continue
			}
		}
		// No live remote counterpart. System folders and never-synced
		// folders are pushed up; a folder whose list is gone follows it.
		if rec.RemoteID != "" && rec.Type != node.TypeSystem {
			if err := s.apply(ctx, node.ActionDelLocal, remoteItem{}, rec); err != nil {
				return err
			}
			continue
		}
		if err := s.apply(ctx, node.ActionAddRemote, remoteItem{}, rec); err != nil {
			return err
		}
	}

	for _, gid := range s.unclaimedGids() {
		item := s.index[gid]
		if item.list == nil {
			continue
		}
		delete(s.index, gid)
		if err := s.addLocalList(ctx, item.list); err != nil {
			return err
		}
	}
	return nil
}

// syncNotes reconciles local notes with remote tasks, then materializes
// remote tasks nobody claimed.
func (s *session) syncNotes(ctx context.Context) error {
	recs, err := s.store.NoteRecords(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := s.checkCancelled(); err != nil {
			return err
		}
		if rec.RemoteID == "" {
			if err := s.apply(ctx, node.ActionAddRemote, remoteItem{}, rec); err != nil {
				return err
			}
			continue
		}
		item, ok := s.index[rec.RemoteID]
		if ok && item.task != nil {
			delete(s.index, rec.RemoteID)
			s.claim(rec.RemoteID, rec.ID)
			if err := s.apply(ctx, item.task.SyncAction(rec.Meta()), item, rec); err != nil {
				return err
			}
			continue
		}
		// Remote counterpart is gone; the local copy follows it.
		if err := s.apply(ctx, node.ActionDelLocal, remoteItem{}, rec); err != nil {
			return err
		}
	}

	for _, gid := range s.unclaimedGids() {
		item := s.index[gid]
		if item.task == nil {
			continue
		}
		delete(s.index, gid)
		if err := s.addLocalTask(ctx, item.task, item.owner); err != nil {
			return err
		}
	}
	return nil
}

// unclaimedGids returns the remaining index keys in stable order.
func (s *session) unclaimedGids() []string {
	gids := make([]string, 0, len(s.index))
	for gid := range s.index {
		gids = append(gids, gid)
	}
	sort.Strings(gids)
	return gids
}

func (s *session) apply(ctx context.Context, action node.SyncAction, item remoteItem, rec *localstore.Record) error {
	s.logger.Debug("sync action", "action", action.String(), "note_id", rec.ID, "gid", rec.RemoteID)
	switch action {
	case node.ActionNone:
		return nil
	case node.ActionAddRemote:
		return s.addRemoteNode(ctx, rec)
	case node.ActionDelLocal:
		s.localDeletes = append(s.localDeletes, rec.ID)
		return nil
	case node.ActionDelRemote:
		var upd node.Updater
		if item.task != nil {
			upd = item.task
		} else {
			upd = item.list
		}
		if err := s.client.Delete(ctx, upd); err != nil {
			return err
		}
		// The metadata twin follows its note out.
		if md, ok := s.meta[rec.RemoteID]; ok {
			if err := s.client.Delete(ctx, md); err != nil {
				return err
			}
			delete(s.meta, rec.RemoteID)
		}
		s.localDeletes = append(s.localDeletes, rec.ID)
		return nil
	case node.ActionUpdateLocal:
		return s.updateLocalNode(ctx, item, rec)
	case node.ActionUpdateRemote:
		return s.updateRemoteNode(ctx, item, rec)
	case node.ActionUpdateConflict:
		// Both sides changed; the local edit wins.
		s.logger.Info("conflicting edits, keeping local content", "note_id", rec.ID, "gid", rec.RemoteID)
		return s.updateRemoteNode(ctx, item, rec)
	default:
		return fmt.Errorf("unhandled sync action %s for record %d", action, rec.ID)
	}
}

// addLocalList materializes an unclaimed remote list as a local folder. A
// reserved system name binds to the existing system row; a name collision
// with an existing folder binds to that folder instead of duplicating it.
func (s *session) addLocalList(ctx context.Context, l *node.List) error {
	env, err := l.LocalEnvelope()
	if err != nil {
		return err
	}
	var rec *localstore.Record
	switch {
	case env.Note.Type == node.TypeSystem && env.Note.Snippet == node.FolderDefault:
		rec, err = s.store.RecordByID(ctx, node.RootFolderID)
	case env.Note.Type == node.TypeSystem && env.Note.Snippet == node.FolderCall:
		rec, err = s.store.RecordByID(ctx, node.CallFolderID)
	default:
		rec, err = s.store.FolderByName(ctx, env.Note.Snippet)
	}
	if err != nil {
		return err
	}
	if rec == nil {
		rec = localstore.NewRecord()
		env.Note.ParentID = node.RootFolderID
		rec.SetEnvelope(env)
	}
	rec.SetRemoteID(l.RemoteID)
	rec.SetSyncStamp(l.LastModified)
	if err := s.store.Commit(ctx, rec, false); err != nil {
		return err
	}
	s.lists[l.RemoteID] = l
	s.listsByName[l.Name] = l
	s.claim(l.RemoteID, rec.ID)
	return nil
}

// addLocalTask materializes an unclaimed remote task as a local note inside
// the folder mirroring its owning list.
func (s *session) addLocalTask(ctx context.Context, t *node.Task, owner *node.List) error {
	env, err := t.LocalEnvelope()
	if err != nil {
		return err
	}
	parentID, ok := s.gidToLocal[owner.RemoteID]
	if !ok {
		return fmt.Errorf("task %s: owning list %s has no local folder", t.RemoteID, owner.RemoteID)
	}
	rec := localstore.NewRecord()
	env.Note.ID = nil
	env.Note.ParentID = parentID
	rec.SetEnvelope(env)
	rec.SetRemoteID(t.RemoteID)
	rec.SetSyncStamp(t.LastModified)
	if err := s.store.Commit(ctx, rec, false); err != nil {
		return err
	}
	s.claim(t.RemoteID, rec.ID)
	return s.updateRemoteMeta(ctx, t.RemoteID, rec)
}

// addRemoteNode pushes a local record that has no live remote counterpart.
// Folders first try to claim an unclaimed remote list with the same name.
func (s *session) addRemoteNode(ctx context.Context, rec *localstore.Record) error {
	if rec.Type == node.TypeNote {
		t := &node.Task{}
		if err := t.SetContentFromLocal(rec.Envelope()); err != nil {
			return err
		}
		parentGid, ok := s.localToGid[rec.ParentID]
		if !ok {
			return fmt.Errorf("note %d: folder %d has no remote list", rec.ID, rec.ParentID)
		}
		parent := s.lists[parentGid]
		if parent == nil {
			return fmt.Errorf("note %d: remote list %s is missing", rec.ID, parentGid)
		}
		parent.AddChild(t)
		if err := s.client.CreateTask(ctx, t, parent); err != nil {
			return err
		}
		s.claim(t.RemoteID, rec.ID)
		rec.SetRemoteID(t.RemoteID)
		rec.SetSyncStamp(t.LastModified)
		rec.ResetLocalModified()
		if err := s.store.Commit(ctx, rec, false); err != nil {
			return err
		}
		return s.updateRemoteMeta(ctx, t.RemoteID, rec)
	}

	l := &node.List{}
	if err := l.SetContentFromLocal(rec.Envelope()); err != nil {
		return err
	}
	if existing, ok := s.listsByName[l.Name]; ok {
		if _, unclaimed := s.index[existing.RemoteID]; unclaimed {
			delete(s.index, existing.RemoteID)
			l = existing
		}
	}
	if l.RemoteID == "" {
		if err := s.client.CreateList(ctx, l); err != nil {
			return err
		}
		s.lists[l.RemoteID] = l
		s.listsByName[l.Name] = l
	}
	s.claim(l.RemoteID, rec.ID)
	rec.SetRemoteID(l.RemoteID)
	rec.SetSyncStamp(l.LastModified)
	rec.ResetLocalModified()
	return s.store.Commit(ctx, rec, false)
}

// updateLocalNode pulls remote content into the local record. The write is
// version guarded so an edit made in the notes app while the pass runs is
// kept and re-pushed next time.
func (s *session) updateLocalNode(ctx context.Context, item remoteItem, rec *localstore.Record) error {
	if item.task != nil {
		env, err := item.task.LocalEnvelope()
		if err != nil {
			return err
		}
		parentID, ok := s.gidToLocal[item.owner.RemoteID]
		if !ok {
			return fmt.Errorf("task %s: owning list %s has no local folder", item.task.RemoteID, item.owner.RemoteID)
		}
		rec.SetEnvelope(env)
		rec.SetParentID(parentID)
		rec.SetSyncStamp(item.task.LastModified)
		if err := s.store.Commit(ctx, rec, true); err != nil {
			return err
		}
		return s.updateRemoteMeta(ctx, item.task.RemoteID, rec)
	}

	env, err := item.list.LocalEnvelope()
	if err != nil {
		return err
	}
	env.Note.Type = rec.Type
	rec.SetEnvelope(env)
	rec.SetSyncStamp(item.list.LastModified)
	return s.store.Commit(ctx, rec, true)
}

// updateRemoteNode pushes local content onto the remote node, moving a task
// between lists when the note changed folders.
func (s *session) updateRemoteNode(ctx context.Context, item remoteItem, rec *localstore.Record) error {
	if item.task != nil {
		t := item.task
		if err := t.SetContentFromLocal(rec.Envelope()); err != nil {
			return err
		}
		if err := s.client.EnqueueUpdate(ctx, t); err != nil {
			return err
		}
		wantGid, ok := s.localToGid[rec.ParentID]
		if ok && wantGid != item.owner.RemoteID {
			to := s.lists[wantGid]
			if to == nil {
				return fmt.Errorf("task %s: destination list %s is missing", t.RemoteID, wantGid)
			}
			item.owner.RemoveChild(t)
			to.AddChild(t)
			if err := s.client.Move(ctx, t, item.owner, to); err != nil {
				return err
			}
		}
		rec.SetSyncStamp(t.LastModified)
		rec.ResetLocalModified()
		if err := s.store.Commit(ctx, rec, true); err != nil {
			return err
		}
		return s.updateRemoteMeta(ctx, t.RemoteID, rec)
	}

	l := item.list
	if err := l.SetContentFromLocal(rec.Envelope()); err != nil {
		return err
	}
	if err := s.client.EnqueueUpdate(ctx, l); err != nil {
		return err
	}
	rec.SetSyncStamp(l.LastModified)
	rec.ResetLocalModified()
	return s.store.Commit(ctx, rec, true)
}

// updateRemoteMeta rewrites (or creates) the hidden metadata task mirroring
// the record's current local envelope.
func (s *session) updateRemoteMeta(ctx context.Context, gid string, rec *localstore.Record) error {
	env := rec.Envelope()
	if md, ok := s.meta[gid]; ok {
		if err := md.SetMeta(gid, env); err != nil {
			return err
		}
		return s.client.EnqueueUpdate(ctx, md)
	}
	md := &node.MetaData{}
	if err := md.SetMeta(gid, env); err != nil {
		return err
	}
	s.metaList.AddChild(&md.Task)
	if err := s.client.CreateTask(ctx, &md.Task, s.metaList); err != nil {
		return err
	}
	s.meta[gid] = md
	return nil
}

// refreshSyncStamps re-reads the remote state after all mutations and
// stores each node's final modification stamp locally, so the next pass
// sees both sides as clean. A synced record whose remote counterpart
// disappeared mid-pass is a protocol violation.
func (s *session) refreshSyncStamps(ctx context.Context) error {
	lists, err := s.client.ListLists(ctx)
	if err != nil {
		return err
	}
	stamps := map[string]int64{}
	for _, rn := range lists {
		stamps[rn.ID] = rn.LastModified
		if !strings.HasPrefix(rn.Name, node.ListPrefix) {
			continue
		}
		tasks, err := s.client.ListTasks(ctx, rn.ID)
		if err != nil {
			return err
		}
		for _, tn := range tasks {
			stamps[tn.ID] = tn.LastModified
		}
	}

	synced, err := s.store.SyncedRemoteIDs(ctx)
	if err != nil {
		return err
	}
	for gid, localID := range synced {
		stamp, ok := stamps[gid]
		if !ok {
			return fmt.Errorf("record %d: remote node %s vanished during sync", localID, gid)
		}
		if err := s.store.RefreshSyncStamp(ctx, gid, stamp); err != nil {
			return err
		}
	}
	return nil
}
