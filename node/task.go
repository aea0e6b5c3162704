// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"fmt"
	"strings"
)

// Task is a syncable note (or folder entry in the shared remote schema). The
// completion flag is unused by notes but round-tripped because it is part of
// the remote task schema. Meta holds the parsed metadata snapshot paired to
// this task's remote id, when one exists.
type Task struct {
	Node
	Notes     string
	Completed bool
	Meta      *Snapshot
}

// CreateAction builds the create action for this task. The owning list must
// already contain the task so the child index and predecessor can be derived
// from the final sequence.
func (t *Task) CreateAction(actionID int, parent *List) Action {
	a := Action{
		ActionType: ActionTypeCreate,
		ActionID:   actionID,
		Index:      parent.IndexOf(t),
		Entity: &EntityDelta{
			Name:       t.Name,
			CreatorID:  "null",
			EntityType: EntityTypeTask,
		},
		ParentID:       parent.RemoteID,
		DestParentType: EntityTypeGroup,
		ListID:         parent.RemoteID,
	}
	if t.Notes != "" {
		a.Entity.Notes = strPtr(t.Notes)
	}
	if prior := parent.PriorSibling(t); prior != nil {
		a.PriorSiblingID = prior.RemoteID
	}
	return a
}

// UpdateAction builds the update action for this task. Soft deletes travel
// through here with the deleted flag already set.
func (t *Task) UpdateAction(actionID int) Action {
	a := Action{
		ActionType: ActionTypeUpdate,
		ActionID:   actionID,
		ID:         t.RemoteID,
		Entity: &EntityDelta{
			Name:    t.Name,
			Deleted: boolPtr(t.Deleted),
		},
	}
	if t.Notes != "" {
		a.Entity.Notes = strPtr(t.Notes)
	}
	return a
}

// UpdateFromRemote fills the task from a remote wire envelope.
func (t *Task) UpdateFromRemote(rn RemoteNode) {
	t.RemoteID = rn.ID
	t.Name = rn.Name
	t.Notes = rn.Notes
	t.LastModified = rn.LastModified
	t.Deleted = rn.Deleted
	t.Completed = rn.Completed
}

// SetContentFromLocal fills the task from a local envelope. A note's display
// name on the remote side is its text content.
func (t *Task) SetContentFromLocal(env *Envelope) error {
	if env == nil {
		return fmt.Errorf("task content: nil envelope")
	}
	if env.Note.Type != TypeNote {
		return fmt.Errorf("task content: envelope type %d is not a note", env.Note.Type)
	}
	t.Name = env.NoteText()
	return nil
}

// LocalEnvelope produces the local envelope for this task. When a metadata
// snapshot exists it is the source of truth for everything except the text,
// which always reflects the remote name; without a snapshot (a task created
// on the remote side) a minimal envelope is synthesized.
func (t *Task) LocalEnvelope() (*Envelope, error) {
	if t.Meta == nil {
		if t.Name == "" {
			return nil, fmt.Errorf("task %q has no content to materialize", t.RemoteID)
		}
		return &Envelope{
			Note: NoteHead{Type: TypeNote},
			Data: []FragmentData{{Mime: MimeNote, Content: t.Name}},
		}, nil
	}
	env := &t.Meta.Envelope
	env.Note.Type = TypeNote
	env.SetNoteText(t.Name)
	return env, nil
}

// SetMeta attaches the snapshot carried by the paired metadata task.
func (t *Task) SetMeta(md *MetaData) {
	if md != nil {
		t.Meta = md.Snapshot()
	}
}

// WorthSaving reports whether a remote task carries anything worth
// materializing locally. Blank placeholder tasks created through the remote
// web UI are skipped.
func (t *Task) WorthSaving() bool {
	return t.Meta != nil ||
		strings.TrimSpace(t.Name) != "" ||
		strings.TrimSpace(t.Notes) != ""
}

// SyncAction computes the sync action for this task against its local
// record. The metadata snapshot is consulted first: a lost snapshot is
// recreated from local truth, a snapshot that no longer names this record's
// local id means the remote side wins.
func (t *Task) SyncAction(rec RecordMeta) SyncAction {
	if t.Meta == nil {
		return ActionUpdateRemote
	}
	if t.Meta.Note.ID == nil {
		return ActionUpdateLocal
	}
	if *t.Meta.Note.ID != rec.LocalID {
		return ActionUpdateLocal
	}
	if !rec.LocallyModified {
		if rec.SyncStamp == t.LastModified {
			return ActionNone
		}
		return ActionUpdateLocal
	}
	if rec.RemoteID != t.RemoteID {
		return ActionError
	}
	if rec.SyncStamp == t.LastModified {
		return ActionUpdateRemote
	}
	return ActionUpdateConflict
}
