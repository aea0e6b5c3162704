// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"fmt"
	"strings"
)

// List is a remote task list mirroring a local folder. It owns the ordered
// child sequence; predecessor references are derived from the sequence, so
// the chain stays consistent through adds, removes and moves by
// construction.
type List struct {
	Node
	Children []*Task
}

// AddChild appends a task to the end of the child sequence. Adding a task
// that is already present is a no-op.
func (l *List) AddChild(t *Task) {
	if t == nil || l.IndexOf(t) >= 0 {
		return
	}
	l.Children = append(l.Children, t)
}

// InsertChild inserts a task at the given index, shifting later children
// right. Out-of-range indices clamp to the sequence bounds.
func (l *List) InsertChild(t *Task, index int) {
	if t == nil || l.IndexOf(t) >= 0 {
		return
	}
	if index < 0 {
		index = 0
	}
	if index > len(l.Children) {
		index = len(l.Children)
	}
	l.Children = append(l.Children, nil)
	copy(l.Children[index+1:], l.Children[index:])
	l.Children[index] = t
}

// RemoveChild removes a task from the sequence. The successor's predecessor
// becomes the removed task's predecessor implicitly.
func (l *List) RemoveChild(t *Task) {
	i := l.IndexOf(t)
	if i < 0 {
		return
	}
	l.Children = append(l.Children[:i], l.Children[i+1:]...)
}

// MoveChild repositions a task within the sequence.
func (l *List) MoveChild(t *Task, index int) error {
	if l.IndexOf(t) < 0 {
		return fmt.Errorf("move child: task %q is not in list %q", t.RemoteID, l.RemoteID)
	}
	if index < 0 || index >= len(l.Children) {
		return fmt.Errorf("move child: index %d out of range", index)
	}
	l.RemoveChild(t)
	l.InsertChild(t, index)
	return nil
}

// IndexOf returns the position of a task in the sequence, or -1.
func (l *List) IndexOf(t *Task) int {
	for i, c := range l.Children {
		if c == t {
			return i
		}
	}
	return -1
}

// PriorSibling returns the task immediately preceding t, or nil when t is
// first or absent.
func (l *List) PriorSibling(t *Task) *Task {
	i := l.IndexOf(t)
	if i <= 0 {
		return nil
	}
	return l.Children[i-1]
}

// ChildByRemoteID finds a child task by its remote id.
func (l *List) ChildByRemoteID(remoteID string) *Task {
	for _, c := range l.Children {
		if c.RemoteID == remoteID {
			return c
		}
	}
	return nil
}

// CreateAction builds the create action for this list.
func (l *List) CreateAction(actionID int) Action {
	return Action{
		ActionType: ActionTypeCreate,
		ActionID:   actionID,
		Index:      1,
		Entity: &EntityDelta{
			Name:       l.Name,
			CreatorID:  "null",
			EntityType: EntityTypeGroup,
		},
	}
}

// UpdateAction builds the update action for this list.
func (l *List) UpdateAction(actionID int) Action {
	return Action{
		ActionType: ActionTypeUpdate,
		ActionID:   actionID,
		ID:         l.RemoteID,
		Entity: &EntityDelta{
			Name:    l.Name,
			Deleted: boolPtr(l.Deleted),
		},
	}
}

// UpdateFromRemote fills the list from a remote wire envelope.
func (l *List) UpdateFromRemote(rn RemoteNode) {
	l.RemoteID = rn.ID
	l.Name = rn.Name
	l.LastModified = rn.LastModified
	l.Deleted = rn.Deleted
}

// SetContentFromLocal derives the remote list name from a local folder
// envelope. User folders carry the reserved prefix plus their snippet;
// system folders map to the reserved Default/Call_Note names.
func (l *List) SetContentFromLocal(env *Envelope) error {
	if env == nil {
		return fmt.Errorf("list content: nil envelope")
	}
	switch env.Note.Type {
	case TypeFolder:
		l.Name = ListPrefix + env.Note.Snippet
	case TypeSystem:
		if env.Note.ID == nil {
			return fmt.Errorf("list content: system folder envelope has no id")
		}
		switch *env.Note.ID {
		case RootFolderID:
			l.Name = ListPrefix + FolderDefault
		case CallFolderID:
			l.Name = ListPrefix + FolderCall
		default:
			return fmt.Errorf("list content: invalid system folder id %d", *env.Note.ID)
		}
	default:
		return fmt.Errorf("list content: envelope type %d is not a folder", env.Note.Type)
	}
	return nil
}

// LocalEnvelope produces the local folder envelope for this list, stripping
// the reserved prefix and mapping reserved names back to the system type.
func (l *List) LocalEnvelope() (*Envelope, error) {
	name := strings.TrimPrefix(l.Name, ListPrefix)
	env := &Envelope{Note: NoteHead{Snippet: name, Type: TypeFolder}}
	if name == FolderDefault || name == FolderCall {
		env.Note.Type = TypeSystem
	}
	return env, nil
}

// SyncAction computes the sync action for this list against its local
// folder record. Folders never merge: a concurrent edit on both sides is
// resolved by pushing the local state.
func (l *List) SyncAction(rec RecordMeta) SyncAction {
	if !rec.LocallyModified {
		if rec.SyncStamp == l.LastModified {
			return ActionNone
		}
		return ActionUpdateLocal
	}
	if rec.RemoteID != l.RemoteID {
		return ActionError
	}
	return ActionUpdateRemote
}
