// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

// Package node holds the in-memory model of syncable entities (task lists,
// tasks and the hidden per-note metadata snapshots) together with the
// per-entity sync-action decision logic and the conversions between the
// remote wire envelope and the local record envelope.
package node

// Reserved names on the remote side. Every list owned by this application is
// prefixed so foreign lists on the same account never participate in sync.
const (
	ListPrefix    = "[MobileNotes]"
	FolderDefault = "Default"
	FolderCall    = "Call_Note"
	FolderMeta    = "METADATA"

	// MetaTaskName marks metadata tasks inside the hidden list.
	MetaTaskName = "[META INFO] DON'T UPDATE AND DELETE"
)

// SyncAction is the per-entity outcome of the three-way comparison between
// the local record, its cached last-synced stamp and the remote node.
type SyncAction int

const (
	ActionNone SyncAction = iota
	ActionAddRemote
	ActionAddLocal
	ActionDelRemote
	ActionDelLocal
	ActionUpdateRemote
	ActionUpdateLocal
	ActionUpdateConflict
	ActionError
)

func (a SyncAction) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionAddRemote:
		return "add-remote"
	case ActionAddLocal:
		return "add-local"
	case ActionDelRemote:
		return "del-remote"
	case ActionDelLocal:
		return "del-local"
	case ActionUpdateRemote:
		return "update-remote"
	case ActionUpdateLocal:
		return "update-local"
	case ActionUpdateConflict:
		return "update-conflict"
	default:
		return "error"
	}
}

// RecordMeta is the slice of a local record that the sync-action decision
// needs. It deliberately carries no storage handle so the decision functions
// stay pure.
type RecordMeta struct {
	LocalID         int64
	RemoteID        string
	SyncStamp       int64
	LocallyModified bool
}

// Node carries the fields shared by all syncable variants. RemoteID is empty
// until the first successful remote create; LastModified is the remote-side
// version stamp echoed back into the local sync stamp after a pass.
type Node struct {
	RemoteID     string
	Name         string
	LastModified int64
	Deleted      bool
}

// SetDeleted flips the tombstone flag. Remote deletion is a soft delete via
// the standard update path.
func (n *Node) SetDeleted(deleted bool) { n.Deleted = deleted }

// Updater is implemented by every variant that can produce an update action
// for the remote service. Soft deletes go through the same path with the
// deleted flag set first.
type Updater interface {
	UpdateAction(actionID int) Action
	SetDeleted(deleted bool)
}
