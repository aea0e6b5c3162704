// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

package node

import "fmt"

// MetaData is a specialized task that never reaches the end user. It lives
// in the hidden metadata list and stores, per synced note, the full local
// envelope of that note as of its last sync. Its notes field carries the
// encoded snapshot; the related remote id inside it is the join key back to
// the real task.
type MetaData struct {
	Task
	RelatedRemoteID string

	snap *Snapshot
}

// SetMeta replaces the snapshot payload with the given envelope, keyed by
// the related task's remote id.
func (m *MetaData) SetMeta(relatedRemoteID string, env *Envelope) error {
	snap := &Snapshot{Envelope: *env, RelatedRemoteID: relatedRemoteID}
	encoded, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("failed to set metadata payload: %w", err)
	}
	m.Notes = encoded
	m.Name = MetaTaskName
	m.RelatedRemoteID = relatedRemoteID
	m.snap = snap
	return nil
}

// Snapshot returns the parsed snapshot payload, or nil when the metadata
// task carries none (or an unparseable one).
func (m *MetaData) Snapshot() *Snapshot { return m.snap }

// UpdateFromRemote fills the metadata task from a remote wire envelope and
// decodes the embedded snapshot. An unparseable snapshot is not fatal: the
// sync pass will treat the related note as having lost its metadata and
// recreate it from local truth.
func (m *MetaData) UpdateFromRemote(rn RemoteNode) {
	m.Task.UpdateFromRemote(rn)
	m.RelatedRemoteID = ""
	m.snap = nil
	if m.Notes == "" {
		return
	}
	snap, err := ParseSnapshot(m.Notes)
	if err != nil {
		return
	}
	m.snap = snap
	m.RelatedRemoteID = snap.RelatedRemoteID
}

// WorthSaving reports whether the metadata task carries a payload at all.
func (m *MetaData) WorthSaving() bool { return m.Notes != "" }
