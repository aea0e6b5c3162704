// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"encoding/json"
	"fmt"
)

// Local record types carried inside envelopes. These mirror the local
// mirror-store `type` column.
const (
	TypeNote   = 0
	TypeFolder = 1
	TypeSystem = 2
)

// Fragment mime kinds.
const (
	MimeNote = "vnd.mobilenotes/text_note"
	MimeCall = "vnd.mobilenotes/call_note"
)

// Well-known local record ids. Negative ids are reserved for system rows
// created when the mirror store is bootstrapped.
const (
	RootFolderID  int64 = 0
	TempFolderID  int64 = -1
	CallFolderID  int64 = -2
	TrashFolderID int64 = -3
)

// NoteHead is the record portion of a local envelope. The ID pointer is
// significant: a metadata snapshot whose head lost its local id triggers an
// update-local decision (the remote side no longer knows which row it came
// from).
type NoteHead struct {
	ID            *int64 `json:"id,omitempty"`
	Type          int    `json:"type"`
	ParentID      int64  `json:"parent_id,omitempty"`
	Snippet       string `json:"snippet,omitempty"`
	AlertDate     int64  `json:"alerted_date,omitempty"`
	BgColorID     int64  `json:"bg_color_id,omitempty"`
	CreatedDate   int64  `json:"created_date,omitempty"`
	HasAttachment int64  `json:"has_attachment,omitempty"`
	ModifiedDate  int64  `json:"modified_date,omitempty"`
	OriginParent  int64  `json:"origin_parent_id,omitempty"`
	WidgetID      int64  `json:"widget_id,omitempty"`
	WidgetType    int64  `json:"widget_type,omitempty"`
}

// FragmentData is one content fragment of a note inside an envelope: the
// note text itself, or the typed extras of a call-log note.
type FragmentData struct {
	ID      *int64 `json:"id,omitempty"`
	Mime    string `json:"mime_type"`
	Content string `json:"content"`
	Data1   int64  `json:"data1,omitempty"`
	Data2   int64  `json:"data2,omitempty"`
	Data3   string `json:"data3,omitempty"`
	Data4   string `json:"data4,omitempty"`
}

// Envelope is the full local representation of a note or folder exchanged
// between the node model and the local mirror gateway, and embedded verbatim
// into the remote metadata snapshot.
type Envelope struct {
	Note NoteHead       `json:"meta_note"`
	Data []FragmentData `json:"meta_data,omitempty"`
}

// NoteText returns the content of the first text fragment, or "".
func (e *Envelope) NoteText() string {
	for _, d := range e.Data {
		if d.Mime == MimeNote {
			return d.Content
		}
	}
	return ""
}

// SetNoteText rewrites the content of the first text fragment, appending a
// fresh one if the envelope has none.
func (e *Envelope) SetNoteText(text string) {
	for i := range e.Data {
		if e.Data[i].Mime == MimeNote {
			e.Data[i].Content = text
			return
		}
	}
	e.Data = append(e.Data, FragmentData{Mime: MimeNote, Content: text})
}

// Snapshot is the payload of a metadata task: the related note's envelope at
// last sync plus the remote id it belongs to.
type Snapshot struct {
	Envelope
	RelatedRemoteID string `json:"meta_gid,omitempty"`
}

// ParseSnapshot decodes a metadata notes blob.
func ParseSnapshot(raw string) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("failed to parse metadata snapshot: %w", err)
	}
	return &s, nil
}

// Encode serializes the snapshot back into the metadata notes blob.
func (s *Snapshot) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata snapshot: %w", err)
	}
	return string(b), nil
}
