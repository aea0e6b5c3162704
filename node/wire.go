// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

package node

// Wire-level JSON models for the remote action-list protocol. Every mutating
// request is `{action_list: [...], client_version}`; the per-action payload
// shapes below are the only ones the service understands.

// Action type discriminators.
const (
	ActionTypeCreate = "create"
	ActionTypeUpdate = "update"
	ActionTypeMove   = "move"
	ActionTypeGetAll = "get_all"
)

// Entity type discriminators used by create actions.
const (
	EntityTypeTask  = "TASK"
	EntityTypeGroup = "GROUP"
)

// RemoteNode is the envelope the service returns for a list or task, both in
// the list collection and in get_all responses. Absent fields decode to zero
// values, matching a freshly constructed node.
type RemoteNode struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	EntityType   string `json:"entity_type,omitempty"`
	Notes        string `json:"notes,omitempty"`
	LastModified int64  `json:"last_modified,omitempty"`
	Deleted      bool   `json:"deleted,omitempty"`
	Completed    bool   `json:"completed,omitempty"`
}

// EntityDelta is the mutable field set carried by create and update actions.
// Pointer fields distinguish "unchanged" from an explicit zero value.
type EntityDelta struct {
	Name       string  `json:"name,omitempty"`
	CreatorID  string  `json:"creator_id,omitempty"`
	EntityType string  `json:"entity_type,omitempty"`
	Notes      *string `json:"notes,omitempty"`
	Deleted    *bool   `json:"deleted,omitempty"`
}

// Action is one element of an action_list request. Which fields are set
// depends on ActionType; the protocol client validates the combination
// before submitting.
type Action struct {
	ActionType     string       `json:"action_type"`
	ActionID       int          `json:"action_id"`
	Index          int          `json:"index,omitempty"`
	Entity         *EntityDelta `json:"entity_delta,omitempty"`
	ID             string       `json:"id,omitempty"`
	ParentID       string       `json:"parent_id,omitempty"`
	DestParentType string       `json:"dest_parent_type,omitempty"`
	ListID         string       `json:"list_id,omitempty"`
	PriorSiblingID string       `json:"prior_sibling_id,omitempty"`
	SourceList     string       `json:"source_list,omitempty"`
	DestParent     string       `json:"dest_parent,omitempty"`
	DestList       string       `json:"dest_list,omitempty"`
	GetDeleted     *bool        `json:"get_deleted,omitempty"`
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }
