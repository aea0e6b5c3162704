// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

// Status is the terminal outcome of one sync pass.
type Status int

const (
	StatusSuccess Status = iota
	StatusInProgress
	StatusCancelled
	StatusNetworkError
	StatusInternalError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInProgress:
		return "already in progress"
	case StatusCancelled:
		return "cancelled"
	case StatusNetworkError:
		return "network error"
	case StatusInternalError:
		return "internal error"
	default:
		return "unknown"
	}
}
