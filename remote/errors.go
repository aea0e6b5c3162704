// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"errors"
	"fmt"
)

// ErrNetwork marks transport-level failures (connect, send, receive). The
// engine maps these to a network-error sync status.
var ErrNetwork = errors.New("network error")

// ErrAction marks a response the service understood but rejected, or one
// this client cannot interpret.
var ErrAction = errors.New("action failed")

// ErrNotLoggedIn is returned when an operation runs before Login.
var ErrNotLoggedIn = errors.New("not logged in")

func networkErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
}

func actionErr(op, detail string) error {
	return fmt.Errorf("%s: %w: %s", op, ErrAction, detail)
}
