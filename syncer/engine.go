// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncer drives full synchronization passes between the local
// mirror store and the remote task service: one engine per database, one
// pass at a time, each pass walking trash, folders, notes and metadata in a
// fixed order.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mobilenotes/tasksync/localstore"
	"github.com/mobilenotes/tasksync/remote"
)

var errCancelled = errors.New("sync cancelled")

// Config carries engine collaborators and knobs.
type Config struct {
	Store  *localstore.Store
	Client *remote.Client
	Logger *slog.Logger
	// Progress, when set, receives coarse human-readable phase updates.
	Progress func(msg string)
}

// Engine runs sync passes. Safe for concurrent use: overlapping Sync calls
// collapse to a single pass, the rest report StatusInProgress.
type Engine struct {
	store    *localstore.Store
	client   *remote.Client
	logger   *slog.Logger
	progress func(string)

	syncing   atomic.Bool
	cancelled atomic.Bool
}

// NewEngine builds an engine from cfg.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Client == nil {
		return nil, fmt.Errorf("sync engine: store and client are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	progress := cfg.Progress
	if progress == nil {
		progress = func(string) {}
	}
	return &Engine{
		store:    cfg.Store,
		client:   cfg.Client,
		logger:   cfg.Logger,
		progress: progress,
	}, nil
}

// IsSyncing reports whether a pass is currently running.
func (e *Engine) IsSyncing() bool { return e.syncing.Load() }

// Cancel requests that the running pass stop at its next step boundary.
// Remote work already submitted stays submitted; the next pass reconciles.
func (e *Engine) Cancel() {
	if e.syncing.Load() {
		e.cancelled.Store(true)
	}
}

// Sync runs one full pass and returns its terminal status. Errors are folded
// into the status; the log carries the detail.
func (e *Engine) Sync(ctx context.Context) Status {
	if !e.syncing.CompareAndSwap(false, true) {
		return StatusInProgress
	}
	defer e.syncing.Store(false)
	e.cancelled.Store(false)

	started := time.Now()
	s := &session{
		store:     e.store,
		client:    e.client,
		logger:    e.logger,
		progress:  e.progress,
		cancelled: &e.cancelled,
	}
	err := s.run(ctx)
	switch {
	case err == nil:
		if err := e.store.SetLastSyncTime(ctx, time.Now()); err != nil {
			e.logger.Warn("sync succeeded but last-sync time was not persisted", "error", err)
		}
		e.logger.Info("sync finished", "elapsed", time.Since(started))
		return StatusSuccess
	case errors.Is(err, errCancelled) || errors.Is(err, context.Canceled):
		e.logger.Info("sync cancelled", "elapsed", time.Since(started))
		return StatusCancelled
	case errors.Is(err, remote.ErrNetwork):
		e.logger.Error("sync failed", "error", err)
		return StatusNetworkError
	default:
		e.logger.Error("sync failed", "error", err)
		return StatusInternalError
	}
}
