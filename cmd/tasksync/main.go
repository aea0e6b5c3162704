// Copyright 2025 The tasksync Authors
// SPDX-License-Identifier: Apache-2.0

// Command tasksync synchronizes a local notes mirror database with a remote
// task-list service.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mobilenotes/tasksync/internal/auth"
	"github.com/mobilenotes/tasksync/localstore"
	"github.com/mobilenotes/tasksync/remote"
	"github.com/mobilenotes/tasksync/syncer"
)

type fileConfig struct {
	DBPath      string `yaml:"db_path"`
	BaseURL     string `yaml:"base_url"`
	FallbackURL string `yaml:"fallback_url"`
	Token       string `yaml:"token"`
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("config %s: db_path is required", path)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("config %s: base_url is required", path)
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("TASKSYNC_TOKEN")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("config %s: token is required (or set TASKSYNC_TOKEN)", path)
	}
	return &cfg, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	var (
		configPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "tasksync",
		Short:         "Synchronize local notes with a remote task-list service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "tasksync.yaml", "path to config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one full synchronization pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(verbose)
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			store, err := localstore.Open(cfg.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			client, err := remote.NewClient(remote.Config{
				BaseURL:     cfg.BaseURL,
				FallbackURL: cfg.FallbackURL,
				Tokens:      auth.StaticToken(cfg.Token),
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			engine, err := syncer.NewEngine(syncer.Config{
				Store:  store,
				Client: client,
				Logger: logger,
				Progress: func(msg string) {
					fmt.Fprintln(cmd.OutOrStdout(), msg)
				},
			})
			if err != nil {
				return err
			}

			status := engine.Sync(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "sync: %s\n", status)
			if status != syncer.StatusSuccess {
				return fmt.Errorf("sync finished with status %q", status)
			}
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync state of the local mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(verbose)
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			store, err := localstore.Open(cfg.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			deviceID, err := store.EnsureDeviceID(cmd.Context())
			if err != nil {
				return err
			}
			last, err := store.LastSyncTime(cmd.Context())
			if err != nil {
				return err
			}
			account, _ := auth.AccountName(cfg.Token)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "device:    %s\n", deviceID)
			if account != "" {
				fmt.Fprintf(out, "account:   %s\n", account)
			}
			if last.IsZero() {
				fmt.Fprintln(out, "last sync: never")
			} else {
				fmt.Fprintf(out, "last sync: %s\n", last.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	root.AddCommand(syncCmd, statusCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
