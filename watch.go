package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/larksync/larksync/internal/config"
	"github.com/larksync/larksync/internal/state"
	docsync "github.com/larksync/larksync/internal/sync"
	"github.com/larksync/larksync/internal/vault"
)

// newWatchCmd keeps a local directory continuously synced: every burst of
// filesystem changes triggers a folder sync after a debounce interval.
func newWatchCmd() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch [local_path cloud_token]",
		Short: "Continuously sync a directory on local changes",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()
			slog.SetDefault(logger)

			cfg, err := config.Load(flagConfigPath)
			if err != nil {
				return err
			}

			t, err := watchTask(cfg, args)
			if err != nil {
				return err
			}

			a, err := buildApp(cfg, logger)
			if err != nil {
				return err
			}

			local, err := filepath.Abs(t.Local)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", t.Local, err)
			}

			info, err := os.Stat(local)
			if err != nil {
				return fmt.Errorf("reading %s: %w", t.Local, err)
			}

			if !info.IsDir() {
				return fmt.Errorf("watch requires a directory, got %s", t.Local)
			}

			vaultRoot := t.VaultRoot
			if vaultRoot == "" {
				vaultRoot = local
			}

			st, err := state.Open(vaultRoot, logger)
			if err != nil {
				return err
			}

			idx, err := vault.NewIndex(vaultRoot, nil, logger)
			if err != nil {
				return err
			}

			syncer := docsync.NewSyncer(a.client, a.assets, idx, st,
				cfg.DiffThreshold, vault.NewBatchID(), logger)
			orch := docsync.NewOrchestrator(syncer, a.client, st, cfg.MaxParallelWorkers, logger)
			watcher := docsync.NewWatcher(orch, debounce, logger)

			opt := docsync.FileOptions{Force: t.Force, Overwrite: t.Overwrite}

			return watcher.Watch(cmd.Context(), local, t.Cloud, opt)
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", docsync.DefaultDebounce,
		"quiet period before a change burst triggers a sync")

	return cmd
}

// watchTask picks the task to watch: the argument pair when given, otherwise
// the single enabled task from the config.
func watchTask(cfg *config.Config, args []string) (config.Task, error) {
	if len(args) == 2 {
		return config.Task{
			Local:     args[0],
			Cloud:     args[1],
			VaultRoot: flagVaultRoot,
			Enabled:   true,
		}, nil
	}

	tasks := cfg.EnabledTasks()

	switch len(tasks) {
	case 0:
		return config.Task{}, fmt.Errorf("no enabled tasks in %s and no arguments given", cfg.Path())
	case 1:
		return tasks[0], nil
	default:
		return config.Task{}, fmt.Errorf("%d enabled tasks; pass local_path and cloud_token to pick one", len(tasks))
	}
}
