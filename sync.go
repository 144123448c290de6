package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/larksync/larksync/internal/config"
	"github.com/larksync/larksync/internal/convert"
	"github.com/larksync/larksync/internal/lark"
	"github.com/larksync/larksync/internal/state"
	docsync "github.com/larksync/larksync/internal/sync"
	"github.com/larksync/larksync/internal/vault"
)

// app bundles the long-lived components shared by every task of a run.
type app struct {
	cfg    *config.Config
	auth   *lark.Auth
	client *lark.Client
	assets *lark.AssetStore
	logger *slog.Logger
}

// buildApp wires auth, gateway, and asset store from the config. Refreshed
// user tokens are written back into the config file so the next run skips
// the browser flow.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	auth := lark.NewAuth(lark.AuthOptions{
		AppID:            cfg.AppID,
		AppSecret:        cfg.AppSecret,
		UserAccessToken:  cfg.UserAccessToken,
		UserRefreshToken: cfg.UserRefreshToken,
		HTTPClient:       defaultHTTPClient(),
		Logger:           logger,
		OnTokenChange: func(access, refresh string) {
			cfg.UserAccessToken = access
			cfg.UserRefreshToken = refresh

			if err := cfg.Save(); err != nil {
				logger.Warn("failed to persist refreshed tokens",
					slog.String("error", err.Error()),
				)
			}
		},
	})

	client := lark.NewClient(lark.DefaultBaseURL, defaultHTTPClient(), auth,
		time.Duration(cfg.RateLimitMS)*time.Millisecond, logger)

	cachePath, err := lark.DefaultAssetCachePath()
	if err != nil {
		return nil, err
	}

	assets, err := lark.NewAssetStore(client, cachePath, logger)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, auth: auth, client: client, assets: assets, logger: logger}, nil
}

// runSync is the root command: a single local/cloud pair from the arguments,
// or every enabled config task when invoked bare.
func runSync(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	slog.SetDefault(logger)

	if flagDebugDump {
		if len(args) < 1 {
			return fmt.Errorf("--debug-dump requires a local path argument")
		}

		return debugDump(cmd.Context(), args[0], logger)
	}

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return err
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	if len(args) == 2 {
		return runTask(ctx, a, config.Task{
			Local:     args[0],
			Cloud:     args[1],
			VaultRoot: flagVaultRoot,
			Enabled:   true,
			Force:     flagForce,
			Overwrite: flagOverwrite,
		})
	}

	tasks := cfg.EnabledTasks()
	if len(tasks) == 0 {
		return fmt.Errorf("no enabled tasks in %s and no arguments given", cfg.Path())
	}

	failed := 0

	for _, t := range tasks {
		label := t.Note
		if label == "" {
			label = t.Local
		}

		logger.Info("running task", slog.String("task", label))

		if err := runTask(ctx, a, t); err != nil {
			logger.Error("task failed",
				slog.String("task", label),
				slog.String("error", err.Error()),
			)

			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(tasks))
	}

	return nil
}

// runTask synchronizes one configured local/cloud pair: a single document
// when the local path is a file, a whole tree when it is a directory.
func runTask(ctx context.Context, a *app, t config.Task) error {
	local, err := filepath.Abs(t.Local)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", t.Local, err)
	}

	info, err := os.Stat(local)
	if err != nil {
		return fmt.Errorf("reading %s: %w", t.Local, err)
	}

	vaultRoot := t.VaultRoot
	if vaultRoot == "" {
		if info.IsDir() {
			vaultRoot = local
		} else {
			vaultRoot = filepath.Dir(local)
		}
	}

	st, err := state.Open(vaultRoot, a.logger)
	if err != nil {
		return err
	}

	idx, err := vault.NewIndex(vaultRoot, nil, a.logger)
	if err != nil {
		return err
	}

	syncer := docsync.NewSyncer(a.client, a.assets, idx, st,
		a.cfg.DiffThreshold, vault.NewBatchID(), a.logger)

	opt := docsync.FileOptions{Force: t.Force, Overwrite: t.Overwrite}

	if !info.IsDir() {
		res, err := syncer.SyncFile(ctx, local, t.Cloud, opt)
		if err != nil {
			return err
		}

		a.logger.Info("document sync finished",
			slog.String("path", res.Path),
			slog.String("document", res.DocToken),
			slog.String("action", string(res.Action)),
		)

		return nil
	}

	orch := docsync.NewOrchestrator(syncer, a.client, st, a.cfg.MaxParallelWorkers, a.logger)

	stats, err := orch.SyncFolder(ctx, local, t.Cloud, opt)
	if err != nil {
		return err
	}

	fmt.Println(stats.Summary())

	if stats.Failed > 0 {
		return fmt.Errorf("%d documents failed", stats.Failed)
	}

	return nil
}

// debugDump parses a markdown file without touching the network and prints
// the resulting block tree as JSON. Asset references stay unresolved.
func debugDump(ctx context.Context, path string, logger *slog.Logger) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	blocks, err := convert.Parse(ctx, src, convert.ParseOptions{Logger: logger})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(blocks, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))

	return nil
}
