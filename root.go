package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

// Global flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVaultRoot  string
	flagForce      bool
	flagOverwrite  bool
	flagDebugDump  bool
	flagVerbose    bool
	flagQuiet      bool
)

// httpClientTimeout is the default timeout for HTTP requests. Media
// transfers get their own client with a longer timeout inside the gateway.
const httpClientTimeout = 30 * time.Second

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds the fully-assembled root command. The root command
// itself runs a sync: either a single local/cloud pair from the arguments,
// or every enabled task from the config file when invoked bare.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "larksync [local_path cloud_token]",
		Short:   "Sync Markdown vaults with Feishu/Lark documents",
		Long:    "Bidirectional sync between a local Markdown vault and Feishu/Lark block documents.",
		Version: version,
		Args:    cobra.RangeArgs(0, 2),
		// Silence Cobra's default error/usage printing; we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runSync,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (default sync_config.json)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.Flags().BoolVar(&flagForce, "force", false, "upload local content regardless of modification times")
	cmd.Flags().BoolVar(&flagOverwrite, "overwrite", false, "replace remote documents instead of diffing")
	cmd.Flags().StringVar(&flagVaultRoot, "vault-root", "", "resource index root (default: the local path)")
	cmd.Flags().BoolVar(&flagDebugDump, "debug-dump", false, "print the parsed block tree as JSON and exit")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newRestoreCmd())
	cmd.AddCommand(newCleanCmd())

	return cmd
}

// buildLogger creates the process logger. Terminals get tinted output;
// pipes and files get plain text.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
