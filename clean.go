package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/larksync/larksync/internal/vault"
)

// newCleanCmd deletes every backup file under a path.
func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [path]",
		Short: "Delete *.bak.* backup files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			logger := buildLogger()
			slog.SetDefault(logger)

			root := "."
			if len(args) == 1 {
				root = args[0]
			}

			removed, err := vault.CleanBackups(root, logger)
			if err != nil {
				return err
			}

			fmt.Printf("Removed %d backup files\n", removed)

			return nil
		},
	}
}
