package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/larksync/larksync/internal/config"
)

// newLoginCmd runs the browser authorization flow and persists the
// resulting token pair into the config file.
func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize via the browser and store user tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()
			slog.SetDefault(logger)

			cfg, err := config.Load(flagConfigPath)
			if err != nil {
				return err
			}

			a, err := buildApp(cfg, logger)
			if err != nil {
				return err
			}

			if err := a.auth.Login(cmd.Context()); err != nil {
				return err
			}

			fmt.Println("Login successful. Tokens saved to", cfg.Path())

			return nil
		},
	}
}
