package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/njoerd114/watchsync/internal/remote"
	"github.com/njoerd114/watchsync/internal/setup"
)

func newSetupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "setup",
		Short:       "Interactive wizard that writes the config file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.configPath()
			if err != nil {
				return fmt.Errorf("resolving config path: %w", err)
			}
			level := slog.LevelWarn
			if ctx.verbose() {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			wiz := setup.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout(), path, pingDatabase(logger), logger)
			if _, err := wiz.Run(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "\nSetup complete. Run 'watchsync status' to check the result.")
			return nil
		},
	}
}

// pingDatabase opens the database once, which also applies the schema
// migrations, so the first real command starts from a ready store.
func pingDatabase(logger *slog.Logger) setup.PingFunc {
	return func(ctx context.Context, url string) error {
		ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		c, err := remote.Open(ctx, url, remote.WithMaxAttempts(1), remote.WithLogger(logger))
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Ping(ctx)
	}
}
