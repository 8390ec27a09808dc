package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	wsync "github.com/njoerd114/watchsync/internal/sync"
)

func newAuthCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newLoginCommand(ctx),
		newLogoutCommand(ctx),
		newWhoamiCommand(ctx),
		newAdoptCommand(ctx),
	}
}

func newLoginCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Bind this device to the user a token was issued for",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				if env.cfg.Auth.TokenSecret == "" {
					return errors.New("auth.token_secret is not configured; run 'watchsync setup' first")
				}
				userID, err := env.session.SignIn(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return fmt.Errorf("signing in: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Signed in as %s.\n", userID)
				fmt.Fprintln(out, "Run 'watchsync adopt' to copy items saved while signed out into this account.")
				return nil
			})
		},
	}
}

func newLogoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Return this device to the anonymous scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				if _, ok := env.session.Current(); !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
					return nil
				}
				if err := env.session.SignOut(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out. Your account data stays on this device until you sign in again.")
				return nil
			})
		},
	}
}

func newWhoamiCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				fmt.Fprintln(cmd.OutOrStdout(), displayUser(env.session.Current()))
				return nil
			})
		},
	}
}

func newAdoptCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "adopt",
		Short: "Copy items saved while signed out into the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				if _, ok := env.session.Current(); !ok {
					return wsync.ErrNotSignedIn
				}
				env.reload(cmd.Context())
				added, err := env.reg.Adopt(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
				if added > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Adopted %d item(s).\n", added)
				}
				if err != nil {
					return fmt.Errorf("some items stay on this device until the next sync: %w", err)
				}
				return nil
			})
		},
	}
}
