package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and change synced preferences",
	}
	settingsCmd.AddCommand(newSettingsGetCommand(ctx))
	settingsCmd.AddCommand(newSettingsSetCommand(ctx))
	return settingsCmd
}

func newSettingsGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Show one setting, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				if err := env.reg.Settings.Load(cmd.Context()); err != nil {
					env.log.Warn("settings sync incomplete, showing local values", "error", err)
				}
				out := cmd.OutOrStdout()

				if len(args) == 1 {
					v, ok := env.reg.Settings.Get(args[0])
					if !ok {
						return fmt.Errorf("setting %q is not set", args[0])
					}
					fmt.Fprintln(out, formatSettingValue(v))
					return nil
				}

				rec := env.reg.Settings.Snapshot()
				if len(rec) == 0 {
					fmt.Fprintln(out, "No settings.")
					return nil
				}
				rows := make([][]string, 0, len(rec))
				for _, k := range slices.Sorted(maps.Keys(rec)) {
					rows = append(rows, []string{k, formatSettingValue(rec[k])})
				}
				fmt.Fprintln(out, renderTable([]string{"Key", "Value"}, rows, nil))
				return nil
			})
		},
	}
}

func newSettingsSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Change a setting",
		Long:    "Change a setting. Values are parsed as JSON when possible, so 42, true and [1,2] keep their types; anything else is stored as text.",
		Example: "  watchsync settings set region SE\n  watchsync settings set adult_content false",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				if err := env.reg.Settings.Load(cmd.Context()); err != nil {
					env.log.Warn("settings sync incomplete", "error", err)
				}
				res := env.reg.Settings.UpdateOne(cmd.Context(), args[0], parseSettingValue(args[1]))
				return reportResult(cmd.OutOrStdout(), fmt.Sprintf("set %s", args[0]), res)
			})
		},
	}
}
