package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/njoerd114/watchsync/internal/collections"
	"github.com/njoerd114/watchsync/internal/model"
	wsync "github.com/njoerd114/watchsync/internal/sync"
)

func newSyncCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newSyncCommand(ctx),
		newStatusCommand(ctx),
		newHistoryCommand(ctx),
		newModeCommand(ctx),
		newScheduleCommand(ctx),
		newStatsCommand(ctx),
	}
}

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reload every collection from the remote store now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				out := cmd.OutOrStdout()
				if env.remoteErr != nil {
					return fmt.Errorf("remote store unavailable: %w", env.remoteErr)
				}
				if err := env.coord.TriggerManualSync(cmd.Context()); err != nil {
					return fmt.Errorf("sync finished with errors: %w", err)
				}
				if !env.cfg.HasRemote() {
					fmt.Fprintln(out, "No remote store configured; local collections reloaded.")
					return nil
				}
				fmt.Fprintf(out, "Sync complete (%s).\n", env.coord.Status())
				return nil
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show identity, sync mode and storage state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				if env.monitor != nil {
					env.monitor.Check(cmd.Context())
				}
				st := env.coord.State()

				remoteDesc := "not configured"
				switch {
				case env.remoteErr != nil:
					remoteDesc = "unavailable"
				case env.cfg.HasRemote() && env.online():
					remoteDesc = "online"
				case env.cfg.HasRemote():
					remoteDesc = "offline"
				}

				schedule := "off"
				if st.Schedule.Enabled {
					schedule = "daily at " + st.Schedule.At
				}

				lastSync := "never"
				if h := env.coord.History(); len(h) > 0 {
					last := h[len(h)-1]
					lastSync = fmt.Sprintf("%s %s (%s)", last.Service, last.Status, humanize.Time(last.At))
				}

				storage := "unknown"
				if used, err := env.store.Usage(cmd.Context()); err == nil {
					storage = fmt.Sprintf("%s of %s", humanize.IBytes(uint64(used)), humanize.IBytes(uint64(env.store.Quota())))
				}

				rows := [][]string{
					{"User", displayUser(env.session.Current())},
					{"Remote", remoteDesc},
					{"Status", string(st.Status)},
					{"Mode", string(st.Mode)},
					{"Schedule", schedule},
					{"Last sync", lastSync},
					{"Local storage", storage},
				}
				for svc, msg := range st.Errors {
					rows = append(rows, []string{"Error: " + svc, msg})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"", ""}, rows, nil))
				return nil
			})
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var clear bool
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				out := cmd.OutOrStdout()
				if clear {
					if err := env.coord.ClearHistory(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(out, "Sync history cleared.")
					return nil
				}

				h := env.coord.History()
				if len(h) == 0 {
					fmt.Fprintln(out, "No sync history.")
					return nil
				}
				if limit > 0 && len(h) > limit {
					h = h[len(h)-limit:]
				}
				rows := make([][]string, 0, len(h))
				for i := len(h) - 1; i >= 0; i-- {
					e := h[i]
					count := ""
					if e.Count != nil {
						count = strconv.Itoa(*e.Count)
					}
					rows = append(rows, []string{humanize.Time(e.At), e.Service, string(e.Status), count, e.Detail})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"When", "Service", "Status", "Count", "Detail"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "Clear the history")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Show at most this many entries (0 for all)")
	return cmd
}

func newModeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mode [cycle|normal|persistence|suspended]",
		Short: "Show or change the sync mode",
		Long: `Show or change the sync mode.

  normal       sync every change, no background retry
  persistence  sync every change and retry failures while the daemon runs
  suspended    keep every change on this device`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					fmt.Fprintln(out, env.coord.Mode())
					return nil
				}
				if args[0] == "cycle" {
					fmt.Fprintf(out, "Sync mode: %s\n", env.coord.CycleMode(cmd.Context()))
					return nil
				}
				m, err := model.ParseMode(args[0])
				if err != nil {
					return err
				}
				if err := env.coord.SetMode(cmd.Context(), m); err != nil {
					return err
				}
				fmt.Fprintf(out, "Sync mode: %s\n", m)
				return nil
			})
		},
	}
}

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show or change the daily sync time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				s := env.coord.Schedule()
				if !s.Enabled {
					fmt.Fprintln(cmd.OutOrStdout(), "Daily sync is off.")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Daily sync at %s (runs while the daemon is up).\n", s.At)
				return nil
			})
		},
	}

	scheduleCmd.AddCommand(&cobra.Command{
		Use:   "set <HH:MM>",
		Short: "Sync every day at the given local time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				if err := env.coord.SetSchedule(cmd.Context(), wsync.Schedule{Enabled: true, At: args[0]}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Daily sync at %s.\n", args[0])
				return nil
			})
		},
	})
	scheduleCmd.AddCommand(&cobra.Command{
		Use:   "off",
		Short: "Disable the daily sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				s := env.coord.Schedule()
				s.Enabled = false
				if err := env.coord.SetSchedule(cmd.Context(), s); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Daily sync is off.")
				return nil
			})
		},
	})

	return scheduleCmd
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Compare item counts on this device and in the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				env.reload(cmd.Context())
				st, err := env.reg.Stats(cmd.Context())
				if err != nil {
					env.log.Warn("some remote counts are missing", "error", err)
				}

				categories := []string{collections.Favorites, collections.Watchlist, collections.Watched, collections.Lists, collections.Settings}
				rows := make([][]string, 0, len(categories))
				for _, c := range categories {
					remoteCount := "-"
					if n, ok := st.Remote[c]; ok {
						remoteCount = humanize.Comma(int64(n))
					}
					rows = append(rows, []string{c, humanize.Comma(int64(st.Local[c])), remoteCount})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(
					[]string{"Category", "Local", "Remote"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight},
				))
				fmt.Fprintf(out, "Checked %s\n", st.CheckedAt.Local().Format("2006-01-02 15:04:05"))
				return nil
			})
		},
	}
}
