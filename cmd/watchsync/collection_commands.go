package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/njoerd114/watchsync/internal/collections"
	"github.com/njoerd114/watchsync/internal/model"
)

func newCollectionCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newListCommand(ctx),
		newAddCommand(ctx),
		newRemoveCommand(ctx),
		newToggleCommand(ctx),
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var kindFilter string

	cmd := &cobra.Command{
		Use:   "list <favorites|watchlist|watched>",
		Short: "Show a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				coll, err := env.reg.ItemCollection(args[0])
				if err != nil {
					return err
				}
				env.reload(cmd.Context())

				items := coll.Items()
				if kindFilter != "" {
					items = slices.DeleteFunc(items, func(it model.Item) bool {
						return !strings.EqualFold(string(it.Kind), kindFilter)
					})
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintf(out, "%s is empty.\n", coll.Name())
					return nil
				}

				watched := coll.Name() == collections.Watched
				headers := []string{"Key", "Title", "Year", "Added"}
				if watched {
					headers = append(headers, "Watched")
				}
				fmt.Fprintln(out, renderTable(headers, itemRows(items, watched), nil))
				fmt.Fprintln(out, kindSummary(model.CountByKind(items)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kindFilter, "kind", "", "Only show items of this kind")
	return cmd
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var f itemFlags

	cmd := &cobra.Command{
		Use:     "add <favorites|watchlist|watched> <kind> <id> <title>",
		Short:   "Add an item to a collection",
		Example: "  watchsync add watchlist movie 603 The Matrix --release-date 1999-03-31",
		Args:    cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := parseItem(args[1:], f)
			if err != nil {
				return err
			}
			return ctx.withEnv(cmd, func(env *appEnv) error {
				coll, err := env.reg.ItemCollection(args[0])
				if err != nil {
					return err
				}
				env.reload(cmd.Context())
				res := coll.Add(cmd.Context(), item)
				return reportResult(cmd.OutOrStdout(), fmt.Sprintf("add %s to %s", item.Key(), coll.Name()), res)
			})
		},
	}
	addItemFlags(cmd, &f)
	return cmd
}

func newToggleCommand(ctx *commandContext) *cobra.Command {
	var f itemFlags

	cmd := &cobra.Command{
		Use:     "toggle <favorites|watchlist|watched> <kind> <id> <title>",
		Short:   "Add an item to a collection, or remove it when already there",
		Example: "  watchsync toggle favorites movie 603 The Matrix",
		Args:    cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := parseItem(args[1:], f)
			if err != nil {
				return err
			}
			return ctx.withEnv(cmd, func(env *appEnv) error {
				coll, err := env.reg.ItemCollection(args[0])
				if err != nil {
					return err
				}
				env.reload(cmd.Context())
				what := fmt.Sprintf("add %s to %s", item.Key(), coll.Name())
				if coll.IsMember(collections.ItemKey(item)) {
					what = fmt.Sprintf("remove %s from %s", item.Key(), coll.Name())
				}
				res := coll.Toggle(cmd.Context(), item)
				return reportResult(cmd.OutOrStdout(), what, res)
			})
		},
	}
	addItemFlags(cmd, &f)
	return cmd
}

func addItemFlags(cmd *cobra.Command, f *itemFlags) {
	cmd.Flags().StringVar(&f.releaseDate, "release-date", "", "Release or first air date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.poster, "poster", "", "Poster image path")
	cmd.Flags().Float64Var(&f.rating, "rating", 0, "Rating between 0 and 10")
	cmd.Flags().IntVar(&f.runtime, "runtime", 0, "Runtime in minutes")
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <favorites|watchlist|watched> <kind:id>",
		Short:   "Remove an item from a collection",
		Example: "  watchsync remove watchlist movie:603",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := model.ParseKey(args[1])
			if err != nil {
				return err
			}
			return ctx.withEnv(cmd, func(env *appEnv) error {
				coll, err := env.reg.ItemCollection(args[0])
				if err != nil {
					return err
				}
				env.reload(cmd.Context())
				res := coll.Remove(cmd.Context(), key.String())
				return reportResult(cmd.OutOrStdout(), fmt.Sprintf("remove %s from %s", key, coll.Name()), res)
			})
		},
	}
}
