package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/njoerd114/watchsync/internal/model"
)

func newListsCommand(ctx *commandContext) *cobra.Command {
	listsCmd := &cobra.Command{
		Use:   "lists",
		Short: "Manage custom lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showLists(ctx, cmd, "")
		},
	}

	listsCmd.AddCommand(newListsShowCommand(ctx))
	listsCmd.AddCommand(newListsCreateCommand(ctx))
	listsCmd.AddCommand(newListsDeleteCommand(ctx))
	listsCmd.AddCommand(newListsRenameCommand(ctx))
	listsCmd.AddCommand(newListsAddCommand(ctx))
	listsCmd.AddCommand(newListsRemoveCommand(ctx))

	return listsCmd
}

func newListsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show [list]",
		Short: "Show all lists, or the entries of one list",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			return showLists(ctx, cmd, ref)
		},
	}
}

func showLists(ctx *commandContext, cmd *cobra.Command, ref string) error {
	return ctx.withEnv(cmd, func(env *appEnv) error {
		env.reload(cmd.Context())
		out := cmd.OutOrStdout()

		if ref != "" {
			l, err := env.reg.Lists.Lookup(ref)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s (%s)\n", l.Name, shortID(l.ID))
			if l.Description != "" {
				fmt.Fprintln(out, l.Description)
			}
			if len(l.Entries) == 0 {
				fmt.Fprintln(out, "No entries.")
				return nil
			}
			fmt.Fprintln(out, renderTable([]string{"Key", "Title", "Year", "Added"}, itemRows(l.Entries, false), nil))
			return nil
		}

		lists := env.reg.Lists.Items()
		if len(lists) == 0 {
			fmt.Fprintln(out, "No custom lists.")
			return nil
		}
		rows := make([][]string, 0, len(lists))
		for _, l := range lists {
			rows = append(rows, []string{shortID(l.ID), l.Name, strconv.Itoa(len(l.Entries)), humanize.Time(l.CreatedAt)})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"ID", "Name", "Entries", "Created"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
		))
		return nil
	})
}

// resolveList accepts a full id or a case-insensitive name. A short id as
// printed by "lists" is matched by prefix.
func resolveList(env *appEnv, ref string) (model.CustomList, error) {
	l, err := env.reg.Lists.Lookup(ref)
	if err == nil {
		return l, nil
	}
	var match []model.CustomList
	for _, c := range env.reg.Lists.Items() {
		if len(ref) >= 4 && len(c.ID) >= len(ref) && c.ID[:len(ref)] == ref {
			match = append(match, c)
		}
	}
	if len(match) == 1 {
		return match[0], nil
	}
	return model.CustomList{}, err
}

func newListsCreateCommand(ctx *commandContext) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a custom list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				env.reload(cmd.Context())
				l, res := env.reg.Lists.CreateList(cmd.Context(), args[0], description)
				if err := reportResult(cmd.OutOrStdout(), fmt.Sprintf("create list %q", args[0]), res); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "List id: %s\n", l.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "List description")
	return cmd
}

func newListsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <list>",
		Short: "Delete a custom list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				env.reload(cmd.Context())
				l, err := resolveList(env, args[0])
				if err != nil {
					return err
				}
				res := env.reg.Lists.DeleteList(cmd.Context(), l.ID)
				return reportResult(cmd.OutOrStdout(), fmt.Sprintf("delete list %q", l.Name), res)
			})
		},
	}
}

func newListsRenameCommand(ctx *commandContext) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "rename <list> <new name>",
		Short: "Rename a custom list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(env *appEnv) error {
				env.reload(cmd.Context())
				l, err := resolveList(env, args[0])
				if err != nil {
					return err
				}
				desc := l.Description
				if cmd.Flags().Changed("description") {
					desc = description
				}
				res := env.reg.Lists.RenameList(cmd.Context(), l.ID, args[1], desc)
				return reportResult(cmd.OutOrStdout(), fmt.Sprintf("rename list %q", l.Name), res)
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "New description")
	return cmd
}

func newListsAddCommand(ctx *commandContext) *cobra.Command {
	var f itemFlags

	cmd := &cobra.Command{
		Use:   "add <list> <kind> <id> <title>",
		Short: "Add an entry to a custom list",
		Args:  cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := parseItem(args[1:], f)
			if err != nil {
				return err
			}
			return ctx.withEnv(cmd, func(env *appEnv) error {
				env.reload(cmd.Context())
				l, err := resolveList(env, args[0])
				if err != nil {
					return err
				}
				res := env.reg.Lists.AddEntry(cmd.Context(), l.ID, item)
				return reportResult(cmd.OutOrStdout(), fmt.Sprintf("add %s to %q", item.Key(), l.Name), res)
			})
		},
	}
	addItemFlags(cmd, &f)
	return cmd
}

func newListsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <list> <kind:id>",
		Short: "Remove an entry from a custom list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := model.ParseKey(args[1])
			if err != nil {
				return err
			}
			return ctx.withEnv(cmd, func(env *appEnv) error {
				env.reload(cmd.Context())
				l, err := resolveList(env, args[0])
				if err != nil {
					return err
				}
				res := env.reg.Lists.RemoveEntry(cmd.Context(), l.ID, key)
				return reportResult(cmd.OutOrStdout(), fmt.Sprintf("remove %s from %q", key, l.Name), res)
			})
		},
	}
}
