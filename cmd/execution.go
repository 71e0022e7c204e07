package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/stepwright/internal/service"
	"github.com/xkilldash9x/stepwright/internal/store"
)

func newExecutionCmd(factory service.ComponentFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "execution",
		Aliases: []string{"exec"},
		Short:   "Inspect and clear execution history",
	}

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one execution with its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "execution")
			if err != nil {
				return err
			}
			return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
				exec, err := c.Orchestrator.GetExecution(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), exec)
			})
		},
	}

	var (
		listScript int64
		listLimit  int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.ExecutionFilter{Limit: listLimit}
			if cmd.Flags().Changed("script") {
				filter.ScriptID = &listScript
			}
			return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
				execs, err := c.Store.ListExecutions(ctx, filter)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), execs)
			})
		},
	}
	listCmd.Flags().Int64Var(&listScript, "script", 0, "only executions of this script")
	listCmd.Flags().IntVar(&listLimit, "limit", store.DefaultListLimit, "maximum number of executions")

	var clearScript int64
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete execution history and the screenshots it owns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var scriptID *int64
			if cmd.Flags().Changed("script") {
				scriptID = &clearScript
			}
			return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
				n, err := c.Store.ClearExecutions(ctx, scriptID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"deleted": n})
			})
		},
	}
	clearCmd.Flags().Int64Var(&clearScript, "script", 0, "only clear executions of this script")

	cmd.AddCommand(getCmd, listCmd, clearCmd)
	return cmd
}
