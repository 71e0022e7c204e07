package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/stepwright/internal/service"
)

func newScriptCmd(factory service.ComponentFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script",
		Short: "Manage stored scripts",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "import <script.json>",
			Short: "Store a script definition",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				script, err := readScriptFile(args[0])
				if err != nil {
					return err
				}
				return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
					stored, err := c.Store.CreateScript(ctx, script)
					if err != nil {
						return fmt.Errorf("failed to import script: %w", err)
					}
					return writeJSON(cmd.OutOrStdout(), stored)
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List scripts, most recently updated first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
					scripts, err := c.Store.ListScripts(ctx)
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), scripts)
				})
			},
		},
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show one script",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0], "script")
				if err != nil {
					return err
				}
				return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
					script, err := c.Store.GetScript(ctx, id)
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), script)
				})
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a script with its executions and screenshots",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0], "script")
				if err != nil {
					return err
				}
				return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
					if err := c.Store.DeleteScript(ctx, id); err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), map[string]any{"deleted": id})
				})
			},
		},
	)
	return cmd
}
