package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/internal/observability"
	"github.com/xkilldash9x/stepwright/internal/service"
	"github.com/xkilldash9x/stepwright/internal/store"
)

func newScreenshotCmd(factory service.ComponentFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "List and download stored screenshots",
	}

	listCmd := &cobra.Command{
		Use:   "list <executionID>",
		Short: "List the screenshots of one execution in step order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "execution")
			if err != nil {
				return err
			}
			return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
				refs, err := c.Orchestrator.ListScreenshots(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), refs)
			})
		},
	}

	var page store.Page
	listAllCmd := &cobra.Command{
		Use:   "list-all",
		Short: "List screenshots across all executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
				refs, total, err := c.Store.ListAllScreenshots(ctx, page)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"screenshots": refs,
					"total":       total,
				})
			})
		},
	}
	listAllCmd.Flags().IntVar(&page.Limit, "limit", store.DefaultListLimit, "page size")
	listAllCmd.Flags().IntVar(&page.Offset, "offset", 0, "number of screenshots to skip")

	var out string
	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Write a stored screenshot's image bytes to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "screenshot")
			if err != nil {
				return err
			}
			return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
				shot, err := c.Store.GetScreenshot(ctx, id)
				if err != nil {
					return err
				}
				target := out
				if target == "" {
					target = shot.Filename
				}
				if err := os.WriteFile(target, shot.Data, 0o644); err != nil {
					return fmt.Errorf("failed to write screenshot: %w", err)
				}
				observability.GetLogger().Info("Screenshot saved.",
					zap.Int64("id", shot.ID), zap.String("path", target), zap.Int("bytes", len(shot.Data)))
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"id":          shot.ID,
					"path":        target,
					"contentType": shot.ContentType,
					"bytes":       len(shot.Data),
				})
			})
		},
	}
	getCmd.Flags().StringVarP(&out, "out", "o", "", "output file (defaults to the stored filename)")

	cmd.AddCommand(listCmd, listAllCmd, getCmd)
	return cmd
}
