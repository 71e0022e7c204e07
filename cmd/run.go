package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/api/schemas"
	"github.com/xkilldash9x/stepwright/internal/observability"
	"github.com/xkilldash9x/stepwright/internal/service"
)

const interruptGrace = 30 * time.Second

// newRunCmd creates the `run` command: import a script, execute it and print the
// finished execution.
func newRunCmd(factory service.ComponentFactory) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "run <script.json>",
		Short: "Import a script, execute it and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readScriptFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			return withComponents(cmd, factory, func(ctx context.Context, c *service.Components) error {
				if cfg.Metrics.Enabled {
					metricsCtx, cancel := context.WithCancel(ctx)
					defer cancel()
					addr, err := observability.ServeMetrics(metricsCtx, cfg.Metrics.Listen, logger)
					if err != nil {
						return err
					}
					logger.Info("Metrics available.", zap.String("address", "http://"+addr.String()+"/metrics"))
				}

				stored, err := c.Store.CreateScript(ctx, script)
				if err != nil {
					return fmt.Errorf("failed to import script: %w", err)
				}

				resp, err := c.Orchestrator.StartExecution(ctx, stored.ID)
				if err != nil {
					return err
				}
				logger.Info("Running script.",
					zap.Int64("script_id", stored.ID), zap.Int64("execution_id", resp.ExecutionID), zap.Int("steps", len(stored.Steps)))

				exec, err := waitForExecution(ctx, c, resp.ExecutionID, logger)
				if err != nil {
					return err
				}

				if output != "" {
					if err := writeJSONFile(output, exec); err != nil {
						return err
					}
					logger.Info("Execution written.", zap.String("path", output))
				} else if err := writeJSON(cmd.OutOrStdout(), exec); err != nil {
					return err
				}
				return executionOutcome(exec)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the execution JSON to this file instead of stdout")
	return cmd
}

// waitForExecution waits for the run to finish. On interrupt it stops the run and
// returns the interrupted execution as recorded.
func waitForExecution(ctx context.Context, c *service.Components, id int64, logger *zap.Logger) (*schemas.Execution, error) {
	exec, err := c.Orchestrator.Wait(ctx, id)
	if err == nil {
		return exec, nil
	}
	if !errors.Is(err, context.Canceled) {
		return nil, err
	}

	logger.Warn("Interrupted; stopping execution.", zap.Int64("execution_id", id))
	graceCtx, cancel := context.WithTimeout(context.Background(), interruptGrace)
	defer cancel()
	if err := c.Orchestrator.Shutdown(graceCtx); err != nil {
		logger.Warn("Execution did not stop in time.", zap.Error(err))
	}
	return c.Store.GetExecution(graceCtx, id)
}

// executionOutcome maps a finished execution to the command's exit status.
func executionOutcome(exec *schemas.Execution) error {
	switch {
	case exec.Status == schemas.StatusFailed:
		return fmt.Errorf("execution %d failed: %s", exec.ID, exec.ErrorMessage)
	case exec.Result != nil && !exec.Result.Success:
		return fmt.Errorf("execution %d completed with failed steps", exec.ID)
	default:
		return nil
	}
}
