package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/harunnryd/testbed/internal/bootstrap"
	"github.com/harunnryd/testbed/internal/bootstrap/components"
	"github.com/harunnryd/testbed/internal/config"
	apperrors "github.com/harunnryd/testbed/internal/errors"
	"github.com/harunnryd/testbed/internal/readiness"
	"github.com/harunnryd/testbed/internal/report"
	"github.com/harunnryd/testbed/internal/testbridge"
	"github.com/harunnryd/testbed/internal/toolcheck"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bootstrap the environment, run the tests and tear down",
	Long: `Allocate a sandbox, generate keys, start an ephemeral datastore, render service
configs, launch all services, wait for readiness and run the test project.
The exit status is the test runner's, or 1 when the environment could not be
brought up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := report.ParseOutputFormat(mustGetString(cmd, "report"))
		if err != nil {
			return err
		}
		formatter, err := report.New(format)
		if err != nil {
			return err
		}

		code, err := runTestbed(cmd.Context(), cfg, formatter, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if code != 0 {
			return &apperrors.ExitError{Code: code}
		}
		return nil
	},
}

func runTestbed(ctx context.Context, cfg *config.Config, formatter report.Formatter, out io.Writer) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	tools, err := toolcheck.FromConfig(cfg.Tools)
	if err != nil {
		return apperrors.ExitFailure, err
	}
	if err := toolcheck.EnsureAll(ctx, tools); err != nil {
		return apperrors.ExitFailure, err
	}

	teardownTimeout, err := cfg.Teardown.TimeoutDuration()
	if err != nil {
		return apperrors.ExitFailure, err
	}

	runID := strings.ToLower(ulid.Make().String())
	env := bootstrap.NewEnvironment(runID)
	runner, err := bootstrap.NewRunner(runID, teardownTimeout)
	if err != nil {
		return apperrors.ExitFailure, err
	}
	if err := components.Register(runner, env, cfg, components.Options{}); err != nil {
		return apperrors.ExitFailure, err
	}

	bridge, err := testbridge.New(cfg.Tests)
	if err != nil {
		return apperrors.ExitFailure, err
	}
	stage, err := components.NewTestStage(env, cfg, bridge)
	if err != nil {
		return apperrors.ExitFailure, err
	}
	stage.OnReady = func(state *readiness.State) {
		summary, err := formatter.FormatReadiness(report.ReadinessRows(state.Snapshot()))
		if err != nil {
			slog.Warn("Failed to format readiness report", "error", err)
			return
		}
		fmt.Fprintln(out, summary)
	}

	slog.Info("Run starting", "run_id", runID)
	return runner.Run(ctx, stage.Run)
}

func mustGetString(cmd *cobra.Command, name string) string {
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid flag %s: %v\n", name, err)
		return ""
	}
	return value
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("report", string(report.OutputFormatTable), "readiness report format (table, json, yaml)")
}
