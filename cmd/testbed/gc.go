package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/harunnryd/testbed/internal/datastore"
	"github.com/harunnryd/testbed/internal/materializer"
	"github.com/harunnryd/testbed/internal/report"
	"github.com/harunnryd/testbed/internal/sandbox"
	"github.com/harunnryd/testbed/internal/supervisor"

	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Clean up sandboxes left behind by interrupted runs",
	Long: `Find sandboxes whose run no longer holds its lock, kill their process group,
stop their datastore and remove the directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := report.ParseOutputFormat(mustGetString(cmd, "output"))
		if err != nil {
			return err
		}
		formatter, err := report.New(format)
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		manager, err := sandbox.NewManager(cfg.Sandbox.BaseDir, cfg.Sandbox.NamePrefix)
		if err != nil {
			return err
		}
		provisioner, err := datastore.NewCommandProvisioner(cfg.Datastore.StartCommand, cfg.Datastore.StopCommand)
		if err != nil {
			return err
		}

		rows, err := collectOrphans(cmd.Context(), manager, provisioner, dryRun)
		if err != nil {
			return err
		}

		out, err := formatter.FormatOrphans(rows)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func collectOrphans(ctx context.Context, manager *sandbox.Manager, provisioner datastore.Provisioner, dryRun bool) ([]report.OrphanRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	orphans, err := manager.Orphans()
	if err != nil {
		return nil, err
	}

	rows := report.OrphanRows(orphans)
	if dryRun {
		return rows, nil
	}

	for i, orphan := range orphans {
		if orphan.State != nil {
			if pid := orphan.State.SupervisorPID; supervisor.GroupAlive(pid) {
				procfile := filepath.Join(orphan.RootPath, materializer.ProcfileName)
				if supervisor.LaunchedWith(pid, procfile) {
					slog.Info("Killing orphaned process group", "sandbox", orphan.Name, "pgid", pid)
					supervisor.KillGroup(pid)
				} else {
					slog.Warn("Recorded process group belongs to another process, leaving it", "sandbox", orphan.Name, "pgid", pid)
				}
			}
			if dir := orphan.State.DatastoreDir; dir != "" {
				if err := provisioner.Stop(ctx, &datastore.Handle{Dir: dir}); err != nil {
					slog.Warn("Failed to stop orphaned datastore", "sandbox", orphan.Name, "error", err)
				}
			}
		}

		if err := manager.RemoveOrphan(orphan); err != nil {
			slog.Error("Failed to remove orphaned sandbox", "sandbox", orphan.Name, "error", err)
			continue
		}
		rows[i].Removed = true
	}
	return rows, nil
}

func init() {
	rootCmd.AddCommand(gcCmd)
	gcCmd.Flags().Bool("dry-run", false, "only list orphaned sandboxes")
	gcCmd.Flags().StringP("output", "o", string(report.OutputFormatTable), "output format (table, json, yaml)")
}
