package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"db-resilience/internal/application"
	"db-resilience/internal/backup"
	"db-resilience/internal/confirmation"
	"db-resilience/internal/display"
)

// createBackupCommand creates the backup command group
func createBackupCommand(opts *rootOptions) *cobra.Command {
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Run, list, validate and expire backups",
		Long: `Run backup policies outside their schedule and inspect their operations.

Examples:
  # Run a policy now
  db-resilience backup run nightly-full

  # Failed operations of the last day
  db-resilience backup list --status failed --since 24h

  # Expire snapshots past their retention without deleting anything
  db-resilience backup retention --dry-run`,
	}

	backupCmd.AddCommand(
		createBackupRunCommand(opts),
		createBackupListCommand(opts),
		createBackupShowCommand(opts),
		createBackupValidateCommand(opts),
		createBackupHealthCommand(opts),
		createBackupMissingCommand(opts),
		createBackupRetentionCommand(opts),
	)
	return backupCmd
}

func createBackupRunCommand(opts *rootOptions) *cobra.Command {
	var validate bool

	cmd := &cobra.Command{
		Use:   "run <policy-id>",
		Short: "Run a backup policy now",
		Long: `Run a backup policy immediately, even when it is disabled.

The snapshot is validated after the configured delay unless --validate is
given, in which case validation runs before the command returns.`,
		Args: cobra.ExactArgs(1),
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			op, err := app.RunBackup(ctx, args[0], validate)
			if err != nil {
				return err
			}
			if err := out.Render(display.OperationView(op)); err != nil {
				return err
			}
			switch {
			case op.Status == backup.StatusFailed:
				out.Error(fmt.Sprintf("Backup %s failed: %s", op.ID, op.Error))
			case op.Validation != nil && op.Validation.Status == backup.ValidationFailed:
				out.Warning(fmt.Sprintf("Backup %s completed but failed validation: %s", op.ID, op.Validation.Message))
			default:
				out.Success(fmt.Sprintf("Backup %s completed with snapshot %s", op.ID, op.SnapshotID))
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&validate, "validate", false, "validate the snapshot before returning")
	return cmd
}

func createBackupListCommand(opts *rootOptions) *cobra.Command {
	var (
		policyID string
		status   string
		opType   string
		since    time.Duration
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backup operations, newest first",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			filter := backup.OperationFilter{
				PolicyID: policyID,
				Status:   backup.Status(status),
				Type:     backup.Type(opType),
				Limit:    limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			ops, err := app.Backups.ListOperations(ctx, filter)
			if err != nil {
				return err
			}
			return out.Render(display.OperationsView(ops))
		}),
	}
	cmd.Flags().StringVar(&policyID, "policy", "", "only operations of this policy")
	cmd.Flags().StringVar(&status, "status", "", "only operations in this status (pending, running, completed, failed)")
	cmd.Flags().StringVar(&opType, "type", "", "only operations of this type (full_backup, incremental_backup, schema_backup)")
	cmd.Flags().DurationVar(&since, "since", 0, "only operations started within this duration")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of operations")
	return cmd
}

func createBackupShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <operation-id>",
		Short: "Show one backup operation",
		Args:  cobra.ExactArgs(1),
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			op, err := app.Backups.GetOperation(ctx, args[0])
			if err != nil {
				return err
			}
			return out.Render(display.OperationView(op))
		}),
	}
}

func createBackupValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <operation-id>",
		Short: "Validate a completed backup now",
		Args:  cobra.ExactArgs(1),
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			op, err := app.ValidateBackup(ctx, args[0])
			if err != nil {
				return err
			}
			if err := out.Render(display.OperationView(op)); err != nil {
				return err
			}
			if op.Validation != nil && op.Validation.Status == backup.ValidationPassed {
				out.Success("Backup validation passed")
			} else if op.Validation != nil {
				out.Error("Backup validation failed: " + op.Validation.Message)
			}
			return nil
		}),
	}
}

func createBackupHealthCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Score backup health over the configured window",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			report, err := app.BackupHealth(ctx)
			if err != nil {
				return err
			}
			return out.Render(display.HealthView(report))
		}),
	}
}

func createBackupMissingCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "missing",
		Short: "Check backup types for overdue backups and raise alerts",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			missing, err := app.Backups.CheckMissingBackups(ctx, time.Now())
			if err != nil {
				return err
			}
			items := make([]string, 0, len(missing))
			for _, m := range missing {
				items = append(items, fmt.Sprintf("%s: last completed %s, threshold %s", m.BackupType, lastBackup(m.LastCompletedAt), m.Threshold))
			}
			if err := out.Render(display.ListView("Overdue backup types", "BACKUP TYPE", items)); err != nil {
				return err
			}
			if len(missing) == 0 {
				out.Success("No backups are overdue")
			}
			return nil
		}),
	}
}

func lastBackup(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}

func createBackupRetentionCommand(opts *rootOptions) *cobra.Command {
	var (
		dryRun bool
		yes    bool
		cmd    *cobra.Command
	)

	cmd = &cobra.Command{
		Use:   "retention",
		Short: "Delete snapshots past their retention",
		Long: `Delete provider snapshots whose policy retention has elapsed.

Without --dry-run the snapshots that would be deleted are listed first and
the command asks for confirmation unless --yes is given.`,
		Args: cobra.NoArgs,
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			if !dryRun && !yes {
				preview, err := app.Backups.ApplyRetention(ctx, true)
				if err != nil {
					return err
				}
				if len(preview.Deleted) == 0 {
					out.Info(fmt.Sprintf("%d snapshots processed, nothing to delete", preview.Processed))
					return nil
				}
				if err := out.Render(display.RetentionView(preview)); err != nil {
					return err
				}

				prompter := confirmation.NewPrompter(cmd.InOrStdin(), cmd.ErrOrStderr(), out.Colors())
				question := fmt.Sprintf("Delete %d snapshots?", len(preview.Deleted))
				ok, err := prompter.Confirm(ctx, question, false)
				if err != nil {
					return err
				}
				if !ok {
					out.Warning("Retention cancelled, no snapshots deleted")
					return nil
				}
			}

			result, err := app.Backups.ApplyRetention(ctx, dryRun)
			if err != nil {
				return err
			}
			if err := out.Render(display.RetentionView(result)); err != nil {
				return err
			}
			out.Info(fmt.Sprintf("%d snapshots processed, %d kept", result.Processed, result.Kept))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "delete without asking for confirmation")
	return cmd
}
