package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"db-resilience/internal/application"
	"db-resilience/internal/display"
	"db-resilience/internal/drill"
)

// createDrillCommand creates the drill command group
func createDrillCommand(opts *rootOptions) *cobra.Command {
	drillCmd := &cobra.Command{
		Use:   "drill",
		Short: "Run and inspect disaster recovery drills",
		Long: `Run a drill configuration's scenario against its restore target and
inspect executions.

Examples:
  # Run a drill and wait for the result
  db-resilience drill run orders-weekly

  # Executions that failed
  db-resilience drill list --status failed`,
	}

	drillCmd.AddCommand(
		createDrillRunCommand(opts),
		createDrillListCommand(opts),
		createDrillShowCommand(opts),
		createDrillCancelCommand(opts),
		createDrillConfigsCommand(opts),
	)
	return drillCmd
}

func createDrillRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <configuration-id>",
		Short: "Run a drill configuration and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			exec, err := app.RunDrill(ctx, args[0])
			if err != nil {
				return err
			}
			if err := out.Render(display.ExecutionView(exec)); err != nil {
				return err
			}
			switch exec.Status {
			case drill.StatusCompleted:
				out.Success(fmt.Sprintf("Drill %s completed with score %d", exec.ID, exec.SuccessScore))
			case drill.StatusCancelled:
				out.Warning(fmt.Sprintf("Drill %s was cancelled", exec.ID))
			default:
				out.Error(fmt.Sprintf("Drill %s failed: %s", exec.ID, exec.FailureReason))
			}
			return nil
		}),
	}
}

func createDrillListCommand(opts *rootOptions) *cobra.Command {
	var (
		configID string
		status   string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drill executions, newest first",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			execs, err := app.Drills.ListExecutions(ctx, drill.ExecutionFilter{
				ConfigID: configID,
				Status:   drill.Status(status),
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			return out.Render(display.ExecutionsView(execs))
		}),
	}
	cmd.Flags().StringVar(&configID, "config-id", "", "only executions of this configuration")
	cmd.Flags().StringVar(&status, "status", "", "only executions in this status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of executions")
	return cmd
}

func createDrillShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show the step results of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			exec, err := app.Drills.GetExecution(ctx, args[0])
			if err != nil {
				return err
			}
			return out.Render(display.ExecutionView(exec))
		}),
	}
}

func createDrillCancelCommand(opts *rootOptions) *cobra.Command {
	var by string

	cmd := &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Cancel an active execution",
		Args:  cobra.ExactArgs(1),
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			exec, err := app.CancelDrill(ctx, args[0], by)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Drill %s cancelled by %s", exec.ID, exec.CancelledBy))
			return nil
		}),
	}
	cmd.Flags().StringVar(&by, "by", currentUser(), "who cancelled the drill")
	return cmd
}

func createDrillConfigsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "configs",
		Short: "List drill configurations",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			configs, err := app.Drills.ListConfigurations(ctx)
			if err != nil {
				return err
			}
			return out.Render(display.ConfigurationsView(configs))
		}),
	}
}
