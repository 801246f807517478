package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"db-resilience/internal/application"
	"db-resilience/internal/display"
)

// createJobsCommand creates the jobs command group
func createJobsCommand(opts *rootOptions) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger scheduled jobs",
	}

	jobsCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List scheduled jobs",
			Args:  cobra.NoArgs,
			RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
				// next run times are only known once the scheduler runs
				app.Scheduler.Start()
				defer func() { _ = app.Scheduler.Stop(ctx) }()
				return out.Render(display.JobsView(app.Scheduler.Entries()))
			}),
		},
		&cobra.Command{
			Use:   "run <job-name>",
			Short: "Run a scheduled job once, now",
			Long: `Run a scheduled job once without waiting for its schedule.

Job names are backup:<policy-id>, drill:<configuration-id>, drift:capture,
backup:missing-check and backup:retention.`,
			Args: cobra.ExactArgs(1),
			RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
				if err := app.RunJob(args[0]); err != nil {
					return err
				}
				out.Success("Job " + args[0] + " finished")
				return nil
			}),
		},
	)
	return jobsCmd
}
