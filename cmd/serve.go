package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"db-resilience/internal/application"
	"db-resilience/internal/display"
)

// createServeCommand creates the long-running scheduler command
func createServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled backups, captures, drills and checks until stopped",
		Long: `Run every scheduled job and, when metrics are enabled, the Prometheus
endpoint. SIGINT or SIGTERM stops the scheduler, waits for running jobs up to
backup.call_timeout and closes every connection.`,
		Args: cobra.NoArgs,
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			return app.Serve(ctx)
		}),
	}
}
