package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"db-resilience/internal/application"
	"db-resilience/internal/display"
)

// createComplianceCommand creates the compliance command group
func createComplianceCommand(opts *rootOptions) *cobra.Command {
	complianceCmd := &cobra.Command{
		Use:   "compliance",
		Short: "Report RTO/RPO compliance",
	}

	complianceCmd.AddCommand(&cobra.Command{
		Use:   "report",
		Short: "Aggregate measurements of every target into a compliance report",
		Long: `Aggregate the recovery measurements recorded by backups and drills.

Each target shows its latest RTO/RPO against the objective, 30 day averages,
a compliance score, trend and risk level.

Examples:
  db-resilience compliance report
  db-resilience compliance report --format yaml`,
		Args: cobra.NoArgs,
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			report, err := app.ComplianceReport(ctx)
			if err != nil {
				return err
			}
			return out.Render(display.ComplianceView(report))
		}),
	})
	return complianceCmd
}
