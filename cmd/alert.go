package cmd

import (
	"context"
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"db-resilience/internal/application"
	"db-resilience/internal/display"
	"db-resilience/internal/monitoring"
)

// createAlertCommand creates the alert command group
func createAlertCommand(opts *rootOptions) *cobra.Command {
	alertCmd := &cobra.Command{
		Use:   "alert",
		Short: "List, acknowledge and resolve alerts",
		Long: `Inspect alerts raised by backup, drift and drill rules.

Acknowledging an alert stops its escalation. Resolving it releases its
suppression key so the same condition can raise a new alert.`,
	}

	alertCmd.AddCommand(
		createAlertListCommand(opts),
		createAlertTransitionCommand(opts, "ack", "Acknowledge an alert", func(ctx context.Context, app *application.Application, id, by string) (*monitoring.Alert, error) {
			return app.AcknowledgeAlert(ctx, id, by)
		}),
		createAlertTransitionCommand(opts, "resolve", "Resolve an alert", func(ctx context.Context, app *application.Application, id, by string) (*monitoring.Alert, error) {
			return app.ResolveAlert(ctx, id, by)
		}),
	)
	return alertCmd
}

func createAlertListCommand(opts *rootOptions) *cobra.Command {
	var (
		status    string
		alertType string
		subject   string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts, newest first",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			alerts, err := app.Alerts.ListAlerts(ctx, monitoring.AlertFilter{
				Status:  monitoring.AlertStatus(status),
				Type:    monitoring.AlertType(alertType),
				Subject: subject,
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			return out.Render(display.AlertsView(alerts))
		}),
	}
	cmd.Flags().StringVar(&status, "status", "", "only alerts in this status (active, acknowledged, resolved)")
	cmd.Flags().StringVar(&alertType, "type", "", "only alerts of this type")
	cmd.Flags().StringVar(&subject, "subject", "", "only alerts about this subject")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of alerts")
	return cmd
}

type alertTransition func(ctx context.Context, app *application.Application, id, by string) (*monitoring.Alert, error)

func createAlertTransitionCommand(opts *rootOptions, use, short string, transition alertTransition) *cobra.Command {
	var by string

	cmd := &cobra.Command{
		Use:   use + " <alert-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			alert, err := transition(ctx, app, args[0], by)
			if err != nil {
				return err
			}
			if err := out.Render(display.AlertsView([]*monitoring.Alert{alert})); err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Alert %s is %s", alert.ID, alert.Status))
			return nil
		}),
	}
	cmd.Flags().StringVar(&by, "by", currentUser(), "who performed the action")
	return cmd
}

// currentUser is the default actor recorded on alert and drill transitions
func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "cli"
}
