package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"db-resilience/internal/application"
	"db-resilience/internal/display"
	"db-resilience/internal/drift"
	appErrors "db-resilience/internal/errors"
	"db-resilience/internal/schema"
)

// createSchemaCommand creates the schema command group
func createSchemaCommand(opts *rootOptions) *cobra.Command {
	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Capture and compare schema versions of the protected database",
	}

	schemaCmd.AddCommand(
		createSchemaCaptureCommand(opts),
		createSchemaHistoryCommand(opts),
		createSchemaDiffCommand(opts),
	)
	return schemaCmd
}

func createSchemaCaptureCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "capture",
		Short: "Capture the current schema, storing a new version when it changed",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			result, err := app.CaptureSchema(ctx)
			if err != nil {
				return err
			}
			if err := out.Render(display.VersionsView([]*drift.SchemaVersion{result.Version})); err != nil {
				return err
			}
			if result.Changed {
				out.Success(fmt.Sprintf("Stored schema version %d", result.Version.Version))
			} else {
				out.Info(fmt.Sprintf("Schema unchanged since version %d", result.Version.Version))
			}
			return nil
		}),
	}
}

func createSchemaHistoryCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored schema versions, newest first",
		Args:  cobra.NoArgs,
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			versions, err := app.Drift.History(ctx, limit)
			if err != nil {
				return err
			}
			return out.Render(display.VersionsView(versions))
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of versions")
	return cmd
}

func createSchemaDiffCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <from-version> <to-version>",
		Short: "Show the classified changes between two stored versions",
		Args:  cobra.ExactArgs(2),
		RunE: opts.withApp(func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error {
			from, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			to, err := parseVersion(args[1])
			if err != nil {
				return err
			}
			diff, err := app.CompareSchema(ctx, from, to)
			if err != nil {
				return err
			}
			formatter := schema.NewDisplayFormatter(true, out.Colors().IsColorSupported())
			switch out.Format() {
			case display.FormatTable:
				out.Text(formatter.FormatSchemaDiff(diff) + "\n")
				return nil
			case display.FormatCompact:
				out.Text(formatter.FormatCompactSummary(diff) + "\n")
			}
			return out.Render(display.DiffView(diff))
		}),
	}
}

func parseVersion(arg string) (int, error) {
	v, err := strconv.Atoi(arg)
	if err != nil || v < 1 {
		return 0, appErrors.NewValidationError(fmt.Sprintf("schema version must be a positive integer, got %q", arg), err)
	}
	return v, nil
}
