// Package cmd implements the db-resilience command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"db-resilience/internal/application"
	"db-resilience/internal/config"
	"db-resilience/internal/display"
	appErrors "db-resilience/internal/errors"
)

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// errReported marks an error that has already been printed with hints
var errReported = errors.New("error already reported")

// appOptions lets tests replace collaborators such as the snapshot provider
var appOptions = func() application.Options { return application.Options{} }

// rootOptions holds the persistent flags shared by every subcommand
type rootOptions struct {
	cfgFile    string
	logLevel   string
	logFormat  string
	format     string
	theme      string
	tableStyle string
	noColor    bool
	quiet      bool
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			reportError(root.ErrOrStderr(), err)
		}
		stop()
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "db-resilience",
		Short: "Backup, schema drift, DR drill and RTO/RPO compliance orchestration",
		Long: `db-resilience schedules database backups through a snapshot provider,
validates them, tracks schema drift between captures, runs disaster recovery
drills against restore targets, raises alerts and reports RTO/RPO compliance.

Examples:
  # Write a commented example configuration
  db-resilience config init --output db-resilience.yaml

  # Run the scheduler and the metrics endpoint
  db-resilience serve --config db-resilience.yaml

  # Run a backup policy now and validate it immediately
  db-resilience backup run nightly-full --validate

  # Compliance report as JSON
  db-resilience compliance report --format json`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default searches ./db-resilience.yaml, $HOME/.db-resilience, /etc/db-resilience)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: quiet, normal, verbose, debug")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text, json")
	flags.StringVar(&opts.format, "format", "", "output format: table, json, yaml, compact")
	flags.StringVar(&opts.theme, "theme", "", "color theme: dark, light, high-contrast, plain")
	flags.StringVar(&opts.tableStyle, "table-style", "", "table style: default, rounded, minimal, grid")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable color output")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress status messages")

	root.AddCommand(
		createVersionCommand(),
		createConfigCommand(opts),
		createServeCommand(opts),
		createBackupCommand(opts),
		createDrillCommand(opts),
		createSchemaCommand(opts),
		createAlertCommand(opts),
		createComplianceCommand(opts),
		createJobsCommand(opts),
	)
	return root
}

// loadConfig reads the configuration and applies flag overrides
func (o *rootOptions) loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, err
	}

	overrides := map[*string]string{
		&cfg.Logging.Level:        o.logLevel,
		&cfg.Logging.Format:       o.logFormat,
		&cfg.Display.OutputFormat: o.format,
		&cfg.Display.Theme:        o.theme,
		&cfg.Display.TableStyle:   o.tableStyle,
	}
	changed := false
	for field, value := range overrides {
		if value != "" {
			*field = value
			changed = true
		}
	}
	if o.noColor {
		cfg.Display.ColorEnabled = false
	}
	if o.quiet {
		cfg.Display.Quiet = true
	}
	if changed {
		if err := cfg.Validate(); err != nil {
			return nil, appErrors.NewConfigError("invalid command line overrides", err)
		}
	}
	return cfg, nil
}

// printer builds the output printer for a command
func (o *rootOptions) printer(cmd *cobra.Command, cfg *config.AppConfig) (*display.Printer, error) {
	dc := cfg.Display
	dc.Writer = cmd.OutOrStdout()
	p, err := display.NewPrinter(dc)
	if err != nil {
		return nil, appErrors.NewConfigError("invalid display settings", err)
	}
	return p, nil
}

// commandFunc is the body of a subcommand that needs the wired application
type commandFunc func(ctx context.Context, app *application.Application, out *display.Printer, args []string) error

// withApp loads the configuration, wires the application, runs fn and
// reports its error with troubleshooting hints
func (o *rootOptions) withApp(fn commandFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := o.loadConfig()
		if err != nil {
			return err
		}
		out, err := o.printer(cmd, cfg)
		if err != nil {
			return err
		}

		options := appOptions()
		if options.Logger == nil {
			logger, err := application.NewLogger(cfg.Logging, cmd.ErrOrStderr())
			if err != nil {
				return appErrors.NewConfigError("failed to create logger", err)
			}
			options.Logger = logger
		}

		app, err := application.New(cmd.Context(), cfg, options)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := fn(cmd.Context(), app, out, args); err != nil {
			app.HandleError(cmd.ErrOrStderr(), err)
			return errReported
		}
		return nil
	}
}

// reportError prints errors raised before the application exists
func reportError(w io.Writer, err error) {
	var appErr *appErrors.AppError
	if !errors.As(err, &appErr) {
		fmt.Fprintf(w, "Error: %s\n", err)
		return
	}
	fmt.Fprintf(w, "Error: %s\n", appErrors.FormatUserError(err))
	if appErr.Cause != nil {
		fmt.Fprintf(w, "  %s\n", appErr.Cause)
	}
	application.ProvideTroubleshootingHints(w, appErr)
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "db-resilience version %s\n", version)
			fmt.Fprintf(w, "Built: %s\n", buildTime)
			fmt.Fprintf(w, "Commit: %s\n", gitCommit)
			fmt.Fprintf(w, "Go version: %s\n", goVersion)
		},
	}
}
