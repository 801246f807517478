// Package application assembles the backup, drift, drill, alerting and
// compliance components from one configuration and runs them.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"db-resilience/internal/backup"
	"db-resilience/internal/compliance"
	"db-resilience/internal/config"
	"db-resilience/internal/database"
	"db-resilience/internal/drift"
	"db-resilience/internal/drill"
	appErrors "db-resilience/internal/errors"
	"db-resilience/internal/logging"
	"db-resilience/internal/metrics"
	"db-resilience/internal/monitoring"
	"db-resilience/internal/notify"
	"db-resilience/internal/provider"
	"db-resilience/internal/scheduler"
	"db-resilience/internal/store"
)

// Connection names registered with the connection manager besides the
// drill targets
const (
	PrimaryConnection = "primary"
	StateConnection   = "state"
)

// Options override collaborators that New would otherwise build from the
// configuration
type Options struct {
	Logger   *logging.Logger
	Registry *prometheus.Registry
	// DatabaseService opens every connection, including drill targets
	DatabaseService database.DatabaseService
	// Provider replaces the configured snapshot provider
	Provider provider.SnapshotProvider
	Now      func() time.Time
}

// Application owns every long-lived component
type Application struct {
	Config      *config.AppConfig
	Logger      *logging.Logger
	Metrics     *metrics.Recorder
	Connections *database.ConnectionManager
	Store       *store.Store
	Provider    provider.SnapshotProvider
	Notifier    *notify.Router
	Alerts      *monitoring.Engine
	Compliance  *compliance.Aggregator
	Backups     *backup.Manager
	Drift       *drift.Snapshotter
	Drills      *drill.Engine
	Scheduler   *scheduler.Scheduler

	shutdownHandler *appErrors.GracefulShutdownHandler
	now             func() time.Time
	closeOnce       sync.Once
}

// NewLogger builds the logrus logger described by the logging section
func NewLogger(cfg config.LoggingConfig, output io.Writer) (*logging.Logger, error) {
	return logging.NewLogger(logging.Config{
		Level:      logging.LogLevel(cfg.Level),
		Output:     output,
		Format:     cfg.Format,
		ShowCaller: cfg.ShowCaller,
		LogFile:    cfg.File,
	})
}

// New wires the application. Connections are opened lazily except for a
// SQL state store, which is opened and migrated here.
func New(ctx context.Context, cfg *config.AppConfig, opts Options) (*Application, error) {
	if cfg == nil {
		return nil, appErrors.NewConfigError("configuration is required", nil)
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = NewLogger(cfg.Logging, os.Stderr)
		if err != nil {
			return nil, appErrors.NewConfigError("failed to create logger", err)
		}
	}

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	dbService := opts.DatabaseService
	if dbService == nil {
		dbService = database.NewService(logger)
	}

	app := &Application{
		Config:          cfg,
		Logger:          logger,
		Metrics:         metrics.NewRecorder(registry),
		Connections:     database.NewConnectionManager(dbService),
		Scheduler:       scheduler.New(logger),
		shutdownHandler: appErrors.NewGracefulShutdownHandler(),
		now:             now,
	}

	app.Connections.Register(PrimaryConnection, cfg.Database)
	for name, target := range cfg.DrillTargets {
		app.Connections.Register(name, target)
	}

	if err := app.build(ctx, opts); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (app *Application) build(ctx context.Context, opts Options) error {
	cfg := app.Config

	st, err := app.openStore(ctx)
	if err != nil {
		return err
	}
	app.Store = st

	primary := &connIntrospector{
		conns:   app.Connections,
		name:    PrimaryConnection,
		timeout: cfg.Drift.QueryTimeout,
	}

	if opts.Provider != nil {
		app.Provider = opts.Provider
	} else {
		p, err := provider.New(ctx, cfg.Provider, app.artifactSources(primary), app.Logger, app.Metrics)
		if err != nil {
			return appErrors.NewConfigError("failed to create snapshot provider", err)
		}
		app.Provider = p
	}

	app.Notifier = notify.NewRouterFromConfig(cfg.Notify, app.Logger)
	app.Compliance = compliance.NewAggregator(app.Store, app.Logger, app.Metrics)
	for _, target := range cfg.Compliance.Targets {
		if err := app.Compliance.RegisterTarget(ctx, target); err != nil {
			return err
		}
	}

	history := &sizeHistory{}
	alerts, err := monitoring.NewEngine(app.Store, app.Notifier, history, cfg.Alerts, app.Logger, app.Metrics)
	if err != nil {
		return err
	}
	app.Alerts = alerts
	if err := alerts.Warm(ctx); err != nil {
		return appErrors.WrapError(err, "failed to load open alerts")
	}

	app.Drift = drift.NewSnapshotter(primary, app.Store, app.Alerts, app.Logger, app.Metrics)

	backups, err := backup.NewManager(backup.Dependencies{
		Store:        app.Store,
		Provider:     app.Provider,
		Events:       app.Alerts,
		Compliance:   app.Compliance,
		Measurements: app.Store,
		Targets:      cfg.Compliance.Mapping,
		Capturer:     app.Drift,
		Logger:       app.Logger,
		Metrics:      app.Metrics,
		Now:          app.now,
	}, cfg.Backup.Config)
	if err != nil {
		return err
	}
	app.Backups = backups
	history.manager = backups
	backups.RegisterHealthChecker("database", connectionChecker{conns: app.Connections, name: PrimaryConnection})
	backups.RegisterHealthChecker("notifications", app.Notifier)

	drills, err := drill.NewEngine(drill.Dependencies{
		Store:      app.Store,
		Events:     app.Alerts,
		Compliance: app.Compliance,
		Targets:    cfg.Compliance.Mapping,
		Logger:     app.Logger,
		Metrics:    app.Metrics,
	})
	if err != nil {
		return err
	}
	drills.RegisterExecutor(drill.StepFailover, &drill.FailoverExecutor{Provider: app.Provider})
	drills.RegisterExecutor(drill.StepRestore, &drill.RestoreExecutor{Provider: app.Provider})
	drills.RegisterExecutor(drill.StepValidate, &drill.ValidateExecutor{Introspectors: app.targetIntrospector})
	drills.RegisterExecutor(drill.StepHealthCheck, &drill.HealthCheckExecutor{Pinger: app.Connections})
	drills.RegisterExecutor(drill.StepCleanup, &drill.CleanupExecutor{Provider: app.Provider})
	app.Drills = drills

	for i := range cfg.Drills.Scenarios {
		if err := drills.SaveScenario(ctx, &cfg.Drills.Scenarios[i]); err != nil {
			return err
		}
	}
	for i := range cfg.Drills.Configurations {
		if err := drills.SaveConfiguration(ctx, &cfg.Drills.Configurations[i]); err != nil {
			return err
		}
	}

	return app.registerJobs()
}

func (app *Application) openStore(ctx context.Context) (*store.Store, error) {
	state := app.Config.State
	if state.Type != config.StateSQL {
		return store.NewMemoryStore(), nil
	}

	name := PrimaryConnection
	dbCfg := app.Config.Database
	if !state.SharesProtectedDatabase() {
		name = StateConnection
		dbCfg = state.Database
		app.Connections.Register(name, dbCfg)
	}

	db, err := app.Connections.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLStore(ctx, db, store.Dialect(dbCfg.Driver), state.Table)
	if err != nil {
		return nil, appErrors.WrapError(err, "failed to prepare state store")
	}
	return st, nil
}

// sizeHistory defers to the backup manager, which is built after the alert
// engine that needs it
type sizeHistory struct {
	manager *backup.Manager
}

func (h *sizeHistory) RecentSizes(ctx context.Context, backupType, excludeOperationID string, limit int) ([]int64, error) {
	if h.manager == nil {
		return nil, nil
	}
	return h.manager.RecentSizes(ctx, backupType, excludeOperationID, limit)
}

// connectionChecker reports a named connection in the health score
type connectionChecker struct {
	conns *database.ConnectionManager
	name  string
}

func (c connectionChecker) HealthCheck(ctx context.Context) error {
	return c.conns.Ping(ctx, c.name)
}

// GetLogger returns the application logger
func (app *Application) GetLogger() *logging.Logger {
	return app.Logger
}

// HandleError prints a user-facing message and troubleshooting hints for err
func (app *Application) HandleError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "Error: %s\n", appErrors.FormatUserError(err))

	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		app.Logger.WithFields(map[string]interface{}{
			"error_type":  string(appErr.Type),
			"recoverable": appErr.IsRecoverable(),
			"context":     appErr.Context,
		}).Error("Command failed")
		ProvideTroubleshootingHints(w, appErr)
	}
}

// ProvideTroubleshootingHints prints hints for the error types operators
// can act on
func ProvideTroubleshootingHints(w io.Writer, appErr *appErrors.AppError) {
	var hints []string
	switch appErr.Type {
	case appErrors.ErrorTypeConnection:
		hints = []string{
			"Check that the database server is running",
			"Verify the host and port are correct",
			"Check firewall settings",
		}
	case appErrors.ErrorTypePermission:
		hints = []string{
			"Verify the username and password are correct",
			"Check that the user can read information_schema",
		}
	case appErrors.ErrorTypeConfig:
		hints = []string{
			"Run 'db-resilience config init' to write a commented example",
			"Run 'db-resilience config env' to list environment overrides",
		}
	case appErrors.ErrorTypeTimeout:
		hints = []string{
			"Increase backup.call_timeout or the step timeout",
			"Check database server and provider performance",
		}
	case appErrors.ErrorTypeTransient:
		hints = []string{
			"The snapshot provider rejected or throttled the call; it is safe to retry",
			"A tripped circuit breaker closes again after its timeout",
		}
	case appErrors.ErrorTypeConflict:
		hints = []string{
			"Another run of the same drill or policy is still active",
		}
	}
	if len(hints) == 0 {
		return
	}
	fmt.Fprintf(w, "\nTroubleshooting hints:\n")
	for _, hint := range hints {
		fmt.Fprintf(w, "- %s\n", hint)
	}
}

// Close releases components in reverse order of construction. It does not
// wait for scheduled jobs; use Shutdown for that. Only the first call has
// any effect.
func (app *Application) Close() {
	app.closeOnce.Do(app.close)
}

func (app *Application) close() {
	if app.Drills != nil {
		app.Drills.Wait()
	}
	if app.Backups != nil {
		app.Backups.Close()
	}
	if app.Alerts != nil {
		app.Alerts.Close()
	}
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			app.Logger.WithField("error", err.Error()).Warn("Failed to close state store")
		}
	}
	if app.Connections != nil {
		if err := app.Connections.Close(); err != nil {
			app.Logger.WithField("error", err.Error()).Warn("Failed to close connections")
		}
	}
}

// Shutdown stops the scheduler, waiting up to timeout for running jobs, and
// then closes every component
func (app *Application) Shutdown(timeout time.Duration) error {
	app.Logger.Info("Shutting down application")

	ctx, cancel := appErrors.CreateContextWithTimeout(context.Background(), timeout, 30*time.Second)
	defer cancel()

	err := app.Scheduler.Stop(ctx)
	app.Close()

	app.Logger.Info("Application shutdown complete")
	return err
}
