package application

import (
	"context"
	"errors"
	"net/http"
	"time"

	"db-resilience/internal/drift"
	"db-resilience/internal/drill"
	appErrors "db-resilience/internal/errors"
	"db-resilience/internal/scheduler"
)

// Scheduler job names. Policy and drill jobs are suffixed with their id.
const (
	JobBackupPrefix = "backup:"
	JobDrillPrefix  = "drill:"
	JobDriftCapture = "drift:capture"
	JobMissingCheck = "backup:missing-check"
	JobRetention    = "backup:retention"
)

func (app *Application) registerJobs() error {
	cfg := app.Config

	for i := range cfg.Backup.Policies {
		policy := cfg.Backup.Policies[i]
		if !policy.Enabled || policy.Schedule == "" {
			continue
		}
		err := app.Scheduler.Add(scheduler.Job{
			Name:     JobBackupPrefix + policy.ID,
			Schedule: policy.Schedule,
			Run: func(ctx context.Context) error {
				_, err := app.Backups.ExecuteScheduledBackup(ctx, &policy)
				return err
			},
		})
		if err != nil {
			return err
		}
	}

	for _, dc := range cfg.Drills.Configurations {
		if !dc.Enabled || dc.Schedule == "" {
			continue
		}
		configID := dc.ID
		err := app.Scheduler.Add(scheduler.Job{
			Name:     JobDrillPrefix + configID,
			Schedule: dc.Schedule,
			Run: func(ctx context.Context) error {
				_, err := app.Drills.Run(ctx, configID, drill.TriggerScheduled)
				return err
			},
		})
		if err != nil {
			return err
		}
	}

	if cfg.Drift.Schedule != "" {
		err := app.Scheduler.Add(scheduler.Job{
			Name:     JobDriftCapture,
			Schedule: cfg.Drift.Schedule,
			Run: func(ctx context.Context) error {
				_, err := app.Drift.Capture(ctx, drift.TriggerSchedule)
				return err
			},
		})
		if err != nil {
			return err
		}
	}

	if cfg.Backup.MissingCheckSchedule != "" {
		err := app.Scheduler.Add(scheduler.Job{
			Name:     JobMissingCheck,
			Schedule: cfg.Backup.MissingCheckSchedule,
			Timeout:  cfg.Backup.CallTimeout,
			Run:      app.checkBackups,
		})
		if err != nil {
			return err
		}
	}

	if cfg.Backup.RetentionSchedule != "" {
		err := app.Scheduler.Add(scheduler.Job{
			Name:     JobRetention,
			Schedule: cfg.Backup.RetentionSchedule,
			Timeout:  cfg.Backup.CallTimeout,
			Run: func(ctx context.Context) error {
				_, err := app.Backups.ApplyRetention(ctx, false)
				return err
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// checkBackups raises missing-backup alerts and refreshes the health score
// gauge
func (app *Application) checkBackups(ctx context.Context) error {
	if _, err := app.Backups.CheckMissingBackups(ctx, app.now()); err != nil {
		return err
	}
	_, err := app.Backups.HealthScore(ctx, app.Config.Backup.HealthWindow)
	return err
}

// Serve runs the scheduler and, when enabled, the metrics endpoint until ctx
// is cancelled or the process receives SIGINT or SIGTERM
func (app *Application) Serve(ctx context.Context) error {
	app.Scheduler.Start()

	serverErr := make(chan error, 1)
	app.shutdownHandler.RegisterShutdownFunc(func() error {
		return app.Shutdown(app.Config.Backup.CallTimeout)
	})

	if app.Config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(app.Config.Metrics.Path, app.Metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
		server := &http.Server{
			Addr:              app.Config.Metrics.ListenAddress,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			app.Logger.WithField("address", server.Addr).Info("Serving metrics")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
		app.shutdownHandler.RegisterShutdownFunc(func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	app.shutdownHandler.Start()
	defer app.shutdownHandler.Stop()

	app.Logger.WithField("jobs", len(app.Scheduler.Entries())).Info("db-resilience running")

	var err error
	select {
	case <-ctx.Done():
		app.shutdownHandler.Shutdown()
	case <-app.shutdownHandler.Done():
	case serveErr := <-serverErr:
		err = appErrors.NewConfigError("metrics endpoint failed", serveErr)
		app.shutdownHandler.Shutdown()
	}
	<-app.shutdownHandler.Done()
	return err
}
