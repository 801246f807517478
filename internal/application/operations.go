package application

import (
	"context"

	"db-resilience/internal/backup"
	"db-resilience/internal/compliance"
	"db-resilience/internal/drift"
	"db-resilience/internal/drill"
	appErrors "db-resilience/internal/errors"
	"db-resilience/internal/monitoring"
	"db-resilience/internal/schema"
)

// RunBackup runs the policy once outside its schedule. With validate set
// the deferred validation runs before returning instead of after the
// configured delay.
func (app *Application) RunBackup(ctx context.Context, policyID string, validate bool) (*backup.Operation, error) {
	policy, ok := app.Config.Backup.Policy(policyID)
	if !ok {
		return nil, appErrors.NewNotFoundError("backup policy", policyID)
	}

	op, err := app.Backups.RunManualBackup(ctx, policy)
	if err != nil || !validate {
		return op, err
	}
	app.Backups.Flush()
	return app.Backups.GetOperation(ctx, op.ID)
}

// StartBackup runs the policy once in the background and returns the
// operation id
func (app *Application) StartBackup(ctx context.Context, policyID string) (string, error) {
	policy, ok := app.Config.Backup.Policy(policyID)
	if !ok {
		return "", appErrors.NewNotFoundError("backup policy", policyID)
	}
	return app.Backups.StartManualBackup(ctx, policy)
}

// ValidateBackup validates a completed operation now
func (app *Application) ValidateBackup(ctx context.Context, operationID string) (*backup.Operation, error) {
	return app.Backups.ValidateOperation(ctx, operationID)
}

// BackupHealth scores the backup system over the configured window
func (app *Application) BackupHealth(ctx context.Context) (*backup.HealthReport, error) {
	return app.Backups.HealthScore(ctx, app.Config.Backup.HealthWindow)
}

// StartDrill begins a manual drill in the background
func (app *Application) StartDrill(ctx context.Context, configID string) (string, error) {
	return app.Drills.Start(ctx, configID, drill.TriggerManual)
}

// RunDrill runs a manual drill to completion
func (app *Application) RunDrill(ctx context.Context, configID string) (*drill.Execution, error) {
	return app.Drills.Run(ctx, configID, drill.TriggerManual)
}

// CancelDrill cancels an active execution
func (app *Application) CancelDrill(ctx context.Context, executionID, by string) (*drill.Execution, error) {
	return app.Drills.Cancel(ctx, executionID, by)
}

// CaptureSchema takes a manual schema snapshot of the protected database
func (app *Application) CaptureSchema(ctx context.Context) (*drift.CaptureResult, error) {
	return app.Drift.Capture(ctx, drift.TriggerManual)
}

// CompareSchema diffs two stored schema versions
func (app *Application) CompareSchema(ctx context.Context, from, to int) (*schema.SchemaDiff, error) {
	return app.Drift.Compare(ctx, from, to)
}

// AcknowledgeAlert marks an alert as seen, stopping its escalation
func (app *Application) AcknowledgeAlert(ctx context.Context, id, by string) (*monitoring.Alert, error) {
	return app.Alerts.Acknowledge(ctx, id, by)
}

// ResolveAlert closes an alert and releases its suppression key
func (app *Application) ResolveAlert(ctx context.Context, id, by string) (*monitoring.Alert, error) {
	return app.Alerts.Resolve(ctx, id, by)
}

// ComplianceReport aggregates every registered target
func (app *Application) ComplianceReport(ctx context.Context) (*compliance.Report, error) {
	return app.Compliance.Report(ctx)
}

// RunJob fires a scheduled job immediately
func (app *Application) RunJob(name string) error {
	return app.Scheduler.RunNow(name)
}
