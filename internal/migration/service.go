package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"db-resilience/internal/database"
	"db-resilience/internal/errors"
	"db-resilience/internal/logging"
	"db-resilience/internal/schema"
)

// MigrationService plans and applies snapshot replays
type MigrationService interface {
	PlanReplay(snapshot *schema.Snapshot, opts ReplayOptions) (*MigrationPlan, error)
	ValidatePlan(plan *MigrationPlan) error
	Apply(ctx context.Context, db *sql.DB, plan *MigrationPlan) (*ApplyResult, error)
	Replay(ctx context.Context, db *sql.DB, snapshot *schema.Snapshot, opts ReplayOptions) (*ApplyResult, error)
}

// ApplyResult reports how far a plan got on the target
type ApplyResult struct {
	SnapshotID string        `json:"snapshot_id"`
	Applied    int           `json:"applied"`
	Total      int           `json:"total"`
	Duration   time.Duration `json:"duration"`
}

// migrationService implements the MigrationService interface
type migrationService struct {
	planner *MigrationPlanner
	driver  string
	logger  *logging.Logger
}

// NewMigrationService creates a service for targets using driver
func NewMigrationService(driver string, logger *logging.Logger) (MigrationService, error) {
	planner, err := NewMigrationPlanner(driver)
	if err != nil {
		return nil, errors.NewConfigError("cannot replay schema snapshots", err)
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &migrationService{planner: planner, driver: driver, logger: logger}, nil
}

// DecodeSnapshot parses a schema artifact written by a schema backup
func DecodeSnapshot(data []byte) (*schema.Snapshot, error) {
	var snapshot schema.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeIntegrity, "schema artifact is not a snapshot document", err)
	}
	if snapshot.Hash != "" {
		hash, err := schema.ComputeHash(&snapshot)
		if err != nil {
			return nil, errors.NewAppError(errors.ErrorTypeIntegrity, "cannot hash schema artifact", err)
		}
		if hash != snapshot.Hash {
			return nil, errors.NewAppError(errors.ErrorTypeIntegrity,
				fmt.Sprintf("schema artifact hash mismatch: recorded %s, computed %s", snapshot.Hash, hash), nil)
		}
	}
	return &snapshot, nil
}

// PlanReplay creates a replay plan for the snapshot
func (ms *migrationService) PlanReplay(snapshot *schema.Snapshot, opts ReplayOptions) (*MigrationPlan, error) {
	if snapshot == nil {
		return nil, errors.NewValidationError("snapshot cannot be nil", nil)
	}

	finishLog := ms.logger.LogOperationStart("replay_planning", map[string]interface{}{
		"snapshot_id": snapshot.ID,
		"tables":      len(snapshot.Tables),
		"driver":      ms.driver,
	})

	plan, err := ms.planner.PlanReplay(snapshot, opts)
	finishLog(err)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeSchema, "failed to create replay plan", err)
	}

	ms.logger.WithFields(map[string]interface{}{
		"statement_count": len(plan.Statements),
		"warning_count":   len(plan.Warnings),
	}).Debug("Replay plan created")
	return plan, nil
}

// ValidatePlan validates a replay plan
func (ms *migrationService) ValidatePlan(plan *MigrationPlan) error {
	if plan == nil {
		return errors.NewValidationError("migration plan cannot be nil", nil)
	}
	if err := plan.Validate(); err != nil {
		ms.logger.WithField("error", err.Error()).Error("Replay plan validation failed")
		return errors.NewValidationError("replay plan validation failed", err)
	}
	return nil
}

// Apply executes plan statements in order. Postgres runs the plan in one
// transaction; MySQL commits DDL implicitly, so a failure there leaves the
// statements before it applied.
func (ms *migrationService) Apply(ctx context.Context, db *sql.DB, plan *MigrationPlan) (*ApplyResult, error) {
	if db == nil {
		return nil, errors.NewValidationError("target database cannot be nil", nil)
	}
	if err := ms.ValidatePlan(plan); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &ApplyResult{SnapshotID: plan.SnapshotID, Total: len(plan.Statements)}
	finishLog := ms.logger.LogOperationStart("replay_apply", map[string]interface{}{
		"snapshot_id": plan.SnapshotID,
		"statements":  len(plan.Statements),
	})

	var err error
	if ms.driver == database.DriverPostgres {
		err = ms.applyInTransaction(ctx, db, plan, result)
	} else {
		err = ms.applyEach(ctx, db, plan, result)
	}
	result.Duration = time.Since(start)
	finishLog(err)
	if err != nil {
		return result, err
	}
	return result, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (ms *migrationService) execStatements(ctx context.Context, conn execer, plan *MigrationPlan, result *ApplyResult) error {
	for i, stmt := range plan.Statements {
		if err := ctx.Err(); err != nil {
			return errors.NewAppError(errors.ErrorTypeInterruption,
				fmt.Sprintf("replay interrupted after %d of %d statements", i, len(plan.Statements)), err)
		}
		if _, err := conn.ExecContext(ctx, stmt.SQL); err != nil {
			return errors.WrapError(err, fmt.Sprintf("statement %d (%s) failed", i+1, stmt.Description))
		}
		result.Applied++
		ms.logger.WithFields(map[string]interface{}{
			"statement": i + 1,
			"type":      stmt.Type,
			"table":     stmt.TableName,
		}).Debug("Replay statement applied")
	}
	return nil
}

func (ms *migrationService) applyEach(ctx context.Context, db *sql.DB, plan *MigrationPlan, result *ApplyResult) error {
	return ms.execStatements(ctx, db, plan, result)
}

func (ms *migrationService) applyInTransaction(ctx context.Context, db *sql.DB, plan *MigrationPlan, result *ApplyResult) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapError(err, "failed to begin replay transaction")
	}
	if err := ms.execStatements(ctx, tx, plan, result); err != nil {
		_ = tx.Rollback()
		result.Applied = 0
		return err
	}
	if err := tx.Commit(); err != nil {
		result.Applied = 0
		return errors.WrapError(err, "failed to commit replay transaction")
	}
	return nil
}

// Replay plans and applies snapshot in one call
func (ms *migrationService) Replay(ctx context.Context, db *sql.DB, snapshot *schema.Snapshot, opts ReplayOptions) (*ApplyResult, error) {
	plan, err := ms.PlanReplay(snapshot, opts)
	if err != nil {
		return nil, err
	}
	for _, warning := range plan.Warnings {
		ms.logger.WithField("snapshot_id", snapshot.ID).Warn(warning)
	}
	return ms.Apply(ctx, db, plan)
}
