package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-resilience/internal/backup"
	"db-resilience/internal/compliance"
	"db-resilience/internal/drift"
	"db-resilience/internal/drill"
	apperrors "db-resilience/internal/errors"
	"db-resilience/internal/monitoring"
	"db-resilience/internal/schema"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryStore_OperationLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	op := &backup.Operation{ID: "op-1", PolicyID: "nightly", Type: backup.TypeFull, Status: backup.StatusPending, StartedAt: base}
	_, err := s.CreateOperation(ctx, op)
	require.NoError(t, err)

	_, err = s.CreateOperation(ctx, op)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

	op.Status = backup.StatusCompleted
	op.SizeBytes = 1024
	require.NoError(t, s.UpdateOperation(ctx, op))

	got, err := s.GetOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, backup.StatusCompleted, got.Status)
	assert.Equal(t, int64(1024), got.SizeBytes)

	got.Status = backup.StatusFailed
	again, err := s.GetOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, backup.StatusCompleted, again.Status, "returned records are copies")

	err = s.UpdateOperation(ctx, &backup.Operation{ID: "missing"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	_, err = s.GetOperation(ctx, "missing")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	_, err = s.CreateOperation(ctx, &backup.Operation{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestMemoryStore_ListOperationsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i, policy := range []string{"nightly", "hourly", "nightly", "nightly"} {
		status := backup.StatusCompleted
		if i == 2 {
			status = backup.StatusFailed
		}
		_, err := s.CreateOperation(ctx, &backup.Operation{
			ID:        string(rune('a' + i)),
			PolicyID:  policy,
			Status:    status,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}
	_, err := s.CreateOperation(ctx, &backup.Operation{ID: "e", PolicyID: "nightly", Status: backup.StatusCompleted, StartedAt: base.Add(3 * time.Hour)})
	require.NoError(t, err)

	all, err := s.ListOperations(ctx, backup.OperationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "e", all[0].ID, "ties break on insertion order")
	assert.Equal(t, "d", all[1].ID)
	assert.Equal(t, "a", all[4].ID)

	nightly, err := s.ListOperations(ctx, backup.OperationFilter{PolicyID: "nightly", Status: backup.StatusCompleted, Limit: 2})
	require.NoError(t, err)
	require.Len(t, nightly, 2)
	assert.Equal(t, "e", nightly[0].ID)
	assert.Equal(t, "d", nightly[1].ID)

	since, err := s.ListOperations(ctx, backup.OperationFilter{Since: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, since, 3)
}

func TestMemoryStore_SchemaVersions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	latest, err := s.LatestVersion(ctx, "app")
	require.NoError(t, err)
	assert.Nil(t, latest)

	for v := 1; v <= 3; v++ {
		_, err := s.CreateVersion(ctx, &drift.SchemaVersion{
			ID:         "v" + string(rune('0'+v)),
			Database:   "app",
			Version:    v,
			Snapshot:   &schema.Snapshot{Database: "app", Version: v, Hash: "h" + string(rune('0'+v))},
			CapturedAt: base.Add(time.Duration(v) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err = s.CreateVersion(ctx, &drift.SchemaVersion{ID: "other", Database: "billing", Version: 9, CapturedAt: base})
	require.NoError(t, err)

	latest, err = s.LatestVersion(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)
	assert.Equal(t, "h3", latest.Snapshot.Hash)

	v2, err := s.GetVersion(ctx, "app", 2)
	require.NoError(t, err)
	assert.Equal(t, "v2", v2.ID)

	_, err = s.GetVersion(ctx, "app", 9)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	history, err := s.ListVersions(ctx, "app", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 3, history[0].Version)
	assert.Equal(t, 2, history[1].Version)
}

func TestMemoryStore_Drill(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveConfiguration(ctx, &drill.Configuration{ID: "b", Name: "first"}))
	require.NoError(t, s.SaveConfiguration(ctx, &drill.Configuration{ID: "a"}))
	require.NoError(t, s.SaveConfiguration(ctx, &drill.Configuration{ID: "b", Name: "second"}))

	configs, err := s.ListConfigurations(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "a", configs[0].ID)
	assert.Equal(t, "second", configs[1].Name)

	require.NoError(t, s.SaveScenario(ctx, &drill.Scenario{ID: "full", Steps: []drill.Step{{ID: "r", Type: drill.StepRestore, Timeout: time.Minute}}}))
	scenario, err := s.GetScenario(ctx, "full")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, scenario.Steps[0].Timeout)

	started := base
	_, err = s.CreateExecution(ctx, &drill.Execution{ID: "x1", ConfigID: "a", Status: drill.StatusRunning, CreatedAt: base, StartedAt: &started})
	require.NoError(t, err)
	_, err = s.CreateExecution(ctx, &drill.Execution{ID: "x2", ConfigID: "b", Status: drill.StatusCompleted, CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)

	require.NoError(t, s.UpdateExecution(ctx, &drill.Execution{ID: "x1", ConfigID: "a", Status: drill.StatusCancelled, CreatedAt: base, CancelledBy: "ops"}))

	x1, err := s.GetExecution(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, drill.StatusCancelled, x1.Status)
	assert.Equal(t, "ops", x1.CancelledBy)

	list, err := s.ListExecutions(ctx, drill.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "x2", list[0].ID)

	list, err = s.ListExecutions(ctx, drill.ExecutionFilter{ConfigID: "a"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "x1", list[0].ID)
}

func TestMemoryStore_Alerts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.CreateAlert(ctx, &monitoring.Alert{ID: "al-1", Type: monitoring.AlertBackupFailed, Status: monitoring.AlertStatusActive, Subject: "nightly", CreatedAt: base})
	require.NoError(t, err)
	_, err = s.CreateAlert(ctx, &monitoring.Alert{ID: "al-2", Type: monitoring.AlertSchemaDrift, Status: monitoring.AlertStatusActive, Subject: "app", CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)

	a, err := s.GetAlert(ctx, "al-1")
	require.NoError(t, err)
	a.Status = monitoring.AlertStatusResolved
	require.NoError(t, s.UpdateAlert(ctx, a))

	active, err := s.ListAlerts(ctx, monitoring.AlertFilter{Status: monitoring.AlertStatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "al-2", active[0].ID)

	byType, err := s.ListAlerts(ctx, monitoring.AlertFilter{Type: monitoring.AlertBackupFailed})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, monitoring.AlertStatusResolved, byType[0].Status)
}

func TestMemoryStore_Compliance(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveTarget(ctx, &compliance.Target{ID: "orders", Service: "orders", RtoSeconds: 60, RpoSeconds: 30}))
	target, err := s.GetTarget(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 60.0, target.RtoSeconds)

	for i := 0; i < 3; i++ {
		_, err := s.CreateMeasurement(ctx, &compliance.Measurement{
			ID:         "m" + string(rune('0'+i)),
			TargetID:   "orders",
			ActualRto:  float64(10 * (i + 1)),
			MeasuredAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	recent, err := s.ListMeasurements(ctx, compliance.MeasurementFilter{TargetID: "orders", Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 30.0, recent[0].ActualRto)

	since, err := s.ListMeasurements(ctx, compliance.MeasurementFilter{Since: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	targets, err := s.ListTargets(ctx)
	require.NoError(t, err)
	assert.Len(t, targets, 1)
}
