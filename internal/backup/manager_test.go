package backup_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-resilience/internal/backup"
	"db-resilience/internal/compliance"
	apperrors "db-resilience/internal/errors"
	"db-resilience/internal/monitoring"
	"db-resilience/internal/provider"
	"db-resilience/internal/store"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeProvider struct {
	mu        sync.Mutex
	clock     *clock
	snapshots []provider.SnapshotInfo
	tags      []map[string]string
	deleted   []string
	nextSize  int64
	createErr error
	healthErr error
}

func (f *fakeProvider) CreateSnapshot(ctx context.Context, name string, tags map[string]string, expiresAt time.Time) (*provider.SnapshotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	info := provider.SnapshotInfo{
		ID:        fmt.Sprintf("snap-%d", len(f.snapshots)+1),
		Name:      name,
		Status:    provider.SnapshotStatusAvailable,
		SizeBytes: f.nextSize,
		CreatedAt: f.clock.now(),
		Tags:      tags,
	}
	if !expiresAt.IsZero() {
		info.ExpiresAt = &expiresAt
	}
	f.snapshots = append(f.snapshots, info)
	f.tags = append(f.tags, tags)
	return &info, nil
}

func (f *fakeProvider) ListSnapshots(ctx context.Context) ([]provider.SnapshotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.SnapshotInfo(nil), f.snapshots...), nil
}

func (f *fakeProvider) RestoreSnapshot(ctx context.Context, id, targetRef string) (*provider.RestoreResult, error) {
	return &provider.RestoreResult{SnapshotID: id, TargetRef: targetRef}, nil
}

func (f *fakeProvider) DeleteSnapshot(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return true, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) error {
	return f.healthErr
}

func (f *fakeProvider) resize(id string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.snapshots {
		if f.snapshots[i].ID == id {
			f.snapshots[i].SizeBytes = size
		}
	}
}

type recordingCapturer struct {
	mu  sync.Mutex
	ops []string
}

func (r *recordingCapturer) CaptureAfterBackup(ctx context.Context, operationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, operationID)
	return nil
}

type harness struct {
	manager    *backup.Manager
	store      *store.Store
	provider   *fakeProvider
	alerts     *monitoring.Engine
	aggregator *compliance.Aggregator
	capturer   *recordingCapturer
	clock      *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewMemoryStore(),
		clock:    &clock{t: time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)},
		capturer: &recordingCapturer{},
	}
	h.provider = &fakeProvider{clock: h.clock, nextSize: 1 << 20}

	alerts, err := monitoring.NewEngine(h.store, nil, nil, monitoring.DefaultConfig(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(alerts.Close)
	h.alerts = alerts

	h.aggregator = compliance.NewAggregator(h.store, nil, nil)
	require.NoError(t, h.aggregator.RegisterTarget(context.Background(), compliance.Target{
		ID: "orders-db", Service: "orders", RtoSeconds: 600, RpoSeconds: 7200, Criticality: compliance.CriticalityHigh,
	}))

	cfg := backup.DefaultConfig()
	cfg.ValidationDelay = time.Hour

	manager, err := backup.NewManager(backup.Dependencies{
		Store:        h.store,
		Provider:     h.provider,
		Events:       alerts,
		Compliance:   h.aggregator,
		Measurements: h.store,
		Targets:      compliance.Mapping{"nightly": {"orders-db"}},
		Capturer:     h.capturer,
		Now:          h.clock.now,
	}, cfg)
	require.NoError(t, err)
	t.Cleanup(manager.Close)
	h.manager = manager
	return h
}

func nightly() *backup.Policy {
	return &backup.Policy{
		ID:            "nightly",
		Name:          "Nightly full backup",
		Type:          backup.TypeFull,
		Schedule:      "0 2 * * *",
		RetentionDays: 7,
		Tags:          map[string]string{"team": "dba"},
		Enabled:       true,
	}
}

func alertsOfType(t *testing.T, h *harness, alertType monitoring.AlertType) []*monitoring.Alert {
	t.Helper()
	list, err := h.alerts.ListAlerts(context.Background(), monitoring.AlertFilter{Type: alertType})
	require.NoError(t, err)
	return list
}

func TestExecuteScheduledBackup_Success(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	op, err := h.manager.ExecuteScheduledBackup(ctx, nightly())
	require.NoError(t, err)

	assert.Equal(t, backup.StatusCompleted, op.Status)
	assert.Equal(t, backup.TriggerScheduled, op.Trigger)
	assert.Equal(t, "snap-1", op.SnapshotID)
	assert.Equal(t, int64(1<<20), op.SizeBytes)
	require.NotNil(t, op.Validation)
	assert.Equal(t, backup.ValidationPending, op.Validation.Status)
	assert.Equal(t, 1, h.manager.PendingValidations())

	require.Len(t, h.provider.tags, 1)
	assert.Equal(t, "dba", h.provider.tags[0]["team"])
	assert.Equal(t, "nightly", h.provider.tags[0]["dbr:policy"])
	assert.Equal(t, op.ID, h.provider.tags[0]["dbr:operation"])
	require.NotNil(t, h.provider.snapshots[0].ExpiresAt)
	assert.Equal(t, h.clock.now().Add(7*24*time.Hour), *h.provider.snapshots[0].ExpiresAt)

	stored, err := h.manager.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.StatusCompleted, stored.Status)

	h.manager.Flush()
	assert.Equal(t, 0, h.manager.PendingValidations())

	validated, err := h.manager.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.ValidationPassed, validated.Validation.Status)
	assert.NotNil(t, validated.Validation.CheckedAt)
	assert.Equal(t, []string{op.ID}, h.capturer.ops)
}

func TestExecuteScheduledBackup_ProviderFailure(t *testing.T) {
	h := newHarness(t)
	h.provider.createErr = errors.New("snapshot quota exceeded")

	op, err := h.manager.ExecuteScheduledBackup(context.Background(), nightly())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeTransient))
	assert.True(t, apperrors.IsRecoverableError(err))

	require.NotNil(t, op)
	assert.Equal(t, backup.StatusFailed, op.Status)
	assert.Equal(t, "snapshot quota exceeded", op.Error)
	assert.Nil(t, op.Validation)
	assert.Equal(t, 0, h.manager.PendingValidations())

	failed := alertsOfType(t, h, monitoring.AlertBackupFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "nightly", failed[0].Subject)
	assert.Equal(t, monitoring.SeverityHigh, failed[0].Severity)
}

func TestExecuteScheduledBackup_Preconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	disabled := nightly()
	disabled.Enabled = false
	_, err := h.manager.ExecuteScheduledBackup(ctx, disabled)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

	op, err := h.manager.RunManualBackup(ctx, disabled)
	require.NoError(t, err)
	assert.Equal(t, backup.TriggerManual, op.Trigger)

	invalid := nightly()
	invalid.Type = "differential"
	_, err = h.manager.RunManualBackup(ctx, invalid)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestStartManualBackup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.manager.StartManualBackup(ctx, nightly())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		op, err := h.manager.GetOperation(ctx, id)
		return err == nil && op.Status == backup.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	op, err := h.manager.GetOperation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, backup.TriggerManual, op.Trigger)
	assert.Equal(t, "snap-1", op.SnapshotID)

	_, err = h.manager.StartManualBackup(ctx, nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestStartManualBackup_AfterClose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.manager.Close()

	id, err := h.manager.StartManualBackup(ctx, nightly())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

	op, getErr := h.manager.GetOperation(ctx, id)
	require.NoError(t, getErr)
	assert.Equal(t, backup.StatusFailed, op.Status)
	assert.Empty(t, h.provider.snapshots)
}

func TestValidateOperation_SizeMismatchRaisesIntegrityAlert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	op, err := h.manager.ExecuteScheduledBackup(ctx, nightly())
	require.NoError(t, err)
	h.provider.resize(op.SnapshotID, 512)

	validated, err := h.manager.ValidateOperation(ctx, op.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeIntegrity))
	assert.Equal(t, backup.StatusCompleted, validated.Status)
	assert.Equal(t, backup.ValidationFailed, validated.Validation.Status)
	assert.Contains(t, validated.Validation.Message, "does not match")

	integrity := alertsOfType(t, h, monitoring.AlertIntegrityFailure)
	require.Len(t, integrity, 1)
	assert.Equal(t, op.ID, integrity[0].Subject)
	assert.Equal(t, monitoring.SeverityCritical, integrity[0].Severity)
}

func TestValidateOperation_RejectsFailedOperation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.provider.createErr = errors.New("boom")

	op, _ := h.manager.ExecuteScheduledBackup(ctx, nightly())
	_, err := h.manager.ValidateOperation(ctx, op.ID)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

	_, err = h.manager.ValidateOperation(ctx, "unknown")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestHealthScore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	empty, err := h.manager.HealthScore(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0.0, empty.BackupSuccessRate)
	assert.Equal(t, 60.0, empty.Score)
	assert.False(t, empty.Healthy)

	var ops []*backup.Operation
	for i := 0; i < 3; i++ {
		op, err := h.manager.ExecuteScheduledBackup(ctx, nightly())
		require.NoError(t, err)
		ops = append(ops, op)
		h.clock.advance(time.Minute)
	}
	h.provider.createErr = errors.New("boom")
	_, _ = h.manager.ExecuteScheduledBackup(ctx, nightly())

	_, err = h.manager.ValidateOperation(ctx, ops[0].ID)
	require.NoError(t, err)
	h.provider.resize(ops[1].SnapshotID, 1)
	_, err = h.manager.ValidateOperation(ctx, ops[1].ID)
	require.Error(t, err)

	report, err := h.manager.HealthScore(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Operations)
	assert.Equal(t, 75.0, report.BackupSuccessRate)
	assert.Equal(t, 50.0, report.ValidationSuccessRate)
	assert.Equal(t, 100.0, report.RtoAchievementRate)
	assert.Equal(t, 75.0, report.Score)
	assert.False(t, report.Healthy)
	assert.Equal(t, "ok", report.Dependencies["provider"])
}

func TestHealthScore_UnhealthyDependency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.manager.ExecuteScheduledBackup(ctx, nightly())
	require.NoError(t, err)
	h.provider.healthErr = errors.New("rds endpoint unreachable")

	report, err := h.manager.HealthScore(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 100.0, report.Score)
	assert.False(t, report.Healthy)
	assert.Equal(t, "rds endpoint unreachable", report.Dependencies["provider"])
}

func TestCheckMissingBackups_AlertsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.manager.CheckMissingBackups(ctx, h.clock.now())
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "full_backup", first[0].BackupType)
	assert.Nil(t, first[0].LastCompletedAt)

	second, err := h.manager.CheckMissingBackups(ctx, h.clock.now().Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, second, 1)

	missing := alertsOfType(t, h, monitoring.AlertMissingBackup)
	require.Len(t, missing, 1)
	assert.Equal(t, monitoring.SeverityCritical, missing[0].Severity)
	assert.Equal(t, "full_backup", missing[0].Subject)

	_, err = h.manager.ExecuteScheduledBackup(ctx, nightly())
	require.NoError(t, err)
	none, err := h.manager.CheckMissingBackups(ctx, h.clock.now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)

	stale, err := h.manager.CheckMissingBackups(ctx, h.clock.now().Add(26*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.NotNil(t, stale[0].LastCompletedAt)
}

func TestBackupMeasurementsFeedCompliance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.manager.ExecuteScheduledBackup(ctx, nightly())
	require.NoError(t, err)
	h.clock.advance(time.Hour)
	second, err := h.manager.ExecuteScheduledBackup(ctx, nightly())
	require.NoError(t, err)

	measurements, err := h.store.ListMeasurements(ctx, compliance.MeasurementFilter{TargetID: "orders-db"})
	require.NoError(t, err)
	require.Len(t, measurements, 2)
	assert.Equal(t, second.ID, measurements[0].SourceID)
	assert.Equal(t, compliance.SourceBackup, measurements[0].Source)
	assert.Equal(t, 3600.0, measurements[0].ActualRpo)
	assert.True(t, measurements[0].RpoAchieved)
	assert.Equal(t, 0.0, measurements[1].ActualRpo)
}

func TestRecentSizes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var last *backup.Operation
	for _, size := range []int64{100, 200, 300} {
		h.provider.nextSize = size
		op, err := h.manager.ExecuteScheduledBackup(ctx, nightly())
		require.NoError(t, err)
		last = op
		h.clock.advance(time.Minute)
	}

	sizes, err := h.manager.RecentSizes(ctx, string(backup.TypeFull), last.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{200, 100}, sizes)

	sizes, err = h.manager.RecentSizes(ctx, string(backup.TypeFull), "", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{300, 200}, sizes)
}

func TestApplyRetention(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := h.clock.now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	h.provider.snapshots = []provider.SnapshotInfo{
		{ID: "expired", Status: provider.SnapshotStatusAvailable, ExpiresAt: &past},
		{ID: "fresh", Status: provider.SnapshotStatusAvailable, ExpiresAt: &future},
		{ID: "forever", Status: provider.SnapshotStatusAvailable},
	}

	dry, err := h.manager.ApplyRetention(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 3, dry.Processed)
	assert.Equal(t, []string{"expired"}, dry.Deleted)
	assert.Equal(t, 2, dry.Kept)
	assert.Empty(t, h.provider.deleted)

	result, err := h.manager.ApplyRetention(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"expired"}, result.Deleted)
	assert.Equal(t, []string{"expired"}, h.provider.deleted)
}

func TestClose_CancelsDeferredWork(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.ExecuteScheduledBackup(context.Background(), nightly())
	require.NoError(t, err)
	require.Equal(t, 1, h.manager.PendingValidations())

	h.manager.Close()
	assert.Equal(t, 0, h.manager.PendingValidations())
	assert.Empty(t, h.capturer.ops)
}
