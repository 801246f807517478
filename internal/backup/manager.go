// Package backup runs backup policies against a snapshot provider, records
// the operations, validates them after a delay, scores backup health and
// detects missing backups.
package backup

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"db-resilience/internal/compliance"
	apperrors "db-resilience/internal/errors"
	"db-resilience/internal/logging"
	"db-resilience/internal/metrics"
	"db-resilience/internal/monitoring"
	"db-resilience/internal/provider"
)

// Config tunes the backup manager
type Config struct {
	ValidationDelay        time.Duration `yaml:"validation_delay" mapstructure:"validation_delay"`
	MissingBackupThreshold time.Duration `yaml:"missing_threshold" mapstructure:"missing_threshold"`
	TrackedTypes           []Type        `yaml:"tracked_types" mapstructure:"tracked_types"`
	CallTimeout            time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	HealthyScore           float64       `yaml:"healthy_score" mapstructure:"healthy_score"`
}

// DefaultConfig returns the standard delays and thresholds
func DefaultConfig() Config {
	return Config{
		ValidationDelay:        5 * time.Minute,
		MissingBackupThreshold: 25 * time.Hour,
		TrackedTypes:           []Type{TypeFull},
		CallTimeout:            30 * time.Minute,
		HealthyScore:           80,
	}
}

// SetDefaults fills zero fields from DefaultConfig
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.ValidationDelay == 0 {
		c.ValidationDelay = d.ValidationDelay
	}
	if c.MissingBackupThreshold == 0 {
		c.MissingBackupThreshold = d.MissingBackupThreshold
	}
	if len(c.TrackedTypes) == 0 {
		c.TrackedTypes = d.TrackedTypes
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.HealthyScore == 0 {
		c.HealthyScore = d.HealthyScore
	}
}

// Validate checks durations and tracked types
func (c Config) Validate() error {
	if c.ValidationDelay < 0 || c.MissingBackupThreshold <= 0 || c.CallTimeout <= 0 {
		return fmt.Errorf("backup delays and timeouts must be positive")
	}
	for _, t := range c.TrackedTypes {
		if !t.Valid() {
			return fmt.Errorf("invalid tracked backup type %q", t)
		}
	}
	return nil
}

// MeasurementSource lists compliance measurements for health scoring
type MeasurementSource interface {
	ListMeasurements(ctx context.Context, filter compliance.MeasurementFilter) ([]*compliance.Measurement, error)
}

// Dependencies are the collaborators of a Manager. Store and Provider are
// required; everything else may be nil.
type Dependencies struct {
	Store        OperationStore
	Provider     provider.SnapshotProvider
	Events       monitoring.Publisher
	Compliance   compliance.Recorder
	Measurements MeasurementSource
	Targets      compliance.Mapping
	Capturer     SchemaCapturer
	Logger       *logging.Logger
	Metrics      *metrics.Recorder
	Now          func() time.Time
}

// Manager is the backup lifecycle manager
type Manager struct {
	store        OperationStore
	provider     provider.SnapshotProvider
	events       monitoring.Publisher
	compliance   compliance.Recorder
	measurements MeasurementSource
	targets      compliance.Mapping
	capturer     SchemaCapturer
	logger       *logging.Logger
	metrics      *metrics.Recorder
	classifier   *apperrors.ErrorClassifier
	config       Config
	now          func() time.Time

	checkersMu sync.RWMutex
	checkers   map[string]provider.HealthChecker

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// NewManager creates a backup manager
func NewManager(deps Dependencies, config Config) (*Manager, error) {
	if deps.Store == nil || deps.Provider == nil {
		return nil, apperrors.NewConfigError("backup manager requires an operation store and a snapshot provider", nil)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewConfigError("invalid backup configuration", err)
	}

	m := &Manager{
		store:        deps.Store,
		provider:     deps.Provider,
		events:       deps.Events,
		compliance:   deps.Compliance,
		measurements: deps.Measurements,
		targets:      deps.Targets,
		capturer:     deps.Capturer,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		classifier:   apperrors.NewErrorClassifier(),
		config:       config,
		now:          deps.Now,
		checkers:     make(map[string]provider.HealthChecker),
		timers:       make(map[string]*time.Timer),
	}
	if m.logger == nil {
		m.logger = logging.NewDiscardLogger()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if hc, ok := deps.Provider.(provider.HealthChecker); ok {
		m.checkers["provider"] = hc
	}
	return m, nil
}

// RegisterHealthChecker adds a dependency to the health score
func (m *Manager) RegisterHealthChecker(name string, checker provider.HealthChecker) {
	m.checkersMu.Lock()
	defer m.checkersMu.Unlock()
	m.checkers[name] = checker
}

// SetCapturer sets the schema capturer run after successful backups
func (m *Manager) SetCapturer(capturer SchemaCapturer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capturer = capturer
}

// ExecuteScheduledBackup runs a policy on behalf of the scheduler
func (m *Manager) ExecuteScheduledBackup(ctx context.Context, policy *Policy) (*Operation, error) {
	return m.execute(ctx, policy, TriggerScheduled)
}

// RunManualBackup runs a policy on operator request, even when disabled
func (m *Manager) RunManualBackup(ctx context.Context, policy *Policy) (*Operation, error) {
	return m.execute(ctx, policy, TriggerManual)
}

// StartManualBackup persists a running operation for policy and takes the
// snapshot in the background. The returned id can be polled with
// GetOperation.
func (m *Manager) StartManualBackup(ctx context.Context, policy *Policy) (string, error) {
	op, err := m.begin(ctx, policy, TriggerManual)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		completedAt := m.now()
		op.CompletedAt = &completedAt
		_, err := m.fail(context.WithoutCancel(ctx), op, apperrors.NewConflictError("backup manager is closed"))
		return op.ID, err
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		if _, err := m.finish(context.WithoutCancel(ctx), policy, op); err != nil {
			m.logger.WithField("operation_id", op.ID).Warnf("Background backup failed: %v", err)
		}
	}()
	return op.ID, nil
}

// execute creates one snapshot. The operation is persisted and returned in
// both outcomes; on failure the error is returned alongside it. There is no
// retry within an invocation.
func (m *Manager) execute(ctx context.Context, policy *Policy, trigger Trigger) (*Operation, error) {
	op, err := m.begin(ctx, policy, trigger)
	if err != nil {
		return nil, err
	}
	return m.finish(ctx, policy, op)
}

// begin validates the policy and persists the operation as running
func (m *Manager) begin(ctx context.Context, policy *Policy, trigger Trigger) (*Operation, error) {
	if policy == nil {
		return nil, apperrors.NewValidationError("backup policy is required", nil)
	}
	if err := policy.Validate(); err != nil {
		return nil, apperrors.NewValidationError("invalid backup policy", err)
	}
	if trigger == TriggerScheduled && !policy.Enabled {
		return nil, apperrors.NewConflictError(fmt.Sprintf("backup policy %s is disabled", policy.ID))
	}

	op, err := m.store.CreateOperation(ctx, &Operation{
		ID:        uuid.New().String(),
		PolicyID:  policy.ID,
		Type:      policy.Type,
		Status:    StatusPending,
		Trigger:   trigger,
		StartedAt: m.now(),
	})
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to create backup operation")
	}

	op.Status = StatusRunning
	if err := m.store.UpdateOperation(context.WithoutCancel(ctx), op); err != nil {
		return nil, apperrors.WrapError(err, "failed to mark backup operation running")
	}

	m.logger.WithFields(map[string]interface{}{
		"operation_id": op.ID,
		"policy_id":    policy.ID,
		"backup_type":  string(policy.Type),
		"trigger":      string(trigger),
	}).Info("Starting backup")
	return op, nil
}

// finish takes the snapshot for a running operation and records the outcome
func (m *Manager) finish(ctx context.Context, policy *Policy, op *Operation) (*Operation, error) {
	// persistence of the outcome must survive caller cancellation
	persistCtx := context.WithoutCancel(ctx)
	startedAt := op.StartedAt

	callCtx, cancel := apperrors.CreateContextWithTimeout(ctx, m.config.CallTimeout, DefaultConfig().CallTimeout)
	info, callErr := m.provider.CreateSnapshot(callCtx, policy.ID, m.snapshotTags(policy, op), policy.ExpiresAt(startedAt))
	cancel()

	completedAt := m.now()
	op.CompletedAt = &completedAt
	op.Duration = completedAt.Sub(startedAt)

	if callErr != nil {
		return m.fail(persistCtx, op, callErr)
	}

	op.Status = StatusCompleted
	op.SnapshotID = info.ID
	op.SizeBytes = info.SizeBytes
	op.Validation = &Validation{Status: ValidationPending}
	if err := m.store.UpdateOperation(persistCtx, op); err != nil {
		return op, apperrors.WrapError(err, "failed to persist completed backup operation")
	}

	m.metrics.ObserveBackup(string(op.Type), string(op.Status), op.Duration, op.SizeBytes)
	m.logger.LogBackupOperation(op.ID, string(op.Type), string(op.Status), op.SizeBytes, op.Duration, nil)

	m.publish(persistCtx, monitoring.BackupCompleted{
		OperationID: op.ID,
		PolicyID:    op.PolicyID,
		BackupType:  string(op.Type),
		SizeBytes:   op.SizeBytes,
		Duration:    op.Duration,
		CompletedAt: completedAt,
	})
	m.recordMeasurements(persistCtx, op)
	m.scheduleDeferred(op.ID)

	return op, nil
}

func (m *Manager) fail(ctx context.Context, op *Operation, cause error) (*Operation, error) {
	appErr := m.classifier.ClassifyError(cause)
	if appErr.Type == apperrors.ErrorTypeUnknown {
		appErr = apperrors.NewRecoverableError(apperrors.ErrorTypeTransient, "snapshot provider call failed", cause)
	}
	appErr = appErr.WithContext("operation_id", op.ID)

	op.Status = StatusFailed
	op.Error = cause.Error()
	op.Validation = nil
	if err := m.store.UpdateOperation(ctx, op); err != nil {
		m.logger.WithField("operation_id", op.ID).Errorf("Failed to persist failed backup operation: %v", err)
	}

	m.metrics.ObserveBackup(string(op.Type), string(op.Status), op.Duration, 0)
	m.logger.LogBackupOperation(op.ID, string(op.Type), string(op.Status), 0, op.Duration, cause)

	m.publish(ctx, monitoring.BackupFailed{
		OperationID: op.ID,
		PolicyID:    op.PolicyID,
		BackupType:  string(op.Type),
		Error:       op.Error,
		FailedAt:    *op.CompletedAt,
	})

	return op, appErr
}

func (m *Manager) snapshotTags(policy *Policy, op *Operation) map[string]string {
	tags := make(map[string]string, len(policy.Tags)+3)
	for k, v := range policy.Tags {
		tags[k] = v
	}
	tags["dbr:policy"] = policy.ID
	tags["dbr:type"] = string(policy.Type)
	tags["dbr:operation"] = op.ID
	return tags
}

// recordMeasurements reports RTO as the backup duration and RPO as the gap
// since the policy's previous completed backup
func (m *Manager) recordMeasurements(ctx context.Context, op *Operation) {
	targets := m.targets.TargetsFor(op.PolicyID)
	if m.compliance == nil || len(targets) == 0 {
		return
	}

	var rpo float64
	previous, err := m.store.ListOperations(ctx, OperationFilter{PolicyID: op.PolicyID, Status: StatusCompleted, Limit: 2})
	if err != nil {
		m.logger.WithField("operation_id", op.ID).Warnf("Failed to load previous backup: %v", err)
	}
	for _, prev := range previous {
		if prev.ID != op.ID && prev.CompletedAt != nil {
			rpo = op.CompletedAt.Sub(*prev.CompletedAt).Seconds()
			break
		}
	}

	for _, targetID := range targets {
		_, err := m.compliance.RecordMeasurement(ctx, compliance.MeasurementInput{
			TargetID:   targetID,
			Source:     compliance.SourceBackup,
			SourceID:   op.ID,
			ActualRto:  op.Duration.Seconds(),
			ActualRpo:  rpo,
			MeasuredAt: *op.CompletedAt,
		})
		if err != nil {
			m.logger.WithFields(map[string]interface{}{
				"operation_id": op.ID,
				"target_id":    targetID,
			}).Warnf("Failed to record compliance measurement: %v", err)
		}
	}
}

// scheduleDeferred arms validation and drift capture for a completed
// operation after ValidationDelay
func (m *Manager) scheduleDeferred(opID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.wg.Add(1)
	m.timers[opID] = time.AfterFunc(m.config.ValidationDelay, func() {
		defer m.wg.Done()
		m.runDeferred(opID)
	})
}

func (m *Manager) runDeferred(opID string) {
	m.mu.Lock()
	delete(m.timers, opID)
	capturer := m.capturer
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.config.CallTimeout)
	defer cancel()

	if _, err := m.ValidateOperation(ctx, opID); err != nil && !apperrors.IsType(err, apperrors.ErrorTypeIntegrity) {
		m.logger.WithField("operation_id", opID).Warnf("Deferred validation failed: %v", err)
	}
	if capturer != nil {
		if err := capturer.CaptureAfterBackup(ctx, opID); err != nil {
			m.logger.WithField("operation_id", opID).Warnf("Post-backup schema capture failed: %v", err)
		}
	}
}

// PendingValidations is the number of armed deferred validations
func (m *Manager) PendingValidations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// ValidateOperation checks that a completed operation's snapshot exists, is
// available and has the recorded size. A failed check marks only the
// validation record failed, raises an integrity alert and returns an
// integrity error with the updated operation.
func (m *Manager) ValidateOperation(ctx context.Context, opID string) (*Operation, error) {
	op, err := m.store.GetOperation(ctx, opID)
	if err != nil {
		return nil, err
	}
	if op.Status != StatusCompleted {
		return op, apperrors.NewConflictError(fmt.Sprintf("backup operation %s is %s; only completed operations are validated", op.ID, op.Status))
	}

	callCtx, cancel := apperrors.CreateContextWithTimeout(ctx, m.config.CallTimeout, DefaultConfig().CallTimeout)
	defer cancel()

	problem, err := m.checkSnapshot(callCtx, op)
	if err != nil {
		return op, apperrors.WrapError(err, fmt.Sprintf("failed to validate backup operation %s", op.ID))
	}

	checkedAt := m.now()
	op.Validation = &Validation{Status: ValidationPassed, CheckedAt: &checkedAt, Message: "snapshot verified"}
	if problem != "" {
		op.Validation.Status = ValidationFailed
		op.Validation.Message = problem
	}
	if err := m.store.UpdateOperation(context.WithoutCancel(ctx), op); err != nil {
		return op, apperrors.WrapError(err, "failed to persist validation result")
	}

	m.metrics.ObserveValidation(problem == "")
	fields := map[string]interface{}{
		"operation_id": op.ID,
		"snapshot_id":  op.SnapshotID,
		"validation":   string(op.Validation.Status),
	}

	if problem == "" {
		m.logger.WithFields(fields).Info("Backup validated")
		return op, nil
	}

	m.logger.WithFields(fields).Warnf("Backup validation failed: %s", problem)
	m.publish(ctx, monitoring.ValidationFailed{OperationID: op.ID, SnapshotID: op.SnapshotID, Reason: problem})
	return op, apperrors.NewAppError(apperrors.ErrorTypeIntegrity, problem, nil).WithContext("operation_id", op.ID)
}

// checkSnapshot returns a non-empty problem description when the snapshot
// fails validation, or an error when the provider could not be asked
func (m *Manager) checkSnapshot(ctx context.Context, op *Operation) (string, error) {
	if op.SnapshotID == "" {
		return "operation has no snapshot reference", nil
	}

	if verifier, ok := m.provider.(provider.Verifier); ok {
		result, err := verifier.VerifySnapshot(ctx, op.SnapshotID)
		if err == nil {
			if !result.Valid {
				return result.Message, nil
			}
			return sizeMismatch(op.SizeBytes, result.SizeBytes), nil
		}
		m.logger.WithField("operation_id", op.ID).Debugf("Provider verification unavailable, falling back to listing: %v", err)
	}

	snapshots, err := m.provider.ListSnapshots(ctx)
	if err != nil {
		return "", err
	}
	snap, ok := provider.Find(snapshots, op.SnapshotID)
	if !ok {
		return fmt.Sprintf("snapshot %s not found", op.SnapshotID), nil
	}
	if !snap.Available() {
		return fmt.Sprintf("snapshot %s is %s", snap.ID, snap.Status), nil
	}
	return sizeMismatch(op.SizeBytes, snap.SizeBytes), nil
}

func sizeMismatch(recorded, actual int64) string {
	if recorded > 0 && actual > 0 && recorded != actual {
		return fmt.Sprintf("snapshot size %d does not match recorded size %d", actual, recorded)
	}
	return ""
}

// HealthScore computes 0.4*backup success + 0.3*validation success +
// 0.3*RTO achievement over the window, as percentages. Rates with no data
// in the window count as 100 except backup success, which counts as 0.
func (m *Manager) HealthScore(ctx context.Context, window time.Duration) (*HealthReport, error) {
	now := m.now()
	since := now.Add(-window)

	ops, err := m.store.ListOperations(ctx, OperationFilter{Since: since})
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to list backup operations")
	}

	report := &HealthReport{
		Window:                window,
		GeneratedAt:           now,
		ValidationSuccessRate: 100,
		RtoAchievementRate:    100,
		Dependencies:          make(map[string]string),
	}

	var terminal, completed, checked, passed int
	for _, op := range ops {
		if !op.Status.Terminal() {
			continue
		}
		terminal++
		if op.Status != StatusCompleted {
			continue
		}
		completed++
		if op.Validation != nil && op.Validation.Status != ValidationPending {
			checked++
			if op.Validation.Status == ValidationPassed {
				passed++
			}
		}
	}
	report.Operations = terminal
	if terminal > 0 {
		report.BackupSuccessRate = percent(completed, terminal)
	}
	if checked > 0 {
		report.ValidationSuccessRate = percent(passed, checked)
	}

	if m.measurements != nil {
		measurements, err := m.measurements.ListMeasurements(ctx, compliance.MeasurementFilter{Since: since})
		if err != nil {
			return nil, apperrors.WrapError(err, "failed to list compliance measurements")
		}
		var total, achieved int
		for _, ms := range measurements {
			if ms.Source != compliance.SourceBackup {
				continue
			}
			total++
			if ms.RtoAchieved {
				achieved++
			}
		}
		if total > 0 {
			report.RtoAchievementRate = percent(achieved, total)
		}
	}

	report.Score = round2(0.4*report.BackupSuccessRate + 0.3*report.ValidationSuccessRate + 0.3*report.RtoAchievementRate)

	dependenciesHealthy := true
	m.checkersMu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := m.checkers[name].HealthCheck(ctx); err != nil {
			report.Dependencies[name] = err.Error()
			dependenciesHealthy = false
		} else {
			report.Dependencies[name] = "ok"
		}
	}
	m.checkersMu.RUnlock()

	report.Healthy = report.Score >= m.config.HealthyScore && dependenciesHealthy
	m.metrics.SetHealthScore(report.Score)
	return report, nil
}

// CheckMissingBackups emits a BackupMissing event for every tracked type
// without a completed backup within the threshold. Suppression in the alert
// engine keeps repeated checks from duplicating the alert.
func (m *Manager) CheckMissingBackups(ctx context.Context, now time.Time) ([]monitoring.BackupMissing, error) {
	var missing []monitoring.BackupMissing

	for _, backupType := range m.config.TrackedTypes {
		ops, err := m.store.ListOperations(ctx, OperationFilter{Type: backupType, Status: StatusCompleted, Limit: 1})
		if err != nil {
			return missing, apperrors.WrapError(err, fmt.Sprintf("failed to list %s operations", backupType))
		}

		var last *time.Time
		if len(ops) > 0 && ops[0].CompletedAt != nil {
			last = ops[0].CompletedAt
			if now.Sub(*last) <= m.config.MissingBackupThreshold {
				continue
			}
		}

		event := monitoring.BackupMissing{
			BackupType:      string(backupType),
			LastCompletedAt: last,
			Threshold:       m.config.MissingBackupThreshold,
			CheckedAt:       now,
		}
		missing = append(missing, event)
		m.logger.WithField("backup_type", string(backupType)).Warn("No recent successful backup")
		m.publish(ctx, event)
	}

	return missing, nil
}

// RecentSizes returns sizes of the latest completed backups of a type,
// newest first
func (m *Manager) RecentSizes(ctx context.Context, backupType, excludeOperationID string, limit int) ([]int64, error) {
	ops, err := m.store.ListOperations(ctx, OperationFilter{Type: Type(backupType), Status: StatusCompleted, Limit: limit + 1})
	if err != nil {
		return nil, err
	}
	sizes := make([]int64, 0, limit)
	for _, op := range ops {
		if op.ID == excludeOperationID {
			continue
		}
		if len(sizes) == limit {
			break
		}
		sizes = append(sizes, op.SizeBytes)
	}
	return sizes, nil
}

// GetOperation returns one operation
func (m *Manager) GetOperation(ctx context.Context, id string) (*Operation, error) {
	return m.store.GetOperation(ctx, id)
}

// ListOperations returns operations matching the filter, newest first
func (m *Manager) ListOperations(ctx context.Context, filter OperationFilter) ([]*Operation, error) {
	return m.store.ListOperations(ctx, filter)
}

// ListSnapshots lists provider snapshots
func (m *Manager) ListSnapshots(ctx context.Context) ([]provider.SnapshotInfo, error) {
	callCtx, cancel := apperrors.CreateContextWithTimeout(ctx, m.config.CallTimeout, DefaultConfig().CallTimeout)
	defer cancel()
	return m.provider.ListSnapshots(callCtx)
}

// RestoreSnapshot restores a provider snapshot into targetRef
func (m *Manager) RestoreSnapshot(ctx context.Context, id, targetRef string) (*provider.RestoreResult, error) {
	callCtx, cancel := apperrors.CreateContextWithTimeout(ctx, m.config.CallTimeout, DefaultConfig().CallTimeout)
	defer cancel()
	return m.provider.RestoreSnapshot(callCtx, id, targetRef)
}

// DeleteSnapshot deletes a provider snapshot
func (m *Manager) DeleteSnapshot(ctx context.Context, id string) (bool, error) {
	callCtx, cancel := apperrors.CreateContextWithTimeout(ctx, m.config.CallTimeout, DefaultConfig().CallTimeout)
	defer cancel()
	return m.provider.DeleteSnapshot(callCtx, id)
}

// ApplyRetention deletes provider snapshots whose expiry has passed. With
// dryRun nothing is deleted and the candidates are reported.
func (m *Manager) ApplyRetention(ctx context.Context, dryRun bool) (*RetentionResult, error) {
	snapshots, err := m.ListSnapshots(ctx)
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to list snapshots for retention")
	}

	now := m.now()
	result := &RetentionResult{DryRun: dryRun}
	for _, snap := range snapshots {
		result.Processed++
		if snap.ExpiresAt == nil || snap.ExpiresAt.After(now) {
			result.Kept++
			continue
		}
		if dryRun {
			result.Deleted = append(result.Deleted, snap.ID)
			continue
		}

		deleted, err := m.DeleteSnapshot(ctx, snap.ID)
		switch {
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", snap.ID, err))
		case deleted:
			result.Deleted = append(result.Deleted, snap.ID)
			m.logger.WithFields(map[string]interface{}{
				"snapshot_id": snap.ID,
				"expired_at":  snap.ExpiresAt.Format(time.RFC3339),
			}).Info("Deleted expired snapshot")
		}
	}
	return result, nil
}

// Close stops armed validation timers and waits for running ones
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	timers := m.timers
	m.timers = make(map[string]*time.Timer)
	m.mu.Unlock()

	for _, t := range timers {
		if t.Stop() {
			m.wg.Done()
		}
	}
	m.wg.Wait()
}

// Flush runs every armed validation immediately and waits for it
func (m *Manager) Flush() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.timers))
	for id, t := range m.timers {
		if t.Stop() {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.runDeferred(id)
		m.wg.Done()
	}
	m.wg.Wait()
}

func (m *Manager) publish(ctx context.Context, event monitoring.Event) {
	if m.events != nil {
		m.events.Publish(ctx, event)
	}
}

func percent(n, total int) float64 {
	return round2(100 * float64(n) / float64(total))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
