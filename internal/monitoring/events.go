package monitoring

import (
	"context"
	"time"
)

// EventKind identifies the producer-side occurrence an Event describes
type EventKind string

const (
	EventBackupCompleted  EventKind = "backup_completed"
	EventBackupFailed     EventKind = "backup_failed"
	EventBackupMissing    EventKind = "backup_missing"
	EventValidationFailed EventKind = "validation_failed"
	EventDriftDetected    EventKind = "drift_detected"
	EventDrillCompleted   EventKind = "drill_completed"
)

// Event is a typed occurrence that rules evaluate
type Event interface {
	Kind() EventKind
}

// Publisher accepts events from the backup, drift and drill components
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// BackupCompleted is emitted when a backup operation completes
type BackupCompleted struct {
	OperationID string
	PolicyID    string
	BackupType  string
	SizeBytes   int64
	Duration    time.Duration
	CompletedAt time.Time
}

func (BackupCompleted) Kind() EventKind { return EventBackupCompleted }

// BackupFailed is emitted when a backup operation fails
type BackupFailed struct {
	OperationID string
	PolicyID    string
	BackupType  string
	Error       string
	FailedAt    time.Time
}

func (BackupFailed) Kind() EventKind { return EventBackupFailed }

// BackupMissing is emitted when no backup of a tracked type completed within
// the threshold. LastCompletedAt is nil when none was ever recorded.
type BackupMissing struct {
	BackupType      string
	LastCompletedAt *time.Time
	Threshold       time.Duration
	CheckedAt       time.Time
}

func (BackupMissing) Kind() EventKind { return EventBackupMissing }

// ValidationFailed is emitted when post-backup validation rejects a snapshot
type ValidationFailed struct {
	OperationID string
	SnapshotID  string
	Reason      string
}

func (ValidationFailed) Kind() EventKind { return EventValidationFailed }

// DriftDetected is emitted when a capture produced a non-empty diff
type DriftDetected struct {
	Database    string
	FromVersion int
	ToVersion   int
	RiskLevel   Severity
	Breaking    bool
	ChangeCount int
	Summary     string
}

func (DriftDetected) Kind() EventKind { return EventDriftDetected }

// DrillCompleted is emitted when a drill execution reaches a terminal status
type DrillCompleted struct {
	ExecutionID   string
	ConfigID      string
	Status        string
	ActualRto     float64
	ActualRpo     float64
	ExpectedRto   float64
	ExpectedRpo   float64
	RtoAchieved   bool
	RpoAchieved   bool
	SuccessScore  int
	FailureReason string
	// Channels are notified in addition to the engine's first level targets
	Channels      []string
}

func (DrillCompleted) Kind() EventKind { return EventDrillCompleted }
