package backup

import (
	"context"
	"fmt"
	"time"
)

// Type is the kind of backup a policy produces
type Type string

const (
	TypeFull        Type = "full_backup"
	TypeIncremental Type = "incremental_backup"
	TypeSchema      Type = "schema_backup"
)

// Valid reports whether t is a known backup type
func (t Type) Valid() bool {
	switch t {
	case TypeFull, TypeIncremental, TypeSchema:
		return true
	}
	return false
}

// Status is the lifecycle state of a backup operation
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Trigger records what started an operation
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// ValidationStatus is the state of post-backup validation
type ValidationStatus string

const (
	ValidationPending ValidationStatus = "pending"
	ValidationPassed  ValidationStatus = "passed"
	ValidationFailed  ValidationStatus = "failed"
)

// Policy describes a recurring backup
type Policy struct {
	ID            string            `json:"id" yaml:"id" mapstructure:"id"`
	Name          string            `json:"name" yaml:"name" mapstructure:"name"`
	Type          Type              `json:"type" yaml:"type" mapstructure:"type"`
	Schedule      string            `json:"schedule" yaml:"schedule" mapstructure:"schedule"`
	RetentionDays int               `json:"retention_days" yaml:"retention_days" mapstructure:"retention_days"`
	Tags          map[string]string `json:"tags,omitempty" yaml:"tags,omitempty" mapstructure:"tags"`
	Enabled       bool              `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// Validate checks the policy fields. The schedule is parsed by the scheduler.
func (p *Policy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("backup policy id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("backup policy %s: name is required", p.ID)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("backup policy %s: invalid backup type %q", p.ID, p.Type)
	}
	if p.RetentionDays < 0 {
		return fmt.Errorf("backup policy %s: retention days must not be negative", p.ID)
	}
	return nil
}

// ExpiresAt returns when a snapshot taken at t expires; zero means never
func (p *Policy) ExpiresAt(t time.Time) time.Time {
	if p.RetentionDays == 0 {
		return time.Time{}
	}
	return t.Add(time.Duration(p.RetentionDays) * 24 * time.Hour)
}

// Validation is the post-backup integrity check record
type Validation struct {
	Status    ValidationStatus `json:"status"`
	CheckedAt *time.Time       `json:"checked_at,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// Operation is one execution of a backup policy. Only the Manager mutates
// it. Failed operations carry no Validation.
type Operation struct {
	ID          string        `json:"id"`
	PolicyID    string        `json:"policy_id"`
	Type        Type          `json:"type"`
	Status      Status        `json:"status"`
	Trigger     Trigger       `json:"trigger"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`
	SizeBytes   int64         `json:"size_bytes"`
	SnapshotID  string        `json:"snapshot_id,omitempty"`
	Error       string        `json:"error,omitempty"`
	Validation  *Validation   `json:"validation,omitempty"`
}

// OperationFilter narrows ListOperations. Zero values match everything;
// Since compares against StartedAt.
type OperationFilter struct {
	PolicyID string
	Type     Type
	Status   Status
	Since    time.Time
	Limit    int
}

// Matches reports whether an operation passes the filter, ignoring Limit
func (f OperationFilter) Matches(op *Operation) bool {
	if f.PolicyID != "" && op.PolicyID != f.PolicyID {
		return false
	}
	if f.Type != "" && op.Type != f.Type {
		return false
	}
	if f.Status != "" && op.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && op.StartedAt.Before(f.Since) {
		return false
	}
	return true
}

// OperationStore persists backup operations. GetOperation returns a
// not_found error for unknown ids; ListOperations returns newest first.
type OperationStore interface {
	CreateOperation(ctx context.Context, op *Operation) (*Operation, error)
	UpdateOperation(ctx context.Context, op *Operation) error
	GetOperation(ctx context.Context, id string) (*Operation, error)
	ListOperations(ctx context.Context, filter OperationFilter) ([]*Operation, error)
}

// SchemaCapturer takes a schema snapshot after a successful backup
type SchemaCapturer interface {
	CaptureAfterBackup(ctx context.Context, operationID string) error
}

// HealthReport is the on-demand health score of the backup system
type HealthReport struct {
	Score                 float64           `json:"score" yaml:"score"`
	BackupSuccessRate     float64           `json:"backup_success_rate" yaml:"backup_success_rate"`
	ValidationSuccessRate float64           `json:"validation_success_rate" yaml:"validation_success_rate"`
	RtoAchievementRate    float64           `json:"rto_achievement_rate" yaml:"rto_achievement_rate"`
	Operations            int               `json:"operations" yaml:"operations"`
	Dependencies          map[string]string `json:"dependencies" yaml:"dependencies"`
	Healthy               bool              `json:"healthy" yaml:"healthy"`
	Window                time.Duration     `json:"window" yaml:"window"`
	GeneratedAt           time.Time         `json:"generated_at" yaml:"generated_at"`
}

// RetentionResult reports a sweep of expired snapshots
type RetentionResult struct {
	Processed int      `json:"processed"`
	Deleted   []string `json:"deleted"`
	Kept      int      `json:"kept"`
	Errors    []string `json:"errors,omitempty"`
	DryRun    bool     `json:"dry_run"`
}
