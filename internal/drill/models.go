// Package drill runs scripted disaster-recovery rehearsals step by step,
// measures the recovery time and point actually achieved and scores each
// execution.
package drill

import (
	"context"
	"fmt"
	"time"
)

// Type is the kind of rehearsal a configuration runs
type Type string

const (
	TypeFailover Type = "failover"
	TypeRestore  Type = "restore"
	TypeFullDR   Type = "full_dr"
)

// StepType selects the executor of a step
type StepType string

const (
	StepFailover    StepType = "failover"
	StepRestore     StepType = "restore"
	StepValidate    StepType = "validate"
	StepHealthCheck StepType = "health_check"
	StepCleanup     StepType = "cleanup"
)

// Valid reports whether t is a known step type
func (t StepType) Valid() bool {
	switch t {
	case StepFailover, StepRestore, StepValidate, StepHealthCheck, StepCleanup:
		return true
	}
	return false
}

// Status is the state of an execution
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Trigger records what started an execution
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// ValidationCriteria are the checks of a validate step. MaxDuration bounds
// the execution time elapsed when the step runs.
type ValidationCriteria struct {
	MinTables      int           `json:"min_tables,omitempty" yaml:"min_tables,omitempty" mapstructure:"min_tables"`
	RequiredTables []string      `json:"required_tables,omitempty" yaml:"required_tables,omitempty" mapstructure:"required_tables"`
	MaxDuration    time.Duration `json:"max_duration,omitempty" yaml:"max_duration,omitempty" mapstructure:"max_duration"`
}

// Step is one scripted action of a scenario
type Step struct {
	ID                string              `json:"id" yaml:"id" mapstructure:"id"`
	Name              string              `json:"name" yaml:"name" mapstructure:"name"`
	Type              StepType            `json:"type" yaml:"type" mapstructure:"type"`
	ExpectedDuration  time.Duration       `json:"expected_duration,omitempty" yaml:"expected_duration,omitempty" mapstructure:"expected_duration"`
	Timeout           time.Duration       `json:"timeout,omitempty" yaml:"timeout,omitempty" mapstructure:"timeout"`
	ContinueOnFailure bool                `json:"continue_on_failure" yaml:"continue_on_failure" mapstructure:"continue_on_failure"`
	Criteria          *ValidationCriteria `json:"criteria,omitempty" yaml:"criteria,omitempty" mapstructure:"criteria"`
}

// Scenario is an ordered list of steps
type Scenario struct {
	ID    string `json:"id" yaml:"id" mapstructure:"id"`
	Name  string `json:"name" yaml:"name" mapstructure:"name"`
	Steps []Step `json:"steps" yaml:"steps" mapstructure:"steps"`
}

// Validate checks the scenario and its steps
func (s *Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scenario id is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %s: at least one step is required", s.ID)
	}
	seen := make(map[string]bool, len(s.Steps))
	for i, step := range s.Steps {
		if step.ID == "" {
			return fmt.Errorf("scenario %s: step %d has no id", s.ID, i+1)
		}
		if seen[step.ID] {
			return fmt.Errorf("scenario %s: duplicate step id %s", s.ID, step.ID)
		}
		seen[step.ID] = true
		if !step.Type.Valid() {
			return fmt.Errorf("scenario %s: step %s has invalid type %q", s.ID, step.ID, step.Type)
		}
		if step.Timeout < 0 || step.ExpectedDuration < 0 {
			return fmt.Errorf("scenario %s: step %s durations must not be negative", s.ID, step.ID)
		}
		if step.Criteria != nil && (step.Criteria.MinTables < 0 || step.Criteria.MaxDuration < 0) {
			return fmt.Errorf("scenario %s: step %s criteria must not be negative", s.ID, step.ID)
		}
	}
	return nil
}

// Configuration binds a scenario to targets, a schedule and objectives
type Configuration struct {
	ID                   string   `json:"id" yaml:"id" mapstructure:"id"`
	Name                 string   `json:"name" yaml:"name" mapstructure:"name"`
	Type                 Type     `json:"type" yaml:"type" mapstructure:"type"`
	ScenarioID           string   `json:"scenario_id" yaml:"scenario_id" mapstructure:"scenario_id"`
	ExpectedRtoSeconds   float64  `json:"expected_rto_seconds" yaml:"expected_rto_seconds" mapstructure:"expected_rto_seconds"`
	ExpectedRpoSeconds   float64  `json:"expected_rpo_seconds" yaml:"expected_rpo_seconds" mapstructure:"expected_rpo_seconds"`
	Schedule             string   `json:"schedule,omitempty" yaml:"schedule,omitempty" mapstructure:"schedule"`
	Enabled              bool     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	NotificationChannels []string `json:"notification_channels,omitempty" yaml:"notification_channels,omitempty" mapstructure:"notification_channels"`
	TargetRef            string   `json:"target_ref" yaml:"target_ref" mapstructure:"target_ref"`
}

// Validate checks the configuration fields. The schedule is parsed by the
// scheduler.
func (c *Configuration) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("drill configuration id is required")
	}
	switch c.Type {
	case TypeFailover, TypeRestore, TypeFullDR:
	default:
		return fmt.Errorf("drill configuration %s: invalid drill type %q", c.ID, c.Type)
	}
	if c.ScenarioID == "" {
		return fmt.Errorf("drill configuration %s: scenario is required", c.ID)
	}
	if c.ExpectedRtoSeconds <= 0 || c.ExpectedRpoSeconds < 0 {
		return fmt.Errorf("drill configuration %s: expected RTO must be positive and RPO non-negative", c.ID)
	}
	if c.TargetRef == "" {
		return fmt.Errorf("drill configuration %s: target reference is required", c.ID)
	}
	return nil
}

// StepOutput is the typed result of a step executor
type StepOutput struct {
	SnapshotID     string `json:"snapshot_id,omitempty"`
	RestoredRef    string `json:"restored_ref,omitempty"`
	TablesVerified int    `json:"tables_verified,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

// StepResult records one executed step
type StepResult struct {
	StepID    string        `json:"step_id"`
	Name      string        `json:"name"`
	Type      StepType      `json:"type"`
	Success   bool          `json:"success"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	Output    StepOutput    `json:"output"`
}

// Execution is one run of a configuration. It does not change once its
// status is terminal.
type Execution struct {
	ID            string       `json:"id"`
	ConfigID      string       `json:"config_id"`
	ScenarioID    string       `json:"scenario_id"`
	Status        Status       `json:"status"`
	Trigger       Trigger      `json:"trigger"`
	CreatedAt     time.Time    `json:"created_at"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
	StepResults   []StepResult `json:"step_results"`
	ActualRto     float64      `json:"actual_rto"`
	ActualRpo     float64      `json:"actual_rpo"`
	RtoAchieved   bool         `json:"rto_achieved"`
	RpoAchieved   bool         `json:"rpo_achieved"`
	SuccessScore  int          `json:"success_score"`
	FailureReason string       `json:"failure_reason,omitempty"`
	CancelledBy   string       `json:"cancelled_by,omitempty"`
}

// ExecutionFilter narrows ListExecutions. Zero values match everything.
type ExecutionFilter struct {
	ConfigID string
	Status   Status
	Limit    int
}

// Matches reports whether an execution passes the filter, ignoring Limit
func (f ExecutionFilter) Matches(e *Execution) bool {
	if f.ConfigID != "" && e.ConfigID != f.ConfigID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	return true
}

// Store persists configurations, scenarios and executions. Getters return a
// not_found error for unknown ids; ListExecutions returns newest first.
type Store interface {
	SaveConfiguration(ctx context.Context, cfg *Configuration) error
	GetConfiguration(ctx context.Context, id string) (*Configuration, error)
	ListConfigurations(ctx context.Context) ([]*Configuration, error)
	SaveScenario(ctx context.Context, scenario *Scenario) error
	GetScenario(ctx context.Context, id string) (*Scenario, error)
	CreateExecution(ctx context.Context, exec *Execution) (*Execution, error)
	UpdateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)
}
