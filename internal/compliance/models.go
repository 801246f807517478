// Package compliance rolls RTO/RPO measurements from drills and backups up
// into per-target compliance metrics, trends and risk levels.
package compliance

import (
	"context"
	"fmt"
	"time"
)

// Criticality is the business importance of a target
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// Source identifies what produced a measurement
type Source string

const (
	SourceDrill  Source = "drill"
	SourceBackup Source = "backup"
)

// Trend is the direction of recovery times over the recent window
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// RiskLevel summarizes how far a target is from compliance
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Target is an RTO/RPO objective for one service
type Target struct {
	ID          string      `json:"id" yaml:"id" mapstructure:"id"`
	Service     string      `json:"service" yaml:"service" mapstructure:"service"`
	RtoSeconds  float64     `json:"rto_seconds" yaml:"rto_seconds" mapstructure:"rto_seconds"`
	RpoSeconds  float64     `json:"rpo_seconds" yaml:"rpo_seconds" mapstructure:"rpo_seconds"`
	Criticality Criticality `json:"criticality" yaml:"criticality" mapstructure:"criticality"`
}

// Validate checks the target's fields
func (t *Target) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("target id is required")
	}
	if t.Service == "" {
		return fmt.Errorf("target %s: service is required", t.ID)
	}
	if t.RtoSeconds <= 0 || t.RpoSeconds < 0 {
		return fmt.Errorf("target %s: rto must be positive and rpo non-negative", t.ID)
	}
	switch t.Criticality {
	case CriticalityLow, CriticalityMedium, CriticalityHigh, CriticalityCritical:
	default:
		return fmt.Errorf("target %s: invalid criticality %q", t.ID, t.Criticality)
	}
	return nil
}

// Measurement is one observed recovery against a target. The achieved
// flags always agree with the target at recording time.
type Measurement struct {
	ID          string    `json:"id"`
	TargetID    string    `json:"target_id"`
	Source      Source    `json:"source"`
	SourceID    string    `json:"source_id"`
	ActualRto   float64   `json:"actual_rto"`
	ActualRpo   float64   `json:"actual_rpo"`
	RtoAchieved bool      `json:"rto_achieved"`
	RpoAchieved bool      `json:"rpo_achieved"`
	MeasuredAt  time.Time `json:"measured_at"`
}

// Compliant reports whether both targets were achieved
func (m *Measurement) Compliant() bool {
	return m.RtoAchieved && m.RpoAchieved
}

// MeasurementInput is what producers report. Achieved flags are derived.
type MeasurementInput struct {
	TargetID   string
	Source     Source
	SourceID   string
	ActualRto  float64
	ActualRpo  float64
	MeasuredAt time.Time
}

// MeasurementFilter narrows ListMeasurements. Zero values match everything.
type MeasurementFilter struct {
	TargetID string
	Since    time.Time
	Limit    int
}

// Matches reports whether a measurement passes the filter, ignoring Limit
func (f MeasurementFilter) Matches(m *Measurement) bool {
	if f.TargetID != "" && m.TargetID != f.TargetID {
		return false
	}
	if !f.Since.IsZero() && m.MeasuredAt.Before(f.Since) {
		return false
	}
	return true
}

// Store persists targets and measurements. ListMeasurements returns newest
// first; GetTarget returns a not_found error for unknown ids.
type Store interface {
	SaveTarget(ctx context.Context, target *Target) error
	GetTarget(ctx context.Context, id string) (*Target, error)
	ListTargets(ctx context.Context) ([]*Target, error)
	CreateMeasurement(ctx context.Context, m *Measurement) (*Measurement, error)
	ListMeasurements(ctx context.Context, filter MeasurementFilter) ([]*Measurement, error)
}

// Recorder accepts measurements from drills and backups
type Recorder interface {
	RecordMeasurement(ctx context.Context, input MeasurementInput) (*Measurement, error)
}

// Mapping binds backup policy and drill configuration ids to the targets
// their measurements count against
type Mapping map[string][]string

// TargetsFor returns the target ids mapped to a producer id
func (m Mapping) TargetsFor(id string) []string {
	if m == nil {
		return nil
	}
	return m[id]
}

// TargetMetrics is the compliance rollup of one target
type TargetMetrics struct {
	Target           Target     `json:"target" yaml:"target"`
	CurrentRto       *float64   `json:"current_rto,omitempty" yaml:"current_rto,omitempty"`
	CurrentRpo       *float64   `json:"current_rpo,omitempty" yaml:"current_rpo,omitempty"`
	AvgRto30d        float64    `json:"avg_rto_30d" yaml:"avg_rto_30d"`
	AvgRpo30d        float64    `json:"avg_rpo_30d" yaml:"avg_rpo_30d"`
	MeasurementCount int        `json:"measurement_count" yaml:"measurement_count"`
	ComplianceScore  float64    `json:"compliance_score" yaml:"compliance_score"`
	Trend            Trend      `json:"trend" yaml:"trend"`
	RiskLevel        RiskLevel  `json:"risk_level" yaml:"risk_level"`
	LastMeasuredAt   *time.Time `json:"last_measured_at,omitempty" yaml:"last_measured_at,omitempty"`
}

// Report is the rollup of every target
type Report struct {
	GeneratedAt  time.Time       `json:"generated_at" yaml:"generated_at"`
	OverallScore float64         `json:"overall_score" yaml:"overall_score"`
	Targets      []TargetMetrics `json:"targets" yaml:"targets"`
}
