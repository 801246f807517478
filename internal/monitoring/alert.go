// Package monitoring evaluates backup, drift and drill events against alert
// rules and owns the alert lifecycle: suppression, escalation and
// notification dispatch.
package monitoring

import (
	"context"
	"time"
)

// Severity ranks an alert
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: none < low < medium < high < critical
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AlertType names the rule family that raised an alert
type AlertType string

const (
	AlertBackupFailed     AlertType = "backup_failed"
	AlertSizeAnomaly      AlertType = "size_anomaly"
	AlertDurationExceeded AlertType = "duration_exceeded"
	AlertMissingBackup    AlertType = "missing_backup"
	AlertIntegrityFailure AlertType = "integrity_failure"
	AlertSchemaDrift      AlertType = "schema_drift"
	AlertDrillSLABreach   AlertType = "drill_sla_breach"
)

// AlertStatus is the lifecycle state of an alert. Transitions only move
// forward: active, acknowledged, resolved.
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// Alert is a raised condition awaiting operator attention
type Alert struct {
	ID                string      `json:"id"`
	Type              AlertType   `json:"type"`
	Severity          Severity    `json:"severity"`
	Status            AlertStatus `json:"status"`
	Subject           string      `json:"subject"`
	Title             string      `json:"title"`
	Message           string      `json:"message"`
	CreatedAt         time.Time   `json:"created_at"`
	AcknowledgedAt    *time.Time  `json:"acknowledged_at,omitempty"`
	AcknowledgedBy    string      `json:"acknowledged_by,omitempty"`
	ResolvedAt        *time.Time  `json:"resolved_at,omitempty"`
	ResolvedBy        string      `json:"resolved_by,omitempty"`
	NotificationCount int         `json:"notification_count"`
	EscalationLevel   int         `json:"escalation_level"`
}

// SuppressionKey identifies alerts that suppress each other
func (a *Alert) SuppressionKey() string {
	return suppressionKey(a.Type, a.Subject)
}

func suppressionKey(alertType AlertType, subject string) string {
	return string(alertType) + "/" + subject
}

// AlertRequest asks the engine to raise an alert
type AlertRequest struct {
	Type     AlertType
	Severity Severity
	Subject  string
	Title    string
	Message  string
	// Channels receive the first notification alongside the configured targets
	Channels []string
}

// AlertFilter narrows ListAlerts. Zero values match everything.
type AlertFilter struct {
	Status  AlertStatus
	Type    AlertType
	Subject string
	Limit   int
}

// Matches reports whether an alert passes the filter, ignoring Limit
func (f AlertFilter) Matches(a *Alert) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Subject != "" && a.Subject != f.Subject {
		return false
	}
	return true
}

// AlertStore persists alerts. GetAlert returns a not_found error for
// unknown ids; ListAlerts returns newest first.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *Alert) (*Alert, error)
	UpdateAlert(ctx context.Context, alert *Alert) error
	GetAlert(ctx context.Context, id string) (*Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error)
}
