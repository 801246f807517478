// Package metrics exposes Prometheus instrumentation for backups, drift
// capture, drills, alerts and compliance.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns every collector. A nil *Recorder is valid and records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer

	BackupOperations  *prometheus.CounterVec
	BackupDuration    *prometheus.HistogramVec
	BackupSize        *prometheus.GaugeVec
	ValidationResults *prometheus.CounterVec
	HealthScore       prometheus.Gauge

	DriftCaptures *prometheus.CounterVec
	DriftChanges  *prometheus.CounterVec
	SchemaVersion *prometheus.GaugeVec

	DrillExecutions *prometheus.CounterVec
	DrillScore      *prometheus.GaugeVec
	DrillRTO        *prometheus.GaugeVec
	DrillRPO        *prometheus.GaugeVec
	DrillStepTotal  *prometheus.CounterVec

	AlertsCreated     *prometheus.CounterVec
	AlertsSuppressed  *prometheus.CounterVec
	AlertTransitions  *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec

	CircuitBreakerState    *prometheus.GaugeVec
	CircuitBreakerRequests *prometheus.CounterVec

	ComplianceScore *prometheus.GaugeVec
}

// NewRecorder registers all collectors with reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		gatherer: reg,

		BackupOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbr_backup_operations_total",
				Help: "Backup operations by type and terminal status",
			},
			[]string{"type", "status"},
		),
		BackupDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbr_backup_duration_seconds",
				Help:    "Duration of backup operations",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 600, 1800, 3600},
			},
			[]string{"type"},
		),
		BackupSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbr_backup_last_size_bytes",
				Help: "Size of the most recent completed backup",
			},
			[]string{"type"},
		),
		ValidationResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbr_backup_validations_total",
				Help: "Post-backup validations by result",
			},
			[]string{"result"},
		),
		HealthScore: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dbr_backup_health_score",
				Help: "Most recently computed backup health score (0-100)",
			},
		),

		DriftCaptures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbr_schema_captures_total",
				Help: "Schema captures by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		DriftChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbr_schema_drift_changes_total",
				Help: "Detected schema changes by severity",
			},
			[]string{"severity"},
		),
		SchemaVersion: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbr_schema_version",
				Help: "Current schema version per database",
			},
			[]string{"database"},
		),

		DrillExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbr_drill_executions_total",
				Help: "Drill executions by configuration and terminal status",
			},
			[]string{"config", "status"},
		),
		DrillScore: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbr_drill_success_score",
				Help: "Success score of the latest drill execution",
			},
			[]string{"config"},
		),
		DrillRTO: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbr_drill_actual_rto_seconds",
				Help: "Measured RTO of the latest drill execution",
			},
			[]string{"config"},
		),
		DrillRPO: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbr_drill_actual_rpo_seconds",
				Help: "Measured RPO of the latest drill execution",
			},
			[]string{"config"},
		),
		DrillStepTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbr_drill_steps_total",
				Help: "Drill steps by type and outcome",
			},
			[]string{"type", "outcome"},
		),

		AlertsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbr_alerts_created_total",
				Help: "Alerts created by type and severity",
			},
			[]string{"type", "severity"},
		),
		AlertsSuppressed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbr_alerts_suppressed_total",
				Help: "Alert occurrences dropped inside the suppression window",
			},
			[]string{"type"},
		),
		AlertTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbr_alert_transitions_total",
				Help: "Alert lifecycle transitions",
			},
			[]string{"to"},
		),
		NotificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbr_notifications_total",
				Help: "Notification dispatches by channel and result",
			},
			[]string{"channel", "result"},
		),

		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbr_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		CircuitBreakerRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbr_circuit_breaker_requests_total",
				Help: "Requests through a circuit breaker by result",
			},
			[]string{"name", "result"},
		),

		ComplianceScore: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbr_compliance_score",
				Help: "RTO/RPO compliance score per target",
			},
			[]string{"target"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// ObserveBackup records a finished backup operation
func (r *Recorder) ObserveBackup(backupType, status string, duration time.Duration, size int64) {
	if r == nil {
		return
	}
	r.BackupOperations.WithLabelValues(backupType, status).Inc()
	r.BackupDuration.WithLabelValues(backupType).Observe(duration.Seconds())
	if status == "completed" {
		r.BackupSize.WithLabelValues(backupType).Set(float64(size))
	}
}

// ObserveValidation records a post-backup validation result
func (r *Recorder) ObserveValidation(passed bool) {
	if r == nil {
		return
	}
	r.ValidationResults.WithLabelValues(outcome(passed, "passed", "failed")).Inc()
}

// SetHealthScore publishes the latest health score
func (r *Recorder) SetHealthScore(score float64) {
	if r == nil {
		return
	}
	r.HealthScore.Set(score)
}

// ObserveCapture records a schema capture and its change severities
func (r *Recorder) ObserveCapture(database, trigger string, version int, severities map[string]int, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.DriftCaptures.WithLabelValues(trigger, "error").Inc()
		return
	}
	r.DriftCaptures.WithLabelValues(trigger, "ok").Inc()
	r.SchemaVersion.WithLabelValues(database).Set(float64(version))
	for severity, count := range severities {
		r.DriftChanges.WithLabelValues(severity).Add(float64(count))
	}
}

// ObserveDrillStep records one drill step outcome
func (r *Recorder) ObserveDrillStep(stepType string, success bool) {
	if r == nil {
		return
	}
	r.DrillStepTotal.WithLabelValues(stepType, outcome(success, "success", "failure")).Inc()
}

// ObserveDrill records a terminal drill execution
func (r *Recorder) ObserveDrill(configID, status string, score int, rto, rpo float64) {
	if r == nil {
		return
	}
	r.DrillExecutions.WithLabelValues(configID, status).Inc()
	r.DrillScore.WithLabelValues(configID).Set(float64(score))
	r.DrillRTO.WithLabelValues(configID).Set(rto)
	r.DrillRPO.WithLabelValues(configID).Set(rpo)
}

// ObserveAlertCreated records a created alert
func (r *Recorder) ObserveAlertCreated(alertType, severity string) {
	if r == nil {
		return
	}
	r.AlertsCreated.WithLabelValues(alertType, severity).Inc()
}

// ObserveAlertSuppressed records a dropped duplicate
func (r *Recorder) ObserveAlertSuppressed(alertType string) {
	if r == nil {
		return
	}
	r.AlertsSuppressed.WithLabelValues(alertType).Inc()
}

// ObserveAlertTransition records an acknowledge or resolve
func (r *Recorder) ObserveAlertTransition(to string) {
	if r == nil {
		return
	}
	r.AlertTransitions.WithLabelValues(to).Inc()
}

// ObserveNotification records a dispatch attempt
func (r *Recorder) ObserveNotification(channel string, delivered bool) {
	if r == nil {
		return
	}
	r.NotificationsSent.WithLabelValues(channel, outcome(delivered, "delivered", "failed")).Inc()
}

// SetBreakerState publishes a circuit breaker state as 0, 1 or 2
func (r *Recorder) SetBreakerState(name string, state float64) {
	if r == nil {
		return
	}
	r.CircuitBreakerState.WithLabelValues(name).Set(state)
}

// ObserveBreakerRequest records success, failure or rejected
func (r *Recorder) ObserveBreakerRequest(name, result string) {
	if r == nil {
		return
	}
	r.CircuitBreakerRequests.WithLabelValues(name, result).Inc()
}

// SetComplianceScore publishes a target's compliance score
func (r *Recorder) SetComplianceScore(target string, score float64) {
	if r == nil {
		return
	}
	r.ComplianceScore.WithLabelValues(target).Set(score)
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
