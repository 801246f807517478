package monitoring

import (
	"context"
	"fmt"
	"math"
	"time"
)

// History supplies past backup sizes to the size anomaly rule
type History interface {
	// RecentSizes returns the sizes of the most recent completed backups of
	// backupType, newest first, excluding excludeOperationID
	RecentSizes(ctx context.Context, backupType, excludeOperationID string, limit int) ([]int64, error)
}

// RuleConfig holds the tunable thresholds of the built-in rules
type RuleConfig struct {
	SizeAnomalyWindow    int                      `yaml:"size_anomaly_window" mapstructure:"size_anomaly_window"`
	SizeAnomalyThreshold float64                  `yaml:"size_anomaly_threshold" mapstructure:"size_anomaly_threshold"`
	ExpectedDurations    map[string]time.Duration `yaml:"expected_durations" mapstructure:"expected_durations"`
	DurationFactor       float64                  `yaml:"duration_factor" mapstructure:"duration_factor"`
}

// MinSizeAnomalyWindow is the smallest history the size rule compares against
const MinSizeAnomalyWindow = 3

// DefaultRuleConfig returns the standard thresholds
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		SizeAnomalyWindow:    5,
		SizeAnomalyThreshold: 0.5,
		DurationFactor:       2,
		ExpectedDurations: map[string]time.Duration{
			"full_backup":        30 * time.Minute,
			"incremental_backup": 10 * time.Minute,
			"schema_backup":      2 * time.Minute,
		},
	}
}

// Validate checks the thresholds
func (c RuleConfig) Validate() error {
	if c.SizeAnomalyWindow < MinSizeAnomalyWindow {
		return fmt.Errorf("size anomaly window must be at least %d, got %d", MinSizeAnomalyWindow, c.SizeAnomalyWindow)
	}
	if c.SizeAnomalyThreshold <= 0 {
		return fmt.Errorf("size anomaly threshold must be positive")
	}
	if c.DurationFactor <= 0 {
		return fmt.Errorf("duration factor must be positive")
	}
	for backupType, d := range c.ExpectedDurations {
		if d <= 0 {
			return fmt.Errorf("expected duration for %s must be positive", backupType)
		}
	}
	return nil
}

// Rule turns a matching event into at most one alert request
type Rule struct {
	Name        string
	Description string
	Threshold   float64
	AlertType   AlertType
	Severity    Severity
	Kind        EventKind

	evaluate func(ctx context.Context, event Event) (*AlertRequest, error)
}

// Evaluate returns the alert request for the event, or nil when the
// condition does not hold
func (r Rule) Evaluate(ctx context.Context, event Event) (*AlertRequest, error) {
	if event.Kind() != r.Kind || r.evaluate == nil {
		return nil, nil
	}
	return r.evaluate(ctx, event)
}

// DefaultRules builds the built-in rule set. history may be nil, which
// disables the size anomaly rule.
func DefaultRules(cfg RuleConfig, history History) []Rule {
	rules := []Rule{
		backupFailedRule(),
		durationRule(cfg),
		missingBackupRule(),
		integrityRule(),
		schemaDriftRule(),
		drillSLARule(),
	}
	if history != nil {
		rules = append(rules, sizeAnomalyRule(cfg, history))
	}
	return rules
}

func backupFailedRule() Rule {
	return Rule{
		Name:        "backup-failed",
		Description: "a backup operation failed",
		AlertType:   AlertBackupFailed,
		Severity:    SeverityHigh,
		Kind:        EventBackupFailed,
		evaluate: func(ctx context.Context, event Event) (*AlertRequest, error) {
			e := event.(BackupFailed)
			return &AlertRequest{
				Type:     AlertBackupFailed,
				Severity: SeverityHigh,
				Subject:  e.PolicyID,
				Title:    fmt.Sprintf("Backup failed: %s", e.BackupType),
				Message:  fmt.Sprintf("Operation %s of policy %s failed: %s", e.OperationID, e.PolicyID, e.Error),
			}, nil
		},
	}
}

func sizeAnomalyRule(cfg RuleConfig, history History) Rule {
	window := cfg.SizeAnomalyWindow
	if window < MinSizeAnomalyWindow {
		window = MinSizeAnomalyWindow
	}

	return Rule{
		Name:        "size-anomaly",
		Description: fmt.Sprintf("backup size deviates from the mean of the last %d backups of the same type", window),
		Threshold:   cfg.SizeAnomalyThreshold,
		AlertType:   AlertSizeAnomaly,
		Severity:    SeverityMedium,
		Kind:        EventBackupCompleted,
		evaluate: func(ctx context.Context, event Event) (*AlertRequest, error) {
			e := event.(BackupCompleted)
			sizes, err := history.RecentSizes(ctx, e.BackupType, e.OperationID, window)
			if err != nil {
				return nil, fmt.Errorf("failed to load backup history: %w", err)
			}
			if len(sizes) < MinSizeAnomalyWindow {
				return nil, nil
			}

			var total float64
			for _, s := range sizes {
				total += float64(s)
			}
			mean := total / float64(len(sizes))
			if mean == 0 {
				return nil, nil
			}

			deviation := math.Abs(float64(e.SizeBytes)-mean) / mean
			if deviation <= cfg.SizeAnomalyThreshold {
				return nil, nil
			}

			return &AlertRequest{
				Type:     AlertSizeAnomaly,
				Severity: SeverityMedium,
				Subject:  e.OperationID,
				Title:    fmt.Sprintf("Backup size anomaly: %s", e.BackupType),
				Message: fmt.Sprintf("Backup %s is %d bytes, %.0f%% away from the recent mean of %.0f bytes",
					e.OperationID, e.SizeBytes, deviation*100, mean),
			}, nil
		},
	}
}

func durationRule(cfg RuleConfig) Rule {
	return Rule{
		Name:        "duration-exceeded",
		Description: "backup took longer than its expected duration times the factor",
		Threshold:   cfg.DurationFactor,
		AlertType:   AlertDurationExceeded,
		Severity:    SeverityMedium,
		Kind:        EventBackupCompleted,
		evaluate: func(ctx context.Context, event Event) (*AlertRequest, error) {
			e := event.(BackupCompleted)
			expected, ok := cfg.ExpectedDurations[e.BackupType]
			if !ok {
				return nil, nil
			}
			limit := time.Duration(float64(expected) * cfg.DurationFactor)
			if e.Duration <= limit {
				return nil, nil
			}
			return &AlertRequest{
				Type:     AlertDurationExceeded,
				Severity: SeverityMedium,
				Subject:  e.OperationID,
				Title:    fmt.Sprintf("Backup duration exceeded: %s", e.BackupType),
				Message: fmt.Sprintf("Backup %s took %s, expected at most %s",
					e.OperationID, e.Duration.Round(time.Second), limit),
			}, nil
		},
	}
}

func missingBackupRule() Rule {
	return Rule{
		Name:        "missing-backup",
		Description: "no successful backup of a tracked type within the threshold",
		AlertType:   AlertMissingBackup,
		Severity:    SeverityCritical,
		Kind:        EventBackupMissing,
		evaluate: func(ctx context.Context, event Event) (*AlertRequest, error) {
			e := event.(BackupMissing)
			last := "never"
			if e.LastCompletedAt != nil {
				last = e.LastCompletedAt.Format(time.RFC3339)
			}
			return &AlertRequest{
				Type:     AlertMissingBackup,
				Severity: SeverityCritical,
				Subject:  e.BackupType,
				Title:    fmt.Sprintf("Missing backup: %s", e.BackupType),
				Message: fmt.Sprintf("No %s completed in the last %s (last success: %s)",
					e.BackupType, e.Threshold, last),
			}, nil
		},
	}
}

func integrityRule() Rule {
	return Rule{
		Name:        "integrity-failure",
		Description: "post-backup validation rejected the snapshot",
		AlertType:   AlertIntegrityFailure,
		Severity:    SeverityCritical,
		Kind:        EventValidationFailed,
		evaluate: func(ctx context.Context, event Event) (*AlertRequest, error) {
			e := event.(ValidationFailed)
			return &AlertRequest{
				Type:     AlertIntegrityFailure,
				Severity: SeverityCritical,
				Subject:  e.OperationID,
				Title:    "Backup integrity check failed",
				Message:  fmt.Sprintf("Snapshot %s of operation %s failed validation: %s", e.SnapshotID, e.OperationID, e.Reason),
			}, nil
		},
	}
}

func schemaDriftRule() Rule {
	return Rule{
		Name:        "schema-drift",
		Description: "a breaking or medium-risk schema change was captured",
		AlertType:   AlertSchemaDrift,
		Severity:    SeverityHigh,
		Kind:        EventDriftDetected,
		evaluate: func(ctx context.Context, event Event) (*AlertRequest, error) {
			e := event.(DriftDetected)

			var severity Severity
			switch {
			case e.Breaking:
				severity = SeverityHigh
			case e.RiskLevel.Rank() >= SeverityMedium.Rank():
				severity = SeverityMedium
			default:
				return nil, nil
			}

			title := fmt.Sprintf("Schema drift on %s", e.Database)
			if e.Breaking {
				title = fmt.Sprintf("Breaking schema drift on %s", e.Database)
			}
			return &AlertRequest{
				Type:     AlertSchemaDrift,
				Severity: severity,
				Subject:  e.Database,
				Title:    title,
				Message: fmt.Sprintf("Version %d -> %d: %d changes, risk %s. %s",
					e.FromVersion, e.ToVersion, e.ChangeCount, e.RiskLevel, e.Summary),
			}, nil
		},
	}
}

func drillSLARule() Rule {
	return Rule{
		Name:        "drill-sla-breach",
		Description: "a drill failed or missed its RTO/RPO target",
		AlertType:   AlertDrillSLABreach,
		Severity:    SeverityHigh,
		Kind:        EventDrillCompleted,
		evaluate: func(ctx context.Context, event Event) (*AlertRequest, error) {
			e := event.(DrillCompleted)

			var reason string
			switch {
			case e.Status == "cancelled":
				return nil, nil
			case e.Status == "failed":
				reason = fmt.Sprintf("drill failed: %s", e.FailureReason)
			case !e.RtoAchieved && !e.RpoAchieved:
				reason = fmt.Sprintf("RTO %.0fs > %.0fs and RPO %.0fs > %.0fs", e.ActualRto, e.ExpectedRto, e.ActualRpo, e.ExpectedRpo)
			case !e.RtoAchieved:
				reason = fmt.Sprintf("RTO %.0fs > %.0fs", e.ActualRto, e.ExpectedRto)
			case !e.RpoAchieved:
				reason = fmt.Sprintf("RPO %.0fs > %.0fs", e.ActualRpo, e.ExpectedRpo)
			default:
				return nil, nil
			}

			return &AlertRequest{
				Type:     AlertDrillSLABreach,
				Severity: SeverityHigh,
				Subject:  e.ConfigID,
				Title:    fmt.Sprintf("Drill SLA breach: %s", e.ConfigID),
				Message:  fmt.Sprintf("Execution %s (score %d): %s", e.ExecutionID, e.SuccessScore, reason),
				Channels: e.Channels,
			}, nil
		},
	}
}
