package config

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"db-resilience/internal/backup"
	"db-resilience/internal/compliance"
	"db-resilience/internal/database"
	"db-resilience/internal/drill"
	"db-resilience/internal/monitoring"
	"db-resilience/internal/notify"
)

var sectionComments = map[string]string{
	"database":      "Protected database. Prefer DBR_DATABASE_PASSWORD over a password in this file.",
	"state":         "Where operations, schema versions, drill executions, alerts and measurements are kept (memory or sql).",
	"drill_targets": "Restore targets that drills validate after restoring a snapshot, keyed by target_ref.",
	"provider":      "Snapshot provider: rds for managed instances, artifact for schema artifacts in object storage.",
	"backup":        "Backup policies use standard five-field cron schedules. retention_days 0 keeps snapshots forever.",
	"drift":         "Scheduled schema captures. A capture also runs after every successful backup.",
	"drills":        "DR drills. Each configuration runs the steps of one scenario against its target_ref.",
	"alerts":        "Alert suppression, escalation and rule thresholds. Channels must have a notify section.",
	"notify":        "Notification channels. Omit a section to disable its channel.",
	"compliance":    "RTO/RPO targets in seconds and which backup policies and drills report against them.",
	"logging":       "Log level is one of quiet, normal, verbose, debug. Format is text or json.",
	"metrics":       "Prometheus endpoint served by the serve command.",
	"display":       "Command output: output_format is table, json, yaml or compact; theme is dark, light, high-contrast or plain.",
}

// Example returns a complete sample configuration
func Example() AppConfig {
	cfg := Default()

	cfg.Database = database.DatabaseConfig{
		Driver:   database.DriverMySQL,
		Host:     "localhost",
		Port:     3306,
		Username: "resilience",
		Database: "orders",
		Timeout:  30 * time.Second,
	}
	cfg.DrillTargets = map[string]database.DatabaseConfig{
		"orders-restore": {
			Driver:   database.DriverMySQL,
			Host:     "orders-restore.internal",
			Port:     3306,
			Username: "resilience",
			Database: "orders",
			Timeout:  30 * time.Second,
		},
	}

	cfg.Backup.Policies = []backup.Policy{
		{
			ID:            "nightly-full",
			Name:          "Nightly full backup",
			Type:          backup.TypeFull,
			Schedule:      "0 2 * * *",
			RetentionDays: 14,
			Tags:          map[string]string{"team": "dba"},
			Enabled:       true,
		},
		{
			ID:            "hourly-schema",
			Name:          "Hourly schema backup",
			Type:          backup.TypeSchema,
			Schedule:      "15 * * * *",
			RetentionDays: 3,
			Enabled:       true,
		},
	}
	cfg.Drift.Schedule = "*/30 * * * *"

	cfg.Drills.Scenarios = []drill.Scenario{
		{
			ID:   "restore-and-verify",
			Name: "Restore latest snapshot and verify",
			Steps: []drill.Step{
				{ID: "restore", Name: "Restore latest snapshot", Type: drill.StepRestore, Timeout: 45 * time.Minute},
				{ID: "health", Name: "Target answers", Type: drill.StepHealthCheck, Timeout: time.Minute},
				{
					ID:                "validate",
					Name:              "Schema present",
					Type:              drill.StepValidate,
					Timeout:           5 * time.Minute,
					ContinueOnFailure: true,
					Criteria:          &drill.ValidationCriteria{MinTables: 10, RequiredTables: []string{"orders", "customers"}},
				},
				{ID: "cleanup", Name: "Remove restore target", Type: drill.StepCleanup, Timeout: 15 * time.Minute},
			},
		},
	}
	cfg.Drills.Configurations = []drill.Configuration{
		{
			ID:                   "orders-weekly",
			Name:                 "Weekly orders restore drill",
			Type:                 drill.TypeRestore,
			ScenarioID:           "restore-and-verify",
			ExpectedRtoSeconds:   3600,
			ExpectedRpoSeconds:   900,
			Schedule:             "0 4 * * 0",
			Enabled:              true,
			NotificationChannels: []string{"slack"},
			TargetRef:            "orders-restore",
		},
	}

	cfg.Alerts.DefaultChannels = []string{"slack"}
	cfg.Alerts.Escalation = monitoring.EscalationPolicy{
		AutoEscalate: true,
		MaxLevel:     2,
		Levels: []monitoring.EscalationLevel{
			{Level: 1, Channels: []string{"slack"}, DelayMinutes: 0},
			{Level: 2, Channels: []string{"email"}, Contacts: []string{"oncall@example.com"}, DelayMinutes: 30},
		},
	}
	cfg.Notify.Slack = &notify.SlackConfig{WebhookURL: "https://hooks.slack.com/services/T000/B000/XXXX", Channel: "#db-alerts"}
	cfg.Notify.Email = &notify.EmailConfig{SMTPHost: "smtp.example.com", SMTPPort: 587, From: "db-resilience@example.com", To: []string{"dba@example.com"}}

	cfg.Compliance = ComplianceConfig{
		Targets: []compliance.Target{
			{ID: "orders-db", Service: "orders", RtoSeconds: 3600, RpoSeconds: 86400, Criticality: compliance.CriticalityHigh},
		},
		Mapping: compliance.Mapping{
			"nightly-full":  {"orders-db"},
			"orders-weekly": {"orders-db"},
		},
	}
	cfg.Metrics.Enabled = true
	return cfg
}

// GenerateExample renders Example as commented YAML
func GenerateExample() ([]byte, error) {
	cfg := Example()

	var node yaml.Node
	if err := node.Encode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to encode example configuration: %w", err)
	}
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			if comment, ok := sectionComments[node.Content[i].Value]; ok {
				node.Content[i].HeadComment = comment
			}
		}
	}

	var buf bytes.Buffer
	buf.WriteString("# db-resilience configuration\n")
	buf.WriteString("# Credentials and endpoints can be overridden from the environment, e.g. DBR_DATABASE_PASSWORD.\n\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, fmt.Errorf("failed to render example configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
