// Package config loads and validates the db-resilience configuration file.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"db-resilience/internal/backup"
	"db-resilience/internal/compliance"
	"db-resilience/internal/database"
	"db-resilience/internal/display"
	"db-resilience/internal/drill"
	apperrors "db-resilience/internal/errors"
	"db-resilience/internal/logging"
	"db-resilience/internal/monitoring"
	"db-resilience/internal/notify"
	"db-resilience/internal/provider"
	"db-resilience/internal/scheduler"
)

const (
	// ConfigName is the file name searched for without an explicit path
	ConfigName = "db-resilience"
	// EnvPrefix prefixes environment overrides, e.g. DBR_DATABASE_PASSWORD
	EnvPrefix = "DBR"

	StateMemory = "memory"
	StateSQL    = "sql"
)

// AppConfig is the whole configuration file
type AppConfig struct {
	Database     database.DatabaseConfig            `yaml:"database" mapstructure:"database"`
	State        StateConfig                        `yaml:"state" mapstructure:"state"`
	DrillTargets map[string]database.DatabaseConfig `yaml:"drill_targets,omitempty" mapstructure:"drill_targets"`
	Provider     provider.Config                    `yaml:"provider" mapstructure:"provider"`
	Backup       BackupConfig                       `yaml:"backup" mapstructure:"backup"`
	Drift        DriftConfig                        `yaml:"drift" mapstructure:"drift"`
	Drills       DrillConfig                        `yaml:"drills" mapstructure:"drills"`
	Alerts       monitoring.Config                  `yaml:"alerts" mapstructure:"alerts"`
	Notify       notify.Config                      `yaml:"notify" mapstructure:"notify"`
	Compliance   ComplianceConfig                   `yaml:"compliance" mapstructure:"compliance"`
	Logging      LoggingConfig                      `yaml:"logging" mapstructure:"logging"`
	Metrics      MetricsConfig                      `yaml:"metrics" mapstructure:"metrics"`
	Display      display.Config                     `yaml:"display" mapstructure:"display"`
}

// StateConfig selects where operations, versions, executions, alerts and
// measurements are kept. A SQL state store without its own host reuses the
// protected database connection.
type StateConfig struct {
	Type     string                  `yaml:"type" mapstructure:"type"`
	Table    string                  `yaml:"table,omitempty" mapstructure:"table"`
	Database database.DatabaseConfig `yaml:"database,omitempty" mapstructure:"database"`
}

// SharesProtectedDatabase reports whether the SQL store lives in the
// protected database
func (s StateConfig) SharesProtectedDatabase() bool {
	return s.Database.Host == ""
}

// BackupConfig holds the backup manager settings and the policies it runs
type BackupConfig struct {
	backup.Config        `yaml:",inline" mapstructure:",squash"`
	Policies             []backup.Policy `yaml:"policies" mapstructure:"policies"`
	RetentionSchedule    string          `yaml:"retention_schedule,omitempty" mapstructure:"retention_schedule"`
	MissingCheckSchedule string          `yaml:"missing_check_schedule,omitempty" mapstructure:"missing_check_schedule"`
	HealthWindow         time.Duration   `yaml:"health_window" mapstructure:"health_window"`
}

// Policy returns the policy with the given id
func (b BackupConfig) Policy(id string) (*backup.Policy, bool) {
	for i := range b.Policies {
		if b.Policies[i].ID == id {
			p := b.Policies[i]
			return &p, true
		}
	}
	return nil, false
}

// DriftConfig controls scheduled schema captures
type DriftConfig struct {
	Schedule     string        `yaml:"schedule,omitempty" mapstructure:"schedule"`
	QueryTimeout time.Duration `yaml:"query_timeout" mapstructure:"query_timeout"`
}

// DrillConfig holds drill configurations and the scenarios they run
type DrillConfig struct {
	Configurations []drill.Configuration `yaml:"configurations" mapstructure:"configurations"`
	Scenarios      []drill.Scenario      `yaml:"scenarios" mapstructure:"scenarios"`
}

// ComplianceConfig declares targets and which policies and drills feed them
type ComplianceConfig struct {
	Targets []compliance.Target `yaml:"targets" mapstructure:"targets"`
	Mapping compliance.Mapping  `yaml:"mapping" mapstructure:"mapping"`
}

// LoggingConfig configures the logrus logger
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file,omitempty" mapstructure:"file"`
	ShowCaller bool   `yaml:"show_caller" mapstructure:"show_caller"`
}

// MetricsConfig configures the Prometheus endpoint served by serve
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	ListenAddress string `yaml:"listen_address" mapstructure:"listen_address"`
	Path          string `yaml:"path" mapstructure:"path"`
}

// Default returns a configuration with every default applied and nothing
// environment specific filled in
func Default() AppConfig {
	return AppConfig{
		State: StateConfig{Type: StateMemory},
		Provider: provider.Config{
			Type: provider.TypeArtifact,
			Artifact: provider.ArtifactSettings{
				Store:       provider.StoreConfig{Type: provider.StoreLocal, LocalPath: "./snapshots"},
				Prefix:      "snapshots",
				Compression: "zstd",
			},
		},
		Backup: BackupConfig{
			Config:               backup.DefaultConfig(),
			RetentionSchedule:    "30 3 * * *",
			MissingCheckSchedule: "0 * * * *",
			HealthWindow:         24 * time.Hour,
		},
		Drift:   DriftConfig{QueryTimeout: 30 * time.Second},
		Alerts:  monitoring.DefaultConfig(),
		Notify:  notify.Config{Timeout: 30 * time.Second},
		Logging: LoggingConfig{Level: string(logging.LogLevelNormal), Format: "text"},
		Metrics: MetricsConfig{ListenAddress: ":9187", Path: "/metrics"},
		Display: display.DefaultConfig(),
	}
}

// Load reads the configuration file at path, or searches the standard
// locations when path is empty, then applies environment overrides,
// defaults and validation. Every failure is a config error.
func Load(path string) (*AppConfig, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, apperrors.NewConfigError("failed to read configuration file", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to decode configuration", err)
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewConfigError("invalid configuration", err)
	}
	return &cfg, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.db-resilience")
		v.AddConfigPath("/etc/db-resilience")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setEnvKeys(v)
	return v
}

// envKeys are registered so AutomaticEnv can override them even when the
// file omits them
var envKeys = []string{
	"database.driver",
	"database.host",
	"database.port",
	"database.username",
	"database.password",
	"database.database",
	"state.type",
	"state.table",
	"provider.type",
	"provider.rds.region",
	"provider.rds.profile",
	"provider.rds.instance_identifier",
	"provider.artifact.store.type",
	"provider.artifact.store.local_path",
	"provider.artifact.store.s3.bucket",
	"provider.artifact.store.s3.region",
	"provider.artifact.store.s3.access_key",
	"provider.artifact.store.s3.secret_key",
	"provider.artifact.store.gcs.bucket",
	"provider.artifact.store.gcs.credentials_path",
	"provider.artifact.store.azure.account_name",
	"provider.artifact.store.azure.account_key",
	"provider.artifact.store.azure.container_name",
	"provider.artifact.encryption.key_env",
	"logging.level",
	"logging.format",
	"metrics.listen_address",
	"display.output_format",
	"display.color_enabled",
}

func setEnvKeys(v *viper.Viper) {
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
}

// EnvironmentVariables lists the recognised environment overrides
func EnvironmentVariables() []string {
	out := make([]string, len(envKeys))
	for i, key := range envKeys {
		out[i] = EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	}
	return out
}

// SetDefaults fills zero fields that the file may have cleared
func (c *AppConfig) SetDefaults() {
	c.Database.SetDefaults()
	if c.State.Type == "" {
		c.State.Type = StateMemory
	}
	if c.State.Type == StateSQL && !c.State.SharesProtectedDatabase() {
		c.State.Database.SetDefaults()
	}
	for name, target := range c.DrillTargets {
		target.SetDefaults()
		c.DrillTargets[name] = target
	}
	c.Backup.Config.SetDefaults()
	if c.Backup.HealthWindow <= 0 {
		c.Backup.HealthWindow = 24 * time.Hour
	}
	if c.Drift.QueryTimeout <= 0 {
		c.Drift.QueryTimeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = string(logging.LogLevelNormal)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	c.Display.SetDefaults()
}

// Validate checks every section and the references between them
func (c *AppConfig) Validate() error {
	var errs []error
	add := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	add("database", c.Database.Validate())
	add("state", c.validateState())
	for _, name := range sortedKeys(c.DrillTargets) {
		target := c.DrillTargets[name]
		add("drill_targets."+name, target.Validate())
	}
	add("provider", c.Provider.Validate())
	add("backup", c.validateBackup())
	if c.Drift.Schedule != "" {
		add("drift.schedule", scheduler.ValidateSchedule(c.Drift.Schedule))
	}
	add("drills", c.validateDrills())
	add("alerts", c.Alerts.Validate())
	add("alerts", c.validateChannels())
	add("compliance", c.validateCompliance())
	add("logging", c.validateLogging())
	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		add("metrics", errors.New("listen_address is required when metrics are enabled"))
	}
	add("display", c.Display.Validate())

	return errors.Join(errs...)
}

func (c *AppConfig) validateState() error {
	switch c.State.Type {
	case StateMemory:
		return nil
	case StateSQL:
		if c.State.SharesProtectedDatabase() {
			return nil
		}
		return c.State.Database.Validate()
	default:
		return fmt.Errorf("type must be %q or %q", StateMemory, StateSQL)
	}
}

func (c *AppConfig) validateBackup() error {
	if err := c.Backup.Config.Validate(); err != nil {
		return err
	}

	var errs []error
	seen := make(map[string]bool)
	for i := range c.Backup.Policies {
		p := &c.Backup.Policies[i]
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("duplicate backup policy %s", p.ID))
		}
		seen[p.ID] = true
		if err := scheduler.ValidateSchedule(p.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("backup policy %s: %w", p.ID, err))
		}
	}
	for _, expr := range []string{c.Backup.RetentionSchedule, c.Backup.MissingCheckSchedule} {
		if expr == "" {
			continue
		}
		if err := scheduler.ValidateSchedule(expr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *AppConfig) validateDrills() error {
	var errs []error

	scenarios := make(map[string]bool)
	for i := range c.Drills.Scenarios {
		s := &c.Drills.Scenarios[i]
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if scenarios[s.ID] {
			errs = append(errs, fmt.Errorf("duplicate drill scenario %s", s.ID))
		}
		scenarios[s.ID] = true
	}

	configs := make(map[string]bool)
	for i := range c.Drills.Configurations {
		d := &c.Drills.Configurations[i]
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if configs[d.ID] {
			errs = append(errs, fmt.Errorf("duplicate drill configuration %s", d.ID))
		}
		configs[d.ID] = true
		if !scenarios[d.ScenarioID] {
			errs = append(errs, fmt.Errorf("drill configuration %s references unknown scenario %s", d.ID, d.ScenarioID))
		}
		if d.Schedule != "" {
			if err := scheduler.ValidateSchedule(d.Schedule); err != nil {
				errs = append(errs, fmt.Errorf("drill configuration %s: %w", d.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// NotifyChannels lists the channels with a configured sink
func (c *AppConfig) NotifyChannels() []string {
	var channels []string
	if c.Notify.Email != nil {
		channels = append(channels, "email")
	}
	if c.Notify.File != nil {
		channels = append(channels, "file")
	}
	if c.Notify.Slack != nil {
		channels = append(channels, "slack")
	}
	if c.Notify.Teams != nil {
		channels = append(channels, "teams")
	}
	if c.Notify.Webhook != nil {
		channels = append(channels, "webhook")
	}
	return channels
}

func (c *AppConfig) validateChannels() error {
	configured := make(map[string]bool)
	for _, ch := range c.NotifyChannels() {
		configured[ch] = true
	}

	var errs []error
	check := func(where string, channels []string) {
		for _, ch := range channels {
			if !configured[ch] {
				errs = append(errs, fmt.Errorf("%s uses channel %q which has no notify section", where, ch))
			}
		}
	}

	check("default_channels", c.Alerts.DefaultChannels)
	for _, level := range c.Alerts.Escalation.Levels {
		check(fmt.Sprintf("escalation level %d", level.Level), level.Channels)
	}
	for _, d := range c.Drills.Configurations {
		check("drill configuration "+d.ID, d.NotificationChannels)
	}
	return errors.Join(errs...)
}

func (c *AppConfig) validateCompliance() error {
	var errs []error

	targets := make(map[string]bool)
	for i := range c.Compliance.Targets {
		t := &c.Compliance.Targets[i]
		if err := t.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if targets[t.ID] {
			errs = append(errs, fmt.Errorf("duplicate compliance target %s", t.ID))
		}
		targets[t.ID] = true
	}

	producers := make(map[string]bool)
	for _, p := range c.Backup.Policies {
		producers[p.ID] = true
	}
	for _, d := range c.Drills.Configurations {
		producers[d.ID] = true
	}

	for _, producer := range sortedKeys(c.Compliance.Mapping) {
		if !producers[producer] {
			errs = append(errs, fmt.Errorf("mapping references unknown backup policy or drill configuration %s", producer))
		}
		for _, target := range c.Compliance.Mapping[producer] {
			if !targets[target] {
				errs = append(errs, fmt.Errorf("mapping for %s references unknown target %s", producer, target))
			}
		}
	}
	return errors.Join(errs...)
}

func (c *AppConfig) validateLogging() error {
	switch logging.LogLevel(c.Logging.Level) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("log format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
