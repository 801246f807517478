package database

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// DatabaseConfig holds the configuration parameters for database connection
type DatabaseConfig struct {
	Driver       string        `mapstructure:"driver" yaml:"driver"`
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	Username     string        `mapstructure:"username" yaml:"username"`
	Password     string        `mapstructure:"password" yaml:"password"`
	Database     string        `mapstructure:"database" yaml:"database"`
	Schema       string        `mapstructure:"schema" yaml:"schema"`
	SSLMode      string        `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxOpenConns int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

// SetDefaults fills unset fields with driver-appropriate defaults
func (dc *DatabaseConfig) SetDefaults() {
	if dc.Driver == "" {
		dc.Driver = DriverMySQL
	}
	if dc.Port == 0 {
		switch dc.Driver {
		case DriverPostgres:
			dc.Port = 5432
		default:
			dc.Port = 3306
		}
	}
	if dc.Driver == DriverPostgres {
		if dc.Schema == "" {
			dc.Schema = "public"
		}
		if dc.SSLMode == "" {
			dc.SSLMode = "disable"
		}
	}
	if dc.Timeout <= 0 {
		dc.Timeout = 30 * time.Second
	}
	if dc.MaxOpenConns <= 0 {
		dc.MaxOpenConns = 10
	}
	if dc.MaxIdleConns <= 0 {
		dc.MaxIdleConns = 5
	}
}

// Validate checks if the database configuration has all required parameters
func (dc *DatabaseConfig) Validate() error {
	var errs []error

	if dc.Driver != DriverMySQL && dc.Driver != DriverPostgres {
		errs = append(errs, fmt.Errorf("driver must be %q or %q", DriverMySQL, DriverPostgres))
	}

	if dc.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}

	if dc.Port <= 0 || dc.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}

	if dc.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}

	if dc.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}

	if dc.Timeout <= 0 {
		dc.Timeout = 30 * time.Second
	}

	if len(errs) > 0 {
		return fmt.Errorf("database configuration validation failed: %v", errors.Join(errs...))
	}

	return nil
}

// DSN returns the Data Source Name for the configured driver
func (dc *DatabaseConfig) DSN() string {
	switch dc.Driver {
	case DriverPostgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(dc.Username, dc.Password),
			Host:   fmt.Sprintf("%s:%d", dc.Host, dc.Port),
			Path:   "/" + dc.Database,
		}
		q := url.Values{}
		q.Set("sslmode", dc.SSLMode)
		q.Set("connect_timeout", fmt.Sprintf("%d", int(dc.Timeout.Seconds())))
		u.RawQuery = q.Encode()
		return u.String()
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?timeout=%s&parseTime=true",
			dc.Username, dc.Password, dc.Host, dc.Port, dc.Database, dc.Timeout)
	}
}

// Namespace returns the schema namespace introspection should read
func (dc *DatabaseConfig) Namespace() string {
	if dc.Driver == DriverPostgres {
		return dc.Schema
	}
	return dc.Database
}
