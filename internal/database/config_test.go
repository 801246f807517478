package database

import (
	"strings"
	"testing"
	"time"
)

func TestDatabaseConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  DatabaseConfig
		wantErr bool
	}{
		{
			name: "valid mysql config",
			config: DatabaseConfig{
				Driver: DriverMySQL, Host: "localhost", Port: 3306,
				Username: "root", Password: "password", Database: "app", Timeout: 30 * time.Second,
			},
		},
		{
			name: "valid postgres config",
			config: DatabaseConfig{
				Driver: DriverPostgres, Host: "db", Port: 5432,
				Username: "app", Database: "app",
			},
		},
		{
			name:    "missing host",
			config:  DatabaseConfig{Driver: DriverMySQL, Port: 3306, Username: "root", Database: "app"},
			wantErr: true,
		},
		{
			name:    "invalid port",
			config:  DatabaseConfig{Driver: DriverMySQL, Host: "localhost", Username: "root", Database: "app"},
			wantErr: true,
		},
		{
			name:    "unknown driver",
			config:  DatabaseConfig{Driver: "sqlite", Host: "localhost", Port: 1, Username: "root", Database: "app"},
			wantErr: true,
		},
		{
			name:    "missing database",
			config:  DatabaseConfig{Driver: DriverMySQL, Host: "localhost", Port: 3306, Username: "root"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_SetDefaults(t *testing.T) {
	mysqlCfg := DatabaseConfig{}
	mysqlCfg.SetDefaults()
	if mysqlCfg.Driver != DriverMySQL || mysqlCfg.Port != 3306 {
		t.Errorf("unexpected mysql defaults: %+v", mysqlCfg)
	}
	if mysqlCfg.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", mysqlCfg.Timeout)
	}

	pgCfg := DatabaseConfig{Driver: DriverPostgres}
	pgCfg.SetDefaults()
	if pgCfg.Port != 5432 || pgCfg.Schema != "public" || pgCfg.SSLMode != "disable" {
		t.Errorf("unexpected postgres defaults: %+v", pgCfg)
	}
	if pgCfg.Namespace() != "public" {
		t.Errorf("Namespace() = %q, want public", pgCfg.Namespace())
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	mysqlCfg := DatabaseConfig{
		Driver: DriverMySQL, Host: "localhost", Port: 3306,
		Username: "root", Password: "secret", Database: "app", Timeout: 30 * time.Second,
	}
	want := "root:secret@tcp(localhost:3306)/app?timeout=30s&parseTime=true"
	if got := mysqlCfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
	if mysqlCfg.Namespace() != "app" {
		t.Errorf("Namespace() = %q, want app", mysqlCfg.Namespace())
	}

	pgCfg := DatabaseConfig{
		Driver: DriverPostgres, Host: "db", Port: 5432,
		Username: "app", Password: "pw", Database: "prod", SSLMode: "require", Timeout: 10 * time.Second,
	}
	dsn := pgCfg.DSN()
	for _, part := range []string{"postgres://app:pw@db:5432/prod", "sslmode=require", "connect_timeout=10"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("DSN() = %q, missing %q", dsn, part)
		}
	}
}
