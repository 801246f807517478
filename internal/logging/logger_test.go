package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   LogLevel
	}{
		{
			name:   "default config",
			config: Config{Level: LogLevelNormal, Format: "text"},
			want:   LogLevelNormal,
		},
		{
			name:   "verbose config",
			config: Config{Level: LogLevelVerbose, Format: "json"},
			want:   LogLevelVerbose,
		},
		{
			name:   "quiet config",
			config: Config{Level: LogLevelQuiet, Format: "text"},
			want:   LogLevelQuiet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			if logger.GetLevel() != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestNewDefaultLogger(t *testing.T) {
	logger := NewDefaultLogger()
	if logger == nil {
		t.Fatal("NewDefaultLogger() returned nil")
	}
	if logger.GetLevel() != LogLevelNormal {
		t.Errorf("NewDefaultLogger() level = %v, want %v", logger.GetLevel(), LogLevelNormal)
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelVerbose, Output: &buf, Format: "text"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.WithFields(map[string]interface{}{"test_field": "test_value", "number": 42}).Info("test message")

	output := buf.String()
	for _, want := range []string{"test_field=test_value", "number=42", "test message"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q, got: %s", want, output)
		}
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelVerbose, Output: &buf, Format: "text"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	ctx := CreateContextWithRequestID(context.Background(), "req-123")
	logger.WithContext(ctx).Info("with context")

	if !strings.Contains(buf.String(), "request_id=req-123") {
		t.Errorf("expected request id in output, got: %s", buf.String())
	}
	if got := GetRequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty request id, got %q", got)
	}
}

func TestLogBackupOperation(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.LogBackupOperation("op-1", "full_backup", "failed", 0, 2*time.Second, errors.New("provider timeout"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	if entry["operation_id"] != "op-1" {
		t.Errorf("operation_id = %v", entry["operation_id"])
	}
	if entry["error"] != "provider timeout" {
		t.Errorf("error = %v", entry["error"])
	}
	if entry["level"] != "error" {
		t.Errorf("level = %v, want error", entry["level"])
	}
}

func TestLogSchemaDriftLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "text"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.LogSchemaDrift("app", 0, "low", false)
	if buf.Len() != 0 {
		t.Errorf("expected no output for empty drift at normal level, got: %s", buf.String())
	}

	logger.LogSchemaDrift("app", 2, "critical", true)
	if !strings.Contains(buf.String(), "level=warning") {
		t.Errorf("expected warning for breaking drift, got: %s", buf.String())
	}
}

func TestLogOperationStart(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelVerbose, Output: &buf, Format: "text"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	done := logger.LogOperationStart("drill", map[string]interface{}{"config_id": "cfg-1"})
	done(nil)

	output := buf.String()
	if !strings.Contains(output, "Operation started") || !strings.Contains(output, "Operation completed") {
		t.Errorf("missing lifecycle entries: %s", output)
	}
	if !strings.Contains(output, "config_id=cfg-1") {
		t.Errorf("missing field: %s", output)
	}
}

func TestSetLevel(t *testing.T) {
	logger := NewDiscardLogger()
	if logger.IsLevelEnabled(LogLevelNormal) {
		t.Error("quiet logger should not enable normal level")
	}

	logger.SetLevel(LogLevelDebug)
	if !logger.IsLevelEnabled(LogLevelVerbose) {
		t.Error("debug logger should enable verbose level")
	}
	if logger.IsLevelEnabled(LogLevel("bogus")) {
		t.Error("unknown level should report disabled")
	}
}

func TestSanitizeDSN(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"mysql dsn", "root:secret@tcp(localhost:3306)/app", "root:***@tcp(localhost:3306)/app"},
		{"postgres url", "postgres://admin:pw@db:5432/app", "postgres://admin:***@db:5432/app"},
		{"key value", "host=db password=pw dbname=app", "host=db password=*** dbname=app"},
		{"no password", "host=db dbname=app", "host=db dbname=app"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeDSN(tt.in); got != tt.want {
				t.Errorf("SanitizeDSN(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
