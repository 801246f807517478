package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows detailed operational information
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows all debug information
	LogLevelDebug LogLevel = "debug"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	if config.Output != nil {
		logger.SetOutput(config.Output)
	} else {
		logger.SetOutput(os.Stdout)
	}

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	logger.SetLevel(toLogrusLevel(config.Level))

	if config.ShowCaller {
		logger.SetReportCaller(true)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	}

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}

		if config.Output == nil {
			logger.SetOutput(io.MultiWriter(os.Stdout, file))
		} else {
			logger.SetOutput(io.MultiWriter(config.Output, file))
		}
	}

	return &Logger{
		logger: logger,
		level:  config.Level,
	}, nil
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelNormal,
		Output: os.Stdout,
		Format: "text",
	})
	return logger
}

// NewDiscardLogger creates a logger that drops every entry. Used by tests
// and by commands that print their own output.
func NewDiscardLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelQuiet,
		Output: io.Discard,
	})
	return logger
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelQuiet:
		return logrus.ErrorLevel
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelDebug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// WithContext returns a logger with context fields
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)

	if requestID := GetRequestIDFromContext(ctx); requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}

	return entry
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// Domain operation logging methods

// LogSchemaCapture logs a schema snapshot capture
func (l *Logger) LogSchemaCapture(database string, tableCount int, hash string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":   "schema_capture",
		"database":    database,
		"table_count": tableCount,
		"duration":    duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Schema capture failed")
		return
	}

	fields["hash"] = shortHash(hash)
	l.logger.WithFields(fields).Info("Schema capture completed")
}

// LogSchemaDrift logs the outcome of comparing a fresh snapshot with the baseline
func (l *Logger) LogSchemaDrift(database string, changes int, riskLevel string, breaking bool) {
	fields := logrus.Fields{
		"operation":  "schema_drift",
		"database":   database,
		"changes":    changes,
		"risk_level": riskLevel,
		"breaking":   breaking,
	}

	if changes == 0 {
		l.logger.WithFields(fields).Debug("No schema drift detected")
		return
	}
	if breaking {
		l.logger.WithFields(fields).Warn("Breaking schema drift detected")
		return
	}
	l.logger.WithFields(fields).Info("Schema drift detected")
}

// LogBackupOperation logs the final state of a backup operation
func (l *Logger) LogBackupOperation(operationID, backupType, status string, sizeBytes int64, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":    "backup",
		"operation_id": operationID,
		"backup_type":  backupType,
		"status":       status,
		"size_bytes":   sizeBytes,
		"duration":     duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Backup operation failed")
	} else {
		l.logger.WithFields(fields).Info("Backup operation completed")
	}
}

// LogDrillStep logs a single drill step result
func (l *Logger) LogDrillStep(executionID, stepID, stepType string, success bool, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation":    "drill_step",
		"execution_id": executionID,
		"step_id":      stepID,
		"step_type":    stepType,
		"success":      success,
		"duration":     duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Warn("Drill step failed")
	} else {
		l.logger.WithFields(fields).Info("Drill step completed")
	}
}

// LogAlert logs alert lifecycle transitions
func (l *Logger) LogAlert(alertID, alertType, severity, transition string) {
	l.logger.WithFields(logrus.Fields{
		"operation":  "alert",
		"alert_id":   alertID,
		"alert_type": alertType,
		"severity":   severity,
		"transition": transition,
	}).Info("Alert " + transition)
}

// Standard logging methods

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// Printf satisfies the printf-style logger interfaces used by the scheduler.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(toLogrusLevel(level))
}

// IsLevelEnabled checks if a log level is enabled
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	switch level {
	case LogLevelQuiet, LogLevelNormal, LogLevelVerbose, LogLevelDebug:
		return l.logger.IsLevelEnabled(toLogrusLevel(level))
	default:
		return false
	}
}

// LogOperationStart logs the start of an operation and returns a function to log completion
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	startTime := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}

	l.logger.WithFields(logFields).Debug("Operation started")

	return func(err error) {
		logFields["status"] = "completed"
		logFields["duration"] = time.Since(startTime).String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.logger.WithFields(logFields).Error("Operation failed")
		} else {
			logFields["success"] = true
			l.logger.WithFields(logFields).Info("Operation completed")
		}
	}
}

// CreateContextWithRequestID creates a context with a request ID for tracing
func CreateContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestIDFromContext extracts request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// SanitizeDSN masks the password portion of a connection string
func SanitizeDSN(dsn string) string {
	// user:pass@tcp(host)/db
	if at := strings.Index(dsn, "@"); at > 0 {
		if colon := strings.Index(dsn[:at], ":"); colon >= 0 {
			if scheme := strings.Index(dsn[:at], "://"); scheme >= 0 && scheme == colon {
				if inner := strings.Index(dsn[scheme+3:at], ":"); inner >= 0 {
					pos := scheme + 3 + inner
					return dsn[:pos+1] + "***" + dsn[at:]
				}
				return dsn
			}
			return dsn[:colon+1] + "***" + dsn[at:]
		}
	}

	// key=value style (postgres)
	for _, key := range []string{"password=", "PASSWORD="} {
		if idx := strings.Index(dsn, key); idx >= 0 {
			rest := dsn[idx+len(key):]
			end := strings.Index(rest, " ")
			if end == -1 {
				end = len(rest)
			}
			dsn = dsn[:idx+len(key)] + "***" + rest[end:]
		}
	}
	return dsn
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
