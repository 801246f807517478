package database

import (
	"context"
	"database/sql"
	"time"

	"db-resilience/internal/errors"
	"db-resilience/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
)

// DatabaseService defines the interface for database operations
type DatabaseService interface {
	Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error)
	TestConnection(ctx context.Context, db *sql.DB) error
	Close(db *sql.DB) error
	GetVersion(ctx context.Context, db *sql.DB) (string, error)
}

// OpenFunc opens a database handle; it matches sql.Open
type OpenFunc func(driverName, dataSourceName string) (*sql.DB, error)

// Service implements the DatabaseService interface
type Service struct {
	connectionTimeout time.Duration
	logger            *logging.Logger
	retryHandler      *errors.RetryHandler
	open              OpenFunc
}

// NewService creates a new database service with default settings
func NewService(logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Service{
		connectionTimeout: 30 * time.Second,
		logger:            logger,
		retryHandler:      errors.NewDefaultRetryHandler(),
		open:              sql.Open,
	}
}

// NewServiceWithOptions creates a new database service with custom options
func NewServiceWithOptions(logger *logging.Logger, timeout time.Duration, retry errors.RetryConfig, open OpenFunc) *Service {
	s := NewService(logger)
	if timeout > 0 {
		s.connectionTimeout = timeout
	}
	s.retryHandler = errors.NewRetryHandler(retry)
	if open != nil {
		s.open = open
	}
	return s
}

// Connect establishes a connection, retrying recoverable failures
func (s *Service) Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.NewConfigError("invalid database configuration", err)
	}

	startTime := time.Now()
	s.logger.WithFields(map[string]interface{}{
		"driver":   config.Driver,
		"host":     config.Host,
		"database": config.Database,
		"port":     config.Port,
	}).Info("Attempting database connection")

	ctx, cancel := errors.CreateContextWithTimeout(ctx, s.connectionTimeout, 30*time.Second)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(ctx, func() error {
		var openErr error
		db, openErr = s.open(config.Driver, config.DSN())
		if openErr != nil {
			return errors.WrapError(openErr, "failed to open database connection")
		}

		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
		db.SetConnMaxLifetime(5 * time.Minute)

		if testErr := s.TestConnection(ctx, db); testErr != nil {
			db.Close()
			return testErr
		}
		return nil
	})

	fields := map[string]interface{}{
		"operation": "database_connection",
		"host":      config.Host,
		"database":  config.Database,
		"duration":  time.Since(startTime).String(),
		"success":   err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.WithFields(fields).Error("Database connection failed")
		return nil, err
	}
	s.logger.WithFields(fields).Info("Database connection established")

	return db, nil
}

// TestConnection verifies that the database connection is working
func (s *Service) TestConnection(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.NewValidationError("database connection is nil", nil)
	}

	ctx, cancel := errors.CreateContextWithTimeout(ctx, s.connectionTimeout, 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, "failed to ping database")
	}

	s.logger.Debug("Database connection test successful")
	return nil
}

// Close gracefully closes the database connection
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}

	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to close database connection")
		return errors.WrapError(err, "failed to close database connection")
	}

	s.logger.Debug("Database connection closed")
	return nil
}

// GetVersion retrieves the server version string
func (s *Service) GetVersion(ctx context.Context, db *sql.DB) (string, error) {
	if db == nil {
		return "", errors.NewValidationError("database connection is nil", nil)
	}

	ctx, cancel := errors.CreateContextWithTimeout(ctx, s.connectionTimeout, 30*time.Second)
	defer cancel()

	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return "", errors.WrapError(err, "failed to get database version")
	}

	s.logger.WithField("version", version).Debug("Retrieved database version")
	return version, nil
}
