package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	apperrors "db-resilience/internal/errors"
	"db-resilience/internal/logging"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:   DriverMySQL,
		Host:     "localhost",
		Port:     3306,
		Username: "root",
		Password: "password",
		Database: "app",
	}
}

func newMockService(t *testing.T, db *sql.DB) *Service {
	t.Helper()
	retry := apperrors.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	return NewServiceWithOptions(logging.NewDiscardLogger(), time.Second, retry, func(driver, dsn string) (*sql.DB, error) {
		return db, nil
	})
}

func TestNewService(t *testing.T) {
	service := NewService(nil)
	require.NotNil(t, service)
	assert.Equal(t, 30*time.Second, service.connectionTimeout)
	assert.NotNil(t, service.logger)
}

func TestConnect_Success(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()

	service := newMockService(t, db)
	got, err := service.Connect(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Same(t, db, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnect_AccessDenied(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(&mysql.MySQLError{Number: 1045, Message: "Access denied"})

	service := newMockService(t, db)
	_, err = service.Connect(context.Background(), validConfig())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypePermission, apperrors.GetErrorType(err))
}

func TestConnect_InvalidConfig(t *testing.T) {
	service := NewService(logging.NewDiscardLogger())

	_, err := service.Connect(context.Background(), DatabaseConfig{Driver: DriverMySQL})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeConfig, apperrors.GetErrorType(err))
}

func TestTestConnection_NilDB(t *testing.T) {
	service := NewService(logging.NewDiscardLogger())
	err := service.TestConnection(context.Background(), nil)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetErrorType(err))
}

func TestGetVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT VERSION").WillReturnRows(sqlmock.NewRows([]string{"VERSION()"}).AddRow("8.0.36"))

	service := newMockService(t, db)
	version, err := service.GetVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "8.0.36", version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeService struct {
	connects int
	pingErr  error
	db       *sql.DB
}

func (f *fakeService) Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error) {
	f.connects++
	return f.db, nil
}

func (f *fakeService) TestConnection(ctx context.Context, db *sql.DB) error { return f.pingErr }
func (f *fakeService) Close(db *sql.DB) error                               { return nil }
func (f *fakeService) GetVersion(ctx context.Context, db *sql.DB) (string, error) {
	return "test", nil
}

func TestConnectionManager(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fake := &fakeService{db: db}
	cm := NewConnectionManager(fake)
	cm.Register("primary", validConfig())
	cm.Register("drill-target", validConfig())

	got, err := cm.Get(context.Background(), "primary")
	require.NoError(t, err)
	assert.Same(t, db, got)

	_, err = cm.Get(context.Background(), "primary")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.connects, "second Get must reuse the open handle")

	assert.NoError(t, cm.Ping(context.Background(), "primary"))

	fake.pingErr = errors.New("unreachable")
	assert.Error(t, cm.Ping(context.Background(), "drill-target"))

	_, err = cm.Get(context.Background(), "unknown")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	assert.Equal(t, []string{"drill-target", "primary"}, cm.Names())
	assert.NoError(t, cm.Close())
}
