package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-resilience/internal/backup"
	"db-resilience/internal/drift"
	"db-resilience/internal/drill"
	apperrors "db-resilience/internal/errors"
)

func newMockStore(t *testing.T, dialect Dialect) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS dbr_documents").WillReturnResult(sqlmock.NewResult(0, 0))
	if dialect == DialectPostgres {
		mock.ExpectExec("CREATE INDEX IF NOT EXISTS ix_dbr_documents_parent").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	s, err := NewSQLStore(context.Background(), db, dialect, "")
	require.NoError(t, err)
	return s, mock
}

func TestNewSQLStore_Validation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	_, err = NewSQLStore(ctx, nil, DialectMySQL, "")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))

	_, err = NewSQLStore(ctx, db, "sqlite", "")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))

	_, err = NewSQLStore(ctx, db, DialectMySQL, "docs; DROP TABLE users")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS resilience_docs").WillReturnError(errors.New("permission denied"))
	_, err = NewSQLStore(ctx, db, DialectMySQL, "resilience_docs")
	assert.ErrorContains(t, err, "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CreateOperation(t *testing.T) {
	s, mock := newMockStore(t, DialectMySQL)
	op := &backup.Operation{ID: "op-1", PolicyID: "nightly", Status: backup.StatusRunning, StartedAt: base}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dbr_documents (collection, id, parent, seq, created_ns, body) VALUES (?, ?, ?, ?, ?, ?)")).
		WithArgs("backup_operation", "op-1", "nightly", int64(0), base.UnixNano(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := s.CreateOperation(context.Background(), op)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DuplicateKeyIsConflict(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		query   string
		err     error
	}{
		{"mysql", DialectMySQL, "VALUES (?, ?, ?, ?, ?, ?)", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}},
		{"postgres", DialectPostgres, "VALUES ($1, $2, $3, $4, $5, $6)", &pq.Error{Code: "23505", Message: "duplicate key value"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t, tt.dialect)
			mock.ExpectExec(regexp.QuoteMeta(tt.query)).WillReturnError(tt.err)

			_, err := s.CreateOperation(context.Background(), &backup.Operation{ID: "op-1", StartedAt: base})
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLStore_GetOperation(t *testing.T) {
	s, mock := newMockStore(t, DialectMySQL)
	body, err := json.Marshal(&backup.Operation{ID: "op-1", PolicyID: "nightly", Status: backup.StatusCompleted, SizeBytes: 42, StartedAt: base})
	require.NoError(t, err)

	query := regexp.QuoteMeta("SELECT parent, seq, created_ns, body FROM dbr_documents WHERE collection = ? AND id = ?")
	mock.ExpectQuery(query).
		WithArgs("backup_operation", "op-1").
		WillReturnRows(sqlmock.NewRows([]string{"parent", "seq", "created_ns", "body"}).
			AddRow("nightly", 0, base.UnixNano(), body))
	mock.ExpectQuery(query).
		WithArgs("backup_operation", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"parent", "seq", "created_ns", "body"}))

	op, err := s.GetOperation(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), op.SizeBytes)
	assert.True(t, op.StartedAt.Equal(base))

	_, err = s.GetOperation(context.Background(), "missing")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateChecksExistence(t *testing.T) {
	s, mock := newMockStore(t, DialectMySQL)
	update := regexp.QuoteMeta("UPDATE dbr_documents SET parent = ?, seq = ?, created_ns = ?, body = ? WHERE collection = ? AND id = ?")
	exists := regexp.QuoteMeta("SELECT 1 FROM dbr_documents WHERE collection = ? AND id = ?")

	mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(exists).WithArgs("drill_execution", "x1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(exists).WithArgs("drill_execution", "x2").WillReturnRows(sqlmock.NewRows([]string{"1"}))

	ctx := context.Background()
	require.NoError(t, s.UpdateExecution(ctx, &drill.Execution{ID: "x1", ConfigID: "a", CreatedAt: base}))
	err := s.UpdateExecution(ctx, &drill.Execution{ID: "x2", ConfigID: "a", CreatedAt: base})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ListVersionsPostgres(t *testing.T) {
	s, mock := newMockStore(t, DialectPostgres)
	v3, _ := json.Marshal(&drift.SchemaVersion{ID: "v3", Database: "app", Version: 3})
	v2, _ := json.Marshal(&drift.SchemaVersion{ID: "v2", Database: "app", Version: 2})

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT id, parent, seq, created_ns, body FROM dbr_documents WHERE collection = $1 AND parent = $2 ORDER BY seq DESC, created_ns DESC, pos DESC LIMIT 2")).
		WithArgs("schema_version", "app").
		WillReturnRows(sqlmock.NewRows([]string{"id", "parent", "seq", "created_ns", "body"}).
			AddRow("v3", "app", 3, base.UnixNano(), v3).
			AddRow("v2", "app", 2, base.UnixNano(), v2))

	versions, err := s.ListVersions(context.Background(), "app", 2)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 3, versions[0].Version)
	assert.Equal(t, "v2", versions[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetVersionFiltersBySeq(t *testing.T) {
	s, mock := newMockStore(t, DialectMySQL)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE collection = ? AND parent = ? AND seq = ? ORDER BY")).
		WithArgs("schema_version", "app", int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "parent", "seq", "created_ns", "body"}))

	_, err := s.GetVersion(context.Background(), "app", 7)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpsertDialects(t *testing.T) {
	tests := []struct {
		dialect Dialect
		clause  string
	}{
		{DialectMySQL, "ON DUPLICATE KEY UPDATE"},
		{DialectPostgres, "ON CONFLICT (collection, id) DO UPDATE"},
	}
	for _, tt := range tests {
		t.Run(string(tt.dialect), func(t *testing.T) {
			s, mock := newMockStore(t, tt.dialect)
			mock.ExpectExec(regexp.QuoteMeta(tt.clause)).
				WithArgs("drill_configuration", "orders-dr", "", int64(0), int64(0), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))

			require.NoError(t, s.SaveConfiguration(context.Background(), &drill.Configuration{ID: "orders-dr"}))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
