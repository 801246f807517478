package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	apperrors "db-resilience/internal/errors"
)

// Dialect selects the SQL flavour of the document table
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"

	// DefaultTable is the document table used when none is configured
	DefaultTable = "dbr_documents"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

type sqlBackend struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// NewSQLStore creates a store on an open database handle and creates the
// document table when it does not exist. The caller keeps ownership of db.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, table string) (*Store, error) {
	if db == nil {
		return nil, apperrors.NewConfigError("sql store requires a database handle", nil)
	}
	if dialect != DialectMySQL && dialect != DialectPostgres {
		return nil, apperrors.NewConfigError(fmt.Sprintf("unsupported store dialect %q", dialect), nil)
	}
	if table == "" {
		table = DefaultTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, apperrors.NewConfigError(fmt.Sprintf("invalid store table name %q", table), nil)
	}

	b := &sqlBackend{db: db, dialect: dialect, table: table}
	if err := b.migrate(ctx); err != nil {
		return nil, err
	}
	return &Store{backend: b}, nil
}

func (b *sqlBackend) migrate(ctx context.Context) error {
	var statements []string
	switch b.dialect {
	case DialectMySQL:
		statements = []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	pos BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	collection VARCHAR(64) NOT NULL,
	id VARCHAR(64) NOT NULL,
	parent VARCHAR(255) NOT NULL DEFAULT '',
	seq BIGINT NOT NULL DEFAULT 0,
	created_ns BIGINT NOT NULL DEFAULT 0,
	body LONGTEXT NOT NULL,
	UNIQUE KEY uq_%[1]s_doc (collection, id),
	KEY ix_%[1]s_parent (collection, parent, seq)
)`, b.table)}
	case DialectPostgres:
		statements = []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	pos BIGSERIAL PRIMARY KEY,
	collection VARCHAR(64) NOT NULL,
	id VARCHAR(64) NOT NULL,
	parent VARCHAR(255) NOT NULL DEFAULT '',
	seq BIGINT NOT NULL DEFAULT 0,
	created_ns BIGINT NOT NULL DEFAULT 0,
	body TEXT NOT NULL,
	CONSTRAINT uq_%[1]s_doc UNIQUE (collection, id)
)`, b.table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%[1]s_parent ON %[1]s (collection, parent, seq)`, b.table),
		}
	}

	for _, stmt := range statements {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return apperrors.WrapError(err, fmt.Sprintf("failed to create store table %s", b.table))
		}
	}
	return nil
}

// rebind rewrites ? placeholders for PostgreSQL
func (b *sqlBackend) rebind(query string) string {
	if b.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func (b *sqlBackend) insert(ctx context.Context, rec record) error {
	query := b.rebind(fmt.Sprintf(
		"INSERT INTO %s (collection, id, parent, seq, created_ns, body) VALUES (?, ?, ?, ?, ?, ?)", b.table))
	_, err := b.db.ExecContext(ctx, query, rec.Collection, rec.ID, rec.Parent, rec.Seq, toNanos(rec.CreatedAt), string(rec.Body))
	if err != nil {
		if isDuplicateKey(err) {
			return apperrors.NewConflictError(fmt.Sprintf("%s %s already exists", rec.Collection, rec.ID))
		}
		return apperrors.WrapError(err, fmt.Sprintf("failed to insert %s %s", rec.Collection, rec.ID))
	}
	return nil
}

func (b *sqlBackend) update(ctx context.Context, rec record) error {
	query := b.rebind(fmt.Sprintf(
		"UPDATE %s SET parent = ?, seq = ?, created_ns = ?, body = ? WHERE collection = ? AND id = ?", b.table))
	res, err := b.db.ExecContext(ctx, query, rec.Parent, rec.Seq, toNanos(rec.CreatedAt), string(rec.Body), rec.Collection, rec.ID)
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to update %s %s", rec.Collection, rec.ID))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to update %s %s", rec.Collection, rec.ID))
	}
	if affected > 0 {
		return nil
	}

	// MySQL reports zero affected rows when the values did not change
	var one int
	exists := b.rebind(fmt.Sprintf("SELECT 1 FROM %s WHERE collection = ? AND id = ?", b.table))
	err = b.db.QueryRowContext(ctx, exists, rec.Collection, rec.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFoundError(rec.Collection, rec.ID)
	}
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to update %s %s", rec.Collection, rec.ID))
	}
	return nil
}

func (b *sqlBackend) upsert(ctx context.Context, rec record) error {
	var query string
	switch b.dialect {
	case DialectPostgres:
		query = fmt.Sprintf(`INSERT INTO %s (collection, id, parent, seq, created_ns, body) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (collection, id) DO UPDATE SET parent = EXCLUDED.parent, seq = EXCLUDED.seq, created_ns = EXCLUDED.created_ns, body = EXCLUDED.body`, b.table)
	default:
		query = fmt.Sprintf(`INSERT INTO %s (collection, id, parent, seq, created_ns, body) VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE parent = VALUES(parent), seq = VALUES(seq), created_ns = VALUES(created_ns), body = VALUES(body)`, b.table)
	}
	_, err := b.db.ExecContext(ctx, b.rebind(query), rec.Collection, rec.ID, rec.Parent, rec.Seq, toNanos(rec.CreatedAt), string(rec.Body))
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to save %s %s", rec.Collection, rec.ID))
	}
	return nil
}

func (b *sqlBackend) get(ctx context.Context, collection, id string) (record, error) {
	query := b.rebind(fmt.Sprintf(
		"SELECT parent, seq, created_ns, body FROM %s WHERE collection = ? AND id = ?", b.table))
	rec := record{Collection: collection, ID: id}
	var created int64
	err := b.db.QueryRowContext(ctx, query, collection, id).Scan(&rec.Parent, &rec.Seq, &created, &rec.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return record{}, apperrors.NewNotFoundError(collection, id)
	}
	if err != nil {
		return record{}, apperrors.WrapError(err, fmt.Sprintf("failed to load %s %s", collection, id))
	}
	rec.CreatedAt = fromNanos(created)
	return rec, nil
}

func (b *sqlBackend) list(ctx context.Context, q query) ([]record, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT id, parent, seq, created_ns, body FROM %s WHERE collection = ?", b.table)
	args := []interface{}{q.Collection}
	if q.Parent != "" {
		sb.WriteString(" AND parent = ?")
		args = append(args, q.Parent)
	}
	if q.Seq != 0 {
		sb.WriteString(" AND seq = ?")
		args = append(args, q.Seq)
	}
	sb.WriteString(" ORDER BY seq DESC, created_ns DESC, pos DESC")
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}

	rows, err := b.db.QueryContext(ctx, b.rebind(sb.String()), args...)
	if err != nil {
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to list %s", q.Collection))
	}
	defer rows.Close()

	var out []record
	for rows.Next() {
		rec := record{Collection: q.Collection}
		var created int64
		if err := rows.Scan(&rec.ID, &rec.Parent, &rec.Seq, &created, &rec.Body); err != nil {
			return nil, apperrors.WrapError(err, fmt.Sprintf("failed to read %s", q.Collection))
		}
		rec.CreatedAt = fromNanos(created)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to list %s", q.Collection))
	}
	return out, nil
}

func (b *sqlBackend) close() error {
	return nil
}
