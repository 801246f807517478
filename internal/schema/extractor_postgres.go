package schema

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresIntrospector extracts schema structure from the PostgreSQL catalogs
type PostgresIntrospector struct {
	db           *sql.DB
	namespace    string
	queryTimeout time.Duration
}

// NewPostgresIntrospector creates an introspector for one PostgreSQL schema
// namespace (usually "public")
func NewPostgresIntrospector(db *sql.DB, namespace string, queryTimeout time.Duration) *PostgresIntrospector {
	if namespace == "" {
		namespace = "public"
	}
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	return &PostgresIntrospector{
		db:           db,
		namespace:    namespace,
		queryTimeout: queryTimeout,
	}
}

// Database returns the introspected namespace
func (p *PostgresIntrospector) Database() string {
	return p.namespace
}

// Introspect extracts tables, columns, indexes and key constraints
func (p *PostgresIntrospector) Introspect(ctx context.Context) (*Structure, error) {
	if p.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	tables, order, err := p.extractTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to extract tables: %w", err)
	}
	if err := p.extractColumns(ctx, tables); err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	indexes, err := p.extractIndexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}
	constraints, err := p.extractConstraints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to extract constraints: %w", err)
	}

	structure := &Structure{
		Database:    p.namespace,
		Tables:      make([]TableDefinition, 0, len(order)),
		Indexes:     filterIndexes(indexes, tables),
		Constraints: filterConstraints(constraints, tables),
	}
	for _, name := range order {
		structure.Tables = append(structure.Tables, *tables[name])
	}
	return structure, nil
}

func (p *PostgresIntrospector) extractTables(ctx context.Context) (map[string]*TableDefinition, []string, error) {
	query := `
		SELECT c.relname, GREATEST(c.reltuples, 0)::bigint
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relkind IN ('r', 'p')
		ORDER BY c.relname
	`

	rows, err := p.db.QueryContext(ctx, query, p.namespace)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	tables := make(map[string]*TableDefinition)
	var order []string
	for rows.Next() {
		var name string
		var rowCount int64
		if err := rows.Scan(&name, &rowCount); err != nil {
			return nil, nil, fmt.Errorf("failed to scan table row: %w", err)
		}
		tables[name] = &TableDefinition{Name: name, RowCount: rowCount}
		order = append(order, name)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating table rows: %w", err)
	}

	return tables, order, nil
}

func (p *PostgresIntrospector) extractColumns(ctx context.Context, tables map[string]*TableDefinition) error {
	query := `
		SELECT
			table_name,
			column_name,
			data_type,
			is_nullable,
			column_default,
			character_maximum_length,
			ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position
	`

	rows, err := p.db.QueryContext(ctx, query, p.namespace)
	if err != nil {
		return fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName, columnName, dataType, isNullable string
		var defaultValue sql.NullString
		var length sql.NullInt64
		var position int

		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable,
			&defaultValue, &length, &position); err != nil {
			return fmt.Errorf("failed to scan column data: %w", err)
		}

		table, ok := tables[tableName]
		if !ok {
			continue
		}

		column := ColumnDefinition{
			Name:       columnName,
			DataType:   dataType,
			IsNullable: isNullable == "YES",
			Position:   position,
		}
		if defaultValue.Valid {
			v := defaultValue.String
			column.DefaultValue = &v
		}
		if length.Valid {
			column.Length = length.Int64
		}
		table.Columns = append(table.Columns, column)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating column rows: %w", err)
	}
	return nil
}

func (p *PostgresIntrospector) extractIndexes(ctx context.Context) ([]IndexDefinition, error) {
	query := `
		SELECT
			t.relname,
			i.relname,
			a.attname,
			ix.indisunique,
			ix.indisprimary,
			am.amname
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_am am ON am.oid = i.relam
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname = $1
		ORDER BY t.relname, i.relname, k.ord
	`

	rows, err := p.db.QueryContext(ctx, query, p.namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes: %w", err)
	}
	defer rows.Close()

	builder := newIndexBuilder()
	for rows.Next() {
		var tableName, indexName, columnName, method string
		var unique, primary bool
		if err := rows.Scan(&tableName, &indexName, &columnName, &unique, &primary, &method); err != nil {
			return nil, fmt.Errorf("failed to scan index data: %w", err)
		}
		builder.add(tableName, indexName, columnName, unique, primary, method)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index rows: %w", err)
	}

	return builder.build(), nil
}

func (p *PostgresIntrospector) extractConstraints(ctx context.Context) ([]ConstraintDefinition, error) {
	query := `
		SELECT
			tc.table_name,
			tc.constraint_name,
			tc.constraint_type,
			kcu.column_name,
			ccu.table_name,
			ccu.column_name,
			rc.update_rule,
			rc.delete_rule
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON kcu.constraint_schema = tc.constraint_schema
			AND kcu.constraint_name = tc.constraint_name
			AND kcu.table_name = tc.table_name
		LEFT JOIN information_schema.referential_constraints rc
			ON rc.constraint_schema = tc.constraint_schema
			AND rc.constraint_name = tc.constraint_name
		LEFT JOIN information_schema.key_column_usage ccu
			ON ccu.constraint_schema = rc.unique_constraint_schema
			AND ccu.constraint_name = rc.unique_constraint_name
			AND ccu.ordinal_position = kcu.position_in_unique_constraint
		WHERE tc.table_schema = $1
			AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE', 'FOREIGN KEY')
		ORDER BY tc.table_name, tc.constraint_name, kcu.ordinal_position
	`

	rows, err := p.db.QueryContext(ctx, query, p.namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to query constraints: %w", err)
	}
	defer rows.Close()

	return scanConstraintRows(rows)
}
