package schema

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Introspector reads the raw structure of one database namespace. It is
// read-only; normalization happens in NewSnapshot.
type Introspector interface {
	Introspect(ctx context.Context) (*Structure, error)
	Database() string
}

// NewIntrospector returns the introspector for the given driver
func NewIntrospector(driver string, db *sql.DB, namespace string, queryTimeout time.Duration) (Introspector, error) {
	switch driver {
	case "mysql":
		return NewMySQLIntrospector(db, namespace, queryTimeout), nil
	case "postgres":
		return NewPostgresIntrospector(db, namespace, queryTimeout), nil
	default:
		return nil, fmt.Errorf("unsupported driver for introspection: %s", driver)
	}
}

// MySQLIntrospector extracts schema structure from MySQL INFORMATION_SCHEMA
type MySQLIntrospector struct {
	db           *sql.DB
	schemaName   string
	queryTimeout time.Duration
}

// NewMySQLIntrospector creates a new MySQL introspector
func NewMySQLIntrospector(db *sql.DB, schemaName string, queryTimeout time.Duration) *MySQLIntrospector {
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	return &MySQLIntrospector{
		db:           db,
		schemaName:   schemaName,
		queryTimeout: queryTimeout,
	}
}

// Database returns the introspected schema name
func (m *MySQLIntrospector) Database() string {
	return m.schemaName
}

// Introspect extracts tables, columns, indexes and key constraints
func (m *MySQLIntrospector) Introspect(ctx context.Context) (*Structure, error) {
	if m.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if m.schemaName == "" {
		return nil, fmt.Errorf("schema name cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()

	tables, order, err := m.extractTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to extract tables: %w", err)
	}

	if err := m.extractColumns(ctx, tables); err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}

	indexes, err := m.extractIndexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}

	constraints, err := m.extractConstraints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to extract constraints: %w", err)
	}

	structure := &Structure{
		Database:    m.schemaName,
		Tables:      make([]TableDefinition, 0, len(order)),
		Indexes:     filterIndexes(indexes, tables),
		Constraints: filterConstraints(constraints, tables),
	}
	for _, name := range order {
		structure.Tables = append(structure.Tables, *tables[name])
	}

	return structure, nil
}

func (m *MySQLIntrospector) extractTables(ctx context.Context) (map[string]*TableDefinition, []string, error) {
	query := `
		SELECT TABLE_NAME, COALESCE(TABLE_ROWS, 0)
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`

	rows, err := m.db.QueryContext(ctx, query, m.schemaName)
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

func (m *MySQLIntrospector) extractColumns(ctx context.Context, tables map[string]*TableDefinition) error {
	query := `
		SELECT
			TABLE_NAME,
			COLUMN_NAME,
			COLUMN_TYPE,
			IS_NULLABLE,
			COLUMN_DEFAULT,
			COLUMN_KEY,
			CHARACTER_MAXIMUM_LENGTH,
			ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME, ORDINAL_POSITION
	`

	rows, err := m.db.QueryContext(ctx, query, m.schemaName)
	if err != nil {
		return fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName, columnName, columnType, isNullable, columnKey string
		var defaultValue sql.NullString
		var length sql.NullInt64
		var position int

		if err := rows.Scan(&tableName, &columnName, &columnType, &isNullable,
			&defaultValue, &columnKey, &length, &position); err != nil {
			return fmt.Errorf("failed to scan column data: %w", err)
		}

		table, ok := tables[tableName]
		if !ok {
			// views share INFORMATION_SCHEMA.COLUMNS
			continue
		}

		column := ColumnDefinition{
			Name:         columnName,
			DataType:     columnType,
			IsNullable:   isNullable == "YES",
			IsPrimaryKey: columnKey == "PRI",
			Position:     position,
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

func (m *MySQLIntrospector) extractIndexes(ctx context.Context) ([]IndexDefinition, error) {
	query := `
		SELECT
			TABLE_NAME,
			INDEX_NAME,
			COLUMN_NAME,
			NON_UNIQUE,
			INDEX_TYPE
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME, INDEX_NAME, SEQ_IN_INDEX
	`

	rows, err := m.db.QueryContext(ctx, query, m.schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes: %w", err)
	}
	defer rows.Close()

	builder := newIndexBuilder()
	for rows.Next() {
		var tableName, indexName, columnName, indexType string
		var nonUnique int

		if err := rows.Scan(&tableName, &indexName, &columnName, &nonUnique, &indexType); err != nil {
			return nil, fmt.Errorf("failed to scan index data: %w", err)
		}

		builder.add(tableName, indexName, columnName, nonUnique == 0, indexName == "PRIMARY", indexType)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index rows: %w", err)
	}

	return builder.build(), nil
}

func (m *MySQLIntrospector) extractConstraints(ctx context.Context) ([]ConstraintDefinition, error) {
	query := `
		SELECT
			tc.TABLE_NAME,
			tc.CONSTRAINT_NAME,
			tc.CONSTRAINT_TYPE,
			kcu.COLUMN_NAME,
			kcu.REFERENCED_TABLE_NAME,
			kcu.REFERENCED_COLUMN_NAME,
			rc.UPDATE_RULE,
			rc.DELETE_RULE
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON kcu.CONSTRAINT_SCHEMA = tc.CONSTRAINT_SCHEMA
			AND kcu.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
			AND kcu.TABLE_NAME = tc.TABLE_NAME
		LEFT JOIN INFORMATION_SCHEMA.REFERENTIAL_CONSTRAINTS rc
			ON rc.CONSTRAINT_SCHEMA = tc.CONSTRAINT_SCHEMA
			AND rc.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
		WHERE tc.TABLE_SCHEMA = ?
			AND tc.CONSTRAINT_TYPE IN ('PRIMARY KEY', 'UNIQUE', 'FOREIGN KEY')
		ORDER BY tc.TABLE_NAME, tc.CONSTRAINT_NAME, kcu.ORDINAL_POSITION
	`

	rows, err := m.db.QueryContext(ctx, query, m.schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to query constraints: %w", err)
	}
	defer rows.Close()

	return scanConstraintRows(rows)
}

// constraintRowScanner is satisfied by *sql.Rows
type constraintRowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanConstraintRows(rows constraintRowScanner) ([]ConstraintDefinition, error) {
	builder := newConstraintBuilder()
	for rows.Next() {
		var tableName, name, constraintType, column string
		var refTable, refColumn, updateRule, deleteRule sql.NullString

		if err := rows.Scan(&tableName, &name, &constraintType, &column,
			&refTable, &refColumn, &updateRule, &deleteRule); err != nil {
			return nil, fmt.Errorf("failed to scan constraint data: %w", err)
		}

		builder.add(tableName, name, toConstraintType(constraintType), column,
			refTable.String, refColumn.String, updateRule.String, deleteRule.String)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating constraint rows: %w", err)
	}

	return builder.build(), nil
}

func toConstraintType(raw string) ConstraintType {
	switch raw {
	case "PRIMARY KEY":
		return ConstraintTypePrimaryKey
	case "FOREIGN KEY":
		return ConstraintTypeForeignKey
	case "UNIQUE":
		return ConstraintTypeUnique
	default:
		return ConstraintTypeCheck
	}
}

// indexBuilder groups per-column index rows into index definitions while
// preserving first-seen order
type indexBuilder struct {
	order   []string
	indexes map[string]*IndexDefinition
}

func newIndexBuilder() *indexBuilder {
	return &indexBuilder{indexes: make(map[string]*IndexDefinition)}
}

func (b *indexBuilder) add(table, name, column string, unique, primary bool, indexType string) {
	key := table + "." + name
	idx, ok := b.indexes[key]
	if !ok {
		idx = &IndexDefinition{
			Name:      name,
			TableName: table,
			IsUnique:  unique,
			IsPrimary: primary,
			IndexType: indexType,
		}
		b.indexes[key] = idx
		b.order = append(b.order, key)
	}
	idx.Columns = append(idx.Columns, column)
}

func (b *indexBuilder) build() []IndexDefinition {
	out := make([]IndexDefinition, 0, len(b.order))
	for _, key := range b.order {
		out = append(out, *b.indexes[key])
	}
	return out
}

type constraintBuilder struct {
	order       []string
	constraints map[string]*ConstraintDefinition
}

func newConstraintBuilder() *constraintBuilder {
	return &constraintBuilder{constraints: make(map[string]*ConstraintDefinition)}
}

func (b *constraintBuilder) add(table, name string, ctype ConstraintType, column, refTable, refColumn, onUpdate, onDelete string) {
	key := table + "." + name
	c, ok := b.constraints[key]
	if !ok {
		c = &ConstraintDefinition{
			Name:            name,
			TableName:       table,
			Type:            ctype,
			ReferencedTable: refTable,
			OnUpdate:        onUpdate,
			OnDelete:        onDelete,
		}
		b.constraints[key] = c
		b.order = append(b.order, key)
	}
	c.Columns = append(c.Columns, column)
	if refColumn != "" {
		c.ReferencedColumns = append(c.ReferencedColumns, refColumn)
	}
}

func (b *constraintBuilder) build() []ConstraintDefinition {
	out := make([]ConstraintDefinition, 0, len(b.order))
	for _, key := range b.order {
		out = append(out, *b.constraints[key])
	}
	return out
}

func filterIndexes(indexes []IndexDefinition, tables map[string]*TableDefinition) []IndexDefinition {
	out := indexes[:0]
	for _, idx := range indexes {
		if _, ok := tables[idx.TableName]; ok {
			out = append(out, idx)
		}
	}
	return out
}

func filterConstraints(constraints []ConstraintDefinition, tables map[string]*TableDefinition) []ConstraintDefinition {
	out := constraints[:0]
	for _, c := range constraints {
		if _, ok := tables[c.TableName]; ok {
			out = append(out, c)
		}
	}
	return out
}
