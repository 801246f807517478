package migration

import (
	"fmt"
	"strconv"
	"strings"

	"db-resilience/internal/database"
	"db-resilience/internal/schema"
)

// SQLGenerator renders snapshot definitions as DDL for one SQL dialect
type SQLGenerator struct {
	driver string
}

// NewSQLGenerator creates a generator for the given database driver
func NewSQLGenerator(driver string) (*SQLGenerator, error) {
	switch driver {
	case database.DriverMySQL, database.DriverPostgres:
		return &SQLGenerator{driver: driver}, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

// Driver returns the dialect the generator writes
func (sg *SQLGenerator) Driver() string {
	return sg.driver
}

func (sg *SQLGenerator) quote(name string) string {
	if sg.driver == database.DriverPostgres {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (sg *SQLGenerator) quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = sg.quote(n)
	}
	return strings.Join(quoted, ", ")
}

// GenerateCreateTableSQL generates SQL for creating a table with its
// columns and primary key. Secondary indexes and foreign keys are separate
// statements.
func (sg *SQLGenerator) GenerateCreateTableSQL(table *schema.TableDefinition, primaryKey []string) (string, error) {
	if table == nil {
		return "", fmt.Errorf("table cannot be nil")
	}
	if err := table.Validate(); err != nil {
		return "", fmt.Errorf("invalid table: %w", err)
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("CREATE TABLE %s (\n", sg.quote(table.Name)))

	parts := make([]string, 0, len(table.Columns)+1)
	for i := range table.Columns {
		def, err := sg.generateColumnDefinition(&table.Columns[i])
		if err != nil {
			return "", fmt.Errorf("failed to generate column definition for %s: %w", table.Columns[i].Name, err)
		}
		parts = append(parts, "  "+def)
	}
	if len(primaryKey) > 0 {
		parts = append(parts, fmt.Sprintf("  PRIMARY KEY (%s)", sg.quoteAll(primaryKey)))
	}

	builder.WriteString(strings.Join(parts, ",\n"))
	builder.WriteString("\n)")
	return builder.String(), nil
}

// GenerateDropTableSQL generates SQL for dropping a table if it exists
func (sg *SQLGenerator) GenerateDropTableSQL(table string) (string, error) {
	if table == "" {
		return "", fmt.Errorf("table name cannot be empty")
	}
	if sg.driver == database.DriverPostgres {
		return fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", sg.quote(table)), nil
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", sg.quote(table)), nil
}

// GenerateCreateIndexSQL generates SQL for creating a secondary index
func (sg *SQLGenerator) GenerateCreateIndexSQL(index *schema.IndexDefinition) (string, error) {
	if index == nil {
		return "", fmt.Errorf("index cannot be nil")
	}
	if err := index.Validate(); err != nil {
		return "", fmt.Errorf("invalid index: %w", err)
	}
	if index.IsPrimary {
		return "", fmt.Errorf("primary key %s is created with its table", index.Name)
	}

	method := strings.ToUpper(index.IndexType)
	kind := "INDEX"
	switch {
	case sg.driver == database.DriverMySQL && (method == "FULLTEXT" || method == "SPATIAL"):
		kind = method + " INDEX"
		method = ""
	case index.IsUnique:
		kind = "UNIQUE INDEX"
	}
	if method == "BTREE" {
		method = ""
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("CREATE %s %s ON %s", kind, sg.quote(index.Name), sg.quote(index.TableName)))
	if sg.driver == database.DriverPostgres && method != "" {
		builder.WriteString(" USING " + strings.ToLower(method))
	}
	builder.WriteString(fmt.Sprintf(" (%s)", sg.quoteAll(index.Columns)))
	if sg.driver == database.DriverMySQL && method != "" {
		builder.WriteString(" USING " + method)
	}
	return builder.String(), nil
}

// GenerateAddConstraintSQL generates SQL for adding a constraint
func (sg *SQLGenerator) GenerateAddConstraintSQL(constraint *schema.ConstraintDefinition) (string, error) {
	if constraint == nil {
		return "", fmt.Errorf("constraint cannot be nil")
	}
	if err := constraint.Validate(); err != nil {
		return "", fmt.Errorf("invalid constraint: %w", err)
	}

	prefix := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s ", sg.quote(constraint.TableName), sg.quote(constraint.Name))

	switch constraint.Type {
	case schema.ConstraintTypeForeignKey:
		var builder strings.Builder
		builder.WriteString(prefix)
		builder.WriteString(fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			sg.quoteAll(constraint.Columns),
			sg.quote(constraint.ReferencedTable),
			sg.quoteAll(constraint.ReferencedColumns)))
		if constraint.OnUpdate != "" {
			builder.WriteString(" ON UPDATE " + constraint.OnUpdate)
		}
		if constraint.OnDelete != "" {
			builder.WriteString(" ON DELETE " + constraint.OnDelete)
		}
		return builder.String(), nil
	case schema.ConstraintTypeUnique:
		return prefix + fmt.Sprintf("UNIQUE (%s)", sg.quoteAll(constraint.Columns)), nil
	case schema.ConstraintTypeCheck:
		if constraint.CheckExpression == "" {
			return "", fmt.Errorf("check constraint %s has no expression", constraint.Name)
		}
		return prefix + fmt.Sprintf("CHECK (%s)", constraint.CheckExpression), nil
	default:
		return "", fmt.Errorf("unsupported constraint type: %s", constraint.Type)
	}
}

// generateColumnDefinition generates the SQL definition for a column
func (sg *SQLGenerator) generateColumnDefinition(column *schema.ColumnDefinition) (string, error) {
	if column == nil {
		return "", fmt.Errorf("column cannot be nil")
	}

	dataType := column.DataType
	var defaultValue *string
	if column.DefaultValue != nil {
		v := *column.DefaultValue
		defaultValue = &v
	}

	if sg.driver == database.DriverPostgres {
		// sequences are not part of the snapshot; serial types recreate them
		if defaultValue != nil && strings.HasPrefix(strings.ToLower(*defaultValue), "nextval(") {
			switch dataType {
			case "bigint":
				dataType = "bigserial"
			case "smallint":
				dataType = "smallserial"
			default:
				dataType = "serial"
			}
			defaultValue = nil
		} else if column.Length > 0 && (dataType == "character varying" || dataType == "character") {
			dataType = fmt.Sprintf("%s(%d)", dataType, column.Length)
		}
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("%s %s", sg.quote(column.Name), dataType))

	if !column.IsNullable {
		builder.WriteString(" NOT NULL")
	} else {
		builder.WriteString(" NULL")
	}

	if defaultValue != nil {
		builder.WriteString(" DEFAULT " + sg.formatDefault(*defaultValue))
	}
	return builder.String(), nil
}

// formatDefault renders a default captured from the catalog. Postgres
// reports defaults as expressions already; MySQL reports literals bare.
func (sg *SQLGenerator) formatDefault(value string) string {
	if sg.driver == database.DriverPostgres {
		return value
	}

	upper := strings.ToUpper(value)
	switch {
	case upper == "NULL",
		strings.HasPrefix(upper, "CURRENT_TIMESTAMP"),
		upper == "NOW()",
		strings.HasPrefix(value, "("):
		return value
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
