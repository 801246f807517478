package schema

import (
	"fmt"
	"time"
)

// Snapshot is a content-addressed capture of a database structure.
// Treat a Snapshot as read-only once NewSnapshot has returned it.
type Snapshot struct {
	ID          string                 `json:"id"`
	Database    string                 `json:"database"`
	Version     int                    `json:"version"`
	Hash        string                 `json:"hash"`
	Tables      []TableDefinition      `json:"tables"`
	Indexes     []IndexDefinition      `json:"indexes"`
	Constraints []ConstraintDefinition `json:"constraints"`
	CapturedAt  time.Time              `json:"captured_at"`
}

// TableDefinition represents a table and its columns
type TableDefinition struct {
	Name     string             `json:"name"`
	Columns  []ColumnDefinition `json:"columns"`
	RowCount int64              `json:"row_count"`
}

// ColumnDefinition represents a table column
type ColumnDefinition struct {
	Name         string  `json:"name"`
	DataType     string  `json:"data_type"`
	IsNullable   bool    `json:"is_nullable"`
	DefaultValue *string `json:"default_value,omitempty"`
	IsPrimaryKey bool    `json:"is_primary_key"`
	Length       int64   `json:"length,omitempty"`
	Position     int     `json:"position"`
}

// IndexDefinition represents a table index
type IndexDefinition struct {
	Name      string   `json:"name"`
	TableName string   `json:"table_name"`
	Columns   []string `json:"columns"`
	IsUnique  bool     `json:"is_unique"`
	IsPrimary bool     `json:"is_primary"`
	IndexType string   `json:"index_type,omitempty"`
}

// ConstraintType represents the type of database constraint
type ConstraintType string

const (
	ConstraintTypePrimaryKey ConstraintType = "PRIMARY_KEY"
	ConstraintTypeForeignKey ConstraintType = "FOREIGN_KEY"
	ConstraintTypeUnique     ConstraintType = "UNIQUE"
	ConstraintTypeCheck      ConstraintType = "CHECK"
)

// ConstraintDefinition represents a table constraint
type ConstraintDefinition struct {
	Name              string         `json:"name"`
	TableName         string         `json:"table_name"`
	Type              ConstraintType `json:"type"`
	Columns           []string       `json:"columns"`
	ReferencedTable   string         `json:"referenced_table,omitempty"`
	ReferencedColumns []string       `json:"referenced_columns,omitempty"`
	OnUpdate          string         `json:"on_update,omitempty"`
	OnDelete          string         `json:"on_delete,omitempty"`
	CheckExpression   string         `json:"check_expression,omitempty"`
}

// Structure is the raw, unnormalized output of an introspector
type Structure struct {
	Database    string
	Tables      []TableDefinition
	Indexes     []IndexDefinition
	Constraints []ConstraintDefinition
}

// Key identifies an index within a schema
func (i IndexDefinition) Key() string {
	return i.TableName + "." + i.Name
}

// Key identifies a constraint within a schema
func (c ConstraintDefinition) Key() string {
	return c.TableName + "." + c.Name
}

// Table returns the named table, or nil
func (s *Snapshot) Table(name string) *TableDefinition {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// TotalRows sums the row counts reported at capture time
func (s *Snapshot) TotalRows() int64 {
	var total int64
	for _, t := range s.Tables {
		total += t.RowCount
	}
	return total
}

// Column returns the named column, or nil
func (t *TableDefinition) Column(name string) *ColumnDefinition {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// Validate validates the Structure before it becomes a snapshot
func (s *Structure) Validate() error {
	if s.Database == "" {
		return fmt.Errorf("database name cannot be empty")
	}

	tables := make(map[string]bool, len(s.Tables))
	for _, table := range s.Tables {
		if err := table.Validate(); err != nil {
			return fmt.Errorf("invalid table %s: %w", table.Name, err)
		}
		if tables[table.Name] {
			return fmt.Errorf("duplicate table %s", table.Name)
		}
		tables[table.Name] = true
	}

	for _, index := range s.Indexes {
		if err := index.Validate(); err != nil {
			return fmt.Errorf("invalid index %s: %w", index.Name, err)
		}
		if !tables[index.TableName] {
			return fmt.Errorf("index %s references unknown table %s", index.Name, index.TableName)
		}
	}

	for _, constraint := range s.Constraints {
		if err := constraint.Validate(); err != nil {
			return fmt.Errorf("invalid constraint %s: %w", constraint.Name, err)
		}
		if !tables[constraint.TableName] {
			return fmt.Errorf("constraint %s references unknown table %s", constraint.Name, constraint.TableName)
		}
	}

	return nil
}

// Validate validates the TableDefinition structure
func (t *TableDefinition) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name cannot be empty")
	}

	seen := make(map[string]bool, len(t.Columns))
	for _, column := range t.Columns {
		if err := column.Validate(); err != nil {
			return fmt.Errorf("invalid column %s: %w", column.Name, err)
		}
		if seen[column.Name] {
			return fmt.Errorf("duplicate column %s", column.Name)
		}
		seen[column.Name] = true
	}

	if t.RowCount < 0 {
		return fmt.Errorf("row count must be non-negative")
	}

	return nil
}

// Validate validates the ColumnDefinition structure
func (c *ColumnDefinition) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("column name cannot be empty")
	}
	if c.DataType == "" {
		return fmt.Errorf("column data type cannot be empty")
	}
	if c.Position < 0 {
		return fmt.Errorf("column position must be non-negative")
	}
	return nil
}

// Validate validates the IndexDefinition structure
func (i *IndexDefinition) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("index name cannot be empty")
	}
	if i.TableName == "" {
		return fmt.Errorf("index table name cannot be empty")
	}
	if len(i.Columns) == 0 {
		return fmt.Errorf("index must have at least one column")
	}
	return nil
}

// Validate validates the ConstraintDefinition structure
func (c *ConstraintDefinition) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("constraint name cannot be empty")
	}
	if c.TableName == "" {
		return fmt.Errorf("constraint table name cannot be empty")
	}

	switch c.Type {
	case ConstraintTypePrimaryKey, ConstraintTypeUnique:
		if len(c.Columns) == 0 {
			return fmt.Errorf("%s constraint must have at least one column", c.Type)
		}
	case ConstraintTypeForeignKey:
		if c.ReferencedTable == "" {
			return fmt.Errorf("foreign key constraint must have referenced table")
		}
		if len(c.Columns) != len(c.ReferencedColumns) {
			return fmt.Errorf("foreign key constraint must have same number of columns and referenced columns")
		}
	case ConstraintTypeCheck:
		if c.CheckExpression == "" {
			return fmt.Errorf("check constraint must have check expression")
		}
	default:
		return fmt.Errorf("invalid constraint type: %s", c.Type)
	}

	return nil
}
