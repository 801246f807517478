// Package migration replays captured schema snapshots onto restore targets.
package migration

import (
	"fmt"
	"strings"
)

// StatementType represents the type of replay statement
type StatementType string

const (
	StatementTypeDropTable     StatementType = "DROP_TABLE"
	StatementTypeCreateTable   StatementType = "CREATE_TABLE"
	StatementTypeCreateIndex   StatementType = "CREATE_INDEX"
	StatementTypeAddConstraint StatementType = "ADD_CONSTRAINT"
)

// MigrationStatement represents a single SQL statement in a replay plan
type MigrationStatement struct {
	SQL           string        `json:"sql"`
	Type          StatementType `json:"type"`
	Description   string        `json:"description"`
	IsDestructive bool          `json:"is_destructive"`
	TableName     string        `json:"table_name,omitempty"`
}

// MigrationPlan is the ordered set of statements that rebuilds a snapshot
type MigrationPlan struct {
	SnapshotID   string               `json:"snapshot_id"`
	SnapshotHash string               `json:"snapshot_hash"`
	Statements   []MigrationStatement `json:"statements"`
	Warnings     []string             `json:"warnings"`
	Summary      MigrationSummary     `json:"summary"`
}

// MigrationSummary provides a high-level overview of the plan
type MigrationSummary struct {
	TotalStatements  int `json:"total_statements"`
	DestructiveCount int `json:"destructive_count"`
	TablesDropped    int `json:"tables_dropped"`
	TablesCreated    int `json:"tables_created"`
	IndexesCreated   int `json:"indexes_created"`
	ConstraintsAdded int `json:"constraints_added"`
}

var validStatementTypes = map[StatementType]bool{
	StatementTypeDropTable:     true,
	StatementTypeCreateTable:   true,
	StatementTypeCreateIndex:   true,
	StatementTypeAddConstraint: true,
}

// Validate validates the MigrationStatement
func (ms *MigrationStatement) Validate() error {
	if ms.SQL == "" {
		return fmt.Errorf("migration statement SQL cannot be empty")
	}
	if ms.Description == "" {
		return fmt.Errorf("migration statement description cannot be empty")
	}
	if !validStatementTypes[ms.Type] {
		return fmt.Errorf("invalid statement type: %q", ms.Type)
	}
	return nil
}

// Validate validates the MigrationPlan
func (mp *MigrationPlan) Validate() error {
	if len(mp.Statements) == 0 {
		return fmt.Errorf("migration plan must have at least one statement")
	}
	for i, stmt := range mp.Statements {
		if err := stmt.Validate(); err != nil {
			return fmt.Errorf("invalid statement at index %d: %w", i, err)
		}
	}
	return nil
}

// IsDestructive returns true if the statement type discards existing objects
func (st StatementType) IsDestructive() bool {
	return st == StatementTypeDropTable
}

// GetExecutionOrder returns the execution order priority for statement types.
// Lower numbers execute first; foreign keys go last so every referenced
// table already exists.
func (st StatementType) GetExecutionOrder() int {
	switch st {
	case StatementTypeDropTable:
		return 1
	case StatementTypeCreateTable:
		return 2
	case StatementTypeCreateIndex:
		return 3
	case StatementTypeAddConstraint:
		return 4
	default:
		return 999
	}
}

// NewMigrationStatement creates a new MigrationStatement
func NewMigrationStatement(sql string, stmtType StatementType, table, description string) MigrationStatement {
	return MigrationStatement{
		SQL:           sql,
		Type:          stmtType,
		Description:   description,
		IsDestructive: stmtType.IsDestructive(),
		TableName:     table,
	}
}

// NewMigrationPlan creates an empty plan
func NewMigrationPlan() *MigrationPlan {
	return &MigrationPlan{
		Statements: make([]MigrationStatement, 0),
		Warnings:   make([]string, 0),
	}
}

// AddStatement adds a statement to the plan
func (mp *MigrationPlan) AddStatement(stmt MigrationStatement) error {
	if err := stmt.Validate(); err != nil {
		return fmt.Errorf("cannot add invalid statement: %w", err)
	}
	mp.Statements = append(mp.Statements, stmt)
	mp.updateSummary()
	return nil
}

// AddWarning adds a warning to the plan
func (mp *MigrationPlan) AddWarning(warning string) {
	mp.Warnings = append(mp.Warnings, warning)
}

func (mp *MigrationPlan) updateSummary() {
	summary := MigrationSummary{TotalStatements: len(mp.Statements)}
	for _, stmt := range mp.Statements {
		if stmt.IsDestructive {
			summary.DestructiveCount++
		}
		switch stmt.Type {
		case StatementTypeDropTable:
			summary.TablesDropped++
		case StatementTypeCreateTable:
			summary.TablesCreated++
		case StatementTypeCreateIndex:
			summary.IndexesCreated++
		case StatementTypeAddConstraint:
			summary.ConstraintsAdded++
		}
	}
	mp.Summary = summary
}

// HasDestructiveOperations returns true if the plan drops existing tables
func (mp *MigrationPlan) HasDestructiveOperations() bool {
	return mp.Summary.DestructiveCount > 0
}

// GetStatementsByType returns all statements of a specific type
func (mp *MigrationPlan) GetStatementsByType(stmtType StatementType) []MigrationStatement {
	var statements []MigrationStatement
	for _, stmt := range mp.Statements {
		if stmt.Type == stmtType {
			statements = append(statements, stmt)
		}
	}
	return statements
}

// SQL returns the statements in execution order
func (mp *MigrationPlan) SQL() []string {
	out := make([]string, len(mp.Statements))
	for i, stmt := range mp.Statements {
		out[i] = stmt.SQL
	}
	return out
}

// String returns a string representation of the plan
func (mp *MigrationPlan) String() string {
	var builder strings.Builder

	builder.WriteString("Replay Plan Summary:\n")
	if mp.SnapshotID != "" {
		builder.WriteString(fmt.Sprintf("  Snapshot: %s\n", mp.SnapshotID))
	}
	builder.WriteString(fmt.Sprintf("  Total Statements: %d\n", mp.Summary.TotalStatements))
	builder.WriteString(fmt.Sprintf("  Tables: +%d -%d\n", mp.Summary.TablesCreated, mp.Summary.TablesDropped))
	builder.WriteString(fmt.Sprintf("  Indexes: +%d\n", mp.Summary.IndexesCreated))
	builder.WriteString(fmt.Sprintf("  Constraints: +%d\n", mp.Summary.ConstraintsAdded))

	if len(mp.Warnings) > 0 {
		builder.WriteString("\nWarnings:\n")
		for _, warning := range mp.Warnings {
			builder.WriteString(fmt.Sprintf("  - %s\n", warning))
		}
	}
	return builder.String()
}
