package migration

import (
	"fmt"
	"sort"

	"db-resilience/internal/schema"
)

// ReplayOptions controls how a snapshot is rebuilt on a target
type ReplayOptions struct {
	// DropExisting drops every snapshot table on the target before
	// recreating it
	DropExisting bool
}

// MigrationPlanner builds replay plans from schema snapshots
type MigrationPlanner struct {
	sqlGenerator *SQLGenerator
}

// NewMigrationPlanner creates a planner writing the given driver's dialect
func NewMigrationPlanner(driver string) (*MigrationPlanner, error) {
	generator, err := NewSQLGenerator(driver)
	if err != nil {
		return nil, err
	}
	return &MigrationPlanner{sqlGenerator: generator}, nil
}

// PlanReplay creates the statements that rebuild snapshot on an empty target
func (mp *MigrationPlanner) PlanReplay(snapshot *schema.Snapshot, opts ReplayOptions) (*MigrationPlan, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot cannot be nil")
	}

	plan := NewMigrationPlan()
	plan.SnapshotID = snapshot.ID
	plan.SnapshotHash = snapshot.Hash

	primaryKeys := primaryKeyColumns(snapshot)
	indexNames := make(map[string]bool, len(snapshot.Indexes))
	for _, idx := range snapshot.Indexes {
		indexNames[idx.Key()] = true
	}

	if opts.DropExisting {
		if err := mp.planTableDrops(plan, snapshot.Tables); err != nil {
			return nil, fmt.Errorf("failed to plan table drops: %w", err)
		}
	}
	if err := mp.planTableCreations(plan, snapshot.Tables, primaryKeys); err != nil {
		return nil, fmt.Errorf("failed to plan table creations: %w", err)
	}
	if err := mp.planIndexCreations(plan, snapshot.Indexes); err != nil {
		return nil, fmt.Errorf("failed to plan index creations: %w", err)
	}
	if err := mp.planConstraintAdditions(plan, snapshot.Constraints, indexNames); err != nil {
		return nil, fmt.Errorf("failed to plan constraint additions: %w", err)
	}

	mp.sortStatements(plan)

	if plan.HasDestructiveOperations() {
		plan.AddWarning(fmt.Sprintf("%d existing tables on the target will be dropped", plan.Summary.TablesDropped))
	}
	return plan, nil
}

func (mp *MigrationPlanner) planTableDrops(plan *MigrationPlan, tables []schema.TableDefinition) error {
	for _, table := range tables {
		sql, err := mp.sqlGenerator.GenerateDropTableSQL(table.Name)
		if err != nil {
			return fmt.Errorf("failed to generate DROP TABLE for %s: %w", table.Name, err)
		}
		stmt := NewMigrationStatement(sql, StatementTypeDropTable, table.Name, fmt.Sprintf("Drop table '%s'", table.Name))
		if err := plan.AddStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (mp *MigrationPlanner) planTableCreations(plan *MigrationPlan, tables []schema.TableDefinition, primaryKeys map[string][]string) error {
	for i := range tables {
		table := &tables[i]
		sql, err := mp.sqlGenerator.GenerateCreateTableSQL(table, primaryKeys[table.Name])
		if err != nil {
			return fmt.Errorf("failed to generate CREATE TABLE for %s: %w", table.Name, err)
		}
		stmt := NewMigrationStatement(sql, StatementTypeCreateTable, table.Name, fmt.Sprintf("Create table '%s'", table.Name))
		if err := plan.AddStatement(stmt); err != nil {
			return err
		}
		if len(primaryKeys[table.Name]) == 0 {
			plan.AddWarning(fmt.Sprintf("Table '%s' has no primary key", table.Name))
		}
	}
	return nil
}

func (mp *MigrationPlanner) planIndexCreations(plan *MigrationPlan, indexes []schema.IndexDefinition) error {
	for i := range indexes {
		index := &indexes[i]
		if index.IsPrimary {
			continue
		}
		sql, err := mp.sqlGenerator.GenerateCreateIndexSQL(index)
		if err != nil {
			return fmt.Errorf("failed to generate CREATE INDEX for %s: %w", index.Key(), err)
		}
		stmt := NewMigrationStatement(sql, StatementTypeCreateIndex, index.TableName,
			fmt.Sprintf("Create index '%s' on table '%s'", index.Name, index.TableName))
		if err := plan.AddStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

// planConstraintAdditions skips primary keys, which are part of CREATE
// TABLE, and unique constraints already rebuilt through their backing index.
func (mp *MigrationPlanner) planConstraintAdditions(plan *MigrationPlan, constraints []schema.ConstraintDefinition, indexNames map[string]bool) error {
	for i := range constraints {
		constraint := &constraints[i]
		switch constraint.Type {
		case schema.ConstraintTypePrimaryKey:
			continue
		case schema.ConstraintTypeUnique:
			if indexNames[constraint.Key()] {
				continue
			}
		}
		sql, err := mp.sqlGenerator.GenerateAddConstraintSQL(constraint)
		if err != nil {
			return fmt.Errorf("failed to generate constraint %s: %w", constraint.Key(), err)
		}
		stmt := NewMigrationStatement(sql, StatementTypeAddConstraint, constraint.TableName,
			fmt.Sprintf("Add %s constraint '%s' to table '%s'", constraint.Type, constraint.Name, constraint.TableName))
		if err := plan.AddStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

// sortStatements sorts statements by execution order, then table name
func (mp *MigrationPlanner) sortStatements(plan *MigrationPlan) {
	sort.SliceStable(plan.Statements, func(i, j int) bool {
		orderI := plan.Statements[i].Type.GetExecutionOrder()
		orderJ := plan.Statements[j].Type.GetExecutionOrder()
		if orderI != orderJ {
			return orderI < orderJ
		}
		return plan.Statements[i].TableName < plan.Statements[j].TableName
	})
}

// primaryKeyColumns resolves each table's primary key from its primary
// index, falling back to a PRIMARY_KEY constraint, then to column flags
func primaryKeyColumns(snapshot *schema.Snapshot) map[string][]string {
	keys := make(map[string][]string)
	for _, idx := range snapshot.Indexes {
		if idx.IsPrimary {
			keys[idx.TableName] = idx.Columns
		}
	}
	for _, c := range snapshot.Constraints {
		if c.Type == schema.ConstraintTypePrimaryKey && len(keys[c.TableName]) == 0 {
			keys[c.TableName] = c.Columns
		}
	}
	for _, table := range snapshot.Tables {
		if len(keys[table.Name]) > 0 {
			continue
		}
		for _, col := range table.Columns {
			if col.IsPrimaryKey {
				keys[table.Name] = append(keys[table.Name], col.Name)
			}
		}
	}
	return keys
}
