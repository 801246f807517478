package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-resilience/internal/database"
	"db-resilience/internal/schema"
)

func TestMigrationPlanner_PlanReplay(t *testing.T) {
	planner, err := NewMigrationPlanner(database.DriverMySQL)
	require.NoError(t, err)

	snapshot := ordersSnapshot(t)
	plan, err := planner.PlanReplay(snapshot, ReplayOptions{})
	require.NoError(t, err)

	assert.Equal(t, snapshot.ID, plan.SnapshotID)
	assert.Equal(t, snapshot.Hash, plan.SnapshotHash)
	assert.False(t, plan.HasDestructiveOperations())
	assert.Empty(t, plan.Warnings)

	types := make([]StatementType, len(plan.Statements))
	tables := make([]string, len(plan.Statements))
	for i, stmt := range plan.Statements {
		types[i] = stmt.Type
		tables[i] = stmt.TableName
	}
	assert.Equal(t, []StatementType{
		StatementTypeCreateTable,
		StatementTypeCreateTable,
		StatementTypeCreateIndex,
		StatementTypeCreateIndex,
		StatementTypeAddConstraint,
	}, types)
	assert.Equal(t, []string{"customers", "orders", "customers", "orders", "orders"}, tables)

	assert.Contains(t, plan.Statements[1].SQL, "PRIMARY KEY (`id`)")
	assert.Equal(t, "ALTER TABLE `orders` ADD CONSTRAINT `fk_orders_customer` FOREIGN KEY (`customer_id`) REFERENCES `customers` (`id`) ON DELETE CASCADE",
		plan.Statements[4].SQL)

	assert.Equal(t, MigrationSummary{
		TotalStatements:  5,
		TablesCreated:    2,
		IndexesCreated:   2,
		ConstraintsAdded: 1,
	}, plan.Summary)
	require.NoError(t, plan.Validate())
}

func TestMigrationPlanner_DropExisting(t *testing.T) {
	planner, err := NewMigrationPlanner(database.DriverPostgres)
	require.NoError(t, err)

	plan, err := planner.PlanReplay(ordersSnapshot(t), ReplayOptions{DropExisting: true})
	require.NoError(t, err)

	drops := plan.GetStatementsByType(StatementTypeDropTable)
	require.Len(t, drops, 2)
	assert.Equal(t, StatementTypeDropTable, plan.Statements[0].Type)
	assert.Equal(t, StatementTypeDropTable, plan.Statements[1].Type)
	assert.True(t, plan.HasDestructiveOperations())
	assert.Equal(t, []string{"2 existing tables on the target will be dropped"}, plan.Warnings)
	assert.Contains(t, plan.String(), "Tables: +2 -2")
}

func TestMigrationPlanner_PrimaryKeyFallbacks(t *testing.T) {
	planner, err := NewMigrationPlanner(database.DriverMySQL)
	require.NoError(t, err)

	snapshot := &schema.Snapshot{
		ID: "snap",
		Tables: []schema.TableDefinition{
			{Name: "events", Columns: []schema.ColumnDefinition{{Name: "id", DataType: "bigint", IsPrimaryKey: true}}},
			{Name: "audit", Columns: []schema.ColumnDefinition{{Name: "line", DataType: "text"}}},
			{Name: "ledger", Columns: []schema.ColumnDefinition{{Name: "seq", DataType: "int"}}},
		},
		Constraints: []schema.ConstraintDefinition{
			{Name: "pk_ledger", TableName: "ledger", Type: schema.ConstraintTypePrimaryKey, Columns: []string{"seq"}},
		},
	}

	plan, err := planner.PlanReplay(snapshot, ReplayOptions{})
	require.NoError(t, err)
	require.Len(t, plan.Statements, 3)

	byTable := make(map[string]string)
	for _, stmt := range plan.Statements {
		byTable[stmt.TableName] = stmt.SQL
	}
	assert.Contains(t, byTable["events"], "PRIMARY KEY (`id`)")
	assert.Contains(t, byTable["ledger"], "PRIMARY KEY (`seq`)")
	assert.NotContains(t, byTable["audit"], "PRIMARY KEY")
	assert.Equal(t, []string{"Table 'audit' has no primary key"}, plan.Warnings)
}

func TestMigrationPlanner_Errors(t *testing.T) {
	_, err := NewMigrationPlanner("oracle")
	assert.Error(t, err)

	planner, err := NewMigrationPlanner(database.DriverMySQL)
	require.NoError(t, err)

	_, err = planner.PlanReplay(nil, ReplayOptions{})
	assert.Error(t, err)

	bad := &schema.Snapshot{Tables: []schema.TableDefinition{{Name: "t", Columns: []schema.ColumnDefinition{{Name: "c"}}}}}
	_, err = planner.PlanReplay(bad, ReplayOptions{})
	assert.Error(t, err)
}

func TestMigrationPlan_Validate(t *testing.T) {
	plan := NewMigrationPlan()
	assert.Error(t, plan.Validate())

	assert.Error(t, plan.AddStatement(MigrationStatement{SQL: "SELECT 1", Type: "SELECT", Description: "noop"}))
	assert.Error(t, plan.AddStatement(MigrationStatement{Type: StatementTypeCreateTable, Description: "empty"}))

	require.NoError(t, plan.AddStatement(NewMigrationStatement("CREATE TABLE t (id int)", StatementTypeCreateTable, "t", "Create table 't'")))
	assert.NoError(t, plan.Validate())
	assert.Equal(t, []string{"CREATE TABLE t (id int)"}, plan.SQL())
}
