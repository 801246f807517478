package migration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"db-resilience/internal/schema"
)

func strPtr(s string) *string { return &s }

// ordersSnapshot is a two-table MySQL schema with a unique index backing a
// unique constraint and a foreign key between the tables.
func ordersSnapshot(t *testing.T) *schema.Snapshot {
	t.Helper()

	structure := &schema.Structure{
		Database: "orders",
		Tables: []schema.TableDefinition{
			{
				Name: "orders",
				Columns: []schema.ColumnDefinition{
					{Name: "id", DataType: "bigint", Position: 1},
					{Name: "customer_id", DataType: "bigint", Position: 2},
					{Name: "total", DataType: "decimal(10,2)", DefaultValue: strPtr("0.00"), Position: 3},
				},
			},
			{
				Name: "customers",
				Columns: []schema.ColumnDefinition{
					{Name: "id", DataType: "BIGINT", Position: 1},
					{Name: "email", DataType: "varchar(320)", Length: 320, Position: 2},
					{Name: "status", DataType: "varchar(16)", DefaultValue: strPtr("active"), Position: 3},
					{Name: "created_at", DataType: "timestamp", IsNullable: true, DefaultValue: strPtr("CURRENT_TIMESTAMP"), Position: 4},
				},
			},
		},
		Indexes: []schema.IndexDefinition{
			{Name: "PRIMARY", TableName: "customers", Columns: []string{"id"}, IsPrimary: true, IndexType: "BTREE"},
			{Name: "uniq_email", TableName: "customers", Columns: []string{"email"}, IsUnique: true, IndexType: "BTREE"},
			{Name: "PRIMARY", TableName: "orders", Columns: []string{"id"}, IsPrimary: true, IndexType: "BTREE"},
			{Name: "idx_customer", TableName: "orders", Columns: []string{"customer_id"}, IndexType: "BTREE"},
		},
		Constraints: []schema.ConstraintDefinition{
			{Name: "PRIMARY", TableName: "customers", Type: schema.ConstraintTypePrimaryKey, Columns: []string{"id"}},
			{Name: "uniq_email", TableName: "customers", Type: schema.ConstraintTypeUnique, Columns: []string{"email"}},
			{
				Name:              "fk_orders_customer",
				TableName:         "orders",
				Type:              schema.ConstraintTypeForeignKey,
				Columns:           []string{"customer_id"},
				ReferencedTable:   "customers",
				ReferencedColumns: []string{"id"},
				OnDelete:          "cascade",
			},
		},
	}

	snapshot, err := schema.NewSnapshot(structure, 3, time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return snapshot
}
