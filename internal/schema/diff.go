package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Severity ranks how risky a schema change is
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: none < low < medium < high < critical
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// MaxSeverity returns the higher of two severities
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ChangeType identifies the object kind and the kind of change
type ChangeType string

const (
	ChangeTableAdded         ChangeType = "table_added"
	ChangeTableRemoved       ChangeType = "table_removed"
	ChangeColumnAdded        ChangeType = "column_added"
	ChangeColumnRemoved      ChangeType = "column_removed"
	ChangeColumnModified     ChangeType = "column_modified"
	ChangeIndexAdded         ChangeType = "index_added"
	ChangeIndexRemoved       ChangeType = "index_removed"
	ChangeIndexModified      ChangeType = "index_modified"
	ChangeConstraintAdded    ChangeType = "constraint_added"
	ChangeConstraintRemoved  ChangeType = "constraint_removed"
	ChangeConstraintModified ChangeType = "constraint_modified"
)

// TableChange carries the before/after payload of a table change
type TableChange struct {
	Before *TableDefinition `json:"before,omitempty"`
	After  *TableDefinition `json:"after,omitempty"`
}

// ColumnChange carries the before/after payload of a column change
type ColumnChange struct {
	Before        *ColumnDefinition `json:"before,omitempty"`
	After         *ColumnDefinition `json:"after,omitempty"`
	ChangedFields []string          `json:"changed_fields,omitempty"`
}

// IndexChange carries the before/after payload of an index change
type IndexChange struct {
	Before *IndexDefinition `json:"before,omitempty"`
	After  *IndexDefinition `json:"after,omitempty"`
}

// ConstraintChange carries the before/after payload of a constraint change
type ConstraintChange struct {
	Before *ConstraintDefinition `json:"before,omitempty"`
	After  *ConstraintDefinition `json:"after,omitempty"`
}

// Change is one classified structural difference. Exactly one of the
// payload fields is set, matching the object kind of Type.
type Change struct {
	Type        ChangeType `json:"type"`
	Severity    Severity   `json:"severity"`
	TableName   string     `json:"table_name"`
	ObjectName  string     `json:"object_name"`
	Description string     `json:"description"`
	Impact      string     `json:"impact,omitempty"`

	Table      *TableChange      `json:"table,omitempty"`
	Column     *ColumnChange     `json:"column,omitempty"`
	Index      *IndexChange      `json:"index,omitempty"`
	Constraint *ConstraintChange `json:"constraint,omitempty"`
}

// SchemaDiff is the ordered change list between a baseline and a fresh snapshot
type SchemaDiff struct {
	FromHash    string   `json:"from_hash"`
	ToHash      string   `json:"to_hash"`
	FromVersion int      `json:"from_version"`
	ToVersion   int      `json:"to_version"`
	Changes     []Change `json:"changes"`
	RiskLevel   Severity `json:"risk_level"`
	IsBreaking  bool     `json:"is_breaking"`
}

// IsEmpty reports whether the diff holds no changes
func (d *SchemaDiff) IsEmpty() bool {
	return len(d.Changes) == 0
}

// CountBySeverity tallies changes per severity
func (d *SchemaDiff) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, c := range d.Changes {
		counts[c.Severity]++
	}
	return counts
}

// Summary renders a one-line description of the diff
func (d *SchemaDiff) Summary() string {
	if d.IsEmpty() {
		return "no structural changes"
	}
	counts := d.CountBySeverity()
	parts := make([]string, 0, 4)
	for _, s := range []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow} {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
		}
	}
	return fmt.Sprintf("%d changes (%s), risk %s", len(d.Changes), strings.Join(parts, ", "), d.RiskLevel)
}

// CompareSnapshots computes the classified change list from baseline to
// current. It has no side effects and is deterministic for its inputs.
// Renamed tables surface as a removal plus an addition.
func CompareSnapshots(baseline, current *Snapshot) *SchemaDiff {
	diff := &SchemaDiff{
		FromHash:    baseline.Hash,
		ToHash:      current.Hash,
		FromVersion: baseline.Version,
		ToVersion:   current.Version,
		Changes:     make([]Change, 0),
	}

	oldTables := tableMap(baseline.Tables)
	newTables := tableMap(current.Tables)

	for _, name := range unionKeys(oldTables, newTables) {
		before, inOld := oldTables[name]
		after, inNew := newTables[name]

		switch {
		case inNew && !inOld:
			diff.Changes = append(diff.Changes, Change{
				Type:        ChangeTableAdded,
				Severity:    SeverityMedium,
				TableName:   name,
				ObjectName:  name,
				Description: fmt.Sprintf("Table %s added with %d columns", name, len(after.Columns)),
				Table:       &TableChange{After: after},
			})
		case inOld && !inNew:
			diff.Changes = append(diff.Changes, Change{
				Type:        ChangeTableRemoved,
				Severity:    SeverityCritical,
				TableName:   name,
				ObjectName:  name,
				Description: fmt.Sprintf("Table %s removed", name),
				Impact:      "BREAKING: table and all of its data are no longer available",
				Table:       &TableChange{Before: before},
			})
		default:
			diff.Changes = append(diff.Changes, compareColumns(before, after)...)
		}
	}

	// Indexes and constraints of added or removed tables are covered by the
	// table change itself.
	bothTables := func(table string) bool {
		_, a := oldTables[table]
		_, b := newTables[table]
		return a && b
	}

	diff.Changes = append(diff.Changes, compareIndexes(baseline.Indexes, current.Indexes, bothTables)...)
	diff.Changes = append(diff.Changes, compareConstraints(baseline.Constraints, current.Constraints, bothTables)...)

	diff.RiskLevel = SeverityNone
	for _, c := range diff.Changes {
		diff.RiskLevel = MaxSeverity(diff.RiskLevel, c.Severity)
		if isBreakingChange(c) {
			diff.IsBreaking = true
		}
	}

	return diff
}

func isBreakingChange(c Change) bool {
	if c.Severity == SeverityCritical {
		return true
	}
	return c.Severity == SeverityHigh && (c.Type == ChangeTableRemoved || c.Type == ChangeColumnRemoved)
}

func compareColumns(before, after *TableDefinition) []Change {
	var changes []Change

	oldColumns := make(map[string]*ColumnDefinition, len(before.Columns))
	for i := range before.Columns {
		oldColumns[before.Columns[i].Name] = &before.Columns[i]
	}
	newColumns := make(map[string]*ColumnDefinition, len(after.Columns))
	for i := range after.Columns {
		newColumns[after.Columns[i].Name] = &after.Columns[i]
	}

	for _, name := range unionKeys(oldColumns, newColumns) {
		oc, inOld := oldColumns[name]
		nc, inNew := newColumns[name]
		qualified := before.Name + "." + name

		switch {
		case inNew && !inOld:
			severity := SeverityMedium
			nullability := "NOT NULL"
			if nc.IsNullable {
				severity = SeverityLow
				nullability = "nullable"
			}
			changes = append(changes, Change{
				Type:        ChangeColumnAdded,
				Severity:    severity,
				TableName:   before.Name,
				ObjectName:  name,
				Description: fmt.Sprintf("Column %s added (%s %s)", qualified, nc.DataType, nullability),
				Column:      &ColumnChange{After: nc},
			})
		case inOld && !inNew:
			changes = append(changes, Change{
				Type:        ChangeColumnRemoved,
				Severity:    SeverityHigh,
				TableName:   before.Name,
				ObjectName:  name,
				Description: fmt.Sprintf("Column %s removed", qualified),
				Impact:      "BREAKING: reads and writes referencing this column will fail",
				Column:      &ColumnChange{Before: oc},
			})
		default:
			fields := changedColumnFields(oc, nc)
			if len(fields) == 0 {
				continue
			}
			severity, impact := classifyColumnModification(oc, nc)
			changes = append(changes, Change{
				Type:        ChangeColumnModified,
				Severity:    severity,
				TableName:   before.Name,
				ObjectName:  name,
				Description: fmt.Sprintf("Column %s modified (%s)", qualified, strings.Join(fields, ", ")),
				Impact:      impact,
				Column:      &ColumnChange{Before: oc, After: nc, ChangedFields: fields},
			})
		}
	}

	return changes
}

func changedColumnFields(a, b *ColumnDefinition) []string {
	var fields []string
	if a.DataType != b.DataType {
		fields = append(fields, "data_type")
	}
	if a.IsNullable != b.IsNullable {
		fields = append(fields, "is_nullable")
	}
	if !equalStringPtr(a.DefaultValue, b.DefaultValue) {
		fields = append(fields, "default_value")
	}
	if a.IsPrimaryKey != b.IsPrimaryKey {
		fields = append(fields, "is_primary_key")
	}
	if a.Length != b.Length {
		fields = append(fields, "length")
	}
	return fields
}

func classifyColumnModification(a, b *ColumnDefinition) (Severity, string) {
	switch {
	case a.DataType != b.DataType:
		return SeverityCritical, fmt.Sprintf("BREAKING: data type changed from %s to %s", a.DataType, b.DataType)
	case a.IsPrimaryKey != b.IsPrimaryKey:
		return SeverityCritical, "BREAKING: primary key membership changed"
	case a.IsNullable && !b.IsNullable:
		return SeverityHigh, "existing NULL values violate the new NOT NULL rule"
	default:
		return SeverityMedium, ""
	}
}

func compareIndexes(oldIdx, newIdx []IndexDefinition, tracked func(string) bool) []Change {
	var changes []Change

	before := make(map[string]*IndexDefinition, len(oldIdx))
	for i := range oldIdx {
		before[oldIdx[i].Key()] = &oldIdx[i]
	}
	after := make(map[string]*IndexDefinition, len(newIdx))
	for i := range newIdx {
		after[newIdx[i].Key()] = &newIdx[i]
	}

	for _, key := range unionKeys(before, after) {
		oi, inOld := before[key]
		ni, inNew := after[key]

		table := ""
		if inOld {
			table = oi.TableName
		} else {
			table = ni.TableName
		}
		if !tracked(table) {
			continue
		}

		switch {
		case inNew && !inOld:
			changes = append(changes, Change{
				Type:        ChangeIndexAdded,
				Severity:    SeverityLow,
				TableName:   table,
				ObjectName:  ni.Name,
				Description: fmt.Sprintf("Index %s on %s(%s) added", ni.Name, table, strings.Join(ni.Columns, ", ")),
				Index:       &IndexChange{After: ni},
			})
		case inOld && !inNew:
			severity := SeverityMedium
			impact := "queries relying on this index may slow down"
			if oi.IsPrimary || oi.IsUnique {
				severity = SeverityHigh
				impact = "uniqueness is no longer enforced by this index"
			}
			changes = append(changes, Change{
				Type:        ChangeIndexRemoved,
				Severity:    severity,
				TableName:   table,
				ObjectName:  oi.Name,
				Description: fmt.Sprintf("Index %s on %s removed", oi.Name, table),
				Impact:      impact,
				Index:       &IndexChange{Before: oi},
			})
		default:
			if indexesEqual(oi, ni) {
				continue
			}
			severity := SeverityMedium
			if oi.IsPrimary || ni.IsPrimary {
				severity = SeverityHigh
			}
			changes = append(changes, Change{
				Type:        ChangeIndexModified,
				Severity:    severity,
				TableName:   table,
				ObjectName:  ni.Name,
				Description: fmt.Sprintf("Index %s on %s modified", ni.Name, table),
				Index:       &IndexChange{Before: oi, After: ni},
			})
		}
	}

	return changes
}

func indexesEqual(a, b *IndexDefinition) bool {
	return a.IsUnique == b.IsUnique &&
		a.IsPrimary == b.IsPrimary &&
		a.IndexType == b.IndexType &&
		equalStrings(a.Columns, b.Columns)
}

func compareConstraints(oldCons, newCons []ConstraintDefinition, tracked func(string) bool) []Change {
	var changes []Change

	before := make(map[string]*ConstraintDefinition, len(oldCons))
	for i := range oldCons {
		before[oldCons[i].Key()] = &oldCons[i]
	}
	after := make(map[string]*ConstraintDefinition, len(newCons))
	for i := range newCons {
		after[newCons[i].Key()] = &newCons[i]
	}

	for _, key := range unionKeys(before, after) {
		oc, inOld := before[key]
		nc, inNew := after[key]

		table := ""
		if inOld {
			table = oc.TableName
		} else {
			table = nc.TableName
		}
		if !tracked(table) {
			continue
		}

		switch {
		case inNew && !inOld:
			changes = append(changes, Change{
				Type:        ChangeConstraintAdded,
				Severity:    SeverityMedium,
				TableName:   table,
				ObjectName:  nc.Name,
				Description: fmt.Sprintf("%s constraint %s on %s added", nc.Type, nc.Name, table),
				Impact:      "existing rows must satisfy the new constraint",
				Constraint:  &ConstraintChange{After: nc},
			})
		case inOld && !inNew:
			severity, impact := classifyConstraintRemoval(oc)
			changes = append(changes, Change{
				Type:        ChangeConstraintRemoved,
				Severity:    severity,
				TableName:   table,
				ObjectName:  oc.Name,
				Description: fmt.Sprintf("%s constraint %s on %s removed", oc.Type, oc.Name, table),
				Impact:      impact,
				Constraint:  &ConstraintChange{Before: oc},
			})
		default:
			if constraintsEqual(oc, nc) {
				continue
			}
			severity := SeverityMedium
			if oc.Type == ConstraintTypePrimaryKey || oc.Type == ConstraintTypeForeignKey || oc.Type != nc.Type {
				severity = SeverityHigh
			}
			changes = append(changes, Change{
				Type:        ChangeConstraintModified,
				Severity:    severity,
				TableName:   table,
				ObjectName:  nc.Name,
				Description: fmt.Sprintf("Constraint %s on %s modified", nc.Name, table),
				Constraint:  &ConstraintChange{Before: oc, After: nc},
			})
		}
	}

	return changes
}

func classifyConstraintRemoval(c *ConstraintDefinition) (Severity, string) {
	switch c.Type {
	case ConstraintTypePrimaryKey:
		return SeverityCritical, "BREAKING: rows are no longer uniquely identifiable"
	case ConstraintTypeForeignKey:
		return SeverityHigh, fmt.Sprintf("referential integrity with %s is no longer enforced", c.ReferencedTable)
	default:
		return SeverityMedium, ""
	}
}

func constraintsEqual(a, b *ConstraintDefinition) bool {
	return a.Type == b.Type &&
		a.ReferencedTable == b.ReferencedTable &&
		a.OnUpdate == b.OnUpdate &&
		a.OnDelete == b.OnDelete &&
		a.CheckExpression == b.CheckExpression &&
		equalStrings(a.Columns, b.Columns) &&
		equalStrings(a.ReferencedColumns, b.ReferencedColumns)
}

func tableMap(tables []TableDefinition) map[string]*TableDefinition {
	m := make(map[string]*TableDefinition, len(tables))
	for i := range tables {
		m[tables[i].Name] = &tables[i]
	}
	return m
}

func unionKeys[V any](a, b map[string]V) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
