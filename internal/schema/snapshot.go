package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewSnapshot normalizes a raw structure and seals it into a snapshot with
// its content hash computed.
func NewSnapshot(structure *Structure, version int, capturedAt time.Time) (*Snapshot, error) {
	if structure == nil {
		return nil, fmt.Errorf("structure cannot be nil")
	}
	if err := structure.Validate(); err != nil {
		return nil, fmt.Errorf("invalid structure: %w", err)
	}

	normalized := Normalize(structure)

	snapshot := &Snapshot{
		ID:          uuid.New().String(),
		Database:    normalized.Database,
		Version:     version,
		Tables:      normalized.Tables,
		Indexes:     normalized.Indexes,
		Constraints: normalized.Constraints,
		CapturedAt:  capturedAt.UTC(),
	}

	hash, err := ComputeHash(snapshot)
	if err != nil {
		return nil, err
	}
	snapshot.Hash = hash

	return snapshot, nil
}

// Normalize returns a deep copy of the structure with names trimmed, data
// types lowercased and primary key membership marked on columns. Tables,
// indexes and constraints are ordered by name; columns keep ordinal order.
func Normalize(structure *Structure) *Structure {
	out := &Structure{
		Database:    strings.TrimSpace(structure.Database),
		Tables:      make([]TableDefinition, 0, len(structure.Tables)),
		Indexes:     make([]IndexDefinition, 0, len(structure.Indexes)),
		Constraints: make([]ConstraintDefinition, 0, len(structure.Constraints)),
	}

	primaryColumns := make(map[string]map[string]bool)
	markPrimary := func(table string, columns []string) {
		if primaryColumns[table] == nil {
			primaryColumns[table] = make(map[string]bool)
		}
		for _, c := range columns {
			primaryColumns[table][strings.TrimSpace(c)] = true
		}
	}

	for _, idx := range structure.Indexes {
		n := IndexDefinition{
			Name:      strings.TrimSpace(idx.Name),
			TableName: strings.TrimSpace(idx.TableName),
			Columns:   trimAll(idx.Columns),
			IsUnique:  idx.IsUnique || idx.IsPrimary,
			IsPrimary: idx.IsPrimary,
			IndexType: strings.ToUpper(strings.TrimSpace(idx.IndexType)),
		}
		if n.IsPrimary {
			markPrimary(n.TableName, n.Columns)
		}
		out.Indexes = append(out.Indexes, n)
	}

	for _, c := range structure.Constraints {
		n := ConstraintDefinition{
			Name:              strings.TrimSpace(c.Name),
			TableName:         strings.TrimSpace(c.TableName),
			Type:              c.Type,
			Columns:           trimAll(c.Columns),
			ReferencedTable:   strings.TrimSpace(c.ReferencedTable),
			ReferencedColumns: trimAll(c.ReferencedColumns),
			OnUpdate:          strings.ToUpper(strings.TrimSpace(c.OnUpdate)),
			OnDelete:          strings.ToUpper(strings.TrimSpace(c.OnDelete)),
			CheckExpression:   strings.TrimSpace(c.CheckExpression),
		}
		if n.Type == ConstraintTypePrimaryKey {
			markPrimary(n.TableName, n.Columns)
		}
		out.Constraints = append(out.Constraints, n)
	}

	for _, t := range structure.Tables {
		table := TableDefinition{
			Name:     strings.TrimSpace(t.Name),
			RowCount: t.RowCount,
			Columns:  make([]ColumnDefinition, 0, len(t.Columns)),
		}
		for _, c := range t.Columns {
			column := c
			column.Name = strings.TrimSpace(c.Name)
			column.DataType = normalizeType(c.DataType)
			if c.DefaultValue != nil {
				v := *c.DefaultValue
				column.DefaultValue = &v
			}
			column.IsPrimaryKey = c.IsPrimaryKey || primaryColumns[table.Name][column.Name]
			table.Columns = append(table.Columns, column)
		}
		sort.SliceStable(table.Columns, func(i, j int) bool {
			if table.Columns[i].Position != table.Columns[j].Position {
				return table.Columns[i].Position < table.Columns[j].Position
			}
			return table.Columns[i].Name < table.Columns[j].Name
		})
		out.Tables = append(out.Tables, table)
	}

	sort.Slice(out.Tables, func(i, j int) bool { return out.Tables[i].Name < out.Tables[j].Name })
	sort.Slice(out.Indexes, func(i, j int) bool { return out.Indexes[i].Key() < out.Indexes[j].Key() })
	sort.Slice(out.Constraints, func(i, j int) bool { return out.Constraints[i].Key() < out.Constraints[j].Key() })

	return out
}

// hashable mirrors the structural subset of a snapshot that feeds the digest.
// Row counts, positions, ids and timestamps are excluded.
type hashable struct {
	Tables      []hashTable      `json:"t"`
	Indexes     []hashIndex      `json:"i"`
	Constraints []hashConstraint `json:"c"`
}

type hashTable struct {
	Name    string       `json:"n"`
	Columns []hashColumn `json:"c"`
}

type hashColumn struct {
	Name     string  `json:"n"`
	Type     string  `json:"t"`
	Nullable bool    `json:"nl"`
	Default  *string `json:"d"`
	Primary  bool    `json:"pk"`
	Length   int64   `json:"l"`
}

type hashIndex struct {
	Table   string   `json:"tb"`
	Name    string   `json:"n"`
	Columns []string `json:"c"`
	Unique  bool     `json:"u"`
	Primary bool     `json:"p"`
	Type    string   `json:"t"`
}

type hashConstraint struct {
	Table      string   `json:"tb"`
	Name       string   `json:"n"`
	Type       string   `json:"t"`
	Columns    []string `json:"c"`
	RefTable   string   `json:"rt"`
	RefColumns []string `json:"rc"`
	OnUpdate   string   `json:"ou"`
	OnDelete   string   `json:"od"`
	Check      string   `json:"ck"`
}

// ComputeHash returns the hex sha256 digest of the snapshot's structure.
// Every collection is sorted by name first so capture order never matters.
func ComputeHash(snapshot *Snapshot) (string, error) {
	h := hashable{
		Tables:      make([]hashTable, 0, len(snapshot.Tables)),
		Indexes:     make([]hashIndex, 0, len(snapshot.Indexes)),
		Constraints: make([]hashConstraint, 0, len(snapshot.Constraints)),
	}

	for _, t := range snapshot.Tables {
		ht := hashTable{Name: t.Name, Columns: make([]hashColumn, 0, len(t.Columns))}
		for _, c := range t.Columns {
			ht.Columns = append(ht.Columns, hashColumn{
				Name:     c.Name,
				Type:     c.DataType,
				Nullable: c.IsNullable,
				Default:  c.DefaultValue,
				Primary:  c.IsPrimaryKey,
				Length:   c.Length,
			})
		}
		sort.Slice(ht.Columns, func(i, j int) bool { return ht.Columns[i].Name < ht.Columns[j].Name })
		h.Tables = append(h.Tables, ht)
	}
	sort.Slice(h.Tables, func(i, j int) bool { return h.Tables[i].Name < h.Tables[j].Name })

	// Index column order is significant and left as captured.
	for _, idx := range snapshot.Indexes {
		h.Indexes = append(h.Indexes, hashIndex{
			Table:   idx.TableName,
			Name:    idx.Name,
			Columns: idx.Columns,
			Unique:  idx.IsUnique,
			Primary: idx.IsPrimary,
			Type:    idx.IndexType,
		})
	}
	sort.Slice(h.Indexes, func(i, j int) bool {
		if h.Indexes[i].Table != h.Indexes[j].Table {
			return h.Indexes[i].Table < h.Indexes[j].Table
		}
		return h.Indexes[i].Name < h.Indexes[j].Name
	})

	for _, c := range snapshot.Constraints {
		h.Constraints = append(h.Constraints, hashConstraint{
			Table:      c.TableName,
			Name:       c.Name,
			Type:       string(c.Type),
			Columns:    c.Columns,
			RefTable:   c.ReferencedTable,
			RefColumns: c.ReferencedColumns,
			OnUpdate:   c.OnUpdate,
			OnDelete:   c.OnDelete,
			Check:      c.CheckExpression,
		})
	}
	sort.Slice(h.Constraints, func(i, j int) bool {
		if h.Constraints[i].Table != h.Constraints[j].Table {
			return h.Constraints[i].Table < h.Constraints[j].Table
		}
		return h.Constraints[i].Name < h.Constraints[j].Name
	})

	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("failed to serialize snapshot for hashing: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func normalizeType(dataType string) string {
	return strings.Join(strings.Fields(strings.ToLower(dataType)), " ")
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}
