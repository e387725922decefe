package schema

import (
	"slices"
	"strings"
)

// Identifiers. TableID and IndexID are minted by counters in the Locks
// group; ColumnID is the declaration position, starting at 1.
type (
	TableID  uint32
	ColumnID uint16
	IndexID  uint32
	RowID    uint64
)

// Column is one attribute of a Table.
type Column struct {
	ID      ColumnID `json:"id"`
	Name    string   `json:"name"`
	Type    DataType `json:"type"`
	NotNull bool     `json:"not_null,omitempty"`
}

// Coerce converts v to the column's type and enforces NOT NULL.
func (c Column) Coerce(v Value) (Value, error) {
	if v.IsNull() {
		if c.NotNull {
			return Null, &ColumnError{Column: c.Name, Err: ErrNullViolation}
		}
		return Null, nil
	}
	out, err := Coerce(c.Type, v)
	if err != nil {
		return Null, &ColumnError{Column: c.Name, Err: err}
	}
	return out, nil
}

// ColumnError attaches a column name to a conversion error.
type ColumnError struct {
	Column string
	Err    error
}

func (e *ColumnError) Error() string { return "column " + e.Column + ": " + e.Err.Error() }

func (e *ColumnError) Unwrap() error { return e.Err }

// IndexKind selects the index implementation.
type IndexKind string

const (
	IndexBTree IndexKind = "btree"
	IndexFlat  IndexKind = "flat"
	IndexHNSW  IndexKind = "hnsw"
)

// IsVector reports whether the kind is served by the vector subsystem.
func (k IndexKind) IsVector() bool { return k == IndexFlat || k == IndexHNSW }

// VectorIndexOptions are the WITH (...) parameters of a vector index.
type VectorIndexOptions struct {
	Metric         string `json:"metric" validate:"oneof=l2 dot cosine"`
	Namespace      string `json:"namespace,omitempty"`
	M              int    `json:"m,omitempty" validate:"omitempty,gte=2,lte=256"`
	EfConstruction int    `json:"ef_construction,omitempty" validate:"omitempty,gte=1"`
	Ef             int    `json:"ef,omitempty" validate:"omitempty,gte=1"`
	Dim            int    `json:"dim" validate:"gte=1"`
}

// Index describes a secondary or vector index of a table.
type Index struct {
	ID      IndexID             `json:"id"`
	Name    string              `json:"name"`
	Kind    IndexKind           `json:"kind"`
	Columns []ColumnID          `json:"columns"`
	Unique  bool                `json:"unique,omitempty"`
	Vector  *VectorIndexOptions `json:"vector,omitempty"`
}

// Table is a relation's schema.
type Table struct {
	ID      TableID  `json:"id"`
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
	Indexes []Index  `json:"indexes,omitempty"`
}

// Column returns the column named name and its position.
func (t *Table) Column(name string) (Column, int, bool) {
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, i, true
		}
	}
	return Column{}, -1, false
}

// ColumnPos returns the position of the column with the given id.
func (t *Table) ColumnPos(id ColumnID) (int, bool) {
	for i, c := range t.Columns {
		if c.ID == id {
			return i, true
		}
	}
	return -1, false
}

// Index returns the index named name.
func (t *Table) Index(name string) (Index, bool) {
	for _, idx := range t.Indexes {
		if strings.EqualFold(idx.Name, name) {
			return idx, true
		}
	}
	return Index{}, false
}

// IndexesOn returns the indexes whose first column is col.
func (t *Table) IndexesOn(col ColumnID) []Index {
	var out []Index
	for _, idx := range t.Indexes {
		if len(idx.Columns) > 0 && idx.Columns[0] == col {
			out = append(out, idx)
		}
	}
	return out
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	out := &Table{
		ID:      t.ID,
		Name:    t.Name,
		Columns: slices.Clone(t.Columns),
		Indexes: make([]Index, len(t.Indexes)),
	}
	for i, idx := range t.Indexes {
		idx.Columns = slices.Clone(idx.Columns)
		if idx.Vector != nil {
			v := *idx.Vector
			idx.Vector = &v
		}
		out.Indexes[i] = idx
	}
	return out
}
