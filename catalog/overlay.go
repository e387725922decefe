package catalog

import (
	"context"
	"fmt"
	"maps"

	"github.com/go-playground/validator/v10"
	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/storage"
)

var validate = validator.New()

// Overlay is a transaction's view of the catalog: the snapshot it started
// from plus its own uncommitted DDL. An Overlay is not safe for concurrent
// use.
type Overlay struct {
	base    *Snapshot
	tables  map[string]*schema.Table // created or replaced; nil marks a drop
	changes []Change
}

// NewOverlay starts an empty overlay over base.
func NewOverlay(base *Snapshot) *Overlay {
	return &Overlay{base: base, tables: map[string]*schema.Table{}}
}

// Changes returns the DDL made through the overlay, in order.
func (o *Overlay) Changes() []Change { return o.changes }

// Table resolves a table name.
func (o *Overlay) Table(name string) (*schema.Table, error) {
	key := normalize(name)
	if t, ok := o.tables[key]; ok {
		if t == nil {
			return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
		}
		return t, nil
	}
	if t, ok := o.base.Table(name); ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
}

// Column resolves a column of a table.
func (o *Overlay) Column(t *schema.Table, name string) (schema.Column, int, error) {
	c, pos, ok := t.Column(name)
	if !ok {
		return schema.Column{}, -1, fmt.Errorf("%w: %q in table %q", ErrColumnNotFound, name, t.Name)
	}
	return c, pos, nil
}

// index finds an index by name in the overlay's view.
func (o *Overlay) index(name string) (*schema.Table, schema.Index, bool) {
	for _, t := range o.tables {
		if t == nil {
			continue
		}
		if idx, ok := t.Index(name); ok {
			return t, idx, true
		}
	}
	for _, t := range o.base.tables {
		if _, shadowed := o.tables[normalize(t.Name)]; shadowed {
			continue
		}
		if idx, ok := t.Index(name); ok {
			return t, idx, true
		}
	}
	return nil, schema.Index{}, false
}

func (o *Overlay) put(t *schema.Table) { o.tables[normalize(t.Name)] = t }

// ColumnDef describes a column of CREATE TABLE.
type ColumnDef struct {
	Name    string
	Type    schema.DataType
	NotNull bool
}

// CreateTable creates and persists a table. It returns (nil, nil) when the
// table exists and ifNotExists is set.
func (o *Overlay) CreateTable(ctx context.Context, op *storage.Operator, name string, cols []ColumnDef, ifNotExists bool) (*schema.Table, error) {
	if _, err := o.Table(name); err == nil {
		if ifNotExists {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: table %q", ErrAlreadyExists, name)
	}
	if name == "" {
		return nil, fmt.Errorf("table name must not be empty")
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %q must have at least one column", name)
	}
	if len(cols) > int(^schema.ColumnID(0)) {
		return nil, fmt.Errorf("table %q has too many columns", name)
	}

	t := &schema.Table{Name: name, Columns: make([]schema.Column, 0, len(cols))}
	seen := map[string]bool{}
	for i, c := range cols {
		key := normalize(c.Name)
		if seen[key] {
			return nil, fmt.Errorf("%w: column %q specified more than once", ErrAlreadyExists, c.Name)
		}
		seen[key] = true
		if c.Type.Kind == schema.KindVector && c.Type.Dim <= 0 {
			return nil, fmt.Errorf("column %q: vector dimension must be positive", c.Name)
		}
		t.Columns = append(t.Columns, schema.Column{
			ID:      schema.ColumnID(i + 1),
			Name:    c.Name,
			Type:    c.Type,
			NotNull: c.NotNull,
		})
	}

	id, err := op.NextTableID(ctx)
	if err != nil {
		return nil, err
	}
	t.ID = id

	if err := op.PutTable(t); err != nil {
		return nil, err
	}

	o.put(t)
	o.changes = append(o.changes, Change{Kind: ChangeCreateTable, Table: t})
	return t, nil
}

// DropTable removes a table with all rows, index entries and metadata. It
// returns (nil, nil) when the table does not exist and ifExists is set.
func (o *Overlay) DropTable(op *storage.Operator, name string, ifExists bool) (*schema.Table, error) {
	t, err := o.Table(name)
	if err != nil {
		if ifExists {
			return nil, nil
		}
		return nil, err
	}

	if err := op.DropTableData(t.ID); err != nil {
		return nil, err
	}
	for _, idx := range t.Indexes {
		if idx.Kind == schema.IndexBTree {
			if err := op.DropIndexEntries(idx.ID); err != nil {
				return nil, err
			}
		}
		if err := op.ReleaseIndexName(idx.Name); err != nil {
			return nil, err
		}
	}
	if err := op.DeleteTable(t); err != nil {
		return nil, err
	}

	o.tables[normalize(t.Name)] = nil
	o.changes = append(o.changes, Change{Kind: ChangeDropTable, Table: t})
	return t, nil
}

// IndexDef describes CREATE INDEX.
type IndexDef struct {
	Name    string
	Table   string
	Columns []string
	Kind    schema.IndexKind
	Unique  bool
	// Vector options for flat and hnsw indexes. Zero fields take defaults.
	Vector schema.VectorIndexOptions
}

// CreateIndex adds an index to a table and persists the new definition.
// Entries are not built here; the caller backfills them. It returns the new
// table definition and the index, or (nil, zero, nil) when the index exists
// and ifNotExists is set.
func (o *Overlay) CreateIndex(ctx context.Context, op *storage.Operator, def IndexDef, ifNotExists bool) (*schema.Table, schema.Index, error) {
	if _, _, ok := o.index(def.Name); ok {
		if ifNotExists {
			return nil, schema.Index{}, nil
		}
		return nil, schema.Index{}, fmt.Errorf("%w: index %q", ErrAlreadyExists, def.Name)
	}
	if def.Name == "" {
		return nil, schema.Index{}, fmt.Errorf("index name must not be empty")
	}

	t, err := o.Table(def.Table)
	if err != nil {
		return nil, schema.Index{}, err
	}

	idx := schema.Index{Name: def.Name, Kind: def.Kind, Unique: def.Unique}
	if idx.Kind == "" {
		idx.Kind = schema.IndexBTree
	}
	if len(def.Columns) == 0 {
		return nil, schema.Index{}, fmt.Errorf("index %q has no columns", def.Name)
	}

	var cols []schema.Column
	for _, name := range def.Columns {
		c, _, err := o.Column(t, name)
		if err != nil {
			return nil, schema.Index{}, err
		}
		cols = append(cols, c)
		idx.Columns = append(idx.Columns, c.ID)
	}

	switch idx.Kind {
	case schema.IndexBTree:
		if len(cols) != 1 {
			return nil, schema.Index{}, fmt.Errorf("%w: btree indexes cover exactly one column", schema.ErrTypeMismatch)
		}
		switch cols[0].Type.Kind {
		case schema.KindVector, schema.KindFile:
			return nil, schema.Index{}, fmt.Errorf("%w: column %q of type %s cannot be indexed by btree", schema.ErrTypeMismatch, cols[0].Name, cols[0].Type)
		}

	case schema.IndexFlat, schema.IndexHNSW:
		if len(cols) != 1 || cols[0].Type.Kind != schema.KindVector {
			return nil, schema.Index{}, fmt.Errorf("%w: %s index requires a single VECTOR column", schema.ErrTypeMismatch, idx.Kind)
		}
		if idx.Unique {
			return nil, schema.Index{}, fmt.Errorf("%s index cannot be unique", idx.Kind)
		}
		opts, err := o.vectorOptions(t, cols[0], def.Vector)
		if err != nil {
			return nil, schema.Index{}, err
		}
		idx.Vector = opts

	default:
		return nil, schema.Index{}, fmt.Errorf("unsupported index method %q", idx.Kind)
	}

	id, err := op.NextIndexID(ctx)
	if err != nil {
		return nil, schema.Index{}, err
	}
	idx.ID = id

	next := t.Clone()
	next.Indexes = append(next.Indexes, idx)

	if err := op.ReserveIndexName(idx.Name, t.ID); err != nil {
		return nil, schema.Index{}, err
	}
	if err := op.PutTable(next); err != nil {
		return nil, schema.Index{}, err
	}

	o.put(next)
	o.changes = append(o.changes, Change{Kind: ChangeCreateIndex, Table: next, Index: idx})
	return next, idx, nil
}

func (o *Overlay) vectorOptions(t *schema.Table, col schema.Column, in schema.VectorIndexOptions) (*schema.VectorIndexOptions, error) {
	opts := in
	if opts.Metric == "" {
		opts.Metric = "l2"
	}
	if opts.Dim == 0 {
		opts.Dim = col.Type.Dim
	}
	if opts.Dim != col.Type.Dim {
		return nil, &schema.DimensionError{Expected: col.Type.Dim, Actual: opts.Dim}
	}
	if opts.Namespace != "" {
		ns, _, err := o.Column(t, opts.Namespace)
		if err != nil {
			return nil, err
		}
		switch ns.Type.Kind {
		case schema.KindVector, schema.KindFile:
			return nil, fmt.Errorf("%w: namespace column %q of type %s", schema.ErrTypeMismatch, ns.Name, ns.Type)
		}
		opts.Namespace = ns.Name
	}
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid index options: %w", err)
	}
	return &opts, nil
}

// DropIndex removes an index definition and, for btree indexes, its
// entries. It returns (nil, zero, nil) when the index does not exist and
// ifExists is set.
func (o *Overlay) DropIndex(op *storage.Operator, name string, ifExists bool) (*schema.Table, schema.Index, error) {
	t, idx, ok := o.index(name)
	if !ok {
		if ifExists {
			return nil, schema.Index{}, nil
		}
		return nil, schema.Index{}, fmt.Errorf("%w: %q", ErrIndexNotFound, name)
	}

	if idx.Kind == schema.IndexBTree {
		if err := op.DropIndexEntries(idx.ID); err != nil {
			return nil, schema.Index{}, err
		}
	}
	if err := op.ReleaseIndexName(idx.Name); err != nil {
		return nil, schema.Index{}, err
	}

	next := t.Clone()
	next.Indexes = next.Indexes[:0]
	for _, other := range t.Indexes {
		if other.ID != idx.ID {
			next.Indexes = append(next.Indexes, other)
		}
	}

	if err := op.PutTable(next); err != nil {
		return nil, schema.Index{}, err
	}

	o.put(next)
	o.changes = append(o.changes, Change{Kind: ChangeDropIndex, Table: next, Index: idx})
	return next, idx, nil
}

// Tables returns the visible tables keyed by lower-case name.
func (o *Overlay) Tables() map[string]*schema.Table {
	out := maps.Clone(o.base.tables)
	for k, t := range o.tables {
		if t == nil {
			delete(out, k)
			continue
		}
		out[k] = t
	}
	return out
}
