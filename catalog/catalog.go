// Package catalog tracks table and index definitions.
//
// The shared Catalog publishes immutable Snapshots. Every transaction works
// on an Overlay over the snapshot it started with; DDL is persisted through
// the transaction's storage.Operator immediately and becomes visible to
// other transactions only when the commit applies the overlay's changes.
package catalog

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/storage"
)

var (
	// ErrTableNotFound is returned for an unknown or dropped table.
	ErrTableNotFound = errors.New("table not found")

	// ErrColumnNotFound is returned for an unknown column.
	ErrColumnNotFound = errors.New("column not found")

	// ErrIndexNotFound is returned for an unknown index.
	ErrIndexNotFound = errors.New("index not found")

	// ErrAlreadyExists is returned when creating a table or index whose name
	// is taken.
	ErrAlreadyExists = errors.New("already exists")
)

func normalize(name string) string { return strings.ToLower(name) }

// Snapshot is an immutable view of the catalog.
type Snapshot struct {
	tables map[string]*schema.Table
}

// Table returns the table named name. The result must not be modified.
func (s *Snapshot) Table(name string) (*schema.Table, bool) {
	t, ok := s.tables[normalize(name)]
	return t, ok
}

// Tables yields every table in name order.
func (s *Snapshot) Tables() iter.Seq[*schema.Table] {
	return func(yield func(*schema.Table) bool) {
		for _, name := range slices.Sorted(maps.Keys(s.tables)) {
			if !yield(s.tables[name]) {
				return
			}
		}
	}
}

// Index finds an index by name across all tables.
func (s *Snapshot) Index(name string) (*schema.Table, schema.Index, bool) {
	for _, t := range s.tables {
		if idx, ok := t.Index(name); ok {
			return t, idx, true
		}
	}
	return nil, schema.Index{}, false
}

// Len returns the number of tables.
func (s *Snapshot) Len() int { return len(s.tables) }

// Catalog is the shared, process-wide catalog. It is safe for concurrent use.
type Catalog struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// New creates an empty Catalog.
func New() *Catalog {
	return &Catalog{snap: &Snapshot{tables: map[string]*schema.Table{}}}
}

// Load reads every persisted table definition through op.
func Load(op *storage.Operator) (*Catalog, error) {
	tables := map[string]*schema.Table{}
	for t, err := range op.ScanTables() {
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		tables[normalize(t.Name)] = t
	}
	return &Catalog{snap: &Snapshot{tables: tables}}, nil
}

// Snapshot returns the current published view.
func (c *Catalog) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Apply publishes committed changes in order.
func (c *Catalog) Apply(changes []Change) {
	if len(changes) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tables := maps.Clone(c.snap.tables)
	for _, ch := range changes {
		name := normalize(ch.Table.Name)
		switch ch.Kind {
		case ChangeDropTable:
			if cur, ok := tables[name]; ok && cur.ID == ch.Table.ID {
				delete(tables, name)
			}
		default:
			tables[name] = ch.Table
		}
	}
	c.snap = &Snapshot{tables: tables}
}

// ChangeKind classifies a DDL change.
type ChangeKind int

const (
	ChangeCreateTable ChangeKind = iota + 1
	ChangeDropTable
	ChangeCreateIndex
	ChangeDropIndex
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreateTable:
		return "CREATE TABLE"
	case ChangeDropTable:
		return "DROP TABLE"
	case ChangeCreateIndex:
		return "CREATE INDEX"
	case ChangeDropIndex:
		return "DROP INDEX"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change is one DDL change made by a transaction.
type Change struct {
	Kind ChangeKind
	// Table is the definition after the change; for ChangeDropTable it is
	// the dropped definition.
	Table *schema.Table
	// Index is the created or dropped index.
	Index schema.Index
}
