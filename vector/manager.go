package vector

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/storage"
)

// NamespaceKey maps a namespace column value to the key its vectors are
// grouped under. Equal values of the same column type map to equal keys.
func NamespaceKey(v schema.Value) (string, error) {
	b, err := storage.AppendIndexKey(nil, v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Op is a committed row change to mirror into the vector indexes of a
// table. A nil Row deletes.
type Op struct {
	RowID schema.RowID
	Row   schema.Row
}

type managed struct {
	index  Index
	def    schema.Index
	table  schema.TableID
	vecPos int
	nsPos  int // -1 when not namespaced

	// mu guards building and pending. Ops committed while the index is
	// being backfilled wait in pending.
	mu       sync.Mutex
	building bool
	pending  []Op
}

// mirror applies ops, or queues them while the index is being backfilled.
func (m *managed) mirror(ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.building {
		m.pending = append(m.pending, ops...)
		return nil
	}
	for _, op := range ops {
		if err := m.apply(op); err != nil {
			return err
		}
	}
	return nil
}

// ready replays the queued ops and makes the index visible.
func (m *managed) ready() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.pending
	m.pending = nil
	m.building = false
	for _, op := range pending {
		if err := m.apply(op); err != nil {
			return err
		}
	}
	return nil
}

func (m *managed) visible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.building
}

// entry extracts the namespace key and vector of a row. ok is false when
// the row has no vector or a NULL namespace and must not be indexed.
func (m *managed) entry(row schema.Row) (ns string, vec []float32, ok bool, err error) {
	v := row[m.vecPos]
	if v.IsNull() {
		return "", nil, false, nil
	}
	if m.nsPos >= 0 {
		nv := row[m.nsPos]
		if nv.IsNull() {
			return "", nil, false, nil
		}
		if ns, err = NamespaceKey(nv); err != nil {
			return "", nil, false, err
		}
	}
	return ns, v.Vec, true, nil
}

func (m *managed) apply(op Op) error {
	if op.Row == nil {
		m.index.Delete(op.RowID)
		return nil
	}
	ns, vec, ok, err := m.entry(op.Row)
	if err != nil {
		return err
	}
	if !ok {
		m.index.Delete(op.RowID)
		return nil
	}
	return m.index.Upsert(op.RowID, ns, vec)
}

// Manager owns the live vector indexes of a database, keyed by IndexID.
// Indexes only ever see committed rows.
type Manager struct {
	mu      sync.RWMutex
	indexes map[schema.IndexID]*managed
	logger  *slog.Logger
}

// NewManager returns an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{indexes: map[schema.IndexID]*managed{}, logger: logger}
}

// Create registers an empty index for def on table t, replacing any index
// with the same id. The index is hidden from Get until Backfill completes.
func (m *Manager) Create(t *schema.Table, def schema.Index) (Index, error) {
	if !def.Kind.IsVector() || def.Vector == nil || len(def.Columns) != 1 {
		return nil, fmt.Errorf("index %q is not a vector index", def.Name)
	}
	vecPos, ok := t.ColumnPos(def.Columns[0])
	if !ok {
		return nil, fmt.Errorf("index %q: column %d not in table %q", def.Name, def.Columns[0], t.Name)
	}
	nsPos := -1
	if def.Vector.Namespace != "" {
		_, pos, ok := t.Column(def.Vector.Namespace)
		if !ok {
			return nil, fmt.Errorf("index %q: namespace column %q not in table %q", def.Name, def.Vector.Namespace, t.Name)
		}
		nsPos = pos
	}

	metric, err := ParseMetric(def.Vector.Metric)
	if err != nil {
		return nil, err
	}
	idx, err := New(def.Kind, Options{
		Metric:         metric,
		Dim:            def.Vector.Dim,
		M:              def.Vector.M,
		EfConstruction: def.Vector.EfConstruction,
		Ef:             def.Vector.Ef,
		Seed:           int64(def.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("index %q: %w", def.Name, err)
	}

	m.mu.Lock()
	m.indexes[def.ID] = &managed{index: idx, def: def, table: t.ID, vecPos: vecPos, nsPos: nsPos, building: true}
	m.mu.Unlock()

	m.logger.Debug("vector index created", "index", def.Name, "kind", def.Kind, "table", t.Name, "metric", metric, "dim", def.Vector.Dim)
	return idx, nil
}

// Backfill loads the rows of the index's table, then replays the changes
// applied since Create and makes the index visible. rows may come from any
// snapshot taken after Create.
func (m *Manager) Backfill(ctx context.Context, id schema.IndexID, rows iter.Seq2[storage.RowEntry, error]) (int, error) {
	m.mu.RLock()
	mi, ok := m.indexes[id]
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("vector index %d not registered", id)
	}

	n := 0
	for e, err := range rows {
		if err != nil {
			return n, err
		}
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		if err := mi.apply(Op{RowID: e.ID, Row: e.Row}); err != nil {
			return n, fmt.Errorf("backfill %q row %d: %w", mi.def.Name, e.ID, err)
		}
		n++
	}
	if err := mi.ready(); err != nil {
		return n, fmt.Errorf("backfill %q: %w", mi.def.Name, err)
	}
	m.logger.Debug("vector index backfilled", "index", mi.def.Name, "rows", n)
	return n, nil
}

// Get returns the live index with the given id. Indexes still being
// backfilled are not returned.
func (m *Manager) Get(id schema.IndexID) (Index, bool) {
	m.mu.RLock()
	mi, ok := m.indexes[id]
	m.mu.RUnlock()
	if !ok || !mi.visible() {
		return nil, false
	}
	return mi.index, true
}

// Drop forgets an index. Rows are untouched.
func (m *Manager) Drop(id schema.IndexID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mi, ok := m.indexes[id]; ok {
		delete(m.indexes, id)
		m.logger.Debug("vector index dropped", "index", mi.def.Name)
	}
}

// DropTable forgets every index of a table.
func (m *Manager) DropTable(id schema.TableID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for iid, mi := range m.indexes {
		if mi.table == id {
			delete(m.indexes, iid)
		}
	}
}

// Apply mirrors committed row changes of a table into its indexes.
func (m *Manager) Apply(table schema.TableID, ops []Op) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, mi := range m.indexes {
		if mi.table != table {
			continue
		}
		if err := mi.mirror(ops); err != nil {
			return fmt.Errorf("vector index %q: %w", mi.def.Name, err)
		}
	}
	return nil
}

// Len returns the number of live indexes.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.indexes)
}
