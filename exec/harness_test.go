package exec

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/hupe1980/vecsql/ast"
	"github.com/hupe1980/vecsql/catalog"
	"github.com/hupe1980/vecsql/files"
	"github.com/hupe1980/vecsql/kv"
	"github.com/hupe1980/vecsql/kv/memory"
	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/storage"
	"github.com/hupe1980/vecsql/vector"
	"github.com/stretchr/testify/require"
)

var storageConfig = storage.Config{Retry: kv.DefaultRetryPolicy}

// harness plays the role of the database: it owns the backend, the shared
// catalog and the vector indexes and commits transactions the same way.
type harness struct {
	t       *testing.T
	backend kv.Backend
	catalog *catalog.Catalog
	vectors *vector.Manager
	files   files.Resolver
	config  Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		t:       t,
		backend: memory.New(),
		catalog: catalog.New(),
		vectors: vector.NewManager(nil),
		config:  Config{BatchSize: 4, HNSW: HNSWDefaults{M: 8, EfConstruction: 64, Ef: 32}},
	}
}

type testTxn struct {
	h   *harness
	kv  kv.Txn
	env *Env
}

func (h *harness) begin() *testTxn {
	h.t.Helper()
	txn, err := h.backend.Begin(context.Background(), true)
	require.NoError(h.t, err)
	h.t.Cleanup(txn.Rollback)
	return &testTxn{h: h, kv: txn, env: &Env{
		Op:      storage.NewOperator(h.backend, txn, storageConfig),
		Catalog: catalog.NewOverlay(h.catalog.Snapshot()),
		Vectors: h.vectors,
		Changes: NewChanges(),
		Files:   h.files,
		Config:  h.config,
	}}
}

func (x *testTxn) exec(stmt ast.Statement, args ...any) (*Response, error) {
	params, err := ToValues(args)
	if err != nil {
		return nil, err
	}
	return Execute(context.Background(), x.env, stmt, params)
}

func (x *testTxn) query(stmt ast.Statement, args ...any) ([]schema.Row, error) {
	resp, err := x.exec(stmt, args...)
	if err != nil {
		return nil, err
	}
	return resp.Collect(context.Background())
}

func (x *testTxn) commit() error {
	if err := x.kv.Commit(); err != nil {
		return err
	}
	ddl := x.env.Catalog.Changes()
	x.h.catalog.Apply(ddl)
	created, err := Publish(x.h.vectors, ddl, x.env.Changes)
	return errors.Join(err, Build(context.Background(), x.h.vectors, created, x.h.committedRows()))
}

func (h *harness) committedRows() RowSource {
	return func(t *schema.Table) iter.Seq2[storage.RowEntry, error] {
		return func(yield func(storage.RowEntry, error) bool) {
			txn, err := h.backend.Begin(context.Background(), false)
			if err != nil {
				yield(storage.RowEntry{}, err)
				return
			}
			defer txn.Rollback()
			for e, err := range storage.NewOperator(h.backend, txn, storageConfig).ScanRows(t) {
				if !yield(e, err) {
					return
				}
			}
		}
	}
}

// run executes one statement in its own committed transaction.
func (h *harness) run(stmt ast.Statement, args ...any) (*Response, []schema.Row, error) {
	x := h.begin()
	resp, err := x.exec(stmt, args...)
	if err != nil {
		return nil, nil, err
	}
	rows, err := resp.Collect(context.Background())
	if err != nil {
		return nil, nil, err
	}
	return resp, rows, x.commit()
}

func (h *harness) mustRun(stmt ast.Statement, args ...any) []schema.Row {
	h.t.Helper()
	_, rows, err := h.run(stmt, args...)
	require.NoError(h.t, err)
	return rows
}

func (h *harness) affected(stmt ast.Statement, args ...any) int64 {
	h.t.Helper()
	resp, _, err := h.run(stmt, args...)
	require.NoError(h.t, err)
	return resp.RowsAffected
}

// access reports the access path planned for a query.
func (x *testTxn) access(stmt ast.Statement) string {
	x.h.t.Helper()
	p, err := prepare(x.env, stmt)
	require.NoError(x.h.t, err)
	return p.access
}

func createDocs(h *harness) {
	h.t.Helper()
	h.mustRun(&ast.CreateTable{Name: "docs", Columns: []ast.ColumnDef{
		{Name: "id", Type: "INT8", NotNull: true},
		{Name: "tenant", Type: "TEXT"},
		{Name: "title", Type: "VARCHAR(32)"},
		{Name: "embedding", Type: "VECTOR(2)"},
	}})
}

func insertDoc(h *harness, id int64, tenant, title string, vec ...float32) {
	h.t.Helper()
	var tv any
	if tenant != "" {
		tv = tenant
	}
	var ev any
	if vec != nil {
		ev = vec
	}
	h.mustRun(&ast.Insert{Table: "docs", Rows: [][]ast.Expr{{ast.Param(1), ast.Param(2), ast.Param(3), ast.Param(4)}}}, id, tv, title, ev)
}

func ints(rows []schema.Row, col int) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r[col].I
	}
	return out
}

func selectIDs(where ast.Expr, order ...ast.OrderItem) *ast.Select {
	return &ast.Select{Items: ast.Items(ast.Col("id")), From: "docs", Where: where, OrderBy: order}
}
