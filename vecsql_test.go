package vecsql_test

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hupe1980/vecsql"
	"github.com/hupe1980/vecsql/ast"
	"github.com/hupe1980/vecsql/exec"
	"github.com/hupe1980/vecsql/kv"
	"github.com/hupe1980/vecsql/kv/memory"
	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T, opts ...vecsql.Option) *vecsql.DB {
	t.Helper()
	db, err := vecsql.Open(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustExec(t *testing.T, e interface {
	Execute(context.Context, ast.Statement, ...any) (*exec.Response, error)
}, stmt ast.Statement, args ...any) []schema.Row {
	t.Helper()
	resp, err := e.Execute(context.Background(), stmt, args...)
	require.NoError(t, err)
	rows, err := resp.Collect(context.Background())
	require.NoError(t, err)
	return rows
}

var createItems = &ast.CreateTable{Name: "items", Columns: []ast.ColumnDef{
	{Name: "id", Type: "INT8", NotNull: true},
	{Name: "name", Type: "TEXT"},
	{Name: "embedding", Type: "VECTOR(3)"},
}}

func insertItem(id int64, name string, vec []float32) (*ast.Insert, []any) {
	return &ast.Insert{Table: "items", Rows: [][]ast.Expr{{ast.Param(1), ast.Param(2), ast.Param(3)}}},
		[]any{id, name, vec}
}

var selectAll = &ast.Select{
	Items:   ast.Items(ast.Col("id"), ast.Col("name")),
	From:    "items",
	OrderBy: []ast.OrderItem{{Expr: ast.Col("id")}},
}

func ids(rows []schema.Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r[0].I
	}
	return out
}

func TestOpenOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  vecsql.Option
	}{
		{"NegativeBatchSize", vecsql.WithBatchSize(-1)},
		{"GraphDegree", vecsql.WithHNSWDefaults(1, 200, 64)},
		{"ZeroEf", vecsql.WithHNSWDefaults(16, 200, 0)},
		{"Compression", vecsql.WithCompression(9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := vecsql.Open(context.Background(), tt.opt)
			require.Error(t, err)
		})
	}

	db := openDB(t, nil, vecsql.WithLogger(nil), vecsql.WithMetricsCollector(nil), vecsql.WithCodec(nil))
	assert.Empty(t, db.Tables())
}

func TestExecute(t *testing.T) {
	metrics := &vecsql.BasicMetricsCollector{}
	db := openDB(t, vecsql.WithMetricsCollector(metrics), vecsql.WithBatchSize(2))
	ctx := context.Background()

	resp, err := db.Execute(ctx, createItems)
	require.NoError(t, err)
	assert.Equal(t, exec.TypeDDL, resp.Type)
	assert.Equal(t, []string{"items"}, db.Tables())

	for i, v := range [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 1, 0}} {
		stmt, args := insertItem(int64(i+1), fmt.Sprintf("item-%d", i+1), v)
		resp, err := db.Execute(ctx, stmt, args...)
		require.NoError(t, err)
		assert.Equal(t, exec.TypeDML, resp.Type)
		assert.EqualValues(t, 1, resp.RowsAffected)
	}

	rows := mustExec(t, db, selectAll)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(rows))
	assert.Equal(t, "item-4", rows[3][1].S)

	mustExec(t, db, &ast.CreateIndex{Name: "items_embedding", Table: "items", Columns: []string{"embedding"}, Using: "hnsw",
		With: []ast.IndexOption{{Name: "metric", Value: ast.String("cosine")}}})

	nearest := &ast.Select{
		Items:   ast.Items(ast.Col("id")),
		From:    "items",
		OrderBy: []ast.OrderItem{{Expr: ast.Fn("cosine_distance", ast.Col("embedding"), ast.Param(1))}},
		Limit:   ast.Int(2),
	}
	resp, err = db.Execute(ctx, nearest, []float32{1, 0.9, 0})
	require.NoError(t, err)
	assert.Equal(t, "vector scan using items_embedding", resp.Access)
	rows, err = resp.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 1}, ids(rows))

	_, err = db.Execute(ctx, &ast.Begin{})
	require.ErrorIs(t, err, vecsql.ErrUnsupported)

	_, err = db.Execute(ctx, &ast.Select{Items: ast.Items(ast.Col("id")), From: "missing"})
	require.ErrorIs(t, err, vecsql.ErrTableNotFound)
	var se *vecsql.StatementError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, exec.PhaseParsed, se.Phase)

	// A text argument for an integer placeholder fails before any row is
	// touched.
	stmt, args := insertItem(5, "x", nil)
	args[0] = "five"
	_, err = db.Execute(ctx, stmt, args...)
	require.ErrorIs(t, err, vecsql.ErrTypeMismatch)
	assert.Len(t, mustExec(t, db, selectAll), 4)

	_, err = db.Execute(ctx, stmt, struct{}{}, "x", nil)
	require.ErrorIs(t, err, vecsql.ErrParameter)

	stats := metrics.GetStats()
	assert.EqualValues(t, 1, stats.VectorSearchCount)
	assert.EqualValues(t, 2, stats.DDLCount)
	assert.EqualValues(t, 4, stats.DMLCount)
	assert.EqualValues(t, 3, stats.StatementErrors)
	assert.EqualValues(t, 6, stats.CommitCount)
	assert.Zero(t, stats.ConflictCount)
}

func TestStreamReleasesTransaction(t *testing.T) {
	db := openDB(t, vecsql.WithBatchSize(1))
	ctx := context.Background()
	mustExec(t, db, createItems)
	for i := range 5 {
		stmt, args := insertItem(int64(i), "n", nil)
		mustExec(t, db, stmt, args...)
	}

	resp, err := db.Execute(ctx, selectAll)
	require.NoError(t, err)
	released := make(chan error, 1)
	resp.Stream.OnClose(func(err error) { released <- err })

	n := 0
	for _, err := range resp.Rows(ctx) {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	require.NoError(t, <-released)

	// The abandoned query left nothing behind that blocks writers.
	stmt, args := insertItem(9, "n", nil)
	mustExec(t, db, stmt, args...)
	assert.Len(t, mustExec(t, db, selectAll), 6)
}

func TestTx(t *testing.T) {
	metrics := &vecsql.BasicMetricsCollector{}
	db := openDB(t, vecsql.WithMetricsCollector(metrics))
	ctx := context.Background()
	mustExec(t, db, createItems)
	stmt, args := insertItem(1, "a", nil)
	mustExec(t, db, stmt, args...)

	t.Run("Isolation", func(t *testing.T) {
		tx, err := db.Begin(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, tx.ID())

		stmt, args := insertItem(2, "b", nil)
		mustExec(t, tx, stmt, args...)
		assert.Equal(t, []int64{1, 2}, ids(mustExec(t, tx, selectAll)))
		assert.Equal(t, []int64{1}, ids(mustExec(t, db, selectAll)))

		require.NoError(t, tx.Commit(ctx))
		assert.Equal(t, []int64{1, 2}, ids(mustExec(t, db, selectAll)))

		require.ErrorIs(t, tx.Commit(ctx), vecsql.ErrTxDone)
		require.ErrorIs(t, tx.Rollback(), vecsql.ErrTxDone)
		_, err = tx.Execute(ctx, selectAll)
		require.ErrorIs(t, err, vecsql.ErrTxDone)
	})

	t.Run("Conflict", func(t *testing.T) {
		rename := func(name string) *ast.Update {
			return &ast.Update{Table: "items", Set: []ast.Assignment{{Column: "name", Value: ast.String(name)}},
				Where: ast.Eq(ast.Col("id"), ast.Int(1))}
		}
		first, err := db.Begin(ctx)
		require.NoError(t, err)
		second, err := db.Begin(ctx)
		require.NoError(t, err)

		mustExec(t, first, rename("first"))
		mustExec(t, second, rename("second"))
		require.NoError(t, first.Commit(ctx))

		err = second.Commit(ctx)
		require.ErrorIs(t, err, vecsql.ErrConflict)
		assert.True(t, vecsql.IsRetryable(err))
		var ce *vecsql.CommitError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, second.ID(), ce.TxID)
		assert.EqualValues(t, 1, metrics.GetStats().ConflictCount)

		rows := mustExec(t, db, &ast.Select{Items: ast.Items(ast.Col("name")), From: "items", Where: ast.Eq(ast.Col("id"), ast.Int(1))})
		require.Len(t, rows, 1)
		assert.Equal(t, "first", rows[0][0].S)
	})

	t.Run("Update", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.Update(ctx, func(tx *vecsql.Tx) error {
			mustExec(t, tx, &ast.Delete{Table: "items"})
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Len(t, mustExec(t, db, selectAll), 2)

		require.NoError(t, db.Update(ctx, func(tx *vecsql.Tx) error {
			_, err := tx.Execute(ctx, &ast.Delete{Table: "items", Where: ast.Eq(ast.Col("id"), ast.Int(2))})
			return err
		}))
		assert.Equal(t, []int64{1}, ids(mustExec(t, db, selectAll)))
	})

	t.Run("FailedStatementAborts", func(t *testing.T) {
		tx, err := db.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.Execute(ctx, &ast.Insert{Table: "items", Rows: [][]ast.Expr{
			{ast.Int(5), ast.String("e"), ast.Null()},
			{ast.Null(), ast.String("f"), ast.Null()},
		}})
		require.ErrorIs(t, err, vecsql.ErrNullViolation)

		_, err = tx.Execute(ctx, selectAll)
		require.ErrorIs(t, err, vecsql.ErrTxAborted)
		err = tx.Commit(ctx)
		require.ErrorIs(t, err, vecsql.ErrTxAborted)
		assert.False(t, vecsql.IsRetryable(err))
		require.ErrorIs(t, tx.Rollback(), vecsql.ErrTxDone)
		assert.Equal(t, []int64{1}, ids(mustExec(t, db, selectAll)))

		// Ignoring the error inside Update does not publish the partial rows.
		err = db.Update(ctx, func(tx *vecsql.Tx) error {
			_, _ = tx.Execute(ctx, &ast.Insert{Table: "items", Rows: [][]ast.Expr{
				{ast.Int(6), ast.String("g"), ast.Null()},
				{ast.Null(), ast.String("h"), ast.Null()},
			}})
			return nil
		})
		require.ErrorIs(t, err, vecsql.ErrTxAborted)
		assert.Equal(t, []int64{1}, ids(mustExec(t, db, selectAll)))
	})

	t.Run("FailedIndexBuildAborts", func(t *testing.T) {
		tx, err := db.Begin(ctx)
		require.NoError(t, err)
		stmt, args := insertItem(3, "first", nil)
		mustExec(t, tx, stmt, args...)
		_, err = tx.Execute(ctx, &ast.CreateIndex{Name: "items_name", Table: "items", Columns: []string{"name"}, Unique: true})
		require.ErrorIs(t, err, vecsql.ErrUniqueViolation)
		require.ErrorIs(t, tx.Commit(ctx), vecsql.ErrTxAborted)

		resp, err := db.Execute(ctx, &ast.Select{Items: ast.Items(ast.Col("id")), From: "items", Where: ast.Eq(ast.Col("name"), ast.String("first"))})
		require.NoError(t, err)
		assert.Equal(t, "table scan", resp.Access)
		rows, err := resp.Collect(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, ids(rows))

		// The index name was never reserved.
		mustExec(t, db, &ast.CreateIndex{Name: "items_name", Table: "items", Columns: []string{"name"}})
	})
}

func TestSession(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	s := db.Session()
	defer s.Close()
	mustExec(t, s, createItems)

	_, err := s.Execute(ctx, &ast.Commit{})
	require.ErrorIs(t, err, vecsql.ErrNoTx)

	resp, err := s.Execute(ctx, &ast.Begin{})
	require.NoError(t, err)
	assert.Equal(t, exec.TypeTransaction, resp.Type)
	assert.True(t, s.InTx())
	_, err = s.Execute(ctx, &ast.Begin{})
	require.ErrorIs(t, err, vecsql.ErrTxInProgress)

	stmt, args := insertItem(1, "a", nil)
	mustExec(t, s, stmt, args...)
	assert.Empty(t, mustExec(t, db, selectAll))
	mustExec(t, s, &ast.Commit{})
	assert.False(t, s.InTx())
	assert.Len(t, mustExec(t, db, selectAll), 1)

	mustExec(t, s, &ast.Begin{})
	mustExec(t, s, &ast.Delete{Table: "items"})
	mustExec(t, s, &ast.Rollback{})
	assert.Len(t, mustExec(t, db, selectAll), 1)

	// A failing statement aborts the transaction and its earlier writes.
	mustExec(t, s, &ast.Begin{})
	stmt, args = insertItem(2, "b", nil)
	mustExec(t, s, stmt, args...)
	_, err = s.Execute(ctx, &ast.Insert{Table: "items", Rows: [][]ast.Expr{{ast.Null(), ast.String("c"), ast.Null()}}})
	require.ErrorIs(t, err, vecsql.ErrNullViolation)
	assert.False(t, s.InTx())
	assert.Equal(t, []int64{1}, ids(mustExec(t, s, selectAll)))

	mustExec(t, s, &ast.Begin{})
	require.NoError(t, s.Close())
	assert.False(t, s.InTx())
}

func TestDropThenSelect(t *testing.T) {
	db := openDB(t)
	mustExec(t, db, createItems)
	stmt, args := insertItem(1, "a", []float32{1, 2, 3})
	mustExec(t, db, stmt, args...)
	mustExec(t, db, &ast.DropTable{Name: "items"})

	_, err := db.Execute(context.Background(), selectAll)
	require.ErrorIs(t, err, vecsql.ErrTableNotFound)

	mustExec(t, db, createItems)
	assert.Empty(t, mustExec(t, db, selectAll))
}

func TestConcurrentInserts(t *testing.T) {
	db := openDB(t)
	mustExec(t, db, createItems)

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				stmt, args := insertItem(int64(w*perWorker+i), "c", nil)
				if _, err := db.Execute(context.Background(), stmt, args...); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got := ids(mustExec(t, db, selectAll))
	require.Len(t, got, workers*perWorker)
	for i, id := range got {
		assert.EqualValues(t, i, id)
	}
}

func TestClose(t *testing.T) {
	db, err := vecsql.Open(context.Background())
	require.NoError(t, err)
	mustExec(t, db, createItems)

	tx, err := db.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err = db.Begin(context.Background())
	require.ErrorIs(t, err, vecsql.ErrClosed)
	require.ErrorIs(t, tx.Commit(context.Background()), vecsql.ErrClosed)
}

// countingBackend counts row reads of every transaction it starts.
type countingBackend struct {
	kv.Backend
	gets  atomic.Int64
	scans atomic.Int64
}

func (b *countingBackend) Begin(ctx context.Context, update bool) (kv.Txn, error) {
	txn, err := b.Backend.Begin(ctx, update)
	if err != nil {
		return nil, err
	}
	return &countingTxn{Txn: txn, b: b}, nil
}

func (b *countingBackend) reset() {
	b.gets.Store(0)
	b.scans.Store(0)
}

type countingTxn struct {
	kv.Txn
	b *countingBackend
}

func (t *countingTxn) Get(group kv.Group, key []byte) ([]byte, error) {
	if group == kv.GroupRows {
		t.b.gets.Add(1)
	}
	return t.Txn.Get(group, key)
}

func (t *countingTxn) Scan(group kv.Group, prefix []byte) iter.Seq2[kv.Entry, error] {
	if group == kv.GroupRows {
		t.b.scans.Add(1)
	}
	return t.Txn.Scan(group, prefix)
}

func TestVectorScanReadsOnlyHits(t *testing.T) {
	const size = 300
	data := testutil.NewRNG(5).UnitVectors(size, 3)

	for _, using := range []string{"flat", "hnsw"} {
		t.Run(using, func(t *testing.T) {
			backend := &countingBackend{Backend: memory.New()}
			db := openDB(t, vecsql.WithBackend(backend))
			ctx := context.Background()
			mustExec(t, db, createItems)
			mustExec(t, db, &ast.CreateIndex{Name: "items_vec", Table: "items", Columns: []string{"embedding"}, Using: using})
			require.NoError(t, db.Update(ctx, func(tx *vecsql.Tx) error {
				for i, v := range data {
					stmt, args := insertItem(int64(i), "v", v)
					if _, err := tx.Execute(ctx, stmt, args...); err != nil {
						return err
					}
				}
				return nil
			}))

			nearest := &ast.Select{
				Items:   ast.Items(ast.Col("id")),
				From:    "items",
				OrderBy: []ast.OrderItem{{Expr: ast.Fn("l2_distance", ast.Col("embedding"), ast.Param(1))}},
				Limit:   ast.Int(1),
			}
			backend.reset()
			resp, err := db.Execute(ctx, nearest, data[7])
			require.NoError(t, err)
			assert.Equal(t, "vector scan using items_vec", resp.Access)
			rows, err := resp.Collect(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int64{7}, ids(rows))
			assert.LessOrEqual(t, backend.gets.Load(), int64(2))
			assert.Zero(t, backend.scans.Load())

			// A row deleted by the transaction is skipped and the next hit
			// takes its place.
			tx, err := db.Begin(ctx)
			require.NoError(t, err)
			defer func() { _ = tx.Rollback() }()
			mustExec(t, tx, &ast.Delete{Table: "items", Where: ast.Eq(ast.Col("id"), ast.Int(7))})
			backend.reset()
			rows = mustExec(t, tx, nearest, data[7])
			require.Len(t, rows, 1)
			assert.NotEqual(t, int64(7), rows[0][0].I)
			assert.LessOrEqual(t, backend.gets.Load(), int64(2))
		})
	}
}

func TestSessionAdvisoryLocks(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	lock := func(s *vecsql.Session, fn string, key int64) bool {
		t.Helper()
		rows := mustExec(t, s, &ast.Select{Items: ast.Items(ast.Fn(fn, ast.Param(1)))}, key)
		require.Len(t, rows, 1)
		return rows[0][0].B
	}

	first, second := db.Session(), db.Session()
	defer second.Close()

	// Session locks survive the implicit transactions that took them.
	assert.True(t, lock(first, "pg_advisory_lock", 7))
	assert.False(t, lock(second, "pg_try_advisory_lock", 7))
	assert.False(t, lock(second, "pg_advisory_unlock", 7))

	mustExec(t, first, &ast.Begin{})
	assert.True(t, lock(first, "pg_try_advisory_lock", 8))
	mustExec(t, first, &ast.Rollback{})
	assert.False(t, lock(second, "pg_try_advisory_lock", 8))

	// A blocked lock call waits for the owner to let go.
	done := make(chan error, 1)
	go func() {
		_, err := mustLockAsync(ctx, second, 7)
		done <- err
	}()
	assert.True(t, lock(first, "pg_advisory_unlock", 7))
	require.NoError(t, <-done)

	// Close releases what is still held.
	require.NoError(t, first.Close())
	assert.True(t, lock(second, "pg_try_advisory_lock", 8))

	// Outside a session, locks end with their transaction.
	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	mustExec(t, tx, &ast.Select{Items: ast.Items(ast.Fn("pg_advisory_lock", ast.Int(9)))})
	third := db.Session()
	defer third.Close()
	assert.False(t, lock(third, "pg_try_advisory_lock", 9))
	require.NoError(t, tx.Commit(ctx))
	assert.True(t, lock(third, "pg_try_advisory_lock", 9))
}

func mustLockAsync(ctx context.Context, s *vecsql.Session, key int64) ([]schema.Row, error) {
	resp, err := s.Execute(ctx, &ast.Select{Items: ast.Items(ast.Fn("pg_advisory_lock", ast.Param(1)))}, key)
	if err != nil {
		return nil, err
	}
	return resp.Collect(ctx)
}

func TestSessionPrivilege(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	mustExec(t, db, createItems)
	stmt, args := insertItem(1, "a", nil)
	mustExec(t, db, stmt, args...)

	reader := db.Session(vecsql.WithPrivilege(vecsql.PrivilegeReadOnly))
	defer reader.Close()
	assert.Equal(t, []int64{1}, ids(mustExec(t, reader, selectAll)))

	stmt, args = insertItem(2, "b", nil)
	_, err := reader.Execute(ctx, stmt, args...)
	require.ErrorIs(t, err, vecsql.ErrInsufficientPrivilege)
	var se *vecsql.StatementError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "INSERT", se.Statement)
	_, err = reader.Execute(ctx, &ast.DropTable{Name: "items"})
	require.ErrorIs(t, err, vecsql.ErrInsufficientPrivilege)

	// Transaction control needs no privilege; a denied statement aborts the
	// transaction like any other failure.
	mustExec(t, reader, &ast.Begin{})
	_, err = reader.Execute(ctx, &ast.Delete{Table: "items"})
	require.ErrorIs(t, err, vecsql.ErrInsufficientPrivilege)
	assert.False(t, reader.InTx())

	writer := db.Session(vecsql.WithPrivilege(vecsql.PrivilegeRows))
	defer writer.Close()
	mustExec(t, writer, stmt, args...)
	_, err = writer.Execute(ctx, &ast.CreateIndex{Name: "items_id", Table: "items", Columns: []string{"id"}})
	require.ErrorIs(t, err, vecsql.ErrInsufficientPrivilege)
	assert.Equal(t, []int64{1, 2}, ids(mustExec(t, db, selectAll)))
}

// TestConcurrentSchemaChanges verifies that two transactions changing the
// same table's schema cannot both commit.
func TestConcurrentSchemaChanges(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	mustExec(t, db, createItems)

	first, err := db.Begin(ctx)
	require.NoError(t, err)
	second, err := db.Begin(ctx)
	require.NoError(t, err)

	mustExec(t, first, &ast.CreateIndex{Name: "items_id", Table: "items", Columns: []string{"id"}})
	mustExec(t, second, &ast.CreateIndex{Name: "items_name", Table: "items", Columns: []string{"name"}})
	require.NoError(t, first.Commit(ctx))
	require.ErrorIs(t, second.Commit(ctx), vecsql.ErrConflict)

	mustExec(t, db, &ast.DropIndex{Name: "items_id"})
	_, err = db.Execute(ctx, &ast.DropIndex{Name: "items_name"})
	require.ErrorIs(t, err, vecsql.ErrIndexNotFound)
}
