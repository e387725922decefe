package vecsql_test

import (
	"context"
	"testing"

	"github.com/hupe1980/vecsql"
	"github.com/hupe1980/vecsql/ast"
	"github.com/hupe1980/vecsql/kv/badger"
	"github.com/hupe1980/vecsql/storage"
	"github.com/hupe1980/vecsql/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBadger(t *testing.T, dir string) *vecsql.DB {
	t.Helper()
	db, err := vecsql.Open(context.Background(),
		vecsql.WithPath(dir),
		vecsql.WithCompression(storage.CompressionLZ4),
		vecsql.WithBadger(func(o *badger.Options) {
			o.SyncWrites = false
			o.GCInterval = 0
		}),
	)
	require.NoError(t, err)
	return db
}

// TestReopenRebuildsVectorIndexes verifies that rows, schema and index
// definitions survive a restart and that vector indexes are rebuilt from the
// stored rows.
func TestReopenRebuildsVectorIndexes(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	rng := testutil.NewRNG(11)
	data := rng.UnitVectors(64, 3)

	db := openBadger(t, dir)
	mustExec(t, db, createItems)
	mustExec(t, db, &ast.CreateIndex{Name: "items_flat", Table: "items", Columns: []string{"embedding"}, Using: "flat",
		With: []ast.IndexOption{{Name: "metric", Value: ast.String("dot")}}})
	mustExec(t, db, &ast.CreateIndex{Name: "items_id", Table: "items", Columns: []string{"id"}, Unique: true})
	for i, v := range data {
		stmt, args := insertItem(int64(i), "v", v)
		mustExec(t, db, stmt, args...)
	}
	require.NoError(t, db.Close())

	db = openBadger(t, dir)
	defer db.Close()
	assert.Equal(t, []string{"items"}, db.Tables())

	// Every vector finds itself first.
	for _, i := range []int{0, 17, 63} {
		resp, err := db.Execute(ctx, &ast.Select{
			Items:   ast.Items(ast.Col("id")),
			From:    "items",
			OrderBy: []ast.OrderItem{{Expr: ast.Fn("inner_product", ast.Col("embedding"), ast.Param(1)), Desc: true}},
			Limit:   ast.Int(1),
		}, data[i])
		require.NoError(t, err)
		assert.Equal(t, "vector scan using items_flat", resp.Access)
		rows, err := resp.Collect(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.EqualValues(t, i, rows[0][0].I)
	}

	// The unique index survived as well.
	stmt, args := insertItem(5, "dup", nil)
	_, err := db.Execute(ctx, stmt, args...)
	require.ErrorIs(t, err, vecsql.ErrUniqueViolation)

	resp, err := db.Execute(ctx, &ast.Select{Items: ast.Items(ast.Col("id")), From: "items", Where: ast.Eq(ast.Col("id"), ast.Int(5))})
	require.NoError(t, err)
	assert.Equal(t, "index lookup using items_id", resp.Access)
	rows, err := resp.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, ids(rows))
}

func TestReopenAfterDrop(t *testing.T) {
	dir := t.TempDir()

	db := openBadger(t, dir)
	mustExec(t, db, createItems)
	mustExec(t, db, &ast.CreateIndex{Name: "items_hnsw", Table: "items", Columns: []string{"embedding"}, Using: "hnsw"})
	stmt, args := insertItem(1, "a", []float32{1, 2, 3})
	mustExec(t, db, stmt, args...)
	mustExec(t, db, &ast.DropTable{Name: "items"})
	require.NoError(t, db.Close())

	db = openBadger(t, dir)
	defer db.Close()
	assert.Empty(t, db.Tables())

	// The name is free again, and the new table starts empty.
	mustExec(t, db, createItems)
	mustExec(t, db, &ast.CreateIndex{Name: "items_hnsw", Table: "items", Columns: []string{"embedding"}, Using: "hnsw"})
	assert.Empty(t, mustExec(t, db, selectAll))
}
