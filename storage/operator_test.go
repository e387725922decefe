package storage

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/hupe1980/vecsql/kv"
	"github.com/hupe1980/vecsql/kv/memory"
	"github.com/hupe1980/vecsql/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docsTable(id schema.TableID) *schema.Table {
	return &schema.Table{
		ID:   id,
		Name: "docs",
		Columns: []schema.Column{
			{ID: 1, Name: "id", Type: schema.Int8},
			{ID: 2, Name: "body", Type: schema.Text},
		},
	}
}

func begin(t *testing.T, b kv.Backend, cfg Config) (*Operator, kv.Txn) {
	t.Helper()

	txn, err := b.Begin(context.Background(), true)
	require.NoError(t, err)
	t.Cleanup(txn.Rollback)
	return NewOperator(b, txn, cfg), txn
}

func TestRowIDUniqueConcurrent(t *testing.T) {
	const n = 100

	b := memory.New()
	op := NewOperator(b, nil, Config{Retry: kv.DefaultRetryPolicy})

	ids := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := op.NextRowID(context.Background(), 1)
			if assert.NoError(t, err) {
				ids[i] = int(id)
			}
		}(i)
	}
	wg.Wait()

	sort.Ints(ids)
	for i, id := range ids {
		assert.Equal(t, i+1, id)
	}

	// Counters are per table.
	id, err := op.NextRowID(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, schema.RowID(1), id)
}

func TestScanRows(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			b := memory.New()
			op, txn := begin(t, b, Config{Compression: c, Retry: kv.DefaultRetryPolicy})

			t1, t2 := docsTable(1), docsTable(2)
			body := strings.Repeat("lorem ipsum ", 40)

			// Insert out of order, 300 ids crosses a byte boundary.
			for _, id := range []schema.RowID{300, 2, 1, 256, 3} {
				row := schema.Row{schema.NewInt(int64(id)), schema.NewText(body)}
				require.NoError(t, op.InsertRow(t1, id, row))
			}
			require.NoError(t, op.InsertRow(t2, 1, schema.Row{schema.NewInt(-1), schema.NewText("other")}))
			require.NoError(t, txn.Commit())

			op, _ = begin(t, b, Config{Compression: c})

			var got []schema.RowID
			for e, err := range op.ScanRows(t1) {
				require.NoError(t, err)
				assert.Equal(t, int64(e.ID), e.Row[0].I)
				assert.Equal(t, body, e.Row[1].S)
				got = append(got, e.ID)
			}
			assert.Equal(t, []schema.RowID{1, 2, 3, 256, 300}, got)

			row, err := op.GetRow(t2, 1)
			require.NoError(t, err)
			assert.Equal(t, "other", row[1].S)

			require.NoError(t, op.DeleteRow(t1, 2))
			_, err = op.GetRow(t1, 2)
			assert.ErrorIs(t, err, ErrRowNotFound)
		})
	}
}

func TestTables(t *testing.T) {
	b := memory.New()
	op, _ := begin(t, b, Config{Retry: kv.DefaultRetryPolicy})
	ctx := context.Background()

	id1, err := op.NextTableID(ctx)
	require.NoError(t, err)
	id2, err := op.NextTableID(ctx)
	require.NoError(t, err)
	assert.Less(t, id1, id2)

	t1 := docsTable(id1)
	t1.Indexes = []schema.Index{{
		ID:      9,
		Name:    "docs_vec",
		Kind:    schema.IndexHNSW,
		Columns: []schema.ColumnID{2},
		Vector:  &schema.VectorIndexOptions{Metric: "l2", Dim: 3, M: 8},
	}}
	t2 := docsTable(id2)
	t2.Name = "other"

	require.NoError(t, op.PutTable(t1))
	require.NoError(t, op.PutTable(t2))

	got, err := op.GetTable(id1)
	require.NoError(t, err)
	assert.Equal(t, t1, got)

	var names []string
	for tbl, err := range op.ScanTables() {
		require.NoError(t, err)
		names = append(names, tbl.Name)
	}
	assert.Equal(t, []string{"docs", "other"}, names)

	require.NoError(t, op.CheckTable(id2))

	require.NoError(t, op.DeleteTable(t1))
	_, err = op.GetTable(id1)
	assert.ErrorIs(t, err, kv.ErrKeyNotFound)
	assert.ErrorIs(t, op.CheckTable(id1), kv.ErrKeyNotFound)
}

func TestDropTableData(t *testing.T) {
	b := memory.New()
	op, _ := begin(t, b, Config{Retry: kv.DefaultRetryPolicy})
	t1, t2 := docsTable(1), docsTable(2)

	for i := schema.RowID(1); i <= 10; i++ {
		require.NoError(t, op.InsertRow(t1, i, schema.Row{schema.NewInt(1), schema.Null}))
	}
	require.NoError(t, op.InsertRow(t2, 1, schema.Row{schema.NewInt(1), schema.Null}))

	require.NoError(t, op.DropTableData(1))

	for range op.ScanRows(t1) {
		t.Fatal("rows of dropped table still visible")
	}
	n := 0
	for _, err := range op.ScanRows(t2) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 1, n)
}

func TestIndexEntries(t *testing.T) {
	b := memory.New()
	op, _ := begin(t, b, Config{})

	idx := schema.Index{ID: 4, Name: "docs_body", Kind: schema.IndexBTree, Columns: []schema.ColumnID{2}}
	uniq := schema.Index{ID: 5, Name: "docs_id", Kind: schema.IndexBTree, Columns: []schema.ColumnID{1}, Unique: true}

	require.NoError(t, op.AddIndexEntry(idx, schema.NewText("a"), 3))
	require.NoError(t, op.AddIndexEntry(idx, schema.NewText("a"), 1))
	require.NoError(t, op.AddIndexEntry(idx, schema.NewText("ab"), 2))
	require.NoError(t, op.AddIndexEntry(idx, schema.Null, 7))

	lookup := func(ix schema.Index, v schema.Value) []schema.RowID {
		var ids []schema.RowID
		for id, err := range op.LookupIndex(ix, v) {
			require.NoError(t, err)
			ids = append(ids, id)
		}
		return ids
	}

	assert.Equal(t, []schema.RowID{1, 3}, lookup(idx, schema.NewText("a")))
	assert.Equal(t, []schema.RowID{2}, lookup(idx, schema.NewText("ab")))
	assert.Empty(t, lookup(idx, schema.Null))

	require.NoError(t, op.AddIndexEntry(uniq, schema.NewInt(10), 1))
	require.NoError(t, op.AddIndexEntry(uniq, schema.NewInt(10), 1))
	err := op.AddIndexEntry(uniq, schema.NewInt(10), 2)
	assert.ErrorIs(t, err, ErrUniqueViolation)

	require.NoError(t, op.RemoveIndexEntry(idx, schema.NewText("a"), 3))
	assert.Equal(t, []schema.RowID{1}, lookup(idx, schema.NewText("a")))

	require.NoError(t, op.DropIndexEntries(idx.ID))
	assert.Empty(t, lookup(idx, schema.NewText("a")))
	assert.Equal(t, []schema.RowID{1}, lookup(uniq, schema.NewInt(10)))

	_, err = AppendIndexKey(nil, schema.NewVector([]float32{1}))
	assert.ErrorIs(t, err, schema.ErrTypeMismatch)
}

func TestIndexKeyOrder(t *testing.T) {
	values := []schema.Value{
		schema.NewInt(-5), schema.NewInt(0), schema.NewInt(3), schema.NewInt(1 << 40),
	}
	floats := []schema.Value{
		schema.NewFloat(-2.5), schema.NewFloat(-0.1), schema.NewFloat(0), schema.NewFloat(7.25),
	}
	texts := []schema.Value{
		schema.NewText(""), schema.NewText("a"), schema.NewText("a\x00"), schema.NewText("ab"), schema.NewText("b"),
	}

	for _, group := range [][]schema.Value{values, floats, texts} {
		var prev []byte
		for _, v := range group {
			key, err := AppendIndexKey(nil, v)
			require.NoError(t, err)
			if prev != nil {
				assert.Negative(t, bytes.Compare(prev, key), "%s", v)
			}
			prev = key
		}
	}
}

func TestCompression(t *testing.T) {
	small := []byte("tiny")
	large := bytes.Repeat([]byte("abcdefgh"), 64)

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		for _, data := range [][]byte{small, large, {}} {
			framed, err := compressValue(data, c)
			require.NoError(t, err)
			if c != CompressionNone && len(data) == len(large) {
				assert.Less(t, len(framed), len(data))
			}
			out, err := decompressValue(framed)
			require.NoError(t, err)
			assert.Equal(t, len(data), len(out))
			assert.True(t, bytes.Equal(data, out))
		}
	}

	_, err := decompressValue([]byte{9, 0})
	assert.ErrorIs(t, err, ErrCorruptValue)

	got, err := ParseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, CompressionZSTD, got)
	_, err = ParseCompression("brotli")
	assert.Error(t, err)
}
