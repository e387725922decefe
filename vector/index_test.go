package vector

import (
	"context"
	"testing"

	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kinds = []schema.IndexKind{schema.IndexFlat, schema.IndexHNSW}

func newIndex(t *testing.T, kind schema.IndexKind, opts Options) Index {
	t.Helper()
	idx, err := New(kind, opts)
	require.NoError(t, err)
	return idx
}

func ids(results []Result) []uint64 {
	out := make([]uint64, len(results))
	for i, r := range results {
		out[i] = uint64(r.RowID)
	}
	return out
}

func TestSelfSimilarity(t *testing.T) {
	ctx := context.Background()

	for _, kind := range kinds {
		for _, metric := range []Metric{MetricL2, MetricCosine, MetricDot} {
			t.Run(string(kind)+"/"+string(metric), func(t *testing.T) {
				rng := testutil.NewRNG(4711)
				data := rng.UnitVectors(300, 16)
				idx := newIndex(t, kind, Options{Metric: metric, Dim: 16})

				for i, v := range data {
					require.NoError(t, idx.Upsert(schema.RowID(i+1), "", v))
				}
				require.Equal(t, len(data), idx.Len())

				found := 0
				for i, v := range data {
					res, err := idx.TopK(ctx, Query{Vector: v, K: 1})
					require.NoError(t, err)
					require.Len(t, res, 1)
					if res[0].RowID == schema.RowID(i+1) {
						found++
					}
				}

				if kind == schema.IndexFlat {
					assert.Equal(t, len(data), found)
				} else {
					assert.GreaterOrEqual(t, found, len(data)*98/100)
				}
			})
		}
	}
}

func TestRecall(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(99)
	data := rng.ClusteredVectors(2000, 32, 20, 0.2)
	queries := rng.UnitVectors(20, 32)

	idx := newIndex(t, schema.IndexHNSW, Options{Metric: MetricL2, Dim: 32, M: 16, EfConstruction: 200, Ef: 100})
	for i, v := range data {
		require.NoError(t, idx.Upsert(schema.RowID(i+1), "", v))
	}

	var total float64
	for _, q := range queries {
		truth := testutil.ExactTopK(q, data, 10, 1, testutil.NegSquaredL2)
		res, err := idx.TopK(ctx, Query{Vector: q, K: 10})
		require.NoError(t, err)
		total += testutil.ComputeRecall(truth, ids(res))
	}
	assert.GreaterOrEqual(t, total/float64(len(queries)), 0.9)
}

func TestFlatExact(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(5)

	// Enough vectors to take the parallel path.
	data := rng.UniformVectors(parallelThreshold+500, 8)
	idx := NewFlat(Options{Metric: MetricL2, Dim: 8})
	for i, v := range data {
		require.NoError(t, idx.Upsert(schema.RowID(i+1), "", v))
	}

	q := rng.UniformVectors(1, 8)[0]
	res, err := idx.TopK(ctx, Query{Vector: q, K: 20})
	require.NoError(t, err)

	truth := testutil.ExactTopK(q, data, 20, 1, testutil.NegSquaredL2)
	require.Len(t, res, 20)
	for i := range truth {
		assert.Equal(t, truth[i].ID, uint64(res[i].RowID))
		assert.InDelta(t, truth[i].Score, res[i].Score, 1e-4)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = idx.TopK(canceled, Query{Vector: q, K: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()

	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			idx := newIndex(t, kind, Options{Metric: MetricL2, Dim: 2})

			require.NoError(t, idx.Upsert(1, "a", []float32{0, 0}))
			require.NoError(t, idx.Upsert(2, "a", []float32{1, 1}))
			require.NoError(t, idx.Upsert(3, "b", []float32{0, 0}))

			res, err := idx.TopK(ctx, Query{Vector: []float32{0, 0}, K: 10, Namespace: "a"})
			require.NoError(t, err)
			assert.Equal(t, []uint64{1, 2}, ids(res))

			res, err = idx.TopK(ctx, Query{Vector: []float32{0, 0}, K: 10, Namespace: "b"})
			require.NoError(t, err)
			assert.Equal(t, []uint64{3}, ids(res))

			res, err = idx.TopK(ctx, Query{Vector: []float32{0, 0}, K: 10, Namespace: "c"})
			require.NoError(t, err)
			assert.Empty(t, res)

			// Moving a row between namespaces removes it from the old one.
			require.NoError(t, idx.Upsert(2, "b", []float32{1, 1}))
			res, err = idx.TopK(ctx, Query{Vector: []float32{0, 0}, K: 10, Namespace: "a"})
			require.NoError(t, err)
			assert.Equal(t, []uint64{1}, ids(res))
			assert.Equal(t, 3, idx.Len())
		})
	}
}

func TestUpsertDelete(t *testing.T) {
	ctx := context.Background()

	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			idx := newIndex(t, kind, Options{Metric: MetricDot, Dim: 3})

			require.NoError(t, idx.Upsert(1, "", []float32{1, 0, 0}))
			require.NoError(t, idx.Upsert(2, "", []float32{0, 1, 0}))
			require.NoError(t, idx.Upsert(1, "", []float32{0, 0, 1}))

			res, err := idx.TopK(ctx, Query{Vector: []float32{1, 0, 0}, K: 1})
			require.NoError(t, err)
			require.Len(t, res, 1)
			assert.Equal(t, float32(0), res[0].Score)

			res, err = idx.TopK(ctx, Query{Vector: []float32{0, 0, 1}, K: 1})
			require.NoError(t, err)
			assert.Equal(t, []Result{{RowID: 1, Score: 1}}, res)

			idx.Delete(1)
			idx.Delete(42)
			assert.Equal(t, 1, idx.Len())
			res, err = idx.TopK(ctx, Query{Vector: []float32{0, 0, 1}, K: 5})
			require.NoError(t, err)
			assert.Equal(t, []uint64{2}, ids(res))

			idx.Delete(2)
			res, err = idx.TopK(ctx, Query{Vector: []float32{0, 0, 1}, K: 5})
			require.NoError(t, err)
			assert.Empty(t, res)
		})
	}
}

func TestManyDeletes(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(11)
	data := rng.UnitVectors(3000, 8)

	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			idx := newIndex(t, kind, Options{Metric: MetricL2, Dim: 8})
			for i, v := range data {
				require.NoError(t, idx.Upsert(schema.RowID(i+1), "", v))
			}
			// Delete all but every tenth row; both compaction and graph
			// rebuild kick in.
			for i := range data {
				if i%10 != 0 {
					idx.Delete(schema.RowID(i + 1))
				}
			}
			assert.Equal(t, 300, idx.Len())

			for i := 0; i < len(data); i += 100 {
				res, err := idx.TopK(ctx, Query{Vector: data[i], K: 1})
				require.NoError(t, err)
				require.Len(t, res, 1)
				assert.Equal(t, schema.RowID(i+1), res[0].RowID)
			}
		})
	}
}

func TestFilter(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(3)
	data := rng.UnitVectors(500, 8)

	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			idx := newIndex(t, kind, Options{Metric: MetricCosine, Dim: 8})
			for i, v := range data {
				require.NoError(t, idx.Upsert(schema.RowID(i+1), "", v))
			}

			even := func(id schema.RowID) bool { return id%2 == 0 }
			res, err := idx.TopK(ctx, Query{Vector: data[0], K: 5, Filter: even})
			require.NoError(t, err)
			assert.Len(t, res, 5)
			for _, r := range res {
				assert.True(t, even(r.RowID))
			}

			only := func(id schema.RowID) bool { return id == 377 }
			res, err = idx.TopK(ctx, Query{Vector: data[0], K: 5, Filter: only})
			require.NoError(t, err)
			assert.Equal(t, []uint64{377}, ids(res))
		})
	}
}

func TestValidation(t *testing.T) {
	ctx := context.Background()

	_, err := New(schema.IndexHNSW, Options{Dim: 0})
	assert.Error(t, err)
	_, err = New(schema.IndexBTree, Options{Dim: 3})
	assert.Error(t, err)
	_, err = New(schema.IndexFlat, Options{Dim: 3, Metric: "manhattan"})
	assert.Error(t, err)

	for _, kind := range kinds {
		idx := newIndex(t, kind, Options{Dim: 3})
		assert.Equal(t, MetricL2, idx.Options().Metric)

		err := idx.Upsert(1, "", []float32{1, 2})
		var dimErr *schema.DimensionError
		require.ErrorAs(t, err, &dimErr)
		assert.Equal(t, 3, dimErr.Expected)
		assert.Equal(t, 2, dimErr.Actual)

		_, err = idx.TopK(ctx, Query{Vector: []float32{1}, K: 1})
		assert.ErrorIs(t, err, schema.ErrDimensionMismatch)

		_, err = idx.TopK(ctx, Query{Vector: []float32{1, 2, 3}, K: 0})
		assert.ErrorIs(t, err, ErrInvalidK)
	}
}
