package vector

import (
	"context"
	"fmt"
	"testing"

	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/testutil"
)

func newBenchIndex(b *testing.B, kind schema.IndexKind, dim int) Index {
	b.Helper()
	idx, err := New(kind, Options{Metric: MetricL2, Dim: dim})
	if err != nil {
		b.Fatal(err)
	}
	return idx
}

// BenchmarkUpsert benchmarks single vector insertion
func BenchmarkUpsert(b *testing.B) {
	for _, kind := range []schema.IndexKind{schema.IndexFlat, schema.IndexHNSW} {
		for _, dim := range []int{128, 384} {
			b.Run(fmt.Sprintf("%s/dim=%d", kind, dim), func(b *testing.B) {
				idx := newBenchIndex(b, kind, dim)
				rng := testutil.NewRNG(1)
				vecs := rng.UniformVectors(1024, dim)
				b.ResetTimer()

				for i := 0; b.Loop(); i++ {
					if err := idx.Upsert(schema.RowID(i), "", vecs[i%len(vecs)]); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

// BenchmarkTopK benchmarks KNN search
func BenchmarkTopK(b *testing.B) {
	const dim = 128
	for _, kind := range []schema.IndexKind{schema.IndexFlat, schema.IndexHNSW} {
		for _, size := range []int{1000, 10000} {
			b.Run(fmt.Sprintf("%s/n=%d", kind, size), func(b *testing.B) {
				idx := newBenchIndex(b, kind, dim)
				rng := testutil.NewRNG(2)
				for i, v := range rng.ClusteredVectors(size, dim, 16, 0.1) {
					if err := idx.Upsert(schema.RowID(i), "", v); err != nil {
						b.Fatal(err)
					}
				}
				queries := rng.UniformVectors(64, dim)
				ctx := context.Background()
				b.ResetTimer()

				for i := 0; b.Loop(); i++ {
					if _, err := idx.TopK(ctx, Query{Vector: queries[i%len(queries)], K: 10}); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

// BenchmarkTopKFiltered benchmarks KNN search with a selective filter
func BenchmarkTopKFiltered(b *testing.B) {
	const dim, size = 128, 10000
	for _, kind := range []schema.IndexKind{schema.IndexFlat, schema.IndexHNSW} {
		b.Run(string(kind), func(b *testing.B) {
			idx := newBenchIndex(b, kind, dim)
			rng := testutil.NewRNG(3)
			for i, v := range rng.UniformVectors(size, dim) {
				if err := idx.Upsert(schema.RowID(i), "", v); err != nil {
					b.Fatal(err)
				}
			}
			q := Query{
				Vector: rng.UniformVectors(1, dim)[0],
				K:      10,
				Filter: func(id schema.RowID) bool { return id%10 == 0 },
			}
			ctx := context.Background()
			b.ResetTimer()

			for b.Loop() {
				if _, err := idx.TopK(ctx, q); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
