package vector

import (
	"sort"
	"testing"

	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTopK(t *testing.T) {
	t.Run("KeepsBest", func(t *testing.T) {
		acc := NewTopK(3)
		for i, s := range []float32{0.1, 0.9, 0.5, 0.3, 0.7, 0.2} {
			acc.Push(schema.RowID(i), s, uint64(i))
		}
		assert.Equal(t, []Result{{1, 0.9}, {4, 0.7}, {2, 0.5}}, acc.Results())
		assert.True(t, acc.Full())
		assert.Equal(t, float32(0.5), acc.Threshold())
	})

	t.Run("TiesKeepInsertionOrder", func(t *testing.T) {
		acc := NewTopK(2)
		acc.Push(7, 1, 0)
		acc.Push(3, 1, 1)
		acc.Push(5, 1, 2)
		assert.Equal(t, []Result{{7, 1}, {3, 1}}, acc.Results())
	})

	t.Run("FewerThanK", func(t *testing.T) {
		acc := NewTopK(10)
		acc.Push(1, -3, 0)
		acc.Push(2, -1, 1)
		assert.Equal(t, []Result{{2, -1}, {1, -3}}, acc.Results())
		assert.False(t, acc.Full())
	})

	t.Run("ZeroK", func(t *testing.T) {
		acc := NewTopK(0)
		acc.Push(1, 1, 0)
		assert.Empty(t, acc.Results())
	})

	t.Run("MergeMatchesSingle", func(t *testing.T) {
		rng := testutil.NewRNG(7)
		scores := make([]float32, 500)
		rng.FillUniform(scores)

		single := NewTopK(25)
		left, right := NewTopK(25), NewTopK(25)
		for i, s := range scores {
			single.Push(schema.RowID(i), s, uint64(i))
			if i%2 == 0 {
				left.Push(schema.RowID(i), s, uint64(i))
			} else {
				right.Push(schema.RowID(i), s, uint64(i))
			}
		}
		left.Merge(right)
		assert.Equal(t, single.Results(), left.Results())

		sorted := append([]float32(nil), scores...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
		assert.Equal(t, sorted[0], single.Results()[0].Score)
		assert.Equal(t, sorted[24], single.Results()[24].Score)
	})
}
