package testutil

import (
	"math"
	"math/rand"
	"sort"
	"sync"
)

// SearchResult is one entry of an exact nearest-neighbor result.
type SearchResult struct {
	ID    uint64
	Score float32
}

// RNG is a seeded random source. It is safe for concurrent use.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates an RNG with the given seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 { return r.seed }

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// FillUniform fills dst with values in [0, 1).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// UniformVectors generates num vectors with values in [-1, 1), backed by
// one array.
func (r *RNG) UniformVectors(num, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)
	for i := range num {
		vec := data[i*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = r.rand.Float32()*2 - 1
		}
		vectors[i] = vec
	}
	return vectors
}

// UnitVectors generates L2-normalized vectors drawn uniformly from the
// hypersphere.
func (r *RNG) UnitVectors(num, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range num {
		vec := make([]float32, dim)
		var norm float64
		for j := range vec {
			v := r.rand.NormFloat64()
			vec[j] = float32(v)
			norm += v * v
		}
		if norm == 0 {
			norm = 1
		}
		inv := float32(1 / math.Sqrt(norm))
		for j := range vec {
			vec[j] *= inv
		}
		vectors[i] = vec
	}
	return vectors
}

// ClusteredVectors generates vectors around random unit centroids.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	centroids := r.UnitVectors(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range num {
		c := centroids[i%clusters]
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = c[j] + float32(r.rand.NormFloat64())*spread
		}
		vectors[i] = vec
	}
	return vectors
}

// NegSquaredL2 scores by negative squared Euclidean distance.
func NegSquaredL2(a, b []float32) float32 {
	var s float32
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return -s
}

// Dot scores by inner product.
func Dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// ExactTopK returns the k highest-scoring vectors by brute force. Result IDs
// are positions in data plus base. Ties keep data order.
func ExactTopK(query []float32, data [][]float32, k int, base uint64, score func(a, b []float32) float32) []SearchResult {
	all := make([]SearchResult, len(data))
	for i, v := range data {
		all[i] = SearchResult{ID: base + uint64(i), Score: score(query, v)}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// ComputeRecall returns the fraction of the ground truth found in the
// approximate result.
func ComputeRecall(groundTruth []SearchResult, approximate []uint64) float64 {
	if len(groundTruth) == 0 {
		if len(approximate) == 0 {
			return 1
		}
		return 0
	}

	truth := make(map[uint64]struct{}, len(groundTruth))
	for _, r := range groundTruth {
		truth[r.ID] = struct{}{}
	}
	hits := 0
	for _, id := range approximate {
		if _, ok := truth[id]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(groundTruth))
}
