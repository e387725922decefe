// Package testutil provides helpers for tests: seeded vector generation,
// exact nearest neighbors and recall.
//
//	rng := testutil.NewRNG(4711)
//	data := rng.UnitVectors(1000, 32)
//	truth := testutil.ExactTopK(data[0], data, 10, 1, testutil.Dot)
//	recall := testutil.ComputeRecall(truth, ids)
package testutil
