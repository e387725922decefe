// Package vector implements the nearest-neighbor indexes behind VECTOR
// columns.
//
// Two index kinds are provided:
//
//   - Flat: exact search. Vectors live in contiguous per-namespace slabs and
//     every live vector is scored once per query. Large slabs are scanned in
//     parallel chunks.
//   - HNSW: approximate search over a Hierarchical Navigable Small World
//     graph per namespace.
//
// Scores are similarities, higher is better: the inner product for dot,
// cosine similarity for cosine and the negated squared Euclidean distance
// for l2. Results are ordered by descending score; equal scores keep
// insertion order.
//
// A Manager holds the live indexes of a database keyed by IndexID and
// mirrors committed row changes into them.
package vector
