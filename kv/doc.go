// Package kv defines the ordered key-value substrate vecsql stores its
// tables in.
//
// A Backend hands out optimistic transactions (Txn) over a single ordered
// keyspace that is partitioned into logical Groups (rows, counters, schemas,
// indexes). Every physical key starts with a one-byte group tag, so keys of
// different groups never collide and a prefix scan never crosses groups.
//
// Two backends ship with vecsql:
//
//   - kv/memory: google/btree copy-on-write snapshots, for tests and
//     ephemeral databases.
//   - kv/badger: Badger's log-structured store, for persistent databases.
//
// Counters and other read-modify-write metadata are updated with
// AtomicUpdate, which runs a closure in its own short transaction and
// re-runs it on write conflicts according to a RetryPolicy.
package kv
