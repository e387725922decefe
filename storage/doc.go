// Package storage is the transaction-scoped domain layer over a kv.Backend.
//
// An Operator turns row, catalog and index operations into kv calls on the
// four groups: rows under GroupRows, id counters under GroupLocks, table
// definitions under GroupSchemas and secondary index entries under
// GroupIndexes. Row values are encoded with the schema row codec and may be
// compressed with LZ4 or ZSTD behind a one-byte header.
package storage
