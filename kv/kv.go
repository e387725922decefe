package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
)

var (
	// ErrKeyNotFound is returned by Txn.Get when the key does not exist.
	ErrKeyNotFound = errors.New("kv: key not found")

	// ErrConflict is returned by Txn.Commit when another transaction
	// committed a write to a key this transaction read or wrote.
	ErrConflict = errors.New("kv: transaction conflict")

	// ErrClosed is returned when the backend or transaction was closed.
	ErrClosed = errors.New("kv: closed")

	// ErrReadOnly is returned when writing through a read-only transaction.
	ErrReadOnly = errors.New("kv: read-only transaction")

	// ErrRetryExhausted is returned by AtomicUpdate when the retry policy
	// gives up. It wraps the last conflict.
	ErrRetryExhausted = errors.New("kv: retry budget exhausted")
)

// Group is a logical namespace inside the ordered keyspace.
type Group uint8

const (
	// GroupLocks holds counters (last row id, last table id, ...).
	GroupLocks Group = iota + 1
	// GroupSchemas holds persisted table definitions.
	GroupSchemas
	// GroupIndexes holds secondary index entries.
	GroupIndexes
	// GroupRows holds encoded rows.
	GroupRows
)

// Groups lists every group in tag order.
var Groups = []Group{GroupLocks, GroupSchemas, GroupIndexes, GroupRows}

func (g Group) String() string {
	switch g {
	case GroupLocks:
		return "Locks"
	case GroupSchemas:
		return "Schemas"
	case GroupIndexes:
		return "Indexes"
	case GroupRows:
		return "Rows"
	default:
		return fmt.Sprintf("Group(%d)", uint8(g))
	}
}

// Valid reports whether g is one of the known groups.
func (g Group) Valid() bool {
	return g >= GroupLocks && g <= GroupRows
}

// Entry is a key-value pair produced by Txn.Scan. Key excludes the group tag.
type Entry struct {
	Key   []byte
	Value []byte
}

// Backend is an ordered key-value store with optimistic transactions.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Begin starts a transaction reading from a snapshot taken now.
	// Read-only transactions (update == false) reject writes.
	Begin(ctx context.Context, update bool) (Txn, error)

	// Close releases the backend. Open transactions become unusable.
	Close() error
}

// Txn is a snapshot-isolated unit of reads and writes.
//
// A Txn is not safe for concurrent use. It must end with exactly one call to
// Commit or Rollback; Rollback after Commit is a no-op so it can be deferred.
type Txn interface {
	// Get returns a copy of the value, or ErrKeyNotFound.
	Get(group Group, key []byte) ([]byte, error)

	// Put stores value under key. The write is visible to this transaction
	// immediately and to others after Commit.
	Put(group Group, key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(group Group, key []byte) error

	// Scan lazily yields every entry of group whose key starts with prefix,
	// in ascending key order, including this transaction's own writes.
	// Breaking out of the loop releases the underlying iterator.
	Scan(group Group, prefix []byte) iter.Seq2[Entry, error]

	// Commit atomically publishes the writes or returns ErrConflict.
	Commit() error

	// Rollback discards the writes.
	Rollback()
}

// UpdateFunc computes a new value from the old one. old is nil when the key
// does not exist. It may run several times and must not have side effects.
type UpdateFunc func(old []byte) ([]byte, error)

// EncodeKey prefixes key with the group tag.
func EncodeKey(group Group, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(group)
	copy(out[1:], key)
	return out
}

// DecodeKey strips the group tag. It reports false for keys of other groups.
func DecodeKey(group Group, raw []byte) ([]byte, bool) {
	if len(raw) == 0 || raw[0] != byte(group) {
		return nil, false
	}
	return raw[1:], true
}

// HasPrefix reports whether key starts with prefix.
func HasPrefix(key, prefix []byte) bool {
	return bytes.HasPrefix(key, prefix)
}
