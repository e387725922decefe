// Package memory implements an in-memory kv.Backend.
//
// The committed state lives in a google/btree BTreeG. Transactions read from
// a lazy copy-on-write Clone taken at Begin and apply their own writes to
// that clone, so a transaction sees its writes and nobody else does until
// Commit. Commit validates the transaction's read and write sets against the
// per-key commit versions and applies the write set atomically.
package memory

import (
	"bytes"
	"context"
	"iter"
	"sync"

	"github.com/google/btree"
	"github.com/hupe1980/vecsql/kv"
)

const (
	degree = 32

	// minPrune is the size of the version table below which it is not
	// pruned.
	minPrune = 1024
)

type item struct {
	key   []byte
	value []byte
}

func lessItem(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Compile time check to ensure Store satisfies the kv.Backend interface.
var _ kv.Backend = (*Store)(nil)

// Store is an in-memory ordered key-value store. The zero value is not
// usable; call New.
type Store struct {
	mu       sync.Mutex
	tree     *btree.BTreeG[item]
	versions map[string]uint64 // last commit timestamp per key, deletes included
	ts       uint64
	closed   bool

	// open counts the open update transactions per start timestamp. A
	// version at or below the oldest of them can no longer conflict.
	open    map[uint64]int
	pruneAt int
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		tree:     btree.NewG(degree, lessItem),
		versions: make(map[string]uint64),
		open:     make(map[uint64]int),
		pruneAt:  minPrune,
	}
}

// Begin starts a transaction on a snapshot of the committed state.
func (s *Store) Begin(ctx context.Context, update bool) (kv.Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, kv.ErrClosed
	}

	t := &txn{
		store:   s,
		update:  update,
		startTs: s.ts,
		view:    s.tree.Clone(),
	}
	if update {
		t.reads = make(map[string]struct{})
		t.writes = make(map[string]write)
		s.open[t.startTs]++
	}

	return t, nil
}

// Close drops all data. Transactions still open fail on Commit.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.tree.Clear(false)
	s.versions = nil
	return nil
}

// Len returns the number of committed keys across all groups.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}

// commit validates and applies a transaction's writes.
func (s *Store) commit(t *txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.release(t)
	if s.closed {
		return kv.ErrClosed
	}

	for k := range t.reads {
		if s.versions[k] > t.startTs {
			return kv.ErrConflict
		}
	}
	for k := range t.writes {
		if s.versions[k] > t.startTs {
			return kv.ErrConflict
		}
	}

	if len(t.writes) == 0 {
		return nil
	}

	s.ts++
	for k, w := range t.writes {
		key := []byte(k)
		if w.deleted {
			s.tree.Delete(item{key: key})
		} else {
			s.tree.ReplaceOrInsert(item{key: key, value: w.value})
		}
		s.versions[k] = s.ts
	}
	if len(s.versions) >= s.pruneAt {
		s.prune()
	}

	return nil
}

// release forgets an update transaction that ended. The caller holds mu.
func (s *Store) release(t *txn) {
	if n := s.open[t.startTs]; n > 1 {
		s.open[t.startTs] = n - 1
	} else {
		delete(s.open, t.startTs)
	}
}

// prune drops the versions no open transaction can conflict with. The
// caller holds mu.
func (s *Store) prune() {
	oldest := s.ts
	for ts := range s.open {
		oldest = min(oldest, ts)
	}
	for k, v := range s.versions {
		if v <= oldest {
			delete(s.versions, k)
		}
	}
	s.pruneAt = max(2*len(s.versions), minPrune)
}

// Versions returns the number of keys whose commit version is still
// tracked for conflict detection.
func (s *Store) Versions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.versions)
}

type write struct {
	value   []byte
	deleted bool
}

type txn struct {
	store   *Store
	update  bool
	startTs uint64
	view    *btree.BTreeG[item]
	reads   map[string]struct{}
	writes  map[string]write
	done    bool
}

func (t *txn) Get(group kv.Group, key []byte) ([]byte, error) {
	if t.done {
		return nil, kv.ErrClosed
	}

	raw := kv.EncodeKey(group, key)
	if t.update {
		t.reads[string(raw)] = struct{}{}
	}

	it, ok := t.view.Get(item{key: raw})
	if !ok {
		return nil, kv.ErrKeyNotFound
	}
	return bytes.Clone(it.value), nil
}

func (t *txn) Put(group kv.Group, key, value []byte) error {
	if t.done {
		return kv.ErrClosed
	}
	if !t.update {
		return kv.ErrReadOnly
	}

	raw := kv.EncodeKey(group, key)
	v := bytes.Clone(value)
	if v == nil {
		v = []byte{}
	}
	t.view.ReplaceOrInsert(item{key: raw, value: v})
	t.writes[string(raw)] = write{value: v}
	return nil
}

func (t *txn) Delete(group kv.Group, key []byte) error {
	if t.done {
		return kv.ErrClosed
	}
	if !t.update {
		return kv.ErrReadOnly
	}

	raw := kv.EncodeKey(group, key)
	t.view.Delete(item{key: raw})
	t.writes[string(raw)] = write{deleted: true}
	return nil
}

func (t *txn) Scan(group kv.Group, prefix []byte) iter.Seq2[kv.Entry, error] {
	return func(yield func(kv.Entry, error) bool) {
		if t.done {
			yield(kv.Entry{}, kv.ErrClosed)
			return
		}

		start := kv.EncodeKey(group, prefix)
		// Iterate a clone so the caller may write while scanning.
		snapshot := t.view.Clone()
		snapshot.AscendGreaterOrEqual(item{key: start}, func(it item) bool {
			if !bytes.HasPrefix(it.key, start) {
				return false
			}
			if t.update {
				t.reads[string(it.key)] = struct{}{}
			}
			return yield(kv.Entry{
				Key:   bytes.Clone(it.key[1:]),
				Value: bytes.Clone(it.value),
			}, nil)
		})
	}
}

func (t *txn) Commit() error {
	if t.done {
		return kv.ErrClosed
	}
	t.done = true

	if !t.update {
		return nil
	}
	return t.store.commit(t)
}

func (t *txn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	if t.update {
		t.store.mu.Lock()
		t.store.release(t)
		t.store.mu.Unlock()
	}
}
