package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"

	"github.com/hupe1980/vecsql/codec"
	"github.com/hupe1980/vecsql/kv"
	"github.com/hupe1980/vecsql/schema"
)

var (
	// ErrRowNotFound is returned by GetRow for a missing row.
	ErrRowNotFound = errors.New("row not found")

	// ErrUniqueViolation is returned by AddIndexEntry when a unique index
	// already holds the value for another row.
	ErrUniqueViolation = errors.New("duplicate key value violates unique constraint")
)

// Config holds the settings shared by every Operator of a database.
type Config struct {
	// Compression applied to row values.
	Compression Compression
	// Retry bounds AtomicUpdate for id counters.
	Retry kv.RetryPolicy
	// Codec encodes table definitions. Defaults to codec.Default.
	Codec codec.Codec
}

// RowEntry is a row produced by ScanRows.
type RowEntry struct {
	ID  schema.RowID
	Row schema.Row
}

// Operator maps domain operations onto one kv transaction. Counters are the
// exception: they are minted through kv.AtomicUpdate on the backend in their
// own short transactions, so ids are never reused even if the caller's
// transaction rolls back.
//
// An Operator is not safe for concurrent use.
type Operator struct {
	backend kv.Backend
	txn     kv.Txn
	cfg     Config
}

// NewOperator binds an Operator to txn.
func NewOperator(backend kv.Backend, txn kv.Txn, cfg Config) *Operator {
	if cfg.Codec == nil {
		cfg.Codec = codec.Default
	}
	return &Operator{backend: backend, txn: txn, cfg: cfg}
}

// Txn returns the underlying transaction.
func (o *Operator) Txn() kv.Txn { return o.txn }

// InsertRow writes row under the table's row prefix.
func (o *Operator) InsertRow(t *schema.Table, id schema.RowID, row schema.Row) error {
	data, err := schema.EncodeRow(t, row)
	if err != nil {
		return err
	}
	value, err := compressValue(data, o.cfg.Compression)
	if err != nil {
		return err
	}
	return o.txn.Put(kv.GroupRows, rowKey(t.ID, id), value)
}

// UpdateRow replaces an existing row.
func (o *Operator) UpdateRow(t *schema.Table, id schema.RowID, row schema.Row) error {
	return o.InsertRow(t, id, row)
}

// DeleteRow removes a row.
func (o *Operator) DeleteRow(t *schema.Table, id schema.RowID) error {
	return o.txn.Delete(kv.GroupRows, rowKey(t.ID, id))
}

// GetRow reads one row.
func (o *Operator) GetRow(t *schema.Table, id schema.RowID) (schema.Row, error) {
	value, err := o.txn.Get(kv.GroupRows, rowKey(t.ID, id))
	if err != nil {
		if errors.Is(err, kv.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s/%d", ErrRowNotFound, t.Name, id)
		}
		return nil, err
	}
	return o.decodeRow(t, value)
}

func (o *Operator) decodeRow(t *schema.Table, value []byte) (schema.Row, error) {
	data, err := decompressValue(value)
	if err != nil {
		return nil, err
	}
	return schema.DecodeRow(t, data)
}

// ScanRows lazily yields the rows of t in RowID order. The sequence reads
// the transaction's snapshot including its own writes. It is finite and
// not restartable once consumed.
func (o *Operator) ScanRows(t *schema.Table) iter.Seq2[RowEntry, error] {
	return func(yield func(RowEntry, error) bool) {
		for e, err := range o.txn.Scan(kv.GroupRows, tableRowsPrefix(t.ID)) {
			if err != nil {
				yield(RowEntry{}, err)
				return
			}
			_, id, err := decodeRowKey(e.Key)
			if err != nil {
				yield(RowEntry{}, err)
				return
			}
			row, err := o.decodeRow(t, e.Value)
			if err != nil {
				yield(RowEntry{}, fmt.Errorf("row %s/%d: %w", t.Name, id, err))
				return
			}
			if !yield(RowEntry{ID: id, Row: row}, nil) {
				return
			}
		}
	}
}

// NextRowID allocates the next RowID of a table. It is the only path that
// mints RowIDs.
func (o *Operator) NextRowID(ctx context.Context, table schema.TableID) (schema.RowID, error) {
	n, err := o.nextID(ctx, lastRowIDKey(table))
	return schema.RowID(n), err
}

// NextTableID allocates a table id. Ids are never reused, so a table
// re-created after DROP TABLE starts fresh.
func (o *Operator) NextTableID(ctx context.Context) (schema.TableID, error) {
	n, err := o.nextID(ctx, lastTableIDKey())
	if err == nil && n > uint64(^uint32(0)) {
		return 0, errors.New("table id space exhausted")
	}
	return schema.TableID(n), err
}

// NextIndexID allocates an index id.
func (o *Operator) NextIndexID(ctx context.Context) (schema.IndexID, error) {
	n, err := o.nextID(ctx, lastIndexIDKey())
	if err == nil && n > uint64(^uint32(0)) {
		return 0, errors.New("index id space exhausted")
	}
	return schema.IndexID(n), err
}

func (o *Operator) nextID(ctx context.Context, key []byte) (uint64, error) {
	v, err := kv.AtomicUpdate(ctx, o.backend, o.cfg.Retry, kv.GroupLocks, key, increment)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

func increment(old []byte) ([]byte, error) {
	var n uint64
	switch len(old) {
	case 0:
	case 8:
		n = binary.BigEndian.Uint64(old)
	default:
		return nil, fmt.Errorf("%w: counter length %d", ErrCorruptValue, len(old))
	}
	return binary.BigEndian.AppendUint64(nil, n+1), nil
}

// PutTable persists a table definition and reserves its name. Two
// transactions creating the same name conflict on the reservation key.
func (o *Operator) PutTable(t *schema.Table) error {
	data, err := o.cfg.Codec.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode table %s: %w", t.Name, err)
	}
	if err := o.txn.Put(kv.GroupSchemas, tableNameKey(t.Name), binary.BigEndian.AppendUint32(nil, uint32(t.ID))); err != nil {
		return err
	}
	return o.txn.Put(kv.GroupSchemas, tableKey(t.ID), data)
}

// GetTable reads a table definition. It returns kv.ErrKeyNotFound for an
// unknown id.
func (o *Operator) GetTable(id schema.TableID) (*schema.Table, error) {
	data, err := o.txn.Get(kv.GroupSchemas, tableKey(id))
	if err != nil {
		return nil, err
	}
	return o.decodeTable(data)
}

func (o *Operator) decodeTable(data []byte) (*schema.Table, error) {
	t := &schema.Table{}
	if err := o.cfg.Codec.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}
	return t, nil
}

// DeleteTable removes a table definition and releases its name.
func (o *Operator) DeleteTable(t *schema.Table) error {
	if err := o.txn.Delete(kv.GroupSchemas, tableNameKey(t.Name)); err != nil {
		return err
	}
	return o.txn.Delete(kv.GroupSchemas, tableKey(t.ID))
}

// CheckTable reads the table definition so that a concurrent DDL commit on
// the same table makes this transaction fail with kv.ErrConflict.
func (o *Operator) CheckTable(id schema.TableID) error {
	_, err := o.txn.Get(kv.GroupSchemas, tableKey(id))
	return err
}

// ReserveIndexName claims an index name for a table.
func (o *Operator) ReserveIndexName(name string, table schema.TableID) error {
	return o.txn.Put(kv.GroupSchemas, indexNameKey(name), binary.BigEndian.AppendUint32(nil, uint32(table)))
}

// ReleaseIndexName frees an index name.
func (o *Operator) ReleaseIndexName(name string) error {
	return o.txn.Delete(kv.GroupSchemas, indexNameKey(name))
}

// ScanTables yields every persisted table definition in id order.
func (o *Operator) ScanTables() iter.Seq2[*schema.Table, error] {
	return func(yield func(*schema.Table, error) bool) {
		for e, err := range o.txn.Scan(kv.GroupSchemas, tablesPrefix()) {
			if err != nil {
				yield(nil, err)
				return
			}
			t, err := o.decodeTable(e.Value)
			if !yield(t, err) || err != nil {
				return
			}
		}
	}
}

// DropTableData deletes every row of a table and its row id counter.
func (o *Operator) DropTableData(id schema.TableID) error {
	for e, err := range o.txn.Scan(kv.GroupRows, tableRowsPrefix(id)) {
		if err != nil {
			return err
		}
		if err := o.txn.Delete(kv.GroupRows, e.Key); err != nil {
			return err
		}
	}
	return o.txn.Delete(kv.GroupLocks, lastRowIDKey(id))
}

// AddIndexEntry records that row holds v in idx. NULLs are not indexed.
func (o *Operator) AddIndexEntry(idx schema.Index, v schema.Value, row schema.RowID) error {
	if v.IsNull() {
		return nil
	}

	if idx.Unique {
		for other, err := range o.LookupIndex(idx, v) {
			if err != nil {
				return err
			}
			if other != row {
				return fmt.Errorf("%w: index %s, value %s", ErrUniqueViolation, idx.Name, v)
			}
		}
	}

	key, err := indexEntryKey(idx.ID, v, row)
	if err != nil {
		return err
	}
	return o.txn.Put(kv.GroupIndexes, key, nil)
}

// RemoveIndexEntry deletes the entry for (v, row).
func (o *Operator) RemoveIndexEntry(idx schema.Index, v schema.Value, row schema.RowID) error {
	if v.IsNull() {
		return nil
	}
	key, err := indexEntryKey(idx.ID, v, row)
	if err != nil {
		return err
	}
	return o.txn.Delete(kv.GroupIndexes, key)
}

// LookupIndex yields the RowIDs holding v in idx, in RowID order.
func (o *Operator) LookupIndex(idx schema.Index, v schema.Value) iter.Seq2[schema.RowID, error] {
	return func(yield func(schema.RowID, error) bool) {
		if v.IsNull() {
			return
		}
		prefix, err := indexValuePrefix(idx.ID, v)
		if err != nil {
			yield(0, err)
			return
		}
		for e, err := range o.txn.Scan(kv.GroupIndexes, prefix) {
			if err != nil {
				yield(0, err)
				return
			}
			if len(e.Key) != len(prefix)+8 {
				yield(0, fmt.Errorf("%w: index key length %d", ErrCorruptValue, len(e.Key)))
				return
			}
			if !yield(schema.RowID(binary.BigEndian.Uint64(e.Key[len(prefix):])), nil) {
				return
			}
		}
	}
}

// DropIndexEntries deletes every entry of an index.
func (o *Operator) DropIndexEntries(id schema.IndexID) error {
	for e, err := range o.txn.Scan(kv.GroupIndexes, indexPrefix(id)) {
		if err != nil {
			return err
		}
		if err := o.txn.Delete(kv.GroupIndexes, e.Key); err != nil {
			return err
		}
	}
	return nil
}
