package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/hupe1980/vecsql/schema"
)

// Key layout inside each kv group. The group tag byte is added by the
// backend, so these are the bytes that follow it.
//
//	Rows     be32(tableID) | be64(rowID)
//	Locks    'r' | be32(tableID)      last row id of a table
//	         't'                      last table id
//	         'i'                      last index id
//	Schemas  't' | be32(tableID)      table definition
//	         'n' | lower(name)        table name reservation
//	         'x' | lower(name)        index name reservation
//	Indexes  be32(indexID) | indexKey(value) | be64(rowID)
//
// Big-endian ids make lexicographic key order equal numeric order, so a
// prefix scan over a table yields its rows in RowID order.

const (
	lockRowID   byte = 'r'
	lockTableID byte = 't'
	lockIndexID byte = 'i'

	schemaTable     byte = 't'
	schemaTableName byte = 'n'
	schemaIndexName byte = 'x'
)

func tableRowsPrefix(id schema.TableID) []byte {
	return binary.BigEndian.AppendUint32(make([]byte, 0, 12), uint32(id))
}

func rowKey(table schema.TableID, row schema.RowID) []byte {
	return binary.BigEndian.AppendUint64(tableRowsPrefix(table), uint64(row))
}

func decodeRowKey(key []byte) (schema.TableID, schema.RowID, error) {
	if len(key) != 12 {
		return 0, 0, fmt.Errorf("%w: row key length %d", ErrCorruptValue, len(key))
	}
	return schema.TableID(binary.BigEndian.Uint32(key)), schema.RowID(binary.BigEndian.Uint64(key[4:])), nil
}

func lastRowIDKey(table schema.TableID) []byte {
	return binary.BigEndian.AppendUint32([]byte{lockRowID}, uint32(table))
}

func lastTableIDKey() []byte { return []byte{lockTableID} }

func lastIndexIDKey() []byte { return []byte{lockIndexID} }

func tableKey(id schema.TableID) []byte {
	return binary.BigEndian.AppendUint32([]byte{schemaTable}, uint32(id))
}

func tablesPrefix() []byte { return []byte{schemaTable} }

func tableNameKey(name string) []byte {
	return append([]byte{schemaTableName}, strings.ToLower(name)...)
}

func indexNameKey(name string) []byte {
	return append([]byte{schemaIndexName}, strings.ToLower(name)...)
}

func indexPrefix(id schema.IndexID) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(id))
}

func indexValuePrefix(id schema.IndexID, v schema.Value) ([]byte, error) {
	return AppendIndexKey(indexPrefix(id), v)
}

func indexEntryKey(id schema.IndexID, v schema.Value, row schema.RowID) ([]byte, error) {
	key, err := indexValuePrefix(id, v)
	if err != nil {
		return nil, err
	}
	return binary.BigEndian.AppendUint64(key, uint64(row)), nil
}

// Index key tags. Each encoding is self-delimiting so no value's key is a
// prefix of another value's key.
const (
	tagBool  byte = 0x01
	tagInt   byte = 0x02
	tagFloat byte = 0x03
	tagText  byte = 0x04
	tagBytes byte = 0x05
)

// AppendIndexKey appends an order-preserving encoding of v to dst. NULL,
// vectors and files cannot be indexed.
func AppendIndexKey(dst []byte, v schema.Value) ([]byte, error) {
	switch {
	case v.Kind == schema.KindBool:
		b := byte(0)
		if v.B {
			b = 1
		}
		return append(dst, tagBool, b), nil
	case v.IsInt():
		dst = append(dst, tagInt)
		return binary.BigEndian.AppendUint64(dst, uint64(v.I)^(1<<63)), nil
	case v.IsFloat():
		dst = append(dst, tagFloat)
		bits := math.Float64bits(v.F)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		return binary.BigEndian.AppendUint64(dst, bits), nil
	case v.Kind.IsText():
		return appendEscaped(append(dst, tagText), []byte(v.S)), nil
	case v.Kind == schema.KindBytea:
		return appendEscaped(append(dst, tagBytes), v.Raw), nil
	default:
		return nil, fmt.Errorf("%w: %s values cannot be indexed", schema.ErrTypeMismatch, v.Kind)
	}
}

// appendEscaped writes b with 0x00 escaped as 0x00 0xFF and terminates it
// with 0x00 0x01.
func appendEscaped(dst, b []byte) []byte {
	for _, c := range b {
		if c == 0 {
			dst = append(dst, 0x00, 0xFF)
			continue
		}
		dst = append(dst, c)
	}
	return append(dst, 0x00, 0x01)
}
