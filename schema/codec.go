package schema

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Row encoding
//
//	u16 count
//	count x { u16 columnID | u8 kind | payload }
//
// Cells appear in column order at encode time. All multi-byte integers are
// big-endian and floats are stored as IEEE-754 bits. Payloads:
//
//	NULL            (none)
//	BOOL            u8
//	INT4            u32
//	INT8            u64
//	FLOAT4          u32 bits
//	FLOAT8          u64 bits
//	TEXT/VARCHAR/JSONB/BYTEA   u32 len | bytes
//	VECTOR          u32 dim | dim x u32 bits
//	FILE            u8 flavor | inline: u32 len | json
//	                          | external: 3 x (u32 len | bytes)

const (
	fileInline   byte = 0
	fileExternal byte = 1
)

// EncodeRow serializes row, which must be in t's column order.
func EncodeRow(t *Table, row Row) ([]byte, error) {
	if len(row) != len(t.Columns) {
		return nil, fmt.Errorf("row has %d values, table %s has %d columns", len(row), t.Name, len(t.Columns))
	}

	buf := make([]byte, 0, 2+len(row)*12)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(row)))

	for i, v := range row {
		buf = binary.BigEndian.AppendUint16(buf, uint16(t.Columns[i].ID))
		buf = append(buf, byte(v.Kind))

		switch v.Kind {
		case KindNull:
		case KindBool:
			if v.B {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case KindInt4:
			buf = binary.BigEndian.AppendUint32(buf, uint32(int32(v.I)))
		case KindInt8:
			buf = binary.BigEndian.AppendUint64(buf, uint64(v.I))
		case KindFloat4:
			buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(v.F)))
		case KindFloat8:
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v.F))
		case KindText, KindVarchar, KindJSONB:
			buf = appendBytes(buf, []byte(v.S))
		case KindBytea:
			buf = appendBytes(buf, v.Raw)
		case KindVector:
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.Vec)))
			for _, f := range v.Vec {
				buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(f))
			}
		case KindFile:
			if v.Ref == nil {
				return nil, fmt.Errorf("column %s: FILE value without reference", t.Columns[i].Name)
			}
			if v.Ref.IsExternal() {
				buf = append(buf, fileExternal)
				buf = appendBytes(buf, []byte(v.Ref.Endpoint))
				buf = appendBytes(buf, []byte(v.Ref.Bucket))
				buf = appendBytes(buf, []byte(v.Ref.Path))
			} else {
				buf = append(buf, fileInline)
				buf = appendBytes(buf, v.Ref.Metadata)
			}
		default:
			return nil, fmt.Errorf("column %s: cannot encode kind %s", t.Columns[i].Name, v.Kind)
		}
	}

	return buf, nil
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// DecodeRow deserializes data into t's current column order. Columns missing
// from the encoding decode as NULL; cells of unknown columns are skipped.
func DecodeRow(t *Table, data []byte) (Row, error) {
	d := decoder{buf: data}

	n := int(d.u16())
	row := make(Row, len(t.Columns))

	for i := 0; i < n && d.err == nil; i++ {
		id := ColumnID(d.u16())
		kind := Kind(d.u8())
		v := d.value(kind)
		if d.err != nil {
			break
		}
		if pos, ok := t.ColumnPos(id); ok {
			row[pos] = v
		}
	}

	if d.err != nil {
		return nil, d.err
	}
	if len(d.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptRow, len(d.buf))
	}

	return row, nil
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf) < n {
		d.err = fmt.Errorf("%w: unexpected end of data", ErrCorruptRow)
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u8() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *decoder) bytes() []byte {
	n := d.u32()
	b := d.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (d *decoder) value(kind Kind) Value {
	switch kind {
	case KindNull:
		return Null
	case KindBool:
		return NewBool(d.u8() != 0)
	case KindInt4:
		return Value{Kind: KindInt4, I: int64(int32(d.u32()))}
	case KindInt8:
		return NewInt(int64(d.u64()))
	case KindFloat4:
		return NewFloat4(math.Float32frombits(d.u32()))
	case KindFloat8:
		return NewFloat(math.Float64frombits(d.u64()))
	case KindText, KindVarchar, KindJSONB:
		return Value{Kind: kind, S: string(d.bytes())}
	case KindBytea:
		return NewBytes(d.bytes())
	case KindVector:
		dim := int(d.u32())
		raw := d.take(dim * 4)
		if raw == nil {
			return Null
		}
		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:]))
		}
		return NewVector(vec)
	case KindFile:
		switch d.u8() {
		case fileInline:
			return NewFile(FileRef{Metadata: d.bytes()})
		case fileExternal:
			return NewFile(FileRef{
				Endpoint: string(d.bytes()),
				Bucket:   string(d.bytes()),
				Path:     string(d.bytes()),
			})
		}
	}

	if d.err == nil {
		d.err = fmt.Errorf("%w: unknown value kind %d", ErrCorruptRow, kind)
	}
	return Null
}
