package schema

import (
	"bytes"
	"cmp"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Value is a single cell. Only the field matching Kind is meaningful; the
// zero Value is NULL.
type Value struct {
	Kind Kind

	B   bool      // KindBool
	I   int64     // KindInt4, KindInt8
	F   float64   // KindFloat4, KindFloat8
	S   string    // KindText, KindVarchar, KindJSONB
	Raw []byte    // KindBytea
	Vec []float32 // KindVector
	Ref *FileRef  // KindFile
}

// Row is one tuple in column order.
type Row []Value

// Null is the NULL value.
var Null = Value{}

func NewBool(b bool) Value { return Value{Kind: KindBool, B: b} }
func NewInt4(i int32) Value { return Value{Kind: KindInt4, I: int64(i)} }
func NewInt(i int64) Value { return Value{Kind: KindInt8, I: i} }
func NewFloat4(f float32) Value { return Value{Kind: KindFloat4, F: float64(f)} }
func NewFloat(f float64) Value { return Value{Kind: KindFloat8, F: f} }
func NewText(s string) Value { return Value{Kind: KindText, S: s} }
func NewJSON(s string) Value { return Value{Kind: KindJSONB, S: s} }
func NewBytes(b []byte) Value { return Value{Kind: KindBytea, Raw: b} }
func NewVector(v []float32) Value { return Value{Kind: KindVector, Vec: v} }
func NewFile(ref FileRef) Value { return Value{Kind: KindFile, Ref: &ref} }

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsInt reports whether v holds an integer.
func (v Value) IsInt() bool { return v.Kind == KindInt4 || v.Kind == KindInt8 }

// IsFloat reports whether v holds a floating point number.
func (v Value) IsFloat() bool { return v.Kind == KindFloat4 || v.Kind == KindFloat8 }

// AsFloat returns the numeric value as float64.
func (v Value) AsFloat() (float64, bool) {
	switch {
	case v.IsInt():
		return float64(v.I), true
	case v.IsFloat():
		return v.F, true
	}
	return 0, false
}

// Truthy reports whether v is a non-null true boolean.
func (v Value) Truthy() bool { return v.Kind == KindBool && v.B }

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	out := v
	if v.Raw != nil {
		out.Raw = bytes.Clone(v.Raw)
	}
	if v.Vec != nil {
		out.Vec = slices.Clone(v.Vec)
	}
	if v.Ref != nil {
		ref := v.Ref.Clone()
		out.Ref = &ref
	}
	return out
}

// String renders v as a SQL literal-like text.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindInt4, KindInt8:
		return strconv.FormatInt(v.I, 10)
	case KindFloat4:
		return strconv.FormatFloat(v.F, 'g', -1, 32)
	case KindFloat8:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindText, KindVarchar, KindJSONB:
		return v.S
	case KindBytea:
		return `\x` + hex.EncodeToString(v.Raw)
	case KindVector:
		return FormatVector(v.Vec)
	case KindFile:
		if v.Ref == nil {
			return "NULL"
		}
		return v.Ref.String()
	default:
		return fmt.Sprintf("<%s>", v.Kind)
	}
}

// FormatVector renders a vector as '[1,2,3]'.
func FormatVector(vec []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// Compare orders a and b. NULL sorts after every other value. Values of
// incomparable kinds return ErrTypeMismatch.
func Compare(a, b Value) (int, error) {
	switch {
	case a.IsNull() && b.IsNull():
		return 0, nil
	case a.IsNull():
		return 1, nil
	case b.IsNull():
		return -1, nil
	}

	switch {
	case a.IsInt() && b.IsInt():
		return cmp.Compare(a.I, b.I), nil
	case a.Kind.IsNumeric() && b.Kind.IsNumeric():
		af, _ := a.AsFloat()
		bf, _ := b.AsFloat()
		return cmp.Compare(af, bf), nil
	case a.Kind.IsText() && b.Kind.IsText():
		return strings.Compare(a.S, b.S), nil
	case a.Kind == KindBool && b.Kind == KindBool:
		switch {
		case a.B == b.B:
			return 0, nil
		case !a.B:
			return -1, nil
		default:
			return 1, nil
		}
	case a.Kind == KindBytea && b.Kind == KindBytea:
		return bytes.Compare(a.Raw, b.Raw), nil
	case a.Kind == KindVector && b.Kind == KindVector:
		return slices.Compare(a.Vec, b.Vec), nil
	case a.Kind == KindFile && b.Kind == KindFile:
		return strings.Compare(a.String(), b.String()), nil
	}

	return 0, fmt.Errorf("%w: cannot compare %s with %s", ErrTypeMismatch, a.Kind, b.Kind)
}

// Equal reports whether a and b are equal non-null values.
func Equal(a, b Value) bool {
	if a.IsNull() || b.IsNull() {
		return false
	}
	c, err := Compare(a, b)
	return err == nil && c == 0
}
