package schema

import (
	"encoding/hex"
	"math"
	"strings"
	"unicode/utf8"

	json "github.com/goccy/go-json"
)

// Coerce converts a literal to the declared type t. NULL passes through;
// NOT NULL is enforced by Column.Coerce.
//
// Conversions are strict: text never converts to numbers or booleans, and
// floats convert to integers only when they hold an integral value in range.
// Text literals of the form '[1,2,3]' convert to VECTOR.
func Coerce(t DataType, v Value) (Value, error) {
	if v.IsNull() {
		return Null, nil
	}

	mismatch := func(reason string) (Value, error) {
		return Null, &TypeError{Want: t, Got: v.Kind, Reason: reason}
	}

	switch t.Kind {
	case KindBool:
		if v.Kind == KindBool {
			return v, nil
		}

	case KindInt4, KindInt8:
		var i int64
		switch {
		case v.IsInt():
			i = v.I
		case v.IsFloat():
			if v.F != math.Trunc(v.F) || math.IsInf(v.F, 0) || math.IsNaN(v.F) {
				return mismatch("not an integral value")
			}
			if v.F < math.MinInt64 || v.F >= math.MaxInt64 {
				return mismatch("out of range")
			}
			i = int64(v.F)
		default:
			return mismatch("")
		}
		if t.Kind == KindInt4 {
			if i < math.MinInt32 || i > math.MaxInt32 {
				return mismatch("out of range for INT4")
			}
			return Value{Kind: KindInt4, I: i}, nil
		}
		return Value{Kind: KindInt8, I: i}, nil

	case KindFloat4, KindFloat8:
		f, ok := v.AsFloat()
		if !ok {
			return mismatch("")
		}
		if t.Kind == KindFloat4 {
			if math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
				return mismatch("out of range for FLOAT4")
			}
			return Value{Kind: KindFloat4, F: float64(float32(f))}, nil
		}
		return Value{Kind: KindFloat8, F: f}, nil

	case KindText:
		if v.Kind.IsText() {
			return Value{Kind: KindText, S: v.S}, nil
		}

	case KindVarchar:
		if v.Kind.IsText() {
			if t.Len > 0 && utf8.RuneCountInString(v.S) > t.Len {
				return mismatch("value too long")
			}
			return Value{Kind: KindVarchar, S: v.S}, nil
		}

	case KindJSONB:
		if v.Kind.IsText() {
			if !json.Valid([]byte(v.S)) {
				return mismatch("invalid JSON")
			}
			return Value{Kind: KindJSONB, S: v.S}, nil
		}

	case KindBytea:
		switch {
		case v.Kind == KindBytea:
			return v, nil
		case v.Kind.IsText():
			if hexStr, ok := strings.CutPrefix(v.S, `\x`); ok {
				raw, err := hex.DecodeString(hexStr)
				if err != nil {
					return mismatch("invalid hex")
				}
				return NewBytes(raw), nil
			}
			return NewBytes([]byte(v.S)), nil
		}

	case KindFile:
		switch {
		case v.Kind == KindFile && v.Ref != nil:
			return v, nil
		case v.Kind.IsText():
			ref, err := ParseFileRef(v.S)
			if err != nil {
				return Null, err
			}
			return NewFile(ref), nil
		}

	case KindVector:
		var vec []float32
		switch {
		case v.Kind == KindVector:
			vec = v.Vec
		case v.Kind.IsText():
			parsed, err := ParseVector(v.S)
			if err != nil {
				return mismatch(err.Error())
			}
			vec = parsed
		default:
			return mismatch("")
		}
		if t.Dim > 0 && len(vec) != t.Dim {
			return Null, &DimensionError{Expected: t.Dim, Actual: len(vec)}
		}
		return NewVector(vec), nil
	}

	return mismatch("")
}

// ParseVector parses the text form '[1,2,3]'.
func ParseVector(s string) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &vec); err != nil {
		return nil, err
	}
	return vec, nil
}
