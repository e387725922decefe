package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a data type family. It doubles as the value tag of the
// row encoding, so the numeric values are part of the persisted format.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt4
	KindInt8
	KindFloat4
	KindFloat8
	KindText
	KindVarchar
	KindBytea
	KindJSONB
	KindFile
	KindVector
)

var kindNames = [...]string{
	KindNull:    "NULL",
	KindBool:    "BOOL",
	KindInt4:    "INT4",
	KindInt8:    "INT8",
	KindFloat4:  "FLOAT4",
	KindFloat8:  "FLOAT8",
	KindText:    "TEXT",
	KindVarchar: "VARCHAR",
	KindBytea:   "BYTEA",
	KindJSONB:   "JSONB",
	KindFile:    "FILE",
	KindVector:  "VECTOR",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsNumeric reports whether k is an integer or floating point kind.
func (k Kind) IsNumeric() bool {
	switch k {
	case KindInt4, KindInt8, KindFloat4, KindFloat8:
		return true
	}
	return false
}

// IsText reports whether k stores a string.
func (k Kind) IsText() bool {
	return k == KindText || k == KindVarchar || k == KindJSONB
}

// DataType is a column's value domain. It is fixed at column creation.
type DataType struct {
	Kind Kind `json:"kind"`
	// Len is the maximum character length of a VARCHAR. 0 means unbounded.
	Len int `json:"len,omitempty"`
	// Dim is the dimensionality of a VECTOR.
	Dim int `json:"dim,omitempty"`
}

// Convenience constructors.
var (
	Bool   = DataType{Kind: KindBool}
	Int4   = DataType{Kind: KindInt4}
	Int8   = DataType{Kind: KindInt8}
	Float4 = DataType{Kind: KindFloat4}
	Float8 = DataType{Kind: KindFloat8}
	Text   = DataType{Kind: KindText}
	Bytea  = DataType{Kind: KindBytea}
	JSONB  = DataType{Kind: KindJSONB}
	File   = DataType{Kind: KindFile}
)

// Varchar returns VARCHAR(n).
func Varchar(n int) DataType { return DataType{Kind: KindVarchar, Len: n} }

// Vector returns VECTOR(dim).
func Vector(dim int) DataType { return DataType{Kind: KindVector, Dim: dim} }

func (t DataType) String() string {
	switch {
	case t.Kind == KindVarchar && t.Len > 0:
		return fmt.Sprintf("VARCHAR(%d)", t.Len)
	case t.Kind == KindVector && t.Dim > 0:
		return fmt.Sprintf("VECTOR(%d)", t.Dim)
	default:
		return t.Kind.String()
	}
}

// ParseDataType parses a SQL type name such as "int", "varchar(32)" or
// "vector(3)".
func ParseDataType(s string) (DataType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	arg := 0

	if i := strings.IndexByte(name, '('); i >= 0 {
		if !strings.HasSuffix(name, ")") {
			return DataType{}, fmt.Errorf("invalid type %q", s)
		}
		n, err := strconv.Atoi(strings.TrimSpace(name[i+1 : len(name)-1]))
		if err != nil || n <= 0 {
			return DataType{}, fmt.Errorf("invalid type modifier in %q", s)
		}
		arg = n
		name = strings.TrimSpace(name[:i])
	}

	var t DataType
	switch name {
	case "BOOL", "BOOLEAN":
		t = Bool
	case "INT4", "INT", "INTEGER":
		t = Int4
	case "INT8", "BIGINT":
		t = Int8
	case "FLOAT4", "REAL":
		t = Float4
	case "FLOAT8", "DOUBLE PRECISION", "FLOAT":
		t = Float8
	case "TEXT":
		t = Text
	case "VARCHAR":
		t = Varchar(arg)
	case "BYTEA":
		t = Bytea
	case "JSONB":
		t = JSONB
	case "FILE":
		t = File
	case "VECTOR":
		if arg == 0 {
			return DataType{}, fmt.Errorf("vector type requires a dimension: %q", s)
		}
		t = Vector(arg)
	default:
		return DataType{}, fmt.Errorf("unsupported type %q", s)
	}

	if arg != 0 && t.Kind != KindVarchar && t.Kind != KindVector {
		return DataType{}, fmt.Errorf("type %s takes no modifier", t.Kind)
	}

	return t, nil
}
