package exec

import (
	"fmt"

	"github.com/hupe1980/vecsql/schema"
)

// ToValue converts a Go argument to a Value. It accepts nil, bool, the
// built-in integer and float types, string, []byte, []float32, []float64,
// schema.FileRef and schema.Value.
func ToValue(arg any) (schema.Value, error) {
	switch v := arg.(type) {
	case nil:
		return schema.Null, nil
	case schema.Value:
		return v, nil
	case bool:
		return schema.NewBool(v), nil
	case int:
		return schema.NewInt(int64(v)), nil
	case int8:
		return schema.NewInt(int64(v)), nil
	case int16:
		return schema.NewInt(int64(v)), nil
	case int32:
		return schema.NewInt4(v), nil
	case int64:
		return schema.NewInt(v), nil
	case uint8:
		return schema.NewInt(int64(v)), nil
	case uint16:
		return schema.NewInt(int64(v)), nil
	case uint32:
		return schema.NewInt(int64(v)), nil
	case float32:
		return schema.NewFloat4(v), nil
	case float64:
		return schema.NewFloat(v), nil
	case string:
		return schema.NewText(v), nil
	case []byte:
		if v == nil {
			return schema.Null, nil
		}
		return schema.NewBytes(v), nil
	case []float32:
		if v == nil {
			return schema.Null, nil
		}
		return schema.NewVector(v), nil
	case []float64:
		if v == nil {
			return schema.Null, nil
		}
		vec := make([]float32, len(v))
		for i, f := range v {
			vec[i] = float32(f)
		}
		return schema.NewVector(vec), nil
	case schema.FileRef:
		return schema.NewFile(v), nil
	case *schema.FileRef:
		if v == nil {
			return schema.Null, nil
		}
		return schema.NewFile(*v), nil
	}
	return schema.Null, fmt.Errorf("%w: unsupported argument type %T", ErrParameter, arg)
}

// ToValues converts a list of arguments with ToValue.
func ToValues(args []any) ([]schema.Value, error) {
	out := make([]schema.Value, len(args))
	for i, a := range args {
		v, err := ToValue(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}
