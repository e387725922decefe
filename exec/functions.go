package exec

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/vector"
)

// Function is a scalar SQL function.
type Function struct {
	Name    string
	MinArgs int
	// MaxArgs is -1 for variadic functions.
	MaxArgs int
	// Volatile functions are re-evaluated per row even with constant
	// arguments.
	Volatile bool
	// Result returns the static result type for the argument types.
	Result func(args []schema.DataType) schema.DataType
	// Hint returns the type expected for argument i given the types of
	// already compiled arguments; it types placeholders.
	Hint func(i int, args []schema.DataType) schema.DataType
	Call func(ec *evalContext, args []schema.Value) (schema.Value, error)
}

func (f Function) argHint(i int, args []schema.DataType) schema.DataType {
	if f.Hint == nil {
		return schema.DataType{}
	}
	return f.Hint(i, args)
}

// functions is the process-wide registry. It is populated once at package
// initialization and never mutated afterwards.
var functions = func() map[string]Function {
	m := map[string]Function{}
	for _, f := range []Function{
		vectorFunc("l2_distance", vector.L2Distance),
		vectorFunc("cosine_distance", vector.CosineDistance),
		vectorFunc("inner_product", func(a, b []float32) float64 { return float64(vector.Dot(a, b)) }),
		vectorFunc("dot_similarity", func(a, b []float32) float64 { return float64(vector.Dot(a, b)) }),
		{
			Name: "vector_dims", MinArgs: 1, MaxArgs: 1,
			Result: fixed(schema.Int4),
			Hint:   fixedHint(schema.DataType{Kind: schema.KindVector}),
			Call: func(_ *evalContext, args []schema.Value) (schema.Value, error) {
				v, err := vectorArg(args[0])
				if err != nil || v == nil {
					return schema.Null, err
				}
				return schema.NewInt4(int32(len(v))), nil
			},
		},
		textFunc("lower", strings.ToLower),
		textFunc("upper", strings.ToUpper),
		{
			Name: "length", MinArgs: 1, MaxArgs: 1,
			Result: fixed(schema.Int8),
			Call: func(_ *evalContext, args []schema.Value) (schema.Value, error) {
				v := args[0]
				switch {
				case v.IsNull():
					return schema.Null, nil
				case v.Kind.IsText():
					return schema.NewInt(int64(utf8.RuneCountInString(v.S))), nil
				case v.Kind == schema.KindBytea:
					return schema.NewInt(int64(len(v.Raw))), nil
				case v.Kind == schema.KindVector:
					return schema.NewInt(int64(len(v.Vec))), nil
				}
				return schema.Null, fmt.Errorf("%w: length(%s)", schema.ErrTypeMismatch, v.Kind)
			},
		},
		{
			Name: "coalesce", MinArgs: 1, MaxArgs: -1,
			Result: func(args []schema.DataType) schema.DataType {
				for _, t := range args {
					if t.Kind != schema.KindNull {
						return t
					}
				}
				return schema.DataType{}
			},
			Hint: func(_ int, args []schema.DataType) schema.DataType {
				for _, t := range args {
					if t.Kind != schema.KindNull {
						return t
					}
				}
				return schema.DataType{}
			},
			Call: func(_ *evalContext, args []schema.Value) (schema.Value, error) {
				for _, v := range args {
					if !v.IsNull() {
						return v, nil
					}
				}
				return schema.Null, nil
			},
		},
		{
			Name: "file_path", MinArgs: 1, MaxArgs: 1,
			Result: fixed(schema.Text),
			Hint:   fixedHint(schema.File),
			Call: func(_ *evalContext, args []schema.Value) (schema.Value, error) {
				ref, err := fileArg(args[0])
				if err != nil || ref == nil || !ref.IsExternal() {
					return schema.Null, err
				}
				return schema.NewText(ref.Path), nil
			},
		},
		{
			Name: "read_file", MinArgs: 1, MaxArgs: 1, Volatile: true,
			Result: fixed(schema.Bytea),
			Hint:   fixedHint(schema.File),
			Call:   readFile,
		},
	} {
		m[f.Name] = f
	}
	for _, f := range advisoryFuncs {
		m[f.Name] = f
	}
	return m
}()

// LookupFunction returns the registered function with the given name.
func LookupFunction(name string) (Function, bool) {
	f, ok := functions[strings.ToLower(name)]
	return f, ok
}

func fixed(t schema.DataType) func([]schema.DataType) schema.DataType {
	return func([]schema.DataType) schema.DataType { return t }
}

func fixedHint(t schema.DataType) func(int, []schema.DataType) schema.DataType {
	return func(int, []schema.DataType) schema.DataType { return t }
}

// vectorFunc builds a binary vector function returning FLOAT8. A
// placeholder argument takes the type of the other argument.
func vectorFunc(name string, fn func(a, b []float32) float64) Function {
	return Function{
		Name: name, MinArgs: 2, MaxArgs: 2,
		Result: fixed(schema.Float8),
		Hint: func(i int, args []schema.DataType) schema.DataType {
			if other := args[1-i]; other.Kind == schema.KindVector {
				return other
			}
			return schema.DataType{Kind: schema.KindVector}
		},
		Call: func(_ *evalContext, args []schema.Value) (schema.Value, error) {
			a, err := vectorArg(args[0])
			if err != nil || a == nil {
				return schema.Null, err
			}
			b, err := vectorArg(args[1])
			if err != nil || b == nil {
				return schema.Null, err
			}
			if len(a) != len(b) {
				return schema.Null, &schema.DimensionError{Expected: len(a), Actual: len(b)}
			}
			return schema.NewFloat(fn(a, b)), nil
		},
	}
}

func textFunc(name string, fn func(string) string) Function {
	return Function{
		Name: name, MinArgs: 1, MaxArgs: 1,
		Result: fixed(schema.Text),
		Hint:   fixedHint(schema.Text),
		Call: func(_ *evalContext, args []schema.Value) (schema.Value, error) {
			v := args[0]
			if v.IsNull() {
				return schema.Null, nil
			}
			if !v.Kind.IsText() {
				return schema.Null, fmt.Errorf("%w: %s(%s)", schema.ErrTypeMismatch, name, v.Kind)
			}
			return schema.NewText(fn(v.S)), nil
		},
	}
}

// vectorArg converts a vector or its text form. NULL yields nil.
func vectorArg(v schema.Value) ([]float32, error) {
	if v.IsNull() {
		return nil, nil
	}
	c, err := schema.Coerce(schema.DataType{Kind: schema.KindVector}, v)
	if err != nil {
		return nil, err
	}
	return c.Vec, nil
}

func fileArg(v schema.Value) (*schema.FileRef, error) {
	if v.IsNull() {
		return nil, nil
	}
	c, err := schema.Coerce(schema.File, v)
	if err != nil {
		return nil, err
	}
	return c.Ref, nil
}

// readFile returns the content behind an external FILE reference, or the
// inline metadata for inline values.
func readFile(ec *evalContext, args []schema.Value) (schema.Value, error) {
	ref, err := fileArg(args[0])
	if err != nil || ref == nil {
		return schema.Null, err
	}
	if !ref.IsExternal() {
		return schema.NewBytes(append([]byte(nil), ref.Metadata...)), nil
	}
	if ec.files == nil {
		return schema.Null, fmt.Errorf("%w: read_file without a file resolver", ErrUnsupported)
	}

	rc, err := ec.files.Open(ec.ctx, *ref)
	if err != nil {
		return schema.Null, fmt.Errorf("read_file %s: %w", ref, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return schema.Null, fmt.Errorf("read_file %s: %w", ref, err)
	}
	return schema.NewBytes(data), nil
}
