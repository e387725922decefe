package exec

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/hupe1980/vecsql/ast"
	"github.com/hupe1980/vecsql/catalog"
	"github.com/hupe1980/vecsql/files"
	"github.com/hupe1980/vecsql/schema"
)

// evalContext carries what expression evaluation needs besides the row.
type evalContext struct {
	ctx    context.Context
	params []schema.Value
	files  files.Resolver
	locks  *LockHolder
}

type evalFunc func(ec *evalContext, row schema.Row) (schema.Value, error)

// expr is a compiled expression. typ is the static result type; its Kind
// is KindNull when unknown until binding.
type expr struct {
	eval evalFunc
	typ  schema.DataType
	// column is the row position of a bare column reference, -1 otherwise.
	column int
	// param is the placeholder number of a bare placeholder, 0 otherwise.
	param int
	// constant reports whether the value does not depend on the row.
	constant bool
}

// scope resolves column references. A nil table has no columns.
type scope struct {
	table *schema.Table
}

func (s scope) resolve(ref *ast.ColumnRef) (int, schema.Column, error) {
	if s.table == nil {
		return -1, schema.Column{}, fmt.Errorf("%w: %q", catalog.ErrColumnNotFound, ref.Name)
	}
	if ref.Table != "" && !strings.EqualFold(ref.Table, s.table.Name) {
		return -1, schema.Column{}, fmt.Errorf("%w: %s.%s", catalog.ErrColumnNotFound, ref.Table, ref.Name)
	}
	c, pos, ok := s.table.Column(ref.Name)
	if !ok {
		return -1, schema.Column{}, fmt.Errorf("%w: %q in table %q", catalog.ErrColumnNotFound, ref.Name, s.table.Name)
	}
	return pos, c, nil
}

// binder collects placeholder types inferred during planning and converts
// arguments to them.
type binder struct {
	hints map[int]schema.DataType
	max   int
}

func newBinder() *binder { return &binder{hints: map[int]schema.DataType{}} }

func (b *binder) see(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: $%d", ErrParameter, n)
	}
	b.max = max(b.max, n)
	return nil
}

func (b *binder) hint(n int, t schema.DataType) {
	if t.Kind == schema.KindNull {
		return
	}
	if _, ok := b.hints[n]; !ok {
		b.hints[n] = t
	}
}

// bind converts args to the inferred placeholder types. It runs before any
// row is touched, so a type mismatch fails the statement early.
func (b *binder) bind(args []schema.Value) ([]schema.Value, error) {
	if len(args) < b.max {
		return nil, fmt.Errorf("%w: statement expects %d parameters, got %d", ErrParameter, b.max, len(args))
	}
	out := make([]schema.Value, len(args))
	for i, a := range args {
		t, ok := b.hints[i+1]
		if !ok {
			out[i] = a
			continue
		}
		v, err := schema.Coerce(t, a)
		if err != nil {
			return nil, fmt.Errorf("parameter $%d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

// compiler turns ast expressions into closures over a scope.
type compiler struct {
	scope  scope
	binder *binder
}

// compile compiles e. hint is the type the context expects, used to type
// placeholders; pass the zero DataType when there is none.
func (c *compiler) compile(e ast.Expr, hint schema.DataType) (*expr, error) {
	switch n := e.(type) {
	case *ast.Literal:
		v := n.Value
		return &expr{eval: func(*evalContext, schema.Row) (schema.Value, error) { return v, nil },
			typ: valueType(v), column: -1, constant: true}, nil

	case *ast.Placeholder:
		if err := c.binder.see(n.N); err != nil {
			return nil, err
		}
		c.binder.hint(n.N, hint)
		i := n.N - 1
		return &expr{eval: func(ec *evalContext, _ schema.Row) (schema.Value, error) { return ec.params[i], nil },
			typ: hint, column: -1, param: n.N, constant: true}, nil

	case *ast.ColumnRef:
		pos, col, err := c.scope.resolve(n)
		if err != nil {
			return nil, err
		}
		return &expr{eval: func(_ *evalContext, row schema.Row) (schema.Value, error) { return row[pos], nil },
			typ: col.Type, column: pos}, nil

	case *ast.Binary:
		return c.binary(n)

	case *ast.Unary:
		return c.unary(n)

	case *ast.IsNull:
		inner, err := c.compile(n.Expr, schema.DataType{})
		if err != nil {
			return nil, err
		}
		not := n.Not
		return &expr{eval: func(ec *evalContext, row schema.Row) (schema.Value, error) {
			v, err := inner.eval(ec, row)
			if err != nil {
				return schema.Null, err
			}
			return schema.NewBool(v.IsNull() != not), nil
		}, typ: schema.Bool, column: -1, constant: inner.constant}, nil

	case *ast.Call:
		return c.call(n)

	default:
		return nil, fmt.Errorf("%w: expression %T", ErrUnsupported, e)
	}
}

func (c *compiler) binary(n *ast.Binary) (*expr, error) {
	var lhint, rhint schema.DataType
	switch {
	case n.Op == ast.OpAnd || n.Op == ast.OpOr:
		lhint, rhint = schema.Bool, schema.Bool
	}

	// Compile the side that is not a placeholder first so its type can
	// type the placeholder on the other side.
	var l, r *expr
	var err error
	if _, lp := n.Left.(*ast.Placeholder); lp {
		if r, err = c.compile(n.Right, rhint); err != nil {
			return nil, err
		}
		if lhint.Kind == schema.KindNull {
			lhint = operandHint(n.Op, r.typ)
		}
		if l, err = c.compile(n.Left, lhint); err != nil {
			return nil, err
		}
	} else {
		if l, err = c.compile(n.Left, lhint); err != nil {
			return nil, err
		}
		if rhint.Kind == schema.KindNull {
			rhint = operandHint(n.Op, l.typ)
		}
		if r, err = c.compile(n.Right, rhint); err != nil {
			return nil, err
		}
	}

	op := n.Op
	out := &expr{column: -1, constant: l.constant && r.constant}
	switch {
	case op == ast.OpAnd || op == ast.OpOr:
		out.typ = schema.Bool
		out.eval = func(ec *evalContext, row schema.Row) (schema.Value, error) {
			return logical(op, l, r, ec, row)
		}
	case op.IsComparison():
		out.typ = schema.Bool
		out.eval = func(ec *evalContext, row schema.Row) (schema.Value, error) {
			a, b, err := evalBoth(l, r, ec, row)
			if err != nil || a.IsNull() || b.IsNull() {
				return schema.Null, err
			}
			return compare(op, a, b)
		}
	case op == ast.OpAdd || op == ast.OpSub || op == ast.OpMul || op == ast.OpDiv:
		out.typ = arithmeticType(l.typ, r.typ)
		out.eval = func(ec *evalContext, row schema.Row) (schema.Value, error) {
			a, b, err := evalBoth(l, r, ec, row)
			if err != nil || a.IsNull() || b.IsNull() {
				return schema.Null, err
			}
			return arithmetic(op, a, b)
		}
	default:
		return nil, fmt.Errorf("%w: operator %s", ErrUnsupported, op)
	}
	return out, nil
}

// operandHint types a placeholder from the other operand of op.
func operandHint(op ast.BinaryOp, other schema.DataType) schema.DataType {
	if op.IsComparison() {
		return comparisonHint(other)
	}
	return other
}

func (c *compiler) unary(n *ast.Unary) (*expr, error) {
	switch n.Op {
	case ast.OpNot:
		inner, err := c.compile(n.Expr, schema.Bool)
		if err != nil {
			return nil, err
		}
		return &expr{eval: func(ec *evalContext, row schema.Row) (schema.Value, error) {
			v, err := inner.eval(ec, row)
			if err != nil || v.IsNull() {
				return schema.Null, err
			}
			if v.Kind != schema.KindBool {
				return schema.Null, fmt.Errorf("%w: NOT applied to %s", schema.ErrTypeMismatch, v.Kind)
			}
			return schema.NewBool(!v.B), nil
		}, typ: schema.Bool, column: -1, constant: inner.constant}, nil

	case ast.OpNeg:
		inner, err := c.compile(n.Expr, schema.DataType{})
		if err != nil {
			return nil, err
		}
		return &expr{eval: func(ec *evalContext, row schema.Row) (schema.Value, error) {
			v, err := inner.eval(ec, row)
			if err != nil || v.IsNull() {
				return schema.Null, err
			}
			switch {
			case v.IsInt():
				v.I = -v.I
			case v.IsFloat():
				v.F = -v.F
			default:
				return schema.Null, fmt.Errorf("%w: cannot negate %s", schema.ErrTypeMismatch, v.Kind)
			}
			return v, nil
		}, typ: inner.typ, column: -1, constant: inner.constant}, nil

	default:
		return nil, fmt.Errorf("%w: operator %s", ErrUnsupported, n.Op)
	}
}

func (c *compiler) call(n *ast.Call) (*expr, error) {
	fn, ok := LookupFunction(n.Name)
	if !ok {
		return nil, fmt.Errorf("%w: function %s", ErrUnsupported, n.Name)
	}
	if len(n.Args) < fn.MinArgs || (fn.MaxArgs >= 0 && len(n.Args) > fn.MaxArgs) {
		return nil, fmt.Errorf("function %s: wrong number of arguments (%d)", fn.Name, len(n.Args))
	}

	// Non-placeholder arguments first, so placeholders can take their
	// sibling's type.
	args := make([]*expr, len(n.Args))
	types := make([]schema.DataType, len(n.Args))
	for i, a := range n.Args {
		if _, ok := a.(*ast.Placeholder); ok {
			continue
		}
		e, err := c.compile(a, fn.argHint(i, types))
		if err != nil {
			return nil, err
		}
		args[i], types[i] = e, e.typ
	}
	constant := true
	for i, a := range n.Args {
		if args[i] == nil {
			e, err := c.compile(a, fn.argHint(i, types))
			if err != nil {
				return nil, err
			}
			args[i], types[i] = e, e.typ
		}
		constant = constant && args[i].constant
	}

	call := fn.Call
	return &expr{eval: func(ec *evalContext, row schema.Row) (schema.Value, error) {
		vals := make([]schema.Value, len(args))
		for i, a := range args {
			v, err := a.eval(ec, row)
			if err != nil {
				return schema.Null, err
			}
			vals[i] = v
		}
		return call(ec, vals)
	}, typ: fn.Result(types), column: -1, constant: constant && !fn.Volatile}, nil
}

func evalBoth(l, r *expr, ec *evalContext, row schema.Row) (schema.Value, schema.Value, error) {
	a, err := l.eval(ec, row)
	if err != nil {
		return schema.Null, schema.Null, err
	}
	b, err := r.eval(ec, row)
	if err != nil {
		return schema.Null, schema.Null, err
	}
	return a, b, nil
}

// logical implements three-valued AND / OR.
func logical(op ast.BinaryOp, l, r *expr, ec *evalContext, row schema.Row) (schema.Value, error) {
	a, err := l.eval(ec, row)
	if err != nil {
		return schema.Null, err
	}
	if !a.IsNull() && a.Kind != schema.KindBool {
		return schema.Null, fmt.Errorf("%w: %s operand is %s", schema.ErrTypeMismatch, op, a.Kind)
	}
	// Short circuit on a decisive left operand.
	if !a.IsNull() && ((op == ast.OpAnd && !a.B) || (op == ast.OpOr && a.B)) {
		return a, nil
	}
	b, err := r.eval(ec, row)
	if err != nil {
		return schema.Null, err
	}
	if !b.IsNull() && b.Kind != schema.KindBool {
		return schema.Null, fmt.Errorf("%w: %s operand is %s", schema.ErrTypeMismatch, op, b.Kind)
	}
	switch {
	case !b.IsNull() && ((op == ast.OpAnd && !b.B) || (op == ast.OpOr && b.B)):
		return b, nil
	case a.IsNull() || b.IsNull():
		return schema.Null, nil
	default:
		return b, nil
	}
}

func compare(op ast.BinaryOp, a, b schema.Value) (schema.Value, error) {
	c, err := schema.Compare(a, b)
	if err != nil {
		return schema.Null, err
	}
	var ok bool
	switch op {
	case ast.OpEq:
		ok = c == 0
	case ast.OpNe:
		ok = c != 0
	case ast.OpLt:
		ok = c < 0
	case ast.OpLe:
		ok = c <= 0
	case ast.OpGt:
		ok = c > 0
	case ast.OpGe:
		ok = c >= 0
	}
	return schema.NewBool(ok), nil
}

func arithmeticType(a, b schema.DataType) schema.DataType {
	switch {
	case a.Kind == schema.KindNull:
		return b
	case b.Kind == schema.KindNull:
		return a
	case (a.Kind == schema.KindInt4 || a.Kind == schema.KindInt8) && (b.Kind == schema.KindInt4 || b.Kind == schema.KindInt8):
		return schema.Int8
	default:
		return schema.Float8
	}
}

func arithmetic(op ast.BinaryOp, a, b schema.Value) (schema.Value, error) {
	if a.IsInt() && b.IsInt() {
		x, y := a.I, b.I
		switch op {
		case ast.OpAdd:
			return schema.NewInt(x + y), nil
		case ast.OpSub:
			return schema.NewInt(x - y), nil
		case ast.OpMul:
			return schema.NewInt(x * y), nil
		default:
			if y == 0 {
				return schema.Null, fmt.Errorf("division by zero")
			}
			return schema.NewInt(x / y), nil
		}
	}

	x, ok1 := a.AsFloat()
	y, ok2 := b.AsFloat()
	if !ok1 || !ok2 {
		return schema.Null, fmt.Errorf("%w: %s %s %s", schema.ErrTypeMismatch, a.Kind, op, b.Kind)
	}
	var f float64
	switch op {
	case ast.OpAdd:
		f = x + y
	case ast.OpSub:
		f = x - y
	case ast.OpMul:
		f = x * y
	default:
		if y == 0 {
			return schema.Null, fmt.Errorf("division by zero")
		}
		f = x / y
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return schema.Null, fmt.Errorf("numeric overflow")
	}
	return schema.NewFloat(f), nil
}

// valueType returns the DataType of a literal value.
func valueType(v schema.Value) schema.DataType {
	switch v.Kind {
	case schema.KindVector:
		return schema.Vector(len(v.Vec))
	case schema.KindNull:
		return schema.DataType{}
	default:
		return schema.DataType{Kind: v.Kind}
	}
}

// predicate evaluates a compiled boolean expression; NULL is false.
func predicate(e *expr, ec *evalContext, row schema.Row) (bool, error) {
	v, err := e.eval(ec, row)
	if err != nil {
		return false, err
	}
	if v.IsNull() {
		return false, nil
	}
	if v.Kind != schema.KindBool {
		return false, fmt.Errorf("%w: WHERE expects BOOL, got %s", schema.ErrTypeMismatch, v.Kind)
	}
	return v.B, nil
}

// conjuncts splits an AND tree into its terms.
func conjuncts(e ast.Expr) []ast.Expr {
	if b, ok := e.(*ast.Binary); ok && b.Op == ast.OpAnd {
		return append(conjuncts(b.Left), conjuncts(b.Right)...)
	}
	if e == nil {
		return nil
	}
	return []ast.Expr{e}
}
