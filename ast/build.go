package ast

import "github.com/hupe1980/vecsql/schema"

// Shorthands for building expressions by hand.

func Lit(v schema.Value) *Literal { return &Literal{Value: v} }

func Int(i int64) *Literal { return Lit(schema.NewInt(i)) }

func Float(f float64) *Literal { return Lit(schema.NewFloat(f)) }

func String(s string) *Literal { return Lit(schema.NewText(s)) }

func Bool(b bool) *Literal { return Lit(schema.NewBool(b)) }

func Null() *Literal { return Lit(schema.Null) }

func Col(name string) *ColumnRef { return &ColumnRef{Name: name} }

func Param(n int) *Placeholder { return &Placeholder{N: n} }

func Bin(op BinaryOp, l, r Expr) *Binary { return &Binary{Op: op, Left: l, Right: r} }

func Eq(l, r Expr) *Binary { return Bin(OpEq, l, r) }

func And(l, r Expr) *Binary { return Bin(OpAnd, l, r) }

func Not(e Expr) *Unary { return &Unary{Op: OpNot, Expr: e} }

func Fn(name string, args ...Expr) *Call { return &Call{Name: name, Args: args} }

// Items builds a projection list from expressions.
func Items(exprs ...Expr) []SelectItem {
	items := make([]SelectItem, len(exprs))
	for i, e := range exprs {
		items[i] = SelectItem{Expr: e}
	}
	return items
}

// Star is SELECT *.
func Star() []SelectItem { return []SelectItem{{Star: true}} }

// Walk calls fn for e and every sub-expression, depth first. It stops
// descending when fn returns false.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *Binary:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Unary:
		Walk(n.Expr, fn)
	case *IsNull:
		Walk(n.Expr, fn)
	case *Call:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	}
}
