package exec

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/vecsql/ast"
	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/vector"
)

// prepared is a planned statement waiting for its arguments. Exactly one
// of query and exec is set.
type prepared struct {
	typ     StatementType
	binder  *binder
	columns []Column
	// access names the access path a query was planned with.
	access string
	// query builds the operator tree of a bound query.
	query func(ec *evalContext) (Operator, error)
	// exec runs a bound DDL or DML statement and reports affected rows.
	exec func(ctx context.Context, ec *evalContext) (int64, error)
}

type planner struct {
	env    *Env
	binder *binder
}

func (p *planner) compiler(t *schema.Table) *compiler {
	return &compiler{scope: scope{table: t}, binder: p.binder}
}

// similarity describes a distance function the vector indexes can answer.
type similarity struct {
	metric vector.Metric
	// desc is true when larger values mean more similar.
	desc bool
}

var similarities = map[string]similarity{
	"l2_distance":     {metric: vector.MetricL2},
	"cosine_distance": {metric: vector.MetricCosine},
	"inner_product":   {metric: vector.MetricDot, desc: true},
	"dot_similarity":  {metric: vector.MetricDot, desc: true},
}

// vectorAccess answers a query from a vector index.
type vectorAccess struct {
	index schema.Index
	query *expr
	// ns is the namespace value, nil for an index without namespace.
	ns    *expr
	nsCol schema.Column
	// ranged marks WHERE fn(col, q) < t: every qualifying row is wanted.
	ranged bool
}

// lookupAccess answers a query from a btree index.
type lookupAccess struct {
	index schema.Index
	col   schema.Column
	value *expr
}

type selectPlan struct {
	table  *schema.Table
	where  *expr
	items  []*expr
	order  []sortKey
	limit  *expr
	offset *expr
	vec    *vectorAccess
	lookup *lookupAccess
}

func (p *planner) selectStmt(s *ast.Select) (*prepared, error) {
	sp := &selectPlan{}
	if s.From != "" {
		t, err := p.env.Catalog.Table(s.From)
		if err != nil {
			return nil, err
		}
		sp.table = t
	}
	c := p.compiler(sp.table)

	if s.Where != nil {
		w, err := c.compile(s.Where, schema.Bool)
		if err != nil {
			return nil, err
		}
		sp.where = w
	}

	var columns []Column
	aliases := map[string]*expr{}
	for _, item := range s.Items {
		if item.Star {
			if sp.table == nil {
				return nil, fmt.Errorf("%w: SELECT * without FROM", ErrUnsupported)
			}
			for i, col := range sp.table.Columns {
				pos := i
				sp.items = append(sp.items, &expr{
					eval:   func(_ *evalContext, row schema.Row) (schema.Value, error) { return row[pos], nil },
					typ:    col.Type,
					column: pos,
				})
				columns = append(columns, Column{Name: col.Name, Type: col.Type})
			}
			continue
		}
		e, err := c.compile(item.Expr, schema.DataType{})
		if err != nil {
			return nil, err
		}
		name := outputName(item)
		sp.items = append(sp.items, e)
		columns = append(columns, Column{Name: name, Type: e.typ})
		if item.Alias != "" {
			aliases[strings.ToLower(item.Alias)] = e
		}
	}
	if len(sp.items) == 0 {
		return nil, fmt.Errorf("SELECT without result columns")
	}

	for _, o := range s.OrderBy {
		e, err := p.orderKey(c, o.Expr, sp.items, aliases)
		if err != nil {
			return nil, err
		}
		sp.order = append(sp.order, sortKey{expr: e, desc: o.Desc})
	}

	var err error
	if sp.limit, err = constantInt(c, s.Limit, "LIMIT"); err != nil {
		return nil, err
	}
	if sp.offset, err = constantInt(c, s.Offset, "OFFSET"); err != nil {
		return nil, err
	}

	if sp.table != nil {
		if sp.vec, err = p.vectorAccess(c, sp.table, s); err != nil {
			return nil, err
		}
		if sp.vec == nil {
			if sp.lookup, err = p.lookupAccess(c, sp.table, s.Where); err != nil {
				return nil, err
			}
		}
	}

	access := "values"
	switch {
	case sp.vec != nil:
		access = "vector scan using " + sp.vec.index.Name
	case sp.lookup != nil:
		access = "index lookup using " + sp.lookup.index.Name
	case sp.table != nil:
		access = "table scan"
	}

	return &prepared{
		typ:     TypeQuery,
		binder:  p.binder,
		columns: columns,
		access:  access,
		query:   func(ec *evalContext) (Operator, error) { return p.buildSelect(ec, sp) },
	}, nil
}

func outputName(item ast.SelectItem) string {
	if item.Alias != "" {
		return item.Alias
	}
	switch e := item.Expr.(type) {
	case *ast.ColumnRef:
		return e.Name
	case *ast.Call:
		return strings.ToLower(e.Name)
	}
	return "?column?"
}

// orderKey compiles an ORDER BY term. A bare name matching an output alias
// refers to that output; an integer literal is a 1-based output position.
func (p *planner) orderKey(c *compiler, e ast.Expr, items []*expr, aliases map[string]*expr) (*expr, error) {
	switch n := e.(type) {
	case *ast.ColumnRef:
		if n.Table == "" {
			if a, ok := aliases[strings.ToLower(n.Name)]; ok {
				if _, _, err := c.scope.resolve(n); err != nil {
					return a, nil
				}
			}
		}
	case *ast.Literal:
		if n.Value.IsInt() {
			i := n.Value.I
			if i < 1 || i > int64(len(items)) {
				return nil, fmt.Errorf("ORDER BY position %d is not in select list", i)
			}
			return items[i-1], nil
		}
	}
	return c.compile(e, schema.DataType{})
}

// constantInt compiles a LIMIT or OFFSET expression.
func constantInt(c *compiler, e ast.Expr, clause string) (*expr, error) {
	if e == nil {
		return nil, nil
	}
	out, err := c.compile(e, schema.Int8)
	if err != nil {
		return nil, err
	}
	if !out.constant {
		return nil, fmt.Errorf("%w: %s must be a constant", ErrUnsupported, clause)
	}
	return out, nil
}

func evalCount(ec *evalContext, e *expr, clause string) (int64, error) {
	v, err := e.eval(ec, nil)
	if err != nil {
		return 0, err
	}
	if v.IsNull() {
		return -1, nil
	}
	c, err := schema.Coerce(schema.Int8, v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", clause, err)
	}
	if c.I < 0 {
		return 0, fmt.Errorf("%s must not be negative", clause)
	}
	return c.I, nil
}

// matchSimilarity recognizes fn(column, constant) and fn(constant, column)
// for the distance functions a vector index can answer.
func matchSimilarity(c *compiler, e ast.Expr) (similarity, schema.Column, *expr, bool, error) {
	call, ok := e.(*ast.Call)
	if !ok || len(call.Args) != 2 {
		return similarity{}, schema.Column{}, nil, false, nil
	}
	sim, ok := similarities[strings.ToLower(call.Name)]
	if !ok {
		return similarity{}, schema.Column{}, nil, false, nil
	}
	for i := range 2 {
		ref, ok := call.Args[i].(*ast.ColumnRef)
		if !ok {
			continue
		}
		_, col, err := c.scope.resolve(ref)
		if err != nil || col.Type.Kind != schema.KindVector {
			continue
		}
		q, err := c.compile(call.Args[1-i], col.Type)
		if err != nil {
			return similarity{}, schema.Column{}, nil, false, err
		}
		if !q.constant {
			continue
		}
		return sim, col, q, true, nil
	}
	return similarity{}, schema.Column{}, nil, false, nil
}

// flip mirrors a comparison so that the call is on the left.
func flip(op ast.BinaryOp) ast.BinaryOp {
	switch op {
	case ast.OpLt:
		return ast.OpGt
	case ast.OpLe:
		return ast.OpGe
	case ast.OpGt:
		return ast.OpLt
	case ast.OpGe:
		return ast.OpLe
	}
	return op
}

// vectorAccess looks for a similarity ordering with LIMIT, or a similarity
// threshold in WHERE, that an index of the table can serve.
func (p *planner) vectorAccess(c *compiler, t *schema.Table, s *ast.Select) (*vectorAccess, error) {
	if p.env.Vectors == nil {
		return nil, nil
	}

	if len(s.OrderBy) == 1 && s.Limit != nil {
		sim, col, q, ok, err := matchSimilarity(c, orderTarget(c, s))
		if err != nil {
			return nil, err
		}
		if ok && sim.desc == s.OrderBy[0].Desc {
			if va, err := p.pickVectorIndex(c, t, sim, col, q, s.Where); va != nil || err != nil {
				return va, err
			}
		}
	}

	for _, term := range conjuncts(s.Where) {
		b, ok := term.(*ast.Binary)
		if !ok || !b.Op.IsComparison() {
			continue
		}
		op, side := b.Op, b.Left
		if _, isCall := b.Left.(*ast.Call); !isCall {
			op, side = flip(b.Op), b.Right
		}
		sim, col, q, ok, err := matchSimilarity(c, side)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		within := op == ast.OpLt || op == ast.OpLe
		if sim.desc {
			within = op == ast.OpGt || op == ast.OpGe
		}
		if !within {
			continue
		}
		va, err := p.pickVectorIndex(c, t, sim, col, q, s.Where)
		if err != nil {
			return nil, err
		}
		if va != nil {
			va.ranged = true
			return va, nil
		}
	}
	return nil, nil
}

// orderTarget resolves an ORDER BY alias to the select item it names.
func orderTarget(c *compiler, s *ast.Select) ast.Expr {
	e := s.OrderBy[0].Expr
	ref, ok := e.(*ast.ColumnRef)
	if !ok || ref.Table != "" {
		return e
	}
	if _, _, err := c.scope.resolve(ref); err == nil {
		return e
	}
	for _, item := range s.Items {
		if item.Alias != "" && strings.EqualFold(item.Alias, ref.Name) {
			return item.Expr
		}
	}
	return e
}

func (p *planner) pickVectorIndex(c *compiler, t *schema.Table, sim similarity, col schema.Column, q *expr, where ast.Expr) (*vectorAccess, error) {
	for _, idx := range t.Indexes {
		if !idx.Kind.IsVector() || idx.Vector == nil || len(idx.Columns) != 1 || idx.Columns[0] != col.ID {
			continue
		}
		if m, err := vector.ParseMetric(idx.Vector.Metric); err != nil || m != sim.metric {
			continue
		}
		if _, live := p.env.Vectors.Get(idx.ID); !live {
			continue
		}
		va := &vectorAccess{index: idx, query: q}
		if idx.Vector.Namespace != "" {
			nsCol, ns, err := namespaceEquality(c, t, idx.Vector.Namespace, where)
			if err != nil {
				return nil, err
			}
			if ns == nil {
				continue
			}
			va.ns, va.nsCol = ns, nsCol
		}
		return va, nil
	}
	return nil, nil
}

// namespaceEquality finds a top-level conjunct nsCol = constant.
func namespaceEquality(c *compiler, t *schema.Table, name string, where ast.Expr) (schema.Column, *expr, error) {
	col, _, ok := t.Column(name)
	if !ok {
		return schema.Column{}, nil, nil
	}
	e, err := columnEquality(c, col, where)
	return col, e, err
}

// columnEquality finds a top-level conjunct col = constant and returns the
// compiled constant.
func columnEquality(c *compiler, col schema.Column, where ast.Expr) (*expr, error) {
	for _, term := range conjuncts(where) {
		b, ok := term.(*ast.Binary)
		if !ok || b.Op != ast.OpEq {
			continue
		}
		for _, pair := range [2][2]ast.Expr{{b.Left, b.Right}, {b.Right, b.Left}} {
			ref, ok := pair[0].(*ast.ColumnRef)
			if !ok {
				continue
			}
			_, rc, err := c.scope.resolve(ref)
			if err != nil || rc.ID != col.ID {
				continue
			}
			v, err := c.compile(pair[1], comparisonHint(col.Type))
			if err != nil {
				return nil, err
			}
			if v.constant {
				return v, nil
			}
		}
	}
	return nil, nil
}

// lookupAccess looks for col = constant on a btree-indexed column.
func (p *planner) lookupAccess(c *compiler, t *schema.Table, where ast.Expr) (*lookupAccess, error) {
	for _, idx := range t.Indexes {
		if idx.Kind != schema.IndexBTree || len(idx.Columns) != 1 {
			continue
		}
		pos, ok := t.ColumnPos(idx.Columns[0])
		if !ok {
			continue
		}
		col := t.Columns[pos]
		v, err := columnEquality(c, col, where)
		if err != nil {
			return nil, err
		}
		if v != nil {
			return &lookupAccess{index: idx, col: col, value: v}, nil
		}
	}
	return nil, nil
}

// comparisonHint widens a column type for a value compared with it, so a
// comparison never fails on length or precision limits of the column.
func comparisonHint(t schema.DataType) schema.DataType {
	switch t.Kind {
	case schema.KindVarchar, schema.KindJSONB:
		return schema.Text
	case schema.KindInt4, schema.KindInt8:
		return schema.Int8
	case schema.KindFloat4:
		return schema.Float8
	}
	return t
}

func (p *planner) buildSelect(ec *evalContext, sp *selectPlan) (Operator, error) {
	batch := p.env.batchSize()

	count, offset := int64(-1), int64(0)
	var err error
	if sp.limit != nil {
		if count, err = evalCount(ec, sp.limit, "LIMIT"); err != nil {
			return nil, err
		}
	}
	if sp.offset != nil {
		if offset, err = evalCount(ec, sp.offset, "OFFSET"); err != nil {
			return nil, err
		}
		offset = max(offset, 0)
	}

	var src Operator
	switch {
	case sp.table == nil:
		src = &values{rows: []schema.Row{{}}, batchSize: batch}
		if sp.where != nil {
			src = &filter{child: src, pred: sp.where, ec: ec}
		}

	default:
		src, err = p.source(ec, sp, count, offset)
		if err != nil {
			return nil, err
		}
	}

	if len(sp.order) > 0 {
		src = &sorter{child: src, keys: sp.order, ec: ec, batchSize: batch}
	}
	if count >= 0 || offset > 0 {
		src = &limit{child: src, count: count, offset: offset}
	}
	return &project{child: src, exprs: sp.items, ec: ec}, nil
}

// source builds the access path and the WHERE filter for a table.
func (p *planner) source(ec *evalContext, sp *selectPlan, count, offset int64) (Operator, error) {
	batch := p.env.batchSize()
	withWhere := func(op Operator) Operator {
		if sp.where == nil {
			return op
		}
		return &filter{child: op, pred: sp.where, ec: ec}
	}

	if sp.vec != nil {
		op, ok, err := p.vectorSource(ec, sp, count, offset)
		if err != nil || ok {
			return op, err
		}
	}

	if lk := sp.lookup; lk != nil {
		v, err := lk.value.eval(ec, nil)
		if err != nil {
			return nil, err
		}
		if v.IsNull() {
			return &values{batchSize: batch}, nil
		}
		if key, err := schema.Coerce(lk.col.Type, v); err == nil {
			return withWhere(&indexLookup{op: p.env.Op, table: sp.table, index: lk.index, value: key, batchSize: batch}), nil
		}
	}

	return withWhere(newTableScan(p.env.Op, sp.table, batch)), nil
}

// vectorSource builds a vectorScan. ok is false when the bound arguments
// rule the index out and the caller should fall back to a scan.
func (p *planner) vectorSource(ec *evalContext, sp *selectPlan, count, offset int64) (Operator, bool, error) {
	va := sp.vec
	batch := p.env.batchSize()

	idx, live := p.env.Vectors.Get(va.index.ID)
	if !live {
		return nil, false, nil
	}

	qv, err := va.query.eval(ec, nil)
	if err != nil {
		return nil, false, err
	}
	if qv.IsNull() {
		return nil, false, nil
	}
	vec, err := vectorArg(qv)
	if err != nil {
		return nil, false, err
	}
	if len(vec) != va.index.Vector.Dim {
		return nil, false, &schema.DimensionError{Expected: va.index.Vector.Dim, Actual: len(vec)}
	}

	q := vector.Query{Vector: vec}
	if va.ns != nil {
		nv, err := va.ns.eval(ec, nil)
		if err != nil {
			return nil, false, err
		}
		if nv.IsNull() {
			return &values{batchSize: batch}, true, nil
		}
		key, err := schema.Coerce(va.nsCol.Type, nv)
		if err != nil {
			return nil, false, nil
		}
		if q.Namespace, err = vector.NamespaceKey(key); err != nil {
			return nil, false, err
		}
	}

	switch {
	case va.ranged:
		q.K = idx.Len()
	case count >= 0:
		q.K = int(count + offset)
	default:
		return nil, false, nil
	}
	if q.K <= 0 {
		return &values{batchSize: batch}, true, nil
	}

	return &vectorScan{
		op:        p.env.Op,
		table:     sp.table,
		index:     idx,
		query:     q,
		residual:  sp.where,
		ec:        ec,
		batchSize: batch,
	}, true, nil
}
