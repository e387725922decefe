package exec

import (
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/vecsql/ast"
	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/storage"
)

// sink is an operator that writes instead of producing rows. Its first
// Next performs the whole write and returns a nil batch.
type sink interface {
	Operator
	Affected() int64
}

func runSink(ctx context.Context, s sink) (int64, error) {
	if _, _, err := drain(ctx, s); err != nil {
		return 0, err
	}
	return s.Affected(), nil
}

func (p *planner) insertStmt(s *ast.Insert) (*prepared, error) {
	t, err := p.env.Catalog.Table(s.Table)
	if err != nil {
		return nil, err
	}

	var positions []int
	if len(s.Columns) == 0 {
		for i := range t.Columns {
			positions = append(positions, i)
		}
	} else {
		seen := map[int]bool{}
		for _, name := range s.Columns {
			_, pos, err := p.env.Catalog.Column(t, name)
			if err != nil {
				return nil, err
			}
			if seen[pos] {
				return nil, fmt.Errorf("column %q specified more than once", name)
			}
			seen[pos] = true
			positions = append(positions, pos)
		}
	}

	c := p.compiler(nil)
	rows := make([][]*expr, len(s.Rows))
	for i, values := range s.Rows {
		if len(values) != len(positions) {
			return nil, fmt.Errorf("INSERT row %d has %d expressions for %d target columns", i+1, len(values), len(positions))
		}
		rows[i] = make([]*expr, len(values))
		for j, v := range values {
			e, err := c.compile(v, t.Columns[positions[j]].Type)
			if err != nil {
				return nil, err
			}
			rows[i][j] = e
		}
	}

	return &prepared{
		typ:    TypeDML,
		binder: p.binder,
		exec: func(ctx context.Context, ec *evalContext) (int64, error) {
			return runSink(ctx, &insertSink{env: p.env, table: t, positions: positions, rows: rows, ec: ec})
		},
	}, nil
}

type insertSink struct {
	env       *Env
	table     *schema.Table
	positions []int
	rows      [][]*expr
	ec        *evalContext
	affected  int64
	done      bool
}

func (s *insertSink) Next(ctx context.Context) (*Batch, error) {
	if s.done {
		return nil, nil
	}
	s.done = true

	op, t := s.env.Op, s.table
	if err := op.CheckTable(t.ID); err != nil {
		return nil, err
	}

	for _, exprs := range s.rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := make(schema.Row, len(t.Columns))
		for j, e := range exprs {
			v, err := e.eval(s.ec, nil)
			if err != nil {
				return nil, err
			}
			row[s.positions[j]] = v
		}
		for i, col := range t.Columns {
			v, err := col.Coerce(row[i])
			if err != nil {
				return nil, err
			}
			row[i] = v
		}

		id, err := op.NextRowID(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if err := op.InsertRow(t, id, row); err != nil {
			return nil, err
		}
		if err := addIndexEntries(op, t, id, row); err != nil {
			return nil, err
		}
		s.env.Changes.record(t, id, row)
		s.affected++
	}
	return nil, nil
}

func (s *insertSink) Affected() int64 { return s.affected }

func (s *insertSink) Close() error { return nil }

func addIndexEntries(op *storage.Operator, t *schema.Table, id schema.RowID, row schema.Row) error {
	for _, idx := range t.Indexes {
		if idx.Kind != schema.IndexBTree {
			continue
		}
		pos, ok := t.ColumnPos(idx.Columns[0])
		if !ok {
			continue
		}
		if err := op.AddIndexEntry(idx, row[pos], id); err != nil {
			return err
		}
	}
	return nil
}

func removeIndexEntries(op *storage.Operator, t *schema.Table, id schema.RowID, row schema.Row) error {
	for _, idx := range t.Indexes {
		if idx.Kind != schema.IndexBTree {
			continue
		}
		pos, ok := t.ColumnPos(idx.Columns[0])
		if !ok {
			continue
		}
		if err := op.RemoveIndexEntry(idx, row[pos], id); err != nil {
			return err
		}
	}
	return nil
}

// targets is the row source of UPDATE and DELETE.
type targets struct {
	table  *schema.Table
	where  *expr
	lookup *lookupAccess
}

func (p *planner) targets(c *compiler, t *schema.Table, where ast.Expr) (*targets, error) {
	tg := &targets{table: t}
	if where != nil {
		w, err := c.compile(where, schema.Bool)
		if err != nil {
			return nil, err
		}
		tg.where = w
	}
	lk, err := p.lookupAccess(c, t, where)
	if err != nil {
		return nil, err
	}
	tg.lookup = lk
	return tg, nil
}

// collect materializes the matching rows before any of them is written, so
// the writes never feed back into the scan.
func (tg *targets) collect(ctx context.Context, p *planner, ec *evalContext) ([]schema.Row, []schema.RowID, error) {
	src, err := p.source(ec, &selectPlan{table: tg.table, where: tg.where, lookup: tg.lookup}, -1, 0)
	if err != nil {
		return nil, nil, err
	}
	return drain(ctx, src)
}

type assignment struct {
	pos   int
	col   schema.Column
	value *expr
}

func (p *planner) updateStmt(s *ast.Update) (*prepared, error) {
	t, err := p.env.Catalog.Table(s.Table)
	if err != nil {
		return nil, err
	}
	if len(s.Set) == 0 {
		return nil, fmt.Errorf("UPDATE without SET")
	}
	c := p.compiler(t)

	var set []assignment
	seen := map[int]bool{}
	for _, a := range s.Set {
		col, pos, err := p.env.Catalog.Column(t, a.Column)
		if err != nil {
			return nil, err
		}
		if seen[pos] {
			return nil, fmt.Errorf("column %q assigned more than once", a.Column)
		}
		seen[pos] = true
		e, err := c.compile(a.Value, col.Type)
		if err != nil {
			return nil, err
		}
		set = append(set, assignment{pos: pos, col: col, value: e})
	}

	tg, err := p.targets(c, t, s.Where)
	if err != nil {
		return nil, err
	}

	return &prepared{
		typ:    TypeDML,
		binder: p.binder,
		exec: func(ctx context.Context, ec *evalContext) (int64, error) {
			return runSink(ctx, &updateSink{p: p, targets: tg, set: set, ec: ec})
		},
	}, nil
}

type updateSink struct {
	p        *planner
	targets  *targets
	set      []assignment
	ec       *evalContext
	affected int64
	done     bool
}

func (s *updateSink) Next(ctx context.Context) (*Batch, error) {
	if s.done {
		return nil, nil
	}
	s.done = true

	op, t := s.p.env.Op, s.targets.table
	if err := op.CheckTable(t.ID); err != nil {
		return nil, err
	}
	rows, ids, err := s.targets.collect(ctx, s.p, s.ec)
	if err != nil {
		return nil, err
	}

	for i, old := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := slices.Clone(old)
		for _, a := range s.set {
			v, err := a.value.eval(s.ec, old)
			if err != nil {
				return nil, err
			}
			if next[a.pos], err = a.col.Coerce(v); err != nil {
				return nil, err
			}
		}

		id := ids[i]
		if err := op.UpdateRow(t, id, next); err != nil {
			return nil, err
		}
		if err := s.reindex(t, id, old, next); err != nil {
			return nil, err
		}
		s.p.env.Changes.record(t, id, next)
		s.affected++
	}
	return nil, nil
}

// reindex moves btree entries whose column value changed.
func (s *updateSink) reindex(t *schema.Table, id schema.RowID, old, next schema.Row) error {
	op := s.p.env.Op
	for _, idx := range t.Indexes {
		if idx.Kind != schema.IndexBTree {
			continue
		}
		pos, ok := t.ColumnPos(idx.Columns[0])
		if !ok || sameValue(old[pos], next[pos]) {
			continue
		}
		if err := op.RemoveIndexEntry(idx, old[pos], id); err != nil {
			return err
		}
		if err := op.AddIndexEntry(idx, next[pos], id); err != nil {
			return err
		}
	}
	return nil
}

func sameValue(a, b schema.Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	return a.Kind == b.Kind && schema.Equal(a, b)
}

func (s *updateSink) Affected() int64 { return s.affected }

func (s *updateSink) Close() error { return nil }

func (p *planner) deleteStmt(s *ast.Delete) (*prepared, error) {
	t, err := p.env.Catalog.Table(s.Table)
	if err != nil {
		return nil, err
	}
	tg, err := p.targets(p.compiler(t), t, s.Where)
	if err != nil {
		return nil, err
	}
	return &prepared{
		typ:    TypeDML,
		binder: p.binder,
		exec: func(ctx context.Context, ec *evalContext) (int64, error) {
			return runSink(ctx, &deleteSink{p: p, targets: tg, ec: ec})
		},
	}, nil
}

type deleteSink struct {
	p        *planner
	targets  *targets
	ec       *evalContext
	affected int64
	done     bool
}

func (s *deleteSink) Next(ctx context.Context) (*Batch, error) {
	if s.done {
		return nil, nil
	}
	s.done = true

	op, t := s.p.env.Op, s.targets.table
	if err := op.CheckTable(t.ID); err != nil {
		return nil, err
	}
	rows, ids, err := s.targets.collect(ctx, s.p, s.ec)
	if err != nil {
		return nil, err
	}

	for i, row := range rows {
		id := ids[i]
		if err := op.DeleteRow(t, id); err != nil {
			return nil, err
		}
		if err := removeIndexEntries(op, t, id, row); err != nil {
			return nil, err
		}
		s.p.env.Changes.record(t, id, nil)
		s.affected++
	}
	return nil, nil
}

func (s *deleteSink) Affected() int64 { return s.affected }

func (s *deleteSink) Close() error { return nil }

// hasVectorIndex reports whether committed row changes of t must be
// mirrored into vector indexes.
func hasVectorIndex(t *schema.Table) bool {
	return slices.ContainsFunc(t.Indexes, func(idx schema.Index) bool { return idx.Kind.IsVector() })
}
