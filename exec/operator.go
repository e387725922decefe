package exec

import (
	"context"
	"errors"
	"iter"
	"slices"

	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/storage"
)

// DefaultBatchSize is the number of rows per batch when none is configured.
const DefaultBatchSize = 256

// Operator is a node of a physical plan. Next returns the next batch, or a
// nil batch once the operator is exhausted. Close releases the operator and
// its inputs; it is called exactly once, also after an error.
//
// Operators are driven by a single goroutine.
type Operator interface {
	Next(ctx context.Context) (*Batch, error)
	Close() error
}

// tableScan reads every row of a table in RowID order.
type tableScan struct {
	op        *storage.Operator
	table     *schema.Table
	batchSize int
	next      func() (storage.RowEntry, error, bool)
	stop      func()
}

func newTableScan(op *storage.Operator, t *schema.Table, batchSize int) *tableScan {
	return &tableScan{op: op, table: t, batchSize: batchSize}
}

func (s *tableScan) Next(ctx context.Context) (*Batch, error) {
	if s.next == nil {
		s.next, s.stop = iter.Pull2(s.op.ScanRows(s.table))
	}

	b := &Batch{}
	for b.Len() < s.batchSize {
		if b.Len()%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		e, err, ok := s.next()
		if !ok {
			break
		}
		if err != nil {
			return nil, err
		}
		b.Rows = append(b.Rows, e.Row)
		b.IDs = append(b.IDs, e.ID)
	}
	if b.Len() == 0 {
		return nil, nil
	}
	return b, nil
}

func (s *tableScan) Close() error {
	if s.stop != nil {
		s.stop()
	}
	return nil
}

// indexLookup reads the rows whose btree-indexed column equals a value.
type indexLookup struct {
	op        *storage.Operator
	table     *schema.Table
	index     schema.Index
	value     schema.Value
	batchSize int
	next      func() (schema.RowID, error, bool)
	stop      func()
}

func (s *indexLookup) Next(ctx context.Context) (*Batch, error) {
	if s.next == nil {
		s.next, s.stop = iter.Pull2(s.op.LookupIndex(s.index, s.value))
	}

	b := &Batch{}
	for b.Len() < s.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, err, ok := s.next()
		if !ok {
			break
		}
		if err != nil {
			return nil, err
		}
		row, err := s.op.GetRow(s.table, id)
		if errors.Is(err, storage.ErrRowNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		b.Rows = append(b.Rows, row)
		b.IDs = append(b.IDs, id)
	}
	if b.Len() == 0 {
		return nil, nil
	}
	return b, nil
}

func (s *indexLookup) Close() error {
	if s.stop != nil {
		s.stop()
	}
	return nil
}

// values emits a fixed set of rows.
type values struct {
	rows      []schema.Row
	batchSize int
	pos       int
}

func (v *values) Next(context.Context) (*Batch, error) {
	if v.pos >= len(v.rows) {
		return nil, nil
	}
	end := min(v.pos+v.batchSize, len(v.rows))
	b := &Batch{Rows: v.rows[v.pos:end]}
	v.pos = end
	return b, nil
}

func (v *values) Close() error { return nil }

// filter drops rows for which the predicate is not true.
type filter struct {
	child Operator
	pred  *expr
	ec    *evalContext
}

func (f *filter) Next(ctx context.Context) (*Batch, error) {
	for {
		in, err := f.child.Next(ctx)
		if err != nil || in == nil {
			return nil, err
		}
		out := &Batch{}
		for i, row := range in.Rows {
			ok, err := predicate(f.pred, f.ec, row)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			out.Rows = append(out.Rows, row)
			if in.IDs != nil {
				out.IDs = append(out.IDs, in.IDs[i])
			}
		}
		if out.Len() > 0 {
			return out, nil
		}
	}
}

func (f *filter) Close() error { return f.child.Close() }

// project evaluates the select list.
type project struct {
	child Operator
	exprs []*expr
	ec    *evalContext
}

func (p *project) Next(ctx context.Context) (*Batch, error) {
	in, err := p.child.Next(ctx)
	if err != nil || in == nil {
		return nil, err
	}
	out := &Batch{Rows: make([]schema.Row, len(in.Rows)), IDs: in.IDs}
	for i, row := range in.Rows {
		res := make(schema.Row, len(p.exprs))
		for j, e := range p.exprs {
			v, err := e.eval(p.ec, row)
			if err != nil {
				return nil, err
			}
			res[j] = v
		}
		out.Rows[i] = res
	}
	return out, nil
}

func (p *project) Close() error { return p.child.Close() }

type sortKey struct {
	expr *expr
	desc bool
}

// sorter materializes its input and emits it ordered by the keys. The sort
// is stable, so rows with equal keys keep their input order. NULLs sort
// last ascending and first descending.
type sorter struct {
	child     Operator
	keys      []sortKey
	ec        *evalContext
	batchSize int
	sorted    *values
	ids       []schema.RowID
}

type sortRow struct {
	row  schema.Row
	id   schema.RowID
	keys []schema.Value
}

func (s *sorter) Next(ctx context.Context) (*Batch, error) {
	if s.sorted == nil {
		if err := s.load(ctx); err != nil {
			return nil, err
		}
	}
	start := s.sorted.pos
	b, err := s.sorted.Next(ctx)
	if err != nil || b == nil {
		return b, err
	}
	if s.ids != nil {
		b.IDs = s.ids[start : start+b.Len()]
	}
	return b, nil
}

func (s *sorter) load(ctx context.Context) error {
	var rows []sortRow
	for {
		b, err := s.child.Next(ctx)
		if err != nil {
			return err
		}
		if b == nil {
			break
		}
		for i, row := range b.Rows {
			r := sortRow{row: row, keys: make([]schema.Value, len(s.keys))}
			if b.IDs != nil {
				r.id = b.IDs[i]
			}
			for k, key := range s.keys {
				v, err := key.expr.eval(s.ec, row)
				if err != nil {
					return err
				}
				r.keys[k] = v
			}
			rows = append(rows, r)
		}
	}

	var cmpErr error
	slices.SortStableFunc(rows, func(a, b sortRow) int {
		for k, key := range s.keys {
			c, err := schema.Compare(a.keys[k], b.keys[k])
			if err != nil && cmpErr == nil {
				cmpErr = err
			}
			if key.desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
	if cmpErr != nil {
		return cmpErr
	}

	out := make([]schema.Row, len(rows))
	ids := make([]schema.RowID, len(rows))
	for i, r := range rows {
		out[i], ids[i] = r.row, r.id
	}
	s.sorted = &values{rows: out, batchSize: s.batchSize}
	s.ids = ids
	return nil
}

func (s *sorter) Close() error { return s.child.Close() }

// limit skips offset rows and passes at most count rows. A negative count
// means no limit.
type limit struct {
	child  Operator
	count  int64
	offset int64
	seen   int64
}

func (l *limit) Next(ctx context.Context) (*Batch, error) {
	for {
		if l.count >= 0 && l.seen >= l.offset+l.count {
			return nil, nil
		}
		in, err := l.child.Next(ctx)
		if err != nil || in == nil {
			return nil, err
		}
		lo := max(0, min(int64(in.Len()), l.offset-l.seen))
		hi := int64(in.Len())
		if l.count >= 0 {
			hi = min(hi, l.offset+l.count-l.seen)
		}
		l.seen += int64(in.Len())
		if lo >= hi {
			continue
		}
		out := &Batch{Rows: in.Rows[lo:hi]}
		if in.IDs != nil {
			out.IDs = in.IDs[lo:hi]
		}
		return out, nil
	}
}

func (l *limit) Close() error { return l.child.Close() }

// drain pulls an operator to exhaustion and closes it.
func drain(ctx context.Context, op Operator) (rows []schema.Row, ids []schema.RowID, err error) {
	defer func() {
		if cerr := op.Close(); err == nil {
			err = cerr
		}
	}()
	for {
		b, err := op.Next(ctx)
		if err != nil {
			return nil, nil, err
		}
		if b == nil {
			return rows, ids, nil
		}
		rows = append(rows, b.Rows...)
		ids = append(ids, b.IDs...)
	}
}
