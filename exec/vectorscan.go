package exec

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/vecsql/schema"
	"github.com/hupe1980/vecsql/storage"
	"github.com/hupe1980/vecsql/vector"
)

// overfetch is the factor by which an unfiltered search asks the index for
// more hits than the query needs, leaving room for hits the transaction
// cannot see.
const overfetch = 2

// vectorScan produces the rows nearest to a query vector, best first, by
// asking a vector index instead of scanning the table. Every hit is read
// back through the transaction, so rows deleted by the transaction are
// skipped and updated rows are returned with their current values.
//
// Without a residual predicate the index ranks on vectors alone and only the
// hits are read; the search widens while too few of them are visible. With
// a residual predicate the check runs inside the index search, so the index
// fills k with rows that actually qualify.
type vectorScan struct {
	op        *storage.Operator
	table     *schema.Table
	index     vector.Index
	query     vector.Query
	residual  *expr
	ec        *evalContext
	batchSize int

	hits []vector.Result
	rows map[schema.RowID]schema.Row
	pos  int
	done bool
}

func (s *vectorScan) search(ctx context.Context) error {
	s.rows = map[schema.RowID]schema.Row{}
	if s.residual != nil {
		return s.searchFiltered(ctx)
	}

	k := s.query.K
	fetch := min(k*overfetch, max(s.index.Len(), k))
	for {
		q := s.query
		q.K = fetch
		hits, err := s.index.TopK(ctx, q)
		if err != nil {
			return err
		}

		s.hits = s.hits[:0]
		for _, h := range hits {
			row, ok, err := s.load(h.RowID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			s.rows[h.RowID] = row
			s.hits = append(s.hits, h)
			if len(s.hits) == k {
				return nil
			}
		}
		if len(hits) < fetch || fetch >= s.index.Len() {
			return nil
		}
		fetch = min(fetch*2, s.index.Len())
	}
}

// load reads a hit through the transaction. Rows that were already read are
// served from the cache; rows the transaction cannot see report false.
func (s *vectorScan) load(id schema.RowID) (schema.Row, bool, error) {
	if row, ok := s.rows[id]; ok {
		return row, row != nil, nil
	}
	row, err := s.op.GetRow(s.table, id)
	if errors.Is(err, storage.ErrRowNotFound) {
		s.rows[id] = nil
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}

func (s *vectorScan) searchFiltered(ctx context.Context) error {
	var (
		mu   sync.Mutex
		ferr error
	)

	q := s.query
	q.Filter = func(id schema.RowID) bool {
		// The operator and the row cache are not safe for concurrent use;
		// the flat index calls the filter from several goroutines.
		mu.Lock()
		defer mu.Unlock()
		if ferr != nil {
			return false
		}
		row, ok, err := s.load(id)
		if err != nil {
			ferr = err
			return false
		}
		if !ok {
			return false
		}
		ok, err = predicate(s.residual, s.ec, row)
		if err != nil {
			ferr = err
			return false
		}
		if !ok {
			s.rows[id] = nil
			return false
		}
		s.rows[id] = row
		return true
	}

	hits, err := s.index.TopK(ctx, q)
	if err != nil {
		return err
	}
	if ferr != nil {
		return ferr
	}
	s.hits = hits
	return nil
}

func (s *vectorScan) Next(ctx context.Context) (*Batch, error) {
	if !s.done {
		s.done = true
		if err := s.search(ctx); err != nil {
			return nil, err
		}
	}
	if s.pos >= len(s.hits) {
		return nil, nil
	}

	b := &Batch{}
	for s.pos < len(s.hits) && b.Len() < s.batchSize {
		id := s.hits[s.pos].RowID
		s.pos++
		row := s.rows[id]
		if row == nil {
			continue
		}
		b.Rows = append(b.Rows, row)
		b.IDs = append(b.IDs, id)
	}
	return b, nil
}

func (s *vectorScan) Close() error {
	s.rows = nil
	return nil
}
