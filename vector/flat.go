package vector

import (
	"context"
	"runtime"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/vecsql/schema"
	"golang.org/x/sync/errgroup"
)

const (
	// parallelThreshold is the slab size above which a query is split
	// across goroutines.
	parallelThreshold = 8192
	// compactMinDead is the tombstone count below which a slab is never
	// compacted.
	compactMinDead = 1024
)

// slab holds the vectors of one namespace contiguously. Deleted or
// replaced positions are tombstoned and skipped until compaction.
type slab struct {
	ids  []schema.RowID
	data []float32
	dead *roaring64.Bitmap
}

func (s *slab) vec(pos, dim int) []float32 { return s.data[pos*dim : (pos+1)*dim] }

func (s *slab) live() int { return len(s.ids) - int(s.dead.GetCardinality()) }

type location struct {
	namespace string
	pos       int
}

// Flat is an exact index: every live vector of the namespace is scored
// once per query.
type Flat struct {
	mu    sync.RWMutex
	opts  Options
	score func(a, b []float32) float32
	slabs map[string]*slab
	where map[schema.RowID]location
}

// NewFlat returns an empty flat index.
func NewFlat(opts Options) *Flat {
	opts.setDefaults()
	return &Flat{
		opts:  opts,
		score: opts.Metric.scorer(),
		slabs: map[string]*slab{},
		where: map[schema.RowID]location{},
	}
}

func (f *Flat) Options() Options { return f.opts }

func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.where)
}

func (f *Flat) Upsert(id schema.RowID, namespace string, vec []float32) error {
	if err := checkDim(vec, f.opts.Dim); err != nil {
		return err
	}
	v := f.opts.Metric.prepare(vec)

	f.mu.Lock()
	defer f.mu.Unlock()

	if loc, ok := f.where[id]; ok {
		s := f.slabs[loc.namespace]
		if loc.namespace == namespace {
			copy(s.vec(loc.pos, f.opts.Dim), v)
			return nil
		}
		f.tombstone(loc)
	}

	s, ok := f.slabs[namespace]
	if !ok {
		s = &slab{dead: roaring64.New()}
		f.slabs[namespace] = s
	}
	f.where[id] = location{namespace: namespace, pos: len(s.ids)}
	s.ids = append(s.ids, id)
	s.data = append(s.data, v...)
	return nil
}

func (f *Flat) Delete(id schema.RowID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if loc, ok := f.where[id]; ok {
		f.tombstone(loc)
		delete(f.where, id)
	}
}

// tombstone marks a position dead and compacts the slab once more than
// half of it is dead. Callers hold the write lock.
func (f *Flat) tombstone(loc location) {
	s := f.slabs[loc.namespace]
	s.dead.Add(uint64(loc.pos))

	dead := int(s.dead.GetCardinality())
	if dead == len(s.ids) {
		delete(f.slabs, loc.namespace)
		return
	}
	if dead < compactMinDead || dead*2 < len(s.ids) {
		return
	}

	dim := f.opts.Dim
	next := &slab{
		ids:  make([]schema.RowID, 0, len(s.ids)-dead),
		data: make([]float32, 0, (len(s.ids)-dead)*dim),
		dead: roaring64.New(),
	}
	for pos, id := range s.ids {
		if s.dead.Contains(uint64(pos)) {
			continue
		}
		f.where[id] = location{namespace: loc.namespace, pos: len(next.ids)}
		next.ids = append(next.ids, id)
		next.data = append(next.data, s.vec(pos, dim)...)
	}
	f.slabs[loc.namespace] = next
}

func (f *Flat) TopK(ctx context.Context, q Query) ([]Result, error) {
	if err := checkQuery(q, f.opts.Dim); err != nil {
		return nil, err
	}
	query := f.opts.Metric.prepare(q.Vector)

	f.mu.RLock()
	defer f.mu.RUnlock()

	s, ok := f.slabs[q.Namespace]
	if !ok {
		return []Result{}, nil
	}

	n := len(s.ids)
	if n < parallelThreshold {
		acc := NewTopK(q.K)
		if err := f.scan(ctx, s, query, q.Filter, 0, n, acc); err != nil {
			return nil, err
		}
		return acc.Results(), nil
	}

	workers := runtime.GOMAXPROCS(0)
	chunk := (n + workers - 1) / workers
	partial := make([]*TopK, workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		lo := w * chunk
		hi := min(lo+chunk, n)
		if lo >= hi {
			break
		}
		acc := NewTopK(q.K)
		partial[w] = acc
		g.Go(func() error {
			return f.scan(gctx, s, query, q.Filter, lo, hi, acc)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	acc := NewTopK(q.K)
	for _, p := range partial {
		if p != nil {
			acc.Merge(p)
		}
	}
	return acc.Results(), nil
}

// scan scores positions [lo, hi) of a slab into acc. The slab position is
// the tie-break sequence, so splitting a scan does not change its result.
func (f *Flat) scan(ctx context.Context, s *slab, query []float32, filter func(schema.RowID) bool, lo, hi int, acc *TopK) error {
	dim := f.opts.Dim
	for pos := lo; pos < hi; pos++ {
		if pos%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if s.dead.Contains(uint64(pos)) {
			continue
		}
		id := s.ids[pos]
		if filter != nil && !filter(id) {
			continue
		}
		acc.Push(id, f.score(query, s.vec(pos, dim)), uint64(pos))
	}
	return nil
}
