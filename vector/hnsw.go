package vector

import (
	"cmp"
	"context"
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/vecsql/schema"
)

// rebuildMinDead is the tombstone count below which a graph is never
// rebuilt.
const rebuildMinDead = 64

type hnswNode struct {
	id    schema.RowID
	vec   []float32
	links [][]uint32 // per layer, 0 is the base layer
}

func (n *hnswNode) linksAt(level int) []uint32 {
	if level >= len(n.links) {
		return nil
	}
	return n.links[level]
}

// graph is the HNSW graph of one namespace. Replaced and deleted rows stay
// in the graph as tombstoned nodes that route searches but are never
// returned.
type graph struct {
	nodes    []*hnswNode
	dead     *roaring64.Bitmap
	entry    uint32
	maxLevel int
}

func newGraph() *graph { return &graph{dead: roaring64.New()} }

func (g *graph) live() int { return len(g.nodes) - int(g.dead.GetCardinality()) }

type nodeRef struct {
	namespace string
	node      uint32
}

// HNSW is an approximate index backed by one Hierarchical Navigable Small
// World graph per namespace.
type HNSW struct {
	mu        sync.RWMutex
	opts      Options
	levelMult float64
	rng       *rand.Rand
	graphs    map[string]*graph
	where     map[schema.RowID]nodeRef
}

// NewHNSW returns an empty HNSW index.
func NewHNSW(opts Options) *HNSW {
	opts.setDefaults()
	return &HNSW{
		opts:      opts,
		levelMult: 1 / math.Log(float64(max(opts.M, 2))),
		rng:       rand.New(rand.NewSource(opts.Seed)),
		graphs:    map[string]*graph{},
		where:     map[schema.RowID]nodeRef{},
	}
}

func (h *HNSW) Options() Options { return h.opts }

func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.where)
}

// dist orders nodes for graph construction and traversal; lower is closer.
func (h *HNSW) dist(a, b []float32) float32 {
	if h.opts.Metric == MetricL2 {
		return SquaredL2(a, b)
	}
	return -Dot(a, b)
}

func (h *HNSW) Upsert(id schema.RowID, namespace string, vec []float32) error {
	if err := checkDim(vec, h.opts.Dim); err != nil {
		return err
	}
	v := h.opts.Metric.prepare(vec)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.remove(id)

	g, ok := h.graphs[namespace]
	if !ok {
		g = newGraph()
		h.graphs[namespace] = g
	}
	n := h.insert(g, id, v)
	h.where[id] = nodeRef{namespace: namespace, node: n}
	return nil
}

func (h *HNSW) Delete(id schema.RowID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(id)
}

// remove tombstones the node of a row and rebuilds its graph once most of
// it is dead. Callers hold the write lock.
func (h *HNSW) remove(id schema.RowID) {
	ref, ok := h.where[id]
	if !ok {
		return
	}
	delete(h.where, id)

	g := h.graphs[ref.namespace]
	g.dead.Add(uint64(ref.node))

	live := g.live()
	switch {
	case live == 0:
		delete(h.graphs, ref.namespace)
	case int(g.dead.GetCardinality()) >= rebuildMinDead && live < int(g.dead.GetCardinality()):
		h.rebuild(ref.namespace, g)
	}
}

func (h *HNSW) rebuild(namespace string, old *graph) {
	g := newGraph()
	for i, n := range old.nodes {
		if old.dead.Contains(uint64(i)) {
			continue
		}
		h.where[n.id] = nodeRef{namespace: namespace, node: h.insert(g, n.id, n.vec)}
	}
	h.graphs[namespace] = g
}

func (h *HNSW) randomLevel() int {
	r := 1 - h.rng.Float64()
	return int(math.Floor(-math.Log(r) * h.levelMult))
}

func (h *HNSW) maxConns(level int) int {
	if level == 0 {
		return 2 * h.opts.M
	}
	return h.opts.M
}

// insert links a new node into g and returns its position.
func (h *HNSW) insert(g *graph, id schema.RowID, vec []float32) uint32 {
	level := h.randomLevel()
	n := &hnswNode{id: id, vec: vec, links: make([][]uint32, level+1)}
	pos := uint32(len(g.nodes))
	g.nodes = append(g.nodes, n)

	if len(g.nodes) == 1 {
		g.entry = pos
		g.maxLevel = level
		return pos
	}

	cur := g.entry
	curDist := h.dist(vec, g.nodes[cur].vec)
	for l := g.maxLevel; l > level; l-- {
		cur, curDist = h.greedy(g, vec, cur, curDist, l)
	}

	alive := func(c uint32) bool { return c != pos && !g.dead.Contains(uint64(c)) }
	for l := min(level, g.maxLevel); l >= 0; l-- {
		cands := h.searchLayer(g, vec, cur, curDist, l, h.opts.EfConstruction, alive, true)
		if len(cands) > 0 {
			cur, curDist = cands[0].node, cands[0].dist
		}

		neighbors := h.selectNeighbors(g, cands, h.opts.M)
		n.links[l] = neighbors
		for _, nb := range neighbors {
			h.link(g, nb, pos, l)
		}
	}

	if level > g.maxLevel {
		g.maxLevel = level
		g.entry = pos
	}
	return pos
}

// greedy walks one layer towards the query and returns the closest node.
func (h *HNSW) greedy(g *graph, q []float32, cur uint32, curDist float32, level int) (uint32, float32) {
	for changed := true; changed; {
		changed = false
		for _, next := range g.nodes[cur].linksAt(level) {
			if d := h.dist(q, g.nodes[next].vec); d < curDist {
				cur, curDist = next, d
				changed = true
			}
		}
	}
	return cur, curDist
}

// link adds dst to the neighbor list of src, pruning the list when it
// exceeds the layer's connection limit.
func (h *HNSW) link(g *graph, src, dst uint32, level int) {
	n := g.nodes[src]
	links := append(n.linksAt(level), dst)
	limit := h.maxConns(level)
	if len(links) <= limit {
		n.links[level] = links
		return
	}

	cands := make([]candidate, len(links))
	for i, l := range links {
		cands[i] = candidate{node: l, dist: h.dist(n.vec, g.nodes[l].vec)}
	}
	slices.SortFunc(cands, func(a, b candidate) int { return cmp.Compare(a.dist, b.dist) })
	n.links[level] = h.selectNeighbors(g, cands, limit)
}

// selectNeighbors picks up to m of the candidates, nearest first, keeping a
// candidate only when it is closer to the base node than to every already
// selected neighbor. Remaining slots are filled with the nearest skipped
// candidates.
func (h *HNSW) selectNeighbors(g *graph, cands []candidate, m int) []uint32 {
	out := make([]uint32, 0, min(m, len(cands)))
	if len(cands) <= m {
		for _, c := range cands {
			out = append(out, c.node)
		}
		return out
	}

	var skipped []uint32
	for _, c := range cands {
		if len(out) >= m {
			break
		}
		good := true
		for _, r := range out {
			if h.dist(g.nodes[c.node].vec, g.nodes[r].vec) < c.dist {
				good = false
				break
			}
		}
		if good {
			out = append(out, c.node)
		} else {
			skipped = append(skipped, c.node)
		}
	}
	for _, s := range skipped {
		if len(out) >= m {
			break
		}
		out = append(out, s)
	}
	return out
}

// searchLayer runs a best-first search of one layer and returns up to ef
// accepted nodes, nearest first. Rejected nodes are still traversed. With
// prune set, neighbors farther than the current worst result are not
// explored once ef results exist.
func (h *HNSW) searchLayer(g *graph, q []float32, ep uint32, epDist float32, level, ef int, accept func(uint32) bool, prune bool) []candidate {
	vis := visitedPool.Get().(*visitedSet)
	defer visitedPool.Put(vis)
	vis.reset(len(g.nodes))

	cands := newMinQueue(ef)
	results := newMaxQueue(ef + 1)

	vis.visit(ep)
	cands.push(candidate{node: ep, dist: epDist})
	if accept(ep) {
		results.push(candidate{node: ep, dist: epDist})
	}

	for cands.Len() > 0 {
		cur := cands.pop()
		if results.Len() >= ef && cur.dist > results.top().dist {
			break
		}

		for _, next := range g.nodes[cur.node].linksAt(level) {
			if vis.visited(next) {
				continue
			}
			vis.visit(next)

			d := h.dist(q, g.nodes[next].vec)
			if prune && results.Len() >= ef && d > results.top().dist {
				continue
			}
			cands.push(candidate{node: next, dist: d})
			if accept(next) {
				results.push(candidate{node: next, dist: d})
				if results.Len() > ef {
					results.pop()
				}
			}
		}
	}
	return results.sorted()
}

func (h *HNSW) TopK(ctx context.Context, q Query) ([]Result, error) {
	if err := checkQuery(q, h.opts.Dim); err != nil {
		return nil, err
	}
	query := h.opts.Metric.prepare(q.Vector)

	h.mu.RLock()
	defer h.mu.RUnlock()

	g, ok := h.graphs[q.Namespace]
	if !ok {
		return []Result{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	accept := func(n uint32) bool {
		if g.dead.Contains(uint64(n)) {
			return false
		}
		return q.Filter == nil || q.Filter(g.nodes[n].id)
	}

	cur := g.entry
	curDist := h.dist(query, g.nodes[cur].vec)
	for l := g.maxLevel; l > 0; l-- {
		cur, curDist = h.greedy(g, query, cur, curDist, l)
	}

	ef := max(h.opts.Ef, q.K)
	acc := NewTopK(q.K)
	for i, c := range h.searchLayer(g, query, cur, curDist, 0, ef, accept, q.Filter == nil) {
		acc.Push(g.nodes[c.node].id, -c.dist, uint64(i))
	}

	// A selective filter can starve the graph walk. Fall back to an exact
	// scan of the namespace when it did.
	if q.Filter != nil && !acc.Full() && acc.Len() < g.live() {
		acc = NewTopK(q.K)
		for i, n := range g.nodes {
			if accept(uint32(i)) {
				acc.Push(n.id, -h.dist(query, n.vec), uint64(i))
			}
		}
	}
	return acc.Results(), nil
}
