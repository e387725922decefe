package vector

import (
	"slices"

	"github.com/hupe1980/vecsql/schema"
)

// Result is one search hit.
type Result struct {
	RowID schema.RowID
	Score float32
}

type topKItem struct {
	id    schema.RowID
	score float32
	seq   uint64
}

// worse reports whether a ranks below b: lower score, or equal score and
// inserted later.
func (a topKItem) worse(b topKItem) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.seq > b.seq
}

// TopK keeps the k best candidates seen so far in a bounded min-heap whose
// root is the current worst. Ties are broken by seq, lower wins.
type TopK struct {
	k     int
	items []topKItem
}

// NewTopK returns an accumulator for k results.
func NewTopK(k int) *TopK {
	return &TopK{k: k, items: make([]topKItem, 0, min(k, 1024))}
}

// Len returns the number of kept candidates.
func (t *TopK) Len() int { return len(t.items) }

// Full reports whether k candidates are kept.
func (t *TopK) Full() bool { return len(t.items) >= t.k }

// Threshold returns the worst kept score. It is only meaningful when Full.
func (t *TopK) Threshold() float32 {
	if len(t.items) == 0 {
		return 0
	}
	return t.items[0].score
}

// Push offers a candidate. seq orders equal scores.
func (t *TopK) Push(id schema.RowID, score float32, seq uint64) {
	if t.k <= 0 {
		return
	}
	it := topKItem{id: id, score: score, seq: seq}
	if len(t.items) < t.k {
		t.items = append(t.items, it)
		t.siftUp(len(t.items) - 1)
		return
	}
	if !t.items[0].worse(it) {
		return
	}
	t.items[0] = it
	t.siftDown(0)
}

// Merge pushes every candidate of o.
func (t *TopK) Merge(o *TopK) {
	for _, it := range o.items {
		t.Push(it.id, it.score, it.seq)
	}
}

// Results returns the kept candidates, best first.
func (t *TopK) Results() []Result {
	items := slices.Clone(t.items)
	slices.SortFunc(items, func(a, b topKItem) int {
		switch {
		case b.worse(a):
			return -1
		case a.worse(b):
			return 1
		default:
			return 0
		}
	})

	out := make([]Result, len(items))
	for i, it := range items {
		out[i] = Result{RowID: it.id, Score: it.score}
	}
	return out
}

func (t *TopK) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !t.items[i].worse(t.items[p]) {
			return
		}
		t.items[i], t.items[p] = t.items[p], t.items[i]
		i = p
	}
}

func (t *TopK) siftDown(i int) {
	n := len(t.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		worst := l
		if r := l + 1; r < n && t.items[r].worse(t.items[l]) {
			worst = r
		}
		if !t.items[worst].worse(t.items[i]) {
			return
		}
		t.items[i], t.items[worst] = t.items[worst], t.items[i]
		i = worst
	}
}
