package vector

// candidate is a graph node with its distance to the query.
type candidate struct {
	node uint32
	dist float32
}

// distQueue is a binary heap of candidates ordered by distance, either
// nearest-first or farthest-first.
type distQueue struct {
	max   bool
	items []candidate
}

func newMinQueue(capacity int) *distQueue {
	return &distQueue{items: make([]candidate, 0, capacity)}
}

func newMaxQueue(capacity int) *distQueue {
	return &distQueue{max: true, items: make([]candidate, 0, capacity)}
}

func (q *distQueue) Len() int { return len(q.items) }

func (q *distQueue) top() candidate { return q.items[0] }

func (q *distQueue) push(c candidate) {
	q.items = append(q.items, c)
	q.siftUp(len(q.items) - 1)
}

func (q *distQueue) pop() candidate {
	n := len(q.items)
	root := q.items[0]
	q.items[0] = q.items[n-1]
	q.items = q.items[:n-1]
	if len(q.items) > 0 {
		q.siftDown(0)
	}
	return root
}

// sorted drains the queue and returns its candidates nearest first.
func (q *distQueue) sorted() []candidate {
	out := make([]candidate, q.Len())
	if q.max {
		for i := len(out) - 1; i >= 0; i-- {
			out[i] = q.pop()
		}
		return out
	}
	for i := range out {
		out[i] = q.pop()
	}
	return out
}

func (q *distQueue) less(i, j int) bool {
	if q.max {
		return q.items[i].dist > q.items[j].dist
	}
	return q.items[i].dist < q.items[j].dist
}

func (q *distQueue) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !q.less(i, p) {
			return
		}
		q.items[i], q.items[p] = q.items[p], q.items[i]
		i = p
	}
}

func (q *distQueue) siftDown(i int) {
	n := len(q.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && q.less(r, l) {
			best = r
		}
		if !q.less(best, i) {
			return
		}
		q.items[i], q.items[best] = q.items[best], q.items[i]
		i = best
	}
}
