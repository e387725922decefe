package vector

import "sync"

// visitedSet tracks visited graph nodes using generation tokens, so reset
// is O(1).
type visitedSet struct {
	marks []uint32
	token uint32
}

var visitedPool = sync.Pool{New: func() any { return &visitedSet{} }}

func (v *visitedSet) reset(capacity int) {
	if capacity > len(v.marks) {
		v.marks = make([]uint32, max(capacity, 2*len(v.marks)))
		v.token = 0
	}
	v.token++
	if v.token == 0 {
		clear(v.marks)
		v.token = 1
	}
}

func (v *visitedSet) visit(n uint32) { v.marks[n] = v.token }

func (v *visitedSet) visited(n uint32) bool { return v.marks[n] == v.token }
