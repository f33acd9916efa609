package index

import "container/heap"

// Compile time check to ensure candidateQueue satisfies the heap interface.
var _ heap.Interface = (*candidateQueue)(nil)

// candidate is one (node, distance) pair during a graph walk.
type candidate struct {
	node     uint32
	distance float32
	index    int // maintained by the heap.Interface methods
}

// candidateQueue holds candidates ordered by distance. With descending=false
// the queue pops the closest candidate first (expansion frontier); with
// descending=true it pops the farthest first (bounded result set).
type candidateQueue struct {
	descending bool
	items      []*candidate
}

func (q *candidateQueue) Len() int { return len(q.items) }

func (q *candidateQueue) Less(i, j int) bool {
	if q.descending {
		return q.items[i].distance > q.items[j].distance
	}
	return q.items[i].distance < q.items[j].distance
}

func (q *candidateQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index, q.items[j].index = i, j
}

func (q *candidateQueue) Push(x any) {
	c := x.(*candidate)
	c.index = len(q.items)
	q.items = append(q.items, c)
}

func (q *candidateQueue) Pop() any {
	old := q.items
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	c.index = -1
	q.items = old[:n-1]
	return c
}

func (q *candidateQueue) top() *candidate { return q.items[0] }
