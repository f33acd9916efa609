package cache

import (
	"container/heap"
	"container/list"
	"fmt"
	"strings"
)

// Policy selects which entry to remove when the store is at capacity.
type Policy string

const (
	// LRU evicts the least recently touched entry. The recency order is
	// updated on every Get and Set.
	LRU Policy = "LRU"

	// LFU evicts the entry with the lowest access count. Ties are broken by
	// earliest insertion order.
	LFU Policy = "LFU"

	// FIFO evicts the oldest inserted entry regardless of access pattern.
	FIFO Policy = "FIFO"
)

// ParsePolicy converts a string into a Policy, case-insensitively.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToUpper(s)) {
	case LRU:
		return LRU, nil
	case LFU:
		return LFU, nil
	case FIFO:
		return FIFO, nil
	default:
		return "", fmt.Errorf("cache: unknown eviction policy %q", s)
	}
}

// evictionOrder maintains the victim order for one policy. Implementations
// are not safe for concurrent use; the store serializes all calls under its
// lock.
type evictionOrder interface {
	add(e *entry)
	touch(e *entry)
	remove(e *entry)
	victim() *entry
	clear()
}

func newEvictionOrder(p Policy) evictionOrder {
	switch p {
	case LFU:
		return &lfuOrder{}
	case FIFO:
		return &fifoOrder{order: list.New()}
	default:
		return &lruOrder{order: list.New()}
	}
}

// lruOrder keeps a recency list, front = most recently touched.
type lruOrder struct {
	order *list.List
}

func (o *lruOrder) add(e *entry)    { e.elem = o.order.PushFront(e) }
func (o *lruOrder) touch(e *entry)  { o.order.MoveToFront(e.elem) }
func (o *lruOrder) remove(e *entry) { o.order.Remove(e.elem); e.elem = nil }
func (o *lruOrder) clear()          { o.order.Init() }

func (o *lruOrder) victim() *entry {
	back := o.order.Back()
	if back == nil {
		return nil
	}
	return back.Value.(*entry)
}

// fifoOrder keeps insertion order only; touch is a no-op.
type fifoOrder struct {
	order *list.List
}

func (o *fifoOrder) add(e *entry)    { e.elem = o.order.PushFront(e) }
func (o *fifoOrder) touch(e *entry)  {}
func (o *fifoOrder) remove(e *entry) { o.order.Remove(e.elem); e.elem = nil }
func (o *fifoOrder) clear()          { o.order.Init() }

func (o *fifoOrder) victim() *entry {
	back := o.order.Back()
	if back == nil {
		return nil
	}
	return back.Value.(*entry)
}

// lfuOrder keeps a min-heap on (accessCount, insertion sequence).
type lfuOrder struct {
	entries lfuHeap
}

func (o *lfuOrder) add(e *entry)   { heap.Push(&o.entries, e) }
func (o *lfuOrder) touch(e *entry) { heap.Fix(&o.entries, e.heapIdx) }
func (o *lfuOrder) clear()         { o.entries = o.entries[:0] }

func (o *lfuOrder) remove(e *entry) {
	heap.Remove(&o.entries, e.heapIdx)
	e.heapIdx = -1
}

func (o *lfuOrder) victim() *entry {
	if len(o.entries) == 0 {
		return nil
	}
	return o.entries[0]
}

// Compile time check to ensure lfuHeap satisfies the heap interface.
var _ heap.Interface = (*lfuHeap)(nil)

type lfuHeap []*entry

func (h lfuHeap) Len() int { return len(h) }

func (h lfuHeap) Less(i, j int) bool {
	if h[i].accessCount != h[j].accessCount {
		return h[i].accessCount < h[j].accessCount
	}
	return h[i].seq < h[j].seq
}

func (h lfuHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx, h[j].heapIdx = i, j
}

func (h *lfuHeap) Push(x any) {
	e := x.(*entry)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}

func (h *lfuHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIdx = -1
	*h = old[:n-1]
	return e
}
