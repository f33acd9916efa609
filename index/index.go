// Package index implements an approximate similarity index over
// fixed-dimension vectors, organized as a single-layer navigable small-world
// graph.
//
// Search is best-effort: it returns the k best candidates found by a greedy
// walk with exploration breadth EfSearch. There is no exact k-NN guarantee;
// recall is a function of EfSearch and M. The index is a derived, secondary
// structure: the authoritative store owns entry lifetimes.
package index

import (
	"container/heap"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
)

// Options configures the graph. All parameters are fixed at construction.
type Options struct {
	// M is the number of links established for every new vector.
	M int

	// EfConstruction is the exploration breadth while linking a new vector.
	EfConstruction int

	// EfSearch is the default exploration breadth for Search. Larger values
	// improve recall at the cost of search time.
	EfSearch int

	// Dimension is the fixed vector dimension. Shorter input vectors are
	// zero-padded, longer ones truncated, deterministically.
	Dimension int
}

// DefaultOptions are reasonable parameters for medium-dimension vectors.
var DefaultOptions = Options{
	M:              16,
	EfConstruction: 200,
	EfSearch:       64,
	Dimension:      128,
}

// Result is one search hit, with the approximate distance to the query.
type Result struct {
	ID       string
	Distance float32
}

type node struct {
	id         uint32
	vector     []float32
	neighbors  []uint32
	insertedAt time.Time
}

// Graph is a single-layer navigable graph index. Mutations take an exclusive
// lock; searches share a read lock.
type Graph struct {
	mu   sync.RWMutex
	opts Options

	nodes []*node
	byKey map[string]uint32
	keys  []string // internal id -> external identifier

	// Removed or replaced nodes stay in the adjacency structure to keep the
	// graph connected; they are skipped in results.
	dead *roaring.Bitmap

	entry uint32
	live  int
}

// New creates an empty graph.
func New(optFns ...func(o *Options)) *Graph {
	opts := DefaultOptions

	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}

	if opts.M < 2 {
		opts.M = 2
	}
	if opts.EfConstruction < opts.M {
		opts.EfConstruction = opts.M
	}
	if opts.EfSearch < 1 {
		opts.EfSearch = 1
	}
	if opts.Dimension < 1 {
		opts.Dimension = 1
	}

	return &Graph{
		opts:  opts,
		byKey: make(map[string]uint32),
		dead:  roaring.New(),
	}
}

// Options returns the construction parameters.
func (g *Graph) Options() Options { return g.opts }

// Len returns the number of live entries.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.live
}

// Upsert inserts or replaces the vector stored under id. A replaced vector
// is relinked from scratch so its neighborhood reflects the new position.
func (g *Graph) Upsert(id string, vector []float32) {
	vec := g.normalize(vector)

	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.byKey[id]; ok {
		g.dead.Add(old)
		g.live--
	}

	nid := uint32(len(g.nodes))
	n := &node{id: nid, vector: vec, insertedAt: time.Now()}

	if g.live == 0 {
		g.entry = nid
	} else {
		candidates := g.searchLocked(vec, g.opts.EfConstruction)
		if len(candidates) > g.opts.M {
			candidates = candidates[:g.opts.M]
		}
		n.neighbors = make([]uint32, len(candidates))
		for i, c := range candidates {
			n.neighbors[i] = c.node
		}
	}

	g.nodes = append(g.nodes, n)
	g.byKey[id] = nid
	g.keys = append(g.keys, id)
	g.live++

	for _, nb := range n.neighbors {
		g.link(nb, nid)
	}

	if g.dead.Contains(g.entry) {
		g.entry = nid
	}
}

// Search returns the k best candidates found, ascending by distance.
// k <= 0 and an empty index both yield an empty result.
func (g *Graph) Search(query []float32, k int) []Result {
	if k <= 0 {
		return nil
	}

	vec := g.normalize(query)

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.live == 0 {
		return nil
	}

	ef := g.opts.EfSearch
	if ef < k {
		ef = k
	}

	candidates := g.searchLocked(vec, ef)
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{ID: g.keys[c.node], Distance: c.distance}
	}
	return results
}

// Remove deletes id from the index. Removing an absent id is a no-op.
func (g *Graph) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	nid, ok := g.byKey[id]
	if !ok {
		return
	}

	delete(g.byKey, id)
	g.dead.Add(nid)
	g.live--

	if g.entry == nid && g.live > 0 {
		for _, n := range g.nodes {
			if !g.dead.Contains(n.id) {
				g.entry = n.id
				break
			}
		}
	}
}

// normalize pads or truncates v to the fixed dimension.
func (g *Graph) normalize(v []float32) []float32 {
	out := make([]float32, g.opts.Dimension)
	copy(out, v)
	return out
}

// searchLocked performs the greedy walk from the entry point with breadth ef.
// Dead nodes are traversed, to keep the graph navigable, but never returned.
// Results ascend by distance.
func (g *Graph) searchLocked(q []float32, ef int) []*candidate {
	ep := g.entry
	if g.dead.Contains(ep) {
		found := false
		for _, n := range g.nodes {
			if !g.dead.Contains(n.id) {
				ep = n.id
				found = true
				break
			}
		}
		if !found {
			return nil
		}
	}

	var visited bitset.BitSet
	visited.Set(uint(ep))

	start := &candidate{node: ep, distance: squaredL2(q, g.nodes[ep].vector)}

	frontier := &candidateQueue{}
	heap.Init(frontier)
	heap.Push(frontier, &candidate{node: start.node, distance: start.distance})

	results := &candidateQueue{descending: true}
	heap.Init(results)
	heap.Push(results, start)

	for frontier.Len() > 0 {
		curr := heap.Pop(frontier).(*candidate)
		if results.Len() >= ef && curr.distance > results.top().distance {
			break
		}

		for _, nb := range g.nodes[curr.node].neighbors {
			if visited.Test(uint(nb)) {
				continue
			}
			visited.Set(uint(nb))

			d := squaredL2(q, g.nodes[nb].vector)
			if results.Len() < ef || d < results.top().distance {
				heap.Push(frontier, &candidate{node: nb, distance: d})
				heap.Push(results, &candidate{node: nb, distance: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]*candidate, 0, results.Len())
	for results.Len() > 0 {
		c := heap.Pop(results).(*candidate)
		if g.dead.Contains(c.node) {
			continue
		}
		out = append(out, c)
	}

	// Max-heap pops farthest first; reverse into ascending order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// link adds an edge from to the new node, pruning the neighborhood back to
// the closest 2*M when it overflows.
func (g *Graph) link(from, to uint32) {
	n := g.nodes[from]
	n.neighbors = append(n.neighbors, to)

	maxNeighbors := 2 * g.opts.M
	if len(n.neighbors) <= maxNeighbors {
		return
	}

	pruned := &candidateQueue{descending: true}
	heap.Init(pruned)
	for _, nb := range n.neighbors {
		heap.Push(pruned, &candidate{node: nb, distance: squaredL2(n.vector, g.nodes[nb].vector)})
		if pruned.Len() > maxNeighbors {
			heap.Pop(pruned)
		}
	}

	n.neighbors = make([]uint32, maxNeighbors)
	for i := maxNeighbors - 1; i >= 0; i-- {
		n.neighbors[i] = heap.Pop(pruned).(*candidate).node
	}
}

// squaredL2 returns the squared L2 distance between two equal-length vectors.
func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
