package cache

import (
	"container/list"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/optistore/optistore/resource"
)

// ErrMemoryLimit is returned by Set when the resource controller denies the
// entry even after eviction freed local capacity.
var ErrMemoryLimit = errors.New("cache: global memory limit exceeded")

// entry is the unit owned exclusively by the store. An entry older than its
// TTL is logically absent even before physical removal.
type entry struct {
	key          string
	value        []byte
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  int64
	sizeBytes    int64
	ttl          time.Duration // 0 = never expires
	seq          uint64        // insertion order, LFU tie-break

	elem    *list.Element // LRU/FIFO
	heapIdx int           // LFU
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) > e.ttl
}

// Stats is a read-only view of the store counters. All rates and averages are
// recomputed from raw monotonic counters on every call.
type Stats struct {
	Hits          int64
	Misses        int64
	HitRate       float64
	MissRate      float64
	Evictions     int64
	Expirations   int64
	Size          int
	SizeBytes     int64
	AvgLookupTime time.Duration
}

// Options configures a Store.
type Options struct {
	// MaxEntries bounds the number of entries. Defaults to 1024.
	MaxEntries int

	// Policy selects the eviction policy, fixed at construction.
	Policy Policy

	// DefaultTTL applies to entries stored with ttl <= 0. 0 disables expiry.
	DefaultTTL time.Duration

	// SweepInterval is the period of the background expiry sweep started by
	// StartSweeper. Defaults to 1 minute.
	SweepInterval time.Duration

	// Resources, if set, accounts entry bytes against a global memory limit.
	Resources *resource.Controller
}

// DefaultOptions are the options used for zero values.
var DefaultOptions = Options{
	MaxEntries:    1024,
	Policy:        LRU,
	SweepInterval: time.Minute,
}

// Store is a bounded key/value cache. All mutations are serialized by a
// single lock; Stats uses atomics and never mutates state.
type Store struct {
	mu      sync.Mutex
	opts    Options
	items   map[string]*entry
	order   evictionOrder
	nextSeq uint64

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
	lookups     atomic.Int64
	lookupNanos atomic.Int64
	sizeBytes   atomic.Int64

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a Store. The sweeper is not running until StartSweeper.
func New(optFns ...func(o *Options)) *Store {
	opts := DefaultOptions

	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}

	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultOptions.MaxEntries
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultOptions.SweepInterval
	}

	return &Store{
		opts:  opts,
		items: make(map[string]*entry),
		order: newEvictionOrder(opts.Policy),
	}
}

// Get returns the value stored under key. An expired entry is removed and
// reported as a miss.
func (s *Store) Get(key string) ([]byte, bool) {
	start := time.Now()
	defer func() {
		s.lookups.Add(1)
		s.lookupNanos.Add(time.Since(start).Nanoseconds())
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		s.misses.Add(1)
		return nil, false
	}

	now := time.Now()
	if e.expired(now) {
		s.removeLocked(e)
		s.expirations.Add(1)
		s.misses.Add(1)
		return nil, false
	}

	e.lastAccessed = now
	e.accessCount++
	s.order.touch(e)
	s.hits.Add(1)

	return e.value, true
}

// Set stores value under key. If ttl <= 0 the default TTL applies. At
// capacity exactly one victim is evicted per insert; the loop only runs
// longer when the capacity was shrunk below the current size via SetCapacity.
func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.opts.DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	size := int64(len(value))

	if e, ok := s.items[key]; ok {
		delta := size - e.sizeBytes
		if delta > 0 && !s.opts.Resources.TryAcquireMemory(delta) {
			return ErrMemoryLimit
		}
		if delta < 0 {
			s.opts.Resources.ReleaseMemory(-delta)
		}

		e.value = value
		e.sizeBytes = size
		e.createdAt = now
		e.lastAccessed = now
		e.accessCount++
		e.ttl = ttl
		s.sizeBytes.Add(delta)
		s.order.touch(e)
		return nil
	}

	for len(s.items) >= s.opts.MaxEntries {
		if !s.evictOneLocked() {
			break
		}
	}

	if !s.opts.Resources.TryAcquireMemory(size) {
		// Free up cold entries before giving up.
		acquired := false
		for len(s.items) > 0 {
			if !s.evictOneLocked() {
				break
			}
			if s.opts.Resources.TryAcquireMemory(size) {
				acquired = true
				break
			}
		}
		if !acquired {
			return ErrMemoryLimit
		}
	}

	s.nextSeq++
	e := &entry{
		key:          key,
		value:        value,
		createdAt:    now,
		lastAccessed: now,
		accessCount:  1,
		sizeBytes:    size,
		ttl:          ttl,
		seq:          s.nextSeq,
		heapIdx:      -1,
	}
	s.items[key] = e
	s.order.add(e)
	s.sizeBytes.Add(size)

	return nil
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return false
	}
	s.removeLocked(e)
	return true
}

// Clear removes all entries. Counters are not reset.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opts.Resources.ReleaseMemory(s.sizeBytes.Load())
	s.items = make(map[string]*entry)
	s.order.clear()
	s.sizeBytes.Store(0)
}

// SetCapacity changes the entry bound. Shrinking below the current size takes
// effect on the next insert, which evicts repeatedly until within bounds.
func (s *Store) SetCapacity(maxEntries int) {
	if maxEntries <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.MaxEntries = maxEntries
}

// Len returns the number of physically present entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Stats returns a consistent snapshot of the counters. It never mutates the
// store: calling it twice with no intervening operation returns identical
// values.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	size := len(s.items)
	s.mu.Unlock()

	hits := s.hits.Load()
	misses := s.misses.Load()
	lookups := s.lookups.Load()

	st := Stats{
		Hits:        hits,
		Misses:      misses,
		Evictions:   s.evictions.Load(),
		Expirations: s.expirations.Load(),
		Size:        size,
		SizeBytes:   s.sizeBytes.Load(),
	}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
		st.MissRate = float64(misses) / float64(total)
	}
	if lookups > 0 {
		st.AvgLookupTime = time.Duration(s.lookupNanos.Load() / lookups)
	}
	return st
}

// StartSweeper launches the periodic expiry sweep. It is idempotent per
// store lifetime and must be paired with Close.
func (s *Store) StartSweeper() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweepStop != nil {
		return
	}
	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})

	go s.sweepLoop(s.sweepStop, s.sweepDone)
}

// Close stops the sweeper, if running, and waits for it to exit.
func (s *Store) Close() error {
	s.mu.Lock()
	stop, done := s.sweepStop, s.sweepDone
	s.sweepStop = nil
	s.sweepDone = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func (s *Store) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !s.opts.Resources.TryAcquireBackground() {
				continue
			}
			s.sweep()
			s.opts.Resources.ReleaseBackground()
		}
	}
}

// sweep reclaims expired entries without requiring a read. It uses the same
// locked removal path as Delete.
func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var expired []*entry
	for _, e := range s.items {
		if e.expired(now) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		s.removeLocked(e)
		s.expirations.Add(1)
	}
}

func (s *Store) evictOneLocked() bool {
	v := s.order.victim()
	if v == nil {
		return false
	}
	s.removeLocked(v)
	s.evictions.Add(1)
	return true
}

func (s *Store) removeLocked(e *entry) {
	s.order.remove(e)
	delete(s.items, e.key)
	s.sizeBytes.Add(-e.sizeBytes)
	s.opts.Resources.ReleaseMemory(e.sizeBytes)
}
