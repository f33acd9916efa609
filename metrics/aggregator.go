// Package metrics captures before/after performance snapshots and turns them
// into optimization results with threshold-based recommendations.
//
// All derived rates and averages are recomputed from monotonically
// accumulated raw counters; nothing in this package drifts through repeated
// smoothing and nothing is randomized. Counters reset only via Reset.
package metrics

import (
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is an immutable bundle of counters at one instant.
type Snapshot struct {
	Timestamp time.Time

	SearchCount      int64
	AvgSearchLatency time.Duration

	OptimizeCount    int64
	OptimizeFailures int64
	TaskFailures     int64

	CacheHitRate  float64
	CacheMissRate float64
	CacheSize     int
	CacheBytes    int64

	IndexSize int

	MemoryBytes      uint64 // process RSS, heap alloc when RSS is unavailable
	MemorySavedBytes int64  // accumulated quantization savings
}

// Recommendation is one threshold rule that fired against a snapshot.
type Recommendation struct {
	Priority int // lower fires first in the returned slice
	Code     string
	Message  string
}

// Result is the diff of two snapshots.
//
// ImprovementPercent is the average of the search-latency and memory-usage
// percentage changes. Regressions produce negative values; they are not
// clamped so callers can detect them.
type Result struct {
	ImprovementPercent float64
	LatencyChangePct   float64
	MemoryChangePct    float64
	MemorySavings      int64
	Recommendations    []Recommendation
}

// Aggregator accumulates raw counters and produces snapshots and diffs.
type Aggregator struct {
	searchCount atomic.Int64
	searchNanos atomic.Int64

	optimizeCount    atomic.Int64
	optimizeFailures atomic.Int64
	taskFailures     atomic.Int64
	memorySaved      atomic.Int64

	mu            sync.Mutex
	cacheHitRate  float64
	cacheMissRate float64
	cacheSize     int
	cacheBytes    int64
	indexSize     int

	proc *process.Process
}

// NewAggregator creates an aggregator bound to the current process for
// memory readings.
func NewAggregator() *Aggregator {
	a := &Aggregator{}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		a.proc = p
	}
	return a
}

// RecordSearch accumulates one search latency observation.
func (a *Aggregator) RecordSearch(d time.Duration) {
	a.searchCount.Add(1)
	a.searchNanos.Add(d.Nanoseconds())
}

// RecordOptimize accumulates one storage-optimization outcome.
func (a *Aggregator) RecordOptimize(d time.Duration, success bool) {
	a.optimizeCount.Add(1)
	if !success {
		a.optimizeFailures.Add(1)
	}
}

// RecordTaskFailure counts a failed background sub-step. The failure stays
// isolated to its task; this counter only feeds recommendations.
func (a *Aggregator) RecordTaskFailure() {
	a.taskFailures.Add(1)
}

// RecordMemorySavings accumulates bytes saved by quantization/compression.
func (a *Aggregator) RecordMemorySavings(n int64) {
	a.memorySaved.Add(n)
}

// SetCacheGauges publishes the latest cache statistics.
func (a *Aggregator) SetCacheGauges(hitRate, missRate float64, size int, sizeBytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cacheHitRate = hitRate
	a.cacheMissRate = missRate
	a.cacheSize = size
	a.cacheBytes = sizeBytes
}

// SetIndexGauges publishes the latest index size.
func (a *Aggregator) SetIndexGauges(size int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.indexSize = size
}

// Snapshot captures the current counters. It never mutates state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	hitRate, missRate := a.cacheHitRate, a.cacheMissRate
	cacheSize, cacheBytes := a.cacheSize, a.cacheBytes
	indexSize := a.indexSize
	a.mu.Unlock()

	s := Snapshot{
		Timestamp:        time.Now(),
		SearchCount:      a.searchCount.Load(),
		OptimizeCount:    a.optimizeCount.Load(),
		OptimizeFailures: a.optimizeFailures.Load(),
		TaskFailures:     a.taskFailures.Load(),
		CacheHitRate:     hitRate,
		CacheMissRate:    missRate,
		CacheSize:        cacheSize,
		CacheBytes:       cacheBytes,
		IndexSize:        indexSize,
		MemoryBytes:      a.memoryBytes(),
		MemorySavedBytes: a.memorySaved.Load(),
	}
	if s.SearchCount > 0 {
		s.AvgSearchLatency = time.Duration(a.searchNanos.Load() / s.SearchCount)
	}
	return s
}

// Diff computes the optimization result between two snapshots and evaluates
// the recommendation rules against the after snapshot.
func (a *Aggregator) Diff(before, after Snapshot) Result {
	r := Result{
		LatencyChangePct: pctImprovement(float64(before.AvgSearchLatency), float64(after.AvgSearchLatency)),
		MemoryChangePct:  pctImprovement(float64(before.MemoryBytes), float64(after.MemoryBytes)),
		MemorySavings:    int64(before.MemoryBytes) - int64(after.MemoryBytes),
	}
	r.ImprovementPercent = (r.LatencyChangePct + r.MemoryChangePct) / 2
	r.Recommendations = Recommend(after)
	return r
}

// Reset zeroes all counters and gauges.
func (a *Aggregator) Reset() {
	a.searchCount.Store(0)
	a.searchNanos.Store(0)
	a.optimizeCount.Store(0)
	a.optimizeFailures.Store(0)
	a.taskFailures.Store(0)
	a.memorySaved.Store(0)

	a.mu.Lock()
	a.cacheHitRate = 0
	a.cacheMissRate = 0
	a.cacheSize = 0
	a.cacheBytes = 0
	a.indexSize = 0
	a.mu.Unlock()
}

// pctImprovement returns the percentage by which after improved over before;
// negative when after regressed. A zero baseline yields 0.
func pctImprovement(before, after float64) float64 {
	if before == 0 {
		return 0
	}
	return (before - after) / before * 100
}

func (a *Aggregator) memoryBytes() uint64 {
	if a.proc != nil {
		if info, err := a.proc.MemoryInfo(); err == nil && info != nil {
			return info.RSS
		}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Thresholds for the recommendation rules.
const (
	lowHitRate        = 0.5
	slowSearch        = 5 * time.Millisecond
	highFailureRatio  = 0.1
	minSavingsPerItem = 64 // bytes; below this, compression is not pulling its weight
)

type rule struct {
	priority int
	code     string
	message  string
	fires    func(s Snapshot) bool
}

var rules = []rule{
	{
		priority: 1,
		code:     "enable-compression",
		message:  "memory savings are low relative to stored entries; enable quantization or a payload compressor",
		fires: func(s Snapshot) bool {
			return s.OptimizeCount > 0 && s.CacheSize > 0 &&
				s.MemorySavedBytes/int64(s.CacheSize) < minSavingsPerItem
		},
	},
	{
		priority: 2,
		code:     "grow-cache",
		message:  "cache hit rate is below 50%; increase cache capacity or entry TTL",
		fires: func(s Snapshot) bool {
			return s.CacheHitRate < lowHitRate && s.SearchCount > 0
		},
	},
	{
		priority: 3,
		code:     "tune-search",
		message:  "average search latency is high; lower efSearch or reduce the vector dimension",
		fires: func(s Snapshot) bool {
			return s.AvgSearchLatency > slowSearch
		},
	},
	{
		priority: 4,
		code:     "inspect-tasks",
		message:  "background task failure ratio exceeds 10%; inspect task errors and retry with backoff",
		fires: func(s Snapshot) bool {
			return s.OptimizeCount > 0 &&
				float64(s.TaskFailures)/float64(s.OptimizeCount) > highFailureRatio
		},
	},
}

// Recommend evaluates every rule against s. Multiple rules may fire; the
// result is ordered by priority.
func Recommend(s Snapshot) []Recommendation {
	var out []Recommendation
	for _, r := range rules {
		if r.fires(s) {
			out = append(out, Recommendation{Priority: r.priority, Code: r.code, Message: r.message})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
