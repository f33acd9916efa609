package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes an Aggregator as a prometheus.Collector. Register it
// with a prometheus.Registerer; every scrape takes a fresh snapshot.
type Collector struct {
	agg *Aggregator

	searchTotal      *prometheus.Desc
	searchLatency    *prometheus.Desc
	optimizeTotal    *prometheus.Desc
	optimizeFailures *prometheus.Desc
	taskFailures     *prometheus.Desc
	cacheHitRate     *prometheus.Desc
	cacheSize        *prometheus.Desc
	cacheBytes       *prometheus.Desc
	indexSize        *prometheus.Desc
	memoryBytes      *prometheus.Desc
	memorySaved      *prometheus.Desc
}

// NewCollector creates a Collector over agg.
func NewCollector(agg *Aggregator) *Collector {
	return &Collector{
		agg: agg,
		searchTotal: prometheus.NewDesc(
			"optistore_searches_total", "Total number of index searches.", nil, nil),
		searchLatency: prometheus.NewDesc(
			"optistore_search_latency_avg_seconds", "Average search latency.", nil, nil),
		optimizeTotal: prometheus.NewDesc(
			"optistore_optimizations_total", "Total number of storage optimizations.", nil, nil),
		optimizeFailures: prometheus.NewDesc(
			"optistore_optimization_failures_total", "Storage optimizations that degraded.", nil, nil),
		taskFailures: prometheus.NewDesc(
			"optistore_task_failures_total", "Failed background sub-steps.", nil, nil),
		cacheHitRate: prometheus.NewDesc(
			"optistore_cache_hit_rate", "Cache hit rate in [0,1].", nil, nil),
		cacheSize: prometheus.NewDesc(
			"optistore_cache_entries", "Number of cached entries.", nil, nil),
		cacheBytes: prometheus.NewDesc(
			"optistore_cache_bytes", "Bytes held by the cache.", nil, nil),
		indexSize: prometheus.NewDesc(
			"optistore_index_entries", "Number of live index entries.", nil, nil),
		memoryBytes: prometheus.NewDesc(
			"optistore_memory_bytes", "Process memory usage.", nil, nil),
		memorySaved: prometheus.NewDesc(
			"optistore_memory_saved_bytes_total", "Bytes saved by quantization.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.searchTotal
	ch <- c.searchLatency
	ch <- c.optimizeTotal
	ch <- c.optimizeFailures
	ch <- c.taskFailures
	ch <- c.cacheHitRate
	ch <- c.cacheSize
	ch <- c.cacheBytes
	ch <- c.indexSize
	ch <- c.memoryBytes
	ch <- c.memorySaved
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.agg.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.searchTotal, prometheus.CounterValue, float64(s.SearchCount))
	ch <- prometheus.MustNewConstMetric(c.searchLatency, prometheus.GaugeValue, s.AvgSearchLatency.Seconds())
	ch <- prometheus.MustNewConstMetric(c.optimizeTotal, prometheus.CounterValue, float64(s.OptimizeCount))
	ch <- prometheus.MustNewConstMetric(c.optimizeFailures, prometheus.CounterValue, float64(s.OptimizeFailures))
	ch <- prometheus.MustNewConstMetric(c.taskFailures, prometheus.CounterValue, float64(s.TaskFailures))
	ch <- prometheus.MustNewConstMetric(c.cacheHitRate, prometheus.GaugeValue, s.CacheHitRate)
	ch <- prometheus.MustNewConstMetric(c.cacheSize, prometheus.GaugeValue, float64(s.CacheSize))
	ch <- prometheus.MustNewConstMetric(c.cacheBytes, prometheus.GaugeValue, float64(s.CacheBytes))
	ch <- prometheus.MustNewConstMetric(c.indexSize, prometheus.GaugeValue, float64(s.IndexSize))
	ch <- prometheus.MustNewConstMetric(c.memoryBytes, prometheus.GaugeValue, float64(s.MemoryBytes))
	ch <- prometheus.MustNewConstMetric(c.memorySaved, prometheus.CounterValue, float64(s.MemorySavedBytes))
}
