package optistore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/optistore/optistore/backingstore"
	"github.com/optistore/optistore/cache"
	"github.com/optistore/optistore/index"
	"github.com/optistore/optistore/metrics"
	"github.com/optistore/optistore/quantization"
	"github.com/optistore/optistore/resource"
	"github.com/optistore/optistore/worker"
)

// Lifecycle states. Transitions are one-way:
// Uninitialized -> Ready -> ShuttingDown -> Closed.
const (
	stateUninitialized int32 = iota
	stateReady
	stateShuttingDown
	stateClosed
)

// Query methods reported by QueryResult.
const (
	MethodCache = "cache"
	MethodGraph = "graph"
	MethodNone  = "none"
)

// Optimizer is the performance layer in front of a learned-policy store. It
// composes a bounded cache, a lossy payload codec, an approximate similarity
// index, a background worker pool and a metrics aggregator.
type Optimizer struct {
	opts options

	mu    sync.Mutex // guards lifecycle transitions
	state atomic.Int32
	bits  atomic.Int32 // current quantization bit-width, profile-adjustable

	cache     *cache.Store
	codec     *quantization.Codec
	index     *index.Graph
	pool      *worker.Pool
	agg       *metrics.Aggregator
	store     backingstore.Store
	resources *resource.Controller
	profiles  *ProfileRegistry
	logger    *Logger
}

// New creates an Optimizer. It is not usable until Open.
func New(optFns ...Option) *Optimizer {
	o := &Optimizer{
		opts: applyOptions(optFns),
		agg:  metrics.NewAggregator(),
	}
	o.logger = o.opts.logger
	o.bits.Store(int32(o.opts.quantizationBits))
	o.profiles = NewProfileRegistry(defaultProfile(o.opts))
	return o
}

// Open builds and starts the components, transitioning to Ready. Calling
// Open on a ready optimizer is a no-op; on a closed one it returns ErrClosed.
func (o *Optimizer) Open() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state.Load() {
	case stateReady:
		return nil
	case stateShuttingDown, stateClosed:
		return ErrClosed
	}

	o.resources = resource.NewController(o.opts.resources)

	if o.opts.cacheEnabled {
		cacheOptFns := append([]func(*cache.Options){
			func(co *cache.Options) { co.Resources = o.resources },
		}, o.opts.cacheOptions...)
		o.cache = cache.New(cacheOptFns...)
		o.cache.StartSweeper()
	}

	if o.opts.quantizationEnabled {
		o.codec = quantization.NewCodec(o.opts.accuracyThreshold)
	}

	if o.opts.indexEnabled {
		o.index = index.New(o.opts.indexOptions...)
	}

	o.pool = worker.New(o.opts.numWorkers, o.opts.queueLimit)
	o.store = o.opts.store

	o.state.Store(stateReady)
	o.logger.Info("optimizer ready",
		"cache", o.opts.cacheEnabled,
		"quantization", o.opts.quantizationEnabled,
		"index", o.opts.indexEnabled,
	)
	return nil
}

// Close shuts the optimizer down. With drain=true queued background tasks
// run to completion first; with drain=false queued-but-unstarted tasks are
// cancelled while in-flight tasks still finish. Idempotent.
func (o *Optimizer) Close(ctx context.Context, drain bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state.Load() {
	case stateUninitialized:
		return ErrNotInitialized
	case stateClosed:
		return nil
	}

	start := time.Now()
	o.state.Store(stateShuttingDown)

	o.pool.Shutdown(drain)
	if o.cache != nil {
		_ = o.cache.Close()
	}

	o.state.Store(stateClosed)
	o.logger.LogShutdown(ctx, drain, time.Since(start))
	return nil
}

func (o *Optimizer) checkReady() error {
	switch o.state.Load() {
	case stateUninitialized:
		return ErrNotInitialized
	case stateShuttingDown, stateClosed:
		return ErrClosed
	}
	return nil
}

// StorageResult reports one storage-optimization pass.
//
// Success=false never means the payload was lost: the pass degrades to
// storing the verbatim payload and reports what went wrong via Err and the
// recommendations.
type StorageResult struct {
	PolicyID string

	Before metrics.Snapshot
	After  metrics.Snapshot

	ImprovementPercent float64
	CompressionRatio   float64
	MemorySavings      int64
	Elapsed            time.Duration

	Success         bool
	Err             error
	Recommendations []metrics.Recommendation
}

// OptimizeStorage runs the storage pipeline for one policy payload:
// quantize, index, cache, and queue a backing-store sync. It returns an
// error only on lifecycle misuse; degraded passes report through the result.
func (o *Optimizer) OptimizeStorage(ctx context.Context, policyID string, payload []byte) (*StorageResult, error) {
	if err := o.checkReady(); err != nil {
		return nil, err
	}

	start := time.Now()
	before := o.agg.Snapshot()

	result := &StorageResult{
		PolicyID:         policyID,
		Before:           before,
		Success:          true,
		CompressionRatio: 1,
	}

	blob, ratio, err := o.encodePolicy(payload)
	if err != nil {
		// Lossy form rejected; fall back to the verbatim payload.
		blob, _, _ = o.encodeRaw(payload)
		result.Success = false
		result.Err = err
	} else {
		result.CompressionRatio = ratio
		if saved := len(payload) - len(blob); saved > 0 {
			o.agg.RecordMemorySavings(int64(saved))
		}
	}

	if o.index != nil {
		o.index.Upsert(policyID, o.opts.vectorFunc(policyID, payload))
	}

	if o.cache != nil {
		if cerr := o.cache.Set(policyKey(policyID), blob, 0); cerr != nil {
			result.Success = false
			result.Err = translateError(cerr)
		}
	}

	if o.store != nil {
		if serr := o.syncToStore(ctx, policyID, blob); serr != nil {
			result.Success = false
			result.Err = translateError(serr)
		}
	}

	o.publishGauges()
	o.agg.RecordOptimize(time.Since(start), result.Success)
	o.profiles.RecordOutcome(o.profiles.ActiveName(), result.Success)

	after := o.agg.Snapshot()
	diff := o.agg.Diff(before, after)

	result.After = after
	result.ImprovementPercent = diff.ImprovementPercent
	result.MemorySavings = diff.MemorySavings
	result.Recommendations = diff.Recommendations
	result.Elapsed = time.Since(start)

	o.logger.LogOptimizeStorage(ctx, policyID, result.CompressionRatio, result.Elapsed, result.Err)
	return result, nil
}

// syncToStore queues a backing-store write on the pool. The task outlives
// the caller's context on purpose; only shutdown stops it.
func (o *Optimizer) syncToStore(ctx context.Context, policyID string, blob []byte) error {
	taskCtx := context.WithoutCancel(ctx)

	h, err := o.pool.Submit(taskCtx, "store-sync", func(ctx context.Context) (any, error) {
		return nil, o.store.Put(ctx, policyID, blob)
	})
	if err != nil {
		o.agg.RecordTaskFailure()
		return err
	}

	go func() {
		<-h.Done()
		if terr := h.Err(); terr != nil {
			o.agg.RecordTaskFailure()
			o.logger.LogSync(taskCtx, policyID, len(blob), &TaskError{TaskID: h.ID, Kind: h.Kind, cause: terr})
		} else {
			o.logger.LogSync(taskCtx, policyID, len(blob), nil)
		}
	}()
	return nil
}

// QueryResult reports one optimized similarity query.
type QueryResult struct {
	Results  []index.Result
	Elapsed  time.Duration
	Method   string
	CacheHit bool
}

// OptimizeQuery answers a similarity query, serving repeated queries from
// the cache and falling back to a graph search on miss.
func (o *Optimizer) OptimizeQuery(ctx context.Context, query []float32, k int) (*QueryResult, error) {
	if err := o.checkReady(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &QueryResult{Method: MethodNone}

	key := queryKey(query, k)

	if o.cache != nil {
		if blob, ok := o.cache.Get(key); ok {
			var cached []index.Result
			if jerr := json.Unmarshal(blob, &cached); jerr == nil {
				result.Results = cached
				result.Method = MethodCache
				result.CacheHit = true
			}
		}
	}

	if !result.CacheHit && o.index != nil {
		result.Results = o.index.Search(query, k)
		result.Method = MethodGraph

		if o.cache != nil {
			if blob, jerr := json.Marshal(result.Results); jerr == nil {
				// Cache failures here only cost the next query a search.
				_ = o.cache.Set(key, blob, 0)
			}
		}
	}

	result.Elapsed = time.Since(start)
	o.agg.RecordSearch(result.Elapsed)
	o.publishGauges()
	o.logger.LogOptimizeQuery(ctx, k, len(result.Results), result.Method, result.Elapsed)
	return result, nil
}

// FetchPolicy returns the stored payload for policyID, reconstructing it
// from its optimized form. For quantized payloads the reconstruction is
// lossy. Cache first, then the backing store.
func (o *Optimizer) FetchPolicy(ctx context.Context, policyID string) ([]byte, error) {
	if err := o.checkReady(); err != nil {
		return nil, err
	}

	if o.cache != nil {
		if blob, ok := o.cache.Get(policyKey(policyID)); ok {
			return o.decodePolicy(blob)
		}
	}

	if o.store == nil {
		return nil, ErrNotFound
	}

	blob, err := o.store.Get(ctx, policyID)
	if err != nil {
		if errors.Is(err, backingstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if o.cache != nil {
		_ = o.cache.Set(policyKey(policyID), blob, 0)
	}
	return o.decodePolicy(blob)
}

// DeletePolicy removes policyID from the cache, the index and the backing
// store. Deleting an absent policy is a no-op.
func (o *Optimizer) DeletePolicy(ctx context.Context, policyID string) error {
	if err := o.checkReady(); err != nil {
		return err
	}

	if o.cache != nil {
		o.cache.Delete(policyKey(policyID))
	}
	if o.index != nil {
		o.index.Remove(policyID)
	}
	if o.store != nil {
		if err := o.store.Delete(ctx, policyID); err != nil {
			return err
		}
	}
	o.publishGauges()
	return nil
}

// Metrics exposes the aggregator for snapshots, diffs and Prometheus
// collection.
func (o *Optimizer) Metrics() *metrics.Aggregator { return o.agg }

// CacheStats returns the cache counters, or the zero value when the cache is
// disabled.
func (o *Optimizer) CacheStats() cache.Stats {
	if o.cache == nil {
		return cache.Stats{}
	}
	return o.cache.Stats()
}

// IndexLen returns the number of live index entries.
func (o *Optimizer) IndexLen() int {
	if o.index == nil {
		return 0
	}
	return o.index.Len()
}

// Profiles exposes the optimization profile registry.
func (o *Optimizer) Profiles() *ProfileRegistry { return o.profiles }

// ApplyProfile activates the named profile, adjusting the mutable knobs
// (cache capacity, quantization bit-width).
func (o *Optimizer) ApplyProfile(name string) error {
	p, ok := o.profiles.Get(name)
	if !ok {
		return fmt.Errorf("unknown profile %q", name)
	}

	if o.cache != nil && p.CacheMaxEntries > 0 {
		o.cache.SetCapacity(p.CacheMaxEntries)
	}
	if p.QuantizationBits > 0 {
		o.bits.Store(int32(quantization.ClampBits(p.QuantizationBits)))
	}
	o.profiles.SetActive(name)
	o.logger.Info("profile applied", "profile", name)
	return nil
}

func (o *Optimizer) publishGauges() {
	if o.cache != nil {
		st := o.cache.Stats()
		o.agg.SetCacheGauges(st.HitRate, st.MissRate, st.Size, st.SizeBytes)
	}
	if o.index != nil {
		o.agg.SetIndexGauges(o.index.Len())
	}
}

// Blob envelope: [flags:1][bits:1][origSize:uint32] + body. flags bit 0 set
// when the body is a quantized encoding, bit 1 when it is losslessly
// compressed.
const (
	blobHeaderSize     = 6
	blobFlagQuantized  = 1 << 0
	blobFlagCompressed = 1 << 1
)

func (o *Optimizer) encodePolicy(payload []byte) ([]byte, float64, error) {
	if o.codec == nil {
		return o.encodeRaw(payload)
	}

	q, err := o.codec.Quantize(payload, int(o.bits.Load()))
	if err != nil {
		return nil, 1, err
	}

	body := quantization.Encode(q)
	flags := byte(blobFlagQuantized)
	if o.opts.compressor != nil {
		if compressed, cerr := o.opts.compressor.Compress(body); cerr == nil && len(compressed) < len(body) {
			body = compressed
			flags |= blobFlagCompressed
		}
	}

	blob := make([]byte, blobHeaderSize+len(body))
	blob[0] = flags
	blob[1] = byte(q.BitsPerValue)
	binary.LittleEndian.PutUint32(blob[2:6], uint32(len(payload)))
	copy(blob[blobHeaderSize:], body)

	ratio := q.Ratio
	return blob, ratio, nil
}

func (o *Optimizer) encodeRaw(payload []byte) ([]byte, float64, error) {
	body := payload
	var flags byte
	if o.opts.compressor != nil {
		if compressed, cerr := o.opts.compressor.Compress(payload); cerr == nil && len(compressed) < len(payload) {
			body = compressed
			flags |= blobFlagCompressed
		}
	}

	blob := make([]byte, blobHeaderSize+len(body))
	blob[0] = flags
	blob[1] = 32
	binary.LittleEndian.PutUint32(blob[2:6], uint32(len(payload)))
	copy(blob[blobHeaderSize:], body)
	return blob, 1, nil
}

func (o *Optimizer) decodePolicy(blob []byte) ([]byte, error) {
	if len(blob) < blobHeaderSize {
		return nil, fmt.Errorf("policy blob too short: %d bytes", len(blob))
	}

	flags := blob[0]
	bits := int(blob[1])
	origSize := int(binary.LittleEndian.Uint32(blob[2:6]))
	body := blob[blobHeaderSize:]

	if flags&blobFlagCompressed != 0 {
		if o.opts.compressor == nil {
			return nil, fmt.Errorf("policy blob is compressed but no compressor is configured")
		}
		decompressed, err := o.opts.compressor.Decompress(body)
		if err != nil {
			return nil, err
		}
		body = decompressed
	}

	if flags&blobFlagQuantized == 0 {
		return body, nil
	}

	q, err := quantization.Decode(body, bits, origSize)
	if err != nil {
		return nil, err
	}
	return quantization.Dequantize(q), nil
}

func policyKey(policyID string) string { return "policy/" + policyID }

func queryKey(query []float32, k int) string {
	h := fnv.New64a()
	var buf [4]byte
	for _, v := range query {
		binary.LittleEndian.PutUint32(buf[:], uint32(int32(v*1e4)))
		_, _ = h.Write(buf[:])
	}
	binary.LittleEndian.PutUint32(buf[:], uint32(k))
	_, _ = h.Write(buf[:])
	return fmt.Sprintf("query/%016x", h.Sum64())
}
