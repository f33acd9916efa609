package optistore

import (
	"log/slog"

	"github.com/optistore/optistore/backingstore"
	"github.com/optistore/optistore/cache"
	"github.com/optistore/optistore/index"
	"github.com/optistore/optistore/quantization"
	"github.com/optistore/optistore/resource"
)

// VectorFunc derives the feature vector a policy payload is indexed under.
// It must be deterministic for identical input.
type VectorFunc func(policyID string, payload []byte) []float32

type options struct {
	cacheEnabled bool
	cacheOptions []func(o *cache.Options)

	quantizationEnabled bool
	quantizationBits    int
	accuracyThreshold   float64
	compressor          quantization.Compressor

	indexEnabled bool
	indexOptions []func(o *index.Options)

	numWorkers int
	queueLimit int

	resources resource.Config

	store      backingstore.Store
	vectorFunc VectorFunc
	logger     *Logger
}

// Option configures an Optimizer at construction.
type Option func(*options)

// WithCacheOptions tunes the hot-entry cache (capacity, eviction policy,
// default TTL, sweep interval).
func WithCacheOptions(optFns ...func(o *cache.Options)) Option {
	return func(o *options) {
		o.cacheOptions = append(o.cacheOptions, optFns...)
	}
}

// WithoutCache disables the cache layer. Queries always hit the index and
// policy reads always hit the backing store.
func WithoutCache() Option {
	return func(o *options) {
		o.cacheEnabled = false
	}
}

// WithQuantizationBits sets the bit-width payloads are quantized at.
// Values outside {4, 8, 16, 32} are clamped to the next larger width.
func WithQuantizationBits(bits int) Option {
	return func(o *options) {
		o.quantizationBits = quantization.ClampBits(bits)
	}
}

// WithAccuracyThreshold bounds the tolerated quantization quality loss.
// A pass whose measured loss exceeds the bound degrades instead of storing
// the lossy form. 0 disables the check.
func WithAccuracyThreshold(threshold float64) Option {
	return func(o *options) {
		o.accuracyThreshold = threshold
	}
}

// WithoutQuantization disables lossy payload compression. Payloads are
// cached and synced verbatim (still losslessly compressed if a compressor
// is configured).
func WithoutQuantization() Option {
	return func(o *options) {
		o.quantizationEnabled = false
	}
}

// WithCompressor sets the lossless compressor applied to payload blobs.
// Pass nil to disable lossless compression.
func WithCompressor(c quantization.Compressor) Option {
	return func(o *options) {
		o.compressor = c
	}
}

// WithIndexOptions tunes the similarity index (M, efConstruction, efSearch,
// dimension).
func WithIndexOptions(optFns ...func(o *index.Options)) Option {
	return func(o *options) {
		o.indexOptions = append(o.indexOptions, optFns...)
	}
}

// WithoutIndex disables the similarity index. OptimizeQuery falls back to
// cache-only lookups.
func WithoutIndex() Option {
	return func(o *options) {
		o.indexEnabled = false
	}
}

// WithWorkers sets the number of background workers. n <= 0 defaults to
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.numWorkers = n
	}
}

// WithQueueLimit bounds the pending task queue. Submissions beyond the limit
// fail with ErrCapacityExceeded instead of blocking.
func WithQueueLimit(n int) Option {
	return func(o *options) {
		o.queueLimit = n
	}
}

// WithResourceLimits sets the shared memory, background-job and sync-IO
// limits.
func WithResourceLimits(cfg resource.Config) Option {
	return func(o *options) {
		o.resources = cfg
	}
}

// WithBackingStore sets the durable store cached policies are synced to.
// Without one, optimized payloads live only in the cache and index.
func WithBackingStore(s backingstore.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithVectorFunc sets the function deriving index vectors from payloads.
func WithVectorFunc(fn VectorFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.vectorFunc = fn
		}
	}
}

// WithLogger configures structured logging for operations.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		cacheEnabled:        true,
		quantizationEnabled: true,
		quantizationBits:    8,
		compressor:          quantization.S2Compressor{},
		indexEnabled:        true,
		vectorFunc:          defaultVectorFunc,
		logger:              NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// defaultVectorFunc folds the payload byte histogram into a fixed-width
// feature vector. It is deterministic and cheap; callers with real policy
// embeddings should supply their own VectorFunc.
func defaultVectorFunc(_ string, payload []byte) []float32 {
	const dim = 128

	vec := make([]float32, dim)
	if len(payload) == 0 {
		return vec
	}
	for i, b := range payload {
		vec[(int(b)+i)%dim]++
	}
	norm := float32(len(payload))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
