// Package optistore is a performance-optimization layer for learned-policy
// stores.
//
// It composes five cooperating components behind a single facade:
//
//   - Bounded hot-entry cache with LRU/LFU/FIFO eviction and TTL expiry
//   - Lossy payload quantization (4/8/16/32 bit) plus optional lossless
//     compression (S2, LZ4)
//   - Approximate similarity index over policy feature vectors
//   - Bounded background worker pool for backing-store syncs
//   - Metrics aggregator producing before/after snapshots, diffs and
//     threshold-based recommendations
//
// # Quick Start
//
//	opt := optistore.New(
//	    optistore.WithQuantizationBits(8),
//	    optistore.WithCacheOptions(func(o *cache.Options) {
//	        o.MaxEntries = 4096
//	        o.Policy = cache.LRU
//	    }),
//	    optistore.WithBackingStore(backingstore.NewMemory()),
//	)
//	if err := opt.Open(); err != nil {
//	    panic(err)
//	}
//	defer opt.Close(ctx, true)
//
//	result, err := opt.OptimizeStorage(ctx, "policy-42", payload)
//	if err != nil {
//	    panic(err) // lifecycle misuse only
//	}
//	if !result.Success {
//	    log.Printf("degraded: %v", result.Err)
//	}
//
//	qr, _ := opt.OptimizeQuery(ctx, queryVector, 10)
//	for _, hit := range qr.Results {
//	    process(hit.ID, hit.Distance)
//	}
//
// Optimize entry points return an error only on lifecycle misuse
// (ErrNotInitialized, ErrClosed). Everything else degrades: the pass still
// stores the payload and reports what went wrong through the result.
//
// Backing stores are pluggable: in-memory, S3, DynamoDB, MinIO, Redis and
// bbolt adapters live under backingstore/, and backingstore.NewResilient
// adds retries with a circuit breaker around any of them.
package optistore
