package optistore_test

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optistore/optistore"
	"github.com/optistore/optistore/backingstore"
	"github.com/optistore/optistore/cache"
)

func floatPayload(n int, seed float64) []byte {
	payload := make([]byte, n*4)
	for i := 0; i < n; i++ {
		v := float32(math.Sin(seed * float64(i+1)))
		binary.LittleEndian.PutUint32(payload[i*4:], math.Float32bits(v))
	}
	return payload
}

func openOptimizer(t *testing.T, optFns ...optistore.Option) *optistore.Optimizer {
	t.Helper()

	opt := optistore.New(optFns...)
	require.NoError(t, opt.Open())
	t.Cleanup(func() {
		_ = opt.Close(context.Background(), true)
	})
	return opt
}

func TestLifecycleErrors(t *testing.T) {
	ctx := context.Background()

	opt := optistore.New()
	_, err := opt.OptimizeStorage(ctx, "p", nil)
	assert.ErrorIs(t, err, optistore.ErrNotInitialized)
	_, err = opt.OptimizeQuery(ctx, nil, 1)
	assert.ErrorIs(t, err, optistore.ErrNotInitialized)
	assert.ErrorIs(t, opt.Close(ctx, true), optistore.ErrNotInitialized)

	require.NoError(t, opt.Open())
	require.NoError(t, opt.Open(), "Open is idempotent once ready")

	require.NoError(t, opt.Close(ctx, true))
	require.NoError(t, opt.Close(ctx, true), "Close is idempotent")

	_, err = opt.OptimizeStorage(ctx, "p", nil)
	assert.ErrorIs(t, err, optistore.ErrClosed)
	assert.ErrorIs(t, opt.Open(), optistore.ErrClosed)
}

func TestOptimizeStorageHappyPath(t *testing.T) {
	ctx := context.Background()
	store := backingstore.NewMemory()
	opt := openOptimizer(t,
		optistore.WithBackingStore(store),
		optistore.WithQuantizationBits(8),
	)

	payload := floatPayload(256, 0.7)
	result, err := opt.OptimizeStorage(ctx, "policy-1", payload)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.NoError(t, result.Err)
	assert.Equal(t, "policy-1", result.PolicyID)
	assert.Greater(t, result.CompressionRatio, 1.0)
	assert.Greater(t, result.Elapsed, time.Duration(0))
	assert.Equal(t, 1, opt.IndexLen())

	// The backing-store sync runs on the pool; wait for it.
	assert.Eventually(t, func() bool {
		_, err := store.Get(ctx, "policy-1")
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestFetchPolicyReconstructs(t *testing.T) {
	ctx := context.Background()
	opt := openOptimizer(t, optistore.WithQuantizationBits(16))

	payload := floatPayload(64, 1.3)
	_, err := opt.OptimizeStorage(ctx, "p", payload)
	require.NoError(t, err)

	got, err := opt.FetchPolicy(ctx, "p")
	require.NoError(t, err)
	require.Len(t, got, len(payload))

	// 16-bit quantization reconstructs within a tight bound.
	for i := 0; i < len(payload)/4; i++ {
		want := math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
		have := math.Float32frombits(binary.LittleEndian.Uint32(got[i*4:]))
		assert.InDelta(t, want, have, 1e-3)
	}
}

func TestFetchPolicyFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	store := backingstore.NewMemory()
	opt := openOptimizer(t, optistore.WithBackingStore(store))

	payload := floatPayload(32, 2.1)
	_, err := opt.OptimizeStorage(ctx, "p", payload)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := store.Get(ctx, "p")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	// Drop the cached copy; the fetch must hit the backing store.
	require.NoError(t, opt.DeletePolicy(ctx, "p"))
	_, err = opt.OptimizeStorage(ctx, "other", floatPayload(32, 3.3))
	require.NoError(t, err)

	_, err = opt.FetchPolicy(ctx, "p")
	assert.ErrorIs(t, err, optistore.ErrNotFound, "DeletePolicy removed it everywhere")

	_, err = opt.FetchPolicy(ctx, "missing")
	assert.ErrorIs(t, err, optistore.ErrNotFound)
}

func TestOptimizeStorageDegradesOnAccuracyViolation(t *testing.T) {
	ctx := context.Background()
	opt := openOptimizer(t,
		optistore.WithQuantizationBits(4),
		optistore.WithAccuracyThreshold(1e-12),
	)

	payload := floatPayload(128, 0.9)
	result, err := opt.OptimizeStorage(ctx, "p", payload)
	require.NoError(t, err, "degradation is not an error return")

	assert.False(t, result.Success)
	var accErr *optistore.AccuracyError
	assert.ErrorAs(t, result.Err, &accErr)

	// The payload is still stored, verbatim.
	got, fetchErr := opt.FetchPolicy(ctx, "p")
	require.NoError(t, fetchErr)
	assert.Equal(t, payload, got)
}

func TestOptimizeQueryCachesResults(t *testing.T) {
	ctx := context.Background()
	opt := openOptimizer(t)

	for i := 0; i < 20; i++ {
		_, err := opt.OptimizeStorage(ctx, string(rune('a'+i)), floatPayload(64, float64(i)+0.5))
		require.NoError(t, err)
	}

	query := make([]float32, 128)
	for i := range query {
		query[i] = float32(i) / 128
	}

	first, err := opt.OptimizeQuery(ctx, query, 5)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, optistore.MethodGraph, first.Method)
	assert.NotEmpty(t, first.Results)

	second, err := opt.OptimizeQuery(ctx, query, 5)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, optistore.MethodCache, second.Method)
	assert.Equal(t, first.Results, second.Results)
}

func TestOptimizeQueryWithoutIndex(t *testing.T) {
	ctx := context.Background()
	opt := openOptimizer(t, optistore.WithoutIndex())

	qr, err := opt.OptimizeQuery(ctx, []float32{1, 2, 3}, 5)
	require.NoError(t, err)
	assert.Empty(t, qr.Results)
	assert.Equal(t, optistore.MethodNone, qr.Method)
}

func TestWithoutCacheQueriesAlwaysSearch(t *testing.T) {
	ctx := context.Background()
	opt := openOptimizer(t, optistore.WithoutCache())

	_, err := opt.OptimizeStorage(ctx, "p", floatPayload(64, 0.4))
	require.NoError(t, err)

	query := []float32{0.1, 0.2}
	first, err := opt.OptimizeQuery(ctx, query, 1)
	require.NoError(t, err)
	second, err := opt.OptimizeQuery(ctx, query, 1)
	require.NoError(t, err)

	assert.False(t, first.CacheHit)
	assert.False(t, second.CacheHit)
	assert.Equal(t, optistore.MethodGraph, second.Method)
}

func TestMetricsReflectActivity(t *testing.T) {
	ctx := context.Background()
	opt := openOptimizer(t)

	before := opt.Metrics().Snapshot()

	_, err := opt.OptimizeStorage(ctx, "p", floatPayload(256, 1.1))
	require.NoError(t, err)
	_, err = opt.OptimizeQuery(ctx, []float32{1}, 3)
	require.NoError(t, err)

	after := opt.Metrics().Snapshot()
	assert.Equal(t, before.OptimizeCount+1, after.OptimizeCount)
	assert.Equal(t, before.SearchCount+1, after.SearchCount)
	assert.Greater(t, after.MemorySavedBytes, before.MemorySavedBytes)
	assert.Equal(t, 1, after.IndexSize)
}

func TestCacheStatsExposed(t *testing.T) {
	ctx := context.Background()
	opt := openOptimizer(t, optistore.WithCacheOptions(func(o *cache.Options) {
		o.MaxEntries = 4
	}))

	for i := 0; i < 6; i++ {
		_, err := opt.OptimizeStorage(ctx, string(rune('a'+i)), floatPayload(16, float64(i)+0.2))
		require.NoError(t, err)
	}

	st := opt.CacheStats()
	assert.Equal(t, 4, st.Size)
	assert.Equal(t, int64(2), st.Evictions)
}

func TestCloseNoDrainCancelsQueuedSyncs(t *testing.T) {
	ctx := context.Background()
	store := backingstore.NewMemory()

	opt := optistore.New(
		optistore.WithBackingStore(store),
		optistore.WithWorkers(1),
	)
	require.NoError(t, opt.Open())

	for i := 0; i < 10; i++ {
		_, err := opt.OptimizeStorage(ctx, string(rune('a'+i)), floatPayload(16, float64(i)+0.6))
		require.NoError(t, err)
	}

	require.NoError(t, opt.Close(ctx, false))
	// No assertion on how many syncs landed; the point is Close returns
	// promptly without waiting for the whole queue.
}
