package optistore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optistore/optistore"
	"github.com/optistore/optistore/cache"
)

func TestDefaultProfileSeeded(t *testing.T) {
	opt := optistore.New(optistore.WithQuantizationBits(16))

	reg := opt.Profiles()
	assert.Equal(t, "default", reg.ActiveName())

	p, ok := reg.Get("default")
	require.True(t, ok)
	assert.Equal(t, 16, p.QuantizationBits)
	assert.Equal(t, cache.LRU, p.CachePolicy)
}

func TestProfileOutcomeTracking(t *testing.T) {
	ctx := context.Background()
	opt := openOptimizer(t)

	for i := 0; i < 3; i++ {
		_, err := opt.OptimizeStorage(ctx, "p", floatPayload(32, 0.5))
		require.NoError(t, err)
	}

	p, ok := opt.Profiles().Get("default")
	require.True(t, ok)
	assert.Equal(t, int64(3), p.Uses())
	assert.InDelta(t, 1.0, p.Score(), 1e-9)
}

func TestApplyProfile(t *testing.T) {
	opt := openOptimizer(t)

	opt.Profiles().Register(&optistore.Profile{
		Name:             "aggressive",
		CacheMaxEntries:  8,
		QuantizationBits: 4,
	})

	require.NoError(t, opt.ApplyProfile("aggressive"))
	assert.Equal(t, "aggressive", opt.Profiles().ActiveName())

	assert.Error(t, opt.ApplyProfile("nope"))
	assert.Equal(t, "aggressive", opt.Profiles().ActiveName(), "a failed apply keeps the active profile")
}

func TestSelectBestPrefersHigherScore(t *testing.T) {
	reg := optistore.NewProfileRegistry(&optistore.Profile{Name: "default"})
	reg.Register(&optistore.Profile{Name: "tuned"})

	for i := 0; i < 10; i++ {
		reg.RecordOutcome("default", i%2 == 0) // 50% success
		reg.RecordOutcome("tuned", true)       // 100% success
	}

	assert.Equal(t, "tuned", reg.SelectBest(5))
}

func TestSelectBestIgnoresUnderusedProfiles(t *testing.T) {
	reg := optistore.NewProfileRegistry(&optistore.Profile{Name: "default"})
	reg.Register(&optistore.Profile{Name: "barely-used"})

	reg.RecordOutcome("default", true)
	reg.RecordOutcome("barely-used", true)

	assert.Equal(t, "default", reg.SelectBest(5), "too few observations to switch")
}
