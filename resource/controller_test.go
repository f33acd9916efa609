package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimit(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	assert.True(t, c.TryAcquireMemory(60))
	assert.True(t, c.TryAcquireMemory(40))
	assert.False(t, c.TryAcquireMemory(1), "limit is exhausted")
	assert.Equal(t, int64(100), c.MemoryUsage())

	c.ReleaseMemory(40)
	assert.True(t, c.TryAcquireMemory(30))
	assert.Equal(t, int64(90), c.MemoryUsage())
}

func TestMemoryUnlimitedTracksUsage(t *testing.T) {
	c := NewController(Config{})

	assert.True(t, c.TryAcquireMemory(1<<40), "no limit configured")
	assert.Equal(t, int64(1<<40), c.MemoryUsage())
	c.ReleaseMemory(1 << 40)
	assert.Equal(t, int64(0), c.MemoryUsage())
}

func TestNilControllerDisablesLimits(t *testing.T) {
	var c *Controller

	assert.True(t, c.TryAcquireMemory(1<<50))
	c.ReleaseMemory(1 << 50)
	assert.Equal(t, int64(0), c.MemoryUsage())
	assert.True(t, c.TryAcquireBackground())
	c.ReleaseBackground()
	assert.NoError(t, c.AcquireIO(context.Background(), 1<<30))
}

func TestBackgroundSlots(t *testing.T) {
	c := NewController(Config{MaxBackgroundJobs: 2})

	require.True(t, c.TryAcquireBackground())
	require.True(t, c.TryAcquireBackground())
	assert.False(t, c.TryAcquireBackground())

	c.ReleaseBackground()
	assert.True(t, c.TryAcquireBackground())
}

func TestIOThrottle(t *testing.T) {
	c := NewController(Config{SyncBytesPerSec: 1000})

	// The first burst fits; the next wait is bounded by the rate.
	require.NoError(t, c.AcquireIO(context.Background(), 1000))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.AcquireIO(ctx, 1000)
	assert.Error(t, err, "a second full-burst acquire cannot complete within 10ms at 1000 B/s")
}
