package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAndWait(t *testing.T) {
	p := New(2, 0)
	defer p.Shutdown(true)

	h, err := p.Submit(context.Background(), "compute", func(ctx context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)
	assert.Equal(t, "compute", h.Kind)

	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, TaskDone, h.State())
	assert.Equal(t, 42, h.Value())
	assert.NoError(t, h.Err())
}

func TestConcurrencyBoundedByWorkers(t *testing.T) {
	const workers = 3
	const tasks = 12

	p := New(workers, tasks)
	defer p.Shutdown(true)

	var current, peak atomic.Int64
	var wg sync.WaitGroup

	wg.Add(tasks)
	for i := 0; i < tasks; i++ {
		_, err := p.Submit(context.Background(), "t", func(ctx context.Context) (any, error) {
			defer wg.Done()

			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil, nil
		})
		require.NoError(t, err)
	}

	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(workers))
	assert.Greater(t, peak.Load(), int64(0))
}

func TestSubmitNeverBlocks(t *testing.T) {
	p := New(1, 2)
	defer p.Shutdown(false)

	block := make(chan struct{})
	defer close(block)

	// Occupy the single worker.
	_, err := p.Submit(context.Background(), "blocker", func(ctx context.Context) (any, error) {
		<-block
		return nil, nil
	})
	require.NoError(t, err)

	// Fill the queue; the dispatcher may have pulled one task already, so
	// submit until the limit reports full.
	deadline := time.After(time.Second)
	for {
		_, err := p.Submit(context.Background(), "filler", func(ctx context.Context) (any, error) {
			<-block
			return nil, nil
		})
		if errors.Is(err, ErrQueueFull) {
			break
		}
		require.NoError(t, err)
		select {
		case <-deadline:
			t.Fatal("queue never filled")
		default:
		}
	}
}

func TestTaskFailureIsolated(t *testing.T) {
	p := New(2, 0)
	defer p.Shutdown(true)

	boom := errors.New("boom")

	bad, err := p.Submit(context.Background(), "bad", func(ctx context.Context) (any, error) {
		return nil, boom
	})
	require.NoError(t, err)

	good, err := p.Submit(context.Background(), "good", func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	assert.ErrorIs(t, bad.Wait(context.Background()), boom)
	assert.Equal(t, TaskFailed, bad.State())

	require.NoError(t, good.Wait(context.Background()))
	assert.Equal(t, TaskDone, good.State())
	assert.Equal(t, "ok", good.Value())
}

func TestPanicIsolated(t *testing.T) {
	p := New(1, 0)
	defer p.Shutdown(true)

	h, err := p.Submit(context.Background(), "panics", func(ctx context.Context) (any, error) {
		panic("kaboom")
	})
	require.NoError(t, err)

	<-h.Done()
	assert.Equal(t, TaskFailed, h.State())
	assert.ErrorContains(t, h.Err(), "kaboom")

	// The worker survives to run the next task.
	next, err := p.Submit(context.Background(), "next", func(ctx context.Context) (any, error) {
		return 1, nil
	})
	require.NoError(t, err)
	require.NoError(t, next.Wait(context.Background()))
}

func TestShutdownDrainRunsQueuedTasks(t *testing.T) {
	p := New(1, 0)

	var ran atomic.Int64
	release := make(chan struct{})

	_, err := p.Submit(context.Background(), "slow", func(ctx context.Context) (any, error) {
		<-release
		ran.Add(1)
		return nil, nil
	})
	require.NoError(t, err)

	var handles []*Handle
	for i := 0; i < 5; i++ {
		h, err := p.Submit(context.Background(), "queued", func(ctx context.Context) (any, error) {
			ran.Add(1)
			return nil, nil
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	close(release)
	p.Shutdown(true)

	assert.Equal(t, int64(6), ran.Load(), "drain must run every queued task")
	for _, h := range handles {
		assert.Equal(t, TaskDone, h.State())
	}
}

func TestShutdownNoDrainCancelsQueued(t *testing.T) {
	p := New(1, 0)

	started := make(chan struct{})
	release := make(chan struct{})

	inflight, err := p.Submit(context.Background(), "inflight", func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return "finished", nil
	})
	require.NoError(t, err)
	<-started

	var queued []*Handle
	for i := 0; i < 4; i++ {
		h, err := p.Submit(context.Background(), "queued", func(ctx context.Context) (any, error) {
			return nil, nil
		})
		require.NoError(t, err)
		queued = append(queued, h)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	p.Shutdown(false)

	// The in-flight task completed; queued-but-unstarted tasks resolved
	// with cancellation. The dispatcher may have handed at most one queued
	// task to the worker before shutdown.
	assert.Equal(t, TaskDone, inflight.State())
	assert.Equal(t, "finished", inflight.Value())

	cancelled := 0
	for _, h := range queued {
		<-h.Done()
		if h.State() == TaskCancelled {
			cancelled++
			assert.ErrorIs(t, h.Err(), ErrTaskCancelled)
		}
	}
	assert.GreaterOrEqual(t, cancelled, 3)
}

func TestSubmitAfterShutdown(t *testing.T) {
	p := New(1, 0)
	p.Shutdown(true)

	_, err := p.Submit(context.Background(), "late", func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWaitHonorsContext(t *testing.T) {
	p := New(1, 0)
	defer p.Shutdown(false)

	release := make(chan struct{})
	defer close(release)

	h, err := p.Submit(context.Background(), "slow", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)
}

func TestTaskStateString(t *testing.T) {
	assert.Equal(t, "pending", TaskPending.String())
	assert.Equal(t, "running", TaskRunning.String())
	assert.Equal(t, "done", TaskDone.String())
	assert.Equal(t, "failed", TaskFailed.String())
	assert.Equal(t, "cancelled", TaskCancelled.String())
}
