// Package worker provides a bounded-concurrency executor for optimization
// sub-steps that run off the caller's path.
//
// Submit never blocks: excess tasks queue up to a configurable depth and
// dispatch is event-driven, triggered by worker completion. A failing task is
// isolated; its error is attached to its own handle and never affects sibling
// tasks or the pool itself.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrPoolClosed is returned by Submit after Shutdown began.
	ErrPoolClosed = errors.New("worker: pool closed")

	// ErrQueueFull is returned by Submit when the pending queue is at its
	// limit. The caller should retry with backoff.
	ErrQueueFull = errors.New("worker: task queue full")

	// ErrTaskCancelled resolves handles of tasks that were queued but never
	// started when the pool shut down without draining.
	ErrTaskCancelled = errors.New("worker: task cancelled")
)

// TaskState is the lifecycle of a submitted task.
type TaskState int32

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskDone
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskDone:
		return "done"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Func is the unit of work. The context is the one passed to Submit.
type Func func(ctx context.Context) (any, error)

// Handle tracks one submitted task. Wait on Done, then read Value/Err.
type Handle struct {
	ID         string
	Kind       string
	EnqueuedAt time.Time

	ctx   context.Context
	fn    Func
	state atomic.Int32
	done  chan struct{}

	mu    sync.Mutex
	value any
	err   error
}

// Done is closed once the task finished, failed or was cancelled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// State returns the current lifecycle state.
func (h *Handle) State() TaskState { return TaskState(h.state.Load()) }

// Err returns the task error, if any. Valid after Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Value returns the task result. Valid after Done is closed.
func (h *Handle) Value() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value
}

// Wait blocks until the task resolves or ctx is cancelled. A task that is
// already running is never killed; cancellation is cooperative.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) resolve(state TaskState, value any, err error) {
	h.mu.Lock()
	h.value = value
	h.err = err
	h.mu.Unlock()
	h.state.Store(int32(state))
	close(h.done)
}

// Pool runs tasks on a fixed set of workers with a FIFO pending queue.
type Pool struct {
	numWorkers int
	queueLimit int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Handle
	closed bool

	workCh       chan *Handle
	wg           sync.WaitGroup
	dispatchDone chan struct{}

	running atomic.Int64
}

// New creates and starts a pool. numWorkers <= 0 defaults to GOMAXPROCS;
// queueLimit <= 0 defaults to 64 * numWorkers.
func New(numWorkers, queueLimit int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if queueLimit <= 0 {
		queueLimit = 64 * numWorkers
	}

	p := &Pool{
		numWorkers:   numWorkers,
		queueLimit:   queueLimit,
		workCh:       make(chan *Handle),
		dispatchDone: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.worker()
	}
	go p.dispatch()

	return p
}

// Submit enqueues fn and returns immediately with a handle. It never runs
// the task inline, even when the pool is saturated.
func (p *Pool) Submit(ctx context.Context, kind string, fn Func) (*Handle, error) {
	h := &Handle{
		ID:         uuid.NewString(),
		Kind:       kind,
		EnqueuedAt: time.Now(),
		ctx:        ctx,
		fn:         fn,
		done:       make(chan struct{}),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if len(p.queue) >= p.queueLimit {
		return nil, ErrQueueFull
	}

	p.queue = append(p.queue, h)
	p.cond.Signal()
	return h, nil
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Pending returns the number of queued, not yet started tasks.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Shutdown stops the pool. With drain=true it waits for queued and in-flight
// tasks; with drain=false queued-but-unstarted tasks resolve with
// ErrTaskCancelled while in-flight tasks still complete. Idempotent.
func (p *Pool) Shutdown(drain bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.dispatchDone
		p.wg.Wait()
		return
	}
	p.closed = true

	if !drain {
		for _, h := range p.queue {
			h.resolve(TaskCancelled, nil, ErrTaskCancelled)
		}
		p.queue = nil
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	<-p.dispatchDone
	p.wg.Wait()
}

// dispatch hands queued tasks to free workers. The send on the unbuffered
// work channel blocks until a worker finishes its previous task, which makes
// dispatch completion-driven rather than polling.
func (p *Pool) dispatch() {
	defer close(p.dispatchDone)

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			close(p.workCh)
			return
		}
		h := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.workCh <- h
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for h := range p.workCh {
		p.run(h)
	}
}

func (p *Pool) run(h *Handle) {
	h.state.Store(int32(TaskRunning))
	p.running.Add(1)
	defer p.running.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			h.resolve(TaskFailed, nil, fmt.Errorf("worker: task %s panicked: %v", h.ID, r))
		}
	}()

	value, err := h.fn(h.ctx)
	if err != nil {
		h.resolve(TaskFailed, nil, err)
		return
	}
	h.resolve(TaskDone, value, nil)
}
