package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolClosed is returned by Submit once the queue has been closed.
var ErrPoolClosed = errors.New("worker pool closed")

// State is the lifecycle state of a single worker.
type State string

const (
	StateUninit  State = "uninit"
	StateIdle    State = "idle"
	StateWorking State = "working"
	StateError   State = "error"
)

// Pool manages a fixed number of workers that pull tasks from a shared FIFO
// queue and report every outcome on a single channel. Each worker performs
// its own initialization (e.g. building an API client) before signaling
// readiness; workers whose init fails are marked error and never dispatch.
//
// A panic inside a task is converted into a synthetic outcome via the
// recovered callback and the worker transitions to error, so the
// coordinator's outcome accounting still converges while the remaining
// workers drain the queue.
type Pool[T, R any] struct {
	count     int
	newWorker func(id int) (func(ctx context.Context, task T) R, error)
	recovered func(task T, cause any) R

	tasks    chan T
	outcomes chan R
	queued   atomic.Int64
	active   atomic.Int64
	live     atomic.Int64

	dead     chan struct{}
	deadOnce sync.Once

	onState func(id int, state State, task *T)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool of count workers with room for queueCap pending
// tasks. newWorker runs once per worker; recovered converts a panicking task
// into an outcome.
func NewPool[T, R any](
	count, queueCap int,
	newWorker func(id int) (func(ctx context.Context, task T) R, error),
	recovered func(task T, cause any) R,
) *Pool[T, R] {
	if queueCap < count {
		queueCap = count
	}
	return &Pool[T, R]{
		count:     count,
		newWorker: newWorker,
		recovered: recovered,
		tasks:     make(chan T, queueCap),
		outcomes:  make(chan R, queueCap),
		dead:      make(chan struct{}),
	}
}

// OnStateChange registers a listener for worker state transitions. For
// StateWorking the in-flight task is passed; otherwise task is nil. Must be
// called before Start.
func (p *Pool[T, R]) OnStateChange(fn func(id int, state State, task *T)) {
	p.onState = fn
}

// Start spawns all workers and blocks until every worker has signaled
// readiness or initTimeout has elapsed. Returns the number of workers that
// were ready in time; late initializers still join dispatch when they come
// up, failed ones stay out.
func (p *Pool[T, R]) Start(ctx context.Context, initTimeout time.Duration) int {
	p.ctx, p.cancel = context.WithCancel(ctx)

	readyCh := make(chan bool, p.count)
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.worker(i, readyCh)
	}

	ready := 0
	deadline := time.NewTimer(initTimeout)
	defer deadline.Stop()
	for i := 0; i < p.count; i++ {
		select {
		case ok := <-readyCh:
			if ok {
				ready++
			}
		case <-deadline.C:
			return ready
		case <-p.ctx.Done():
			return ready
		}
	}
	return ready
}

// Submit places a task on the queue. Returns the pool context error when the
// pool has been terminated. Submitting before Start is allowed; the queue
// buffers until workers come up. Submit and Close must be called from the
// same goroutine.
func (p *Pool[T, R]) Submit(task T) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}
	if p.ctx == nil {
		p.tasks <- task
		p.queued.Add(1)
		return nil
	}
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.tasks <- task:
		p.queued.Add(1)
		return nil
	}
}

// Close marks the queue complete; workers exit once it drains.
func (p *Pool[T, R]) Close() {
	p.mu.Lock()
	if !p.closed {
		close(p.tasks)
		p.closed = true
	}
	p.mu.Unlock()
}

// Outcomes is the channel on which workers report every completed task.
func (p *Pool[T, R]) Outcomes() <-chan R {
	return p.outcomes
}

// Active returns the number of workers currently executing a task.
func (p *Pool[T, R]) Active() int {
	return int(p.active.Load())
}

// QueueLen returns the number of tasks waiting for an idle worker.
func (p *Pool[T, R]) QueueLen() int {
	return int(p.queued.Load())
}

// Quiesced reports whether the queue is empty and no worker is active.
func (p *Pool[T, R]) Quiesced() bool {
	return p.queued.Load() == 0 && p.active.Load() == 0
}

// Dead is closed when the last live worker has exited while tasks remain
// queued. The queue can never drain past that point; the coordinator must
// terminate instead of waiting for further outcomes.
func (p *Pool[T, R]) Dead() <-chan struct{} {
	return p.dead
}

func (p *Pool[T, R]) markDead() {
	p.deadOnce.Do(func() { close(p.dead) })
}

// Terminate signals all workers to exit. In-flight tasks finish first.
func (p *Pool[T, R]) Terminate() {
	if p.cancel != nil {
		p.cancel()
	}
	p.Close()
	p.wg.Wait()
}

// Wait blocks until all workers have exited. Close must be called first.
func (p *Pool[T, R]) Wait() {
	p.wg.Wait()
}

func (p *Pool[T, R]) setState(id int, state State, task *T) {
	if p.onState != nil {
		p.onState(id, state, task)
	}
}

func (p *Pool[T, R]) worker(id int, readyCh chan<- bool) {
	defer p.wg.Done()

	run, err := p.newWorker(id)
	if err != nil {
		p.setState(id, StateError, nil)
		readyCh <- false
		return
	}
	p.live.Add(1)
	defer func() {
		// Outcomes for finished tasks were sent before this point, so the
		// coordinator can still drain them after observing Dead.
		if p.live.Add(-1) == 0 && p.queued.Load() > 0 {
			p.markDead()
		}
	}()
	p.setState(id, StateIdle, nil)
	readyCh <- true

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.queued.Add(-1)
			p.active.Add(1)
			p.setState(id, StateWorking, &task)

			out, panicked := p.runTask(run, task)

			p.active.Add(-1)
			// Once terminated, exit without reporting: the coordinator has
			// stopped draining and resume state is its responsibility.
			if p.ctx.Err() != nil {
				return
			}
			select {
			case p.outcomes <- out:
			case <-p.ctx.Done():
				return
			}

			if panicked {
				p.setState(id, StateError, nil)
				return
			}
			p.setState(id, StateIdle, nil)
		}
	}
}

func (p *Pool[T, R]) runTask(run func(context.Context, T) R, task T) (out R, panicked bool) {
	defer func() {
		if cause := recover(); cause != nil {
			out = p.recovered(task, cause)
			panicked = true
		}
	}()
	return run(p.ctx, task), false
}
