// Package workerpool runs install attempts on a fixed number of goroutines
// behind a bounded queue.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/EikeiDev/apkupdateross/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of work. ctx is the pool context, cancelled by Drain.
type Task func(ctx context.Context)

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers   int
	Queued    int
	Running   int
	Completed int64
	Panicked  int64
}

// Pool is a bounded goroutine pool with a fixed-size task queue.
type Pool struct {
	workers int
	queue   chan Task
	ctx     context.Context
	cancel  context.CancelFunc

	// mu orders Submit against Drain closing the queue.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	running   atomic.Int32
	completed atomic.Int64
	panicked  atomic.Int64
}

// New starts workers goroutines reading from a queue of queueSize tasks.
// Values below one are raised to one.
func New(workers, queueSize int) *Pool {
	workers = max(workers, 1)
	queueSize = max(queueSize, 1)

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workers: workers,
		queue:   make(chan Task, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for range workers {
		go p.work()
	}
	log.Debug("worker pool started", "workers", workers, "queueSize", queueSize)
	return p
}

// Context returns the pool lifetime context.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit enqueues task without blocking. It returns false when the queue is
// full or the pool is draining.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	p.wg.Add(1)
	select {
	case p.queue <- task:
		return true
	default:
		p.wg.Done()
		log.Warn("worker pool queue full, task rejected", "queued", len(p.queue))
		return false
	}
}

// Closed reports whether Drain was called.
func (p *Pool) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Stats reports queue depth and task counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.queue),
		Running:   int(p.running.Load()),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// Drain stops accepting tasks and waits for queued and running ones until
// ctx is done. The pool context is cancelled when Drain returns, which
// stops whatever is still running. Safe to call more than once.
func (p *Pool) Drain(ctx context.Context) {
	p.mu.Lock()
	first := !p.closed
	p.closed = true
	if first {
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if first {
			log.Debug("worker pool drained", "completed", p.completed.Load())
		}
	case <-ctx.Done():
		log.Warn("worker pool drain timed out", "running", p.running.Load(), "queued", len(p.queue))
	}
	p.cancel()
}

func (p *Pool) work() {
	for task := range p.queue {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	p.running.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
		p.running.Add(-1)
		p.completed.Add(1)
		p.wg.Done()
	}()
	task(p.ctx)
}
