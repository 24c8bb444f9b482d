// ============================================================================
// hello-pool Worker Pool - Fixed-size Job Executor
// ============================================================================
//
// Package: internal/worker
// File: worker_pool.go
// Function: Owns N Worker goroutines and the producing end of the job queue
//
// Design:
//   1. A fixed number of Workers is started by NewPool and never resized
//   2. Jobs are handed out FIFO through one shared, unbounded queue
//   3. Workers are never recycled individually
//
// Architecture:
//   ┌─────────────┐
//   │  Acceptor   │ --Submit()--> jobQueue
//   └─────────────┘
//                         ┌────────┐
//                  ┌────→ │Worker 0│
//   jobQueue ──────┼────→ │Worker 1│   (one claimer at a time)
//                  └────→ │Worker 2│
//                         └────────┘
//
// Lifecycle:
//   1. NewPool(n) - create queue, start n Workers
//   2. Submit(f)  - enqueue a Job
//   3. Stop()     - close the producing end, join every Worker
//
// Errors:
//   - ErrPoolClosed: Submit called after Stop has begun
//   - ErrNilJob:     Submit called with a nil function
//
// Graceful Shutdown:
//   Stop() flow:
//   1. Drop the producing end, no new Jobs accepted
//   2. Workers drain the remaining Jobs, then observe closure and exit
//   3. Join each Worker in id order
//
// ============================================================================

package worker

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrPoolClosed is returned when submitting to a pool that is stopping or stopped
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrNilJob is returned when submitting a nil job
	ErrNilJob = errors.New("worker pool: nil job")
)

// ============================================================================
// Options
// ============================================================================

// Recorder receives pool lifecycle events. metrics.Collector implements it.
type Recorder interface {
	JobSubmitted()
	JobStarted()
	JobFinished(d time.Duration, panicked bool)
	WorkersStarted(n int)
	WorkerExited()
}

type nopRecorder struct{}

func (nopRecorder) JobSubmitted() {}
func (nopRecorder) JobStarted() {}
func (nopRecorder) JobFinished(time.Duration, bool) {}
func (nopRecorder) WorkersStarted(int) {}
func (nopRecorder) WorkerExited() {}

// Option configures a Pool
type Option func(*Pool)

// WithLogger sets the logger used by the pool and its Workers
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics sets the Recorder notified of job and worker events
func WithMetrics(r Recorder) Option {
	return func(p *Pool) {
		if r != nil {
			p.metrics = r
		}
	}
}

// WithRespawn keeps a Worker alive after one of its jobs panics.
// By default the Worker exits and the pool runs with one fewer Worker.
func WithRespawn(enabled bool) Option {
	return func(p *Pool) {
		p.respawn = enabled
	}
}

// ============================================================================
// Pool
// ============================================================================

// Pool is a fixed-size set of Workers fed by a single job queue
type Pool struct {
	workers []*Worker

	mu     sync.Mutex
	sender *jobQueue // Producing end, nil once Stop has begun

	queue    *jobQueue
	stopOnce sync.Once
	alive    atomic.Int64

	respawn bool
	log     *slog.Logger
	metrics Recorder
}

// NewPool creates a pool and starts size Workers.
// It panics if size is not positive.
func NewPool(size int, opts ...Option) *Pool {
	if size <= 0 {
		panic("worker: pool size must be greater than zero")
	}

	queue := newJobQueue()
	p := &Pool{
		sender:  queue,
		queue:   queue,
		log:     slog.Default(),
		metrics: nopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}

	p.workers = make([]*Worker, 0, size)
	p.alive.Store(int64(size))
	for id := 0; id < size; id++ {
		p.workers = append(p.workers, newWorker(id, queue, p))
	}
	p.metrics.WorkersStarted(size)

	p.log.Info("Worker pool started", "workers", size, "respawn", p.respawn)
	return p
}

// Submit enqueues f to be run by the next free Worker.
// Returns ErrPoolClosed once Stop has begun; the job is not run.
func (p *Pool) Submit(f func()) error {
	if f == nil {
		return ErrNilJob
	}

	p.mu.Lock()
	sender := p.sender
	p.mu.Unlock()

	if sender == nil {
		return ErrPoolClosed
	}
	if err := sender.send(Job(f)); err != nil {
		return err
	}
	p.metrics.JobSubmitted()
	return nil
}

// Stop closes the queue and blocks until every Worker has exited.
// Jobs already queued are still run. Concurrent or repeated calls block until
// the first call has finished.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		sender := p.sender
		p.sender = nil
		p.mu.Unlock()

		sender.close()
		p.log.Info("Stopping worker pool", "pending", sender.len())

		for _, w := range p.workers {
			p.log.Debug("Shutting down worker", "worker", w.id)
			w.join()
		}

		if n := p.queue.len(); n > 0 {
			p.log.Warn("Worker pool stopped with unclaimed jobs", "jobs", n)
			return
		}
		p.log.Info("Worker pool stopped")
	})
}

func (p *Pool) workerExited() {
	p.alive.Add(-1)
	p.metrics.WorkerExited()
}

// GetWorkerCount returns the number of Workers the pool was created with
func (p *Pool) GetWorkerCount() int {
	return len(p.workers)
}

// AliveWorkers returns the number of Worker goroutines still running
func (p *Pool) AliveWorkers() int {
	return int(p.alive.Load())
}

// Pending returns the number of queued jobs not yet claimed
func (p *Pool) Pending() int {
	return p.queue.len()
}

// IsStopped reports whether Stop has begun
func (p *Pool) IsStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sender == nil
}
