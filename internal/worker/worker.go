// ============================================================================
// hello-pool Worker - Job Execution Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Long-lived execution unit, each Worker runs in its own goroutine
//
// How it works:
//   Each Worker repeatedly:
//   1. Claims the next Job from the shared queue (blocking, exclusive)
//   2. Releases the queue, then runs the Job to completion
//   3. Goes back to claiming until the queue is closed and drained
//
// Execution Model:
//   ┌──────────────────────────────────────┐
//   │  Worker Goroutine                    │
//   │  ┌───────────────────────────────┐   │
//   │  │ for job, ok := queue.recv()   │   │
//   │  │   ├─ !ok → exit               │   │
//   │  │   └─ execute(job)             │   │
//   │  └───────────────────────────────┘   │
//   └──────────────────────────────────────┘
//
// Failure Handling:
//   A panicking Job is recovered at the Worker boundary and logged.
//   Without respawn the Worker then exits and pool capacity shrinks by one.
//   With respawn the Worker keeps claiming jobs.
//   A Job calling runtime.Goexit always ends its Worker and counts as failed.
//
// ============================================================================

package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Worker represents a work execution unit
// Each Worker runs in an independent goroutine, claims jobs from the shared queue and executes them
type Worker struct {
	id      int           // Worker identifier, used for logging only
	queue   *jobQueue     // Consuming end, shared with every other Worker
	done    chan struct{} // Closed when the goroutine returns
	respawn bool          // Keep running after a job panics
	log     *slog.Logger
	metrics Recorder
	onExit  func()
}

// newWorker creates a Worker and starts its goroutine
func newWorker(id int, queue *jobQueue, p *Pool) *Worker {
	w := &Worker{
		id:      id,
		queue:   queue,
		done:    make(chan struct{}),
		respawn: p.respawn,
		log:     p.log,
		metrics: p.metrics,
		onExit:  p.workerExited,
	}
	go w.run()
	return w
}

// run is the main loop of the Worker
func (w *Worker) run() {
	defer close(w.done)
	defer w.onExit()

	for {
		job, ok := w.queue.recv()
		if !ok {
			w.log.Debug("Worker is exiting", "worker", w.id)
			return
		}

		if err := w.execute(job); err != nil {
			if w.respawn {
				w.log.Warn("Job failed, worker continues", "worker", w.id, "error", err)
				continue
			}
			w.log.Error("Job failed, worker terminated", "worker", w.id, "error", err)
			return
		}
	}
}

// execute runs a single job and converts a panic into an error
func (w *Worker) execute(job Job) (err error) {
	w.metrics.JobStarted()
	start := time.Now()

	returned := false
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		} else if !returned {
			// runtime.Goexit: the goroutine unwinds past run, so the Worker is gone
			// even with respawn.
			err = ErrJobExited
			w.log.Error("Job failed, worker terminated", "worker", w.id, "error", err)
		}
		w.metrics.JobFinished(time.Since(start), err != nil)
	}()

	job()
	returned = true
	return nil
}

// join blocks until the Worker goroutine has returned
func (w *Worker) join() {
	<-w.done
}

// ErrJobExited is reported for a Job that ended its goroutine without returning
var ErrJobExited = errors.New("job exited without returning")

// PanicError wraps a value recovered from a panicking Job
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}
