package worker

import (
	"sync"
)

// Job is one unit of deferred work. It is invoked exactly once by whichever
// Worker claims it and carries no result.
type Job func()

// jobQueue is an unbounded FIFO connecting the Pool (producing end) to its
// Workers (consuming end).
//
// The consuming end is guarded by claimMu for the whole receive, so at most one
// Worker is ever blocked inside recv. The others wait on claimMu.
type jobQueue struct {
	claimMu sync.Mutex

	mu     sync.Mutex
	cond   *sync.Cond
	items  []Job
	closed bool
}

func newJobQueue() *jobQueue {
	q := &jobQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// send appends a job to the tail of the queue.
// Returns ErrPoolClosed if the producing end has been closed.
func (q *jobQueue) send(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrPoolClosed
	}
	q.items = append(q.items, job)
	q.cond.Signal()
	return nil
}

// recv claims the job at the head of the queue, blocking while the queue is
// empty and still open. ok is false once the queue is closed and drained.
func (q *jobQueue) recv() (job Job, ok bool) {
	q.claimMu.Lock()
	defer q.claimMu.Unlock()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}

	job = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return job, true
}

// close closes the producing end. Jobs already queued stay claimable.
// Reports whether this call performed the close.
func (q *jobQueue) close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.closed = true
	q.cond.Broadcast()
	return true
}

// len returns the number of queued, unclaimed jobs.
func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
