// ============================================================================
// hello-pool Metrics - Prometheus Instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Function: Collect and expose worker pool and acceptor metrics
//
// Metric Categories:
//
//   1. Counters:
//      - hello_pool_jobs_submitted_total: jobs accepted by Submit
//      - hello_pool_jobs_completed_total: jobs that returned normally
//      - hello_pool_jobs_panicked_total: jobs that panicked
//      - hello_server_connections_accepted_total: connections dispatched as jobs
//      - hello_server_connections_discarded_total: connections dropped at shutdown
//      - hello_server_connection_errors_total: handler I/O failures
//
//   2. Histogram:
//      - hello_pool_job_duration_seconds: job run time
//
//   3. Gauges:
//      - hello_pool_workers_alive: Worker goroutines still running
//      - hello_pool_workers_busy: Workers currently running a job
//
// Example queries:
//
//   # Worker utilization
//   hello_pool_workers_busy / hello_pool_workers_alive
//
//   # Capacity lost to panicking jobs
//   hello_pool_jobs_panicked_total
//
// HTTP endpoint:
//   Exposed on /metrics by internal/admin
//
// ============================================================================

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hello"

// Collector Prometheus metrics collector
type Collector struct {
	// pool
	jobsSubmitted prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsPanicked  prometheus.Counter
	jobDuration   prometheus.Histogram
	workersAlive  prometheus.Gauge
	workersBusy   prometheus.Gauge

	// acceptor
	connsAccepted  prometheus.Counter
	connsDiscarded prometheus.Counter
	connErrors     prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs submitted to the worker pool",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_completed_total",
			Help:      "Total number of jobs that ran to completion",
		}),
		jobsPanicked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "jobs_panicked_total",
			Help:      "Total number of jobs that panicked",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "job_duration_seconds",
			Help:      "Job run time in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		workersAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "workers_alive",
			Help:      "Current number of running worker goroutines",
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "workers_busy",
			Help:      "Current number of workers executing a job",
		}),
		connsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Total number of connections dispatched to the worker pool",
		}),
		connsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_discarded_total",
			Help:      "Total number of connections closed without dispatch during shutdown",
		}),
		connErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connection_errors_total",
			Help:      "Total number of connections that failed while being handled",
		}),
	}

	reg.MustRegister(
		c.jobsSubmitted,
		c.jobsCompleted,
		c.jobsPanicked,
		c.jobDuration,
		c.workersAlive,
		c.workersBusy,
		c.connsAccepted,
		c.connsDiscarded,
		c.connErrors,
	)

	return c
}

// JobSubmitted records a job entering the queue
func (c *Collector) JobSubmitted() {
	c.jobsSubmitted.Inc()
}

// JobStarted records a worker claiming a job
func (c *Collector) JobStarted() {
	c.workersBusy.Inc()
}

// JobFinished records a job leaving a worker
func (c *Collector) JobFinished(d time.Duration, panicked bool) {
	c.workersBusy.Dec()
	c.jobDuration.Observe(d.Seconds())
	if panicked {
		c.jobsPanicked.Inc()
		return
	}
	c.jobsCompleted.Inc()
}

// WorkersStarted records n new worker goroutines
func (c *Collector) WorkersStarted(n int) {
	c.workersAlive.Add(float64(n))
}

// WorkerExited records a worker goroutine returning
func (c *Collector) WorkerExited() {
	c.workersAlive.Dec()
}

// ConnectionAccepted records a connection dispatched as a job
func (c *Collector) ConnectionAccepted() {
	c.connsAccepted.Inc()
}

// ConnectionDiscarded records a connection dropped because shutdown had begun
func (c *Collector) ConnectionDiscarded() {
	c.connsDiscarded.Inc()
}

// ConnectionFailed records a handler error
func (c *Collector) ConnectionFailed() {
	c.connErrors.Inc()
}
