package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"
)

const (
	// common prefix for all metric names
	prefix = "chunkpool_"

	stateLabel = "state"
	eventLabel = "event"

	// Job states
	Pending   = "pending"
	Running   = "running"
	Suspended = "suspended"
	Completed = "completed"

	// Job events
	Created     = "created"
	Extracted   = "extracted"
	Finished    = "completed"
	Failed      = "failed"
	Aborted     = "aborted"
	Invalidated = "invalidated"
	Interrupted = "interrupted"
)

// PoolMetrics tracks the jobs, slices and fetches of one pool. It implements prometheus.Collector.
type PoolMetrics struct {
	clock clock.PassiveClock

	jobs             *prometheus.GaugeVec
	jobEvents        *prometheus.CounterVec
	teleportedChunks prometheus.Gauge
	chunkSlices      prometheus.Counter
	invalidations    prometheus.Counter
	fetchedChunks    prometheus.Counter
	fetchRetries     prometheus.Counter
	fetchDuration    prometheus.Histogram
}

func New() *PoolMetrics {
	return NewWithClock(clock.RealClock{})
}

func NewWithClock(clock clock.PassiveClock) *PoolMetrics {
	return &PoolMetrics{
		clock: clock,
		jobs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: prefix + "jobs",
				Help: "Number of jobs in the pool by state",
			},
			[]string{stateLabel},
		),
		jobEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "job_events_total",
				Help: "Number of job state transitions",
			},
			[]string{eventLabel},
		),
		teleportedChunks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "teleported_chunks",
				Help: "Number of chunks that bypass the jobs",
			},
		),
		chunkSlices: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "chunk_slices_total",
				Help: "Number of chunk slices materialised by the pool",
			},
		),
		invalidations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "output_invalidations_total",
				Help: "Number of times the pool output was invalidated by a resumed input",
			},
		),
		fetchedChunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "fetched_chunks_total",
				Help: "Number of chunks sliced by the fetcher",
			},
		),
		fetchRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "fetch_retries_total",
				Help: "Number of failed attempts to slice a chunk",
			},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    prefix + "fetch_duration_seconds",
				Help:    "Time taken to slice all chunks of one fetch",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
			},
		),
	}
}

// ReportJobCounts sets the number of jobs in every state.
func (m *PoolMetrics) ReportJobCounts(pending, running, suspended, completed int) {
	m.jobs.WithLabelValues(Pending).Set(float64(pending))
	m.jobs.WithLabelValues(Running).Set(float64(running))
	m.jobs.WithLabelValues(Suspended).Set(float64(suspended))
	m.jobs.WithLabelValues(Completed).Set(float64(completed))
}

func (m *PoolMetrics) ReportJobEvent(event string, count int) {
	m.jobEvents.WithLabelValues(event).Add(float64(count))
}

func (m *PoolMetrics) ReportTeleportedChunks(count int) {
	m.teleportedChunks.Set(float64(count))
}

func (m *PoolMetrics) ReportChunkSlices(count int) {
	m.chunkSlices.Add(float64(count))
}

func (m *PoolMetrics) ReportInvalidation() {
	m.invalidations.Inc()
}

func (m *PoolMetrics) ReportFetchRetry() {
	m.fetchRetries.Inc()
}

// StartFetch returns a function to be called once the fetch is done.
func (m *PoolMetrics) StartFetch(chunkCount int) func() {
	start := m.clock.Now()
	return func() {
		m.fetchedChunks.Add(float64(chunkCount))
		m.fetchDuration.Observe(m.clock.Since(start).Seconds())
	}
}

func (m *PoolMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.jobs.Describe(ch)
	m.jobEvents.Describe(ch)
	m.teleportedChunks.Describe(ch)
	m.chunkSlices.Describe(ch)
	m.invalidations.Describe(ch)
	m.fetchedChunks.Describe(ch)
	m.fetchRetries.Describe(ch)
	m.fetchDuration.Describe(ch)
}

func (m *PoolMetrics) Collect(ch chan<- prometheus.Metric) {
	m.jobs.Collect(ch)
	m.jobEvents.Collect(ch)
	m.teleportedChunks.Collect(ch)
	m.chunkSlices.Collect(ch)
	m.invalidations.Collect(ch)
	m.fetchedChunks.Collect(ch)
	m.fetchRetries.Collect(ch)
	m.fetchDuration.Collect(ch)
}
