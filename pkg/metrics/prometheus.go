// Package metrics provides Prometheus metrics for the experimentation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Assignment metrics
	assignmentsCreated  *prometheus.CounterVec
	assignmentCacheHits prometheus.Counter
	assignmentCacheMiss prometheus.Counter

	// Ingestion metrics
	eventsIngested *prometheus.CounterVec
	eventsRejected prometheus.Counter

	// Aggregation metrics
	bucketsWritten      prometheus.Counter
	aggregationDuration prometheus.Histogram

	// Winner metrics
	winnerDecisions *prometheus.CounterVec

	// Retention metrics
	retentionEventsDeleted  prometheus.Counter
	retentionBucketsDeleted prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Broadcast hub
	wsClients prometheus.Gauge
}

// Global metrics manager instance on a custom registry, keeping the
// default Go collectors out of the scrape.
var (
	globalManager  *Manager                  //nolint:gochecknoglobals // singleton metrics manager
	customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // singleton registry
)

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "superbackend",
		subsystem:        "experiments",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.assignmentsCreated = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "assignments_created_total",
		Help:      "Total subject-to-variant assignments persisted.",
	}, []string{"experiment", "variant"})

	m.assignmentCacheHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "assignment_cache_hits_total",
		Help:      "Assignment lookups answered from cache.",
	})

	m.assignmentCacheMiss = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "assignment_cache_misses_total",
		Help:      "Assignment lookups that fell through to the store.",
	})

	m.eventsIngested = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_ingested_total",
		Help:      "Metric events accepted and bulk-inserted.",
	}, []string{"experiment"})

	m.eventsRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_rejected_total",
		Help:      "Event batches rejected by validation.",
	})

	m.bucketsWritten = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "metric_buckets_written_total",
		Help:      "Metric bucket rows upserted by aggregation passes.",
	})

	m.aggregationDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "aggregation_duration_seconds",
		Help:      "Duration of per-experiment aggregation passes.",
		Buckets:   m.histogramBuckets,
	})

	m.winnerDecisions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "winner_decisions_total",
		Help:      "Winner evaluations grouped by outcome reason.",
	}, []string{"experiment", "reason"})

	m.retentionEventsDeleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "retention_events_deleted_total",
		Help:      "Raw events removed by retention sweeps.",
	})

	m.retentionBucketsDeleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "retention_buckets_deleted_total",
		Help:      "Metric buckets removed by retention sweeps.",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "HTTP requests by endpoint, method, and status code.",
	}, []string{"endpoint", "method", "status"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by endpoint, method, and status code.",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status"})

	m.wsClients = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ws_clients",
		Help:      "Currently attached realtime broadcast clients.",
	})
}

// Package-level helpers recording on the global manager.

// RecordAssignmentCreated counts a newly persisted assignment.
func RecordAssignmentCreated(experimentCode, variantKey string) {
	globalManager.assignmentsCreated.WithLabelValues(experimentCode, variantKey).Inc()
}

// RecordAssignmentCacheHit counts an assignment served from cache.
func RecordAssignmentCacheHit() {
	globalManager.assignmentCacheHits.Inc()
}

// RecordAssignmentCacheMiss counts an assignment lookup hitting the store.
func RecordAssignmentCacheMiss() {
	globalManager.assignmentCacheMiss.Inc()
}

// RecordEventsIngested counts accepted events for an experiment.
func RecordEventsIngested(experimentCode string, n int) {
	globalManager.eventsIngested.WithLabelValues(experimentCode).Add(float64(n))
}

// RecordEventsRejected counts a batch rejected by validation.
func RecordEventsRejected() {
	globalManager.eventsRejected.Inc()
}

// RecordBucketsWritten counts upserted metric bucket rows.
func RecordBucketsWritten(n int) {
	globalManager.bucketsWritten.Add(float64(n))
}

// RecordAggregationDuration observes one aggregation pass.
func RecordAggregationDuration(seconds float64) {
	globalManager.aggregationDuration.Observe(seconds)
}

// RecordWinnerDecision counts a winner evaluation outcome.
func RecordWinnerDecision(experimentCode, reason string) {
	globalManager.winnerDecisions.WithLabelValues(experimentCode, reason).Inc()
}

// RecordRetentionDeleted counts rows removed by a retention sweep.
func RecordRetentionDeleted(events, buckets int64) {
	globalManager.retentionEventsDeleted.Add(float64(events))
	globalManager.retentionBucketsDeleted.Add(float64(buckets))
}

// RecordHTTPRequest counts one handled HTTP request.
func RecordHTTPRequest(endpoint, method, status string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
}

// RecordHTTPRequestDuration observes one HTTP request's latency.
func RecordHTTPRequestDuration(endpoint, method, status string, seconds float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, status).Observe(seconds)
}

// UpdateWSClients tracks the broadcast hub's client count.
func UpdateWSClients(n int) {
	globalManager.wsClients.Set(float64(n))
}

// GetRegistry exposes the custom registry for the /metrics endpoint.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
