// Package metrics provides Prometheus metrics for the intelsync service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values shared by callers.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomePartial     = "partial"
	OutcomeRejected    = "rejected"
	OutcomeReported    = "reported"
	OutcomeRateLimited = "rate_limited"
	OutcomeSkipped     = "skipped"
)

// Manager manages all Prometheus metrics for the intelsync service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Sync cycle metrics
	syncCycles        *prometheus.CounterVec
	syncCyclesDropped prometheus.Counter
	syncCycleDuration prometheus.Histogram
	syncRunning       prometheus.Gauge
	syncLastSuccess   prometheus.Gauge
	syncUnits         *prometheus.CounterVec

	// Conversion metrics
	attributesFetched  prometheus.Counter
	attributesByClass  *prometheus.CounterVec
	indicatorsInserted prometheus.Counter
	insertErrors       prometheus.Counter

	// Sighting metrics
	sightings         *prometheus.CounterVec
	limiterEntries    prometheus.Gauge
	limiterEvictions  prometheus.Counter
	matchBatches      prometheus.Counter
	matchBatchLatency prometheus.Histogram

	// Remote platform metrics
	remoteRequests        *prometheus.CounterVec
	remoteRequestDuration *prometheus.HistogramVec
	circuitBreakerState   *prometheus.GaugeVec
	circuitBreakerChanges *prometheus.CounterVec

	// Queue metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker metrics
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Bus metrics
	busMessages *prometheus.CounterVec

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorRateByComponent *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "intelsync",
		subsystem:        "",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// name applies the configured metric prefix.
func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)
	latencyBuckets := []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

	m.syncCycles = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sync_cycles_total"),
		Help:        "Completed sync cycles by outcome (success, partial, failure)",
		ConstLabels: labels,
	}, []string{"outcome"})

	m.syncCyclesDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sync_cycles_dropped_total"),
		Help:        "Cycle requests dropped because a cycle was already running",
		ConstLabels: labels,
	})

	m.syncCycleDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sync_cycle_duration_milliseconds"),
		Help:        "Wall-clock duration of sync cycles in milliseconds",
		Buckets:     latencyBuckets,
		ConstLabels: labels,
	})

	m.syncRunning = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sync_running"),
		Help:        "1 while a sync cycle is in flight",
		ConstLabels: labels,
	})

	m.syncLastSuccess = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sync_last_success_timestamp_seconds"),
		Help:        "Unix time of the last cycle in which at least one unit succeeded",
		ConstLabels: labels,
	})

	m.syncUnits = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sync_units_total"),
		Help:        "Fetch units by kind (fixed, search) and outcome",
		ConstLabels: labels,
	}, []string{"kind", "outcome"})

	m.attributesFetched = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("attributes_fetched_total"),
		Help:        "Remote attributes returned by searches",
		ConstLabels: labels,
	})

	m.attributesByClass = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("attributes_mapped_total"),
		Help:        "Remote attributes by mapping class (mapped, ignored, unmapped)",
		ConstLabels: labels,
	}, []string{"class"})

	m.indicatorsInserted = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("indicators_inserted_total"),
		Help:        "Indicators handed to the matching engine",
		ConstLabels: labels,
	})

	m.insertErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("indicator_insert_errors_total"),
		Help:        "Indicators the matching engine bus refused",
		ConstLabels: labels,
	})

	m.sightings = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sightings_total"),
		Help:        "Match items by sighting decision (reported, rate_limited, skipped, failure)",
		ConstLabels: labels,
	}, []string{"outcome"})

	m.limiterEntries = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sighting_limiter_entries"),
		Help:        "Indicator identities tracked by the sighting rate limiter",
		ConstLabels: labels,
	})

	m.limiterEvictions = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("sighting_limiter_evictions_total"),
		Help:        "Limiter entries removed by the size cap or the stale sweep",
		ConstLabels: labels,
	})

	m.matchBatches = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("match_batches_total"),
		Help:        "Match event batches handled",
		ConstLabels: labels,
	})

	m.matchBatchLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("match_batch_duration_milliseconds"),
		Help:        "Time to handle one match batch including all sighting calls",
		Buckets:     latencyBuckets,
		ConstLabels: labels,
	})

	m.remoteRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("remote_requests_total"),
		Help:        "Requests to the remote platform by operation and outcome",
		ConstLabels: labels,
	}, []string{"operation", "outcome"})

	m.remoteRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("remote_request_duration_milliseconds"),
		Help:        "Remote platform request latency in milliseconds",
		Buckets:     latencyBuckets,
		ConstLabels: labels,
	}, []string{"operation"})

	m.circuitBreakerState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("circuit_breaker_state"),
		Help:        "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		ConstLabels: labels,
	}, []string{"name"})

	m.circuitBreakerChanges = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("circuit_breaker_transitions_total"),
		Help:        "Circuit breaker state transitions",
		ConstLabels: labels,
	}, []string{"name", "from", "to"})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_size"),
		Help:        "Current size of the match event queue (backlog indicator)",
		ConstLabels: labels,
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_capacity"),
		Help:        "Maximum capacity of the match event queue",
		ConstLabels: labels,
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_utilization_ratio"),
		Help:        "Queue utilization ratio (0.0 to 1.0)",
		ConstLabels: labels,
	})

	m.queueEnqueueRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_enqueue_total"),
		Help:        "Total number of match batches enqueued",
		ConstLabels: labels,
	})

	m.queueDequeueRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_dequeue_total"),
		Help:        "Total number of match batches dequeued",
		ConstLabels: labels,
	})

	m.queueEnqueueErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_enqueue_errors_total"),
		Help:        "Match batches dropped on enqueue (full or closed queue)",
		ConstLabels: labels,
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("worker_count"),
		Help:        "Number of match handling workers",
		ConstLabels: labels,
	})

	m.workerProcessingLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("worker_processing_latency_milliseconds"),
		Help:        "Worker processing latency in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	})

	m.workerErrorRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("worker_errors_total"),
		Help:        "Total number of worker processing errors",
		ConstLabels: labels,
	})

	m.busMessages = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("bus_messages_total"),
		Help:        "Messages exchanged with the matching engine bus by direction and outcome",
		ConstLabels: labels,
	}, []string{"direction", "outcome"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("http_requests_total"),
		Help:        "Total number of HTTP requests by endpoint and method",
		ConstLabels: labels,
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("http_request_duration_milliseconds"),
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("errors_by_component_total"),
		Help:        "Total errors by component and error type",
		ConstLabels: labels,
	}, []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_memory_usage_bytes"),
		Help:        "System memory usage in bytes",
		ConstLabels: labels,
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_goroutine_count"),
		Help:        "Number of goroutines",
		ConstLabels: labels,
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_gc_pause_time_milliseconds"),
		Help:        "GC pause time in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: labels,
	})
}

// Sync Metrics Functions.

// RecordSyncCycle records a finished cycle with its outcome and duration.
func RecordSyncCycle(outcome string, durationMs float64) {
	globalManager.syncCycles.WithLabelValues(outcome).Inc()
	globalManager.syncCycleDuration.Observe(durationMs)
	if outcome != OutcomeFailure {
		globalManager.syncLastSuccess.SetToCurrentTime()
	}
}

// RecordSyncCycleDropped counts a cycle request that found a cycle in flight.
func RecordSyncCycleDropped() {
	globalManager.syncCyclesDropped.Inc()
}

// SetSyncRunning flips the in-flight gauge.
func SetSyncRunning(running bool) {
	if running {
		globalManager.syncRunning.Set(1)
		return
	}
	globalManager.syncRunning.Set(0)
}

// RecordSyncUnit records the outcome of one fetch unit.
func RecordSyncUnit(kind, outcome string) {
	globalManager.syncUnits.WithLabelValues(kind, outcome).Inc()
}

// Conversion Metrics Functions.

// RecordAttributesFetched adds n fetched remote attributes.
func RecordAttributesFetched(n int) {
	globalManager.attributesFetched.Add(float64(n))
}

// RecordAttributeClass adds n attributes for a mapping class.
func RecordAttributeClass(class string, n int) {
	if n <= 0 {
		return
	}
	globalManager.attributesByClass.WithLabelValues(class).Add(float64(n))
}

// RecordIndicatorsInserted adds n inserted indicators.
func RecordIndicatorsInserted(n int) {
	globalManager.indicatorsInserted.Add(float64(n))
}

// RecordInsertError counts a failed insertion.
func RecordInsertError() {
	globalManager.insertErrors.Inc()
}

// Sighting Metrics Functions.

// RecordSighting counts one match item decision.
func RecordSighting(outcome string) {
	globalManager.sightings.WithLabelValues(outcome).Inc()
}

// UpdateLimiterEntries sets the number of tracked limiter identities.
func UpdateLimiterEntries(n int) {
	globalManager.limiterEntries.Set(float64(n))
}

// RecordLimiterEvictions adds n evicted limiter entries.
func RecordLimiterEvictions(n int) {
	if n <= 0 {
		return
	}
	globalManager.limiterEvictions.Add(float64(n))
}

// RecordMatchBatch records a handled match batch and its latency.
func RecordMatchBatch(latencyMs float64) {
	globalManager.matchBatches.Inc()
	globalManager.matchBatchLatency.Observe(latencyMs)
}

// Remote Platform Metrics Functions.

// RecordRemoteRequest records one remote call.
func RecordRemoteRequest(operation, outcome string, latencyMs float64) {
	globalManager.remoteRequests.WithLabelValues(operation, outcome).Inc()
	globalManager.remoteRequestDuration.WithLabelValues(operation).Observe(latencyMs)
}

// UpdateCircuitBreakerState sets the breaker state gauge.
func UpdateCircuitBreakerState(name string, state float64) {
	globalManager.circuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordCircuitBreakerTransition counts a breaker state change.
func RecordCircuitBreakerTransition(name, from, to string) {
	globalManager.circuitBreakerChanges.WithLabelValues(name, from, to).Inc()
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// RecordBusMessage counts a message published to or received from the bus.
func RecordBusMessage(direction, outcome string) {
	globalManager.busMessages.WithLabelValues(direction, outcome).Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
