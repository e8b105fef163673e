// Package metrics provides Prometheus metrics for the team competition service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Competition metrics
	ingestRuns          *prometheus.CounterVec
	ingestDuration      prometheus.Histogram
	ingestUsers         *prometheus.CounterVec
	statsRecorded       prometheus.Counter
	offsetsApplied      prometheus.Counter
	retirements         *prometheus.CounterVec
	changeTransitions   *prometheus.CounterVec
	lifecycleSteps      *prometheus.CounterVec
	lifecycleDuration   *prometheus.HistogramVec
	stateConflicts      *prometheus.CounterVec
	systemState         *prometheus.GaugeVec
	leaderboardRebuilds prometheus.Counter
	leaderboardRebuild  prometheus.Histogram
	activeUsers         prometheus.Gauge
	teamCount           prometheus.Gauge

	stateMu   sync.Mutex
	lastState string

	// External retrieval
	retrievalLatency  *prometheus.HistogramVec
	retrievalFailures *prometheus.CounterVec

	// Storage
	storeOperations *prometheus.CounterVec
	storeLatency    *prometheus.HistogramVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue Metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec
	queueWaitLatency   prometheus.Histogram

	// Worker Metrics
	workerActiveCount       prometheus.Gauge
	workerMessagesPerSecond prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System Performance Metrics
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

// NewManager creates a new metrics manager. A disabled manager still
// records, but on a private registry nobody exposes.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "teamcomp",
		subsystem:        "competition",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	if !m.enabled {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

// RefreshInterval is how often runtime gauges should be sampled.
func (m *Manager) RefreshInterval() time.Duration {
	return m.refreshInterval
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(auto promauto.Factory, name, help string) prometheus.Counter {
	return auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(auto promauto.Factory, name, help string, labels ...string) *prometheus.CounterVec {
	return auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(auto promauto.Factory, name, help string) prometheus.Gauge {
	return auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(auto promauto.Factory, name, help string, buckets []float64) prometheus.Histogram {
	return auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(auto promauto.Factory, name, help string, labels ...string) *prometheus.HistogramVec {
	return auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels, Buckets: m.histogramBuckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.ingestRuns = m.counterVec(auto, "ingest_runs_total", "Bulk stats ingestion runs by result", "result")
	m.ingestDuration = m.histogram(auto, "ingest_duration_seconds", "Duration of a bulk stats ingestion", m.histogramBuckets)
	m.ingestUsers = m.counterVec(auto, "ingest_users_total", "Users processed by bulk ingestion by result", "result")
	m.statsRecorded = m.counter(auto, "stats_recorded_total", "Readings recorded into the ledger")
	m.offsetsApplied = m.counter(auto, "offsets_applied_total", "Manual offsets applied")
	m.retirements = m.counterVec(auto, "retirements_total", "Users retired from a team by reason", "reason")
	m.changeTransitions = m.counterVec(auto, "user_change_transitions_total", "User change transitions by target state", "state")
	m.lifecycleSteps = m.counterVec(auto, "lifecycle_steps_total", "Lifecycle steps by step and result", "step", "result")
	m.lifecycleDuration = m.histogramVec(auto, "lifecycle_step_duration_seconds", "Duration of lifecycle steps", "step")
	m.stateConflicts = m.counterVec(auto, "state_conflicts_total", "Writes refused because the gate was held", "operation")
	m.systemState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("system_state"),
		Help: "1 for the current system state", ConstLabels: m.customLabels,
	}, []string{"state"})
	m.leaderboardRebuilds = m.counter(auto, "leaderboard_rebuilds_total", "Leaderboard snapshot rebuilds")
	m.leaderboardRebuild = m.histogram(auto, "leaderboard_rebuild_seconds", "Leaderboard snapshot rebuild duration", m.histogramBuckets)
	m.activeUsers = m.gauge(auto, "active_users", "Users currently competing")
	m.teamCount = m.gauge(auto, "teams", "Teams in the competition")

	m.retrievalLatency = m.histogramVec(auto, "retrieval_duration_seconds", "External retrieval latency by source", "source")
	m.retrievalFailures = m.counterVec(auto, "retrieval_failures_total", "External retrieval failures by source and kind", "source", "kind")

	m.storeOperations = m.counterVec(auto, "store_operations_total", "Store operations by driver, operation and result", "driver", "operation", "result")
	m.storeLatency = m.histogramVec(auto, "store_operation_duration_seconds", "Store operation latency", "driver", "operation")

	m.httpRequests = m.counterVec(auto, "http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec(auto, "http_request_duration_seconds", "HTTP request duration", "endpoint", "method", "status_code")

	m.queueSize = m.gauge(auto, "queue_size", "Current number of queued fetch jobs")
	m.queueCapacity = m.gauge(auto, "queue_capacity", "Maximum number of queued fetch jobs")
	m.queueUtilization = m.gauge(auto, "queue_utilization_ratio", "Queue size divided by capacity")
	m.queueEnqueueRate = m.counter(auto, "queue_enqueue_total", "Jobs enqueued")
	m.queueDequeueRate = m.counter(auto, "queue_dequeue_total", "Jobs dequeued")
	m.queueEnqueueErrors = m.counterVec(auto, "queue_enqueue_errors_total", "Jobs refused by reason", "reason")
	m.queueWaitLatency = m.histogram(auto, "queue_wait_seconds", "Time spent waiting for queue room", m.histogramBuckets)

	m.workerActiveCount = m.gauge(auto, "worker_active_count", "Number of running workers")
	m.workerMessagesPerSecond = m.gauge(auto, "worker_jobs_per_second", "Jobs processed per second across the pool")
	m.workerProcessingLatency = m.histogram(auto, "worker_processing_seconds", "Time to fetch and record one user", m.histogramBuckets)
	m.workerErrorRate = m.counter(auto, "worker_errors_total", "Jobs that failed")

	m.errorRateByComponent = m.counterVec(auto, "errors_by_component_total", "Total number of errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec(auto, "errors_by_type_total", "Total number of errors by type", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec(auto, "errors_by_endpoint_total", "Total number of errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge(auto, "system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge(auto, "system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram(auto, "system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// RecordIngestRun records one bulk ingestion run.
func RecordIngestRun(outcome string, d time.Duration) {
	globalManager.ingestRuns.WithLabelValues(outcome).Inc()
	globalManager.ingestDuration.Observe(d.Seconds())
}

// RecordIngestUsers adds the per-user outcome of a bulk ingestion.
func RecordIngestUsers(succeeded, failed int) {
	globalManager.ingestUsers.WithLabelValues(ResultOK).Add(float64(succeeded))
	globalManager.ingestUsers.WithLabelValues(ResultError).Add(float64(failed))
}

// RecordStatsRecorded counts one reading recorded into the ledger.
func RecordStatsRecorded() {
	globalManager.statsRecorded.Inc()
}

// RecordOffsetApplied counts one manual offset.
func RecordOffsetApplied() {
	globalManager.offsetsApplied.Inc()
}

// RecordRetirement counts one retirement.
func RecordRetirement(reason string) {
	globalManager.retirements.WithLabelValues(reason).Inc()
}

// RecordChangeTransition counts a user change reaching state.
func RecordChangeTransition(state string) {
	globalManager.changeTransitions.WithLabelValues(state).Inc()
}

// RecordLifecycleStep records the outcome of one lifecycle step.
func RecordLifecycleStep(step string, err error, d time.Duration) {
	globalManager.lifecycleSteps.WithLabelValues(step, result(err)).Inc()
	globalManager.lifecycleDuration.WithLabelValues(step).Observe(d.Seconds())
}

// RecordStateConflict counts a write refused by the gate.
func RecordStateConflict(operation string) {
	globalManager.stateConflicts.WithLabelValues(operation).Inc()
}

// UpdateSystemState marks state as current.
func UpdateSystemState(state string) {
	m := globalManager
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.lastState != "" && m.lastState != state {
		m.systemState.WithLabelValues(m.lastState).Set(0)
	}
	m.systemState.WithLabelValues(state).Set(1)
	m.lastState = state
}

// RecordLeaderboardRebuild records one leaderboard snapshot rebuild.
func RecordLeaderboardRebuild(d time.Duration) {
	globalManager.leaderboardRebuilds.Inc()
	globalManager.leaderboardRebuild.Observe(d.Seconds())
}

// UpdateActiveUsers sets the number of competing users.
func UpdateActiveUsers(n int) {
	globalManager.activeUsers.Set(float64(n))
}

// UpdateTeamCount sets the number of teams.
func UpdateTeamCount(n int) {
	globalManager.teamCount.Set(float64(n))
}

// RecordRetrievalLatency records the latency of one external call.
func RecordRetrievalLatency(source string, d time.Duration) {
	globalManager.retrievalLatency.WithLabelValues(source).Observe(d.Seconds())
}

// RecordRetrievalFailure counts a failed external call.
func RecordRetrievalFailure(source, kind string) {
	globalManager.retrievalFailures.WithLabelValues(source, kind).Inc()
}

// RecordStoreOperation records one store operation.
func RecordStoreOperation(driver, operation string, d time.Duration, err error) {
	globalManager.storeOperations.WithLabelValues(driver, operation, result(err)).Inc()
	globalManager.storeLatency.WithLabelValues(driver, operation).Observe(d.Seconds())
}

// RecordHTTPRequest increments the HTTP requests counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, d time.Duration) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(d.Seconds())
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue counts one enqueued job.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue counts one dequeued job.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError counts one refused job.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
	RecordErrorByComponent("queue", reason)
}

// RecordQueueWaitLatency records how long a submitter waited for room.
func RecordQueueWaitLatency(d time.Duration) {
	globalManager.queueWaitLatency.Observe(d.Seconds())
}

// UpdateWorkerActiveCount sets the number of running workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerMessagesPerSecond sets the pool throughput.
func UpdateWorkerMessagesPerSecond(rate float64) {
	globalManager.workerMessagesPerSecond.Set(rate)
}

// RecordWorkerProcessingLatency records the time to process one job.
func RecordWorkerProcessingLatency(d time.Duration) {
	globalManager.workerProcessingLatency.Observe(d.Seconds())
}

// RecordWorkerError counts one failed job.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// RecordErrorByComponent records errors by component and type.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records errors by type and severity.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records errors by endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets system memory usage.
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

// RefreshInterval returns the sampling interval of the global manager.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
