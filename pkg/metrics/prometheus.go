// Package metrics provides Prometheus metrics for the fieldguard server and agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector exported by the process.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Ingest
	samplesIngested  prometheus.Counter
	samplesDuplicate prometheus.Counter
	batchSize        prometheus.Histogram
	batchLatency     prometheus.Histogram
	riskScore        prometheus.Histogram
	alertsRaised     *prometheus.CounterVec

	// Attendance and geofencing
	geofenceDecisions *prometheus.CounterVec
	attendanceActions *prometheus.CounterVec

	// Repository
	repositoryLatency *prometheus.HistogramVec

	// Partitioned queue
	queueCapacity      prometheus.Gauge
	partitionDepth     *prometheus.GaugeVec
	queueEnqueued      prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec

	// Workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	alertSubscribers    prometheus.Gauge

	// Errors
	errorsByComponent *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

	// Agent replay
	replayRuns      *prometheus.CounterVec
	replayActions   *prometheus.CounterVec
	samplesUploaded prometheus.Counter
	pendingActions  prometheus.Gauge
	pendingSamples  prometheus.Gauge

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
	systemCPUPercent     prometheus.Gauge
	processRSSBytes      prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // process-wide metrics

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process-wide registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "fieldguard",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		enabled:          true,
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.samplesIngested = m.counter("samples_ingested_total", "Location samples scored and persisted")
	m.samplesDuplicate = m.counter("samples_duplicate_total", "Re-delivered location samples skipped by identity")
	m.batchSize = m.histogram("ingest_batch_size", "Samples per ingest batch",
		[]float64{1, 5, 10, 25, 50, 100, 250, 500})
	m.batchLatency = m.histogram("ingest_batch_latency_milliseconds", "End-to-end ingest batch latency", m.histogramBuckets)
	m.riskScore = m.histogram("risk_score", "Distribution of per-sample risk scores",
		[]float64{0, 15, 30, 50, 70, 100})
	m.alertsRaised = m.counterVec("alerts_total", "Spoofing alerts raised by type and severity", "type", "severity")

	m.geofenceDecisions = m.counterVec("geofence_decisions_total", "Geofence gate decisions by outcome", "outcome")
	m.attendanceActions = m.counterVec("attendance_actions_total", "Attendance actions by kind and outcome", "kind", "outcome")

	m.repositoryLatency = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "repository_operation_latency_milliseconds",
		Help:    "Store operation latency by operation and result",
		Buckets: m.histogramBuckets,
	}, []string{"operation", "result"})

	m.queueCapacity = m.gauge("queue_capacity", "Capacity of each ingest partition")
	m.partitionDepth = m.gaugeVec("queue_partition_depth", "Jobs waiting per ingest partition", "partition")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Ingest jobs accepted by the partitioned queue")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Ingest jobs rejected by reason", "reason")

	m.workerCount = m.gauge("worker_count", "Ingest partition workers running")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Time a worker spends on one ingest job", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Ingest jobs that failed in a worker")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by route, method and status",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
	m.alertSubscribers = m.gauge("alert_subscribers", "Connected live alert stream clients")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total", "HTTP errors by route, method and type",
		"endpoint", "method", "error_type")

	m.replayRuns = m.counterVec("replay_runs_total", "Replay runs by outcome", "outcome")
	m.replayActions = m.counterVec("replay_actions_total", "Replayed attendance actions by result", "result")
	m.samplesUploaded = m.counter("samples_uploaded_total", "Pending location samples acknowledged by the server")
	m.pendingActions = m.gauge("pending_actions", "Attendance actions waiting in the offline store")
	m.pendingSamples = m.gauge("pending_samples", "Location samples waiting in the offline store")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause time",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10})
	m.systemCPUPercent = m.gauge("system_cpu_percent", "Process CPU utilisation percent")
	m.processRSSBytes = m.gauge("process_rss_bytes", "Process resident set size")
}

// GetRegistry returns the custom registry that backs /metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

func on() bool { return globalManager != nil && globalManager.enabled }

// Ingest.

// RecordSampleIngested counts one persisted sample and its risk score.
func RecordSampleIngested(score int) {
	if !on() {
		return
	}
	globalManager.samplesIngested.Inc()
	globalManager.riskScore.Observe(float64(score))
}

// RecordSampleDuplicate counts a skipped re-delivered sample.
func RecordSampleDuplicate() {
	if on() {
		globalManager.samplesDuplicate.Inc()
	}
}

// RecordIngestBatch records the size and latency of one batch.
func RecordIngestBatch(size int, latencyMs float64) {
	if !on() {
		return
	}
	globalManager.batchSize.Observe(float64(size))
	globalManager.batchLatency.Observe(latencyMs)
}

// RecordAlert counts a persisted alert.
func RecordAlert(alertType, severity string) {
	if on() {
		globalManager.alertsRaised.WithLabelValues(alertType, severity).Inc()
	}
}

// RecordGeofenceDecision counts an allow/warn/deny decision.
func RecordGeofenceDecision(outcome string) {
	if on() {
		globalManager.geofenceDecisions.WithLabelValues(outcome).Inc()
	}
}

// RecordAttendanceAction counts a clock action by kind and outcome.
func RecordAttendanceAction(kind, outcome string) {
	if on() {
		globalManager.attendanceActions.WithLabelValues(kind, outcome).Inc()
	}
}

// Repository.

// RecordRepositoryOperation records the latency of one store call. result is
// "ok" or a short error class.
func RecordRepositoryOperation(operation, result string, latencyMs float64) {
	if on() {
		globalManager.repositoryLatency.WithLabelValues(operation, result).Observe(latencyMs)
	}
}

// Queue.

// UpdateQueueCapacity sets the per-partition capacity.
func UpdateQueueCapacity(capacity int) {
	if on() {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// UpdatePartitionDepth sets the backlog of one partition.
func UpdatePartitionDepth(partition string, depth int) {
	if on() {
		globalManager.partitionDepth.WithLabelValues(partition).Set(float64(depth))
	}
}

// RecordQueueEnqueue counts an accepted job.
func RecordQueueEnqueue() {
	if on() {
		globalManager.queueEnqueued.Inc()
	}
}

// RecordQueueEnqueueError counts a rejected job.
func RecordQueueEnqueueError(reason string) {
	if on() {
		globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
	}
}

// Workers.

// UpdateWorkerCount sets the number of running workers.
func UpdateWorkerCount(count int) {
	if on() {
		globalManager.workerCount.Set(float64(count))
	}
}

// RecordWorkerProcessingLatency records time spent on one job.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if on() {
		globalManager.workerProcessingLatency.Observe(latencyMs)
	}
}

// RecordWorkerError counts a failed job.
func RecordWorkerError() {
	if on() {
		globalManager.workerErrors.Inc()
	}
}

// HTTP.

// RecordHTTPRequest records one request and its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	if !on() {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// UpdateAlertSubscribers sets the live alert stream client count.
func UpdateAlertSubscribers(count int) {
	if on() {
		globalManager.alertSubscribers.Set(float64(count))
	}
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if on() {
		globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// RecordErrorByEndpoint records an HTTP error.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if on() {
		globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// Agent.

// RecordReplayRun counts a replay run outcome: ok, empty, halted.
func RecordReplayRun(outcome string) {
	if on() {
		globalManager.replayRuns.WithLabelValues(outcome).Inc()
	}
}

// RecordReplayAction counts one replayed action result.
func RecordReplayAction(result string) {
	if on() {
		globalManager.replayActions.WithLabelValues(result).Inc()
	}
}

// RecordSamplesUploaded counts samples acknowledged by the server.
func RecordSamplesUploaded(n int) {
	if on() {
		globalManager.samplesUploaded.Add(float64(n))
	}
}

// UpdatePending sets the offline backlog gauges.
func UpdatePending(actions, samples int) {
	if !on() {
		return
	}
	globalManager.pendingActions.Set(float64(actions))
	globalManager.pendingSamples.Set(float64(samples))
}

// System.

// UpdateSystemMemoryUsage sets heap bytes allocated.
func UpdateSystemMemoryUsage(bytes uint64) {
	if on() {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if on() {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime records the average GC pause.
func RecordSystemGCPauseTime(pauseMs float64) {
	if on() {
		globalManager.systemGCPauseTime.Observe(pauseMs)
	}
}

// UpdateProcessUsage sets CPU percent and resident memory of this process.
func UpdateProcessUsage(cpuPercent float64, rssBytes uint64) {
	if !on() {
		return
	}
	globalManager.systemCPUPercent.Set(cpuPercent)
	globalManager.processRSSBytes.Set(float64(rssBytes))
}
