// Package metrics provides Prometheus metrics for the pulse service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Ingestion
	eventsFetched   *prometheus.CounterVec
	eventsIngested  *prometheus.CounterVec
	eventsSkipped   *prometheus.CounterVec
	ingestRuns      *prometheus.CounterVec
	ingestDuration  *prometheus.HistogramVec
	cursorAdvances  *prometheus.CounterVec
	normalizeErrors *prometheus.CounterVec

	// Context cache
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Recommendation engine
	recommendations    *prometheus.CounterVec
	reasoningFallbacks *prometheus.CounterVec
	generateDuration   prometheus.Histogram
	feedbackRecorded   *prometheus.CounterVec

	// External call protection
	breakerState *prometheus.GaugeVec
	callAttempts *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Scheduler queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	workerActive       prometheus.Gauge
	workerJobLatency   prometheus.Histogram
	workerErrors       prometheus.Counter

	errorsByComponent *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton used by the package-level helpers

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "pulse",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // collector table
	auto := promauto.With(m.registry)

	m.eventsFetched = m.counterVec("ingest_events_fetched_total", "Events produced by normalizers", "source")
	m.eventsIngested = m.counterVec("ingest_events_stored_total", "Events newly stored (duplicates excluded)", "source")
	m.eventsSkipped = m.counterVec("ingest_events_duplicate_total", "Events dropped by the uniqueness key", "source")
	m.ingestRuns = m.counterVec("ingest_runs_total", "Ingestion runs per source and result", "source", "result")
	m.cursorAdvances = m.counterVec("ingest_cursor_advances_total", "Cursor writes per source", "source")
	m.normalizeErrors = m.counterVec("ingest_normalize_errors_total", "Upstream payloads that could not be normalized", "source")
	m.ingestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "ingest_duration_seconds",
		Help:    "Duration of one source ingestion",
		Buckets: m.histogramBuckets,
	}, []string{"source"})

	m.cacheHits = m.counterVec("context_cache_hits_total", "Context cache hits per layer", "layer")
	m.cacheMisses = m.counterVec("context_cache_misses_total", "Context cache misses per layer", "layer")

	m.recommendations = m.counterVec("recommendations_total", "Emitted recommendations by reasoning outcome", "reasoning")
	m.reasoningFallbacks = m.counterVec("reasoning_fallbacks_total", "Phase B outputs discarded, by reason", "reason")
	m.generateDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "recommendation_duration_seconds",
		Help:    "End-to-end recommendation latency",
		Buckets: m.histogramBuckets,
	})
	m.feedbackRecorded = m.counterVec("feedback_recorded_total", "Feedback submissions by outcome", "outcome")

	m.breakerState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "circuit_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})
	m.callAttempts = m.counterVec("external_call_attempts_total", "Protected external call attempts", "name", "result")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.queueSize = m.gauge("scheduler_queue_size", "Pending ingestion jobs")
	m.queueCapacity = m.gauge("scheduler_queue_capacity", "Capacity of the ingestion job queue")
	m.queueEnqueued = m.counter("scheduler_jobs_enqueued_total", "Ingestion jobs enqueued")
	m.queueEnqueueErrors = m.counter("scheduler_enqueue_errors_total", "Ingestion jobs rejected by the queue")
	m.workerActive = m.gauge("scheduler_workers_active", "Workers currently running a job")
	m.workerJobLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "scheduler_job_duration_seconds",
		Help:    "Duration of scheduled ingestion jobs",
		Buckets: m.histogramBuckets,
	})
	m.workerErrors = m.counter("scheduler_job_errors_total", "Scheduled ingestion jobs that failed")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and kind", "component", "kind")
}

// Manager-level recorders. The package-level helpers below route to the global manager.

func (m *Manager) RecordIngest(source string, fetched, stored int, result string, seconds float64) {
	if !m.enabled {
		return
	}
	m.eventsFetched.WithLabelValues(source).Add(float64(fetched))
	m.eventsIngested.WithLabelValues(source).Add(float64(stored))
	if fetched > stored {
		m.eventsSkipped.WithLabelValues(source).Add(float64(fetched - stored))
	}
	m.ingestRuns.WithLabelValues(source, result).Inc()
	m.ingestDuration.WithLabelValues(source).Observe(seconds)
}

func (m *Manager) RecordCursorAdvance(source string) {
	if m.enabled {
		m.cursorAdvances.WithLabelValues(source).Inc()
	}
}

func (m *Manager) RecordNormalizeError(source string) {
	if m.enabled {
		m.normalizeErrors.WithLabelValues(source).Inc()
	}
}

func (m *Manager) RecordCache(layer string, hit bool) {
	if !m.enabled {
		return
	}
	if hit {
		m.cacheHits.WithLabelValues(layer).Inc()
		return
	}
	m.cacheMisses.WithLabelValues(layer).Inc()
}

func (m *Manager) RecordRecommendation(aiUsed bool, seconds float64) {
	if !m.enabled {
		return
	}
	label := "fallback"
	if aiUsed {
		label = "ai"
	}
	m.recommendations.WithLabelValues(label).Inc()
	m.generateDuration.Observe(seconds)
}

func (m *Manager) RecordReasoningFallback(reason string) {
	if m.enabled {
		m.reasoningFallbacks.WithLabelValues(reason).Inc()
	}
}

func (m *Manager) RecordFeedback(outcome string) {
	if m.enabled {
		m.feedbackRecorded.WithLabelValues(outcome).Inc()
	}
}

func (m *Manager) SetBreakerState(name string, state float64) {
	if m.enabled {
		m.breakerState.WithLabelValues(name).Set(state)
	}
}

func (m *Manager) RecordCallAttempt(name, result string) {
	if m.enabled {
		m.callAttempts.WithLabelValues(name, result).Inc()
	}
}

func (m *Manager) RecordHTTPRequest(endpoint, method, statusCode string, seconds float64) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(seconds)
}

func (m *Manager) RecordError(component, kind string) {
	if m.enabled {
		m.errorsByComponent.WithLabelValues(component, kind).Inc()
	}
}

// RecordIngest records the outcome of one source ingestion.
func RecordIngest(source string, fetched, stored int, result string, seconds float64) {
	globalManager.RecordIngest(source, fetched, stored, result, seconds)
}

// RecordCursorAdvance counts a cursor write.
func RecordCursorAdvance(source string) { globalManager.RecordCursorAdvance(source) }

// RecordNormalizeError counts an upstream payload that failed to normalize.
func RecordNormalizeError(source string) { globalManager.RecordNormalizeError(source) }

// RecordCache counts a cache lookup for the given layer.
func RecordCache(layer string, hit bool) { globalManager.RecordCache(layer, hit) }

// RecordRecommendation counts an emitted recommendation and its latency.
func RecordRecommendation(aiUsed bool, seconds float64) {
	globalManager.RecordRecommendation(aiUsed, seconds)
}

// RecordReasoningFallback counts a discarded Phase B result.
func RecordReasoningFallback(reason string) { globalManager.RecordReasoningFallback(reason) }

// RecordFeedback counts a feedback submission.
func RecordFeedback(outcome string) { globalManager.RecordFeedback(outcome) }

// SetBreakerState publishes a breaker state.
func SetBreakerState(name string, state float64) { globalManager.SetBreakerState(name, state) }

// RecordCallAttempt counts one protected call attempt.
func RecordCallAttempt(name, result string) { globalManager.RecordCallAttempt(name, result) }

// RecordHTTPRequest records an HTTP request and its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, seconds float64) {
	globalManager.RecordHTTPRequest(endpoint, method, statusCode, seconds)
}

// RecordError records an error with component and kind labels.
func RecordError(component, kind string) { globalManager.RecordError(component, kind) }

// UpdateQueueSize sets the current scheduler queue depth.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the scheduler queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// AddWorkerActive moves the active worker gauge by delta.
func AddWorkerActive(delta int) { globalManager.workerActive.Add(float64(delta)) }

// RecordWorkerJob records a finished job.
func RecordWorkerJob(seconds float64, failed bool) {
	globalManager.workerJobLatency.Observe(seconds)
	if failed {
		globalManager.workerErrors.Inc()
	}
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
