// Package metrics provides Prometheus metrics for the proctor integrity engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector exported by the engine.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	riskBuckets    []float64
	enabled        bool
	customLabels   map[string]string
	metricPrefix   string
	registry       prometheus.Registerer

	// Detection cycle
	ticks          prometheus.Counter
	tickDuration   prometheus.Histogram
	detectorErrors *prometheus.CounterVec
	violations     *prometheus.CounterVec
	riskScore      prometheus.Histogram

	// Alerting
	alerts        *prometheus.CounterVec
	alertsSkipped prometheus.Counter

	// Persistence
	flushes       *prometheus.CounterVec
	flushDuration prometheus.Histogram

	// Sessions
	activeSessions prometheus.Gauge
	sessionsEnded  prometheus.Counter

	// Input buffering
	inputEvents   *prometheus.CounterVec
	inputQueueLen prometheus.Gauge

	// Device inference collaborator
	inferenceCalls *prometheus.CounterVec
	breakerState   prometheus.Gauge

	// Observers
	busPublished *prometheus.CounterVec
	wsClients    prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager. Without WithPrometheusRegistry the
// collectors land on the default registerer.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "proctor",
		subsystem:      "engine",
		latencyBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		riskBuckets:    prometheus.LinearBuckets(0, 10, 11),
		enabled:        true,
		customLabels:   make(map[string]string),
		registry:       prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	m.ticks = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name: m.name("ticks_total"),
		Help: "Total number of detection cycles executed",
	})
	m.tickDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name:    m.name("tick_duration_milliseconds"),
		Help:    "Duration of one detection cycle in milliseconds",
		Buckets: m.latencyBuckets,
	})
	m.detectorErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name: m.name("detector_errors_total"),
		Help: "Detector failures isolated to a single signal",
	}, []string{"signal"})
	m.violations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name: m.name("violations_total"),
		Help: "Violation windows opened per signal",
	}, []string{"signal"})
	m.riskScore = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name:    m.name("risk_score"),
		Help:    "Distribution of per-tick risk scores",
		Buckets: m.riskBuckets,
	})

	m.alerts = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name: m.name("alerts_total"),
		Help: "Alerts emitted by severity",
	}, []string{"severity"})
	m.alertsSkipped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name: m.name("alerts_suppressed_total"),
		Help: "Violating ticks that were suppressed by the alert cooldown",
	})

	m.flushes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name: m.name("flushes_total"),
		Help: "Durable aggregate flushes by result",
	}, []string{"result"})
	m.flushDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name:    m.name("flush_duration_milliseconds"),
		Help:    "Duration of durable aggregate flushes in milliseconds",
		Buckets: m.latencyBuckets,
	})

	m.activeSessions = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name: m.name("active_sessions"),
		Help: "Sessions with a running detection driver",
	})
	m.sessionsEnded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name: m.name("sessions_ended_total"),
		Help: "Sessions closed and finalized",
	})

	m.inputEvents = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name: m.name("input_events_total"),
		Help: "Input events received by kind and outcome",
	}, []string{"kind", "outcome"})
	m.inputQueueLen = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name: m.name("input_queue_length"),
		Help: "Input events buffered for the next tick (last observed)",
	})

	m.inferenceCalls = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name: m.name("inference_calls_total"),
		Help: "Device inference calls by result",
	}, []string{"result"})
	m.breakerState = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name: m.name("inference_breaker_state"),
		Help: "Device inference circuit breaker state (0 closed, 1 half-open, 2 open)",
	})

	m.busPublished = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name: m.name("bus_published_total"),
		Help: "Observer bus publications by topic and result",
	}, []string{"topic", "result"})
	m.wsClients = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name: m.name("websocket_clients"),
		Help: "Connected live-push clients",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "http", ConstLabels: labels,
		Name: m.name("requests_total"),
		Help: "Total HTTP requests by endpoint, method and status code",
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "http", ConstLabels: labels,
		Name:    m.name("request_duration_seconds"),
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: labels,
		Name: m.name("errors_total"),
		Help: "Errors by component and type",
	}, []string{"component", "error_type"})
}

// RecordTick records one completed detection cycle.
func RecordTick(durationMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.ticks.Inc()
	globalManager.tickDuration.Observe(durationMs)
}

// RecordDetectorError records a failure isolated to one signal.
func RecordDetectorError(signal string) {
	if !globalManager.enabled {
		return
	}
	globalManager.detectorErrors.WithLabelValues(signal).Inc()
}

// RecordViolation records a newly opened violation window.
func RecordViolation(signal string, delta int) {
	if !globalManager.enabled || delta <= 0 {
		return
	}
	globalManager.violations.WithLabelValues(signal).Add(float64(delta))
}

// ObserveRiskScore records a per-tick risk score.
func ObserveRiskScore(score float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.riskScore.Observe(score)
}

// RecordAlert records an emitted alert.
func RecordAlert(severity string) {
	if !globalManager.enabled {
		return
	}
	globalManager.alerts.WithLabelValues(severity).Inc()
}

// RecordAlertSuppressed records a violating tick swallowed by the cooldown.
func RecordAlertSuppressed() {
	if !globalManager.enabled {
		return
	}
	globalManager.alertsSkipped.Inc()
}

// RecordFlush records a durable flush attempt.
func RecordFlush(result string, durationMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.flushes.WithLabelValues(result).Inc()
	globalManager.flushDuration.Observe(durationMs)
}

// UpdateActiveSessions sets the number of running drivers.
func UpdateActiveSessions(count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.activeSessions.Set(float64(count))
}

// RecordSessionEnded increments the finalized sessions counter.
func RecordSessionEnded() {
	if !globalManager.enabled {
		return
	}
	globalManager.sessionsEnded.Inc()
}

// RecordInputEvent records an input event by kind and outcome
// (accepted, duplicate, dropped).
func RecordInputEvent(kind, outcome string) {
	if !globalManager.enabled {
		return
	}
	globalManager.inputEvents.WithLabelValues(kind, outcome).Inc()
}

// UpdateInputQueueLength records the buffered input length.
func UpdateInputQueueLength(n int) {
	if !globalManager.enabled {
		return
	}
	globalManager.inputQueueLen.Set(float64(n))
}

// RecordInferenceCall records a device inference call result
// (ok, degraded, rejected).
func RecordInferenceCall(result string) {
	if !globalManager.enabled {
		return
	}
	globalManager.inferenceCalls.WithLabelValues(result).Inc()
}

// UpdateBreakerState records the circuit breaker state.
func UpdateBreakerState(state int) {
	if !globalManager.enabled {
		return
	}
	globalManager.breakerState.Set(float64(state))
}

// RecordBusPublish records an observer bus publication.
func RecordBusPublish(topic, result string) {
	if !globalManager.enabled {
		return
	}
	globalManager.busPublished.WithLabelValues(topic, result).Inc()
}

// UpdateWebsocketClients sets the number of connected live-push clients.
func UpdateWebsocketClients(n int) {
	if !globalManager.enabled {
		return
	}
	globalManager.wsClients.Set(float64(n))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in seconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error attributed to a component.
func RecordErrorByComponent(component, errorType string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
