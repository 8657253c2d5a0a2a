// Package metrics exports the supervisor's observability hooks as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inference-sim/worker-supervisor/worker"
)

var allStatuses = []worker.WorkerStatus{
	worker.StatusStarting,
	worker.StatusLoading,
	worker.StatusReady,
	worker.StatusDegraded,
	worker.StatusErrored,
	worker.StatusStopped,
}

// PrometheusMetricsCollector implements worker.MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	// Lifecycle metrics
	status            *prometheus.GaugeVec
	statusTransitions *prometheus.CounterVec
	logEvents         *prometheus.CounterVec
	healthProbes      *prometheus.CounterVec

	// Admission metrics
	admissions *prometheus.CounterVec
	queueWait  *prometheus.HistogramVec
	queueDepth *prometheus.GaugeVec

	// Backend metrics
	backendRequests *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a collector with its own registry
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "worker"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.status = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status",
			Help:      "Current worker status (1 for the active status, 0 otherwise)",
		},
		[]string{"status"},
	)

	pmc.statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Total number of worker status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	pmc.logEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_events_total",
			Help:      "Total number of classified backend log lines",
		},
		[]string{"category"},
	)

	pmc.healthProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_probes_total",
			Help:      "Total number of backend health probes by result",
		},
		[]string{"result"},
	)

	pmc.admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_decisions_total",
			Help:      "Total number of admission decisions by outcome",
		},
		[]string{"route", "outcome"},
	)

	pmc.queueWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_wait_seconds",
			Help:      "Time spent waiting for admission",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "outcome"},
	)

	pmc.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admission_queue_depth",
			Help:      "Current number of requests waiting for admission",
		},
		[]string{"route"},
	)

	pmc.backendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of requests forwarded to the backend by result code",
		},
		[]string{"route", "code"},
	)

	pmc.backendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Duration of backend calls",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"route", "code"},
	)

	pmc.registry.MustRegister(
		pmc.status,
		pmc.statusTransitions,
		pmc.logEvents,
		pmc.healthProbes,
		pmc.admissions,
		pmc.queueWait,
		pmc.queueDepth,
		pmc.backendRequests,
		pmc.backendLatency,
	)
	pmc.setStatus(worker.StatusStarting)

	return pmc
}

// StatusTransition records a status change and moves the status gauge
func (pmc *PrometheusMetricsCollector) StatusTransition(from, to worker.WorkerStatus) {
	pmc.statusTransitions.WithLabelValues(from.String(), to.String()).Inc()
	pmc.setStatus(to)
}

func (pmc *PrometheusMetricsCollector) setStatus(active worker.WorkerStatus) {
	for _, st := range allStatuses {
		v := 0.0
		if st == active {
			v = 1
		}
		pmc.status.WithLabelValues(st.String()).Set(v)
	}
}

// LogEvent records a classified log line
func (pmc *PrometheusMetricsCollector) LogEvent(category string) {
	pmc.logEvents.WithLabelValues(category).Inc()
}

// HealthProbe records a raw probe result
func (pmc *PrometheusMetricsCollector) HealthProbe(result string) {
	pmc.healthProbes.WithLabelValues(result).Inc()
}

// AdmissionDecision records an admission outcome and how long it took
func (pmc *PrometheusMetricsCollector) AdmissionDecision(route, outcome string, wait time.Duration) {
	pmc.admissions.WithLabelValues(route, outcome).Inc()
	pmc.queueWait.WithLabelValues(route, outcome).Observe(wait.Seconds())
}

// QueueDepth records the current wait-list length of a route
func (pmc *PrometheusMetricsCollector) QueueDepth(route string, depth int) {
	pmc.queueDepth.WithLabelValues(route).Set(float64(depth))
}

// BackendRequest records a forwarded request's result and latency
func (pmc *PrometheusMetricsCollector) BackendRequest(route, code string, latency time.Duration) {
	pmc.backendRequests.WithLabelValues(route, code).Inc()
	pmc.backendLatency.WithLabelValues(route, code).Observe(latency.Seconds())
}

// Registry returns the Prometheus registry for HTTP handler setup
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

// Handler serves the registry in the Prometheus exposition format
func (pmc *PrometheusMetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(pmc.registry, promhttp.HandlerOpts{})
}

// Compile-time interface compliance check
var _ worker.MetricsCollector = (*PrometheusMetricsCollector)(nil)
