package worker

import "time"

// MetricsCollector receives the supervisor's observability hooks.
type MetricsCollector interface {
	// StatusTransition records a WorkerStatus change
	StatusTransition(from, to WorkerStatus)

	// LogEvent records a classified log line by category name
	LogEvent(category string)

	// HealthProbe records a raw health probe result by name
	HealthProbe(result string)

	// AdmissionDecision records how long a request waited and how admission ended
	AdmissionDecision(route, outcome string, wait time.Duration)

	// QueueDepth records the current number of waiters on a route
	QueueDepth(route string, depth int)

	// BackendRequest records a forwarded request's outcome code and latency
	BackendRequest(route, code string, latency time.Duration)
}

// noopMetricsCollector is a no-op implementation of MetricsCollector
type noopMetricsCollector struct{}

func (n *noopMetricsCollector) StatusTransition(from, to WorkerStatus)                    {}
func (n *noopMetricsCollector) LogEvent(category string)                                  {}
func (n *noopMetricsCollector) HealthProbe(result string)                                 {}
func (n *noopMetricsCollector) AdmissionDecision(route, outcome string, wait time.Duration) {}
func (n *noopMetricsCollector) QueueDepth(route string, depth int)                        {}
func (n *noopMetricsCollector) BackendRequest(route, code string, latency time.Duration)  {}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
