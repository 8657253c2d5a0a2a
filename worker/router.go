package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

// Request is one inbound call. Payload is opaque and forwarded unchanged.
type Request struct {
	ID      string
	Route   string
	Payload json.RawMessage
}

// Response is a relayed backend reply plus the time spent on each side of admission.
type Response struct {
	RequestID      string
	Route          string
	StatusCode     int
	ContentType    string
	Payload        []byte
	QueueWait      time.Duration
	BackendLatency time.Duration
}

// StatusSource reports the current worker status. Implemented by Supervisor.
type StatusSource interface {
	Status() WorkerStatus
}

// Forwarder delivers an admitted request to the backend. Implemented by HTTPForwarder.
type Forwarder interface {
	Forward(ctx context.Context, route string, payload []byte) (*BackendResponse, error)
}

// Router is the single entry point for inbound requests, used by both the HTTP server and
// the benchmark runner.
type Router struct {
	status    StatusSource
	admission *AdmissionController
	forwarder Forwarder
	timeout   time.Duration
	metrics   MetricsCollector
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithRouterMetrics sets the metrics collector
func WithRouterMetrics(mc MetricsCollector) RouterOption {
	return func(r *Router) {
		r.metrics = mc
	}
}

// NewRouter wires the status gate, admission controller and forwarder. timeout bounds each
// backend call and is independent of any route's queue budget; zero means the default.
func NewRouter(status StatusSource, admission *AdmissionController, forwarder Forwarder, timeout time.Duration, opts ...RouterOption) *Router {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	r := &Router{
		status:    status,
		admission: admission,
		forwarder: forwarder,
		timeout:   timeout,
		metrics:   NewNoopMetricsCollector(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Admission exposes the router's admission controller for introspection.
func (r *Router) Admission() *AdmissionController {
	return r.admission
}

// Handle runs one request through the status gate, admission and the backend.
func (r *Router) Handle(ctx context.Context, req *Request) (*Response, error) {
	if st := r.status.Status(); !st.AcceptsTraffic() {
		return nil, newError(NotReady, "worker is %s", st)
	}
	// Admit resolves the route before touching any queue.
	grant, err := r.admission.Admit(ctx, req.Route, req.ID)
	if err != nil {
		return nil, err
	}
	defer grant.Release()

	fctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	resp, err := r.forwarder.Forward(fctx, req.Route, req.Payload)
	latency := time.Since(start)
	if err != nil {
		code := CanonicalCode(err)
		r.metrics.BackendRequest(req.Route, code, latency)
		logrus.WithFields(logrus.Fields{
			"request_id": req.ID,
			"route":      req.Route,
			"code":       code,
		}).Warnf("request failed: %v", err)
		return nil, err
	}
	r.metrics.BackendRequest(req.Route, "OK", latency)

	return &Response{
		RequestID:      req.ID,
		Route:          req.Route,
		StatusCode:     resp.StatusCode,
		ContentType:    resp.ContentType,
		Payload:        resp.Body,
		QueueWait:      grant.QueueWait,
		BackendLatency: latency,
	}, nil
}
