package worker

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/inference-sim/worker-supervisor/worker/trace"
)

// AdmissionController decides, per route, whether and when a request may proceed to the
// backend. Routes are independent: each has its own lock, occupancy and FIFO wait list.
//
// # Concurrency
//
// A queued ticket ends in exactly one terminal state. Promotion (by Release) and abandonment
// (by the waiter's timer or context) both take the route mutex and check the ticket's state
// first, so whichever runs first wins and the other observes its decision.
type AdmissionController struct {
	routes  map[string]*routeQueue
	order   []string
	trace   *trace.AdmissionTrace
	metrics MetricsCollector
}

// AdmissionOption configures the AdmissionController
type AdmissionOption func(*AdmissionController)

// WithAdmissionTrace records every admission decision into at
func WithAdmissionTrace(at *trace.AdmissionTrace) AdmissionOption {
	return func(ac *AdmissionController) {
		ac.trace = at
	}
}

// WithAdmissionMetrics sets the metrics collector
func WithAdmissionMetrics(mc MetricsCollector) AdmissionOption {
	return func(ac *AdmissionController) {
		ac.metrics = mc
	}
}

type ticketState int

const (
	ticketWaiting ticketState = iota
	ticketAdmitted
	ticketTimedOut
	ticketCancelled
)

// admissionTicket is one queued request. state and elem are guarded by the route mutex.
type admissionTicket struct {
	requestID string
	arrival   time.Time
	elem      *list.Element
	admitted  chan struct{} // closed on promotion
	state     ticketState
}

type routeQueue struct {
	cfg RouteConfig

	mu       sync.Mutex
	inFlight int
	waiters  *list.List // of *admissionTicket, arrival order
}

// NewAdmissionController builds one queue per route. Routes are fixed for its lifetime.
func NewAdmissionController(routes []RouteConfig, opts ...AdmissionOption) *AdmissionController {
	ac := &AdmissionController{
		routes:  make(map[string]*routeQueue, len(routes)),
		metrics: NewNoopMetricsCollector(),
	}
	for _, r := range routes {
		if _, dup := ac.routes[r.Path]; dup {
			continue
		}
		ac.routes[r.Path] = &routeQueue{cfg: r, waiters: list.New()}
		ac.order = append(ac.order, r.Path)
	}
	for _, opt := range opts {
		opt(ac)
	}
	return ac
}

// Grant is an admitted request's claim on its route. Release must be called when the request
// completes; extra calls are ignored.
type Grant struct {
	RequestID string
	Route     string
	Queued    bool
	QueueWait time.Duration

	once    sync.Once
	release func()
}

// Release frees the route. Safe to call more than once; only the first call has effect.
func (g *Grant) Release() {
	g.once.Do(g.release)
}

// Admit blocks until the request may proceed, its route's wait budget is spent, or ctx is
// done. Unknown routes are rejected without touching any queue.
func (ac *AdmissionController) Admit(ctx context.Context, route, requestID string) (*Grant, error) {
	arrival := time.Now()
	q, ok := ac.routes[route]
	if !ok {
		ac.decide(route, requestID, arrival, false, trace.OutcomeUnknownRoute)
		return nil, newError(UnknownRoute, "route %q is not configured", route)
	}

	q.mu.Lock()
	if q.cfg.AllowParallel || q.inFlight == 0 {
		q.inFlight++
		q.mu.Unlock()
		return ac.grant(q, requestID, arrival, false), nil
	}
	budget := q.cfg.MaxQueueWait()
	if budget <= 0 {
		q.mu.Unlock()
		ac.decide(route, requestID, arrival, true, trace.OutcomeQueueTimeout)
		return nil, ac.queueTimeout(q, requestID)
	}
	tk := &admissionTicket{requestID: requestID, arrival: arrival, admitted: make(chan struct{})}
	tk.elem = q.waiters.PushBack(tk)
	depth := q.waiters.Len()
	q.mu.Unlock()
	ac.metrics.QueueDepth(route, depth)

	timer := time.NewTimer(budget - time.Since(arrival))
	defer timer.Stop()

	var cause ticketState
	select {
	case <-tk.admitted:
		return ac.grant(q, requestID, arrival, true), nil
	case <-timer.C:
		cause = ticketTimedOut
	case <-ctx.Done():
		cause = ticketCancelled
	}

	final := ac.abandon(q, tk, cause)
	switch final {
	case ticketAdmitted:
		// Promotion won the race; the caller owns the grant and must release it.
		return ac.grant(q, requestID, arrival, true), nil
	case ticketTimedOut:
		ac.decide(route, requestID, arrival, true, trace.OutcomeQueueTimeout)
		return nil, ac.queueTimeout(q, requestID)
	default:
		ac.decide(route, requestID, arrival, true, trace.OutcomeCancelled)
		return nil, fmt.Errorf("waiting for admission on %s: %w", route, ctx.Err())
	}
}

// abandon removes a waiting ticket and returns its terminal state. If the ticket was already
// decided (promoted, or expired during a release) that earlier decision is returned instead.
func (ac *AdmissionController) abandon(q *routeQueue, tk *admissionTicket, cause ticketState) ticketState {
	q.mu.Lock()
	if tk.state != ticketWaiting {
		final := tk.state
		q.mu.Unlock()
		return final
	}
	q.waiters.Remove(tk.elem)
	tk.elem = nil
	tk.state = cause
	depth := q.waiters.Len()
	q.mu.Unlock()
	ac.metrics.QueueDepth(q.cfg.Path, depth)
	return cause
}

// release frees one unit of occupancy. On a serialized route the head waiter still inside its
// budget inherits the slot; expired waiters met on the way are finalised as timed out.
func (ac *AdmissionController) release(q *routeQueue) {
	q.mu.Lock()
	if q.cfg.AllowParallel {
		q.inFlight--
		q.mu.Unlock()
		return
	}
	now := time.Now()
	budget := q.cfg.MaxQueueWait()
	for e := q.waiters.Front(); e != nil; e = q.waiters.Front() {
		tk := q.waiters.Remove(e).(*admissionTicket)
		tk.elem = nil
		if now.Sub(tk.arrival) >= budget {
			tk.state = ticketTimedOut
			continue
		}
		tk.state = ticketAdmitted
		close(tk.admitted)
		depth := q.waiters.Len()
		q.mu.Unlock()
		ac.metrics.QueueDepth(q.cfg.Path, depth)
		return
	}
	q.inFlight = 0
	q.mu.Unlock()
	ac.metrics.QueueDepth(q.cfg.Path, 0)
}

func (ac *AdmissionController) grant(q *routeQueue, requestID string, arrival time.Time, queued bool) *Grant {
	wait := time.Since(arrival)
	ac.decide(q.cfg.Path, requestID, arrival, queued, trace.OutcomeAdmitted)
	return &Grant{
		RequestID: requestID,
		Route:     q.cfg.Path,
		Queued:    queued,
		QueueWait: wait,
		release:   func() { ac.release(q) },
	}
}

func (ac *AdmissionController) decide(route, requestID string, arrival time.Time, queued bool, outcome trace.Outcome) {
	wait := time.Since(arrival)
	ac.metrics.AdmissionDecision(route, string(outcome), wait)
	ac.trace.RecordAdmission(trace.AdmissionRecord{
		RequestID: requestID,
		Route:     route,
		Arrival:   arrival,
		Queued:    queued,
		Wait:      wait,
		Outcome:   outcome,
	})
}

func (ac *AdmissionController) queueTimeout(q *routeQueue, requestID string) error {
	return newError(QueueTimeout, "request %s exceeded max_queue_seconds=%g on %s",
		requestID, q.cfg.MaxQueueSeconds, q.cfg.Path)
}

// HasRoute reports whether route is configured.
func (ac *AdmissionController) HasRoute(route string) bool {
	_, ok := ac.routes[route]
	return ok
}

// Routes returns the configured route paths in configuration order.
func (ac *AdmissionController) Routes() []string {
	return append([]string(nil), ac.order...)
}

// RouteConfig returns the policy of a configured route.
func (ac *AdmissionController) RouteConfig(route string) (RouteConfig, bool) {
	q, ok := ac.routes[route]
	if !ok {
		return RouteConfig{}, false
	}
	return q.cfg, true
}

// QueueDepth is the number of requests waiting on route.
func (ac *AdmissionController) QueueDepth(route string) int {
	q, ok := ac.routes[route]
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiters.Len()
}

// InFlight is the number of admitted, unreleased requests on route.
func (ac *AdmissionController) InFlight(route string) int {
	q, ok := ac.routes[route]
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}
