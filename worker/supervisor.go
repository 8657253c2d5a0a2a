package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/worker-supervisor/worker/health"
	"github.com/inference-sim/worker-supervisor/worker/logmon"
)

// Snapshot is a point-in-time view of the supervisor for operators.
type Snapshot struct {
	Status        WorkerStatus   `json:"status" yaml:"status"`
	Since         time.Time      `json:"since" yaml:"since"`
	Healthy       bool           `json:"healthy" yaml:"healthy"`
	HealthStreak  int            `json:"health_failure_streak" yaml:"health_failure_streak"`
	LoadSeen      bool           `json:"load_seen" yaml:"load_seen"`
	LastError     string         `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LastErrorTime *time.Time     `json:"last_error_time,omitempty" yaml:"last_error_time,omitempty"`
	RecentEvents  []logmon.Event `json:"recent_events" yaml:"recent_events"`
}

// Supervisor owns the WorkerStatus. Status changes only in response to log events, health
// signals, backend process exit, Stop and Reset; request traffic never changes it.
type Supervisor struct {
	monitor  *logmon.Monitor
	checker  *health.Checker
	process  *Process
	metrics  MetricsCollector
	needLoad bool

	mu        sync.Mutex
	status    WorkerStatus
	since     time.Time
	healthy   bool
	streak    int
	loadSeen  bool
	lastError string
	lastErrAt time.Time
	events    eventRing
	changed   chan struct{} // closed and replaced on every transition
	cancelRun context.CancelFunc
}

// SupervisorOption configures a Supervisor
type SupervisorOption func(*supervisorOptions)

type supervisorOptions struct {
	metrics      MetricsCollector
	client       *http.Client
	pollInterval time.Duration
}

// WithSupervisorMetrics sets the metrics collector
func WithSupervisorMetrics(mc MetricsCollector) SupervisorOption {
	return func(o *supervisorOptions) {
		o.metrics = mc
	}
}

// WithHealthClient sets the HTTP client used by the health probes
func WithHealthClient(c *http.Client) SupervisorOption {
	return func(o *supervisorOptions) {
		o.client = c
	}
}

// WithLogPollInterval overrides how often the log file is polled when no change
// notification arrives
func WithLogPollInterval(d time.Duration) SupervisorOption {
	return func(o *supervisorOptions) {
		o.pollInterval = d
	}
}

// NewSupervisor validates cfg and builds the monitor, checker and optional backend process.
func NewSupervisor(cfg *WorkerConfig, opts ...SupervisorOption) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}
	o := supervisorOptions{metrics: NewNoopMetricsCollector()}
	for _, opt := range opts {
		opt(&o)
	}

	monitor := logmon.NewMonitor(logmon.Config{
		Path:         cfg.LogFile,
		Patterns:     cfg.LogActions.Patterns(),
		PollInterval: o.pollInterval,
	})
	checker := health.NewChecker(health.Config{
		URL:              cfg.Backend.HealthURL(),
		Interval:         cfg.Health.Interval(),
		Timeout:          cfg.Health.Timeout(),
		FailureThreshold: cfg.Health.Threshold(),
		Client:           o.client,
	})
	s := &Supervisor{
		monitor:  monitor,
		checker:  checker,
		metrics:  o.metrics,
		needLoad: monitor.Classifier().HasCategory(logmon.Load),
		status:   StatusStarting,
		since:    time.Now(),
		events:   newEventRing(cfg.recentEvents()),
		changed:  make(chan struct{}),
	}
	if len(cfg.Backend.Command) > 0 {
		s.process = NewProcess(cfg.Backend.Command, cfg.Backend.WorkDir, cfg.LogFile, cfg.Backend.StopGrace())
	}
	return s, nil
}

// Run launches the backend (when a command is configured) and observes it until ctx is done,
// Stop is called, or the backend exits. The status is Stopped when Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return nil
	}
	s.cancelRun = cancel
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for ev := range s.monitor.Events(gctx) {
			s.observeLog(ev)
		}
		return nil
	})
	g.Go(func() error {
		s.checker.Run(gctx, s.observeHealth, func(r health.Result) {
			s.metrics.HealthProbe(r.String())
		})
		return nil
	})
	if s.process != nil {
		g.Go(func() error {
			err := s.process.Run(gctx)
			if gctx.Err() == nil {
				s.stop("backend process exited")
				cancel()
			}
			return err
		})
	}
	err := g.Wait()
	s.stop("supervisor shutting down")
	if dropped := s.monitor.Dropped(); dropped > 0 {
		logrus.Warnf("log monitor dropped %d non-error events while the supervisor lagged", dropped)
	}
	return err
}

// Stop moves the worker to Stopped and ends Run. Stopped is terminal.
func (s *Supervisor) Stop() {
	s.stop("stop requested")
	s.mu.Lock()
	cancel := s.cancelRun
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Reset is the operator's way out of Errored: the status is recomputed from the current health
// and load signals. It has no effect in any other status and returns the resulting status.
func (s *Supervisor) Reset() WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusErrored {
		return s.status
	}
	s.transitionLocked(s.settledLocked(), "operator reset")
	return s.status
}

// Status returns the current WorkerStatus.
func (s *Supervisor) Status() WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns the status together with the signals that produced it.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Status:       s.status,
		Since:        s.since,
		Healthy:      s.healthy,
		HealthStreak: s.streak,
		LoadSeen:     s.loadSeen,
		LastError:    s.lastError,
		RecentEvents: s.events.last(s.events.cap()),
	}
	if !s.lastErrAt.IsZero() {
		t := s.lastErrAt
		snap.LastErrorTime = &t
	}
	return snap
}

// RecentEvents returns up to n of the most recent classified log events, oldest first.
func (s *Supervisor) RecentEvents(n int) []logmon.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.last(n)
}

// WaitForStatus blocks until the status equals want or ctx is done. It fails early when the
// worker has stopped and want is something else.
func (s *Supervisor) WaitForStatus(ctx context.Context, want WorkerStatus) error {
	for {
		s.mu.Lock()
		cur, ch := s.status, s.changed
		s.mu.Unlock()
		if cur == want {
			return nil
		}
		if cur.IsTerminal() {
			return fmt.Errorf("worker is %s, will never become %s", cur, want)
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("waiting for status %s (currently %s): %w", want, cur, ctx.Err())
		}
	}
}

// observeLog applies one classified log event.
func (s *Supervisor) observeLog(ev logmon.Event) {
	s.metrics.LogEvent(ev.Category.String())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.push(ev)

	switch ev.Category {
	case logmon.Error:
		s.lastError = ev.Line
		s.lastErrAt = ev.Time
		if s.status != StatusStopped && s.status != StatusErrored {
			s.transitionLocked(StatusErrored, "error in backend log: "+ev.Line)
		}
	case logmon.Load:
		s.loadSeen = true
		if s.status == StatusStarting || s.status == StatusLoading {
			s.transitionLocked(s.settledLocked(), "load progress in backend log")
		}
	}
}

// observeHealth applies a readiness flip from the health checker.
func (s *Supervisor) observeHealth(sig health.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = sig.Ready
	s.streak = sig.Streak

	if sig.Ready {
		switch s.status {
		case StatusStarting, StatusLoading, StatusDegraded:
			s.transitionLocked(s.settledLocked(), "health check passing")
		}
		return
	}
	if s.status == StatusReady {
		s.transitionLocked(StatusDegraded, fmt.Sprintf("%d consecutive failed health checks", sig.Streak))
	}
}

// settledLocked is the status implied by the current signals alone. Ready needs both the
// health signal and, when load patterns are configured, at least one load event.
func (s *Supervisor) settledLocked() WorkerStatus {
	switch {
	case s.healthy && (s.loadSeen || !s.needLoad):
		return StatusReady
	case s.loadSeen:
		return StatusLoading
	default:
		return StatusStarting
	}
}

func (s *Supervisor) stop(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusStopped {
		s.transitionLocked(StatusStopped, reason)
	}
}

func (s *Supervisor) transitionLocked(to WorkerStatus, reason string) {
	from := s.status
	if from == to {
		return
	}
	s.status = to
	s.since = time.Now()
	close(s.changed)
	s.changed = make(chan struct{})
	s.metrics.StatusTransition(from, to)

	entry := logrus.WithFields(logrus.Fields{"from": from, "to": to})
	if to == StatusErrored || to == StatusDegraded {
		entry.Warnf("worker status changed: %s", reason)
	} else {
		entry.Infof("worker status changed: %s", reason)
	}
}

// eventRing keeps the most recent classified events.
type eventRing struct {
	buf  []logmon.Event
	next int
	size int
}

func newEventRing(capacity int) eventRing {
	return eventRing{buf: make([]logmon.Event, capacity)}
}

func (r *eventRing) cap() int { return len(r.buf) }

func (r *eventRing) push(ev logmon.Event) {
	if len(r.buf) == 0 {
		return
	}
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// last returns up to n events, oldest first.
func (r *eventRing) last(n int) []logmon.Event {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return []logmon.Event{}
	}
	out := make([]logmon.Event, 0, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
