// Package bench replays a dataset through the same Router that serves production traffic and
// reports per-item outcomes and latency.
package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/inference-sim/worker-supervisor/worker"
)

// Outcome classifies a benchmark item.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
)

// Item is one request of a benchmark run. Payload is opaque.
type Item struct {
	ID      string
	Route   string
	Payload json.RawMessage
}

// Result records how one item fared.
type Result struct {
	ItemID    string
	Route     string
	Outcome   Outcome
	Code      string // condition code, empty on success
	Latency   time.Duration
	QueueWait time.Duration
	Completed time.Duration // since the run started
	Response  []byte
	Error     string
}

// Report is the ordered result of a run: Results[i] belongs to the i-th input item.
type Report struct {
	Started     time.Time
	Finished    time.Time
	Concurrency int
	Results     []Result
}

// StatusWaiter blocks until the worker reaches a status. Implemented by worker.Supervisor.
type StatusWaiter interface {
	WaitForStatus(ctx context.Context, want worker.WorkerStatus) error
}

// Config tunes a Runner.
type Config struct {
	StartupTimeout time.Duration // how long to wait for Ready (default 10m)
	Concurrency    int           // 0 = sequential on serialized routes, defaultParallelism otherwise
	RatePerSecond  float64       // 0 = unpaced
}

const (
	defaultStartupTimeout = 10 * time.Minute
	defaultParallelism    = 4
)

// Runner submits benchmark items through a Router.
type Runner struct {
	router *worker.Router
	status StatusWaiter
	cfg    Config
}

// NewRunner creates a Runner.
func NewRunner(router *worker.Router, status StatusWaiter, cfg Config) *Runner {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = defaultStartupTimeout
	}
	return &Runner{router: router, status: status, cfg: cfg}
}

// Run waits for the worker to become Ready, then submits every item. Individual failures are
// recorded and never abort the run. If Ready is not reached within StartupTimeout the run
// fails with a StartupTimeout error and no item is submitted.
func (r *Runner) Run(ctx context.Context, items []Item) (*Report, error) {
	startupCtx, cancel := context.WithTimeout(ctx, r.cfg.StartupTimeout)
	err := r.status.WaitForStatus(startupCtx, worker.StatusReady)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("waiting for worker: %w", ctx.Err())
		}
		return nil, worker.Error{Code: worker.StartupTimeout, Msg: fmt.Sprintf("worker not Ready within %s: %v", r.cfg.StartupTimeout, err)}
	}

	concurrency := r.concurrency(items)
	report := &Report{
		Started:     time.Now(),
		Concurrency: concurrency,
		Results:     make([]Result, len(items)),
	}
	var limiter *rate.Limiter
	if r.cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.RatePerSecond), 1)
	}
	logrus.Infof("benchmark: %d items, concurrency %d", len(items), concurrency)

	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	submitted := 0
	for i := range items {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		} else if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			report.Results[i] = r.runItem(ctx, items[i], report.Started)
			logrus.WithFields(logrus.Fields{
				"item":    items[i].ID,
				"outcome": report.Results[i].Outcome,
				"latency": report.Results[i].Latency,
			}).Infof("benchmark item %d/%d done", i+1, len(items))
			return nil
		})
		submitted = i + 1
	}
	_ = g.Wait()
	report.Finished = time.Now()

	if submitted < len(items) {
		for i := submitted; i < len(items); i++ {
			report.Results[i] = Result{
				ItemID:  items[i].ID,
				Route:   items[i].Route,
				Outcome: OutcomeError,
				Code:    worker.Unknown,
				Error:   fmt.Sprintf("not submitted: %v", ctx.Err()),
			}
		}
		return report, fmt.Errorf("benchmark interrupted after %d of %d items: %w", submitted, len(items), ctx.Err())
	}
	return report, nil
}

func (r *Runner) runItem(ctx context.Context, item Item, runStart time.Time) Result {
	start := time.Now()
	resp, err := r.router.Handle(ctx, &worker.Request{ID: item.ID, Route: item.Route, Payload: item.Payload})
	res := Result{
		ItemID:    item.ID,
		Route:     item.Route,
		Latency:   time.Since(start),
		Completed: time.Since(runStart),
	}
	if err != nil {
		res.Code = worker.CanonicalCode(err)
		res.Error = err.Error()
		res.Outcome = OutcomeError
		if res.Code == worker.QueueTimeout || res.Code == worker.BackendTimeout {
			res.Outcome = OutcomeTimeout
		}
		return res
	}
	res.Outcome = OutcomeSuccess
	res.QueueWait = resp.QueueWait
	res.Response = resp.Payload
	return res
}

// concurrency picks the bound: the configured value, or sequential when any item targets a
// serialized route.
func (r *Runner) concurrency(items []Item) int {
	if r.cfg.Concurrency > 0 {
		return r.cfg.Concurrency
	}
	ac := r.router.Admission()
	for _, it := range items {
		cfg, ok := ac.RouteConfig(it.Route)
		if ok && !cfg.AllowParallel {
			return 1
		}
	}
	return defaultParallelism
}
