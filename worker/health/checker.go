// Package health probes the backend's readiness endpoint and smooths the raw probe results
// into a readiness signal that only drops after several consecutive failures.
package health

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Result is the outcome of a single probe.
type Result int

const (
	// Healthy - endpoint answered with a 2xx status
	Healthy Result = iota
	// Unhealthy - endpoint reachable but answered with a non-success status
	Unhealthy
	// Unreachable - connection failed (server not listening yet)
	Unreachable
)

// String returns the string representation of a Result
func (r Result) String() string {
	switch r {
	case Healthy:
		return "Healthy"
	case Unhealthy:
		return "Unhealthy"
	case Unreachable:
		return "Unreachable"
	default:
		return "Unknown"
	}
}

// Signal is the externally visible readiness after hysteresis.
type Signal struct {
	Ready  bool
	Last   Result
	Streak int // consecutive non-Healthy results
}

// Config configures a Checker.
type Config struct {
	URL              string
	Interval         time.Duration // probe period (default 1s)
	Timeout          time.Duration // single probe bound (default 2s)
	FailureThreshold int           // consecutive failures that lower readiness (default 3)
	Client           *http.Client  // optional; Timeout is applied per probe via context
}

const (
	defaultInterval         = 1 * time.Second
	defaultTimeout          = 2 * time.Second
	defaultFailureThreshold = 3
)

// Checker polls the health endpoint and maintains the failure streak.
type Checker struct {
	cfg    Config
	client *http.Client

	mu     sync.Mutex
	signal Signal
}

// NewChecker creates a Checker with readiness initially lowered.
func NewChecker(cfg Config) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Checker{cfg: cfg, client: client, signal: Signal{Last: Unreachable}}
}

// Poll issues one probe with the configured timeout.
func (c *Checker) Poll(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return Unreachable
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Unreachable
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Healthy
	}
	return Unhealthy
}

// Observe folds one probe result into the signal. It returns the new signal and whether
// readiness flipped. A Healthy result raises readiness at once; readiness only drops after
// FailureThreshold consecutive non-Healthy results.
func (c *Checker) Observe(r Result) (Signal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.signal.Ready
	c.signal.Last = r
	if r == Healthy {
		c.signal.Streak = 0
		c.signal.Ready = true
	} else {
		c.signal.Streak++
		if c.signal.Streak >= c.cfg.FailureThreshold {
			c.signal.Ready = false
		}
	}
	return c.signal, c.signal.Ready != prev
}

// Signal returns the current readiness signal.
func (c *Checker) Signal() Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signal
}

// Run probes immediately and then every Interval until ctx is done. onChange is called from
// the Run goroutine whenever readiness flips; onProbe, if set, sees every raw result.
func (c *Checker) Run(ctx context.Context, onChange func(Signal), onProbe func(Result)) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	log := logrus.WithField("health_url", c.cfg.URL)
	for {
		r := c.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		if onProbe != nil {
			onProbe(r)
		}
		sig, changed := c.Observe(r)
		if r != Healthy {
			log.WithFields(logrus.Fields{"result": r, "streak": sig.Streak}).Debug("health probe failed")
		}
		if changed {
			log.WithFields(logrus.Fields{"ready": sig.Ready, "result": r}).Info("backend readiness changed")
			if onChange != nil {
				onChange(sig)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
