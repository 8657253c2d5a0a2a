package worker

import (
	"bytes"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/worker-supervisor/worker/logmon"
)

// WorkerConfig is the immutable configuration consumed by the supervisor at construction.
// Loaded from YAML via LoadWorkerConfig(path); no behavior lives in it.
type WorkerConfig struct {
	Backend      BackendConfig   `yaml:"backend"`
	LogFile      string          `yaml:"log_file"`
	Health       HealthConfig    `yaml:"health"`
	Routes       []RouteConfig   `yaml:"routes"`
	LogActions   LogActionConfig `yaml:"log_actions"`
	RecentEvents int             `yaml:"recent_events,omitempty"` // size of the operator event ring (default 100)
}

// BackendConfig describes the model server the supervisor fronts.
type BackendConfig struct {
	URL                   string   `yaml:"url"`
	Port                  int      `yaml:"port"`
	HealthPath            string   `yaml:"health_path"`
	RequestTimeoutSeconds float64  `yaml:"request_timeout_seconds,omitempty"` // 0 = default (600s)
	Command               []string `yaml:"command,omitempty"`                 // empty = backend managed externally
	WorkDir               string   `yaml:"work_dir,omitempty"`
	StopGraceSeconds      float64  `yaml:"stop_grace_seconds,omitempty"`
	ConnectRetrySeconds   float64  `yaml:"connect_retry_seconds,omitempty"` // 0 = default (5s)
}

// HealthConfig tunes the readiness probe loop.
type HealthConfig struct {
	IntervalSeconds  float64 `yaml:"interval_seconds,omitempty"`
	TimeoutSeconds   float64 `yaml:"timeout_seconds,omitempty"`
	FailureThreshold int     `yaml:"failure_threshold,omitempty"`
}

// RouteConfig is the admission policy of one inbound route.
type RouteConfig struct {
	Path            string           `yaml:"path"`
	AllowParallel   bool             `yaml:"allow_parallel"`
	MaxQueueSeconds float64          `yaml:"max_queue_seconds"`
	Benchmark       *BenchmarkConfig `yaml:"benchmark,omitempty"`
}

// BenchmarkConfig holds the benchmark dataset of a route. Payloads are opaque.
type BenchmarkConfig struct {
	Dataset []any `yaml:"dataset"`
}

// LogActionConfig maps log substrings to lifecycle event categories.
type LogActionConfig struct {
	OnLoad  []string `yaml:"on_load"`
	OnError []string `yaml:"on_error"`
	OnInfo  []string `yaml:"on_info"`
}

const (
	defaultRequestTimeout   = 600 * time.Second
	defaultHealthInterval   = 1 * time.Second
	defaultHealthTimeout    = 2 * time.Second
	defaultFailureThreshold = 3
	defaultStopGrace        = 10 * time.Second
	defaultConnectRetry     = 5 * time.Second
	defaultRecentEvents     = 100
)

// LoadWorkerConfig reads and parses a YAML worker configuration file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadWorkerConfig(path string) (*WorkerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading worker config: %w", err)
	}
	var cfg WorkerConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing worker config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all fields in the config are usable.
func (c *WorkerConfig) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.url %q must be an absolute http(s) URL", c.Backend.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.url scheme must be http or https, got %q", u.Scheme)
	}
	if c.Backend.Port < 0 || c.Backend.Port > 65535 {
		return fmt.Errorf("backend.port must be in [0, 65535], got %d", c.Backend.Port)
	}
	if !strings.HasPrefix(c.Backend.HealthPath, "/") {
		return fmt.Errorf("backend.health_path must start with '/', got %q", c.Backend.HealthPath)
	}
	if err := validateNonNegative("backend.request_timeout_seconds", c.Backend.RequestTimeoutSeconds); err != nil {
		return err
	}
	if err := validateNonNegative("backend.stop_grace_seconds", c.Backend.StopGraceSeconds); err != nil {
		return err
	}
	if err := validateNonNegative("backend.connect_retry_seconds", c.Backend.ConnectRetrySeconds); err != nil {
		return err
	}
	if err := validateNonNegative("health.interval_seconds", c.Health.IntervalSeconds); err != nil {
		return err
	}
	if err := validateNonNegative("health.timeout_seconds", c.Health.TimeoutSeconds); err != nil {
		return err
	}
	if c.Health.FailureThreshold < 0 {
		return fmt.Errorf("health.failure_threshold must be non-negative, got %d", c.Health.FailureThreshold)
	}
	if c.RecentEvents < 0 {
		return fmt.Errorf("recent_events must be non-negative, got %d", c.RecentEvents)
	}
	if len(c.Routes) == 0 {
		return fmt.Errorf("at least one route is required")
	}
	seen := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		prefix := fmt.Sprintf("routes[%d]", i)
		if err := ValidateRoutePath(r.Path); err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
		if seen[r.Path] {
			return fmt.Errorf("%s: duplicate route %q", prefix, r.Path)
		}
		seen[r.Path] = true
		if err := validateNonNegative(prefix+".max_queue_seconds", r.MaxQueueSeconds); err != nil {
			return err
		}
	}
	for _, s := range c.LogActions.all() {
		if s == "" {
			return fmt.Errorf("log_actions: empty substring would match every line")
		}
	}
	return nil
}

// ValidateRoutePath checks that path is served literally: it starts with '/' and holds no
// whitespace or braces, which the HTTP mux would reject or read as a wildcard.
func ValidateRoutePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path must start with '/', got %q", path)
	}
	if i := strings.IndexFunc(path, func(r rune) bool {
		return r == '{' || r == '}' || unicode.IsSpace(r)
	}); i >= 0 {
		return fmt.Errorf("path %q contains %q, which is not allowed in a route", path, path[i])
	}
	return nil
}

func validateNonNegative(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val < 0 {
		return fmt.Errorf("%s must be non-negative, got %f", name, val)
	}
	return nil
}

// BaseURL joins the backend URL and port. A zero port keeps the URL as given.
func (b BackendConfig) BaseURL() string {
	base := strings.TrimRight(b.URL, "/")
	if b.Port == 0 {
		return base
	}
	u, err := url.Parse(base)
	if err != nil || u.Port() != "" {
		return base
	}
	u.Host = fmt.Sprintf("%s:%d", u.Hostname(), b.Port)
	return u.String()
}

// HealthURL is the full readiness probe URL.
func (b BackendConfig) HealthURL() string {
	return b.BaseURL() + b.HealthPath
}

// RequestTimeout is the per-request backend budget, independent of the queue budget.
func (b BackendConfig) RequestTimeout() time.Duration {
	return secondsOr(b.RequestTimeoutSeconds, defaultRequestTimeout)
}

// StopGrace is how long a stopping backend gets between SIGTERM and SIGKILL.
func (b BackendConfig) StopGrace() time.Duration {
	return secondsOr(b.StopGraceSeconds, defaultStopGrace)
}

// ConnectRetry bounds how long a refused connection is retried while the request holds its route.
func (b BackendConfig) ConnectRetry() time.Duration {
	return secondsOr(b.ConnectRetrySeconds, defaultConnectRetry)
}

// Interval is the probe period.
func (h HealthConfig) Interval() time.Duration {
	return secondsOr(h.IntervalSeconds, defaultHealthInterval)
}

// Timeout bounds a single probe.
func (h HealthConfig) Timeout() time.Duration {
	return secondsOr(h.TimeoutSeconds, defaultHealthTimeout)
}

// Threshold is the number of consecutive failed probes that lowers readiness.
func (h HealthConfig) Threshold() int {
	if h.FailureThreshold == 0 {
		return defaultFailureThreshold
	}
	return h.FailureThreshold
}

// MaxQueueWait converts the route's wait budget to a duration.
func (r RouteConfig) MaxQueueWait() time.Duration {
	return time.Duration(r.MaxQueueSeconds * float64(time.Second))
}

// Patterns returns the classifier patterns in declared order: load, error, info.
func (l LogActionConfig) Patterns() []logmon.Pattern {
	var patterns []logmon.Pattern
	if len(l.OnLoad) > 0 {
		patterns = append(patterns, logmon.Pattern{Category: logmon.Load, Substrings: l.OnLoad})
	}
	if len(l.OnError) > 0 {
		patterns = append(patterns, logmon.Pattern{Category: logmon.Error, Substrings: l.OnError})
	}
	if len(l.OnInfo) > 0 {
		patterns = append(patterns, logmon.Pattern{Category: logmon.Info, Substrings: l.OnInfo})
	}
	return patterns
}

func (l LogActionConfig) all() []string {
	out := make([]string, 0, len(l.OnLoad)+len(l.OnError)+len(l.OnInfo))
	out = append(out, l.OnLoad...)
	out = append(out, l.OnError...)
	return append(out, l.OnInfo...)
}

func (c *WorkerConfig) recentEvents() int {
	if c.RecentEvents == 0 {
		return defaultRecentEvents
	}
	return c.RecentEvents
}

// Route looks up a route by path.
func (c *WorkerConfig) Route(path string) (RouteConfig, bool) {
	for _, r := range c.Routes {
		if r.Path == path {
			return r, true
		}
	}
	return RouteConfig{}, false
}

func secondsOr(seconds float64, fallback time.Duration) time.Duration {
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}
