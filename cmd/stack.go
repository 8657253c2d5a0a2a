package cmd

import (
	"fmt"

	"github.com/inference-sim/worker-supervisor/worker"
	"github.com/inference-sim/worker-supervisor/worker/metrics"
	"github.com/inference-sim/worker-supervisor/worker/trace"
)

// changedFlags reports which flags were set explicitly (satisfied by *pflag.FlagSet).
type changedFlags interface {
	Changed(name string) bool
}

// resolveConfig loads the config file (or the built-in defaults) and applies explicitly set
// override flags. Flags left at their defaults never overwrite file values.
func resolveConfig(flags changedFlags) (*worker.WorkerConfig, error) {
	cfg := worker.DefaultWorkerConfig()
	if configPath != "" {
		loaded, err := worker.LoadWorkerConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flags.Changed("backend-url") {
		cfg.Backend.URL = backendURL
	}
	if flags.Changed("backend-port") {
		cfg.Backend.Port = backendPort
	}
	if flags.Changed("log-file") {
		cfg.LogFile = logFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}
	return cfg, nil
}

// stack is the wired supervisor, shared by serve and bench.
type stack struct {
	cfg        *worker.WorkerConfig
	supervisor *worker.Supervisor
	router     *worker.Router
	metrics    *metrics.PrometheusMetricsCollector
	trace      *trace.AdmissionTrace
}

func newStack(cfg *worker.WorkerConfig, traceLevel string) (*stack, error) {
	if !trace.IsValidTraceLevel(traceLevel) {
		return nil, fmt.Errorf("unknown trace level %q", traceLevel)
	}
	mc := metrics.NewPrometheusMetricsCollector("worker")
	at := trace.NewAdmissionTrace(trace.TraceConfig{Level: trace.TraceLevel(traceLevel)})

	sup, err := worker.NewSupervisor(cfg, worker.WithSupervisorMetrics(mc))
	if err != nil {
		return nil, err
	}
	ac := worker.NewAdmissionController(cfg.Routes,
		worker.WithAdmissionTrace(at),
		worker.WithAdmissionMetrics(mc),
	)
	fwd := worker.NewHTTPForwarder(cfg.Backend.BaseURL(), nil, worker.WithConnectRetryBudget(cfg.Backend.ConnectRetry()))
	router := worker.NewRouter(sup, ac, fwd, cfg.Backend.RequestTimeout(), worker.WithRouterMetrics(mc))

	return &stack{cfg: cfg, supervisor: sup, router: router, metrics: mc, trace: at}, nil
}
