// Package worker supervises a single inference backend and fronts its traffic.
//
// # Reading Guide
//
// Start with these files:
//   - supervisor.go: the WorkerStatus state machine, driven by log events and health signals
//   - admission.go: per-route FIFO admission with a bounded wait
//   - router.go: the request path (status gate, admission, forward, release)
//
// # Architecture
//
// The worker package owns the shared state (WorkerStatus and route queues). Observation and
// reporting live in sub-packages:
//   - worker/logmon/: log tailing and line classification
//   - worker/health/: readiness probing with failure hysteresis
//   - worker/trace/: admission decision records
//   - worker/metrics/: Prometheus implementation of MetricsCollector
//   - worker/server/: inbound HTTP interface and operator endpoints
//   - worker/bench/: dataset replay through the Router
//
// Every caller-facing failure is an Error carrying one of the condition codes in errors.go.
package worker
