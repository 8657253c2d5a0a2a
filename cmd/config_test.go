package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/worker-supervisor/worker"
	"github.com/inference-sim/worker-supervisor/worker/bench"
	"github.com/inference-sim/worker-supervisor/worker/trace"
)

// setFlags reports the named flags as explicitly set.
type setFlags map[string]bool

func (s setFlags) Changed(name string) bool { return s[name] }

// withFlagValues sets the package-level flag variables for one test.
func withFlagValues(t *testing.T, cfgPath, url string, port int, file string) {
	t.Helper()
	oldPath, oldURL, oldPort, oldFile := configPath, backendURL, backendPort, logFile
	configPath, backendURL, backendPort, logFile = cfgPath, url, port, file
	t.Cleanup(func() {
		configPath, backendURL, backendPort, logFile = oldPath, oldURL, oldPort, oldFile
	})
}

func TestResolveConfig_DefaultsWithoutFile(t *testing.T) {
	withFlagValues(t, "", worker.DefaultBackendURL, worker.DefaultBackendPort, worker.DefaultLogFile)

	cfg, err := resolveConfig(setFlags{})

	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:18288", cfg.Backend.BaseURL())
	assert.Equal(t, worker.DefaultLogFile, cfg.LogFile)
	require.Len(t, cfg.Routes, 1)
	assert.False(t, cfg.Routes[0].AllowParallel)
	assert.Equal(t, 10.0, cfg.Routes[0].MaxQueueSeconds)
}

func TestResolveConfig_OnlyChangedFlagsOverrideFile(t *testing.T) {
	// GIVEN a config file with its own backend and log file
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  url: http://10.0.0.5
  port: 9000
  health_path: /ready
log_file: /tmp/from-file.log
routes:
  - path: /prompt
    allow_parallel: true
    max_queue_seconds: 0
`), 0o644))
	withFlagValues(t, path, worker.DefaultBackendURL, 7000, "/tmp/from-flag.log")

	// WHEN only --backend-port and --log-file were set explicitly
	cfg, err := resolveConfig(setFlags{"backend-port": true, "log-file": true})

	// THEN the file's URL survives and the explicit flags win
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:7000", cfg.Backend.BaseURL())
	assert.Equal(t, "/tmp/from-flag.log", cfg.LogFile)
	assert.Equal(t, "http://10.0.0.5:7000/ready", cfg.Backend.HealthURL())
}

func TestResolveConfig_InvalidOverrideRejected(t *testing.T) {
	withFlagValues(t, "", "not a url", worker.DefaultBackendPort, worker.DefaultLogFile)

	_, err := resolveConfig(setFlags{"backend-url": true})
	assert.Error(t, err)
}

func TestWriteConfig_ReloadsStrictly(t *testing.T) {
	// GIVEN the default configuration written as YAML
	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, worker.DefaultWorkerConfig()))
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	// WHEN it is loaded back with strict parsing
	cfg, err := worker.LoadWorkerConfig(path)

	// THEN it parses and validates
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, worker.DefaultRoute, cfg.Routes[0].Path)
	assert.Len(t, cfg.Routes[0].Benchmark.Dataset, 11)
	assert.Contains(t, buf.String(), "on_error:")
}

func TestNewStack_RejectsUnknownTraceLevel(t *testing.T) {
	_, err := newStack(worker.DefaultWorkerConfig(), "verbose")
	assert.Error(t, err)
}

func TestNewStack_WiresRoutes(t *testing.T) {
	st, err := newStack(worker.DefaultWorkerConfig(), "decisions")
	require.NoError(t, err)
	assert.Equal(t, []string{worker.DefaultRoute}, st.router.Admission().Routes())
	assert.Equal(t, worker.StatusStarting, st.supervisor.Status())
	assert.True(t, st.trace.Enabled())
}

func TestPrintReport_IncludesAdmissionSummaryWhenTraced(t *testing.T) {
	at := trace.NewAdmissionTrace(trace.TraceConfig{Level: trace.TraceLevelDecisions})
	ac := worker.NewAdmissionController([]worker.RouteConfig{{Path: "/generate/sync", MaxQueueSeconds: 1}}, worker.WithAdmissionTrace(at))
	g, err := ac.Admit(context.Background(), "/generate/sync", "a")
	require.NoError(t, err)
	g.Release()

	report := &bench.Report{
		Started:  time.Now().Add(-time.Second),
		Finished: time.Now(),
		Results:  []bench.Result{{ItemID: "a", Outcome: bench.OutcomeSuccess, Latency: time.Second}},
	}
	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, report, at))

	out := buf.String()
	assert.Contains(t, out, "benchmark:")
	assert.Contains(t, out, "succeeded: 1")
	assert.Contains(t, out, "admission:")
	assert.Contains(t, out, "admitted: 1")

	buf.Reset()
	require.NoError(t, printReport(&buf, report, nil))
	assert.NotContains(t, buf.String(), "admission:")
}
