package worker

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/worker-supervisor/worker/logmon"
)

func TestDefaultWorkerConfig_IsValid(t *testing.T) {
	cfg := DefaultWorkerConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://127.0.0.1:18288/health", cfg.Backend.HealthURL())
	assert.Equal(t, defaultRequestTimeout, cfg.Backend.RequestTimeout())
	assert.Equal(t, 10*time.Second, cfg.Routes[0].MaxQueueWait())
	assert.Equal(t, defaultFailureThreshold, cfg.Health.Threshold())
	assert.Equal(t, defaultRecentEvents, cfg.recentEvents())
}

func TestText2ImageDataset_ShapeOfEachPayload(t *testing.T) {
	dataset := Text2ImageDataset()
	require.Len(t, dataset, len(benchmarkPrompts))

	for i, item := range dataset {
		input := item.(map[string]any)["input"].(map[string]any)
		assert.Equal(t, "Text2Image", input["modifier"])
		assert.Regexp(t, `^test-\d+$`, input["request_id"])
		mods := input["modifications"].(map[string]any)
		assert.Equal(t, benchmarkPrompts[i], mods["prompt"])
		assert.Equal(t, 512, mods["width"])
		assert.Equal(t, 20, mods["steps"])

		_, err := json.Marshal(item)
		assert.NoError(t, err)
	}
}

func TestWorkerConfig_Validate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WorkerConfig)
	}{
		{"empty url", func(c *WorkerConfig) { c.Backend.URL = "" }},
		{"relative url", func(c *WorkerConfig) { c.Backend.URL = "127.0.0.1" }},
		{"non-http scheme", func(c *WorkerConfig) { c.Backend.URL = "ftp://host" }},
		{"port out of range", func(c *WorkerConfig) { c.Backend.Port = 70000 }},
		{"health path without slash", func(c *WorkerConfig) { c.Backend.HealthPath = "health" }},
		{"negative request timeout", func(c *WorkerConfig) { c.Backend.RequestTimeoutSeconds = -1 }},
		{"NaN probe interval", func(c *WorkerConfig) { c.Health.IntervalSeconds = math.NaN() }},
		{"negative threshold", func(c *WorkerConfig) { c.Health.FailureThreshold = -1 }},
		{"no routes", func(c *WorkerConfig) { c.Routes = nil }},
		{"route without slash", func(c *WorkerConfig) { c.Routes[0].Path = "generate" }},
		{"duplicate route", func(c *WorkerConfig) { c.Routes = append(c.Routes, c.Routes[0]) }},
		{"negative queue budget", func(c *WorkerConfig) { c.Routes[0].MaxQueueSeconds = -0.5 }},
		{"infinite queue budget", func(c *WorkerConfig) { c.Routes[0].MaxQueueSeconds = math.Inf(1) }},
		{"route with wildcard", func(c *WorkerConfig) { c.Routes[0].Path = "/gen/{id}" }},
		{"route with open brace", func(c *WorkerConfig) { c.Routes[0].Path = "/x/{" }},
		{"route with space", func(c *WorkerConfig) { c.Routes[0].Path = "/a b" }},
		{"route with tab", func(c *WorkerConfig) { c.Routes[0].Path = "/a\tb" }},
		{"negative connect retry", func(c *WorkerConfig) { c.Backend.ConnectRetrySeconds = -1 }},
		{"empty log substring", func(c *WorkerConfig) { c.LogActions.OnInfo = []string{""} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultWorkerConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadWorkerConfig_RejectsUnknownKeys(t *testing.T) {
	// GIVEN a config with a typo in a route key
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  url: http://127.0.0.1
  port: 8188
  health_path: /health
routes:
  - path: /generate/sync
    allow_paralel: true
`), 0o644))

	// WHEN it is loaded
	_, err := LoadWorkerConfig(path)

	// THEN strict parsing reports the field
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow_paralel")
}

func TestLoadWorkerConfig_MissingFile(t *testing.T) {
	_, err := LoadWorkerConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestBackendConfig_BaseURL(t *testing.T) {
	tests := []struct {
		url  string
		port int
		want string
	}{
		{"http://127.0.0.1", 18288, "http://127.0.0.1:18288"},
		{"http://127.0.0.1/", 0, "http://127.0.0.1"},
		{"http://backend:9000", 18288, "http://backend:9000"},
		{"https://model.internal", 443, "https://model.internal:443"},
	}
	for _, tt := range tests {
		b := BackendConfig{URL: tt.url, Port: tt.port}
		assert.Equal(t, tt.want, b.BaseURL(), "url=%s port=%d", tt.url, tt.port)
	}
}

func TestLogActionConfig_PatternsKeepDeclaredOrder(t *testing.T) {
	l := LogActionConfig{OnLoad: []string{"loaded"}, OnInfo: []string{"info"}}
	patterns := l.Patterns()
	require.Len(t, patterns, 2)
	assert.Equal(t, logmon.Load, patterns[0].Category)
	assert.Equal(t, logmon.Info, patterns[1].Category)
}

func TestWorkerConfig_Route(t *testing.T) {
	cfg := DefaultWorkerConfig()
	r, ok := cfg.Route(DefaultRoute)
	require.True(t, ok)
	assert.False(t, r.AllowParallel)

	_, ok = cfg.Route("/missing")
	assert.False(t, ok)
}

func TestWorkerStatus_TextRoundTrip(t *testing.T) {
	for st := StatusStarting; st <= StatusStopped; st++ {
		text, err := st.MarshalText()
		require.NoError(t, err)
		var back WorkerStatus
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, st, back)
	}
	var s WorkerStatus
	assert.Error(t, s.UnmarshalText([]byte("Sleeping")))
	assert.Equal(t, "Unknown", WorkerStatus(99).String())
}

func TestWorkerStatus_OnlyReadyAcceptsTraffic(t *testing.T) {
	for st := StatusStarting; st <= StatusStopped; st++ {
		assert.Equal(t, st == StatusReady, st.AcceptsTraffic(), st.String())
		assert.Equal(t, st == StatusStopped, st.IsTerminal(), st.String())
	}
}

func TestCanonicalCode(t *testing.T) {
	err := newError(QueueTimeout, "waited %s", time.Second)
	assert.Equal(t, QueueTimeout, CanonicalCode(err))
	assert.Equal(t, QueueTimeout, CanonicalCode(fmt.Errorf("outer: %w", err)))
	assert.True(t, IsCode(err, QueueTimeout))
	assert.False(t, IsCode(nil, QueueTimeout))
	assert.Equal(t, Unknown, CanonicalCode(os.ErrNotExist))
	assert.Contains(t, err.Error(), "QueueTimeout")
}
