package bench

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/worker-supervisor/worker"
)

// datasetEntry is one item of a dataset file.
type datasetEntry struct {
	ID      string `yaml:"id"`
	Route   string `yaml:"route"`
	Payload any    `yaml:"payload"`
}

// ItemsFromConfig builds items from every route's benchmark dataset, in route order.
func ItemsFromConfig(cfg *worker.WorkerConfig) ([]Item, error) {
	var items []Item
	for _, route := range cfg.Routes {
		if route.Benchmark == nil {
			continue
		}
		for i, entry := range route.Benchmark.Dataset {
			item, err := newItem(payloadID(entry), route.Path, entry)
			if err != nil {
				return nil, fmt.Errorf("route %s dataset[%d]: %w", route.Path, i, err)
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// LoadDataset reads a YAML or JSON list of {id, route, payload} entries. Entries without a
// route use defaultRoute.
func LoadDataset(path, defaultRoute string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	var entries []datasetEntry
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&entries); err != nil {
		return nil, fmt.Errorf("parsing dataset: %w", err)
	}

	items := make([]Item, 0, len(entries))
	for i, e := range entries {
		route := e.Route
		if route == "" {
			route = defaultRoute
		}
		id := e.ID
		if id == "" {
			id = payloadID(e.Payload)
		}
		item, err := newItem(id, route, e.Payload)
		if err != nil {
			return nil, fmt.Errorf("dataset[%d]: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func newItem(id, route string, payload any) (Item, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Item{}, fmt.Errorf("encoding payload: %w", err)
	}
	if id == "" {
		id = "test-" + uuid.NewString()
	}
	return Item{ID: id, Route: route, Payload: raw}, nil
}

// payloadID finds a request id inside a payload, at the top level or under "input".
func payloadID(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	if id, ok := m["request_id"].(string); ok {
		return id
	}
	if input, ok := m["input"].(map[string]any); ok {
		if id, ok := input["request_id"].(string); ok {
			return id
		}
	}
	return ""
}
