package worker

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// ComfyUI worker defaults: a single serialized text-to-image route in front of a ComfyUI
// server on 127.0.0.1:18288.
const (
	DefaultBackendURL  = "http://127.0.0.1"
	DefaultBackendPort = 18288
	DefaultLogFile     = "/var/log/portal/comfyui.log"
	DefaultHealthPath  = "/health"
	DefaultRoute       = "/generate/sync"
)

var (
	defaultLoadMessages  = []string{"To see the GUI go to: "}
	defaultErrorMessages = []string{
		"MetadataIncompleteBuffer",
		"Value not in list: ",
		"[ERROR] Provisioning Script failed",
	}
	defaultInfoMessages = []string{`"message":"Downloading`}
)

var benchmarkPrompts = []string{
	"Cartoon hoodie hero; orc, anime cat, bunny; black goo; buff; vector on white.",
	"Cozy farming-game scene with fine details.",
	"2D vector child with soccer ball; airbrush chrome; swagger; antique copper.",
	"Realistic futuristic downtown of low buildings at sunset.",
	"Perfect wave front view; sunny seascape; ultra-detailed water; artful feel.",
	"Clear cup with ice, fruit, mint; creamy swirls; fluid-sim CGI; warm glow.",
	"Male biker with backpack on motorcycle; oilpunk; award-worthy magazine cover.",
	"Collage for textile; surreal cartoon cat in cap/jeans before poster; crisp.",
	"Medieval village inside glass sphere; volumetric light; macro focus.",
	"Iron Man with glowing axe; mecha sci-fi; jungle scene; dynamic light.",
	"Pope Francis DJ in leather jacket, mixing on giant console; dramatic.",
}

// DefaultWorkerConfig returns the ComfyUI worker configuration.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		Backend: BackendConfig{
			URL:        DefaultBackendURL,
			Port:       DefaultBackendPort,
			HealthPath: DefaultHealthPath,
		},
		LogFile: DefaultLogFile,
		Routes: []RouteConfig{{
			Path:            DefaultRoute,
			AllowParallel:   false,
			MaxQueueSeconds: 10.0,
			Benchmark:       &BenchmarkConfig{Dataset: Text2ImageDataset()},
		}},
		LogActions: LogActionConfig{
			OnLoad:  append([]string(nil), defaultLoadMessages...),
			OnError: append([]string(nil), defaultErrorMessages...),
			OnInfo:  append([]string(nil), defaultInfoMessages...),
		},
	}
}

// Text2ImageDataset builds one 512x512, 20-step payload per benchmark prompt with a random
// request id and seed.
func Text2ImageDataset() []any {
	dataset := make([]any, 0, len(benchmarkPrompts))
	for _, prompt := range benchmarkPrompts {
		dataset = append(dataset, map[string]any{
			"input": map[string]any{
				"request_id": fmt.Sprintf("test-%d", 1000+rand.IntN(99000)),
				"modifier":   "Text2Image",
				"modifications": map[string]any{
					"prompt": prompt,
					"width":  512,
					"height": 512,
					"steps":  20,
					"seed":   rand.Int64N(math.MaxInt64),
				},
			},
		})
	}
	return dataset
}
