package bench

import (
	"sort"
	"time"
)

// Summary aggregates a report. Latency statistics cover successful items only.
type Summary struct {
	Total            int            `yaml:"total"`
	Succeeded        int            `yaml:"succeeded"`
	Failed           int            `yaml:"failed"`
	TimedOut         int            `yaml:"timed_out"`
	CodeDistribution map[string]int `yaml:"code_distribution,omitempty"`
	MeanLatency      time.Duration  `yaml:"mean_latency"`
	P50Latency       time.Duration  `yaml:"p50_latency"`
	P95Latency       time.Duration  `yaml:"p95_latency"`
	MaxLatency       time.Duration  `yaml:"max_latency"`
	MeanQueueWait    time.Duration  `yaml:"mean_queue_wait"`
	Wall             time.Duration  `yaml:"wall"`
	Throughput       float64        `yaml:"throughput_per_second"` // successful items per wall-clock second
}

// Summarize computes aggregate statistics. A nil report yields a zero Summary.
func Summarize(report *Report) Summary {
	s := Summary{CodeDistribution: make(map[string]int)}
	if report == nil {
		return s
	}
	s.Total = len(report.Results)

	var latencies []time.Duration
	var totalLatency, totalWait time.Duration
	for _, r := range report.Results {
		switch r.Outcome {
		case OutcomeSuccess:
			s.Succeeded++
			latencies = append(latencies, r.Latency)
			totalLatency += r.Latency
			totalWait += r.QueueWait
		case OutcomeTimeout:
			s.TimedOut++
			s.CodeDistribution[r.Code]++
		default:
			s.Failed++
			s.CodeDistribution[r.Code]++
		}
	}

	if !report.Finished.IsZero() {
		s.Wall = report.Finished.Sub(report.Started)
	}
	if len(latencies) == 0 {
		return s
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	s.MeanLatency = totalLatency / time.Duration(len(latencies))
	s.MeanQueueWait = totalWait / time.Duration(len(latencies))
	s.P50Latency = percentile(latencies, 50)
	s.P95Latency = percentile(latencies, 95)
	s.MaxLatency = latencies[len(latencies)-1]
	if s.Wall > 0 {
		s.Throughput = float64(s.Succeeded) / s.Wall.Seconds()
	}
	return s
}

// percentile uses the nearest-rank method on sorted values.
func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
