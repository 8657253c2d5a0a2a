package trace

import "time"

// TraceSummary aggregates statistics from an AdmissionTrace.
type TraceSummary struct {
	TotalDecisions      int
	AdmittedCount       int
	RejectedCount       int
	QueuedCount         int
	MeanWait            time.Duration
	MaxWait             time.Duration
	OutcomeDistribution map[Outcome]int
	RouteDistribution   map[string]int // route → count of decisions
}

// Summarize computes aggregate statistics from an AdmissionTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(at *AdmissionTrace) *TraceSummary {
	summary := &TraceSummary{
		OutcomeDistribution: make(map[Outcome]int),
		RouteDistribution:   make(map[string]int),
	}
	records := at.Admissions()
	summary.TotalDecisions = len(records)
	if len(records) == 0 {
		return summary
	}

	var totalWait time.Duration
	for _, r := range records {
		summary.OutcomeDistribution[r.Outcome]++
		summary.RouteDistribution[r.Route]++
		if r.Outcome == OutcomeAdmitted {
			summary.AdmittedCount++
		} else {
			summary.RejectedCount++
		}
		if r.Queued {
			summary.QueuedCount++
		}
		totalWait += r.Wait
		if r.Wait > summary.MaxWait {
			summary.MaxWait = r.Wait
		}
	}
	summary.MeanWait = totalWait / time.Duration(len(records))
	return summary
}
