// Package trace records admission decisions for later analysis.
// This package has no dependencies on worker/; it stores pure data types.
package trace

import "time"

// Outcome is the terminal state of one admission attempt.
type Outcome string

const (
	OutcomeAdmitted     Outcome = "admitted"
	OutcomeQueueTimeout Outcome = "queue_timeout"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeUnknownRoute Outcome = "unknown_route"
)

// AdmissionRecord captures a single admission decision.
type AdmissionRecord struct {
	RequestID string
	Route     string
	Arrival   time.Time
	Queued    bool          // true if the request waited behind an occupant
	Wait      time.Duration // time between arrival and the decision
	Outcome   Outcome
}
