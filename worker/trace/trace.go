package trace

import "sync"

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures every admission decision.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// AdmissionTrace collects admission records. Safe for concurrent use: request goroutines
// record into it while operators read it.
type AdmissionTrace struct {
	Config TraceConfig

	mu         sync.Mutex
	admissions []AdmissionRecord
}

// NewAdmissionTrace creates an AdmissionTrace ready for recording.
func NewAdmissionTrace(config TraceConfig) *AdmissionTrace {
	return &AdmissionTrace{
		Config:     config,
		admissions: make([]AdmissionRecord, 0),
	}
}

// Enabled reports whether records are kept. A nil trace is disabled.
func (at *AdmissionTrace) Enabled() bool {
	return at != nil && at.Config.Level == TraceLevelDecisions
}

// RecordAdmission appends an admission decision record.
func (at *AdmissionTrace) RecordAdmission(record AdmissionRecord) {
	if !at.Enabled() {
		return
	}
	at.mu.Lock()
	defer at.mu.Unlock()
	at.admissions = append(at.admissions, record)
}

// Admissions returns a copy of the records in decision order.
func (at *AdmissionTrace) Admissions() []AdmissionRecord {
	if at == nil {
		return nil
	}
	at.mu.Lock()
	defer at.mu.Unlock()
	out := make([]AdmissionRecord, len(at.admissions))
	copy(out, at.admissions)
	return out
}
