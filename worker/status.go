package worker

import "fmt"

// WorkerStatus is the supervisor's view of the backend lifecycle.
type WorkerStatus int

const (
	// StatusStarting - backend launched, nothing confirmed yet
	StatusStarting WorkerStatus = iota
	// StatusLoading - a load-progress log line was seen, health not yet confirmed
	StatusLoading
	// StatusReady - readiness signal raised, traffic is admitted
	StatusReady
	// StatusDegraded - was Ready, health failure streak tripped
	StatusDegraded
	// StatusErrored - an error log line was seen; sticky until an operator reset
	StatusErrored
	// StatusStopped - backend exited or was asked to exit
	StatusStopped
)

var statusNames = map[WorkerStatus]string{
	StatusStarting: "Starting",
	StatusLoading:  "Loading",
	StatusReady:    "Ready",
	StatusDegraded: "Degraded",
	StatusErrored:  "Errored",
	StatusStopped:  "Stopped",
}

// String returns the string representation of a WorkerStatus
func (s WorkerStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// MarshalText renders the status by name in JSON and YAML output.
func (s WorkerStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *WorkerStatus) UnmarshalText(text []byte) error {
	for st, name := range statusNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown worker status %q", string(text))
}

// AcceptsTraffic reports whether requests may proceed to admission control.
func (s WorkerStatus) AcceptsTraffic() bool {
	return s == StatusReady
}

// IsTerminal reports whether no further transition can leave this status.
func (s WorkerStatus) IsTerminal() bool {
	return s == StatusStopped
}
