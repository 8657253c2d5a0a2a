package worker

import (
	"errors"
	"fmt"
)

// Condition codes reported to callers. Each one names a distinct failure so that
// "supervisor overloaded" and "backend rejected" never collapse into one generic error.
const (
	Unknown            = "Unknown"
	NotReady           = "NotReady"
	UnknownRoute       = "UnknownRoute"
	QueueTimeout       = "QueueTimeout"
	BackendError       = "BackendError"
	BackendUnreachable = "BackendUnreachable"
	BackendTimeout     = "BackendTimeout"
	StartupTimeout     = "StartupTimeout"
)

// Error is the structured condition returned by the router, the admission controller and the
// benchmark runner.
type Error struct {
	Code string
	Msg  string
}

// Error returns a string version of the error.
func (e Error) Error() string {
	return fmt.Sprintf("worker: %s - %s", e.Code, e.Msg)
}

func newError(code, format string, args ...any) Error {
	return Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CanonicalCode returns the condition code carried by err, or Unknown.
func CanonicalCode(err error) string {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// IsCode reports whether err carries the given condition code.
func IsCode(err error, code string) bool {
	return err != nil && CanonicalCode(err) == code
}
