// Package logmon tails the backend's log file and turns matching lines into lifecycle events.
//
// Lines are classified against substring patterns in declared order. A line containing any
// Error substring is always an Error event, whatever else it matches, so failure detection is
// never masked by a load or info match. Unmatched lines are dropped.
package logmon

import (
	"strings"
	"time"
)

// Category is the lifecycle meaning of a log line.
type Category int

const (
	Load Category = iota
	Error
	Info
)

// String returns the string representation of a Category
func (c Category) String() string {
	switch c {
	case Load:
		return "Load"
	case Error:
		return "Error"
	case Info:
		return "Info"
	default:
		return "Unknown"
	}
}

// MarshalText renders the category by name in JSON output.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Pattern associates a category with the substrings that select it.
type Pattern struct {
	Category   Category
	Substrings []string
}

func (p Pattern) matches(line string) bool {
	for _, s := range p.Substrings {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

// Event is one classified log line.
type Event struct {
	Category Category  `json:"category"`
	Line     string    `json:"line"`
	Time     time.Time `json:"time"`
}

// Classifier matches lines against patterns in a fixed order.
type Classifier struct {
	patterns []Pattern
}

// NewClassifier copies the patterns; later changes to the caller's slice have no effect.
func NewClassifier(patterns []Pattern) *Classifier {
	cp := make([]Pattern, len(patterns))
	for i, p := range patterns {
		cp[i] = Pattern{Category: p.Category, Substrings: append([]string(nil), p.Substrings...)}
	}
	return &Classifier{patterns: cp}
}

// Classify returns the category of line and whether any pattern matched.
func (c *Classifier) Classify(line string) (Category, bool) {
	var first Category
	matched := false
	for _, p := range c.patterns {
		if !p.matches(line) {
			continue
		}
		if p.Category == Error {
			return Error, true
		}
		if !matched {
			first, matched = p.Category, true
		}
	}
	return first, matched
}

// HasCategory reports whether any pattern of the given category is configured.
func (c *Classifier) HasCategory(cat Category) bool {
	for _, p := range c.patterns {
		if p.Category == cat && len(p.Substrings) > 0 {
			return true
		}
	}
	return false
}
