package enums

import "fmt"

// EventDisposition records how a payment event delivery was handled.
type EventDisposition string

const (
	EventDispositionApplied   EventDisposition = "applied"
	EventDispositionDuplicate EventDisposition = "duplicate"
	EventDispositionRejected  EventDisposition = "rejected"
)

var validEventDispositions = []EventDisposition{
	EventDispositionApplied,
	EventDispositionDuplicate,
	EventDispositionRejected,
}

// String implements fmt.Stringer.
func (e EventDisposition) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EventDisposition.
func (e EventDisposition) IsValid() bool {
	for _, candidate := range validEventDispositions {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventDisposition converts raw input into a EventDisposition.
func ParseEventDisposition(value string) (EventDisposition, error) {
	for _, candidate := range validEventDispositions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event disposition %q", value)
}
