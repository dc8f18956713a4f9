package monitor

import "fmt"

// Status is the usage level of the context window.
type Status int

const (
	StatusSafe     Status = iota // usage <= warning threshold
	StatusWarning                // warning < usage <= critical
	StatusCritical               // usage > critical threshold
)

// String returns the lowercase label used in alerts and JSON.
func (s Status) String() string {
	switch s {
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	default:
		return "safe"
	}
}

// MarshalText encodes the status as its label.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a label produced by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "safe":
		*s = StatusSafe
	case "warning":
		*s = StatusWarning
	case "critical":
		*s = StatusCritical
	default:
		return fmt.Errorf("monitor.Status: unknown status %q", b)
	}
	return nil
}

// Thresholds are usage fractions; valid values satisfy 0 < Warning < Critical < 1.
type Thresholds struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// DefaultThresholds are 80% and 90%.
var DefaultThresholds = Thresholds{Warning: 0.8, Critical: 0.9}

// Valid reports whether t is usable.
func (t Thresholds) Valid() bool {
	return t.Warning > 0 && t.Warning < t.Critical && t.Critical < 1
}

// Classify maps a usage fraction to a Status.
func (t Thresholds) Classify(usage float64) Status {
	switch {
	case usage > t.Critical:
		return StatusCritical
	case usage > t.Warning:
		return StatusWarning
	default:
		return StatusSafe
	}
}
