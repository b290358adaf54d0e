package scan

import (
	"time"

	"github.com/BadgerOps/mirrorcheck/internal/freshness"
)

// Outcome is the terminal state of one mirror check.
type Outcome struct {
	URL     string
	Tier    int
	Success bool
	// Drift is the measured sync (or update) drift behind tier-0. It is
	// meaningful only when Code is zero.
	Drift time.Duration
	// Code is zero when a drift was measured, and a negative category or
	// an HTTP status otherwise.
	Code       freshness.Code
	StatusCode int
	Message    string
	CheckedAt  time.Time
	// Notified is set when a notice about this mirror was already sent.
	Notified bool
}

// DriftValue is the single numeric column recorded for an outcome: whole
// seconds of drift, or the failure code when no drift was measured.
func (o Outcome) DriftValue() int64 {
	if o.Code != 0 {
		return int64(o.Code)
	}
	return int64(o.Drift / time.Second)
}

// Sink receives failing outcomes. The coordinator is its only writer.
type Sink interface {
	Record(o Outcome) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(o Outcome) error

func (f SinkFunc) Record(o Outcome) error { return f(o) }

// Summary counts what a scan did with its input.
type Summary struct {
	Total      int
	Submitted  int
	Healthy    int
	Failed     int
	Skipped    int
	SinkErrors int
	Duration   time.Duration
}
