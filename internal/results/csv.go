// Package results persists failing scan outcomes as an append-only CSV log.
package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BadgerOps/mirrorcheck/internal/freshness"
	"github.com/BadgerOps/mirrorcheck/internal/scan"
)

// Entry is one line of the result log:
//
//	timestamp,url,drift-or-code,message
//
// timestamp is RFC 3339 UTC. The third column holds whole seconds of drift
// or a failure code (see scan.Outcome.DriftValue).
type Entry struct {
	RecordedAt time.Time
	URL        string
	Drift      int64
	Message    string
}

// EntryFromOutcome converts an outcome into a log entry stamped at now.
func EntryFromOutcome(o scan.Outcome, now time.Time) Entry {
	return Entry{
		RecordedAt: now.UTC().Truncate(time.Second),
		URL:        o.URL,
		Drift:      o.DriftValue(),
		Message:    o.Message,
	}
}

// Split separates the third column back into a drift or a failure code.
// Negative values are codes. Positive values are HTTP statuses when the
// message came from a status error, otherwise seconds of drift.
func (e Entry) Split() (time.Duration, freshness.Code) {
	switch {
	case e.Drift < 0:
		return 0, freshness.Code(e.Drift)
	case strings.HasPrefix(e.Message, "http error "):
		return 0, freshness.Code(e.Drift)
	default:
		return time.Duration(e.Drift) * time.Second, 0
	}
}

func (e Entry) fields() []string {
	return []string{
		e.RecordedAt.UTC().Format(time.RFC3339),
		e.URL,
		strconv.FormatInt(e.Drift, 10),
		e.Message,
	}
}

// CSVSink appends one CSV line per recorded outcome.
type CSVSink struct {
	mu  sync.Mutex
	w   *csv.Writer
	c   io.Closer
	now func() time.Time
}

// NewCSVSink writes entries to w.
func NewCSVSink(w io.Writer) *CSVSink {
	return &CSVSink{w: csv.NewWriter(w), now: time.Now}
}

// OpenCSVSink opens path for appending, creating it and its directory if needed.
func OpenCSVSink(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating result log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening result log: %w", err)
	}
	s := NewCSVSink(f)
	s.c = f
	return s, nil
}

// Record appends o and flushes so a crash loses at most the line in progress.
func (s *CSVSink) Record(o scan.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.Write(EntryFromOutcome(o, s.now()).fields()); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	s.w.Flush()
	return s.w.Error()
}

// Close closes the underlying file, if the sink opened one.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if s.c == nil {
		return s.w.Error()
	}
	return errors.Join(s.w.Error(), s.c.Close())
}

// ParseCSV reads every entry from a result log.
func ParseCSV(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4

	var entries []Entry
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading result log: %w", err)
		}

		at, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid timestamp %q: %w", line, rec[0], err)
		}
		drift, err := strconv.ParseInt(rec[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid drift %q: %w", line, rec[2], err)
		}
		entries = append(entries, Entry{RecordedAt: at, URL: rec[1], Drift: drift, Message: rec[3]})
	}
}

// MultiSink records each outcome in every sink, in order, and joins errors.
type MultiSink []scan.Sink

func (m MultiSink) Record(o scan.Outcome) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
