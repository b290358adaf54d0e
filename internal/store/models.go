package store

import "time"

// ScanRun records one invocation of the checker
type ScanRun struct {
	ID           string // uuid
	Mode         string // "single", "fleet", "import"
	StartTime    time.Time
	EndTime      time.Time
	Total        int
	Healthy      int
	Failed       int
	Skipped      int
	Status       string // "running", "completed", "interrupted", "failed"
	ErrorMessage string
}

// MirrorFailure is one failing outcome
type MirrorFailure struct {
	ID         int64
	RunID      string
	URL        string
	Tier       int
	DriftSec   int64 // 0 when Code is set
	Code       int   // negative failure code or HTTP status
	Message    string
	RecordedAt time.Time
}

// MirrorStats aggregates failures for one mirror
type MirrorStats struct {
	URL           string
	Failures      int
	WorstDriftSec int64
	LastFailure   time.Time
	LastMessage   string
}
