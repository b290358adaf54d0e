package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/BadgerOps/mirrorcheck/internal/results"
	"github.com/BadgerOps/mirrorcheck/internal/scan"
)

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// ScanRun Operations
// ============================================================================

// StartScanRun inserts a running ScanRun with a fresh ID
func (s *Store) StartScanRun(mode string, total int) (*ScanRun, error) {
	run := &ScanRun{
		ID:        uuid.NewString(),
		Mode:      mode,
		StartTime: time.Now().UTC(),
		Total:     total,
		Status:    "running",
	}

	const query = `
		INSERT INTO scan_runs (
			id, mode, start_time, end_time, total, healthy, failed, skipped, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(
		query,
		run.ID, run.Mode, run.StartTime, run.EndTime, run.Total,
		run.Healthy, run.Failed, run.Skipped, run.Status, run.ErrorMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert scan run: %w", err)
	}
	return run, nil
}

// Complete fills run from a scan summary and the error the scan returned.
func (run *ScanRun) Complete(summary scan.Summary, scanErr error) {
	run.EndTime = time.Now().UTC()
	run.Total = summary.Total
	run.Healthy = summary.Healthy
	run.Failed = summary.Failed
	run.Skipped = summary.Skipped
	switch {
	case scanErr == nil:
		run.Status = "completed"
	case summary.Skipped > 0:
		run.Status = "interrupted"
		run.ErrorMessage = scanErr.Error()
	default:
		run.Status = "failed"
		run.ErrorMessage = scanErr.Error()
	}
}

// FinishScanRun writes the final counters and status of run
func (s *Store) FinishScanRun(run *ScanRun) error {
	const query = `
		UPDATE scan_runs SET
			end_time = ?, total = ?, healthy = ?, failed = ?, skipped = ?,
			status = ?, error_message = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.EndTime, run.Total, run.Healthy, run.Failed, run.Skipped,
		run.Status, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update scan run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("scan run not found: %s", run.ID)
	}
	return nil
}

const scanRunColumns = `id, mode, start_time, end_time, total, healthy, failed, skipped, status, error_message`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*ScanRun, error) {
	run := &ScanRun{}
	var errMsg sql.NullString
	err := row.Scan(
		&run.ID, &run.Mode, &run.StartTime, &run.EndTime, &run.Total,
		&run.Healthy, &run.Failed, &run.Skipped, &run.Status, &errMsg,
	)
	if err != nil {
		return nil, err
	}
	run.ErrorMessage = errMsg.String
	return run, nil
}

// GetScanRun retrieves a ScanRun by ID
func (s *Store) GetScanRun(id string) (*ScanRun, error) {
	row := s.db.QueryRow("SELECT "+scanRunColumns+" FROM scan_runs WHERE id = ?", id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("scan run not found: %s", id)
		}
		return nil, fmt.Errorf("failed to query scan run: %w", err)
	}
	return run, nil
}

// ListScanRuns retrieves the most recent ScanRuns
func (s *Store) ListScanRuns(limit int) ([]ScanRun, error) {
	query := "SELECT " + scanRunColumns + " FROM scan_runs ORDER BY start_time DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan runs: %w", err)
	}
	defer rows.Close()

	var runs []ScanRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scan runs: %w", err)
	}
	return runs, nil
}

// ============================================================================
// MirrorFailure Operations
// ============================================================================

const insertFailureSQL = `
	INSERT INTO mirror_failures (
		run_id, url, tier, drift_sec, code, message, recorded_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertFailure(db execer, rec *MirrorFailure) error {
	result, err := db.Exec(
		insertFailureSQL,
		rec.RunID, rec.URL, rec.Tier, rec.DriftSec, rec.Code, rec.Message,
		rec.RecordedAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert mirror failure: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// AddFailure inserts a MirrorFailure and sets its ID
func (s *Store) AddFailure(rec *MirrorFailure) error {
	return insertFailure(s.db, rec)
}

// ListFailures retrieves failures newest first, optionally for one mirror
func (s *Store) ListFailures(url string, limit int) ([]MirrorFailure, error) {
	query := `
		SELECT id, run_id, url, tier, drift_sec, code, message, recorded_at
		FROM mirror_failures
	`
	var args []any
	if url != "" {
		query += " WHERE url = ?"
		args = append(args, url)
	}
	query += " ORDER BY recorded_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mirror failures: %w", err)
	}
	defer rows.Close()

	var records []MirrorFailure
	for rows.Next() {
		var rec MirrorFailure
		var msg sql.NullString
		var at int64
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.URL, &rec.Tier, &rec.DriftSec, &rec.Code, &msg, &at); err != nil {
			return nil, fmt.Errorf("failed to scan mirror failure: %w", err)
		}
		rec.Message = msg.String
		rec.RecordedAt = time.Unix(at, 0).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mirror failures: %w", err)
	}
	return records, nil
}

// FailureFromOutcome converts a failed outcome for storage under runID.
func FailureFromOutcome(runID string, o scan.Outcome, now time.Time) *MirrorFailure {
	rec := &MirrorFailure{
		RunID:      runID,
		URL:        o.URL,
		Tier:       o.Tier,
		Code:       int(o.Code),
		Message:    o.Message,
		RecordedAt: now.UTC(),
	}
	if o.Code == 0 {
		rec.DriftSec = int64(o.Drift / time.Second)
	}
	return rec
}

// RunSink stores failed outcomes under one scan run.
type RunSink struct {
	store *Store
	runID string
	now   func() time.Time
}

// Sink returns a scan.Sink that records failures under runID.
func (s *Store) Sink(runID string) *RunSink {
	return &RunSink{store: s, runID: runID, now: time.Now}
}

func (r *RunSink) Record(o scan.Outcome) error {
	return r.store.AddFailure(FailureFromOutcome(r.runID, o, r.now()))
}

// ImportEntries loads a CSV result log into a new "import" run. All entries
// are inserted in one transaction; entries already stored are skipped, so
// importing the same log twice adds nothing. The run's Failed count is the
// number of new entries.
func (s *Store) ImportEntries(entries []results.Entry) (*ScanRun, error) {
	run, err := s.StartScanRun("import", len(entries))
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	imported := 0
	for _, e := range entries {
		drift, code := e.Split()
		rec := &MirrorFailure{
			RunID:      run.ID,
			URL:        e.URL,
			DriftSec:   int64(drift / time.Second),
			Code:       int(code),
			Message:    e.Message,
			RecordedAt: e.RecordedAt,
		}
		dup, err := failureExists(tx, rec)
		if err != nil {
			return nil, err
		}
		if dup {
			continue
		}
		if err := insertFailure(tx, rec); err != nil {
			return nil, err
		}
		imported++
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit import: %w", err)
	}

	run.Complete(scan.Summary{Total: len(entries), Submitted: len(entries), Failed: imported}, nil)
	if err := s.FinishScanRun(run); err != nil {
		return nil, err
	}
	s.logger.Info("Imported result log", "run", run.ID, "entries", len(entries), "new", imported)
	return run, nil
}

// failureExists reports whether an identical failure is already stored,
// for example by an earlier import of the same log.
func failureExists(tx *sql.Tx, rec *MirrorFailure) (bool, error) {
	var n int
	err := tx.QueryRow(`
		SELECT COUNT(*) FROM mirror_failures
		WHERE url = ? AND recorded_at = ? AND code = ? AND drift_sec = ? AND message = ?
	`, rec.URL, rec.RecordedAt.UTC().Unix(), rec.Code, rec.DriftSec, rec.Message).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check for imported failure: %w", err)
	}
	return n > 0, nil
}

// ============================================================================
// Statistics
// ============================================================================

// Stats aggregates failures recorded at or after since, most failures first
func (s *Store) Stats(since time.Time, limit int) ([]MirrorStats, error) {
	query := `
		SELECT f.url, COUNT(*), MAX(f.drift_sec), MAX(f.recorded_at),
		       (SELECT l.message FROM mirror_failures l
		        WHERE l.url = f.url ORDER BY l.recorded_at DESC, l.id DESC LIMIT 1)
		FROM mirror_failures f
		WHERE f.recorded_at >= ?
		GROUP BY f.url
		ORDER BY COUNT(*) DESC, f.url
	`
	args := []any{since.UTC().Unix()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mirror stats: %w", err)
	}
	defer rows.Close()

	var stats []MirrorStats
	for rows.Next() {
		var st MirrorStats
		var last int64
		var msg sql.NullString
		if err := rows.Scan(&st.URL, &st.Failures, &st.WorstDriftSec, &last, &msg); err != nil {
			return nil, fmt.Errorf("failed to scan mirror stats: %w", err)
		}
		st.LastFailure = time.Unix(last, 0).UTC()
		st.LastMessage = msg.String
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mirror stats: %w", err)
	}
	return stats, nil
}
