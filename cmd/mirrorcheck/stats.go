package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/mirrorcheck/internal/freshness"
	"github.com/BadgerOps/mirrorcheck/internal/results"
	"github.com/BadgerOps/mirrorcheck/internal/store"
)

var (
	statsLogPath string
	statsDBPath  string
	statsImport  bool
	statsSince   time.Duration
	statsLimit   int
	statsMirror  string
	statsRuns    int
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize recorded mirror failures",
		Long: `Print per-mirror failure counts, the worst drift seen and the time of the
last failure.

When a results database is configured it is read directly. Otherwise the CSV
result log is loaded into a temporary in-memory database first. Use --import
to copy the CSV log into the configured database once.

--mirror lists the individual failures of one mirror instead, and --runs
appends the most recent scan runs.`,
		Example: `  mirrorcheck stats
  mirrorcheck stats --since 168h --limit 20
  mirrorcheck stats --results-db results.db --import
  mirrorcheck stats --results-db results.db --mirror https://mirror.example.org/archlinux
  mirrorcheck stats --results-db results.db --runs 5`,
		RunE: statsRun,
	}

	cmd.Flags().StringVar(&statsLogPath, "results-log", "", "CSV result log (default from config)")
	cmd.Flags().StringVar(&statsDBPath, "results-db", "", "SQLite results database (default from config)")
	cmd.Flags().BoolVar(&statsImport, "import", false, "import the CSV log into the results database before reporting")
	cmd.Flags().DurationVar(&statsSince, "since", 0, "only count failures newer than this (0 for all)")
	cmd.Flags().IntVar(&statsLimit, "limit", 0, "show at most this many mirrors (0 for all)")
	cmd.Flags().StringVar(&statsMirror, "mirror", "", "list the recorded failures of this mirror")
	cmd.Flags().IntVar(&statsRuns, "runs", 0, "also list this many recent scan runs")

	return cmd
}

func statsRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	logPath := statsLogPath
	if logPath == "" {
		logPath = globalCfg.Results.LogPath
	}
	dbPath := statsDBPath
	if dbPath == "" {
		dbPath = globalCfg.Results.DBPath
	}

	importLog := statsImport
	if dbPath == "" {
		dbPath = ":memory:"
		importLog = true
	}

	// The store logs its migrations; keep them out of the report.
	storeLogger := logger
	if dbPath == ":memory:" {
		storeLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	st, err := store.New(dbPath, storeLogger)
	if err != nil {
		return fmt.Errorf("failed to open results database: %w", err)
	}
	defer st.Close()

	if importLog {
		n, err := importResultLog(st, logPath)
		if err != nil {
			return err
		}
		logger.Debug("result log imported", "path", logPath, "entries", n)
	}

	now := time.Now()
	if statsMirror != "" {
		failures, err := st.ListFailures(statsMirror, statsLimit)
		if err != nil {
			return err
		}
		printFailures(statsMirror, failures, now)
	} else {
		var since time.Time
		if statsSince > 0 {
			since = now.Add(-statsSince)
		}
		stats, err := st.Stats(since, statsLimit)
		if err != nil {
			return err
		}
		printStats(stats, now)
	}

	if statsRuns > 0 {
		runs, err := st.ListScanRuns(statsRuns)
		if err != nil {
			return err
		}
		printRuns(runs)
	}
	return nil
}

func importResultLog(st *store.Store, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening result log: %w", err)
	}
	defer f.Close()

	entries, err := results.ParseCSV(f)
	if err != nil {
		return 0, err
	}
	if _, err := st.ImportEntries(entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

func printFailures(url string, failures []store.MirrorFailure, now time.Time) {
	if len(failures) == 0 {
		fmt.Printf("No failures recorded for %s.\n", url)
		return
	}

	fmt.Printf("Failures for %s:\n", url)
	for _, f := range failures {
		label := freshness.Code(f.Code).String()
		if f.Code == 0 {
			label = "stale " + (time.Duration(f.DriftSec) * time.Second).String()
		}
		fmt.Printf("  %-16s %-20s %s\n", humanize.RelTime(f.RecordedAt, now, "ago", "from now"), label, f.Message)
	}
}

func printRuns(runs []store.ScanRun) {
	fmt.Println("\nRecent scan runs:")
	for _, r := range runs {
		fmt.Printf("  %s  %-6s %-11s %s  %d/%d healthy, %d failed, %d skipped\n",
			r.ID, r.Mode, r.Status, r.StartTime.Local().Format("2006-01-02 15:04:05"),
			r.Healthy, r.Total, r.Failed, r.Skipped)
	}
}

func printStats(stats []store.MirrorStats, now time.Time) {
	if len(stats) == 0 {
		fmt.Println("No failures recorded.")
		return
	}

	fmt.Printf("%-48s %8s %-16s %-16s\n", "Mirror", "Failures", "Worst drift", "Last failure")
	for _, s := range stats {
		worst := "-"
		if s.WorstDriftSec > 0 {
			worst = (time.Duration(s.WorstDriftSec) * time.Second).String()
		}
		fmt.Printf("%-48s %8s %-16s %-16s\n",
			s.URL, humanize.Comma(int64(s.Failures)), worst, humanize.RelTime(s.LastFailure, now, "ago", "from now"))
	}
}
