package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/mirrorcheck/internal/mirror"
	"github.com/BadgerOps/mirrorcheck/internal/results"
	"github.com/BadgerOps/mirrorcheck/internal/scan"
	"github.com/BadgerOps/mirrorcheck/internal/store"
)

var (
	scanTier0      string
	scanWorkers    int
	scanMirrorList string
	scanDeadline   time.Duration
	scanLogPath    string
	scanDBPath     string
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Check every mirror in the public mirror list",
		Long: `Download the mirror list, check every mirror it names as a tier-2 mirror,
and record the failing ones. At most --workers checks run at once.

Failures are appended to the CSV result log (timestamp,url,drift,message)
and, when a database path is configured, stored under a new scan run.
Interrupting the scan, or reaching --deadline, stops new checks; the ones
in flight are still recorded.`,
		Example: `  mirrorcheck scan
  mirrorcheck scan --workers 32 --deadline 15m
  mirrorcheck scan --results-db /var/lib/mirrorcheck/results.db`,
		RunE: scanRun,
	}

	cmd.Flags().StringVar(&scanTier0, "tier0", "", "tier-0 URL with inline credentials")
	cmd.Flags().IntVar(&scanWorkers, "workers", 0, "maximum concurrent checks (default from config)")
	cmd.Flags().StringVar(&scanMirrorList, "mirror-list", "", "mirror list URL (default from config)")
	cmd.Flags().DurationVar(&scanDeadline, "deadline", 0, "stop admitting checks after this long (default from config)")
	cmd.Flags().StringVar(&scanLogPath, "results-log", "", "CSV result log (default from config)")
	cmd.Flags().StringVar(&scanDBPath, "results-db", "", "SQLite results database (default from config)")

	return cmd
}

func scanRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	return runFleetScan(cmd.Context(), fleetOptions{
		tier0:      scanTier0,
		workers:    scanWorkers,
		mirrorList: scanMirrorList,
		deadline:   scanDeadline,
		logPath:    scanLogPath,
		dbPath:     scanDBPath,
	})
}

// fleetOptions are command-line overrides; zero values fall back to config.
type fleetOptions struct {
	tier0      string
	workers    int
	mirrorList string
	deadline   time.Duration
	logPath    string
	dbPath     string
}

func (o fleetOptions) withConfig() fleetOptions {
	if o.workers <= 0 {
		o.workers = globalCfg.Scan.Workers
	}
	if o.mirrorList == "" {
		o.mirrorList = globalCfg.Scan.MirrorListURL
	}
	if o.deadline <= 0 {
		o.deadline = globalCfg.Deadline()
	}
	if o.logPath == "" {
		o.logPath = globalCfg.Results.LogPath
	}
	if o.dbPath == "" {
		o.dbPath = globalCfg.Results.DBPath
	}
	return o
}

func runFleetScan(ctx context.Context, opts fleetOptions) error {
	opts = opts.withConfig()

	if opts.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.deadline)
		defer cancel()
	}

	tier0, err := loadTier0(ctx, opts.tier0)
	if err != nil {
		return err
	}

	urls, err := mirror.NewDiscovery(opts.mirrorList, globalCfg.Timeout(), logger).Mirrors(ctx)
	if err != nil {
		return err
	}

	var sinks results.MultiSink
	if opts.logPath != "" {
		csvSink, err := results.OpenCSVSink(opts.logPath)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := csvSink.Close(); cerr != nil {
				logger.Error("failed to close result log", "error", cerr)
			}
		}()
		sinks = append(sinks, csvSink)
	}

	var run *store.ScanRun
	if opts.dbPath != "" {
		st, err := store.New(opts.dbPath, logger)
		if err != nil {
			return fmt.Errorf("failed to open results database: %w", err)
		}
		defer st.Close()

		run, err = st.StartScanRun("fleet", len(urls))
		if err != nil {
			return err
		}
		sinks = append(sinks, st.Sink(run.ID))
		defer func() {
			if ferr := st.FinishScanRun(run); ferr != nil {
				logger.Error("failed to finish scan run", "run", run.ID, "error", ferr)
			}
		}()
	}

	if len(sinks) == 0 {
		logger.Warn("no result log or database configured, failures are only printed")
	}

	failures := 0
	printer := scan.SinkFunc(func(o scan.Outcome) error {
		failures++
		label := o.Code.String()
		if o.Code == 0 {
			label = "stale"
		}
		fmt.Printf("%-17s %s: %s\n", label, o.URL, o.Message)
		return nil
	})
	sink := append(results.MultiSink{printer}, sinks...)

	checker := newChecker(tier0, nil)
	coordinator := scan.NewCoordinator(checker.ForTier(scan.FleetTier), opts.workers, logger)
	summary, scanErr := coordinator.Scan(ctx, urls, sink)
	if run != nil {
		run.Complete(summary, scanErr)
	}

	fmt.Printf("\nScanned %s of %s mirrors in %s: %s healthy, %s failed",
		humanize.Comma(int64(summary.Submitted)), humanize.Comma(int64(summary.Total)),
		summary.Duration.Round(time.Second),
		humanize.Comma(int64(summary.Healthy)), humanize.Comma(int64(summary.Failed)))
	if summary.Skipped > 0 {
		fmt.Printf(", %s skipped", humanize.Comma(int64(summary.Skipped)))
	}
	fmt.Println()
	if summary.SinkErrors > 0 {
		fmt.Printf("%d failures could not be recorded\n", summary.SinkErrors)
	}
	if opts.logPath != "" && failures > 0 {
		fmt.Printf("Failures appended to %s\n", opts.logPath)
	}
	if run != nil {
		fmt.Printf("Scan run: %s\n", run.ID)
	}

	if errors.Is(scanErr, context.DeadlineExceeded) {
		return fmt.Errorf("scan deadline of %s reached: %w", opts.deadline, scanErr)
	}
	return scanErr
}
