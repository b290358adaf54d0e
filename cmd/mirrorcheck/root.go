package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/mirrorcheck/internal/config"
	"github.com/BadgerOps/mirrorcheck/internal/mirror"
	"github.com/BadgerOps/mirrorcheck/internal/notify"
	"github.com/BadgerOps/mirrorcheck/internal/safety"
	"github.com/BadgerOps/mirrorcheck/internal/scan"
)

var (
	// Global flags
	cfgPath   string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger
)

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirrorcheck",
		Short: "Check Arch Linux mirrors for freshness against tier-0",
		Long: `mirrorcheck compares the lastsync and lastupdate timestamps published by
Arch Linux mirrors with those of the authenticated tier-0 mirror, and flags
mirrors that have fallen further behind than their tier allows.

A single mirror can be checked interactively, or the whole public mirror
list can be scanned with a bounded number of concurrent checks. Failing
mirrors are appended to a CSV log and, optionally, a SQLite database.`,
		Example: `  mirrorcheck check --mirror https://mirror.example.org/archlinux --tier 1
  mirrorcheck check --mirror '*' --workers 16
  mirrorcheck scan --workers 16 --deadline 10m
  mirrorcheck db --mirror https://mirror.example.org/archlinux --repo core
  mirrorcheck stats --since 168h`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			if err := globalCfg.ApplyEnv(os.LookupEnv); err != nil {
				return fmt.Errorf("invalid environment override: %w", err)
			}
			if err := globalCfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger.Debug("config loaded", "path", cfgPath)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	cmd.AddCommand(
		newCheckCmd(),
		newScanCmd(),
		newDBCmd(),
		newStatsCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}

func mirrorOptions() mirror.Options {
	return mirror.Options{
		Timeout: globalCfg.Timeout(),
		Arch:    globalCfg.Check.Arch,
		Logger:  logger,
	}
}

// tier0URL prefers the --tier0 flag over the configured endpoint. fromFlag
// reports whether the URL should be persisted after a successful run.
func tier0URL(flag string) (raw string, fromFlag bool, err error) {
	if flag != "" {
		return flag, true, nil
	}
	raw, err = globalCfg.Tier0URL()
	return raw, false, err
}

// loadTier0 builds the tier-0 baseline. Any failure aborts the command.
func loadTier0(ctx context.Context, flag string) (*mirror.Record, error) {
	raw, fromFlag, err := tier0URL(flag)
	if err != nil {
		return nil, err
	}

	tier0, err := mirror.NewTier0(ctx, raw, mirrorOptions())
	if err != nil {
		return nil, err
	}
	logger.Info("tier-0 baseline loaded", "tier0", safety.RedactURL(tier0.URL), "lastsync", tier0.LastSync)

	if fromFlag {
		saveTier0(raw)
	}
	return tier0, nil
}

// saveTier0 persists credentials given on the command line. Failing to save
// is not fatal to the check that was requested.
func saveTier0(raw string) {
	if err := globalCfg.SetTier0(raw); err != nil {
		logger.Warn("not saving tier-0 credentials", "error", err)
		return
	}
	path := cfgPath
	if path == "" {
		path = config.UserConfigPath()
	}
	if path == "" {
		return
	}
	if err := globalCfg.Save(path); err != nil {
		logger.Warn("failed to save tier-0 credentials", "path", path, "error", err)
		return
	}
	logger.Info("tier-0 credentials saved", "path", path)
}

// newChecker wires the evaluator policy from config. notifier may be nil.
func newChecker(tier0 *mirror.Record, notifier notify.Notifier) *scan.Checker {
	policy := mirror.Policy{
		CheckUpdateDrift: globalCfg.Check.CheckUpdateDrift,
		Notifier:         notifier,
		Recipient:        globalCfg.Notify.Recipient,
	}
	evaluator := mirror.NewEvaluator(globalCfg.Thresholds(), policy, logger)
	return scan.NewChecker(tier0, evaluator, mirrorOptions())
}

// newNotifier returns the configured notifier, or nil when notices are off.
func newNotifier(enabled bool) notify.Notifier {
	if !enabled {
		return nil
	}
	if globalCfg.Notify.Opener == "log" {
		return notify.LogNotifier{Logger: logger}
	}
	return notify.NewMailtoNotifier(globalCfg.Notify.Opener, logger)
}
