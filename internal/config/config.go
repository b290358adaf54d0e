package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/mirrorcheck/internal/mirror"
	"github.com/BadgerOps/mirrorcheck/internal/notify"
	"github.com/BadgerOps/mirrorcheck/internal/safety"
)

// Config is the top-level configuration
type Config struct {
	Check   CheckConfig   `yaml:"check"`
	Tier0   Tier0Config   `yaml:"tier0"`
	Scan    ScanConfig    `yaml:"scan"`
	Notify  NotifyConfig  `yaml:"notify"`
	Results ResultsConfig `yaml:"results"`
}

// CheckConfig holds evaluation settings
type CheckConfig struct {
	MaxTier1SyncDriftSec int    `yaml:"max_tier1_sync_drift_sec"`
	MaxTier2SyncDriftSec int    `yaml:"max_tier2_sync_drift_sec"`
	TimeoutSec           int    `yaml:"timeout_sec"`
	DefaultTier          int    `yaml:"default_tier"`
	Arch                 string `yaml:"arch"`
	CheckUpdateDrift     bool   `yaml:"check_update_drift"`
}

// Tier0Config holds the authoritative endpoint. Either URL carries the
// credentials inline, or Username and Password are combined with Host.
type Tier0Config struct {
	URL      string `yaml:"url,omitempty"`
	Host     string `yaml:"host"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// ScanConfig holds fleet scan settings
type ScanConfig struct {
	Workers       int    `yaml:"workers"`
	MirrorListURL string `yaml:"mirror_list_url"`
	DeadlineSec   int    `yaml:"deadline_sec"`
}

// NotifyConfig holds notification settings
type NotifyConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Recipient string `yaml:"recipient"`
	// Opener is the command handed the mailto link. "log" writes notices
	// to the log instead.
	Opener    string `yaml:"opener"`
}

// ResultsConfig holds where failing outcomes are written
type ResultsConfig struct {
	LogPath string `yaml:"log_path"`
	DBPath  string `yaml:"db_path"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Check: CheckConfig{
			MaxTier1SyncDriftSec: 2 * 3600,
			MaxTier2SyncDriftSec: 6 * 3600,
			TimeoutSec:           5,
			DefaultTier:          2,
			Arch:                 mirror.DefaultArch,
		},
		Tier0: Tier0Config{
			Host: "repos.archlinux.org",
		},
		Scan: ScanConfig{
			Workers:       1,
			MirrorListURL: mirror.DefaultMirrorListURL,
		},
		Notify: NotifyConfig{
			Recipient: notify.DefaultRecipient,
			Opener:    "xdg-open",
		},
		Results: ResultsConfig{
			LogPath: "mirrorcheck-failures.csv",
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Save writes the config as YAML. The file may hold tier-0 credentials, so
// it is created owner-only.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o770); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("restricting config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"mirrorcheck.yaml",
		"/etc/mirrorcheck/mirrorcheck.yaml",
	}

	if p := UserConfigPath(); p != "" {
		searchPaths = append(searchPaths, p)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// UserConfigPath is where credentials are saved when no config file was found.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mirrorcheck", "mirrorcheck.yaml")
}

// ApplyEnv overrides values from MIRRORCHECK_* variables. lookup is
// os.LookupEnv outside of tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"MIRRORCHECK_TIER0_URL":       &c.Tier0.URL,
		"MIRRORCHECK_TIER0_USERNAME":  &c.Tier0.Username,
		"MIRRORCHECK_TIER0_PASSWORD":  &c.Tier0.Password,
		"MIRRORCHECK_ARCH":            &c.Check.Arch,
		"MIRRORCHECK_MIRROR_LIST_URL": &c.Scan.MirrorListURL,
		"MIRRORCHECK_NOTIFY_TO":       &c.Notify.Recipient,
		"MIRRORCHECK_RESULTS_LOG":     &c.Results.LogPath,
		"MIRRORCHECK_RESULTS_DB":      &c.Results.DBPath,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MIRRORCHECK_MAX_TIER1_SYNC_DRIFT_SEC": &c.Check.MaxTier1SyncDriftSec,
		"MIRRORCHECK_MAX_TIER2_SYNC_DRIFT_SEC": &c.Check.MaxTier2SyncDriftSec,
		"MIRRORCHECK_TIMEOUT_SEC":              &c.Check.TimeoutSec,
		"MIRRORCHECK_DEFAULT_TIER":             &c.Check.DefaultTier,
		"MIRRORCHECK_WORKERS":                  &c.Scan.Workers,
		"MIRRORCHECK_DEADLINE_SEC":             &c.Scan.DeadlineSec,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	if v, ok := lookup("MIRRORCHECK_NOTIFY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MIRRORCHECK_NOTIFY: %w", err)
		}
		c.Notify.Enabled = b
	}
	return nil
}

// Validate checks that numeric settings are usable
func (c *Config) Validate() error {
	switch {
	case c.Check.MaxTier1SyncDriftSec <= 0:
		return fmt.Errorf("check.max_tier1_sync_drift_sec must be positive")
	case c.Check.MaxTier2SyncDriftSec <= 0:
		return fmt.Errorf("check.max_tier2_sync_drift_sec must be positive")
	case c.Check.TimeoutSec <= 0:
		return fmt.Errorf("check.timeout_sec must be positive")
	case c.Check.DefaultTier != 1 && c.Check.DefaultTier != 2:
		return fmt.Errorf("check.default_tier must be 1 or 2, got %d", c.Check.DefaultTier)
	case c.Scan.Workers <= 0:
		return fmt.Errorf("scan.workers must be positive")
	case c.Scan.DeadlineSec < 0:
		return fmt.Errorf("scan.deadline_sec must not be negative")
	}
	return nil
}

// Thresholds returns the evaluator thresholds
func (c *Config) Thresholds() mirror.Thresholds {
	return mirror.Thresholds{
		Tier1: time.Duration(c.Check.MaxTier1SyncDriftSec) * time.Second,
		Tier2: time.Duration(c.Check.MaxTier2SyncDriftSec) * time.Second,
	}
}

// Timeout returns the per-request timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Check.TimeoutSec) * time.Second
}

// Deadline returns the overall scan deadline, zero when unbounded
func (c *Config) Deadline() time.Duration {
	return time.Duration(c.Scan.DeadlineSec) * time.Second
}

// Tier0URL returns the tier-0 URL with credentials. An explicit URL wins;
// otherwise one is built from Host and the stored credentials.
func (c *Config) Tier0URL() (string, error) {
	if c.Tier0.URL != "" {
		return c.Tier0.URL, nil
	}
	if c.Tier0.Username == "" || c.Tier0.Password == "" {
		return "", fmt.Errorf("no tier-0 credentials configured (pass --tier0 or set tier0.username and tier0.password)")
	}
	u := url.URL{
		Scheme: "https",
		User:   url.UserPassword(c.Tier0.Username, c.Tier0.Password),
		Host:   c.Tier0.Host,
		Path:   "/$repo/os/$arch",
	}
	return u.String(), nil
}

// SetTier0 stores the credentials and host of an inline-credential tier-0
// URL so later runs can rebuild it. Non-https URLs are kept verbatim.
func (c *Config) SetTier0(raw string) error {
	origin, creds, err := safety.SplitCredentials(raw)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(origin, "https://") {
		c.Tier0 = Tier0Config{URL: raw, Host: c.Tier0.Host}
		return nil
	}
	c.Tier0 = Tier0Config{
		Host:     strings.TrimPrefix(origin, "https://"),
		Username: creds.Username,
		Password: creds.Password,
	}
	return nil
}
