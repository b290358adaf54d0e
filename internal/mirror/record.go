package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BadgerOps/mirrorcheck/internal/freshness"
	"github.com/BadgerOps/mirrorcheck/internal/safety"
)

// DefaultArch is used to build dataset paths when no architecture is configured.
const DefaultArch = "x86_64"

// ErrNoBaseline wraps any failure to build the tier-0 record. A scan cannot
// proceed without it.
var ErrNoBaseline = errors.New("no tier-0 baseline")

// Record holds the freshness timestamps of one endpoint. A zero LastSync or
// LastUpdate means the endpoint did not report a usable value.
//
// Mirror records borrow a read-only pointer to their tier-0 record; the
// tier-0 record must outlive every mirror record built against it and must
// not be refreshed while mirror records are being evaluated.
type Record struct {
	URL        string
	Tier       int
	Arch       string
	LastSync   time.Time
	LastUpdate time.Time

	tier0  *Record
	src    freshness.Source
	logger *slog.Logger
}

// Options configures record construction.
type Options struct {
	Timeout time.Duration
	Arch    string
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.Arch == "" {
		o.Arch = DefaultArch
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// NormalizeURL forces an https scheme onto scheme-less input and strips
// trailing slashes.
func NormalizeURL(raw string) (string, error) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return "", fmt.Errorf("mirror URL is empty")
	}
	lower := strings.ToLower(u)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		u = "https://" + u
	}
	return strings.TrimRight(u, "/"), nil
}

// NewTier0 builds the authoritative record from a URL carrying basic-auth
// credentials. Every failure, including an unparseable timestamp, wraps
// ErrNoBaseline.
func NewTier0(ctx context.Context, rawURL string, opts Options) (*Record, error) {
	opts = opts.withDefaults()
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoBaseline, err)
	}
	src, err := freshness.NewTier0Source(normalized, opts.Timeout, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoBaseline, err)
	}
	return newTier0FromSource(ctx, src, opts)
}

func newTier0FromSource(ctx context.Context, src freshness.Source, opts Options) (*Record, error) {
	rec := &Record{
		URL:    src.String(),
		Tier:   0,
		Arch:   opts.Arch,
		src:    src,
		logger: opts.Logger,
	}
	if err := rec.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoBaseline, err)
	}
	return rec, nil
}

// NewMirror builds a tier-1 or tier-2 record; other tiers are rejected
// before anything is fetched. Transport, status and timeout
// failures are returned; an empty or non-numeric timestamp body leaves the
// corresponding field unset instead.
func NewMirror(ctx context.Context, rawURL string, tier int, tier0 *Record, opts Options) (*Record, error) {
	opts = opts.withDefaults()
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, &freshness.InvalidURLError{URL: safety.RedactURL(rawURL), Err: err}
	}
	if _, err := safety.ValidateHTTPURL(normalized); err != nil {
		return nil, &freshness.InvalidURLError{URL: safety.RedactURL(normalized), Err: err}
	}
	return newMirrorFromSource(ctx, freshness.NewMirrorSource(normalized, opts.Timeout), tier, tier0, opts)
}

func newMirrorFromSource(ctx context.Context, src freshness.Source, tier int, tier0 *Record, opts Options) (*Record, error) {
	if tier != 1 && tier != 2 {
		return nil, &freshness.UnsupportedTierError{Tier: tier}
	}
	if tier0 == nil || tier0.Tier != 0 {
		return nil, fmt.Errorf("mirror %s needs a tier-0 baseline record", src)
	}
	rec := &Record{
		URL:    src.String(),
		Tier:   tier,
		Arch:   opts.Arch,
		tier0:  tier0,
		src:    src,
		logger: opts.Logger,
	}
	if err := rec.Refresh(ctx); err != nil {
		return nil, err
	}
	return rec, nil
}

// Tier0 returns the baseline record, or nil for a tier-0 record.
func (r *Record) Tier0() *Record { return r.tier0 }

// Refresh re-fetches both timestamps and overwrites the record's fields.
// On error the record is left unchanged.
func (r *Record) Refresh(ctx context.Context) error {
	update, err := r.fetch(ctx, freshness.UpdatePath)
	if err != nil {
		return err
	}
	sync, err := r.fetch(ctx, freshness.SyncPath)
	if err != nil {
		return err
	}
	r.LastSync = sync
	r.LastUpdate = update
	return nil
}

func (r *Record) fetch(ctx context.Context, path string) (time.Time, error) {
	ts, err := freshness.FetchTimestamp(ctx, r.src, path)
	if err == nil {
		return ts, nil
	}
	var perr *freshness.ParseError
	if r.Tier != 0 && errors.As(err, &perr) {
		r.logger.Debug("timestamp unknown", "mirror", r.URL, "path", path, "error", err)
		return time.Time{}, nil
	}
	return time.Time{}, err
}

// DBPath returns the dataset archive path for repo relative to the base URL.
func (r *Record) DBPath(repo string) string {
	return fmt.Sprintf("/%s/os/%s/%s.db.tar.gz", repo, r.Arch, repo)
}

// FetchDB downloads the gzipped package database for repo. The payload is
// returned as-is.
func (r *Record) FetchDB(ctx context.Context, repo string) ([]byte, error) {
	if err := safety.ValidateRepoName(repo); err != nil {
		return nil, err
	}
	return r.src.Fetch(ctx, r.DBPath(repo))
}
