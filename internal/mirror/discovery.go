package mirror

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/BadgerOps/mirrorcheck/internal/safety"
)

// DefaultMirrorListURL lists every known mirror, one commented Server line each.
const DefaultMirrorListURL = "https://archlinux.org/mirrorlist/all/"

const maxMirrorListBytes int64 = 16 * 1024 * 1024

var serverLineRegex = regexp.MustCompile(`^#?\s*Server\s*=\s*(\S+)`)

// Discovery fetches the mirror-list feed.
type Discovery struct {
	client  *http.Client
	logger  *slog.Logger
	listURL string
}

// NewDiscovery creates a Discovery for listURL (DefaultMirrorListURL when empty).
func NewDiscovery(listURL string, timeout time.Duration, logger *slog.Logger) *Discovery {
	if listURL == "" {
		listURL = DefaultMirrorListURL
	}
	if timeout < 30*time.Second {
		// The full list is a few hundred kilobytes; the freshness timeout is
		// sized for tiny bodies.
		timeout = 30 * time.Second
	}
	return &Discovery{
		client:  safety.NewHTTPClient(timeout),
		logger:  logger,
		listURL: listURL,
	}
}

// Mirrors downloads the feed and returns the base URLs it names.
func (d *Discovery) Mirrors(ctx context.Context) ([]string, error) {
	data, err := d.fetch(ctx, d.listURL)
	if err != nil {
		return nil, fmt.Errorf("fetching mirror list: %w", err)
	}
	urls, err := ParseMirrorList(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing mirror list: %w", err)
	}
	d.logger.Info("mirror list loaded", "source", d.listURL, "mirrors", len(urls))
	return urls, nil
}

// fetch performs an HTTP GET request with the given context and returns the response body.
func (d *Discovery) fetch(ctx context.Context, url string) ([]byte, error) {
	if _, err := safety.ValidateHTTPURL(url); err != nil {
		return nil, fmt.Errorf("invalid fetch URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", safety.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := safety.ReadAllWithLimit(resp.Body, maxMirrorListBytes)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			return nil, fmt.Errorf("response exceeded %d bytes for %s: %w", maxMirrorListBytes, url, err)
		}
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return body, nil
}

// ParseMirrorList extracts mirror base URLs from lines like
// "#Server = https://host/archlinux/$repo/os/$arch". The path from "/$repo"
// on is dropped. Duplicates are removed and input order is kept.
func ParseMirrorList(r io.Reader) ([]string, error) {
	seen := make(map[string]bool)
	var urls []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m := serverLineRegex.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		base := m[1]
		if i := strings.Index(base, "/$repo"); i >= 0 {
			base = base[:i]
		}
		base, err := NormalizeURL(base)
		if err != nil || seen[base] {
			continue
		}
		seen[base] = true
		urls = append(urls, base)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}
