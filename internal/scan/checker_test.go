package scan

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BadgerOps/mirrorcheck/internal/freshness"
	"github.com/BadgerOps/mirrorcheck/internal/mirror"
)

const tier0Sync = 1700000000

// fleet serves several fake mirrors from one server, keyed by path prefix.
func fleet(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	stamp := func(prefix string, sync int64) {
		body := fmt.Sprintf("%d\n", sync)
		mux.HandleFunc(prefix+"/lastsync", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(body)) })
		mux.HandleFunc(prefix+"/lastupdate", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(body)) })
	}

	stamp("/fresh", tier0Sync-600)
	stamp("/threehours", tier0Sync-3*3600)
	stamp("/stale", tier0Sync-7*3600)
	mux.HandleFunc("/garbage/lastsync", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("oops")) })
	mux.HandleFunc("/garbage/lastupdate", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("")) })
	mux.HandleFunc("/slow/", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestChecker(t *testing.T) *Checker {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/lastsync", func(w http.ResponseWriter, r *http.Request) { fmt.Fprintf(w, "%d", tier0Sync) })
	mux.HandleFunc("/lastupdate", func(w http.ResponseWriter, r *http.Request) { fmt.Fprintf(w, "%d", tier0Sync) })
	t0 := httptest.NewServer(mux)
	t.Cleanup(t0.Close)

	opts := mirror.Options{Timeout: 200 * time.Millisecond, Logger: discardLogger()}
	raw := strings.Replace(t0.URL, "http://", "http://admin:pw@", 1) + "/$repo/os/$arch"
	tier0, err := mirror.NewTier0(context.Background(), raw, opts)
	if err != nil {
		t.Fatalf("NewTier0: %v", err)
	}
	return NewChecker(tier0, mirror.NewEvaluator(mirror.DefaultThresholds(), mirror.Policy{}, discardLogger()), opts)
}

func TestCheckOne(t *testing.T) {
	srv := fleet(t)
	checker := newTestChecker(t)

	tests := []struct {
		name     string
		path     string
		tier     int
		success  bool
		code     freshness.Code
		status   int
		contains string
	}{
		{"fresh tier2", "/fresh", 2, true, 0, 0, "in sync"},
		{"three hours tier2", "/threehours", 2, true, 0, 0, "in sync"},
		{"three hours tier1", "/threehours", 1, false, 0, 0, "out of sync by 3h0m0s"},
		{"stale tier2", "/stale", 2, false, 0, 0, "out of sync by 7h0m0s"},
		{"unknown timestamps", "/garbage", 2, false, freshness.CodeUnknownTimestamp, 0, "could not determine sync state"},
		{"not found", "/missing", 2, false, 404, 404, "404"},
		{"timeout", "/slow", 2, false, freshness.CodeTimeout, 0, "timed out"},
		{"unsupported tier", "/fresh", 3, false, freshness.CodeUnsupportedTier, 0, "tier 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := checker.CheckOne(context.Background(), srv.URL+tt.path+"/", tt.tier)
			if o.Success != tt.success {
				t.Fatalf("Success = %v, want %v (%s)", o.Success, tt.success, o.Message)
			}
			if o.Code != tt.code {
				t.Errorf("Code = %d, want %d", o.Code, tt.code)
			}
			if o.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", o.StatusCode, tt.status)
			}
			if !strings.Contains(o.Message, tt.contains) {
				t.Errorf("Message = %q, want it to contain %q", o.Message, tt.contains)
			}
			if o.URL != srv.URL+tt.path {
				t.Errorf("URL = %q, want normalized %q", o.URL, srv.URL+tt.path)
			}
			if o.Tier != tt.tier {
				t.Errorf("Tier = %d, want %d", o.Tier, tt.tier)
			}
		})
	}
}

func TestCheckOneUnreachable(t *testing.T) {
	checker := newTestChecker(t)

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	o := checker.CheckOne(context.Background(), deadURL, 2)
	if o.Success || o.Code != freshness.CodeTransport || o.DriftValue() != -2 {
		t.Fatalf("unexpected outcome %+v", o)
	}
}

func TestScanWithChecker(t *testing.T) {
	srv := fleet(t)
	checker := newTestChecker(t)

	urls := []string{
		srv.URL + "/fresh",
		srv.URL + "/stale",
		srv.URL + "/threehours",
		srv.URL + "/garbage",
		srv.URL + "/missing",
	}
	sink := &memorySink{}
	c := NewCoordinator(checker.ForTier(FleetTier), 3, discardLogger())

	summary, err := c.Scan(context.Background(), urls, sink)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if summary.Healthy != 2 || summary.Failed != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	got := make(map[string]int64)
	for _, o := range sink.outcomes {
		got[o.URL] = o.DriftValue()
	}
	want := map[string]int64{
		srv.URL + "/stale":   7 * 3600,
		srv.URL + "/garbage": int64(freshness.CodeUnknownTimestamp),
		srv.URL + "/missing": 404,
	}
	for u, v := range want {
		if got[u] != v {
			t.Errorf("%s recorded %d, want %d", u, got[u], v)
		}
	}
}
