package mirror

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/BadgerOps/mirrorcheck/internal/freshness"
)

var baseTime = time.Unix(1700000000, 0).UTC()

func records(tier int, tier0Sync, mirrorSync time.Time) (*Record, *Record) {
	tier0 := &Record{URL: "https://tier0", Tier: 0, LastSync: tier0Sync, LastUpdate: tier0Sync}
	m := &Record{URL: "https://mirror", Tier: tier, LastSync: mirrorSync, LastUpdate: mirrorSync, tier0: tier0}
	return tier0, m
}

func TestEvaluateThresholdBoundary(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name    string
		tier    int
		drift   time.Duration
		healthy bool
	}{
		{"tier2 at threshold", 2, th.Tier2, true},
		{"tier2 one second over", 2, th.Tier2 + time.Second, false},
		{"tier1 at threshold", 1, th.Tier1, true},
		{"tier1 one second over", 1, th.Tier1 + time.Second, false},
		{"mirror ahead of tier0", 1, -time.Hour, true},
		{"identical", 2, 0, true},
		{"3h behind tier2", 2, 3 * time.Hour, true},
		{"3h behind tier1", 1, 3 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier0, m := records(tt.tier, baseTime, baseTime.Add(-tt.drift))
			v := Evaluate(tier0, m, th)
			if v.Healthy != tt.healthy {
				t.Fatalf("Healthy = %v, want %v (%s)", v.Healthy, tt.healthy, v.Message)
			}
			if v.Drift != tt.drift {
				t.Errorf("Drift = %s, want %s", v.Drift, tt.drift)
			}
			if v.Code != 0 {
				t.Errorf("Code = %d, want 0 for a measured drift", v.Code)
			}
			if !tt.healthy && !strings.HasPrefix(v.Message, "out of sync by") {
				t.Errorf("Message = %q", v.Message)
			}
		})
	}
}

func TestEvaluateCustomThresholds(t *testing.T) {
	th := Thresholds{Tier1: 10 * time.Second, Tier2: 20 * time.Second}
	for _, d := range []int{0, 5, 10, 11, 20, 21} {
		drift := time.Duration(d) * time.Second
		for _, tier := range []int{1, 2} {
			limit, _ := th.For(tier)
			tier0, m := records(tier, baseTime, baseTime.Add(-drift))
			if got, want := Evaluate(tier0, m, th).Healthy, drift <= limit; got != want {
				t.Errorf("tier %d drift %s: Healthy = %v, want %v", tier, drift, got, want)
			}
		}
	}
}

func TestEvaluateRejectsUnknownTier(t *testing.T) {
	for _, tier := range []int{0, 3, -1} {
		tier0, m := records(tier, baseTime, baseTime)
		v := Evaluate(tier0, m, DefaultThresholds())
		if v.Healthy {
			t.Errorf("tier %d must not pass", tier)
		}
		if v.Code != freshness.CodeUnsupportedTier {
			t.Errorf("tier %d: Code = %d, want %d", tier, v.Code, freshness.CodeUnsupportedTier)
		}
	}
}

func TestEvaluateMissingSync(t *testing.T) {
	tier0, m := records(2, baseTime, time.Time{})
	v := Evaluate(tier0, m, DefaultThresholds())
	if v.Healthy || v.Code != freshness.CodeUnknownTimestamp {
		t.Fatalf("unexpected verdict %+v", v)
	}
	if !strings.Contains(v.Message, "could not determine sync state") {
		t.Errorf("Message = %q", v.Message)
	}

	tier0, m = records(2, time.Time{}, baseTime)
	if v := Evaluate(tier0, m, DefaultThresholds()); v.Healthy || v.Code != freshness.CodeUnknownTimestamp {
		t.Fatalf("missing tier-0 sync: unexpected verdict %+v", v)
	}
}

func TestEvaluateNonNumericBodyEndToEnd(t *testing.T) {
	tier0 := mustTier0(t, 1700000000, 1700000000)
	src := &stubSource{name: "https://m", bodies: map[string]string{
		freshness.SyncPath:   "<html>maintenance</html>",
		freshness.UpdatePath: "1700000000",
	}}
	m, err := newMirrorFromSource(context.Background(), src, 2, tier0, testOptions())
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	e := NewEvaluator(DefaultThresholds(), Policy{}, discard())
	v := e.Evaluate(context.Background(), m)
	if v.Healthy || !strings.Contains(v.Message, "could not determine sync state") {
		t.Fatalf("unexpected verdict %+v", v)
	}
}

type recordingNotifier struct {
	calls []string
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, recipient, subject, body string) error {
	n.calls = append(n.calls, recipient+"|"+subject)
	return n.err
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEvaluatorUpdateDriftPolicy(t *testing.T) {
	_, m := records(2, baseTime, baseTime)
	m.LastUpdate = baseTime.Add(-7 * time.Hour)

	// Disabled: only sync drift counts.
	off := NewEvaluator(DefaultThresholds(), Policy{}, discard())
	if v := off.Evaluate(context.Background(), m); !v.Healthy {
		t.Fatalf("update drift must be ignored when disabled: %+v", v)
	}

	n := &recordingNotifier{}
	on := NewEvaluator(DefaultThresholds(), Policy{CheckUpdateDrift: true, Notifier: n}, discard())
	v := on.Evaluate(context.Background(), m)
	if v.Healthy {
		t.Fatal("expected update drift to fail the mirror")
	}
	if v.Drift != 7*time.Hour || !strings.HasPrefix(v.Message, "not updated in") {
		t.Errorf("unexpected verdict %+v", v)
	}
	if len(n.calls) != 1 || !strings.HasPrefix(n.calls[0], "mirrors@archlinux.org|") {
		t.Errorf("notifier calls = %v", n.calls)
	}
	if !v.Notified {
		t.Error("verdict must record the delivered notice")
	}
}

func TestEvaluatorNotifierFailureIsNotFatal(t *testing.T) {
	_, m := records(1, baseTime, baseTime)
	m.LastUpdate = baseTime.Add(-3 * time.Hour)

	n := &recordingNotifier{err: errors.New("no composer")}
	e := NewEvaluator(DefaultThresholds(), Policy{CheckUpdateDrift: true, Notifier: n, Recipient: "ops@example.org"}, discard())
	v := e.Evaluate(context.Background(), m)
	if v.Healthy {
		t.Fatal("expected unhealthy verdict")
	}
	if len(n.calls) != 1 || !strings.HasPrefix(n.calls[0], "ops@example.org|") {
		t.Errorf("notifier calls = %v", n.calls)
	}
	if v.Notified {
		t.Error("a failed notice must not be reported as sent")
	}
}

func TestEvaluatorUpdateDriftWithinThresholdFallsThrough(t *testing.T) {
	_, m := records(1, baseTime, baseTime.Add(-3*time.Hour))
	m.LastUpdate = baseTime.Add(-time.Hour)
	m.tier0.LastUpdate = baseTime

	n := &recordingNotifier{}
	e := NewEvaluator(DefaultThresholds(), Policy{CheckUpdateDrift: true, Notifier: n}, discard())
	v := e.Evaluate(context.Background(), m)
	if v.Healthy || !strings.HasPrefix(v.Message, "out of sync by") {
		t.Fatalf("sync drift must still be checked: %+v", v)
	}
	if len(n.calls) != 0 {
		t.Errorf("no notice expected for sync drift, got %v", n.calls)
	}
}

func TestEvaluatorHealthyPathReturnsHealthy(t *testing.T) {
	_, m := records(2, baseTime, baseTime.Add(-time.Minute))
	e := NewEvaluator(DefaultThresholds(), Policy{CheckUpdateDrift: true}, discard())
	if v := e.Evaluate(context.Background(), m); !v.Healthy {
		t.Fatalf("expected healthy verdict, got %+v", v)
	}
}

func TestEvaluatorWithoutBaseline(t *testing.T) {
	m := &Record{URL: "https://m", Tier: 2, LastSync: baseTime}
	e := NewEvaluator(DefaultThresholds(), Policy{}, discard())
	if v := e.Evaluate(context.Background(), m); v.Healthy {
		t.Fatal("record without baseline must not pass")
	}
}
