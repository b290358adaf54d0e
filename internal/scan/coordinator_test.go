package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BadgerOps/mirrorcheck/internal/freshness"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// concurrencyProbe records the peak number of checks running at once.
type concurrencyProbe struct {
	current atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
}

func (p *concurrencyProbe) check(delay time.Duration, fail func(url string) bool) CheckFunc {
	return func(ctx context.Context, url string) Outcome {
		p.calls.Add(1)
		n := p.current.Add(1)
		for {
			peak := p.peak.Load()
			if n <= peak || p.peak.CompareAndSwap(peak, n) {
				break
			}
		}
		time.Sleep(delay)
		p.current.Add(-1)

		if fail(url) {
			return Outcome{URL: url, Code: freshness.CodeTransport, Message: "unreachable"}
		}
		return Outcome{URL: url, Success: true}
	}
}

type memorySink struct {
	outcomes []Outcome
}

func (s *memorySink) Record(o Outcome) error {
	s.outcomes = append(s.outcomes, o)
	return nil
}

func urlsN(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://mirror%02d.example.org", i)
	}
	return urls
}

func TestScanSequentialWithOneWorker(t *testing.T) {
	probe := &concurrencyProbe{}
	urls := urlsN(8)
	sink := &memorySink{}

	c := NewCoordinator(probe.check(2*time.Millisecond, func(string) bool { return true }), 1, discardLogger())
	summary, err := c.Scan(context.Background(), urls, sink)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if probe.peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1", probe.peak.Load())
	}
	if len(sink.outcomes) != len(urls) {
		t.Fatalf("sink got %d outcomes, want %d", len(sink.outcomes), len(urls))
	}
	for i, o := range sink.outcomes {
		if o.URL != urls[i] {
			t.Errorf("outcome %d is %s, want %s (sequential reap order)", i, o.URL, urls[i])
		}
	}
	if summary.Failed != len(urls) || summary.Healthy != 0 || summary.Submitted != len(urls) {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestScanZeroWorkersMeansSequential(t *testing.T) {
	probe := &concurrencyProbe{}
	c := NewCoordinator(probe.check(time.Millisecond, func(string) bool { return false }), 0, discardLogger())
	if _, err := c.Scan(context.Background(), urlsN(4), &memorySink{}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if probe.peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1", probe.peak.Load())
	}
}

func TestScanBoundedConcurrency(t *testing.T) {
	for _, workers := range []int{2, 3, 5} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			probe := &concurrencyProbe{}
			urls := urlsN(20)
			failing := func(url string) bool { return strings.HasSuffix(url, "3.example.org") || strings.HasSuffix(url, "7.example.org") }
			sink := &memorySink{}

			c := NewCoordinator(probe.check(10*time.Millisecond, failing), workers, discardLogger())
			summary, err := c.Scan(context.Background(), urls, sink)
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}

			if peak := probe.peak.Load(); peak > int32(workers) {
				t.Errorf("peak concurrency %d exceeds %d workers", peak, workers)
			}
			if probe.calls.Load() != int32(len(urls)) {
				t.Errorf("check ran %d times, want %d", probe.calls.Load(), len(urls))
			}
			if summary.Healthy+summary.Failed != len(urls) {
				t.Errorf("accounted for %d outcomes, want %d", summary.Healthy+summary.Failed, len(urls))
			}

			seen := make(map[string]int)
			for _, o := range sink.outcomes {
				seen[o.URL]++
			}
			wantFailed := 0
			for _, u := range urls {
				if failing(u) {
					wantFailed++
					if seen[u] != 1 {
						t.Errorf("%s recorded %d times, want 1", u, seen[u])
					}
				} else if seen[u] != 0 {
					t.Errorf("healthy mirror %s was recorded", u)
				}
			}
			if len(sink.outcomes) != wantFailed || summary.Failed != wantFailed {
				t.Errorf("sink has %d outcomes, summary %d failed, want %d", len(sink.outcomes), summary.Failed, wantFailed)
			}
		})
	}
}

func TestScanReachesWorkerLimit(t *testing.T) {
	probe := &concurrencyProbe{}
	c := NewCoordinator(probe.check(30*time.Millisecond, func(string) bool { return false }), 4, discardLogger())
	if _, err := c.Scan(context.Background(), urlsN(8), &memorySink{}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if probe.peak.Load() < 2 {
		t.Errorf("expected checks to overlap with 4 workers, peak was %d", probe.peak.Load())
	}
}

func TestScanSinkIsSingleWriter(t *testing.T) {
	var inSink atomic.Int32
	var overlapped atomic.Bool
	sink := SinkFunc(func(o Outcome) error {
		if inSink.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(time.Millisecond)
		inSink.Add(-1)
		return nil
	})

	probe := &concurrencyProbe{}
	c := NewCoordinator(probe.check(time.Millisecond, func(string) bool { return true }), 6, discardLogger())
	if _, err := c.Scan(context.Background(), urlsN(30), sink); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if overlapped.Load() {
		t.Error("sink was written concurrently")
	}
}

func TestScanCountsSinkErrors(t *testing.T) {
	sink := SinkFunc(func(o Outcome) error { return errors.New("disk full") })
	probe := &concurrencyProbe{}
	c := NewCoordinator(probe.check(0, func(string) bool { return true }), 2, discardLogger())

	summary, err := c.Scan(context.Background(), urlsN(5), sink)
	if err != nil {
		t.Fatalf("sink errors must not abort the scan: %v", err)
	}
	if summary.SinkErrors != 5 || summary.Failed != 5 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestScanRecoversPanickingCheck(t *testing.T) {
	check := func(ctx context.Context, url string) Outcome {
		if strings.Contains(url, "mirror01") {
			panic("boom")
		}
		return Outcome{URL: url, Success: true}
	}
	sink := &memorySink{}
	c := NewCoordinator(check, 2, discardLogger())

	summary, err := c.Scan(context.Background(), urlsN(3), sink)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if summary.Failed != 1 || summary.Healthy != 2 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if len(sink.outcomes) != 1 || !strings.Contains(sink.outcomes[0].Message, "panicked") {
		t.Errorf("unexpected sink contents %+v", sink.outcomes)
	}
}

func TestScanCancellationStopsAdmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	check := func(ctx context.Context, url string) Outcome {
		once.Do(cancel)
		<-ctx.Done()
		return Outcome{URL: url, Code: freshness.CodeTransport, Message: ctx.Err().Error()}
	}
	sink := &memorySink{}
	c := NewCoordinator(check, 2, discardLogger())

	summary, err := c.Scan(ctx, urlsN(10), sink)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if summary.Skipped == 0 {
		t.Error("expected skipped mirrors after cancellation")
	}
	if summary.Submitted+summary.Skipped != summary.Total {
		t.Errorf("submitted %d + skipped %d != total %d", summary.Submitted, summary.Skipped, summary.Total)
	}
	if len(sink.outcomes) != summary.Submitted {
		t.Errorf("every submitted check must be drained: sink %d, submitted %d", len(sink.outcomes), summary.Submitted)
	}
}

func TestScanRequiresSink(t *testing.T) {
	c := NewCoordinator(func(context.Context, string) Outcome { return Outcome{} }, 1, discardLogger())
	if _, err := c.Scan(context.Background(), urlsN(1), nil); err == nil {
		t.Fatal("expected error for nil sink")
	}
}

func TestScanEmptyInput(t *testing.T) {
	c := NewCoordinator(func(context.Context, string) Outcome { return Outcome{} }, 3, discardLogger())
	summary, err := c.Scan(context.Background(), nil, &memorySink{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if summary.Total != 0 || summary.Submitted != 0 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestTaskPollAndWait(t *testing.T) {
	release := make(chan struct{})
	task := Launch(context.Background(), "https://m", func(ctx context.Context, url string) Outcome {
		<-release
		return Outcome{URL: url, Success: true}
	}, nil)

	if _, ok := task.Poll(); ok {
		t.Fatal("task reported completion before the check returned")
	}
	close(release)

	o := task.Wait()
	if !o.Success || o.URL != "https://m" {
		t.Errorf("unexpected outcome %+v", o)
	}
	if polled, ok := task.Poll(); !ok || polled != o {
		t.Errorf("Poll after Wait = %+v, %v", polled, ok)
	}
}

func TestOutcomeDriftValue(t *testing.T) {
	if v := (Outcome{Drift: 90 * time.Minute}).DriftValue(); v != 5400 {
		t.Errorf("drift value = %d, want 5400", v)
	}
	if v := (Outcome{Drift: time.Hour, Code: freshness.CodeTimeout}).DriftValue(); v != -3 {
		t.Errorf("code value = %d, want -3", v)
	}
	if v := (Outcome{Code: 404}).DriftValue(); v != 404 {
		t.Errorf("status value = %d, want 404", v)
	}
}
