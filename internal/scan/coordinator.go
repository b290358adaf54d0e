package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// FleetTier is the tier assumed for every mirror in a fleet scan.
const FleetTier = 2

// Coordinator runs checks over a list of mirror URLs with at most Workers
// checks in flight.
type Coordinator struct {
	check   CheckFunc
	workers int
	logger  *slog.Logger
}

// NewCoordinator creates a Coordinator. workers below 1 means sequential.
func NewCoordinator(check CheckFunc, workers int, logger *slog.Logger) *Coordinator {
	if workers <= 0 {
		workers = 1
	}
	return &Coordinator{check: check, workers: workers, logger: logger}
}

// Scan checks every URL in order. When all workers are busy it blocks until
// one finishes, forwards that outcome to sink if it failed, and only then
// admits the next URL. After the input is exhausted it drains the remaining
// workers the same way. Failed outcomes reach sink exactly once, in the
// order they were reaped, and only from the calling goroutine.
//
// Cancelling ctx stops admission; in-flight checks see the cancellation
// through their requests and are still drained. The remaining URLs are
// counted as skipped and ctx's error is returned.
func (c *Coordinator) Scan(ctx context.Context, urls []string, sink Sink) (Summary, error) {
	if sink == nil {
		return Summary{}, fmt.Errorf("scan needs a result sink")
	}

	start := time.Now()
	summary := Summary{Total: len(urls)}
	finished := make(chan *Task, c.workers)
	active := 0

	reap := func(t *Task) {
		active--
		o := t.Wait()
		if o.Success {
			summary.Healthy++
			c.logger.Debug("mirror healthy", "mirror", o.URL, "drift", o.Drift)
			return
		}
		summary.Failed++
		c.logger.Warn("mirror failed", "mirror", o.URL, "code", o.DriftValue(), "message", o.Message)
		if err := sink.Record(o); err != nil {
			summary.SinkErrors++
			c.logger.Error("recording outcome failed", "mirror", o.URL, "error", err)
		}
	}

	for i, url := range urls {
		if active == c.workers {
			reap(<-finished)
		}
		if ctx.Err() != nil {
			summary.Skipped = len(urls) - i
			break
		}
		active++
		summary.Submitted++
		Launch(ctx, url, c.check, finished)
	}

	for active > 0 {
		reap(<-finished)
	}

	summary.Duration = time.Since(start)
	c.logger.Info("scan finished",
		"mirrors", summary.Total,
		"healthy", summary.Healthy,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", summary.Duration.Round(time.Millisecond),
	)

	if summary.Skipped > 0 {
		return summary, fmt.Errorf("scan interrupted after %d of %d mirrors: %w", summary.Submitted, summary.Total, ctx.Err())
	}
	return summary, nil
}
