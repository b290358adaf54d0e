package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/BadgerOps/mirrorcheck/internal/freshness"
)

// CheckFunc evaluates one mirror URL. Implementations report every failure
// through the returned Outcome.
type CheckFunc func(ctx context.Context, url string) Outcome

// Task is a handle on one in-flight check. Its outcome is written once,
// before Done is closed, and is read-only afterwards.
type Task struct {
	URL     string
	done    chan struct{}
	outcome Outcome
}

// Launch runs check for url on its own goroutine. When finished is non-nil
// the task sends itself there after completing; the channel must have room
// for every task that may be outstanding at once.
func Launch(ctx context.Context, url string, check CheckFunc, finished chan<- *Task) *Task {
	t := &Task{URL: url, done: make(chan struct{})}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.outcome = Outcome{
					URL:       url,
					Code:      freshness.CodeHTTPUnknown,
					Message:   fmt.Sprintf("check panicked: %v", r),
					CheckedAt: time.Now().UTC(),
				}
			}
			close(t.done)
			if finished != nil {
				finished <- t
			}
		}()
		t.outcome = check(ctx, url)
	}()
	return t
}

// Done is closed when the outcome is available.
func (t *Task) Done() <-chan struct{} { return t.done }

// Poll returns the outcome if the task has completed.
func (t *Task) Poll() (Outcome, bool) {
	select {
	case <-t.done:
		return t.outcome, true
	default:
		return Outcome{}, false
	}
}

// Wait blocks until the task completes and returns its outcome.
func (t *Task) Wait() Outcome {
	<-t.done
	return t.outcome
}
