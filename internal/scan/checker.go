package scan

import (
	"context"
	"time"

	"github.com/BadgerOps/mirrorcheck/internal/freshness"
	"github.com/BadgerOps/mirrorcheck/internal/mirror"
	"github.com/BadgerOps/mirrorcheck/internal/safety"
)

// Checker builds and evaluates mirror records against one shared tier-0
// record.
type Checker struct {
	tier0     *mirror.Record
	evaluator *mirror.Evaluator
	opts      mirror.Options
}

// NewChecker creates a Checker. tier0 is only read.
func NewChecker(tier0 *mirror.Record, evaluator *mirror.Evaluator, opts mirror.Options) *Checker {
	return &Checker{tier0: tier0, evaluator: evaluator, opts: opts}
}

// CheckOne fetches url's freshness endpoints and evaluates it at tier.
// Fetch failures become failed outcomes; StatusCode is set when the mirror
// answered with a non-2xx status.
func (c *Checker) CheckOne(ctx context.Context, url string, tier int) Outcome {
	rec, err := mirror.NewMirror(ctx, url, tier, c.tier0, c.opts)
	if err != nil {
		return failure(url, tier, err)
	}

	v := c.evaluator.Evaluate(ctx, rec)
	return Outcome{
		URL:       rec.URL,
		Tier:      tier,
		Success:   v.Healthy,
		Drift:     v.Drift,
		Code:      v.Code,
		Message:   v.Message,
		CheckedAt: time.Now().UTC(),
		Notified:  v.Notified,
	}
}

// ForTier returns a CheckFunc that checks every URL at tier.
func (c *Checker) ForTier(tier int) CheckFunc {
	return func(ctx context.Context, url string) Outcome {
		return c.CheckOne(ctx, url, tier)
	}
}

func failure(url string, tier int, err error) Outcome {
	if normalized, nerr := mirror.NormalizeURL(url); nerr == nil {
		url = safety.RedactURL(normalized)
	}
	status, _ := freshness.StatusCode(err)
	return Outcome{
		URL:        url,
		Tier:       tier,
		Code:       freshness.ErrorCode(err),
		StatusCode: status,
		Message:    err.Error(),
		CheckedAt:  time.Now().UTC(),
	}
}
