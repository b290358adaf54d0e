package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BadgerOps/mirrorcheck/internal/freshness"
	"github.com/BadgerOps/mirrorcheck/internal/notify"
)

// Thresholds are the largest acceptable drifts behind tier-0, per tier.
type Thresholds struct {
	Tier1 time.Duration
	Tier2 time.Duration
}

// DefaultThresholds returns 2h for tier 1 and 6h for tier 2.
func DefaultThresholds() Thresholds {
	return Thresholds{Tier1: 2 * time.Hour, Tier2: 6 * time.Hour}
}

// For returns the threshold for tier. Only tiers 1 and 2 have one.
func (t Thresholds) For(tier int) (time.Duration, bool) {
	switch tier {
	case 1:
		return t.Tier1, true
	case 2:
		return t.Tier2, true
	}
	return 0, false
}

// Verdict is the result of evaluating one mirror. Code is zero when Drift
// holds a measurement and negative when evaluation could not measure one.
type Verdict struct {
	Healthy bool
	Drift   time.Duration
	Code    freshness.Code
	Message string
	// Notified is set when the policy notifier was sent a notice.
	Notified bool
}

// Evaluate compares mirror's last sync against tier0's. A mirror ahead of
// tier-0 is healthy; a mirror behind it is healthy while the drift does not
// exceed the tier's threshold. Tiers without a threshold are rejected.
func Evaluate(tier0, mirror *Record, th Thresholds) Verdict {
	if tier0.LastSync.IsZero() {
		return Verdict{
			Code:    freshness.CodeUnknownTimestamp,
			Message: "could not determine sync state: tier-0 reported no lastsync",
		}
	}
	if mirror.LastSync.IsZero() {
		return Verdict{
			Code:    freshness.CodeUnknownTimestamp,
			Message: fmt.Sprintf("could not determine sync state: %s has no lastsync", mirror.URL),
		}
	}

	limit, ok := th.For(mirror.Tier)
	if !ok {
		return Verdict{
			Code:    freshness.CodeUnsupportedTier,
			Message: fmt.Sprintf("no drift threshold defined for tier %d", mirror.Tier),
		}
	}

	drift := tier0.LastSync.Sub(mirror.LastSync)
	if drift > limit {
		return Verdict{Drift: drift, Message: fmt.Sprintf("out of sync by %s", drift)}
	}
	return Verdict{Healthy: true, Drift: drift, Message: "in sync"}
}

// Policy toggles the optional last-update check. When CheckUpdateDrift is
// set, a mirror whose content is older than its tier threshold fails before
// sync drift is considered, and Notifier (if non-nil) receives a stale-mirror
// notice addressed to Recipient.
type Policy struct {
	CheckUpdateDrift bool
	Notifier         notify.Notifier
	Recipient        string
}

// Evaluator applies thresholds and policy to mirror records.
type Evaluator struct {
	thresholds Thresholds
	policy     Policy
	logger     *slog.Logger
}

// NewEvaluator creates an evaluator. Recipient defaults to notify.DefaultRecipient.
func NewEvaluator(th Thresholds, policy Policy, logger *slog.Logger) *Evaluator {
	if policy.Recipient == "" {
		policy.Recipient = notify.DefaultRecipient
	}
	return &Evaluator{thresholds: th, policy: policy, logger: logger}
}

// Thresholds returns the evaluator's thresholds.
func (e *Evaluator) Thresholds() Thresholds { return e.thresholds }

// Evaluate classifies mirror against its tier-0 baseline.
func (e *Evaluator) Evaluate(ctx context.Context, mirror *Record) Verdict {
	tier0 := mirror.Tier0()
	if tier0 == nil {
		return Verdict{
			Code:    freshness.CodeUnknownTimestamp,
			Message: fmt.Sprintf("%s has no tier-0 baseline", mirror.URL),
		}
	}

	if e.policy.CheckUpdateDrift {
		if v, checked := e.evaluateUpdate(ctx, tier0, mirror); checked {
			return v
		}
	}

	v := Evaluate(tier0, mirror, e.thresholds)
	if !v.Healthy {
		e.logger.Info("mirror unhealthy", "mirror", mirror.URL, "tier", mirror.Tier, "reason", v.Message)
	}
	return v
}

// evaluateUpdate reports checked=true when the update check alone decides
// the verdict.
func (e *Evaluator) evaluateUpdate(ctx context.Context, tier0, mirror *Record) (Verdict, bool) {
	if tier0.LastUpdate.IsZero() || mirror.LastUpdate.IsZero() {
		return Verdict{
			Code:    freshness.CodeUnknownTimestamp,
			Message: fmt.Sprintf("could not determine update state of %s", mirror.URL),
		}, true
	}
	limit, ok := e.thresholds.For(mirror.Tier)
	if !ok {
		return Verdict{}, false
	}

	drift := tier0.LastUpdate.Sub(mirror.LastUpdate)
	if drift <= limit {
		return Verdict{}, false
	}

	e.logger.Info("mirror content outdated", "mirror", mirror.URL, "drift", drift)
	v := Verdict{Drift: drift, Message: fmt.Sprintf("not updated in %s", drift)}
	if e.policy.Notifier != nil {
		msg := notify.StaleMirror(e.policy.Recipient, mirror.URL, drift)
		if err := msg.Send(ctx, e.policy.Notifier); err != nil {
			e.logger.Warn("notification failed", "mirror", mirror.URL, "error", err)
		} else {
			v.Notified = true
		}
	}
	return v, true
}
