// Package govern enforces the platform call budget before every remote
// call: a hard per-day cap, an adaptive pacing delay derived from the
// trailing five minutes of platform traffic, and a failure-rate circuit
// breaker over the trailing two minutes.
package govern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/excessus1/openweather-pub/internal/audit"
	"github.com/excessus1/openweather-pub/internal/metrics"
)

// Governance constants. Pacing targets 90% utilization of the five-minute
// window; the breaker opens past 10 failures in two minutes when failures
// also exceed 20% of successes.
const (
	PacingWindow    = 5 * time.Minute
	Utilization     = 0.9
	BreakerWindow   = 2 * time.Minute
	BreakerFailures = 10
	BreakerRatio    = 0.2
)

// Sentinel halt signals. Both are controlled suspensions of progress, not
// failures: the run stops cleanly and conditions clear on their own (next
// UTC day, or the failure window draining).
var (
	ErrDailyLimit  = errors.New("govern: daily call limit reached")
	ErrCircuitOpen = errors.New("govern: failure rate circuit open")
)

// Halter persists a governor halt so the tracking row explains the stop
// without consulting logs.
type Halter interface {
	Warned(ctx context.Context, reason string) error
}

// Config identifies the pipeline a Governor gates and its daily budget.
type Config struct {
	Script     string
	Platform   string
	CallType   string
	CallTypeID int64
	DailyLimit int
}

// Governor gates every remote call of one pipeline run. Daily quota counts
// per call type; pacing and the breaker observe all call types sharing the
// platform, so concurrent hourly and daily pipelines throttle each other.
type Governor struct {
	store   audit.Store
	tracker Halter
	logger  *slog.Logger
	cfg     Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(store audit.Store, tracker Halter, logger *slog.Logger, cfg Config) *Governor {
	return &Governor{
		store:   store,
		tracker: tracker,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		sleep:   ctxSleep,
	}
}

// Gate runs the full governance sequence: day-rollover reset, pacing
// suspension, breaker check, then the atomic quota grant. A nil return means
// one call may proceed and its quota unit is already consumed. ErrDailyLimit
// and ErrCircuitOpen mean halt; both leave the tracking row current.
func (g *Governor) Gate(ctx context.Context) error {
	if err := g.rollover(ctx); err != nil {
		return err
	}
	if err := g.pace(ctx); err != nil {
		return err
	}
	if err := g.breaker(ctx); err != nil {
		return err
	}
	return g.grant(ctx)
}

// rollover detects the first check of a new UTC day (no audited calls since
// midnight) and resets the persisted counter and stale limit flag.
func (g *Governor) rollover(ctx context.Context) error {
	now := g.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	count, err := g.store.CallsSince(ctx, g.cfg.CallTypeID, midnight)
	if err != nil {
		return fmt.Errorf("daily request check: %w", err)
	}
	g.logger.Debug("daily request check", "call_type", g.cfg.CallType, "requests_today", count)

	if count == 0 {
		if err := g.store.ResetDaily(ctx, g.cfg.Script, g.cfg.Platform, g.cfg.CallType, now); err != nil {
			return fmt.Errorf("daily limit reset: %w", err)
		}
		g.logger.Info("new day started, daily limit reset", "call_type", g.cfg.CallType)
	}
	return nil
}

// pace suspends the caller for the adaptive interval: the baseline spacing
// stretched by the observed platform call rate, so a hot window slows every
// pipeline sharing the quota.
func (g *Governor) pace(ctx context.Context) error {
	now := g.now().UTC()
	count, err := g.store.PlatformCallsSince(ctx, g.cfg.Platform, now.Add(-PacingWindow))
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}

	windowSeconds := PacingWindow.Seconds()
	allowedInterval := windowSeconds / (windowSeconds * Utilization)
	rate := float64(count) / windowSeconds
	next := allowedInterval * (1 + rate)

	g.logger.Debug("rate limit check",
		"recent_calls", count, "sleep_seconds", fmt.Sprintf("%.2f", next))
	metrics.ObservePacingSleep(next)

	return g.sleep(ctx, time.Duration(next*float64(time.Second)))
}

// breaker halts the run when recent failures exceed both the count and the
// ratio thresholds. Zero successes with failures past the count threshold
// also opens the circuit.
func (g *Governor) breaker(ctx context.Context) error {
	now := g.now().UTC()
	failures, successes, err := g.store.FailureCounts(ctx, g.cfg.Platform, now.Add(-BreakerWindow))
	if err != nil {
		return fmt.Errorf("failure rate check: %w", err)
	}

	open := failures > BreakerFailures &&
		(successes == 0 || float64(failures)/float64(successes) > BreakerRatio)
	if !open {
		g.logger.Debug("failure rate within limits", "failures", failures, "successes", successes)
		return nil
	}

	reason := fmt.Sprintf("Failure rate exceeded: %d failures, %d successes in last 2 minutes", failures, successes)
	g.logger.Warn("failure rate exceeded", "failures", failures, "successes", successes)
	metrics.IncGovernorHalt(g.cfg.CallType, "circuit_open")
	if err := g.tracker.Warned(ctx, reason); err != nil {
		return err
	}
	return fmt.Errorf("%w: %d failures, %d successes", ErrCircuitOpen, failures, successes)
}

// grant consumes one quota unit via the atomic conditional increment. A
// declined grant flags the day as exhausted and halts the run.
func (g *Governor) grant(ctx context.Context) error {
	now := g.now().UTC()
	count, limited, err := g.store.IncrementRequests(ctx,
		g.cfg.Script, g.cfg.Platform, g.cfg.CallType, g.cfg.DailyLimit, now)
	if err != nil {
		return fmt.Errorf("quota grant: %w", err)
	}
	if !limited {
		g.logger.Debug("request granted", "requests_today", count, "limit", g.cfg.DailyLimit)
		return nil
	}

	if err := g.store.SetDailyLimitReached(ctx, g.cfg.Script, g.cfg.Platform, g.cfg.CallType, now); err != nil {
		return fmt.Errorf("flag daily limit: %w", err)
	}
	g.logger.Warn("daily api limit reached, no further processing today",
		"call_type", g.cfg.CallType, "limit", g.cfg.DailyLimit)
	metrics.IncGovernorHalt(g.cfg.CallType, "daily_limit")
	if err := g.tracker.Warned(ctx, "Daily limit reached"); err != nil {
		return err
	}
	return ErrDailyLimit
}

// ctxSleep blocks for d or until the context ends, whichever comes first.
func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
