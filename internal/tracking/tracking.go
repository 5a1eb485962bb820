// Package tracking records run lifecycle transitions. The tracking row is
// the one contract external monitors read, so it must stay current through
// every halt, including fatal ones.
package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/excessus1/openweather-pub/internal/audit"
)

// Status labels dashboards recognize. Progress rows use the form
// "Processing: i of n".
const (
	StatusStarted     = "started"
	StatusStoppedSucc = "stopped-succ"
	StatusStoppedWarn = "stopped-warn"
	StatusStoppedErr  = "stopped-err"
)

// Tracker upserts the tracking row of one (script, platform, call type).
// Each Tracker carries a fresh run ID so dashboard rows and log lines
// correlate.
type Tracker struct {
	store    audit.Store
	logger   *slog.Logger
	script   string
	platform string
	callType string
	runID    string

	now func() time.Time
}

func New(store audit.Store, logger *slog.Logger, script, platform, callType string) *Tracker {
	return &Tracker{
		store:    store,
		logger:   logger,
		script:   script,
		platform: platform,
		callType: callType,
		runID:    uuid.NewString(),
		now:      time.Now,
	}
}

func (t *Tracker) RunID() string { return t.runID }

// Started marks the beginning of a run.
func (t *Tracker) Started(ctx context.Context) error {
	t.logger.Info("run started", "call_type", t.callType, "run_id", t.runID)
	return t.transition(ctx, StatusStarted, "", false)
}

// Progress records the per-key position so an interrupted run shows where
// it stopped.
func (t *Tracker) Progress(ctx context.Context, done, total int) error {
	return t.transition(ctx, fmt.Sprintf("Processing: %d of %d", done, total), "", false)
}

// Succeeded marks a clean end of run.
func (t *Tracker) Succeeded(ctx context.Context) error {
	t.logger.Info("run finished", "call_type", t.callType, "run_id", t.runID, "status", StatusStoppedSucc)
	return t.transition(ctx, StatusStoppedSucc, "", false)
}

// Warned marks a degraded but non-fatal end of run: per-key failures or a
// governor halt.
func (t *Tracker) Warned(ctx context.Context, reason string) error {
	t.logger.Warn("run finished", "call_type", t.callType, "run_id", t.runID,
		"status", StatusStoppedWarn, "reason", reason)
	return t.transition(ctx, StatusStoppedWarn, reason, false)
}

// Failed marks a fatal end of run. forceRestart flags halts that need
// operator attention before the next run can be trusted.
func (t *Tracker) Failed(ctx context.Context, reason string, forceRestart bool) error {
	t.logger.Error("run failed", "call_type", t.callType, "run_id", t.runID,
		"reason", reason, "force_restart", forceRestart)
	return t.transition(ctx, StatusStoppedErr, reason, forceRestart)
}

func (t *Tracker) transition(ctx context.Context, status, reason string, forceRestart bool) error {
	rec := audit.TrackingRecord{
		Script:        t.script,
		Platform:      t.platform,
		CallType:      t.callType,
		Status:        status,
		LastChecked:   t.now().UTC(),
		StoppedReason: reason,
		ForceRestart:  forceRestart,
		RunID:         t.runID,
	}
	if err := t.store.UpsertTracking(ctx, rec); err != nil {
		return fmt.Errorf("tracking transition to %q: %w", status, err)
	}
	return nil
}
