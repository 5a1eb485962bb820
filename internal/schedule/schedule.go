// Package schedule drives the continuous catch-up daemon: each call type
// gets a cron entry that launches one fill run. A tick that arrives while
// the previous run for the same call type is still active is skipped.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/excessus1/openweather-pub/internal/weather"
)

// RunFunc launches one fill run for a call type. A returned error is
// logged and the entry stays scheduled; the next tick tries again.
type RunFunc func(ctx context.Context, call weather.CallType) error

// Scheduler owns the cron entries for all call types. Add entries, then
// Start once; Stop waits for in-flight runs.
type Scheduler struct {
	logger *slog.Logger
	run    RunFunc
	cron   *cron.Cron
	ctx    context.Context
}

type entry struct {
	call    weather.CallType
	spec    string
	running atomic.Bool
}

func New(logger *slog.Logger, run RunFunc) *Scheduler {
	return &Scheduler{logger: logger, run: run, cron: cron.New()}
}

// Add registers a cron entry. Standard 5-field specs and descriptors like
// "@every 1h" are accepted.
func (s *Scheduler) Add(call weather.CallType, spec string) error {
	e := &entry{call: call, spec: spec}
	if _, err := s.cron.AddFunc(spec, func() { s.tick(e) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", call.Name, spec, err)
	}
	s.logger.Info("fill run scheduled", "call_type", call.Name, "spec", spec)
	return nil
}

// Start begins dispatching ticks. ctx bounds every run started from here
// on; cancel it to interrupt an in-flight run.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

// Stop cancels future ticks and blocks until in-flight runs return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick(e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous run still active, skipping tick", "call_type", e.call.Name)
		return
	}
	defer e.running.Store(false)

	s.logger.Info("scheduled run starting", "call_type", e.call.Name)
	if err := s.run(s.ctx, e.call); err != nil {
		s.logger.Error("scheduled run failed", "call_type", e.call.Name, "error", err)
	}
}
