// Package openweather is the embeddable facade over the historical fill
// pipeline: load a configuration, open the stores it names, then run
// catch-up fills, the dashboard read API, or the cron daemon.
package openweather

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/excessus1/openweather-pub/internal/audit"
	"github.com/excessus1/openweather-pub/internal/audit/clickhouse"
	auditfactory "github.com/excessus1/openweather-pub/internal/audit/factory"
	cfg "github.com/excessus1/openweather-pub/internal/config"
	"github.com/excessus1/openweather-pub/internal/logger"
	"github.com/excessus1/openweather-pub/internal/metrics"
	"github.com/excessus1/openweather-pub/internal/pipeline"
	"github.com/excessus1/openweather-pub/internal/schedule"
	iapi "github.com/excessus1/openweather-pub/internal/server"
	"github.com/excessus1/openweather-pub/internal/store"
	storefactory "github.com/excessus1/openweather-pub/internal/store/factory"
	"github.com/excessus1/openweather-pub/internal/weather"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type CallType = weather.CallType

type RunResult = pipeline.Result

type TrackingRecord = audit.TrackingRecord

type CallRecord = audit.CallRecord

type OutcomeRecord = audit.OutcomeRecord

// ErrNotFound reports a lookup that matched no row, e.g. the tracking row
// of a call type that never ran.
var ErrNotFound = audit.ErrNotFound

// Supported call types.
var (
	Timemachine = weather.Timemachine
	DaySummary  = weather.DaySummary
)

// CallTypes lists the supported call types in seeding order.
func CallTypes() []CallType { return weather.All() }

// CallTypeByName resolves a call type from its audit identifier.
func CallTypeByName(name string) (CallType, bool) { return weather.ByName(name) }

// LoadConfig reads a TOML configuration file. An empty path yields the
// built-in defaults.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewLogger builds the process logger from the configuration. The returned
// closer owns the rotating file writer when one is configured.
func NewLogger(c *Config) (*slog.Logger, io.Closer, error) {
	return logger.New(logger.Config{
		Dir:        c.Log.Dir,
		File:       c.Log.File,
		Level:      c.Log.Level,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	})
}

// Filler is a thin facade over the fill pipeline. It owns the audit and
// observation stores opened from the configuration DSNs.

type Filler struct {
	cfg     *cfg.Config
	logger  *slog.Logger
	audit   audit.Store
	records store.Store
}

// Open connects both stores named by the configuration. A nil logger falls
// back to slog.Default().
func Open(c *Config, log *slog.Logger) (*Filler, error) {
	if log == nil {
		log = slog.Default()
	}
	adb, err := auditfactory.NewFromDSN(c.Database.AuditDSN)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	sdb, err := storefactory.NewFromDSN(c.Database.WeatherDSN)
	if err != nil {
		_ = adb.Close()
		return nil, fmt.Errorf("open weather store: %w", err)
	}
	return &Filler{cfg: c, logger: log, audit: adb, records: sdb}, nil
}

// Close releases both store connections.
func (f *Filler) Close() error {
	err := f.audit.Close()
	if serr := f.records.Close(); err == nil {
		err = serr
	}
	return err
}

// InitSchema creates the audit and observation tables and seeds the default
// call templates, overwriting previously seeded ones. Safe to run
// repeatedly.
func (f *Filler) InitSchema(ctx context.Context) error {
	if err := f.audit.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("audit schema: %w", err)
	}
	if err := f.records.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("weather schema: %w", err)
	}
	for _, call := range weather.All() {
		t := audit.CallTemplate{
			Platform: f.cfg.Platform,
			CallType: call.Name,
			Kind:     call.Kind,
			Template: call.DefaultTemplate,
		}
		if _, err := f.audit.SeedTemplate(ctx, t); err != nil {
			return fmt.Errorf("seed %s template: %w", call.Name, err)
		}
	}
	return nil
}

// Run executes one catch-up fill for call: detect missing keys in the
// configured history window, materialize a batch file, and consume it under
// governor control.
func (f *Filler) Run(ctx context.Context, call CallType) (RunResult, error) {
	sink, cleanup := f.newSink(call)
	defer cleanup()
	return pipeline.Run(ctx, f.options(call, sink))
}

// RunBatch consumes an operator-supplied batch file, skipping gap detection
// entirely.
func (f *Filler) RunBatch(ctx context.Context, call CallType, path string) (RunResult, error) {
	sink, cleanup := f.newSink(call)
	defer cleanup()
	return pipeline.RunBatch(ctx, f.options(call, sink), path)
}

func (f *Filler) options(call CallType, sink audit.Sink) pipeline.Options {
	return pipeline.Options{
		Config:  f.cfg,
		Call:    call,
		Audit:   f.audit,
		Records: f.records,
		Logger:  f.logger,
		Sink:    sink,
	}
}

// newSink connects the optional ClickHouse mirror for one run. Mirror
// trouble only costs analytics rows, so connection errors degrade to a
// warning and the run proceeds without it.
func (f *Filler) newSink(call CallType) (audit.Sink, func()) {
	ch := f.cfg.ClickHouse
	if ch.Addr == "" {
		return nil, func() {}
	}
	s, err := clickhouse.New(clickhouse.Config{
		Addr:     ch.Addr,
		Database: ch.Database,
		Table:    ch.Table,
		Username: ch.Username,
		Password: ch.Password,
		Platform: f.cfg.Platform,
		CallType: call.Name,
	})
	if err != nil {
		f.logger.Warn("clickhouse mirror unavailable", "addr", ch.Addr, "error", err)
		return nil, func() {}
	}
	return s, func() { _ = s.Close() }
}

// Status returns every tracking row in the audit store.
func (f *Filler) Status(ctx context.Context) ([]TrackingRecord, error) {
	return f.audit.AllTracking(ctx)
}

// CallStatus returns the tracking row for one call type; ErrNotFound when
// it never ran.
func (f *Filler) CallStatus(ctx context.Context, call CallType) (TrackingRecord, error) {
	return f.audit.Tracking(ctx, f.cfg.Script, f.cfg.Platform, call.Name)
}

// RecentCalls returns the latest call audit rows for one call type, newest
// first.
func (f *Filler) RecentCalls(ctx context.Context, call CallType, limit int) ([]CallRecord, error) {
	return f.audit.RecentCalls(ctx, f.cfg.Platform, call.Name, limit)
}

// RecentOutcomes returns the latest store outcomes for one call type,
// newest first.
func (f *Filler) RecentOutcomes(ctx context.Context, call CallType, limit int) ([]OutcomeRecord, error) {
	return f.audit.RecentOutcomes(ctx, f.cfg.Platform, call.Name, limit)
}

// NewHTTPServer starts the read-only dashboard API on addr, backed by the
// filler's audit store. The caller owns shutdown via the returned server.
func NewHTTPServer(addr, basePath string, f *Filler) *http.Server {
	return iapi.NewServer(addr, basePath, f.audit, f.cfg.Script, f.cfg.Platform)
}

// Scheduler drives continuous catch-up fills on cron schedules.

type Scheduler struct{ inner *schedule.Scheduler }

// NewScheduler builds a scheduler whose ticks execute Run for the scheduled
// call type.
func NewScheduler(f *Filler) *Scheduler {
	run := func(ctx context.Context, call weather.CallType) error {
		_, err := f.Run(ctx, call)
		return err
	}
	return &Scheduler{inner: schedule.New(f.logger, run)}
}

func (s *Scheduler) Add(call CallType, spec string) error { return s.inner.Add(call, spec) }
func (s *Scheduler) Start(ctx context.Context)            { s.inner.Start(ctx) }
func (s *Scheduler) Stop()                                { s.inner.Stop() }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
