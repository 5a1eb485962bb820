// Package pipeline orchestrates one catch-up fill: detect missing keys,
// materialize a batch file, and feed each key through the ingest engine
// under governor control, keeping the tracking row current at every exit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/excessus1/openweather-pub/internal/audit"
	"github.com/excessus1/openweather-pub/internal/batch"
	"github.com/excessus1/openweather-pub/internal/config"
	"github.com/excessus1/openweather-pub/internal/gap"
	"github.com/excessus1/openweather-pub/internal/govern"
	"github.com/excessus1/openweather-pub/internal/ingest"
	"github.com/excessus1/openweather-pub/internal/metrics"
	"github.com/excessus1/openweather-pub/internal/request"
	"github.com/excessus1/openweather-pub/internal/store"
	"github.com/excessus1/openweather-pub/internal/timekey"
	"github.com/excessus1/openweather-pub/internal/tracking"
	"github.com/excessus1/openweather-pub/internal/weather"
)

// Options wires one fill run. Config, Call, Audit, Records and Logger are
// required; Client, Sink and Now have working defaults.
type Options struct {
	Config  *config.Config
	Call    weather.CallType
	Audit   audit.Store
	Records store.Store
	Logger  *slog.Logger
	Client  *http.Client
	Sink    audit.Sink
	Now     func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

// Result tallies one run. Attempted counts keys that completed the engine
// state machine; a governor halt or fatal error leaves the remainder of
// the batch for the next invocation.
type Result struct {
	Attempted      int
	Stored         int
	FailedRequests int
	FailedInserts  int
	BatchFile      string
}

// Run detects gaps in the configured history window, materializes a batch
// file, and consumes it key by key.
func Run(ctx context.Context, o Options) (Result, error) {
	tr := tracking.New(o.Audit, o.Logger, o.Config.Script, o.Config.Platform, o.Call.Name)
	if err := tr.Started(ctx); err != nil {
		return Result{}, err
	}

	eng, cc, err := assemble(ctx, o, tr)
	if err != nil {
		return Result{}, fail(ctx, tr, o.Logger, o.Call.Name, err)
	}

	w, err := window(o)
	if err != nil {
		return Result{}, fail(ctx, tr, o.Logger, o.Call.Name, err)
	}

	det := gap.Detector{Store: o.Records, Granularity: o.Call.Granularity, LocationID: o.Config.Location.ID}
	missing, err := det.Missing(ctx, w)
	if err != nil {
		return Result{}, fail(ctx, tr, o.Logger, o.Call.Name, err)
	}

	mat := batch.Materializer{Dir: cc.BatchDir, Granularity: o.Call.Granularity, Limit: cc.BatchLimit, Now: o.Now}
	path, err := mat.Create(missing)
	if errors.Is(err, batch.ErrNoWork) {
		o.Logger.Info("no missing keys in range", "call_type", o.Call.Name,
			"start", w.Start.Format(time.DateTime), "stop", w.Stop.Format(time.DateTime))
		metrics.IncRun(o.Call.Name, "no_work")
		return Result{}, tr.Succeeded(context.WithoutCancel(ctx))
	}
	if err != nil {
		return Result{}, fail(ctx, tr, o.Logger, o.Call.Name, err)
	}
	o.Logger.Info("batch materialized", "call_type", o.Call.Name, "file", path,
		"missing", len(missing), "batch_limit", cc.BatchLimit)

	return consume(ctx, o, tr, eng, mat, path)
}

// RunBatch consumes an operator-supplied batch file, skipping gap
// detection entirely.
func RunBatch(ctx context.Context, o Options, path string) (Result, error) {
	tr := tracking.New(o.Audit, o.Logger, o.Config.Script, o.Config.Platform, o.Call.Name)
	if err := tr.Started(ctx); err != nil {
		return Result{}, err
	}

	eng, _, err := assemble(ctx, o, tr)
	if err != nil {
		return Result{}, fail(ctx, tr, o.Logger, o.Call.Name, err)
	}

	mat := batch.Materializer{Granularity: o.Call.Granularity}
	return consume(ctx, o, tr, eng, mat, path)
}

// assemble builds the engine and its governor from the stored call
// template and the per-call-type configuration.
func assemble(ctx context.Context, o Options, tr *tracking.Tracker) (*ingest.Engine, config.CallConfig, error) {
	cc, err := o.Config.Call(o.Call.Name)
	if err != nil {
		return nil, cc, err
	}

	tpl, err := o.Audit.Template(ctx, o.Config.Platform, o.Call.Name)
	if err != nil {
		return nil, cc, fmt.Errorf("load call template: %w", err)
	}

	b, err := request.New(o.Call, tpl.Template,
		o.Config.Location.Latitude, o.Config.Location.Longitude,
		o.Config.API.Key, o.Config.API.Units)
	if err != nil {
		return nil, cc, err
	}

	gov := govern.New(o.Audit, tr, o.Logger, govern.Config{
		Script:     o.Config.Script,
		Platform:   o.Config.Platform,
		CallType:   o.Call.Name,
		CallTypeID: tpl.ID,
		DailyLimit: cc.DailyLimit,
	})

	client := o.Client
	if client == nil {
		client = &http.Client{Timeout: o.Config.API.RequestTimeout}
	}

	eng := &ingest.Engine{
		Call:        o.Call,
		Governor:    gov,
		Builder:     b,
		Audit:       o.Audit,
		Records:     o.Records,
		Tracker:     tr,
		Logger:      o.Logger,
		Client:      client,
		Sink:        o.Sink,
		CallTypeID:  tpl.ID,
		LocationID:  o.Config.Location.ID,
		MaxAttempts: o.Config.API.MaxAttempts,
	}
	return eng, cc, nil
}

func window(o Options) (timekey.Window, error) {
	startRaw, stopRaw, err := o.Config.Window(o.Call.Name)
	if err != nil {
		return timekey.Window{}, err
	}
	start, err := timekey.ResolveStart(startRaw, o.now())
	if err != nil {
		return timekey.Window{}, err
	}
	stop, err := timekey.ParseStop(stopRaw)
	if err != nil {
		return timekey.Window{}, err
	}
	return timekey.Window{Stop: stop, Start: start}, nil
}

// consume loads the batch file, drops keys already stored, and runs the
// engine over the remainder. The file is archived only after full
// consumption; a halt leaves it for the next invocation to reprocess.
func consume(ctx context.Context, o Options, tr *tracking.Tracker, eng *ingest.Engine, mat batch.Materializer, path string) (Result, error) {
	res := Result{BatchFile: path}

	keys, err := mat.Load(path)
	if err != nil {
		return res, fail(ctx, tr, o.Logger, o.Call.Name, err)
	}

	pending, err := filterExisting(ctx, o, keys)
	if err != nil {
		return res, fail(ctx, tr, o.Logger, o.Call.Name, err)
	}
	if skipped := len(keys) - len(pending); skipped > 0 {
		o.Logger.Info("skipping keys already stored", "call_type", o.Call.Name, "count", skipped)
	}

	for i, key := range pending {
		r, err := eng.Process(ctx, key, i+1, len(pending))
		if errors.Is(err, govern.ErrDailyLimit) || errors.Is(err, govern.ErrCircuitOpen) {
			o.Logger.Info("run halted by governor", "call_type", o.Call.Name,
				"reason", err.Error(), "processed", res.Attempted, "remaining", len(pending)-i)
			metrics.IncRun(o.Call.Name, "halted")
			return res, nil
		}
		if err != nil {
			return res, fail(ctx, tr, o.Logger, o.Call.Name, err)
		}
		res.Attempted++
		if r.Outcome == ingest.Success {
			res.Stored++
		}
		if r.FailedRequest {
			res.FailedRequests++
		}
		if r.FailedInsert {
			res.FailedInserts++
		}
	}

	if err := mat.Archive(path); err != nil {
		o.Logger.Warn("batch archive failed", "file", path, "error", err)
	}

	return res, finish(ctx, tr, o, res)
}

func filterExisting(ctx context.Context, o Options, keys []timekey.Key) ([]timekey.Key, error) {
	pending := make([]timekey.Key, 0, len(keys))
	for _, k := range keys {
		var exists bool
		var err error
		if o.Call.Kind == weather.KindDaily {
			exists, err = o.Records.DailyExists(ctx, int64(k), o.Config.Location.ID)
		} else {
			exists, err = o.Records.HourlyExists(ctx, int64(k), o.Config.Location.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("existence check: %w", err)
		}
		if !exists {
			pending = append(pending, k)
		}
	}
	return pending, nil
}

// finish writes the end-of-run transition and the summary line every run
// emits whatever its outcome.
func finish(ctx context.Context, tr *tracking.Tracker, o Options, res Result) error {
	ctx = context.WithoutCancel(ctx)
	summary := fmt.Sprintf("completed with %d requests, %d request failures, and %d failed inserts",
		res.Attempted, res.FailedRequests, res.FailedInserts)
	o.Logger.Info(summary, "call_type", o.Call.Name, "stored", res.Stored)

	if res.FailedRequests+res.FailedInserts > 0 {
		metrics.IncRun(o.Call.Name, "warn")
		return tr.Warned(ctx, summary)
	}
	metrics.IncRun(o.Call.Name, "success")
	return tr.Succeeded(ctx)
}

// fail records the stopped-err transition, with force_restart for fatal
// remote errors, and passes the original error through to the caller.
func fail(ctx context.Context, tr *tracking.Tracker, logger *slog.Logger, callType string, err error) error {
	reason := err.Error()
	force := false
	switch {
	case errors.Is(err, ingest.ErrFatal):
		reason = ingest.FatalReason(err)
		force = true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		reason = "Run cancelled"
	}
	metrics.IncRun(callType, "error")
	if terr := tr.Failed(context.WithoutCancel(ctx), reason, force); terr != nil {
		logger.Error("tracking transition failed", "call_type", callType, "error", terr)
	}
	return err
}
