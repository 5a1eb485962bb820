// Package ingest runs the fetch-validate-store state machine for one
// pending time key: governor gate, bounded remote attempts, response
// classification, payload validation, idempotent insert, and the audit
// rows each step owes the dashboards.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/excessus1/openweather-pub/internal/audit"
	"github.com/excessus1/openweather-pub/internal/metrics"
	"github.com/excessus1/openweather-pub/internal/request"
	"github.com/excessus1/openweather-pub/internal/store"
	"github.com/excessus1/openweather-pub/internal/timekey"
	"github.com/excessus1/openweather-pub/internal/weather"
)

// ErrFatal marks a remote failure the run cannot safely continue past:
// bad credential, bad endpoint, or a server-side error. The run loop
// records it with force_restart and halts.
var ErrFatal = errors.New("ingest: fatal remote failure")

// FatalReason strips the ErrFatal prefix, leaving the classification
// message tracking rows carry.
func FatalReason(err error) string {
	msg := err.Error()
	if after, ok := strings.CutPrefix(msg, ErrFatal.Error()+": "); ok {
		return after
	}
	return msg
}

// Outcome tags the disposition of one processed key.
type Outcome int

const (
	Success Outcome = iota
	RecoverableFailure
	FatalFailure
	SkippedDuplicate
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RecoverableFailure:
		return "recoverable"
	case FatalFailure:
		return "fatal"
	case SkippedDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Result reports one key's outcome plus the tallies the run loop
// aggregates for the end-of-run summary.
type Result struct {
	Outcome       Outcome
	FailedRequest bool
	FailedInsert  bool
}

// Gater admits one remote call per successful check. A non-nil error halts
// the run.
type Gater interface {
	Gate(ctx context.Context) error
}

// Tracker records per-key progress rows.
type Tracker interface {
	Progress(ctx context.Context, done, total int) error
}

// Engine processes pending keys one at a time. All fields must be set
// except Client (defaults to http.DefaultClient) and Sink (optional
// analytics mirror).
type Engine struct {
	Call        weather.CallType
	Governor    Gater
	Builder     request.Builder
	Audit       audit.Store
	Records     store.Store
	Tracker     Tracker
	Logger      *slog.Logger
	Client      *http.Client
	Sink        audit.Sink
	CallTypeID  int64
	LocationID  int64
	MaxAttempts int

	now func() time.Time
}

// Process runs one key through the full state machine. seq and total
// position the key inside the batch for progress reporting, 1-based. The
// returned error is non-nil only when the run must halt: a governor
// signal, a fatal classification, or an audit infrastructure failure.
func (e *Engine) Process(ctx context.Context, key timekey.Key, seq, total int) (Result, error) {
	if err := e.Governor.Gate(ctx); err != nil {
		return Result{}, err
	}

	url := e.Builder.Build(key)
	e.Logger.Info("calling remote source", "call_type", e.Call.Name, "key", e.describe(key))

	body, status, retries, transportErr := e.attempt(ctx, url)

	rec := audit.CallRecord{
		Timestamp:  e.clock().Unix(),
		CallTypeID: e.CallTypeID,
		Event:      "API Call",
		RequestURL: e.Builder.Redact(url),
		RetryCount: retries,
		Note:       e.Call.AuditNote,
	}

	if transportErr != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		rec.ResponseMessage = truncate(fmt.Sprintf("API call failed after %d attempts: %v", e.maxAttempts(), transportErr), 500)
		if _, err := e.auditCall(ctx, rec); err != nil {
			return Result{}, err
		}
		e.Logger.Warn("remote call failed, skipping key",
			"key", e.describe(key), "attempts", e.maxAttempts(), "error", transportErr)
		metrics.IncCall(e.Call.Name, "transport_error")
		return Result{Outcome: RecoverableFailure, FailedRequest: true}, nil
	}

	rec.ResponseCode = status
	if status == http.StatusOK {
		rec.ResponseMessage = "Successfully retrieved " + e.human(key)
	} else {
		rec.ResponseMessage = truncate(fmt.Sprintf("API call failed with status %d - %s", status, body), 500)
	}
	callID, err := e.auditCall(ctx, rec)
	if err != nil {
		return Result{}, err
	}

	return e.classify(ctx, key, seq, total, status, body, callID)
}

// classify maps the response onto the outcome taxonomy and, on success,
// hands the payload to validation and storage.
func (e *Engine) classify(ctx context.Context, key timekey.Key, seq, total, status int, body []byte, callID int64) (Result, error) {
	switch {
	case status == http.StatusOK:
		metrics.IncCall(e.Call.Name, "success")
		e.Logger.Info("data received", "key", e.describe(key))
		if err := e.Tracker.Progress(ctx, seq, total); err != nil {
			return Result{}, err
		}
		return e.validateAndStore(ctx, body, callID)

	case status == http.StatusBadRequest && strings.Contains(string(body), "out the available range"):
		metrics.IncCall(e.Call.Name, "recoverable")
		e.Logger.Warn("requested key outside the available range",
			"key", e.describe(key), "status", status)
		return Result{Outcome: RecoverableFailure, FailedRequest: true}, nil

	case status == http.StatusForbidden:
		return e.fatal(status, fmt.Sprintf("API call failed with status %d: Forbidden (Invalid API Key)", status))

	case status == http.StatusNotFound:
		return e.fatal(status, fmt.Sprintf("API call failed with status %d: Not Found (URL might be wrong)", status))

	case status >= http.StatusInternalServerError:
		return e.fatal(status, fmt.Sprintf("Server Error (Status: %d) during API call", status))

	default:
		metrics.IncCall(e.Call.Name, "unclassified")
		e.Logger.Warn("unhandled api error", "key", e.describe(key), "status", status)
		return Result{Outcome: RecoverableFailure, FailedRequest: true}, nil
	}
}

func (e *Engine) fatal(status int, reason string) (Result, error) {
	metrics.IncCall(e.Call.Name, "fatal")
	e.Logger.Error("critical api error", "call_type", e.Call.Name, "status", status)
	return Result{Outcome: FatalFailure}, fmt.Errorf("%w: %s", ErrFatal, reason)
}

// attempt performs up to MaxAttempts GETs. Only transport-level failures
// re-attempt; any HTTP response, whatever its code, is final. retries is
// the number of failed attempts before the returned response, or
// MaxAttempts when every attempt failed.
func (e *Engine) attempt(ctx context.Context, url string) (body []byte, status, retries int, err error) {
	max := e.maxAttempts()
	var lastErr error
	for i := 0; i < max; i++ {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if rerr != nil {
			return nil, 0, i, rerr
		}
		resp, derr := e.client().Do(req)
		if derr != nil {
			lastErr = derr
			if ctx.Err() != nil {
				return nil, 0, i + 1, lastErr
			}
			e.Logger.Warn("transport error", "attempt", i+1, "max_attempts", max, "error", derr)
			continue
		}
		b, rerr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if rerr != nil {
			lastErr = rerr
			e.Logger.Warn("response read failed", "attempt", i+1, "max_attempts", max, "error", rerr)
			continue
		}
		return b, resp.StatusCode, i, nil
	}
	return nil, 0, max, lastErr
}

// validateAndStore decodes the payload, enforces required fields, and
// performs the idempotent insert, writing one store-outcome row whatever
// happens.
func (e *Engine) validateAndStore(ctx context.Context, body []byte, callID int64) (Result, error) {
	if e.Call.Kind == weather.KindDaily {
		rec, err := weather.DecodeDaily(body, e.LocationID)
		if err != nil {
			return e.validationFailed(ctx, callID, err)
		}
		return e.insert(ctx, callID, rec.Date,
			func(ctx context.Context) (bool, error) { return e.Records.DailyExists(ctx, rec.Date, e.LocationID) },
			func(ctx context.Context) error { return e.Records.InsertDaily(ctx, rec) })
	}

	rec, err := weather.DecodeHourly(body, e.LocationID)
	if err != nil {
		return e.validationFailed(ctx, callID, err)
	}
	return e.insert(ctx, callID, rec.DT,
		func(ctx context.Context) (bool, error) { return e.Records.HourlyExists(ctx, rec.DT, e.LocationID) },
		func(ctx context.Context) error { return e.Records.InsertHourly(ctx, rec) })
}

func (e *Engine) validationFailed(ctx context.Context, callID int64, verr error) (Result, error) {
	e.Logger.Warn("payload validation failed", "call_type", e.Call.Name, "error", verr)
	metrics.IncInsert(e.Call.Name, "failure")
	if err := e.auditOutcome(ctx, callID, audit.OutcomeFailure, verr.Error()); err != nil {
		return Result{}, err
	}
	return Result{Outcome: RecoverableFailure, FailedInsert: true}, nil
}

// insert stores one validated record keyed by epoch, treating an existing
// row as a duplicate to skip, never overwrite.
func (e *Engine) insert(ctx context.Context, callID, epoch int64,
	exists func(context.Context) (bool, error), put func(context.Context) error) (Result, error) {

	found, err := exists(ctx)
	if err != nil {
		return e.insertFailed(ctx, callID, epoch, err)
	}
	if found {
		return e.duplicate(ctx, callID, epoch)
	}

	if err := put(ctx); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return e.duplicate(ctx, callID, epoch)
		}
		return e.insertFailed(ctx, callID, epoch, err)
	}

	e.Logger.Info("record inserted", "call_type", e.Call.Name, "key", e.describe(timekey.Key(epoch)))
	metrics.IncInsert(e.Call.Name, "success")
	detail := fmt.Sprintf("Successfully inserted timestamp %d", epoch)
	if err := e.auditOutcome(ctx, callID, audit.OutcomeSuccess, detail); err != nil {
		return Result{}, err
	}
	return Result{Outcome: Success}, nil
}

func (e *Engine) duplicate(ctx context.Context, callID, epoch int64) (Result, error) {
	e.Logger.Warn("record already exists", "call_type", e.Call.Name, "key", e.describe(timekey.Key(epoch)))
	metrics.IncInsert(e.Call.Name, "duplicate")
	if err := e.auditOutcome(ctx, callID, audit.OutcomeFailure, "Duplicate record"); err != nil {
		return Result{}, err
	}
	return Result{Outcome: SkippedDuplicate, FailedInsert: true}, nil
}

func (e *Engine) insertFailed(ctx context.Context, callID, epoch int64, serr error) (Result, error) {
	e.Logger.Warn("insert failed", "call_type", e.Call.Name,
		"key", e.describe(timekey.Key(epoch)), "error", serr)
	metrics.IncInsert(e.Call.Name, "failure")
	if err := e.auditOutcome(ctx, callID, audit.OutcomeFailure, truncate(serr.Error(), 500)); err != nil {
		return Result{}, err
	}
	return Result{Outcome: RecoverableFailure, FailedInsert: true}, nil
}

// auditCall writes the one call row each attempted key owes, and mirrors it
// to the analytics sink when one is wired. Sink failures are logged, never
// propagated.
func (e *Engine) auditCall(ctx context.Context, rec audit.CallRecord) (int64, error) {
	id, err := e.Audit.InsertCall(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("audit call: %w", err)
	}
	if e.Sink != nil {
		rec.ID = id
		if serr := e.Sink.Send(ctx, rec); serr != nil {
			e.Logger.Warn("analytics mirror failed", "error", serr)
		}
	}
	return id, nil
}

func (e *Engine) auditOutcome(ctx context.Context, callID int64, status, detail string) error {
	_, err := e.Audit.InsertOutcome(ctx, audit.OutcomeRecord{
		CallID:     callID,
		RecordedAt: e.clock().Unix(),
		Status:     status,
		Detail:     detail,
	})
	if err != nil {
		return fmt.Errorf("audit outcome: %w", err)
	}
	return nil
}

func (e *Engine) describe(k timekey.Key) string {
	if e.Call.Kind == weather.KindDaily {
		return k.Date()
	}
	return k.String()
}

// human phrases the key the way the audit trail reads it.
func (e *Engine) human(k timekey.Key) string {
	if e.Call.Kind == weather.KindDaily {
		return "summary for " + k.Date()
	}
	return k.String()
}

func (e *Engine) client() *http.Client {
	if e.Client != nil {
		return e.Client
	}
	return http.DefaultClient
}

func (e *Engine) maxAttempts() int {
	if e.MaxAttempts > 0 {
		return e.MaxAttempts
	}
	return 3
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now().UTC()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
