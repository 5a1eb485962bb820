package audit

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("audit: not found")

// CallTemplate is one stored request descriptor per (platform, call type).
// Template carries the URL prototype with named placeholders resolved at
// call time.
type CallTemplate struct {
	ID       int64  `json:"id"`
	Platform string `json:"platform"`
	CallType string `json:"call_type"`
	Kind     string `json:"kind"`
	Template string `json:"template"`
}

// CallRecord is the immutable audit row written for every attempted remote
// call. Timestamp is UTC epoch seconds.
type CallRecord struct {
	ID              int64  `json:"id"`
	Timestamp       int64  `json:"timestamp"`
	CallTypeID      int64  `json:"call_type_id"`
	Event           string `json:"event"`
	RequestURL      string `json:"request_url"`
	ResponseCode    int    `json:"response_code"`
	ResponseMessage string `json:"response_message"`
	RetryCount      int    `json:"retry_count"`
	Note            string `json:"note,omitempty"`
}

// OutcomeRecord is the immutable audit row written for every store attempt,
// linked to the call that produced the payload.
type OutcomeRecord struct {
	ID         int64  `json:"id"`
	CallID     int64  `json:"api_call_id"`
	RecordedAt int64  `json:"recorded_at"`
	Status     string `json:"status"`
	Detail     string `json:"detail"`
}

// Outcome status values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// TrackingRecord is the single upserted row per (script, platform, call
// type) that external monitors read. It is the only contract dashboards
// rely on, so every run transition must leave it current.
type TrackingRecord struct {
	Script            string    `json:"script"`
	Platform          string    `json:"platform"`
	CallType          string    `json:"call_type"`
	Status            string    `json:"status"`
	PrevStatus        string    `json:"previous_status"`
	LastChecked       time.Time `json:"last_checked"`
	RequestsToday     int       `json:"requests_made_today"`
	DailyLimitReached bool      `json:"daily_limit_reached"`
	ForceRestart      bool      `json:"force_restart"`
	StoppedReason     string    `json:"stopped_reason,omitempty"`
	RunID             string    `json:"run_id,omitempty"`
}

// Store persists call audit, store-outcome audit, tracking state, and call
// templates. All methods must be safe for use by concurrent pipeline
// processes sharing the same tables.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Close() error

	// Call templates.
	SeedTemplate(ctx context.Context, t CallTemplate) (int64, error)
	Template(ctx context.Context, platform, callType string) (CallTemplate, error)

	// Call audit.
	InsertCall(ctx context.Context, rec CallRecord) (int64, error)
	CallsSince(ctx context.Context, callTypeID int64, since time.Time) (int, error)
	PlatformCallsSince(ctx context.Context, platform string, since time.Time) (int, error)
	FailureCounts(ctx context.Context, platform string, since time.Time) (failures, successes int, err error)
	RecentCalls(ctx context.Context, platform, callType string, limit int) ([]CallRecord, error)

	// Store-outcome audit.
	InsertOutcome(ctx context.Context, rec OutcomeRecord) (int64, error)
	RecentOutcomes(ctx context.Context, platform, callType string, limit int) ([]OutcomeRecord, error)

	// Tracking.
	UpsertTracking(ctx context.Context, rec TrackingRecord) error
	Tracking(ctx context.Context, script, platform, callType string) (TrackingRecord, error)
	AllTracking(ctx context.Context) ([]TrackingRecord, error)
	SetDailyLimitReached(ctx context.Context, script, platform, callType string, now time.Time) error
	ResetDaily(ctx context.Context, script, platform, callType string, now time.Time) error
	// IncrementRequests atomically grants one unit of the daily quota.
	// limited=true means the counter already sat at limit and nothing was
	// granted.
	IncrementRequests(ctx context.Context, script, platform, callType string, limit int, now time.Time) (count int, limited bool, err error)
}

// Sink mirrors call audit rows to an external analytics system. Failures
// are reported but never interrupt the pipeline.
type Sink interface {
	Send(ctx context.Context, rec CallRecord) error
	Close() error
}
