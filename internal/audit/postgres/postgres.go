package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/excessus1/openweather-pub/internal/audit"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_templates(
			id BIGSERIAL PRIMARY KEY,
			platform TEXT NOT NULL,
			call_type TEXT NOT NULL,
			kind TEXT NOT NULL,
			template TEXT NOT NULL,
			UNIQUE(platform, call_type)
		);`,
		`CREATE TABLE IF NOT EXISTS api_calls(
			id BIGSERIAL PRIMARY KEY,
			call_timestamp BIGINT NOT NULL,
			call_type_id BIGINT NOT NULL REFERENCES call_templates(id),
			call_event TEXT NOT NULL,
			request_url TEXT NOT NULL,
			response_code INTEGER NOT NULL,
			response_message TEXT NOT NULL,
			retry_count INTEGER NOT NULL,
			note TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_api_calls_type_ts ON api_calls(call_type_id, call_timestamp);`,
		`CREATE TABLE IF NOT EXISTS store_outcomes(
			id BIGSERIAL PRIMARY KEY,
			call_id BIGINT NOT NULL REFERENCES api_calls(id),
			recorded_at BIGINT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_store_outcomes_call ON store_outcomes(call_id);`,
		`CREATE TABLE IF NOT EXISTS script_tracking(
			script TEXT NOT NULL,
			platform TEXT NOT NULL,
			call_type TEXT NOT NULL,
			status TEXT NOT NULL,
			previous_status TEXT NOT NULL DEFAULT '',
			last_checked TIMESTAMPTZ NOT NULL,
			requests_made_today INTEGER NOT NULL DEFAULT 0,
			daily_limit_reached BOOLEAN NOT NULL DEFAULT FALSE,
			force_restart BOOLEAN NOT NULL DEFAULT FALSE,
			stopped_reason TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL DEFAULT '',
			PRIMARY KEY(script, platform, call_type)
		);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) SeedTemplate(ctx context.Context, t audit.CallTemplate) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO call_templates(platform, call_type, kind, template)
		VALUES($1,$2,$3,$4)
		ON CONFLICT(platform, call_type) DO UPDATE SET
			kind=EXCLUDED.kind,
			template=EXCLUDED.template
		RETURNING id;`,
		t.Platform, t.CallType, t.Kind, t.Template).Scan(&id)
	return id, err
}

func (p *DB) Template(ctx context.Context, platform, callType string) (audit.CallTemplate, error) {
	var t audit.CallTemplate
	err := p.db.QueryRowContext(ctx, `
		SELECT id, platform, call_type, kind, template
		FROM call_templates
		WHERE platform=$1 AND call_type=$2;`, platform, callType).
		Scan(&t.ID, &t.Platform, &t.CallType, &t.Kind, &t.Template)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.CallTemplate{}, fmt.Errorf("template %s/%s: %w", platform, callType, audit.ErrNotFound)
	}
	return t, err
}

func (p *DB) InsertCall(ctx context.Context, rec audit.CallRecord) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO api_calls(call_timestamp, call_type_id, call_event, request_url, response_code, response_message, retry_count, note)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id;`,
		rec.Timestamp, rec.CallTypeID, rec.Event, rec.RequestURL,
		rec.ResponseCode, rec.ResponseMessage, rec.RetryCount, rec.Note).Scan(&id)
	return id, err
}

func (p *DB) CallsSince(ctx context.Context, callTypeID int64, since time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM api_calls
		WHERE call_type_id=$1 AND call_timestamp >= $2;`,
		callTypeID, since.UTC().Unix()).Scan(&n)
	return n, err
}

func (p *DB) PlatformCallsSince(ctx context.Context, platform string, since time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM api_calls c
		JOIN call_templates t ON c.call_type_id = t.id
		WHERE t.platform=$1 AND c.call_timestamp >= $2;`,
		platform, since.UTC().Unix()).Scan(&n)
	return n, err
}

func (p *DB) FailureCounts(ctx context.Context, platform string, since time.Time) (int, int, error) {
	var failures, successes int
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE c.response_code <> 200),
			COUNT(*) FILTER (WHERE c.response_code = 200)
		FROM api_calls c
		JOIN call_templates t ON c.call_type_id = t.id
		WHERE t.platform=$1 AND c.call_timestamp >= $2;`,
		platform, since.UTC().Unix()).Scan(&failures, &successes)
	return failures, successes, err
}

func (p *DB) RecentCalls(ctx context.Context, platform, callType string, limit int) ([]audit.CallRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.call_timestamp, c.call_type_id, c.call_event, c.request_url,
			c.response_code, c.response_message, c.retry_count, c.note
		FROM api_calls c
		JOIN call_templates t ON c.call_type_id = t.id
		WHERE t.platform=$1 AND t.call_type=$2
		ORDER BY c.id DESC
		LIMIT $3;`, platform, callType, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanCalls(rows)
}

func (p *DB) InsertOutcome(ctx context.Context, rec audit.OutcomeRecord) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO store_outcomes(call_id, recorded_at, status, detail)
		VALUES($1,$2,$3,$4)
		RETURNING id;`,
		rec.CallID, rec.RecordedAt, rec.Status, rec.Detail).Scan(&id)
	return id, err
}

func (p *DB) RecentOutcomes(ctx context.Context, platform, callType string, limit int) ([]audit.OutcomeRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT o.id, o.call_id, o.recorded_at, o.status, o.detail
		FROM store_outcomes o
		JOIN api_calls c ON o.call_id = c.id
		JOIN call_templates t ON c.call_type_id = t.id
		WHERE t.platform=$1 AND t.call_type=$2
		ORDER BY o.id DESC
		LIMIT $3;`, platform, callType, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]audit.OutcomeRecord, 0)
	for rows.Next() {
		var r audit.OutcomeRecord
		if err := rows.Scan(&r.ID, &r.CallID, &r.RecordedAt, &r.Status, &r.Detail); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertTracking reads the current status and writes the transition in one
// transaction so concurrent pipelines never interleave a stale previous
// status.
func (p *DB) UpsertTracking(ctx context.Context, rec audit.TrackingRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var prev string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM script_tracking
		WHERE script=$1 AND platform=$2 AND call_type=$3;`,
		rec.Script, rec.Platform, rec.CallType).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO script_tracking(script, platform, call_type, status, previous_status, last_checked, requests_made_today, stopped_reason, force_restart, run_id)
		VALUES($1,$2,$3,$4,$5,$6,0,$7,$8,$9)
		ON CONFLICT(script, platform, call_type) DO UPDATE SET
			status=EXCLUDED.status,
			previous_status=EXCLUDED.previous_status,
			last_checked=EXCLUDED.last_checked,
			stopped_reason=EXCLUDED.stopped_reason,
			force_restart=EXCLUDED.force_restart,
			run_id=EXCLUDED.run_id;`,
		rec.Script, rec.Platform, rec.CallType, rec.Status, prev,
		rec.LastChecked.UTC(), rec.StoppedReason, rec.ForceRestart, rec.RunID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (p *DB) Tracking(ctx context.Context, script, platform, callType string) (audit.TrackingRecord, error) {
	var r audit.TrackingRecord
	err := p.db.QueryRowContext(ctx, `
		SELECT script, platform, call_type, status, previous_status, last_checked,
			requests_made_today, daily_limit_reached, force_restart, stopped_reason, run_id
		FROM script_tracking
		WHERE script=$1 AND platform=$2 AND call_type=$3;`,
		script, platform, callType).
		Scan(&r.Script, &r.Platform, &r.CallType, &r.Status, &r.PrevStatus, &r.LastChecked,
			&r.RequestsToday, &r.DailyLimitReached, &r.ForceRestart, &r.StoppedReason, &r.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.TrackingRecord{}, fmt.Errorf("tracking %s/%s/%s: %w", script, platform, callType, audit.ErrNotFound)
	}
	return r, err
}

func (p *DB) AllTracking(ctx context.Context) ([]audit.TrackingRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT script, platform, call_type, status, previous_status, last_checked,
			requests_made_today, daily_limit_reached, force_restart, stopped_reason, run_id
		FROM script_tracking
		ORDER BY script, platform, call_type;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]audit.TrackingRecord, 0)
	for rows.Next() {
		var r audit.TrackingRecord
		if err := rows.Scan(&r.Script, &r.Platform, &r.CallType, &r.Status, &r.PrevStatus, &r.LastChecked,
			&r.RequestsToday, &r.DailyLimitReached, &r.ForceRestart, &r.StoppedReason, &r.RunID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *DB) SetDailyLimitReached(ctx context.Context, script, platform, callType string, now time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE script_tracking
		SET daily_limit_reached=TRUE, last_checked=$1
		WHERE script=$2 AND platform=$3 AND call_type=$4;`,
		now.UTC(), script, platform, callType)
	return err
}

func (p *DB) ResetDaily(ctx context.Context, script, platform, callType string, now time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE script_tracking
		SET requests_made_today=0, daily_limit_reached=FALSE, last_checked=$1
		WHERE script=$2 AND platform=$3 AND call_type=$4;`,
		now.UTC(), script, platform, callType)
	return err
}

// IncrementRequests bumps the per-day request counter with a single
// conditional upsert so concurrent pipelines sharing the row never lose an
// increment. When the counter already sits at the cap the row is left
// unchanged and limited=true is returned; a granted increment reports
// limited=false even when it is the one that reaches the cap.
func (p *DB) IncrementRequests(ctx context.Context, script, platform, callType string, limit int, now time.Time) (int, bool, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO script_tracking(script, platform, call_type, status, last_checked, requests_made_today)
		VALUES($1,$2,$3,'started',$4,1)
		ON CONFLICT(script, platform, call_type) DO UPDATE SET
			requests_made_today = script_tracking.requests_made_today + 1,
			last_checked = EXCLUDED.last_checked
		WHERE script_tracking.requests_made_today < $5
		RETURNING requests_made_today;`,
		script, platform, callType, now.UTC(), limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// Conditional update declined: the counter is already at the cap.
		return limit, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, false, nil
}

func scanCalls(rows *sql.Rows) ([]audit.CallRecord, error) {
	out := make([]audit.CallRecord, 0)
	for rows.Next() {
		var r audit.CallRecord
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.CallTypeID, &r.Event, &r.RequestURL,
			&r.ResponseCode, &r.ResponseMessage, &r.RetryCount, &r.Note); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
