package client

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/excessus1/openweather-pub/internal/audit"
	auditdb "github.com/excessus1/openweather-pub/internal/audit/sqlite"
	"github.com/excessus1/openweather-pub/internal/server"
	"github.com/excessus1/openweather-pub/internal/weather"
)

func newTestDaemon(t *testing.T) (*Client, audit.Store) {
	t.Helper()
	ctx := context.Background()

	db, err := auditdb.New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	srv := httptest.NewServer(server.NewRouter(db, "owfill", "OpenWeather", "/api").Handler())
	t.Cleanup(srv.Close)

	return New(Config{BaseURL: srv.URL + "/api"}), db
}

func seedRun(t *testing.T, db audit.Store) {
	t.Helper()
	ctx := context.Background()
	id, err := db.SeedTemplate(ctx, audit.CallTemplate{
		Platform: "OpenWeather", CallType: weather.Timemachine.Name,
		Kind: weather.Timemachine.Kind, Template: weather.Timemachine.DefaultTemplate,
	})
	if err != nil {
		t.Fatalf("seed template: %v", err)
	}
	callID, err := db.InsertCall(ctx, audit.CallRecord{
		Timestamp: time.Now().Unix(), CallTypeID: id, Event: "API Call",
		RequestURL: "https://example.test/onecall?appid=REDACTED", ResponseCode: 200,
		ResponseMessage: "Successfully retrieved 2024-01-01 01:00",
	})
	if err != nil {
		t.Fatalf("insert call: %v", err)
	}
	if _, err := db.InsertOutcome(ctx, audit.OutcomeRecord{
		CallID: callID, RecordedAt: time.Now().Unix(),
		Status: audit.OutcomeSuccess, Detail: "Successfully inserted timestamp 1704070800",
	}); err != nil {
		t.Fatalf("insert outcome: %v", err)
	}
	if err := db.UpsertTracking(ctx, audit.TrackingRecord{
		Script: "owfill", Platform: "OpenWeather", CallType: weather.Timemachine.Name,
		Status: "stopped-succ", LastChecked: time.Now().UTC(), RunID: "run-1",
	}); err != nil {
		t.Fatalf("upsert tracking: %v", err)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	c, db := newTestDaemon(t)
	seedRun(t, db)

	if !c.IsReachable(context.Background()) {
		t.Fatalf("daemon should be reachable")
	}

	rows, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(rows) != 1 || rows[0].CallType != "timemachine" || rows[0].Status != "stopped-succ" {
		t.Fatalf("rows = %+v", rows)
	}

	row, err := c.CallTypeStatus(context.Background(), "timemachine")
	if err != nil {
		t.Fatalf("call type status: %v", err)
	}
	if row.RunID != "run-1" {
		t.Fatalf("row = %+v", row)
	}
}

func TestRecentActivity(t *testing.T) {
	c, db := newTestDaemon(t)
	seedRun(t, db)

	calls, err := c.RecentCalls(context.Background(), "timemachine", 5)
	if err != nil {
		t.Fatalf("recent calls: %v", err)
	}
	if len(calls) != 1 || calls[0].ResponseCode != 200 {
		t.Fatalf("calls = %+v", calls)
	}

	outcomes, err := c.RecentOutcomes(context.Background(), "timemachine", 5)
	if err != nil {
		t.Fatalf("recent outcomes: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != audit.OutcomeSuccess {
		t.Fatalf("outcomes = %+v", outcomes)
	}
}

func TestOverview(t *testing.T) {
	c, db := newTestDaemon(t)
	seedRun(t, db)

	out, err := c.Overview(context.Background())
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	tm := out["timemachine"]
	if tm.Tracking == nil || tm.LastCall == nil || tm.LastOutcome == nil {
		t.Fatalf("overview entry = %+v", tm)
	}
}

func TestServerErrorsSurface(t *testing.T) {
	c, _ := newTestDaemon(t)

	if _, err := c.CallTypeStatus(context.Background(), "minutely"); err == nil ||
		!strings.Contains(err.Error(), "unknown call type") {
		t.Fatalf("error = %v", err)
	}
	if _, err := c.CallTypeStatus(context.Background(), "timemachine"); err == nil ||
		!strings.Contains(err.Error(), "404") {
		t.Fatalf("error = %v", err)
	}
}

func TestUnreachableDaemon(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: 200 * time.Millisecond})
	if c.IsReachable(context.Background()) {
		t.Fatalf("expected unreachable")
	}
}
