package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/excessus1/openweather-pub/internal/audit"
	auditdb "github.com/excessus1/openweather-pub/internal/audit/sqlite"
	"github.com/excessus1/openweather-pub/internal/batch"
	"github.com/excessus1/openweather-pub/internal/config"
	"github.com/excessus1/openweather-pub/internal/ingest"
	"github.com/excessus1/openweather-pub/internal/store"
	storedb "github.com/excessus1/openweather-pub/internal/store/sqlite"
	"github.com/excessus1/openweather-pub/internal/weather"
)

func dailyPayload(date string) string {
	return fmt.Sprintf(`{
  "lat": 33.6891, "lon": -78.8867, "tz": "+00:00", "date": %q, "units": "metric",
  "cloud_cover": {"afternoon": 30.0},
  "humidity": {"afternoon": 55.0},
  "precipitation": {"total": 0.4},
  "temperature": {"min": 18.0, "max": 27.0, "afternoon": 25.0, "night": 20.0, "evening": 23.0, "morning": 19.0},
  "pressure": {"afternoon": 1015.0},
  "wind": {"max": {"speed": 5.5, "direction": 180.0}}
}`, date)
}

func hourlyPayload(dt string) string {
	return fmt.Sprintf(`{
  "lat": 33.6891, "lon": -78.8867, "timezone": "UTC", "timezone_offset": 0,
  "data": [
    {
      "dt": %s,
      "temp": 12.3, "feels_like": 11.0, "pressure": 1012, "humidity": 70,
      "dew_point": 7.1, "clouds": 40, "visibility": 10000,
      "wind_speed": 4.2, "wind_deg": 200,
      "weather": [{"description": "scattered clouds"}]
    }
  ]
}`, dt)
}

type env struct {
	cfg *config.Config
	adb audit.Store
	sdb store.Store
}

func newEnv(t *testing.T) env {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	adb, err := auditdb.New(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("open audit db: %v", err)
	}
	t.Cleanup(func() { _ = adb.Close() })
	if err := adb.EnsureSchema(ctx); err != nil {
		t.Fatalf("audit schema: %v", err)
	}

	sdb, err := storedb.New(filepath.Join(dir, "observations.db"))
	if err != nil {
		t.Fatalf("open store db: %v", err)
	}
	t.Cleanup(func() { _ = sdb.Close() })
	if err := sdb.EnsureSchema(ctx); err != nil {
		t.Fatalf("store schema: %v", err)
	}

	cfg := &config.Config{
		Script:   "owfill",
		Platform: "OpenWeather",
		Location: config.Location{ID: 1, Latitude: 33.6891, Longitude: -78.8867},
		Timemachine: config.CallConfig{
			DailyLimit: 10, BatchLimit: 5, BatchDir: filepath.Join(dir, "timemachine"),
		},
		DailySummary: config.CallConfig{
			DailyLimit: 10, BatchLimit: 5, BatchDir: filepath.Join(dir, "day_summary"),
		},
		API: config.API{Key: "k-e2e", Units: "metric", RequestTimeout: 5 * time.Second, MaxAttempts: 3},
	}
	return env{cfg: cfg, adb: adb, sdb: sdb}
}

func (e env) seedTemplate(t *testing.T, call weather.CallType, baseURL string) {
	t.Helper()
	placeholder := "dt={time}"
	if call.Kind == weather.KindDaily {
		placeholder = "date={date}"
	}
	_, err := e.adb.SeedTemplate(context.Background(), audit.CallTemplate{
		Platform: "OpenWeather", CallType: call.Name, Kind: call.Kind,
		Template: baseURL + "/onecall/" + call.Name + "?lat={lat}&lon={lon}&" + placeholder + "&appid={API_key}",
	})
	if err != nil {
		t.Fatalf("seed template: %v", err)
	}
}

func (e env) options(call weather.CallType) Options {
	return Options{
		Config:  e.cfg,
		Call:    call,
		Audit:   e.adb,
		Records: e.sdb,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (e env) tracking(t *testing.T, call weather.CallType) audit.TrackingRecord {
	t.Helper()
	rec, err := e.adb.Tracking(context.Background(), "owfill", "OpenWeather", call.Name)
	if err != nil {
		t.Fatalf("read tracking: %v", err)
	}
	return rec
}

func (e env) callRows(t *testing.T, call weather.CallType) []audit.CallRecord {
	t.Helper()
	rows, err := e.adb.RecentCalls(context.Background(), "OpenWeather", call.Name, 50)
	if err != nil {
		t.Fatalf("recent calls: %v", err)
	}
	return rows
}

func writeBatchFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch_20230603_120000.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write batch file: %v", err)
	}
	return path
}

func TestRunBatchDailySuccess(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, dailyPayload(r.URL.Query().Get("date")))
	}))
	defer srv.Close()
	e.seedTemplate(t, weather.DaySummary, srv.URL)

	path := writeBatchFile(t, `["2023-06-01","2023-06-02"]`)
	res, err := RunBatch(context.Background(), e.options(weather.DaySummary), path)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if res.Attempted != 2 || res.Stored != 2 || res.FailedRequests != 0 || res.FailedInserts != 0 {
		t.Fatalf("result = %+v", res)
	}

	for _, epoch := range []int64{1685577600, 1685664000} {
		exists, err := e.sdb.DailyExists(context.Background(), epoch, 1)
		if err != nil || !exists {
			t.Fatalf("summary %d not stored: exists=%v err=%v", epoch, exists, err)
		}
	}

	rec := e.tracking(t, weather.DaySummary)
	if rec.Status != "stopped-succ" {
		t.Fatalf("tracking status = %q", rec.Status)
	}
	if rec.ForceRestart {
		t.Fatalf("unexpected force_restart")
	}
	if rec.RequestsToday != 2 {
		t.Fatalf("requests today = %d, want 2", rec.RequestsToday)
	}

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("batch file still present after consumption")
	}
	if _, err := os.Stat(path + ".done"); err != nil {
		t.Fatalf("archived batch file missing: %v", err)
	}
}

func TestRunBatchForbiddenHaltsImmediately(t *testing.T) {
	e := newEnv(t)
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "Forbidden")
	}))
	defer srv.Close()
	e.seedTemplate(t, weather.DaySummary, srv.URL)

	path := writeBatchFile(t, `["2023-06-01","2023-06-02"]`)
	res, err := RunBatch(context.Background(), e.options(weather.DaySummary), path)
	if !errors.Is(err, ingest.ErrFatal) {
		t.Fatalf("error = %v, want ErrFatal", err)
	}
	if res.Attempted != 0 || res.Stored != 0 {
		t.Fatalf("result = %+v", res)
	}
	if calls != 1 {
		t.Fatalf("remote calls = %d, want 1", calls)
	}
	if rows := e.callRows(t, weather.DaySummary); len(rows) != 1 {
		t.Fatalf("call audit rows = %d, want 1", len(rows))
	}

	for _, epoch := range []int64{1685577600, 1685664000} {
		exists, err := e.sdb.DailyExists(context.Background(), epoch, 1)
		if err != nil {
			t.Fatalf("exists: %v", err)
		}
		if exists {
			t.Fatalf("halted run stored summary %d", epoch)
		}
	}

	rec := e.tracking(t, weather.DaySummary)
	if rec.Status != "stopped-err" || !rec.ForceRestart {
		t.Fatalf("tracking = %+v", rec)
	}
	if rec.StoppedReason != "API call failed with status 403: Forbidden (Invalid API Key)" {
		t.Fatalf("stopped reason = %q", rec.StoppedReason)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("halted run must leave the batch file for reprocessing: %v", err)
	}
}

func TestRunDetectsAndFillsHourly(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, hourlyPayload(r.URL.Query().Get("dt")))
	}))
	defer srv.Close()
	e.seedTemplate(t, weather.Timemachine, srv.URL)
	e.cfg.History = config.History{
		TimemachineStart: "2023-01-01 02:00:00",
		TimemachineStop:  "2023-01-01 00:00:00",
	}

	res, err := Run(context.Background(), e.options(weather.Timemachine))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Attempted != 3 || res.Stored != 3 {
		t.Fatalf("result = %+v", res)
	}
	if res.BatchFile == "" {
		t.Fatalf("expected a materialized batch file")
	}
	if _, err := os.Stat(res.BatchFile + ".done"); err != nil {
		t.Fatalf("archived batch file missing: %v", err)
	}

	for _, dt := range []int64{1672531200, 1672534800, 1672538400} {
		exists, err := e.sdb.HourlyExists(context.Background(), dt, 1)
		if err != nil || !exists {
			t.Fatalf("observation %d not stored: exists=%v err=%v", dt, exists, err)
		}
	}

	rec := e.tracking(t, weather.Timemachine)
	if rec.Status != "stopped-succ" || rec.RequestsToday != 3 {
		t.Fatalf("tracking = %+v", rec)
	}
}

func TestRunNoMissingKeys(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no-work run must not reach the network")
	}))
	defer srv.Close()
	e.seedTemplate(t, weather.Timemachine, srv.URL)
	e.cfg.History = config.History{
		TimemachineStart: "2023-01-01 01:00:00",
		TimemachineStop:  "2023-01-01 00:00:00",
	}

	for _, dt := range []int64{1672531200, 1672534800} {
		if err := e.sdb.InsertHourly(context.Background(), store.Hourly{DT: dt, LocationID: 1}); err != nil {
			t.Fatalf("seed row: %v", err)
		}
	}

	res, err := Run(context.Background(), e.options(weather.Timemachine))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Attempted != 0 || res.BatchFile != "" {
		t.Fatalf("result = %+v", res)
	}

	rec := e.tracking(t, weather.Timemachine)
	if rec.Status != "stopped-succ" {
		t.Fatalf("tracking status = %q", rec.Status)
	}

	entries, err := os.ReadDir(e.cfg.Timemachine.BatchDir)
	if err == nil && len(entries) > 0 {
		t.Fatalf("no-work run materialized %d batch files", len(entries))
	}
}

func TestRunBatchMalformedFile(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("malformed batch must abort before any remote call")
	}))
	defer srv.Close()
	e.seedTemplate(t, weather.Timemachine, srv.URL)

	path := writeBatchFile(t, `{"not": "an array"}`)
	_, err := RunBatch(context.Background(), e.options(weather.Timemachine), path)
	if !errors.Is(err, batch.ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}

	rec := e.tracking(t, weather.Timemachine)
	if rec.Status != "stopped-err" {
		t.Fatalf("tracking status = %q", rec.Status)
	}
	if rec.ForceRestart {
		t.Fatalf("config errors must not force a restart")
	}
	if rows := e.callRows(t, weather.Timemachine); len(rows) != 0 {
		t.Fatalf("call audit rows = %d, want 0", len(rows))
	}
}

func TestRunBatchSkipsStoredKeys(t *testing.T) {
	e := newEnv(t)
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = io.WriteString(w, dailyPayload(r.URL.Query().Get("date")))
	}))
	defer srv.Close()
	e.seedTemplate(t, weather.DaySummary, srv.URL)

	if err := e.sdb.InsertDaily(context.Background(), store.DailySummary{Date: 1685577600, LocationID: 1}); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	path := writeBatchFile(t, `["2023-06-01","2023-06-02"]`)
	res, err := RunBatch(context.Background(), e.options(weather.DaySummary), path)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if res.Attempted != 1 || res.Stored != 1 || calls != 1 {
		t.Fatalf("result = %+v, calls = %d", res, calls)
	}
	if rec := e.tracking(t, weather.DaySummary); rec.Status != "stopped-succ" {
		t.Fatalf("tracking status = %q", rec.Status)
	}
}

func TestRunBatchDailyLimitHalts(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, dailyPayload(r.URL.Query().Get("date")))
	}))
	defer srv.Close()
	e.seedTemplate(t, weather.DaySummary, srv.URL)
	e.cfg.DailySummary.DailyLimit = 1

	path := writeBatchFile(t, `["2023-06-01","2023-06-02"]`)
	res, err := RunBatch(context.Background(), e.options(weather.DaySummary), path)
	if err != nil {
		t.Fatalf("quota halt is a normal ending: %v", err)
	}
	if res.Attempted != 1 || res.Stored != 1 {
		t.Fatalf("result = %+v", res)
	}

	rec := e.tracking(t, weather.DaySummary)
	if rec.Status != "stopped-warn" || rec.StoppedReason != "Daily limit reached" {
		t.Fatalf("tracking = %+v", rec)
	}
	if !rec.DailyLimitReached {
		t.Fatalf("daily limit flag not set")
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("halted run must leave the batch file for reprocessing: %v", err)
	}
}

func TestRunBatchWarnsOnFailures(t *testing.T) {
	e := newEnv(t)
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"message": "requested time is out the available range"}`)
			return
		}
		_, _ = io.WriteString(w, dailyPayload(r.URL.Query().Get("date")))
	}))
	defer srv.Close()
	e.seedTemplate(t, weather.DaySummary, srv.URL)

	path := writeBatchFile(t, `["2023-06-01","2023-06-02"]`)
	res, err := RunBatch(context.Background(), e.options(weather.DaySummary), path)
	if err != nil {
		t.Fatalf("recoverable failures must not halt: %v", err)
	}
	if res.Attempted != 2 || res.Stored != 1 || res.FailedRequests != 1 {
		t.Fatalf("result = %+v", res)
	}

	rec := e.tracking(t, weather.DaySummary)
	if rec.Status != "stopped-warn" {
		t.Fatalf("tracking status = %q", rec.Status)
	}
	if rec.StoppedReason != "completed with 2 requests, 1 request failures, and 0 failed inserts" {
		t.Fatalf("stopped reason = %q", rec.StoppedReason)
	}
}
