package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/excessus1/openweather-pub/internal/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	// keep a single shared connection for the in-memory database
	db.db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return db
}

func sampleHourly(dt int64) store.Hourly {
	return store.Hourly{
		DT: dt, Lat: 33.6891, Lon: -78.8867,
		Timezone: "America/New_York", TimezoneOffset: -18000,
		Sunrise: dt - 3600, Sunset: dt + 3600,
		Temp: 21.4, FeelsLike: 21.9, Pressure: 1014, Humidity: 68,
		DewPoint: 15.2, Visibility: 10000, Description: "scattered clouds",
		Clouds: 40, WindSpeed: 4.1, WindDeg: 220, LocationID: 1,
	}
}

func TestHourlyInsertAndDuplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const dt = int64(1704067200) // 2024-01-01 00:00:00 UTC
	ok, err := db.HourlyExists(ctx, dt, 1)
	if err != nil || ok {
		t.Fatalf("exists before insert: %v %v", ok, err)
	}
	if err := db.InsertHourly(ctx, sampleHourly(dt)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	ok, err = db.HourlyExists(ctx, dt, 1)
	if err != nil || !ok {
		t.Fatalf("exists after insert: %v %v", ok, err)
	}

	err = db.InsertHourly(ctx, sampleHourly(dt))
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Same hour for another location is a distinct row.
	other := sampleHourly(dt)
	other.LocationID = 2
	if err := db.InsertHourly(ctx, other); err != nil {
		t.Fatalf("insert other location: %v", err)
	}
}

func TestMissingHourly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Window of five hours, two already stored.
	const stop = int64(1704067200)
	start := stop + 4*3600
	for _, dt := range []int64{stop + 3600, stop + 3*3600} {
		if err := db.InsertHourly(ctx, sampleHourly(dt)); err != nil {
			t.Fatalf("seed insert: %v", err)
		}
	}
	// A row for another location must not fill this location's gap.
	other := sampleHourly(stop)
	other.LocationID = 9
	if err := db.InsertHourly(ctx, other); err != nil {
		t.Fatalf("seed other location: %v", err)
	}

	missing, err := db.MissingHourly(ctx, 1, stop, start)
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	want := []int64{stop, stop + 2*3600, stop + 4*3600}
	if len(missing) != len(want) {
		t.Fatalf("missing = %v, want %v", missing, want)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Fatalf("missing[%d] = %d, want %d", i, missing[i], want[i])
		}
	}
}

func sampleDaily(date int64) store.DailySummary {
	return store.DailySummary{
		Lat: 33.6891, Lon: -78.8867, TZOffset: -18000, Date: date, Units: "metric",
		CloudCoverAfternoon: 55, HumidityAfternoon: 71, PrecipitationTotal: 1.2,
		TempMin: 4.1, TempMax: 14.9, TempAfternoon: 13.0, TempNight: 6.2,
		TempEvening: 9.8, TempMorning: 4.4, PressureAfternoon: 1018,
		WindMaxSpeed: 8.9, WindMaxDirection: 200, LocationID: 1,
	}
}

func TestDailyInsertAndMissing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const stop = int64(1704067200) // midnight UTC
	start := stop + 3*86400

	if err := db.InsertDaily(ctx, sampleDaily(stop+86400)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.InsertDaily(ctx, sampleDaily(stop+86400)); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	ok, err := db.DailyExists(ctx, stop+86400, 1)
	if err != nil || !ok {
		t.Fatalf("exists: %v %v", ok, err)
	}

	missing, err := db.MissingDaily(ctx, 1, stop, start)
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	want := []int64{stop, stop + 2*86400, stop + 3*86400}
	if len(missing) != len(want) {
		t.Fatalf("missing = %v, want %v", missing, want)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Fatalf("missing[%d] = %d, want %d", i, missing[i], want[i])
		}
	}
}

func TestMissingFullWindow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const stop = int64(1704067200)
	missing, err := db.MissingHourly(ctx, 1, stop, stop+2*3600)
	if err != nil || len(missing) != 3 {
		t.Fatalf("empty table missing = %v, %v; want 3 keys", missing, err)
	}
	if missing[0] != stop || missing[2] != stop+2*3600 {
		t.Fatalf("bounds wrong: %v", missing)
	}

	// Single-key window.
	missing, err = db.MissingHourly(ctx, 1, stop, stop)
	if err != nil || len(missing) != 1 || missing[0] != stop {
		t.Fatalf("single-key window = %v, %v", missing, err)
	}
}
