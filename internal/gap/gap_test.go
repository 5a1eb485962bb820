package gap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/excessus1/openweather-pub/internal/store"
	"github.com/excessus1/openweather-pub/internal/store/sqlite"
	"github.com/excessus1/openweather-pub/internal/timekey"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "observations.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return db
}

func TestMissingHourly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	stop := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	start := stop.Add(4 * time.Hour)
	w := timekey.Window{Stop: stop, Start: start}

	for _, off := range []time.Duration{time.Hour, 3 * time.Hour} {
		rec := store.Hourly{DT: stop.Add(off).Unix(), Temp: 1, Description: "x", LocationID: 1}
		if err := st.InsertHourly(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	d := Detector{Store: st, Granularity: timekey.Hourly, LocationID: 1}
	got, err := d.Missing(ctx, w)
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	want := []timekey.Key{
		timekey.FromTime(stop),
		timekey.FromTime(stop.Add(2 * time.Hour)),
		timekey.FromTime(stop.Add(4 * time.Hour)),
	}
	if len(got) != len(want) {
		t.Fatalf("missing = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("missing[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMissingDailyFullWindow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	stop := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	w := timekey.Window{Stop: stop, Start: stop.Add(48 * time.Hour)}

	d := Detector{Store: st, Granularity: timekey.Daily, LocationID: 1}
	got, err := d.Missing(ctx, w)
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	if len(got) != 3 || got[0] != timekey.FromTime(stop) {
		t.Fatalf("missing = %v", got)
	}
}

func TestMissingRejectsBackwardsWindow(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	w := timekey.Window{Stop: now, Start: now.Add(-time.Hour)}

	d := Detector{Store: st, Granularity: timekey.Hourly, LocationID: 1}
	if _, err := d.Missing(context.Background(), w); !errors.Is(err, timekey.ErrWindow) {
		t.Fatalf("expected window error, got %v", err)
	}
}

func TestMissingUnknownGranularity(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	w := timekey.Window{Stop: now.Add(-time.Hour), Start: now}

	d := Detector{Store: st, Granularity: "minutely", LocationID: 1}
	if _, err := d.Missing(context.Background(), w); err == nil {
		t.Fatalf("expected error for unknown granularity")
	}
}
