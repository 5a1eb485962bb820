package timekey

import (
	"errors"
	"testing"
	"time"
)

func TestWindowValidate(t *testing.T) {
	stop := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		start time.Time
		ok    bool
	}{
		{"start after stop", stop.Add(time.Hour), true},
		{"start equals stop", stop, false},
		{"start before stop", stop.Add(-time.Hour), false},
	}
	for _, tc := range cases {
		w := Window{Stop: stop, Start: tc.start}
		err := w.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
			if !errors.Is(err, ErrWindow) {
				t.Fatalf("%s: expected ErrWindow, got %v", tc.name, err)
			}
		}
	}
}

func TestSequenceHourly(t *testing.T) {
	stop := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	w := Window{Stop: stop, Start: stop.Add(3 * time.Hour)}
	keys := w.Sequence(Hourly)
	if len(keys) != 4 {
		t.Fatalf("expected 4 keys, got %d", len(keys))
	}
	for i, k := range keys {
		want := FromTime(stop.Add(time.Duration(i) * time.Hour))
		if k != want {
			t.Fatalf("key %d: got %v want %v", i, k, want)
		}
	}
}

func TestSequenceDailyAlignment(t *testing.T) {
	// Start is not day-aligned; the sequence still steps from Stop and the
	// last key must not pass Start.
	stop := time.Date(2023, 5, 29, 0, 0, 0, 0, time.UTC)
	start := time.Date(2023, 5, 31, 23, 0, 0, 0, time.UTC)
	keys := Window{Stop: stop, Start: start}.Sequence(Daily)
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	if keys[2].Date() != "2023-05-31" {
		t.Fatalf("last key: got %s want 2023-05-31", keys[2].Date())
	}
}

func TestSequenceAscendingUnique(t *testing.T) {
	stop := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	keys := Window{Stop: stop, Start: stop.Add(48 * time.Hour)}.Sequence(Hourly)
	for i := 1; i < len(keys); i++ {
		if keys[i] <= keys[i-1] {
			t.Fatalf("sequence not strictly ascending at %d: %v <= %v", i, keys[i], keys[i-1])
		}
	}
}

func TestResolveStartRecent(t *testing.T) {
	now := time.Date(2023, 6, 15, 9, 30, 0, 0, time.UTC)
	got, err := ResolveStart(RecentStart, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2023, 6, 14, 23, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestResolveStartExplicit(t *testing.T) {
	got, err := ResolveStart("2023-02-01 00:00:00", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if _, err := ResolveStart("01/02/2023", time.Now()); err == nil {
		t.Fatalf("expected parse error for bad layout")
	}
}

func TestParseDateRoundTrip(t *testing.T) {
	k, err := ParseDate("2023-06-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.Date() != "2023-06-01" {
		t.Fatalf("round trip: got %s", k.Date())
	}
	if _, err := ParseDate("2023-13-40"); err == nil {
		t.Fatalf("expected error for impossible date")
	}
}
