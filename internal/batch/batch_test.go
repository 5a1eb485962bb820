package batch

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/excessus1/openweather-pub/internal/timekey"
)

func hourlyKeys(n int) []timekey.Key {
	base := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	keys := make([]timekey.Key, n)
	for i := range keys {
		keys[i] = timekey.FromTime(base.Add(time.Duration(i) * time.Hour))
	}
	return keys
}

func TestCreateReversesAndTruncates(t *testing.T) {
	dir := t.TempDir()
	m := Materializer{Dir: dir, Granularity: timekey.Hourly, Limit: 3}

	keys := hourlyKeys(5)
	path, err := m.Create(keys)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	name := filepath.Base(path)
	if !strings.HasPrefix(name, "batch_") || !strings.HasSuffix(name, ".json") {
		t.Fatalf("unexpected file name %q", name)
	}

	got, err := m.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []timekey.Key{keys[4], keys[3], keys[2]}
	if len(got) != len(want) {
		t.Fatalf("batch = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("batch[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCreateKeepsShortLists(t *testing.T) {
	m := Materializer{Dir: t.TempDir(), Granularity: timekey.Hourly, Limit: 10}
	keys := hourlyKeys(2)
	path, err := m.Create(keys)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := m.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0] != keys[1] || got[1] != keys[0] {
		t.Fatalf("batch = %v", got)
	}
}

func TestCreateNoWork(t *testing.T) {
	dir := t.TempDir()
	m := Materializer{Dir: dir, Granularity: timekey.Hourly, Limit: 3}
	if _, err := m.Create(nil); !errors.Is(err, ErrNoWork) {
		t.Fatalf("expected ErrNoWork, got %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files, found %d", len(entries))
	}
}

func TestCreateCollisionSuffix(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := Materializer{
		Dir: t.TempDir(), Granularity: timekey.Hourly, Limit: 3,
		Now: func() time.Time { return fixed },
	}
	first, err := m.Create(hourlyKeys(1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := m.Create(hourlyKeys(1))
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct paths, both %q", first)
	}
	if filepath.Base(first) != "batch_20240501_120000.json" {
		t.Fatalf("first = %q", first)
	}
	if filepath.Base(second) != "batch_20240501_120000_2.json" {
		t.Fatalf("second = %q", second)
	}
}

func TestDailyFileFormat(t *testing.T) {
	m := Materializer{Dir: t.TempDir(), Granularity: timekey.Daily, Limit: 2}

	d1, _ := timekey.ParseDate("2023-06-01")
	d2, _ := timekey.ParseDate("2023-06-02")
	d3, _ := timekey.ParseDate("2023-06-03")
	path, err := m.Create([]timekey.Key{d1, d2, d3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var dates []string
	if err := json.Unmarshal(raw, &dates); err != nil {
		t.Fatalf("daily batch is not a string array: %v", err)
	}
	if len(dates) != 2 || dates[0] != "2023-06-03" || dates[1] != "2023-06-02" {
		t.Fatalf("dates = %v", dates)
	}

	keys, err := m.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(keys) != 2 || keys[0] != d3 || keys[1] != d2 {
		t.Fatalf("keys = %v", keys)
	}
}

func TestLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		t.Helper()
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
		return p
	}

	hourly := Materializer{Dir: dir, Granularity: timekey.Hourly}
	daily := Materializer{Dir: dir, Granularity: timekey.Daily}

	cases := []struct {
		name string
		m    Materializer
		path string
	}{
		{"not an array", hourly, write("a.json", `{"dt": 1}`)},
		{"string in hourly", hourly, write("b.json", `[1700000000, "x"]`)},
		{"number in daily", daily, write("c.json", `[20230601]`)},
		{"bad date in daily", daily, write("d.json", `["2023-06-01", "junk"]`)},
		{"truncated json", hourly, write("e.json", `[17000`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.m.Load(tc.path); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}

	if _, err := hourly.Load(filepath.Join(dir, "absent.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestArchive(t *testing.T) {
	m := Materializer{Dir: t.TempDir(), Granularity: timekey.Hourly, Limit: 1}
	path, err := m.Create(hourlyKeys(1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Archive(path); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("original still present: %v", err)
	}
	if _, err := os.Stat(path + ".done"); err != nil {
		t.Fatalf("archived file missing: %v", err)
	}
}
