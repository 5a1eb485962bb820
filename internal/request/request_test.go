package request

import (
	"errors"
	"strings"
	"testing"

	"github.com/excessus1/openweather-pub/internal/timekey"
	"github.com/excessus1/openweather-pub/internal/weather"
)

func TestBuildHourly(t *testing.T) {
	b, err := New(weather.Timemachine, weather.Timemachine.DefaultTemplate,
		33.6891, -78.8867, "k-net-123", "metric")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := b.Build(timekey.Key(1704070800))
	want := "https://api.openweathermap.org/data/3.0/onecall/timemachine" +
		"?lat=33.6891&lon=-78.8867&dt=1704070800&appid=k-net-123&units=metric"
	if got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}
}

func TestBuildDaily(t *testing.T) {
	b, err := New(weather.DaySummary, weather.DaySummary.DefaultTemplate,
		33.6891, -78.8867, "k-net-123", "metric")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	k, _ := timekey.ParseDate("2023-06-01")
	got := b.Build(k)
	want := "https://api.openweathermap.org/data/3.0/onecall/day_summary" +
		"?lat=33.6891&lon=-78.8867&date=2023-06-01&appid=k-net-123&units=metric"
	if got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}
}

func TestBuildWithoutQueryString(t *testing.T) {
	b, err := New(weather.Timemachine,
		"https://example.test/tm/{lat}/{lon}/{time}/{API_key}", 1, 2, "k", "metric")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := b.Build(timekey.Key(100))
	if got != "https://example.test/tm/1/2/100/k?units=metric" {
		t.Fatalf("url = %q", got)
	}
}

func TestBuildNoUnits(t *testing.T) {
	b, err := New(weather.Timemachine, weather.Timemachine.DefaultTemplate, 1, 2, "k", "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := b.Build(timekey.Key(100)); strings.Contains(got, "units=") {
		t.Fatalf("unexpected units param: %q", got)
	}
}

func TestNewRejectsIncompatibleTemplates(t *testing.T) {
	cases := []struct {
		name     string
		call     weather.CallType
		template string
	}{
		{"hourly missing time", weather.Timemachine,
			"https://example.test/tm?lat={lat}&lon={lon}&appid={API_key}"},
		{"daily missing date", weather.DaySummary,
			"https://example.test/ds?lat={lat}&lon={lon}&appid={API_key}"},
		{"missing credential", weather.Timemachine,
			"https://example.test/tm?lat={lat}&lon={lon}&dt={time}"},
		{"unknown placeholder", weather.Timemachine,
			"https://example.test/tm?lat={lat}&lon={lon}&dt={time}&appid={API_key}&mode={mode}"},
		{"daily template on hourly type", weather.Timemachine,
			weather.DaySummary.DefaultTemplate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.call, tc.template, 1, 2, "k", "metric"); !errors.Is(err, ErrTemplate) {
				t.Fatalf("expected ErrTemplate, got %v", err)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	b, err := New(weather.Timemachine, weather.Timemachine.DefaultTemplate, 1, 2, "sekret", "metric")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	u := b.Build(timekey.Key(100))
	red := b.Redact(u)
	if strings.Contains(red, "sekret") {
		t.Fatalf("credential leaked: %q", red)
	}
	if !strings.Contains(red, "appid=REDACTED") {
		t.Fatalf("expected masked credential: %q", red)
	}

	empty := Builder{}
	if got := empty.Redact("https://example.test?appid="); got != "https://example.test?appid=" {
		t.Fatalf("empty-key redact changed url: %q", got)
	}
}
