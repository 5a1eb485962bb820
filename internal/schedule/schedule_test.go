package schedule

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/excessus1/openweather-pub/internal/weather"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestAddRejectsBadSpec(t *testing.T) {
	s := New(discard(), func(context.Context, weather.CallType) error { return nil })
	if err := s.Add(weather.Timemachine, "not a cron spec"); err == nil {
		t.Fatalf("expected error for invalid spec")
	}
}

func TestTickSkipsWhileRunning(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var runs atomic.Int32

	s := New(discard(), func(context.Context, weather.CallType) error {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return nil
	})
	s.ctx = context.Background()
	e := &entry{call: weather.Timemachine}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.tick(e)
	}()
	<-started

	// Second tick overlaps the first and must be dropped.
	s.tick(e)
	if got := runs.Load(); got != 1 {
		t.Fatalf("overlapping tick ran: runs = %d", got)
	}

	close(release)
	wg.Wait()

	// After the first run finishes the entry accepts ticks again.
	s.tick(e)
	if got := runs.Load(); got != 2 {
		t.Fatalf("runs = %d, want 2", got)
	}
	<-started
}

func TestStartDispatchesAndStopWaits(t *testing.T) {
	var runs atomic.Int32
	s := New(discard(), func(ctx context.Context, call weather.CallType) error {
		runs.Add(1)
		return nil
	})
	if err := s.Add(weather.Timemachine, "@every 10ms"); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.Start(context.Background())
	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("no tick dispatched within deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}
	s.Stop()

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != after {
		t.Fatalf("ticks dispatched after Stop")
	}
}
