package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	openweather "github.com/excessus1/openweather-pub"
	"github.com/excessus1/openweather-pub/pkg/client"
)

type command struct {
	flags *GlobalFlags
}

// statusDetail is the combined view printed for one call type.
type statusDetail struct {
	Tracking any `json:"tracking"`
	Calls    any `json:"recent_calls"`
	Outcomes any `json:"recent_outcomes"`
}

// load reads the configuration and builds the process logger. The caller
// owns the returned closer.
func (c command) load() (*openweather.Config, *slog.Logger, io.Closer, error) {
	if c.flags.ConfigPath == "" {
		return nil, nil, nil, fmt.Errorf("config file required; use --config=owfill.toml")
	}
	cfg, err := openweather.LoadConfig(c.flags.ConfigPath)
	if err != nil {
		return nil, nil, nil, err
	}
	log, closer, err := openweather.NewLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, closer, nil
}

// InitDB creates the schemas and seeds the default call templates.
func (c command) InitDB() error {
	cfg, log, closer, err := c.load()
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	filler, err := openweather.Open(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = filler.Close() }()

	if err := filler.InitSchema(context.Background()); err != nil {
		return err
	}
	fmt.Printf("Initialized stores and seeded %d call templates\n", len(openweather.CallTypes()))
	return nil
}

// Run executes one fill, or consumes an operator-supplied batch file.
func (c command) Run(f RunFlags) error {
	call, ok := openweather.CallTypeByName(f.CallType)
	if !ok {
		return fmt.Errorf("unknown call type %q (expected %s or %s)",
			f.CallType, openweather.Timemachine.Name, openweather.DaySummary.Name)
	}

	cfg, log, closer, err := c.load()
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	filler, err := openweather.Open(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = filler.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var res openweather.RunResult
	if f.BatchFile != "" {
		res, err = filler.RunBatch(ctx, call, f.BatchFile)
	} else {
		res, err = filler.Run(ctx, call)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s run finished: %d attempted, %d stored, %d failed requests, %d failed inserts\n",
		call.Name, res.Attempted, res.Stored, res.FailedRequests, res.FailedInserts)
	return nil
}

// Serve runs scheduled fills until interrupted, with the optional dashboard
// API and metrics endpoint from the configuration.
func (c command) Serve(args []string) error {
	if len(args) > 0 {
		c.flags.ConfigPath = args[0]
	}

	cfg, log, closer, err := c.load()
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	filler, err := openweather.Open(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = filler.Close() }()

	if cfg.Metrics.Enabled {
		if err := openweather.RegisterMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register metrics: %v\n", err)
		}
		go func() {
			if err := openweather.ServeMetrics(cfg.Metrics.Listen); err != nil {
				fmt.Printf("Metrics server error: %v\n", err)
			}
		}()
	}

	sched := openweather.NewScheduler(filler)
	for _, call := range openweather.CallTypes() {
		spec, err := cfg.CronSpec(call.Name)
		if err != nil {
			return err
		}
		if err := sched.Add(call, spec); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)
	fmt.Printf("Started fill scheduler: %s %q, %s %q\n",
		openweather.Timemachine.Name, cfg.Schedule.Timemachine,
		openweather.DaySummary.Name, cfg.Schedule.DailySummary)

	var server *http.Server
	if cfg.Server.Enabled {
		server = openweather.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, filler)
		fmt.Printf("Starting dashboard API on %s%s\n", cfg.Server.Listen, cfg.Server.BasePath)
	}

	<-ctx.Done()

	fmt.Println("Shutting down...")
	sched.Stop()
	if server != nil {
		return server.Close()
	}
	return nil
}

// Status prints tracking state, reading the audit store directly or a
// running daemon when --server is given.
func (c command) Status(f StatusFlags) error {
	if f.ServerURL != "" {
		return c.statusViaAPI(f)
	}
	return c.statusLocally(f)
}

// statusViaAPI reads state through the dashboard API of a running daemon.
func (c command) statusViaAPI(f StatusFlags) error {
	ctx := context.Background()
	api := client.New(client.Config{BaseURL: f.ServerURL, Timeout: f.APITimeout})
	if !api.IsReachable(ctx) {
		return fmt.Errorf("daemon not reachable at %s - start it with 'owfill serve'", f.ServerURL)
	}

	if f.CallType == "" {
		overview, err := api.Overview(ctx)
		if err != nil {
			return err
		}
		printJSON(overview)
		return nil
	}

	tracking, err := api.CallTypeStatus(ctx, f.CallType)
	if err != nil {
		return err
	}
	calls, err := api.RecentCalls(ctx, f.CallType, f.Limit)
	if err != nil {
		return err
	}
	outcomes, err := api.RecentOutcomes(ctx, f.CallType, f.Limit)
	if err != nil {
		return err
	}
	printJSON(statusDetail{Tracking: tracking, Calls: calls, Outcomes: outcomes})
	return nil
}

// statusLocally reads the audit store named by the configuration.
func (c command) statusLocally(f StatusFlags) error {
	cfg, log, closer, err := c.load()
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	filler, err := openweather.Open(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = filler.Close() }()

	ctx := context.Background()
	if f.CallType == "" {
		rows, err := filler.Status(ctx)
		if err != nil {
			return err
		}
		printJSON(rows)
		return nil
	}

	call, ok := openweather.CallTypeByName(f.CallType)
	if !ok {
		return fmt.Errorf("unknown call type %q (expected %s or %s)",
			f.CallType, openweather.Timemachine.Name, openweather.DaySummary.Name)
	}
	tracking, err := filler.CallStatus(ctx, call)
	if errors.Is(err, openweather.ErrNotFound) {
		fmt.Printf("no runs recorded for %s\n", call.Name)
		return nil
	}
	if err != nil {
		return err
	}
	calls, err := filler.RecentCalls(ctx, call, f.Limit)
	if err != nil {
		return err
	}
	outcomes, err := filler.RecentOutcomes(ctx, call, f.Limit)
	if err != nil {
		return err
	}
	printJSON(statusDetail{Tracking: tracking, Calls: calls, Outcomes: outcomes})
	return nil
}
