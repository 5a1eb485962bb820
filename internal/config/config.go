package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Error marks a configuration problem. A run that hits one must stop
// before any remote call is made, and the process exits non-zero.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Reason, e.Err)
	}
	return "config: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a configuration error from a format string.
func Errorf(format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// Call type identifiers shared by tracking rows, audit tables and batch
// directories. The hourly pipeline is "timemachine", the daily one
// "day_summary".
const (
	CallTimemachine = "timemachine"
	CallDaySummary  = "day_summary"
)

// Location is the observation point requests are built for. Coordinates
// are rounded to four decimals on load.
type Location struct {
	ID        int64   `mapstructure:"id"`
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
}

// CallConfig carries the per-call-type quota and batch settings.
type CallConfig struct {
	DailyLimit int    `mapstructure:"limit_per_day"`
	BatchLimit int    `mapstructure:"batch_limit"`
	BatchDir   string `mapstructure:"batch_dir"`
}

// History holds the fill windows per call type as raw strings; "recent"
// resolves at run time to yesterday 23:00 UTC.
type History struct {
	TimemachineStart  string `mapstructure:"timemachine_start"`
	TimemachineStop   string `mapstructure:"timemachine_stop"`
	DailySummaryStart string `mapstructure:"daily_summary_start"`
	DailySummaryStop  string `mapstructure:"daily_summary_stop"`
}

// Database points at the two stores: audit (call log, outcomes, tracking)
// and weather (the ingested observations). DSNs select the backend by
// scheme; a bare path means sqlite.
type Database struct {
	AuditDSN   string `mapstructure:"audit_dsn"`
	WeatherDSN string `mapstructure:"weather_dsn"`
}

// API groups the remote-call settings. ${VAR} references in the key are
// expanded from the environment on load.
type API struct {
	Key            string        `mapstructure:"key"`
	Units          string        `mapstructure:"units"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

// Log configures the rotating event log plus the console mirror.
type Log struct {
	Dir        string `mapstructure:"dir"`
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Server configures the read-only dashboard API.
type Server struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

// Metrics configures the optional Prometheus endpoint.
type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Schedule holds the cron expressions the serve daemon uses for continuous
// catch-up fills.
type Schedule struct {
	Timemachine  string `mapstructure:"timemachine"`
	DailySummary string `mapstructure:"day_summary"`
}

// ClickHouse configures the optional analytic mirror for call audit rows.
// Empty Addr disables it.
type ClickHouse struct {
	Addr     string `mapstructure:"addr"`
	Database string `mapstructure:"database"`
	Table    string `mapstructure:"table"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Config is the immutable process configuration. Load builds it once at
// startup; components receive it by reference and must not mutate it.
type Config struct {
	Script   string `mapstructure:"script"`
	Platform string `mapstructure:"platform"`

	Location     Location   `mapstructure:"location"`
	Timemachine  CallConfig `mapstructure:"timemachine"`
	DailySummary CallConfig `mapstructure:"day_summary"`
	History      History    `mapstructure:"history"`
	Database     Database   `mapstructure:"database"`
	API          API        `mapstructure:"api"`
	Log          Log        `mapstructure:"log"`
	Server       Server     `mapstructure:"server"`
	Metrics      Metrics    `mapstructure:"metrics"`
	Schedule     Schedule   `mapstructure:"schedule"`
	ClickHouse   ClickHouse `mapstructure:"clickhouse"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("script", "owfill")
	v.SetDefault("platform", "OpenWeather")

	v.SetDefault("location.id", 1)
	v.SetDefault("location.latitude", 33.689060)
	v.SetDefault("location.longitude", -78.886696)

	v.SetDefault("timemachine.limit_per_day", 10)
	v.SetDefault("timemachine.batch_limit", 1)
	v.SetDefault("timemachine.batch_dir", "data/batch_files/timemachine")

	v.SetDefault("day_summary.limit_per_day", 10)
	v.SetDefault("day_summary.batch_limit", 1)
	v.SetDefault("day_summary.batch_dir", "data/batch_files/day_summary")

	v.SetDefault("history.timemachine_start", "2023-02-01 00:00:00")
	v.SetDefault("history.timemachine_stop", "2023-01-01 00:00:00")
	v.SetDefault("history.daily_summary_start", "2023-01-01 00:00:00")
	v.SetDefault("history.daily_summary_stop", "2022-01-01 00:00:00")

	v.SetDefault("api.units", "metric")
	v.SetDefault("api.request_timeout", "15s")
	v.SetDefault("api.max_attempts", 3)

	v.SetDefault("log.dir", "data/logs")
	v.SetDefault("log.level", "info")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.base_path", "/api")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")

	v.SetDefault("schedule.timemachine", "5 * * * *")
	v.SetDefault("schedule.day_summary", "30 2 * * *")

	v.SetDefault("clickhouse.database", "default")
	v.SetDefault("clickhouse.table", "api_call_events")
	v.SetDefault("clickhouse.username", "default")
}

// Load reads a TOML config file and returns the resolved configuration.
// An empty path yields the built-in defaults so read-only commands can run
// without a file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, &Error{Reason: "read " + path, Err: err}
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, &Error{Reason: "decode " + path, Err: err}
	}

	// Secrets and DSNs may reference environment variables.
	c.API.Key = os.ExpandEnv(c.API.Key)
	c.Database.AuditDSN = os.ExpandEnv(c.Database.AuditDSN)
	c.Database.WeatherDSN = os.ExpandEnv(c.Database.WeatherDSN)
	c.ClickHouse.Addr = os.ExpandEnv(c.ClickHouse.Addr)
	c.ClickHouse.Password = os.ExpandEnv(c.ClickHouse.Password)

	c.Location.Latitude = round4(c.Location.Latitude)
	c.Location.Longitude = round4(c.Location.Longitude)

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.Script == "" {
		return Errorf("script must not be empty")
	}
	if c.Platform == "" {
		return Errorf("platform must not be empty")
	}
	if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
		return Errorf("location.latitude %v out of range [-90, 90]", c.Location.Latitude)
	}
	if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
		return Errorf("location.longitude %v out of range [-180, 180]", c.Location.Longitude)
	}
	for name, cc := range map[string]CallConfig{
		CallTimemachine: c.Timemachine,
		CallDaySummary:  c.DailySummary,
	} {
		if cc.DailyLimit <= 0 {
			return Errorf("%s.limit_per_day must be positive, got %d", name, cc.DailyLimit)
		}
		if cc.BatchLimit <= 0 {
			return Errorf("%s.batch_limit must be positive, got %d", name, cc.BatchLimit)
		}
		if cc.BatchDir == "" {
			return Errorf("%s.batch_dir must not be empty", name)
		}
	}
	if c.API.MaxAttempts <= 0 {
		return Errorf("api.max_attempts must be positive, got %d", c.API.MaxAttempts)
	}
	if c.API.RequestTimeout < 0 {
		return Errorf("api.request_timeout must not be negative")
	}
	return nil
}

// Call returns the per-call-type settings, or a configuration error for an
// unknown call type.
func (c *Config) Call(callType string) (CallConfig, error) {
	switch callType {
	case CallTimemachine:
		return c.Timemachine, nil
	case CallDaySummary:
		return c.DailySummary, nil
	default:
		return CallConfig{}, Errorf("unknown call type %q", callType)
	}
}

// Window returns the raw history start/stop strings for a call type.
func (c *Config) Window(callType string) (start, stop string, err error) {
	switch callType {
	case CallTimemachine:
		return c.History.TimemachineStart, c.History.TimemachineStop, nil
	case CallDaySummary:
		return c.History.DailySummaryStart, c.History.DailySummaryStop, nil
	default:
		return "", "", Errorf("unknown call type %q", callType)
	}
}

// CronSpec returns the serve-daemon schedule for a call type.
func (c *Config) CronSpec(callType string) (string, error) {
	switch callType {
	case CallTimemachine:
		return c.Schedule.Timemachine, nil
	case CallDaySummary:
		return c.Schedule.DailySummary, nil
	default:
		return "", Errorf("unknown call type %q", callType)
	}
}

func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
