// Package template generates starter TOML configuration for the fill
// pipeline. The CLI's template command writes these so a new deployment
// starts from a config the loader is guaranteed to accept.
package template

import (
	"fmt"

	toml "github.com/pelletier/go-toml/v2"
)

// Profile selects how much of the configuration surface to generate.
type Profile string

const (
	ProfileMinimal    Profile = "minimal"
	ProfileBasic      Profile = "basic"
	ProfileDaemon     Profile = "daemon"
	ProfileServe      Profile = "serve"
	ProfileMirror     Profile = "mirror"
	ProfileClickHouse Profile = "clickhouse"
)

// ConfigTemplate is the generated configuration. Keys mirror what the
// loader reads, so a generated file round-trips through config.Load.
// Optional sections are pointers and are omitted when the profile does
// not include them.
type ConfigTemplate struct {
	Script   string `toml:"script"`
	Platform string `toml:"platform"`

	Location    Location    `toml:"location"`
	Timemachine CallConfig  `toml:"timemachine"`
	DaySummary  CallConfig  `toml:"day_summary"`
	History     History     `toml:"history"`
	Database    Database    `toml:"database"`
	API         API         `toml:"api"`
	Log         *Log        `toml:"log,omitempty"`
	Server      *Server     `toml:"server,omitempty"`
	Metrics     *Metrics    `toml:"metrics,omitempty"`
	Schedule    *Schedule   `toml:"schedule,omitempty"`
	ClickHouse  *ClickHouse `toml:"clickhouse,omitempty"`
}

// Location identifies the coordinate the pipeline fills.
type Location struct {
	ID        int64   `toml:"id"`
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
}

// CallConfig holds the per-call-type budget and batch settings.
type CallConfig struct {
	DailyLimit int    `toml:"limit_per_day"`
	BatchLimit int    `toml:"batch_limit"`
	BatchDir   string `toml:"batch_dir"`
}

// History bounds the backfill windows, newest first.
type History struct {
	TimemachineStart  string `toml:"timemachine_start"`
	TimemachineStop   string `toml:"timemachine_stop"`
	DailySummaryStart string `toml:"daily_summary_start"`
	DailySummaryStop  string `toml:"daily_summary_stop"`
}

// Database names the audit and weather store DSNs.
type Database struct {
	AuditDSN   string `toml:"audit_dsn"`
	WeatherDSN string `toml:"weather_dsn"`
}

// API holds remote call settings.
type API struct {
	Key            string `toml:"key"`
	Units          string `toml:"units"`
	RequestTimeout string `toml:"request_timeout"`
	MaxAttempts    int    `toml:"max_attempts"`
}

// Log configures the rotating run log.
type Log struct {
	Dir   string `toml:"dir"`
	File  string `toml:"file"`
	Level string `toml:"level"`
}

// Server configures the dashboard read API.
type Server struct {
	Enabled  bool   `toml:"enabled"`
	Listen   string `toml:"listen"`
	BasePath string `toml:"base_path"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Schedule holds the catch-up cron specs.
type Schedule struct {
	Timemachine string `toml:"timemachine"`
	DaySummary  string `toml:"day_summary"`
}

// ClickHouse configures the audit mirror.
type ClickHouse struct {
	Addr     string `toml:"addr"`
	Database string `toml:"database"`
	Table    string `toml:"table"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Generator provides config template generation.
type Generator struct{}

// NewGenerator creates a new config template generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate builds a config template for the profile. The script name keys
// the tracking rows; callers usually pass the binary name.
func (g *Generator) Generate(profile Profile, script string) (*ConfigTemplate, error) {
	switch profile {
	case ProfileMinimal, ProfileBasic:
		return g.generateMinimal(script), nil
	case ProfileDaemon, ProfileServe:
		return g.generateDaemon(script), nil
	case ProfileMirror, ProfileClickHouse:
		return g.generateMirror(script), nil
	default:
		return nil, fmt.Errorf("unknown profile: %s (supported: minimal, daemon, mirror)", profile)
	}
}

// GenerateTOML renders the template as a TOML document.
func (g *Generator) GenerateTOML(profile Profile, script string) ([]byte, error) {
	template, err := g.Generate(profile, script)
	if err != nil {
		return nil, err
	}

	data, err := toml.Marshal(template)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return data, nil
}

// SupportedProfiles returns the primary profile names.
func (g *Generator) SupportedProfiles() []string {
	return []string{
		string(ProfileMinimal),
		string(ProfileDaemon),
		string(ProfileMirror),
	}
}

// generateMinimal covers a one-shot fill: stores, location, budgets, and
// the API credential. Logging, dashboard, metrics, and scheduling keep
// their loader defaults.
func (g *Generator) generateMinimal(script string) *ConfigTemplate {
	return &ConfigTemplate{
		Script:   script,
		Platform: "OpenWeather",
		Location: Location{
			ID:        1,
			Latitude:  33.689060,
			Longitude: -78.886696,
		},
		Timemachine: CallConfig{
			DailyLimit: 950,
			BatchLimit: 24,
			BatchDir:   "data/batch_files/timemachine",
		},
		DaySummary: CallConfig{
			DailyLimit: 45,
			BatchLimit: 7,
			BatchDir:   "data/batch_files/day_summary",
		},
		History: History{
			TimemachineStart:  "2024-01-01 00:00:00",
			TimemachineStop:   "2023-01-01 00:00:00",
			DailySummaryStart: "2024-01-01 00:00:00",
			DailySummaryStop:  "2022-01-01 00:00:00",
		},
		Database: Database{
			AuditDSN:   "data/audit.db",
			WeatherDSN: "data/weather.db",
		},
		API: API{
			Key:            "${OPENWEATHER_API_KEY}",
			Units:          "metric",
			RequestTimeout: "15s",
			MaxAttempts:    3,
		},
	}
}

// generateDaemon extends minimal with everything serve uses: file
// logging, the dashboard API, metrics, and the catch-up schedules.
func (g *Generator) generateDaemon(script string) *ConfigTemplate {
	template := g.generateMinimal(script)
	template.Log = &Log{
		Dir:   "data/logs",
		File:  script + ".log",
		Level: "info",
	}
	template.Server = &Server{
		Enabled:  true,
		Listen:   ":8080",
		BasePath: "/api",
	}
	template.Metrics = &Metrics{
		Enabled: true,
		Listen:  ":9090",
	}
	template.Schedule = &Schedule{
		Timemachine: "5 * * * *",
		DaySummary:  "30 2 * * *",
	}
	return template
}

// generateMirror extends daemon with the ClickHouse audit mirror.
func (g *Generator) generateMirror(script string) *ConfigTemplate {
	template := g.generateDaemon(script)
	template.ClickHouse = &ClickHouse{
		Addr:     "localhost:9000",
		Database: "default",
		Table:    "api_call_events",
		Username: "default",
		Password: "${CLICKHOUSE_PASSWORD}",
	}
	return template
}
