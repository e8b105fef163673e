// Package config defines service configuration structures and loading hooks.
package config

import (
	"runtime"
	"time"
)

// Supported database drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DatabaseDriver selects the store: memory, postgres or sqlite.
	DatabaseDriver string `koanf:"database_driver"`
	DatabaseDSN    string `koanf:"database_dsn"`

	// WorkerCount sets the number of ingestion workers.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds the ingestion job queue.
	QueueSize int `koanf:"queue_size"`

	// StatsBaseURL is the external stats API. Empty disables ingestion.
	StatsBaseURL   string `koanf:"stats_base_url"`
	StatsTimeoutMS int    `koanf:"stats_timeout_ms"`

	// TeamNumber is the external team whose members' stats are read.
	TeamNumber int `koanf:"team_number"`

	// PricingBaseURL is the hardware performance API. Empty disables repricing.
	PricingBaseURL   string `koanf:"pricing_base_url"`
	PricingTimeoutMS int    `koanf:"pricing_timeout_ms"`

	SchedulerIntervalSeconds int `koanf:"scheduler_interval_seconds"`

	// IngestMinute is the minute of every hour from which ingestion runs.
	IngestMinute int `koanf:"ingest_minute"`

	// MonthEndHour is the hour of the last day of a month from which the
	// month end runs.
	MonthEndHour int `koanf:"month_end_hour"`

	MonthStartResetEnabled  bool `koanf:"month_start_reset_enabled"`
	MonthEndResultEnabled   bool `koanf:"month_end_result_enabled"`
	MonthEndResetEnabled    bool `koanf:"month_end_reset_enabled"`
	MonthEndHardwareEnabled bool `koanf:"month_end_hardware_enabled"`
	MonthEndChangesEnabled  bool `koanf:"month_end_changes_enabled"`
	IngestEnabled           bool `koanf:"ingest_enabled"`

	// ValidateWorkUnits rejects identities without completed work units.
	ValidateWorkUnits bool `koanf:"validate_work_units"`

	// TriggerDedupeSize bounds how many fired scheduler triggers are remembered.
	TriggerDedupeSize int `koanf:"trigger_dedupe_size"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:                 "info",
		LogFormat:                "text",
		Addr:                     ":9080",
		DatabaseDriver:           DriverMemory,
		WorkerCount:              runtime.NumCPU() * 2,
		QueueSize:                1024,
		StatsBaseURL:             "https://api.foldingathome.org",
		StatsTimeoutMS:           10_000,
		PricingTimeoutMS:         30_000,
		SchedulerIntervalSeconds: 60,
		IngestMinute:             55,
		MonthEndHour:             23,
		MonthStartResetEnabled:   true,
		MonthEndResultEnabled:    true,
		MonthEndResetEnabled:     true,
		MonthEndHardwareEnabled:  true,
		MonthEndChangesEnabled:   true,
		IngestEnabled:            true,
		ValidateWorkUnits:        true,
		TriggerDedupeSize:        1024,
	}
}

// StatsTimeout returns the per-retrieval stats timeout.
func (c *Config) StatsTimeout() time.Duration {
	return time.Duration(c.StatsTimeoutMS) * time.Millisecond
}

// PricingTimeout returns the pricing retrieval timeout.
func (c *Config) PricingTimeout() time.Duration {
	return time.Duration(c.PricingTimeoutMS) * time.Millisecond
}

// SchedulerInterval returns how often the scheduler checks the calendar.
func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalSeconds) * time.Second
}
