package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix      = "TEAMCOMP_"
	envConfigFile  = envPrefix + "CONFIG"
	envDotenvFile  = envPrefix + "ENV_FILE"
	defaultEnvFile = ".env"
)

// Load builds a Config by layering defaults, a dotenv file, a YAML file and
// env vars. Order of precedence (low -> high):
//  1. defaults (New())
//  2. dotenv file from TEAMCOMP_ENV_FILE, or ./.env when present; it only
//     fills variables the process does not already have
//  3. YAML file if TEAMCOMP_CONFIG is set
//  4. env (prefix TEAMCOMP_)
func Load(_ context.Context) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if path := os.Getenv(envConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: file %s: %w", ErrLoadConfig, path, err)
		}
	}

	// TEAMCOMP_QUEUE_SIZE -> queue_size; underscores match the koanf tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotenv() error {
	path, explicit := os.LookupEnv(envDotenvFile)
	if !explicit || path == "" {
		path = defaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: env file %s: %w", ErrLoadConfig, path, err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.StatsTimeoutMS < 1 || c.PricingTimeoutMS < 1:
		return fmt.Errorf("%w: retrieval timeouts must be positive", ErrInvalidConfig)
	case c.SchedulerIntervalSeconds < 1:
		return fmt.Errorf("%w: scheduler_interval_seconds must be positive", ErrInvalidConfig)
	case c.IngestMinute < 0 || c.IngestMinute > 59:
		return fmt.Errorf("%w: ingest_minute must be within 0-59", ErrInvalidConfig)
	case c.MonthEndHour < 0 || c.MonthEndHour > 23:
		return fmt.Errorf("%w: month_end_hour must be within 0-23", ErrInvalidConfig)
	case c.TriggerDedupeSize < 1:
		return fmt.Errorf("%w: trigger_dedupe_size must be positive", ErrInvalidConfig)
	}

	switch c.DatabaseDriver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("%w: database_dsn is required for %s", ErrInvalidConfig, c.DatabaseDriver)
		}
	default:
		return fmt.Errorf("%w: unknown database_driver %q", ErrInvalidConfig, c.DatabaseDriver)
	}
	return nil
}
