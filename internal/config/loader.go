package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "magnus-sync.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "MAGNUS_SYNC_PORT")
	setString(&cfg.Server.CORSOrigin, "MAGNUS_SYNC_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "MAGNUS_SYNC_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "MAGNUS_SYNC_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "MAGNUS_SYNC_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "MAGNUS_SYNC_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "MAGNUS_SYNC_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setDuration(&cfg.Sync.Interval, "MAGNUS_SYNC_INTERVAL")
	setDuration(&cfg.Sync.PassTimeout, "MAGNUS_SYNC_PASS_TIMEOUT")
	setDuration(&cfg.Sync.CallTimeout, "MAGNUS_SYNC_CALL_TIMEOUT")
	setString(&cfg.Sync.DefaultResolution, "MAGNUS_SYNC_DEFAULT_RESOLUTION")
	setInt(&cfg.Sync.RecentLogLimit, "MAGNUS_SYNC_RECENT_LOG_LIMIT")
	setString(&cfg.Logging.Level, "MAGNUS_SYNC_LOG_LEVEL")
	setString(&cfg.Logging.Service, "MAGNUS_SYNC_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "MAGNUS_SYNC_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "MAGNUS_SYNC_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "MAGNUS_SYNC_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxBytes, "MAGNUS_SYNC_CACHE_MAX_BYTES")
	setDuration(&cfg.Cache.StatusTTL, "MAGNUS_SYNC_CACHE_STATUS_TTL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Sync.Interval < time.Second {
		return errors.New("sync.interval must be >= 1s")
	}
	if cfg.Sync.CallTimeout < time.Second {
		return errors.New("sync.call_timeout must be >= 1s")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	switch cfg.Sync.DefaultResolution {
	case "external_wins", "local_wins", "newest_wins", "manual":
	default:
		return fmt.Errorf("sync.default_resolution %q is not a known strategy", cfg.Sync.DefaultResolution)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
