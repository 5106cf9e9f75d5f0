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
const DefaultConfigFile = "taskplanner.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("TASKPLANNER_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
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
	setString(&cfg.Server.Port, "TASKPLANNER_PORT")
	setString(&cfg.Server.CORSOrigin, "TASKPLANNER_CORS_ORIGIN")
	setDuration(&cfg.Server.ShutdownTimeout, "TASKPLANNER_SHUTDOWN_TIMEOUT")
	setString(&cfg.Server.APIKeyHash, "TASKPLANNER_API_KEY_HASH")

	setString(&cfg.Logging.Level, "TASKPLANNER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TASKPLANNER_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TASKPLANNER_LOG_ASYNC")

	setFloat64(&cfg.Rate.RequestsPerSecond, "TASKPLANNER_RATE_RPS")
	setInt(&cfg.Rate.Burst, "TASKPLANNER_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "TASKPLANNER_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "TASKPLANNER_RATE_MAX_IDLE_TIME")

	setInt(&cfg.Breaker.MaxFailures, "TASKPLANNER_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TASKPLANNER_BREAKER_TIMEOUT")

	setString(&cfg.Bindings.BaseURL, "TASKPLANNER_BINDINGS_BASE_URL")
	setString(&cfg.Bindings.Token, "TASKPLANNER_BINDINGS_TOKEN")
	setDuration(&cfg.Bindings.Timeout, "TASKPLANNER_BINDINGS_TIMEOUT")

	setInt(&cfg.Orchestrator.MaxParallel, "TASKPLANNER_ORCH_MAX_PARALLEL")
	setDuration(&cfg.Orchestrator.StepTimeout, "TASKPLANNER_ORCH_STEP_TIMEOUT")
	setInt(&cfg.Orchestrator.MaxSteps, "TASKPLANNER_ORCH_MAX_STEPS")
	setBool(&cfg.Orchestrator.AutoValidate, "TASKPLANNER_ORCH_AUTO_VALIDATE")
	setInt(&cfg.Orchestrator.StreamBuffer, "TASKPLANNER_ORCH_STREAM_BUFFER")
	setInt(&cfg.Orchestrator.SinkBuffer, "TASKPLANNER_ORCH_SINK_BUFFER")

	setInt64(&cfg.History.MaxSizeMB, "TASKPLANNER_HISTORY_SIZE_MB")
	setDuration(&cfg.History.TTL, "TASKPLANNER_HISTORY_TTL")
	setString(&cfg.History.Bucket, "TASKPLANNER_HISTORY_BUCKET")

	setInt64(&cfg.Idempotency.MaxSizeMB, "TASKPLANNER_IDEMPOTENCY_SIZE_MB")
	setDuration(&cfg.Idempotency.TTL, "TASKPLANNER_IDEMPOTENCY_TTL")
	setString(&cfg.Idempotency.Bucket, "TASKPLANNER_IDEMPOTENCY_BUCKET")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TASKPLANNER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TASKPLANNER_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TASKPLANNER_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TASKPLANNER_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TASKPLANNER_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "TASKPLANNER_NATS_STREAM")

	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "TASKPLANNER_OTEL_INSECURE")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setFloat64(&cfg.OTEL.SampleRate, "TASKPLANNER_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set and ranges are sane.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Bindings.BaseURL == "" {
		return errors.New("bindings.base_url is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Orchestrator.MaxParallel < 1 {
		return errors.New("orchestrator.max_parallel must be >= 1")
	}
	if cfg.Orchestrator.StreamBuffer < 1 {
		return errors.New("orchestrator.stream_buffer must be >= 1")
	}
	if cfg.Orchestrator.SinkBuffer < 1 {
		return errors.New("orchestrator.sink_buffer must be >= 1")
	}
	if cfg.Orchestrator.MaxSteps < 0 {
		return errors.New("orchestrator.max_steps must be >= 0")
	}
	if cfg.History.MaxSizeMB < 1 {
		return errors.New("history.max_size_mb must be >= 1")
	}
	if cfg.Idempotency.MaxSizeMB < 1 {
		return errors.New("idempotency.max_size_mb must be >= 1")
	}
	if cfg.Idempotency.TTL <= 0 {
		return errors.New("idempotency.ttl must be > 0")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be between 0 and 1")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
