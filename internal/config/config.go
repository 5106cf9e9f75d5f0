// Package config provides hierarchical configuration loading for taskplanner.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the taskplanner service.
type Config struct {
	Server       Server       `yaml:"server"`
	Logging      Logging      `yaml:"logging"`
	Rate         Rate         `yaml:"rate"`
	Breaker      Breaker      `yaml:"breaker"`
	Bindings     Bindings     `yaml:"bindings"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	History      History      `yaml:"history"`
	Idempotency  Idempotency  `yaml:"idempotency"`
	Postgres     Postgres     `yaml:"postgres"`
	NATS         NATS         `yaml:"nats"`
	OTEL         OTEL         `yaml:"otel"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port            string        `yaml:"port"`
	CORSOrigin      string        `yaml:"cors_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	APIKeyHash      string        `yaml:"api_key_hash"` // bcrypt hash; empty disables API key auth
}

// Logging holds structured logging configuration.
type Logging struct {
	Level        string `yaml:"level"`
	Service      string `yaml:"service"`
	Async        bool   `yaml:"async"`
	AsyncBuffer  int    `yaml:"async_buffer"`
	AsyncWorkers int    `yaml:"async_workers"`
}

// Rate holds rate limiter configuration.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// Breaker holds circuit breaker configuration for outbound binding calls.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Bindings holds the target of step binding calls.
type Bindings struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"` // HTTP client timeout per request
}

// Orchestrator holds plan building and execution configuration.
type Orchestrator struct {
	MaxParallel  int           `yaml:"max_parallel"`  // Max concurrent steps in parallel mode (default: 4)
	StepTimeout  time.Duration `yaml:"step_timeout"`  // Per-attempt step deadline; 0 disables
	MaxSteps     int           `yaml:"max_steps"`     // Default step budget for built plans; 0 = unlimited
	AutoValidate bool          `yaml:"auto_validate"` // Refine invalid plans once on creation
	StreamBuffer int           `yaml:"stream_buffer"` // Per-subscriber event buffer
	SinkBuffer   int           `yaml:"sink_buffer"`   // Async sink dispatcher buffer
}

// History holds the cache for reports of cleared executions. With NATS
// configured, reports are also kept in the KV bucket shared by replicas.
type History struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	TTL       time.Duration `yaml:"ttl"`
	Bucket    string        `yaml:"bucket"`
}

// Idempotency holds the response store behind the Idempotency-Key header.
type Idempotency struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	TTL       time.Duration `yaml:"ttl"`
	Bucket    string        `yaml:"bucket"`
}

// Postgres holds PostgreSQL connection configuration. An empty DSN disables
// the event journal.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables the queue.
type NATS struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
}

// OTEL holds OpenTelemetry exporter configuration. An empty endpoint keeps
// the no-op providers.
type OTEL struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:            "8080",
			CORSOrigin:      "http://localhost:3000",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: Logging{
			Level:        "info",
			Service:      "taskplanner",
			AsyncBuffer:  10000,
			AsyncWorkers: 4,
		},
		Rate: Rate{
			RequestsPerSecond: 10,
			Burst:             100,
			CleanupInterval:   5 * time.Minute,
			MaxIdleTime:       10 * time.Minute,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Bindings: Bindings{
			BaseURL: "http://localhost:3000",
			Timeout: 2 * time.Minute,
		},
		Orchestrator: Orchestrator{
			MaxParallel:  4,
			StepTimeout:  5 * time.Minute,
			AutoValidate: true,
			StreamBuffer: 64,
			SinkBuffer:   1024,
		},
		History: History{
			MaxSizeMB: 64,
			TTL:       24 * time.Hour,
			Bucket:    "TASKPLANNER_HISTORY",
		},
		Idempotency: Idempotency{
			MaxSizeMB: 16,
			TTL:       24 * time.Hour,
			Bucket:    "TASKPLANNER_IDEMPOTENCY",
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			Stream: "PLANS",
		},
		OTEL: OTEL{
			Insecure:    true,
			ServiceName: "taskplanner",
			SampleRate:  1.0,
		},
	}
}
