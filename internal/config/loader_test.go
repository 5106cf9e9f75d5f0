package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Orchestrator.MaxParallel != 4 {
		t.Errorf("expected max_parallel 4, got %d", cfg.Orchestrator.MaxParallel)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Postgres.DSN != "" || cfg.NATS.URL != "" || cfg.OTEL.Endpoint != "" {
		t.Error("optional subsystems must be disabled by default")
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Fatalf("defaults should validate, got %v", err)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
orchestrator:
  max_parallel: 8
  step_timeout: 30s
bindings:
  base_url: "http://research.internal"
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Orchestrator.MaxParallel != 8 {
		t.Errorf("expected max_parallel 8, got %d", cfg.Orchestrator.MaxParallel)
	}
	if cfg.Orchestrator.StepTimeout != 30*time.Second {
		t.Errorf("expected step timeout 30s, got %v", cfg.Orchestrator.StepTimeout)
	}
	if cfg.Bindings.BaseURL != "http://research.internal" {
		t.Errorf("unexpected base url %s", cfg.Bindings.BaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.Orchestrator.StreamBuffer != 64 {
		t.Errorf("expected default stream buffer, got %d", cfg.Orchestrator.StreamBuffer)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TASKPLANNER_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("NATS_URL", "nats://queue:4222")
	t.Setenv("TASKPLANNER_ORCH_STEP_TIMEOUT", "45s")
	t.Setenv("TASKPLANNER_ORCH_AUTO_VALIDATE", "false")
	t.Setenv("TASKPLANNER_BINDINGS_TOKEN", "secret")
	t.Setenv("TASKPLANNER_RATE_RPS", "2.5")
	t.Setenv("TASKPLANNER_ORCH_MAX_PARALLEL", "not-a-number")

	cfg := Defaults()
	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("unexpected dsn %s", cfg.Postgres.DSN)
	}
	if cfg.NATS.URL != "nats://queue:4222" {
		t.Errorf("unexpected nats url %s", cfg.NATS.URL)
	}
	if cfg.Orchestrator.StepTimeout != 45*time.Second {
		t.Errorf("expected 45s, got %v", cfg.Orchestrator.StepTimeout)
	}
	if cfg.Orchestrator.AutoValidate {
		t.Error("expected auto validate disabled")
	}
	if cfg.Bindings.Token != "secret" {
		t.Errorf("unexpected token %q", cfg.Bindings.Token)
	}
	if cfg.Rate.RequestsPerSecond != 2.5 {
		t.Errorf("expected 2.5 rps, got %v", cfg.Rate.RequestsPerSecond)
	}
	// Unparseable values are ignored.
	if cfg.Orchestrator.MaxParallel != 4 {
		t.Errorf("expected default max_parallel, got %d", cfg.Orchestrator.MaxParallel)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"empty base url", func(c *Config) { c.Bindings.BaseURL = "" }},
		{"zero breaker failures", func(c *Config) { c.Breaker.MaxFailures = 0 }},
		{"zero burst", func(c *Config) { c.Rate.Burst = 0 }},
		{"zero parallel", func(c *Config) { c.Orchestrator.MaxParallel = 0 }},
		{"zero stream buffer", func(c *Config) { c.Orchestrator.StreamBuffer = 0 }},
		{"negative max steps", func(c *Config) { c.Orchestrator.MaxSteps = -1 }},
		{"zero history size", func(c *Config) { c.History.MaxSizeMB = 0 }},
		{"zero idempotency size", func(c *Config) { c.Idempotency.MaxSizeMB = 0 }},
		{"zero idempotency ttl", func(c *Config) { c.Idempotency.TTL = 0 }},
		{"pg without conns", func(c *Config) { c.Postgres.DSN = "postgres://x"; c.Postgres.MaxConns = 0 }},
		{"sample rate above one", func(c *Config) { c.OTEL.SampleRate = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			if err := validate(&cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--port", "9090", "--log-level", "debug"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "9090" {
		t.Errorf("expected port 9090, got %v", flags.Port)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Errorf("expected log-level debug, got %v", flags.LogLevel)
	}
	// Unset flags remain nil
	if flags.DSN != nil || flags.NatsURL != nil || flags.ConfigPath != nil || flags.BindingsURL != nil {
		t.Errorf("expected unset flags to be nil, got %+v", flags)
	}
}

func TestParseFlagsShorthand(t *testing.T) {
	flags, err := ParseFlags([]string{"-p", "7070", "-c", "custom.yaml"})
	if err != nil {
		t.Fatal(err)
	}
	if flags.Port == nil || *flags.Port != "7070" {
		t.Errorf("expected port 7070, got %v", flags.Port)
	}
	if flags.ConfigPath == nil || *flags.ConfigPath != "custom.yaml" {
		t.Errorf("expected config custom.yaml, got %v", flags.ConfigPath)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	if _, err := ParseFlags([]string{"--unknown-flag"}); err == nil {
		t.Error("expected error for unknown flag, got nil")
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	t.Setenv("TASKPLANNER_PORT", "7070")
	t.Setenv("TASKPLANNER_LOG_LEVEL", "warn")

	flags, err := ParseFlags([]string{"--port", "3333", "--log-level", "error", "-c", "/nonexistent.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	cfg, _, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "3333" {
		t.Errorf("expected CLI port 3333 to override ENV 7070, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("expected CLI log-level error to override ENV warn, got %s", cfg.Logging.Level)
	}
}

func TestLoadWithCLICustomConfig(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(yamlPath, []byte("server:\n  port: \"5555\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	flags, err := ParseFlags([]string{"--config", yamlPath})
	if err != nil {
		t.Fatal(err)
	}

	cfg, resolvedPath, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}
	if resolvedPath != yamlPath {
		t.Errorf("expected resolved path %s, got %s", yamlPath, resolvedPath)
	}
	if cfg.Server.Port != "5555" {
		t.Errorf("expected port 5555 from custom YAML, got %s", cfg.Server.Port)
	}
}

func TestLoadFromValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("orchestrator:\n  max_parallel: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected validation error")
	}
}
