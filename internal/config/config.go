package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the shared configuration surface for every role. All values
// come from the environment with sensible defaults, so a bare `forged run`
// against a local Redis works out of the box.
type Config struct {
	// StoreAddr is the Redis address of the shared state store
	// Default: "localhost:6379"
	StoreAddr string

	// StorePassword is the Redis auth password (empty for none)
	StorePassword string

	// StoreDB is the Redis database index
	// Default: 0
	StoreDB int

	// PollInterval is how often the orchestrator runs a full cycle and
	// how often advancers run their reconciliation sweep
	// Default: 5s
	PollInterval time.Duration

	// WorkerIdleSleep is how long a lane sleeps when both its own queue
	// and the overflow queue are empty
	// Default: 2s
	WorkerIdleSleep time.Duration

	// EventWait is the bounded wait on a subscribed event channel before
	// an advancer's fast path loops around
	// Default: 1s
	EventWait time.Duration

	// AutoFix controls whether failed development attempts are requeued
	// Default: true
	AutoFix bool

	// MaxRetries is the retry ceiling. A re-enterable tool whose
	// retry_count would exceed this becomes permanently failed.
	// Default: 3
	MaxRetries int

	// MinCoverage is the minimum acceptable quality-gate coverage (percent)
	// Default: 80
	MinCoverage float64

	// SelfHealTimeout is the lease duration: how long a lane may hold a
	// claim before the orchestrator reclaims it. The lease is never
	// renewed, even for a lane that is still making progress.
	// Default: 10m
	SelfHealTimeout time.Duration

	// Lanes is the number of worker lanes in the fixed lane set
	// Default: 3
	Lanes int

	// CatalogPath is the catalog manifest listing every tool
	// Default: "catalog.yaml"
	CatalogPath string

	// SpecDir is the directory holding per-tool JSON specification files
	// Default: "specs"
	SpecDir string

	// RulesPath optionally overrides the built-in blocker rule table
	// Default: "" (built-in rules only)
	RulesPath string

	// OutputDir is where generated implementations and tests are written
	// Default: "generated"
	OutputDir string

	// HistoryRetentionHours bounds the metrics history log
	// Default: 72
	HistoryRetentionHours int

	// HeartbeatTTL is the expiry on the orchestrator liveness marker
	// Default: 30s
	HeartbeatTTL time.Duration

	// ConnectAttempts and ConnectBackoff bound the fatal startup retry
	// Defaults: 5 attempts, 2s fixed backoff
	ConnectAttempts int
	ConnectBackoff  time.Duration

	// GeneratorRPS throttles calls to the external generator across a
	// lane, so a full lane set cannot stampede the API
	// Default: 1.0
	GeneratorRPS float64
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		StoreAddr:             "localhost:6379",
		StoreDB:               0,
		PollInterval:          5 * time.Second,
		WorkerIdleSleep:       2 * time.Second,
		EventWait:             1 * time.Second,
		AutoFix:               true,
		MaxRetries:            3,
		MinCoverage:           80,
		SelfHealTimeout:       10 * time.Minute,
		Lanes:                 3,
		CatalogPath:           "catalog.yaml",
		SpecDir:               "specs",
		OutputDir:             "generated",
		HistoryRetentionHours: 72,
		HeartbeatTTL:          30 * time.Second,
		ConnectAttempts:       5,
		ConnectBackoff:        2 * time.Second,
		GeneratorRPS:          1.0,
	}
}

// Validate checks if the configuration has valid values
func (c *Config) Validate() error {
	if c.StoreAddr == "" {
		return fmt.Errorf("store address is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive (got %v)", c.PollInterval)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative (got %d)", c.MaxRetries)
	}
	if c.MinCoverage < 0 || c.MinCoverage > 100 {
		return fmt.Errorf("min coverage must be between 0 and 100 (got %g)", c.MinCoverage)
	}
	if c.Lanes < 1 {
		return fmt.Errorf("at least one lane is required (got %d)", c.Lanes)
	}
	if c.SelfHealTimeout <= 0 {
		return fmt.Errorf("self-heal timeout must be positive (got %v)", c.SelfHealTimeout)
	}
	if c.HistoryRetentionHours < 1 {
		return fmt.Errorf("history retention must be at least 1 hour (got %d)", c.HistoryRetentionHours)
	}
	return nil
}

// FromEnv creates a Config from environment variables, falling back to
// defaults.
//
// Environment variables:
//   - FORGE_STORE_ADDR: Redis address (default: localhost:6379)
//   - FORGE_STORE_PASSWORD: Redis password (default: none)
//   - FORGE_STORE_DB: Redis database index (default: 0)
//   - FORGE_POLL_INTERVAL: orchestrator cycle / sweep interval (default: 5s)
//   - FORGE_WORKER_IDLE_SLEEP: lane sleep when idle (default: 2s)
//   - FORGE_EVENT_WAIT: bounded event-channel wait (default: 1s)
//   - FORGE_AUTO_FIX: requeue failed development attempts (default: true)
//   - FORGE_MAX_RETRIES: retry ceiling (default: 3)
//   - FORGE_MIN_COVERAGE: quality-gate coverage floor (default: 80)
//   - FORGE_SELF_HEAL_TIMEOUT: claim lease duration (default: 10m)
//   - FORGE_LANES: worker lane count (default: 3)
//   - FORGE_CATALOG: catalog manifest path (default: catalog.yaml)
//   - FORGE_SPEC_DIR: tool spec directory (default: specs)
//   - FORGE_RULES: blocker rules file (default: built-in rules)
//   - FORGE_OUTPUT_DIR: generated file output directory (default: generated)
//   - FORGE_HISTORY_RETENTION_HOURS: metrics history bound (default: 72)
//   - FORGE_HEARTBEAT_TTL: orchestrator liveness TTL (default: 30s)
//   - FORGE_CONNECT_ATTEMPTS / FORGE_CONNECT_BACKOFF: startup retry bounds
//   - FORGE_GENERATOR_RPS: generator call throttle (default: 1.0)
func FromEnv() (*Config, error) {
	cfg := Default()

	if err := parseEnvString("FORGE_STORE_ADDR", &cfg.StoreAddr); err != nil {
		return nil, err
	}
	if err := parseEnvString("FORGE_STORE_PASSWORD", &cfg.StorePassword); err != nil {
		return nil, err
	}
	if err := parseEnvInt("FORGE_STORE_DB", &cfg.StoreDB); err != nil {
		return nil, err
	}
	if err := parseEnvDuration("FORGE_POLL_INTERVAL", &cfg.PollInterval); err != nil {
		return nil, err
	}
	if err := parseEnvDuration("FORGE_WORKER_IDLE_SLEEP", &cfg.WorkerIdleSleep); err != nil {
		return nil, err
	}
	if err := parseEnvDuration("FORGE_EVENT_WAIT", &cfg.EventWait); err != nil {
		return nil, err
	}
	if err := parseEnvBool("FORGE_AUTO_FIX", &cfg.AutoFix); err != nil {
		return nil, err
	}
	if err := parseEnvInt("FORGE_MAX_RETRIES", &cfg.MaxRetries); err != nil {
		return nil, err
	}
	if err := parseEnvFloat("FORGE_MIN_COVERAGE", &cfg.MinCoverage); err != nil {
		return nil, err
	}
	if err := parseEnvDuration("FORGE_SELF_HEAL_TIMEOUT", &cfg.SelfHealTimeout); err != nil {
		return nil, err
	}
	if err := parseEnvInt("FORGE_LANES", &cfg.Lanes); err != nil {
		return nil, err
	}
	if err := parseEnvString("FORGE_CATALOG", &cfg.CatalogPath); err != nil {
		return nil, err
	}
	if err := parseEnvString("FORGE_SPEC_DIR", &cfg.SpecDir); err != nil {
		return nil, err
	}
	if err := parseEnvString("FORGE_RULES", &cfg.RulesPath); err != nil {
		return nil, err
	}
	if err := parseEnvString("FORGE_OUTPUT_DIR", &cfg.OutputDir); err != nil {
		return nil, err
	}
	if err := parseEnvInt("FORGE_HISTORY_RETENTION_HOURS", &cfg.HistoryRetentionHours); err != nil {
		return nil, err
	}
	if err := parseEnvDuration("FORGE_HEARTBEAT_TTL", &cfg.HeartbeatTTL); err != nil {
		return nil, err
	}
	if err := parseEnvInt("FORGE_CONNECT_ATTEMPTS", &cfg.ConnectAttempts); err != nil {
		return nil, err
	}
	if err := parseEnvDuration("FORGE_CONNECT_BACKOFF", &cfg.ConnectBackoff); err != nil {
		return nil, err
	}
	if err := parseEnvFloat("FORGE_GENERATOR_RPS", &cfg.GeneratorRPS); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration from environment: %w", err)
	}

	return cfg, nil
}

// LaneIDs returns the fixed lane identifiers for the configured lane count
func (c *Config) LaneIDs() []string {
	ids := make([]string, c.Lanes)
	for i := range ids {
		ids[i] = fmt.Sprintf("lane-%d", i+1)
	}
	return ids
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvFloat parses a float from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvString parses a string from an environment variable
func parseEnvString(key string, dest *string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	*dest = value
	return nil
}

// parseEnvDuration parses a duration from an environment variable
func parseEnvDuration(key string, dest *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
