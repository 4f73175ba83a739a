package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "localhost:6379", cfg.StoreAddr)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, float64(80), cfg.MinCoverage)
	assert.Equal(t, 10*time.Minute, cfg.SelfHealTimeout)
	assert.Equal(t, 3, cfg.Lanes)
	assert.True(t, cfg.AutoFix)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("FORGE_STORE_ADDR", "redis.internal:6380")
	t.Setenv("FORGE_POLL_INTERVAL", "250ms")
	t.Setenv("FORGE_AUTO_FIX", "false")
	t.Setenv("FORGE_MAX_RETRIES", "5")
	t.Setenv("FORGE_MIN_COVERAGE", "92.5")
	t.Setenv("FORGE_LANES", "7")
	t.Setenv("FORGE_SELF_HEAL_TIMEOUT", "30s")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.StoreAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.False(t, cfg.AutoFix)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 92.5, cfg.MinCoverage)
	assert.Equal(t, 7, cfg.Lanes)
	assert.Equal(t, 30*time.Second, cfg.SelfHealTimeout)

	// Untouched values keep defaults
	assert.Equal(t, "catalog.yaml", cfg.CatalogPath)
	assert.Equal(t, 72, cfg.HistoryRetentionHours)
}

func TestFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("FORGE_MAX_RETRIES", "lots")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnvRejectsInvalidConfig(t *testing.T) {
	t.Setenv("FORGE_LANES", "0")
	_, err := FromEnv()
	assert.Error(t, err)

	t.Setenv("FORGE_LANES", "2")
	t.Setenv("FORGE_MIN_COVERAGE", "150")
	_, err = FromEnv()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.StoreAddr = "" }},
		{"zero poll", func(c *Config) { c.PollInterval = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"coverage over 100", func(c *Config) { c.MinCoverage = 101 }},
		{"no lanes", func(c *Config) { c.Lanes = 0 }},
		{"zero self-heal", func(c *Config) { c.SelfHealTimeout = 0 }},
		{"zero retention", func(c *Config) { c.HistoryRetentionHours = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLaneIDs(t *testing.T) {
	cfg := Default()
	cfg.Lanes = 3
	assert.Equal(t, []string{"lane-1", "lane-2", "lane-3"}, cfg.LaneIDs())
}
