package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPassesValidation(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("ORC_HEARTBEAT_TTL_SECONDS", "45")
	t.Setenv("ORC_LLM_PROVIDER_CHAIN", "openai, anthropic")
	t.Setenv("ORC_RETRY_BACKOFF_SECONDS", "2,4,8")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 45, cfg.Registry.HeartbeatTTLSeconds)
	assert.Equal(t, []string{"openai", "anthropic"}, cfg.LLM.ProviderChain)
	assert.Equal(t, []int{2, 4, 8}, cfg.Resilience.RetryBackoffSeconds)
}

func TestOptionsOverrideEnv(t *testing.T) {
	t.Setenv("ORC_REDIS_URL", "redis://from-env:6379/0")

	cfg, err := New("", WithRedisURL("redis://from-option:6379/0"))
	require.NoError(t, err)
	assert.Equal(t, "redis://from-option:6379/0", cfg.Redis.URL)
}

func TestValidateRejectsOutOfRangeCapacityThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.PauseCapacityThresholdPercent = 150
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyProviderChain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.ProviderChain = nil
	assert.Error(t, cfg.Validate())
}

func TestLoadYAMLFileMissingFileIsNotAnError(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.LoadYAMLFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NoError(t, err)
}

func TestLoadYAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  pause_capacity_threshold_percent: 35\n"), 0o644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadYAMLFile(path))
	assert.Equal(t, 35.0, cfg.Scheduler.PauseCapacityThresholdPercent)
}

func TestRetryPolicyUsesConfiguredBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resilience.RetryBackoffSeconds = []int{5, 10}
	cfg.Resilience.RetryMaxAttempts = 2

	policy := cfg.Resilience.RetryPolicy()
	assert.Equal(t, 2, policy.MaxAttempts)
	assert.True(t, policy.Exhausted(2))
	assert.False(t, policy.Exhausted(1))
}
