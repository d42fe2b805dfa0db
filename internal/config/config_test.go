package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_AllFieldsPopulated(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 120.0, cfg.Polling.PollRatePerMinute)
	assert.Equal(t, 0.25, cfg.Polling.HitRateMultiplier)
	assert.Equal(t, 10.0, cfg.Polling.MaxBurstPerSecond)
	assert.Equal(t, 0.2, cfg.Polling.NormalPriorityReserve)
	assert.Equal(t, "5m", cfg.Polling.RecentEditWindow)
	assert.Equal(t, "30m", cfg.Polling.FullRepollInterval)
	assert.Equal(t, "2m", cfg.Polling.ActivitySyncFallbackInterval)
	assert.Equal(t, "1h", cfg.Polling.OrphanSweepInterval)

	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Empty(t, cfg.Logging.LogFile)
	assert.Equal(t, "auto", cfg.Logging.LogFormat)
	assert.Equal(t, 30, cfg.Logging.LogRetentionDays)

	require.NotNil(t, cfg.SDs)
	assert.Empty(t, cfg.SDs)
	require.NotNil(t, cfg.Profiles)
	assert.Empty(t, cfg.Profiles)
}

func TestDefaultConfig_PassesValidation(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, Validate(cfg))
}
