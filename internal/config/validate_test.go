package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return DefaultConfig()
}

func TestValidate_ValidDefaults(t *testing.T) {
	err := Validate(validConfig())
	assert.NoError(t, err)
}

func TestValidate_PollRatePerMinute_BelowMin(t *testing.T) {
	cfg := validConfig()
	cfg.Polling.PollRatePerMinute = 0
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_rate_per_minute")
}

func TestValidate_HitRateMultiplier_OutOfRange(t *testing.T) {
	for _, v := range []float64{0, -0.1, 1.1} {
		cfg := validConfig()
		cfg.Polling.HitRateMultiplier = v
		err := Validate(cfg)
		require.Error(t, err, "expected %g to be invalid", v)
		assert.Contains(t, err.Error(), "hit_rate_multiplier")
	}
}

func TestValidate_MaxBurstPerSecond_NotPositive(t *testing.T) {
	cfg := validConfig()
	cfg.Polling.MaxBurstPerSecond = 0
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_burst_per_second")
}

func TestValidate_NormalPriorityReserve_OutOfRange(t *testing.T) {
	for _, v := range []float64{-0.1, 1.1} {
		cfg := validConfig()
		cfg.Polling.NormalPriorityReserve = v
		err := Validate(cfg)
		require.Error(t, err, "expected %g to be invalid", v)
		assert.Contains(t, err.Error(), "normal_priority_reserve")
	}
}

func TestValidate_RecentEditWindow_InvalidDuration(t *testing.T) {
	cfg := validConfig()
	cfg.Polling.RecentEditWindow = "not-a-duration"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recent_edit_window")
}

func TestValidate_RecentEditWindow_BelowMinimum(t *testing.T) {
	cfg := validConfig()
	cfg.Polling.RecentEditWindow = "0s"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recent_edit_window")
}

func TestValidate_FullRepollInterval_BelowMinimum(t *testing.T) {
	cfg := validConfig()
	cfg.Polling.FullRepollInterval = "10s"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full_repoll_interval")
}

func TestValidate_LogLevel_Invalid(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.LogLevel = "verbose"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestValidate_LogLevel_AllValid(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := validConfig()
		cfg.Logging.LogLevel = level
		assert.NoError(t, Validate(cfg), "expected level %q to be valid", level)
	}
}

func TestValidate_LogFormat_Invalid(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.LogFormat = "xml"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_format")
}

func TestValidate_LogRetentionDays_BelowMin(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.LogRetentionDays = 0
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_retention_days")
}

func TestValidate_SDs_EmptyPath(t *testing.T) {
	cfg := validConfig()
	cfg.SDs = map[string]SD{"laptop-notes": {Path: ""}}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sd.laptop-notes.path")
}

func TestValidate_SDs_DuplicatePath(t *testing.T) {
	cfg := validConfig()
	cfg.SDs = map[string]SD{
		"one": {Path: "/home/alice/notes"},
		"two": {Path: "/home/alice/notes"},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicts with")
}

func TestValidate_SDs_DuplicatePathTildeExpanded(t *testing.T) {
	cfg := validConfig()
	cfg.SDs = map[string]SD{
		"one": {Path: "~/notes"},
		"two": {Path: expandTilde("~/notes")},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicts with")
}

func TestValidate_SDs_ValidDistinctPaths(t *testing.T) {
	cfg := validConfig()
	cfg.SDs = map[string]SD{
		"one": {Path: "/home/alice/notes"},
		"two": {Path: "/home/alice/notes-work"},
	}
	assert.NoError(t, Validate(cfg))
}

func TestValidate_Profiles_EmptyProfileID(t *testing.T) {
	cfg := validConfig()
	cfg.Profiles = map[string]Profile{"default": {ProfileID: ""}}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile_id")
}

func TestValidate_Profiles_OverrideValidationError(t *testing.T) {
	badPolling := defaultPollingConfig()
	badPolling.PollRatePerMinute = 0

	cfg := validConfig()
	cfg.Profiles = map[string]Profile{
		"default": {
			ProfileID: "11111111-1111-1111-1111-111111111111",
			Polling:   &badPolling,
		},
	}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_rate_per_minute")
}

func TestValidate_NoSDsOrProfiles_StillValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, Validate(cfg))
}

func TestValidate_AccumulatesMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Polling.PollRatePerMinute = 0
	cfg.Logging.LogLevel = "bogus"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_rate_per_minute")
	assert.Contains(t, err.Error(), "log_level")
}
