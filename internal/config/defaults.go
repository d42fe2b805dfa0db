package config

// Default values for configuration options. Polling defaults mirror
// pollinggroup.DefaultSettings() and background.go's maintenance
// intervals, so a fresh install behaves identically whether or not it
// ever writes a config file.
const (
	defaultPollRatePerMinute            = 120
	defaultHitRateMultiplier            = 0.25
	defaultMaxBurstPerSecond            = 10
	defaultNormalPriorityReserve        = 0.2
	defaultRecentEditWindow             = "5m"
	defaultFullRepollInterval           = "30m"
	defaultActivitySyncFallbackInterval = "2m"
	defaultOrphanSweepInterval          = "1h"
	defaultLogLevel                     = "info"
	defaultLogFormat                    = "auto"
	defaultLogRetentionDays             = 30
)

// DefaultConfig returns a Config populated with all default values. Used
// both as the starting point for TOML decoding (so unset fields retain
// defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Profiles: make(map[string]Profile),
		Polling:  defaultPollingConfig(),
		Logging:  defaultLoggingConfig(),
		SDs:      make(map[string]SD),
	}
}

func defaultPollingConfig() PollingConfig {
	return PollingConfig{
		PollRatePerMinute:            defaultPollRatePerMinute,
		HitRateMultiplier:            defaultHitRateMultiplier,
		MaxBurstPerSecond:            defaultMaxBurstPerSecond,
		NormalPriorityReserve:        defaultNormalPriorityReserve,
		RecentEditWindow:             defaultRecentEditWindow,
		FullRepollInterval:           defaultFullRepollInterval,
		ActivitySyncFallbackInterval: defaultActivitySyncFallbackInterval,
		OrphanSweepInterval:          defaultOrphanSweepInterval,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
		LogRetentionDays: defaultLogRetentionDays,
	}
}
