// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for notecove: the local, outside-SD
// side of an install — which SDs are registered, default polling and
// logging behavior, and this install's profile identity.
package config

// Config is the top-level configuration structure. It holds the local
// profile registry, global Polling and Logging defaults, and the SD
// registry: which directories are registered, their last known on-disk
// version, and a display name. Per-profile Polling/Logging overrides
// completely replace the corresponding global section — fields are not
// merged field-by-field.
type Config struct {
	Profiles map[string]Profile `toml:"profile"`
	Polling  PollingConfig      `toml:"polling"`
	Logging  LoggingConfig      `toml:"logging"`
	SDs      map[string]SD      `toml:"sd"`
}

// PollingConfig controls the polling group's token bucket and the
// coordinator's background maintenance cadences. Durations are TOML
// strings parsed with time.ParseDuration.
type PollingConfig struct {
	PollRatePerMinute           float64 `toml:"poll_rate_per_minute"`
	HitRateMultiplier           float64 `toml:"hit_rate_multiplier"`
	MaxBurstPerSecond           float64 `toml:"max_burst_per_second"`
	NormalPriorityReserve       float64 `toml:"normal_priority_reserve"`
	RecentEditWindow            string  `toml:"recent_edit_window"`
	FullRepollInterval          string  `toml:"full_repoll_interval"`
	ActivitySyncFallbackInterval string `toml:"activity_sync_fallback_interval"`
	OrphanSweepInterval         string  `toml:"orphan_sweep_interval"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// SD is one registered storage directory. Path is absolute; LastKnownVersion
// is the sdstore schema version observed the last time this install checked
// compatibility, so a version bump on another device can be flagged before
// this install tries to open the directory.
type SD struct {
	Path             string `toml:"path"`
	DisplayName      string `toml:"display_name"`
	LastKnownVersion int    `toml:"last_known_version"`
}
