package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/notecove/notecove/internal/idutil"
)

// Validation range constants.
const (
	minPollRatePerMinute = 1.0
	minLogRetention      = 1
	minRecentEditWindow  = time.Second
	minFullRepollMargin  = time.Minute
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validatePolling(&cfg.Polling)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateSDs(cfg.SDs)...)
	errs = append(errs, validateProfiles(cfg.Profiles)...)

	return errors.Join(errs...)
}

func validatePolling(p *PollingConfig) []error {
	var errs []error

	if p.PollRatePerMinute < minPollRatePerMinute {
		errs = append(errs, fmt.Errorf("polling.poll_rate_per_minute: must be >= %g, got %g",
			minPollRatePerMinute, p.PollRatePerMinute))
	}

	if p.HitRateMultiplier <= 0 || p.HitRateMultiplier > 1 {
		errs = append(errs, fmt.Errorf("polling.hit_rate_multiplier: must be in (0, 1], got %g", p.HitRateMultiplier))
	}

	if p.MaxBurstPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("polling.max_burst_per_second: must be > 0, got %g", p.MaxBurstPerSecond))
	}

	if p.NormalPriorityReserve < 0 || p.NormalPriorityReserve > 1 {
		errs = append(errs, fmt.Errorf("polling.normal_priority_reserve: must be in [0, 1], got %g", p.NormalPriorityReserve))
	}

	errs = append(errs, validateDurationMin("polling.recent_edit_window", p.RecentEditWindow, minRecentEditWindow)...)
	errs = append(errs, validateDurationMin("polling.full_repoll_interval", p.FullRepollInterval, minFullRepollMargin)...)
	errs = append(errs, validateDurationMin("polling.activity_sync_fallback_interval", p.ActivitySyncFallbackInterval, time.Second)...)
	errs = append(errs, validateDurationMin("polling.orphan_sweep_interval", p.OrphanSweepInterval, time.Second)...)

	return errs
}

func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("logging.log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

// validateSDs checks every registered SD has a non-empty path and that
// no two SD ids point at the same directory after tilde expansion.
func validateSDs(sds map[string]SD) []error {
	if len(sds) == 0 {
		return nil
	}

	var errs []error

	seen := make(map[string]string, len(sds))
	for id := range sds {
		sd := sds[id]
		if !idutil.NonEmpty(id) {
			errs = append(errs, errors.New("sd: section key must not be empty"))
		}

		if sd.Path == "" {
			errs = append(errs, fmt.Errorf("sd.%s.path: must not be empty", id))
			continue
		}

		expanded := expandTilde(sd.Path)
		if other, exists := seen[expanded]; exists {
			errs = append(errs, fmt.Errorf("sd.%s.path: %q conflicts with sd.%s (same directory)", id, sd.Path, other))
			continue
		}

		seen[expanded] = id
	}

	return errs
}

// validateProfiles checks all profile-level constraints.
func validateProfiles(profiles map[string]Profile) []error {
	if len(profiles) == 0 {
		return nil
	}

	var errs []error

	for name := range profiles {
		p := profiles[name]
		if !idutil.NonEmpty(p.ProfileID) {
			errs = append(errs, fmt.Errorf("profile.%s.profile_id: must not be empty", name))
		}

		if p.Polling != nil {
			errs = append(errs, validatePolling(p.Polling)...)
		}

		if p.Logging != nil {
			errs = append(errs, validateLogging(p.Logging)...)
		}
	}

	return errs
}
