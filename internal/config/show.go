package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "notecove config show" command,
// giving users visibility into the effective values after the override
// layers (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(rp *ResolvedProfile, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration for profile %q\n\n", rp.Name)

	renderProfileSection(ew, rp)
	renderPollingSection(ew, &rp.Polling)
	renderLoggingSection(ew, &rp.Logging)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderProfileSection(ew *errWriter, rp *ResolvedProfile) {
	ew.printf("[profile]\n")
	ew.printf("  name         = %q\n", rp.Name)
	ew.printf("  profile_id   = %q\n", rp.ProfileID)

	if rp.DisplayName != "" {
		ew.printf("  display_name = %q\n", rp.DisplayName)
	}

	ew.printf("\n")
}

func renderPollingSection(ew *errWriter, p *PollingConfig) {
	ew.printf("[polling]\n")
	ew.printf("  poll_rate_per_minute            = %g\n", p.PollRatePerMinute)
	ew.printf("  hit_rate_multiplier             = %g\n", p.HitRateMultiplier)
	ew.printf("  max_burst_per_second             = %g\n", p.MaxBurstPerSecond)
	ew.printf("  normal_priority_reserve          = %g\n", p.NormalPriorityReserve)
	ew.printf("  recent_edit_window               = %q\n", p.RecentEditWindow)
	ew.printf("  full_repoll_interval             = %q\n", p.FullRepollInterval)
	ew.printf("  activity_sync_fallback_interval  = %q\n", p.ActivitySyncFallbackInterval)
	ew.printf("  orphan_sweep_interval            = %q\n", p.OrphanSweepInterval)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level          = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file           = %q\n", l.LogFile)
	}

	ew.printf("  log_format         = %q\n", l.LogFormat)
	ew.printf("  log_retention_days = %d\n", l.LogRetentionDays)
}
