package config

import (
	"fmt"
	"path/filepath"
)

// defaultProfileName is the profile selected when --profile is omitted.
const defaultProfileName = "default"

// Profile represents one local install identity within a TOML config
// file: a profileId written into every SD's profiles/<profileId>.json
// presence record, a display name shown in Recent Activity, and optional
// Polling/Logging overrides. Per-profile section overrides completely
// replace the corresponding global section — individual fields are not
// merged.
type Profile struct {
	ProfileID   string `toml:"profile_id"`
	DisplayName string `toml:"display_name"`

	Polling *PollingConfig `toml:"polling,omitempty"`
	Logging *LoggingConfig `toml:"logging,omitempty"`
}

// ResolvedProfile contains profile fields plus effective config sections
// after merging global defaults with per-profile overrides. This is the
// final product consumed by the CLI and Coordinator.
type ResolvedProfile struct {
	Name        string
	ProfileID   string
	DisplayName string

	Polling PollingConfig
	Logging LoggingConfig
}

// ResolveProfile merges global defaults with profile-specific overrides.
// If profileName is empty, the default profile is selected. Section-level
// override semantics are "replace, not merge" — if a profile defines
// [profile.work.polling], that entire PollingConfig replaces the global
// one.
func ResolveProfile(cfg *Config, profileName string) (*ResolvedProfile, error) {
	name, err := resolveProfileName(cfg, profileName)
	if err != nil {
		return nil, err
	}

	profile := cfg.Profiles[name]

	resolved := &ResolvedProfile{
		Name:        name,
		ProfileID:   profile.ProfileID,
		DisplayName: profile.DisplayName,
		Polling:     resolveSection(profile.Polling, cfg.Polling),
		Logging:     resolveSection(profile.Logging, cfg.Logging),
	}

	return resolved, nil
}

// resolveSection returns the profile override if present, otherwise the global value.
func resolveSection[T any](profileOverride *T, global T) T {
	if profileOverride != nil {
		return *profileOverride
	}

	return global
}

// resolveProfileName determines which profile to use.
func resolveProfileName(cfg *Config, profileName string) (string, error) {
	if len(cfg.Profiles) == 0 {
		return "", fmt.Errorf("no profiles defined in config")
	}

	if profileName != "" {
		return lookupExplicitProfile(cfg, profileName)
	}

	return lookupDefaultProfile(cfg)
}

// lookupExplicitProfile validates that the named profile exists.
func lookupExplicitProfile(cfg *Config, name string) (string, error) {
	if _, ok := cfg.Profiles[name]; !ok {
		return "", fmt.Errorf("profile %q not found in config", name)
	}

	return name, nil
}

// lookupDefaultProfile finds the default profile when no name is given.
func lookupDefaultProfile(cfg *Config) (string, error) {
	if _, ok := cfg.Profiles[defaultProfileName]; ok {
		return defaultProfileName, nil
	}

	if len(cfg.Profiles) == 1 {
		for name := range cfg.Profiles {
			return name, nil
		}
	}

	return "", fmt.Errorf(
		"multiple profiles defined but none named %q; use --profile to select one",
		defaultProfileName)
}

// ProfileCachePath returns the MetadataCache SQLite file path for a
// profile. Format: {dataDir}/cache/{profile}.db
func ProfileCachePath(profileName string) string {
	dataDir := DefaultDataDir()
	if dataDir == "" {
		return ""
	}

	return filepath.Join(dataDir, "cache", profileName+".db")
}
