package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/notecove/notecove/internal/idutil"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. BurntSushi/toml decodes [profile.<name>] and
// [sd.<id>] sections directly into Config.Profiles/Config.SDs since their
// keys are ordinary TOML identifiers. The decode metadata is then
// inspected to report unknown keys with "did you mean?" suggestions and
// to validate that every profile/sd key is a well-formed opaque id.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := validateSectionKeys(cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config file parsed successfully",
		"path", path,
		"profile_count", len(cfg.Profiles),
		"sd_count", len(cfg.SDs),
	)

	return cfg, nil
}

// validateSectionKeys rejects profile and sd sections keyed by the empty
// string — TOML allows a quoted empty table name, but an empty profileId
// or sdId would collide with the zero value used throughout the engine to
// mean "no folder"/"no override".
func validateSectionKeys(cfg *Config) error {
	var errs []error

	for key := range cfg.Profiles {
		if !idutil.NonEmpty(key) {
			errs = append(errs, errors.New("profile section key must not be empty"))
		}
	}

	for key := range cfg.SDs {
		if !idutil.NonEmpty(key) {
			errs = append(errs, errors.New("sd section key must not be empty"))
		}
	}

	return errors.Join(errs...)
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values. This supports the
// zero-config first-run experience: a fresh install can register its
// first SD without ever hand-writing a config file.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// ResolveConfigPath determines the config file path using the three-layer
// priority: CLI flag > environment variable > platform default.
func ResolveConfigPath(env EnvOverrides, cliConfigPath string, logger *slog.Logger) string {
	cfgPath := DefaultConfigPath()
	source := "default"

	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
		source = "env"
	}

	if cliConfigPath != "" {
		cfgPath = cliConfigPath
		source = "cli"
	}

	logger.Debug("config path resolved", "path", cfgPath, "source", source)

	return cfgPath
}
