package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger returns a debug-level logger that writes to stderr, ensuring
// all config debug output appears in test output for CI visibility.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	tomlContent := `
[polling]
poll_rate_per_minute = 60
hit_rate_multiplier = 0.5
max_burst_per_second = 5
normal_priority_reserve = 0.1
recent_edit_window = "2m"
full_repoll_interval = "15m"
activity_sync_fallback_interval = "1m"
orphan_sweep_interval = "30m"

[logging]
log_level = "debug"
log_format = "json"
log_retention_days = 14

[sd.laptop-notes]
path = "/home/alice/notes"
display_name = "Laptop notes"
last_known_version = 1

[profile.default]
profile_id = "11111111-1111-1111-1111-111111111111"
display_name = "Alice's laptop"
`
	path := writeTestConfig(t, tomlContent)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, 60.0, cfg.Polling.PollRatePerMinute)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	require.Contains(t, cfg.SDs, "laptop-notes")
	assert.Equal(t, "/home/alice/notes", cfg.SDs["laptop-notes"].Path)
	require.Contains(t, cfg.Profiles, "default")
	assert.Equal(t, "Alice's laptop", cfg.Profiles["default"].DisplayName)
}

func TestLoad_EmptyFile_UsesDefaults(t *testing.T) {
	path := writeTestConfig(t, "")

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Polling, cfg.Polling)
}

func TestLoad_UnknownGlobalKey_Rejected(t *testing.T) {
	path := writeTestConfig(t, `
[polling]
poll_rate_per_minut = 60
`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownSection_Rejected(t *testing.T) {
	path := writeTestConfig(t, `
[netwrok]
foo = "bar"
`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config section")
}

func TestLoad_InvalidPollingValue_RejectedByValidate(t *testing.T) {
	path := writeTestConfig(t, `
[polling]
poll_rate_per_minute = 0
`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_rate_per_minute")
}

func TestLoad_NonexistentFile_ReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"), testLogger(t))
	require.Error(t, err)
}

func TestLoadOrDefault_MissingFile_ReturnsDefaults(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"), testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOrDefault_ExistingFile_Loads(t *testing.T) {
	path := writeTestConfig(t, `
[logging]
log_level = "warn"
`)

	cfg, err := LoadOrDefault(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.LogLevel)
}

func TestResolveConfigPath_Precedence(t *testing.T) {
	logger := testLogger(t)

	assert.Equal(t, DefaultConfigPath(), ResolveConfigPath(EnvOverrides{}, "", logger))
	assert.Equal(t, "/from/env.toml", ResolveConfigPath(EnvOverrides{ConfigPath: "/from/env.toml"}, "", logger))
	assert.Equal(t, "/from/cli.toml",
		ResolveConfigPath(EnvOverrides{ConfigPath: "/from/env.toml"}, "/from/cli.toml", logger))
}
