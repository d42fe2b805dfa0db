package config

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective_DefaultProfile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles = map[string]Profile{
		"default": {ProfileID: "11111111-1111-1111-1111-111111111111"},
	}
	resolved, err := ResolveProfile(cfg, "default")
	require.NoError(t, err)

	var buf bytes.Buffer
	err = RenderEffective(resolved, &buf)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, `profile "default"`)
	assert.Contains(t, output, "profile_id")
	assert.Contains(t, output, "[polling]")
	assert.Contains(t, output, "[logging]")
	assert.Contains(t, output, "poll_rate_per_minute")
}

func TestRenderEffective_DisplayNameShown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles = map[string]Profile{
		"work": {
			ProfileID:   "22222222-2222-2222-2222-222222222222",
			DisplayName: "Work desktop",
		},
	}
	resolved, err := ResolveProfile(cfg, "work")
	require.NoError(t, err)

	var buf bytes.Buffer
	err = RenderEffective(resolved, &buf)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "Work desktop")
}

func TestRenderEffective_LogFileShown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.LogFile = "/var/log/notecove.log"
	cfg.Profiles = map[string]Profile{
		"default": {ProfileID: "11111111-1111-1111-1111-111111111111"},
	}
	resolved, err := ResolveProfile(cfg, "default")
	require.NoError(t, err)

	var buf bytes.Buffer
	err = RenderEffective(resolved, &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "log_file")
}

// failWriter is a writer that always fails, used to exercise error paths
// in the errWriter pattern.
type failWriter struct{}

var errWriteFailed = errors.New("write failed")

func (failWriter) Write([]byte) (int, error) {
	return 0, errWriteFailed
}

func TestRenderEffective_WriteError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiles = map[string]Profile{
		"default": {ProfileID: "11111111-1111-1111-1111-111111111111"},
	}
	resolved, err := ResolveProfile(cfg, "default")
	require.NoError(t, err)

	err = RenderEffective(resolved, failWriter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errWriteFailed)
}
