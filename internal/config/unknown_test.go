package config

import (
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeUndecoded(t *testing.T, tomlContent string) *toml.MetaData {
	t.Helper()

	var cfg Config
	md, err := toml.Decode(tomlContent, &cfg)
	require.NoError(t, err)

	return &md
}

func TestCheckUnknownKeys_TopLevelSection_Typo(t *testing.T) {
	md := decodeUndecoded(t, `
[pollingg]
poll_rate_per_minute = 60
`)

	err := checkUnknownKeys(md)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config section")
	assert.Contains(t, err.Error(), "did you mean")
	assert.Contains(t, err.Error(), "polling")
}

func TestCheckUnknownKeys_LeafKey_Typo(t *testing.T) {
	md := decodeUndecoded(t, `
[polling]
poll_rate_per_minut = 60
`)

	err := checkUnknownKeys(md)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
	assert.Contains(t, err.Error(), "did you mean")
	assert.Contains(t, err.Error(), "poll_rate_per_minute")
}

func TestCheckUnknownKeys_NoUndecoded_ReturnsNil(t *testing.T) {
	md := decodeUndecoded(t, `
[polling]
poll_rate_per_minute = 60
`)

	assert.NoError(t, checkUnknownKeys(md))
}

func TestCheckUnknownKeys_ProfileNestedPollingOverride_Known(t *testing.T) {
	md := decodeUndecoded(t, `
[profile.work]
profile_id = "11111111-1111-1111-1111-111111111111"

[profile.work.polling]
poll_rate_per_minute = 30
`)

	assert.NoError(t, checkUnknownKeys(md))
}

func TestBuildUnknownKeyError_UnknownSection(t *testing.T) {
	err := buildUnknownKeyError("netwrok.timeout")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config section")
}

func TestBuildUnknownKeyError_KnownSection_UnknownLeaf(t *testing.T) {
	err := buildUnknownKeyError("logging.log_levle")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
	assert.Contains(t, err.Error(), "log_level")
}

func TestBuildUnknownKeyError_KnownSection_KnownLeaf_ReturnsNil(t *testing.T) {
	assert.NoError(t, buildUnknownKeyError("sd.path"))
}

func TestClosestMatch_Found(t *testing.T) {
	known := []string{"poll_rate_per_minute", "hit_rate_multiplier"}
	assert.Equal(t, "poll_rate_per_minute", closestMatch("poll_rate_per_minut", known))
}

func TestClosestMatch_NotFound(t *testing.T) {
	known := []string{"poll_rate_per_minute", "hit_rate_multiplier"}
	assert.Empty(t, closestMatch("completely_unrelated_key", known))
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"log_level", "log_level", 0},
		{"log_levle", "log_level", 2},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, levenshtein(tc.a, tc.b), "levenshtein(%q, %q)", tc.a, tc.b)
	}
}

func TestMinOf(t *testing.T) {
	assert.Equal(t, 1, minOf(1, 2, 3))
	assert.Equal(t, 1, minOf(3, 2, 1))
	assert.Equal(t, 2, minOf(5, 2, 4))
}
