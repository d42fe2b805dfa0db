package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownTopLevelSections are the valid top-level table names in the config
// file.
var knownTopLevelSections = []string{"profile", "polling", "logging", "sd"}

// knownSectionKeys maps a top-level section name to the leaf keys valid
// inside it (and, for "profile", inside a nested polling/logging
// override).
var knownSectionKeys = map[string]map[string]bool{
	"polling": {
		"poll_rate_per_minute":            true,
		"hit_rate_multiplier":             true,
		"max_burst_per_second":            true,
		"normal_priority_reserve":         true,
		"recent_edit_window":              true,
		"full_repoll_interval":            true,
		"activity_sync_fallback_interval": true,
		"orphan_sweep_interval":           true,
	},
	"logging": {
		"log_level":          true,
		"log_file":           true,
		"log_format":         true,
		"log_retention_days": true,
	},
	"sd": {
		"path":               true,
		"display_name":       true,
		"last_known_version": true,
	},
	"profile": {
		"profile_id":   true,
		"display_name": true,
	},
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error
	for _, key := range undecoded {
		if err := buildUnknownKeyError(key.String()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// buildUnknownKeyError classifies one undecoded dotted key path (e.g.
// "polling.bogus_key" or "profile.work.polling.bogus_key") and returns a
// descriptive error, or nil if the key is expected to be undecoded (a
// profile/sd's own identifying subsection, already validated elsewhere).
func buildUnknownKeyError(keyStr string) error {
	parts := strings.Split(keyStr, ".")
	if len(parts) == 0 {
		return nil
	}

	section := parts[0]
	known, ok := knownSectionKeys[section]
	if !ok {
		suggestion := closestMatch(section, knownTopLevelSections)
		if suggestion != "" {
			return fmt.Errorf("unknown config section %q — did you mean %q?", section, suggestion)
		}
		return fmt.Errorf("unknown config section %q", section)
	}

	leaf := parts[len(parts)-1]
	if known[leaf] {
		return nil
	}

	// A profile's nested [profile.<id>.polling]/[profile.<id>.logging]
	// override blocks reuse the polling/logging leaf keys.
	if section == "profile" && len(parts) >= 3 {
		if nested, ok := knownSectionKeys[parts[len(parts)-2]]; ok && nested[leaf] {
			return nil
		}
	}

	keys := make([]string, 0, len(known))
	for k := range known {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	suggestion := closestMatch(leaf, keys)
	if suggestion != "" {
		return fmt.Errorf("unknown key %q in [%s] — did you mean %q?", leaf, section, suggestion)
	}
	return fmt.Errorf("unknown key %q in [%s]", leaf, section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
