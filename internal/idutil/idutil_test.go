package idutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notecove/notecove/internal/idutil"
)

func TestNewUUID_ReturnsDistinctValues(t *testing.T) {
	a := idutil.NewUUID()
	b := idutil.NewUUID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestNewInstanceID_ReturnsDistinctHexValues(t *testing.T) {
	a := idutil.NewInstanceID()
	b := idutil.NewInstanceID()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestValidImageID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"sha256 hex", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", true},
		{"short 32-char hex", "d41d8cd98f00b204e9800998ecf8427e", true},
		{"uuid", "550e8400-e29b-41d4-a716-446655440000", true},
		{"uppercase rejected", "E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B85", false},
		{"path traversal rejected", "../../etc/passwd", false},
		{"too short rejected", "abc123", false},
		{"empty rejected", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, idutil.ValidImageID(tc.id))
		})
	}
}

func TestNonEmpty_NoLengthAssumption(t *testing.T) {
	assert.True(t, idutil.NonEmpty("x"))
	assert.True(t, idutil.NonEmpty("a-very-long-opaque-identifier-that-is-not-a-uuid-at-all"))
	assert.False(t, idutil.NonEmpty(""))
}
