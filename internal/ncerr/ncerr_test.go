package ncerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notecove/notecove/internal/ncerr"
)

func TestWithOffset_CarriesPathAndOffset(t *testing.T) {
	base := errors.New("truncated record")
	err := ncerr.WithOffset(ncerr.KindCorrupt, "logcodec.readAll", "notes/n1/logs/a_1.crdtlog", 42, base)

	require.Error(t, err)
	assert.Equal(t, ncerr.KindCorrupt, err.Kind)
	assert.Equal(t, "notes/n1/logs/a_1.crdtlog", err.Path)
	assert.Equal(t, int64(42), err.Offset)
	assert.ErrorIs(t, err, base)
}

func TestIs_MatchesKind(t *testing.T) {
	err := ncerr.New(ncerr.KindIncomplete, "fsadapter.readFile", nil)
	assert.True(t, ncerr.Is(err, ncerr.KindIncomplete))
	assert.False(t, ncerr.Is(err, ncerr.KindCorrupt))
}

func TestKindOf_NonClassifiedReturnsEmpty(t *testing.T) {
	assert.Equal(t, ncerr.Kind(""), ncerr.KindOf(errors.New("plain")))
}

func TestError_MessageIncludesPathAndOffset(t *testing.T) {
	err := ncerr.WithOffset(ncerr.KindCorrupt, "logcodec.readAll", "p", 7, errors.New("bad"))
	msg := err.Error()
	assert.Contains(t, msg, "p")
	assert.Contains(t, msg, "7")
	assert.Contains(t, msg, "bad")
}
