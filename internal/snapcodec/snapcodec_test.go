package snapcodec_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notecove/notecove/internal/fsadapter"
	"github.com/notecove/notecove/internal/ncerr"
	"github.com/notecove/notecove/internal/snapcodec"
)

// TestCompressDecompress_RoundTrips checks that a snapshot round-trips
// through Compress/Decompress byte-for-byte.
func TestCompressDecompress_RoundTrips(t *testing.T) {
	state := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 200))

	compressed, err := snapcodec.Compress(state)
	require.NoError(t, err)
	assert.NotEqual(t, state, compressed)

	decompressed, err := snapcodec.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, state, decompressed)
}

func TestCompressDecompress_EmptyState(t *testing.T) {
	compressed, err := snapcodec.Compress(nil)
	require.NoError(t, err)

	decompressed, err := snapcodec.Decompress(compressed)
	require.NoError(t, err)
	assert.Empty(t, decompressed)
}

func TestDecompress_CorruptFrame_ReturnsCorruptKind(t *testing.T) {
	_, err := snapcodec.Decompress([]byte("not a zstd frame at all"))
	require.Error(t, err)
	assert.Equal(t, ncerr.KindCorrupt, ncerr.KindOf(err))
}

func TestWriteSnapshotReadSnapshot_RoundTripsThroughAdapter(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	state := []byte(`{"doc":"state","ops":[1,2,3]}`)

	require.NoError(t, snapcodec.WriteSnapshot(a, "notes/n1/snapshots/s1.crdtsnapshot", state))

	got, err := snapcodec.ReadSnapshot(a, "notes/n1/snapshots/s1.crdtsnapshot")
	require.NoError(t, err)
	assert.Equal(t, state, got)
}

func TestDecompressWithFallback_LegacyUncompressedData_ReturnedUnchanged(t *testing.T) {
	legacy := []byte(`{"legacy":"uncompressed state"}`)
	assert.Equal(t, legacy, snapcodec.DecompressWithFallback(legacy))
}

func TestDecompressWithFallback_ValidFrame_Decompresses(t *testing.T) {
	state := []byte("compress me please")
	compressed, err := snapcodec.Compress(state)
	require.NoError(t, err)
	assert.Equal(t, state, snapcodec.DecompressWithFallback(compressed))
}

func TestReadSnapshot_MissingFile_PropagatesNotFoundKind(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	_, err := snapcodec.ReadSnapshot(a, "notes/n1/snapshots/does-not-exist.crdtsnapshot")
	require.Error(t, err)
	assert.Equal(t, ncerr.KindNotFound, ncerr.KindOf(err))
}
