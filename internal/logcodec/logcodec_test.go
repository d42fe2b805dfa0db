package logcodec_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notecove/notecove/internal/fsadapter"
	"github.com/notecove/notecove/internal/logcodec"
	"github.com/notecove/notecove/internal/ncerr"
)

const logPath = "notes/n1/logs/i_1.crdtlog"

func TestOpenWrite_CreatesValidHeader(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	require.NoError(t, logcodec.OpenWrite(a, logPath))

	records, err := logcodec.ReadAll(a, logPath)
	require.NoError(t, err)
	assert.Empty(t, records)
}

// TestAppendRecord_SingleRecord_RoundTrips checks that one record with
// ts=1000, seq=1, data="xx" decodes back to exactly those fields.
func TestAppendRecord_SingleRecord_RoundTrips(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	require.NoError(t, logcodec.OpenWrite(a, logPath))
	require.NoError(t, logcodec.AppendRecord(a, logPath, 1000, 1, []byte("xx")))

	records, err := logcodec.ReadAll(a, logPath)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(1000), records[0].Timestamp)
	assert.Equal(t, uint64(1), records[0].Sequence)
	assert.Equal(t, []byte("xx"), records[0].Data)
}

// TestAppendRecord_NRecords_ValidatesClean checks that appending N
// records then calling ValidateSequences yields records==N and no
// errors.
func TestAppendRecord_NRecords_ValidatesClean(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	require.NoError(t, logcodec.OpenWrite(a, logPath))

	const n = 25
	for i := 1; i <= n; i++ {
		require.NoError(t, logcodec.AppendRecord(a, logPath, uint64(1000+i), uint64(i), []byte("payload")))
	}

	result := logcodec.ValidateSequences(a, logPath)
	assert.True(t, result.Valid)
	assert.Equal(t, n, result.Records)
	assert.Empty(t, result.Errors)
}

// TestValidateSequences_Gap checks that sequences 1,3 report a
// sequence-gap error and Valid=false.
func TestValidateSequences_Gap(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	require.NoError(t, logcodec.OpenWrite(a, logPath))
	require.NoError(t, logcodec.AppendRecord(a, logPath, 1000, 1, []byte("a")))
	require.NoError(t, logcodec.AppendRecord(a, logPath, 1001, 3, []byte("b")))

	result := logcodec.ValidateSequences(a, logPath)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Sequence gap at index 1: expected 2, got 3")
}

func TestValidateSequences_DuplicateSequence(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	require.NoError(t, logcodec.OpenWrite(a, logPath))
	require.NoError(t, logcodec.AppendRecord(a, logPath, 1000, 1, []byte("a")))
	require.NoError(t, logcodec.AppendRecord(a, logPath, 1001, 1, []byte("b")))

	result := logcodec.ValidateSequences(a, logPath)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "Duplicate sequence")
}

func TestReadAll_BadMagic_ReturnsCorrupt(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	require.NoError(t, a.WriteFile(logPath, []byte("XXXX\x01")))

	_, err := logcodec.ReadAll(a, logPath)
	require.Error(t, err)
	assert.Equal(t, ncerr.KindCorrupt, ncerr.KindOf(err))
}

func TestReadAll_UnsupportedVersion_ReturnsVersionMismatch(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	require.NoError(t, a.WriteFile(logPath, []byte("NCLG\x02")))

	_, err := logcodec.ReadAll(a, logPath)
	require.Error(t, err)
	assert.Equal(t, ncerr.KindVersionMismatch, ncerr.KindOf(err))
}

// TestReadAll_TruncatedRecord_ReturnsPrecedingRecordsAndOffset verifies the
// corruption policy: the reader stops at the first unreadable
// record, exposes the offset, and never discards preceding records.
func TestReadAll_TruncatedRecord_ReturnsPrecedingRecordsAndOffset(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	require.NoError(t, logcodec.OpenWrite(a, logPath))
	require.NoError(t, logcodec.AppendRecord(a, logPath, 1000, 1, []byte("complete-record")))

	raw, err := a.ReadFile(logPath)
	require.NoError(t, err)

	// Append a record whose declared length claims more bytes than follow.
	truncated := make([]byte, 0, len(raw)+16)
	truncated = append(truncated, raw...)
	truncated = binary.AppendUvarint(truncated, 100) // length=100, far more than we'll supply
	truncated = append(truncated, 0, 0, 0, 0, 0, 0, 0, 1, 'o', 'n', 'l', 'y')
	require.NoError(t, a.WriteFile(logPath, truncated))

	records, err := logcodec.ReadAll(a, logPath)
	require.Error(t, err)
	assert.Equal(t, ncerr.KindCorrupt, ncerr.KindOf(err))
	require.Len(t, records, 1)
	assert.Equal(t, "complete-record", string(records[0].Data))

	var e *ncerr.Error
	require.ErrorAs(t, err, &e)
	assert.NotZero(t, e.Offset)
}

func TestOpenWrite_ExistingValidHeader_IsNoop(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	require.NoError(t, logcodec.OpenWrite(a, logPath))
	require.NoError(t, logcodec.AppendRecord(a, logPath, 1000, 1, []byte("a")))
	require.NoError(t, logcodec.OpenWrite(a, logPath))

	records, err := logcodec.ReadAll(a, logPath)
	require.NoError(t, err)
	require.Len(t, records, 1)
}
