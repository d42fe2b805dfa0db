package sdstore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notecove/notecove/internal/fsadapter"
	"github.com/notecove/notecove/internal/ncerr"
	"github.com/notecove/notecove/internal/sdstore"
)

func TestCheckVersion_MissingFileIsTreatedAsVersionZero(t *testing.T) {
	a := fsadapter.NewMemAdapter()

	result, err := sdstore.CheckVersion(a)
	require.NoError(t, err)
	assert.False(t, result.Compatible)
	assert.Equal(t, sdstore.ReasonTooOld, result.Reason)
	assert.Equal(t, 0, result.Version)
}

func TestCheckVersion_CurrentVersionIsCompatible(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	require.NoError(t, a.WriteFile("SD_VERSION", []byte("1\n")))

	result, err := sdstore.CheckVersion(a)
	require.NoError(t, err)
	assert.True(t, result.Compatible)
	assert.Equal(t, sdstore.CurrentVersion, result.Version)
}

func TestCheckVersion_NewerThanSupportedIsTooNew(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	require.NoError(t, a.WriteFile("SD_VERSION", []byte("99\n")))

	result, err := sdstore.CheckVersion(a)
	require.NoError(t, err)
	assert.False(t, result.Compatible)
	assert.Equal(t, sdstore.ReasonTooNew, result.Reason)
}

func TestCheckVersion_MigrationLockMakesItLocked(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	require.NoError(t, a.WriteFile(".migration-lock", []byte(`{"timestamp":"2026-01-01T00:00:00Z","pid":123}`)))

	result, err := sdstore.CheckVersion(a)
	require.NoError(t, err)
	assert.False(t, result.Compatible)
	assert.Equal(t, sdstore.ReasonLocked, result.Reason)
}

func TestMigrate_AlreadyCurrentIsNoOp(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	require.NoError(t, a.WriteFile("SD_VERSION", []byte("1\n")))

	require.NoError(t, sdstore.Migrate(a, time.Now(), 1))

	locked, err := a.Exists(".migration-lock")
	require.NoError(t, err)
	assert.False(t, locked, "migrate must clean up its lock even on the no-op path")
}

func TestMigrate_RefusesWhenLocked(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	require.NoError(t, a.WriteFile(".migration-lock", []byte(`{"timestamp":"2026-01-01T00:00:00Z","pid":1}`)))

	err := sdstore.Migrate(a, time.Now(), 2)
	require.Error(t, err)
	assert.True(t, ncerr.Is(err, ncerr.KindLocked))
}

func TestMigrate_RefusesWhenSDIsNewerThanSupported(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	require.NoError(t, a.WriteFile("SD_VERSION", []byte("99\n")))

	err := sdstore.Migrate(a, time.Now(), 1)
	require.Error(t, err)
	assert.True(t, ncerr.Is(err, ncerr.KindVersionMismatch))
}

// TestMigrate_V0ToV1_PrependsFlagByteAndPreservesContent checks that a v0
// SD with raw (unflagged) data files migrates to v1, and re-reading any
// note through the adapter returns identical payloads to the
// pre-migration content.
func TestMigrate_V0ToV1_PrependsFlagByteAndPreservesContent(t *testing.T) {
	a := fsadapter.NewMemAdapter()

	rawLogBytes := []byte("NCLG\x01some raw pre-migration crdt log bytes")
	rawImageBytes := []byte("fake png bytes")
	writeRaw(t, a, "notes/n1/logs/instA_1.crdtlog", rawLogBytes)
	writeRaw(t, a, "media/abc123.png", rawImageBytes)
	// A non-data path (outside notes/folders/media) must be left untouched.
	require.NoError(t, a.WriteFile("activity/instA.log", []byte("n1|instA_1\n")))

	require.NoError(t, sdstore.Migrate(a, time.Now(), 42))

	result, err := sdstore.CheckVersion(a)
	require.NoError(t, err)
	assert.True(t, result.Compatible)
	assert.Equal(t, sdstore.CurrentVersion, result.Version)

	logData, err := a.ReadFile("notes/n1/logs/instA_1.crdtlog")
	require.NoError(t, err)
	assert.Equal(t, rawLogBytes, logData, "payload must be byte-identical to the pre-migration content")

	imgData, err := a.ReadFile("media/abc123.png")
	require.NoError(t, err)
	assert.Equal(t, rawImageBytes, imgData)

	activityData, err := a.ReadFile("activity/instA.log")
	require.NoError(t, err)
	assert.Equal(t, []byte("n1|instA_1\n"), activityData)

	locked, err := a.Exists(".migration-lock")
	require.NoError(t, err)
	assert.False(t, locked)
}

// TestMigrate_IsIdempotent checks that running the v0-to-v1 migration
// twice is equivalent to running it once.
func TestMigrate_IsIdempotent(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	rawBytes := []byte("raw pre-migration bytes")
	writeRaw(t, a, "notes/n1/logs/instA_1.crdtlog", rawBytes)

	require.NoError(t, sdstore.Migrate(a, time.Now(), 1))
	firstRead, err := a.ReadFile("notes/n1/logs/instA_1.crdtlog")
	require.NoError(t, err)

	// Re-running migrate on an already-v1 SD is a no-op: CheckVersion
	// reports compatible and Migrate returns immediately without touching
	// any data file again.
	require.NoError(t, sdstore.Migrate(a, time.Now(), 1))
	secondRead, err := a.ReadFile("notes/n1/logs/instA_1.crdtlog")
	require.NoError(t, err)

	assert.Equal(t, firstRead, secondRead)
	assert.Equal(t, rawBytes, firstRead)
}

// writeRaw plants bytes with no flag-byte prefix, simulating a pre-
// migration v0 SD where the flag-byte protocol was not yet in effect.
func writeRaw(t *testing.T, a fsadapter.Adapter, path string, data []byte) {
	t.Helper()
	raw, ok := a.(interface {
		WriteRaw(path string, data []byte) error
	})
	require.True(t, ok, "MemAdapter must implement the raw-access capability")
	require.NoError(t, raw.WriteRaw(path, data))
}
