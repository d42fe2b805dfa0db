package fsadapter_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notecove/notecove/internal/fsadapter"
	"github.com/notecove/notecove/internal/ncerr"
)

func TestIsFlagBytePath(t *testing.T) {
	assert.True(t, fsadapter.IsFlagBytePath("notes/n1/logs/a_1.crdtlog"))
	assert.True(t, fsadapter.IsFlagBytePath("folders/tree.crdtlog"))
	assert.True(t, fsadapter.IsFlagBytePath("media/abc123.png"))
	assert.False(t, fsadapter.IsFlagBytePath("activity/i1.log"))
	assert.False(t, fsadapter.IsFlagBytePath("deletions/i1.log"))
	assert.False(t, fsadapter.IsFlagBytePath("SD_VERSION"))
	assert.False(t, fsadapter.IsFlagBytePath("profiles/p1.json"))
}

// adapters returns both implementations under test, so every contract test
// in this file runs identically against OSAdapter and MemAdapter.
func adapters(t *testing.T) map[string]fsadapter.Adapter {
	t.Helper()
	dir := t.TempDir()
	return map[string]fsadapter.Adapter{
		"os":  fsadapter.NewOSAdapter(dir, slog.New(slog.NewTextHandler(os.Stderr, nil))),
		"mem": fsadapter.NewMemAdapter(),
	}
}

func TestWriteThenReadFile_FlagBytePath_RoundTrips(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, a.WriteFile("notes/n1/logs/a_1.crdtlog", []byte("hello world")))
			data, err := a.ReadFile("notes/n1/logs/a_1.crdtlog")
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(data))
		})
	}
}

func TestWriteThenReadFile_PlainPath_RoundTrips(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, a.WriteFile("activity/i1.log", []byte("line1\n")))
			data, err := a.ReadFile("activity/i1.log")
			require.NoError(t, err)
			assert.Equal(t, "line1\n", string(data))
		})
	}
}

// TestReadFile_IncompleteFlagByte_NeverReturnsGarbage exercises Testable
// Property 1: a reader of a flag-byte path either returns the exact
// payload, or fails with Incomplete/Corrupt — never garbage bytes.
func TestReadFile_IncompleteFlagByte_NeverReturnsGarbage(t *testing.T) {
	dir := t.TempDir()
	// Write the raw bytes directly, bypassing WriteFile, to simulate a
	// cloud-sync client that has only replicated the first half of the
	// writer's fsync sequence (scenario S1).
	full := filepath.Join(dir, "notes", "n1", "logs")
	require.NoError(t, os.MkdirAll(full, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(full, "a_1.crdtlog"), []byte{0x00, 'p', 'a', 'r', 't'}, 0o644))

	a := fsadapter.NewOSAdapter(dir, slog.Default())
	data, err := a.ReadFile("notes/n1/logs/a_1.crdtlog")
	assert.Nil(t, data)
	require.Error(t, err)
	assert.Equal(t, ncerr.KindIncomplete, ncerr.KindOf(err))
}

func TestReadFile_InvalidFlagByte_ReturnsCorrupt(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "notes", "n1", "logs")
	require.NoError(t, os.MkdirAll(full, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(full, "a_1.crdtlog"), []byte{0xFF, 'x'}, 0o644))

	a := fsadapter.NewOSAdapter(dir, slog.Default())
	_, err := a.ReadFile("notes/n1/logs/a_1.crdtlog")
	require.Error(t, err)
	assert.Equal(t, ncerr.KindCorrupt, ncerr.KindOf(err))
}

func TestReadFile_MissingFile_ReturnsNotFound(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			_, err := a.ReadFile("notes/missing/logs/a_1.crdtlog")
			require.Error(t, err)
			assert.Equal(t, ncerr.KindNotFound, ncerr.KindOf(err))
		})
	}
}

func TestAppendFile_FlagBytePath_StaysReadableAfterMultipleAppends(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, a.WriteFile("notes/n1/logs/a_1.crdtlog", []byte("AA")))
			require.NoError(t, a.AppendFile("notes/n1/logs/a_1.crdtlog", []byte("BB")))
			require.NoError(t, a.AppendFile("notes/n1/logs/a_1.crdtlog", []byte("CC")))

			data, err := a.ReadFile("notes/n1/logs/a_1.crdtlog")
			require.NoError(t, err)
			assert.Equal(t, "AABBCC", string(data))
		})
	}
}

func TestListDir_ReturnsBasenamesOnly(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, a.WriteFile("notes/n1/logs/a_1.crdtlog", []byte("x")))
			require.NoError(t, a.WriteFile("notes/n1/logs/b_1.crdtlog", []byte("y")))

			names, err := a.ListDir("notes/n1/logs")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a_1.crdtlog", "b_1.crdtlog"}, names)
		})
	}
}

func TestListDir_MissingDir_ReturnsEmptyNotError(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			names, err := a.ListDir("notes/does-not-exist/logs")
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestDeleteFile_MissingFile_NotAnError(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, a.DeleteFile("notes/n1/logs/missing.crdtlog"))
		})
	}
}

func TestWatch_SuppressesPreexistingAddEvents(t *testing.T) {
	dir := t.TempDir()
	logsDir := filepath.Join(dir, "notes", "n1", "logs")
	require.NoError(t, os.MkdirAll(logsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(logsDir, "preexisting.crdtlog"), []byte{0x01}, 0o644))

	a := fsadapter.NewOSAdapter(dir, slog.Default())
	events, closeFn, err := a.Watch("notes/n1/logs")
	require.NoError(t, err)
	defer closeFn()

	require.NoError(t, os.WriteFile(filepath.Join(logsDir, "new.crdtlog"), []byte{0x01}, 0o644))

	select {
	case ev := <-events:
		assert.Equal(t, "new.crdtlog", ev.Name)
		assert.Equal(t, fsadapter.EventAdd, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for add event")
	}
}

func TestMemAdapter_Watch_DeliversWriteAndDeleteEvents(t *testing.T) {
	a := fsadapter.NewMemAdapter()
	events, closeFn, err := a.Watch("notes/n1/logs")
	require.NoError(t, err)
	defer closeFn()

	require.NoError(t, a.WriteFile("notes/n1/logs/a_1.crdtlog", []byte("x")))
	ev := <-events
	assert.Equal(t, fsadapter.EventAdd, ev.Type)
	assert.Equal(t, "a_1.crdtlog", ev.Name)

	require.NoError(t, a.DeleteFile("notes/n1/logs/a_1.crdtlog"))
	ev = <-events
	assert.Equal(t, fsadapter.EventRemove, ev.Type)
}
