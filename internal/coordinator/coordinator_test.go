package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notecove/notecove/internal/coordinator"
	"github.com/notecove/notecove/internal/crdt"
	"github.com/notecove/notecove/internal/deletionlog"
	"github.com/notecove/notecove/internal/foldertree"
	"github.com/notecove/notecove/internal/fsadapter"
	"github.com/notecove/notecove/internal/metadatacache"
	"github.com/notecove/notecove/internal/notedoc"
	"github.com/notecove/notecove/internal/notemove"
)

func newTestCoordinator(t *testing.T) (*coordinator.Coordinator, *metadatacache.Cache) {
	t.Helper()
	cache, err := metadatacache.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	c := coordinator.New("instA", cache, nil, coordinator.WithClock(func() time.Time {
		return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	}))
	return c, cache
}

func editUpdate(t *testing.T, field string, value any, clock uint64) []byte {
	t.Helper()
	update, err := crdt.MakeUpdate(field, value, clock, "instA")
	require.NoError(t, err)
	return update
}

// TestLoadNote_CreatesAndAppliesEditOriginUpdate_ProjectsIntoCache covers
// S1-style create+edit flow: a first load of an unseen note id starts a
// fresh document, an OriginEdit update persists to disk and lands in the
// MetadataCache projection.
func TestLoadNote_CreatesAndAppliesEditOriginUpdate_ProjectsIntoCache(t *testing.T) {
	c, cache := newTestCoordinator(t)
	adapter := fsadapter.NewMemAdapter()
	require.NoError(t, c.RegisterSD("sd1", adapter))

	noteID, err := c.CreateNote("sd1")
	require.NoError(t, err)

	update := editUpdate(t, "contentText", "Groceries\nmilk, eggs", 1)
	require.NoError(t, c.ApplyUpdate("sd1", noteID, update, notedoc.OriginEdit))

	got, found, err := cache.GetNote(context.Background(), "sd1", noteID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Groceries", got.Title)
	assert.Contains(t, got.ContentText, "milk, eggs")
}

// TestApplyUpdate_IPCOriginDoesNotPersistButStillProjects exercises the
// double-write-bug fix end to end: an IPC-relayed update must not append
// to this instance's own log, but must still update the cache and notify
// subscribers.
func TestApplyUpdate_IPCOriginDoesNotPersistButStillProjects(t *testing.T) {
	c, cache := newTestCoordinator(t)
	adapter := fsadapter.NewMemAdapter()
	require.NoError(t, c.RegisterSD("sd1", adapter))

	noteID, err := c.CreateNote("sd1")
	require.NoError(t, err)

	update := editUpdate(t, "contentText", "Relayed title", 5)
	require.NoError(t, c.ApplyUpdate("sd1", noteID, update, notedoc.OriginIPC))

	names, err := adapter.ListDir("notes/" + noteID + "/logs")
	require.NoError(t, err)
	assert.Empty(t, names, "an IPC-origin update must not append to this instance's own log")

	got, found, err := cache.GetNote(context.Background(), "sd1", noteID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Relayed title", got.Title)
}

// TestObserveUpdates_FiresForEveryOrigin confirms the single subscription
// registered at load time drives callers for edit, IPC, and reload origins
// alike.
func TestObserveUpdates_FiresForEveryOrigin(t *testing.T) {
	c, _ := newTestCoordinator(t)
	adapter := fsadapter.NewMemAdapter()
	require.NoError(t, c.RegisterSD("sd1", adapter))

	noteID, err := c.CreateNote("sd1")
	require.NoError(t, err)

	var origins []notedoc.Origin
	unsubscribe, err := c.ObserveUpdates("sd1", noteID, func(ev notedoc.UpdateEvent) {
		origins = append(origins, ev.Origin)
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, c.ApplyUpdate("sd1", noteID, editUpdate(t, "contentText", "a", 1), notedoc.OriginEdit))
	require.NoError(t, c.ApplyUpdate("sd1", noteID, editUpdate(t, "contentText", "b", 2), notedoc.OriginIPC))

	require.Equal(t, []notedoc.Origin{notedoc.OriginEdit, notedoc.OriginIPC}, origins)
}

// TestSoftDeleteAndRestoreNote_RoundTrips covers the tombstone lifecycle:
// soft-delete marks the cache row deleted and IsDeleted true; restore
// reverses both.
func TestSoftDeleteAndRestoreNote_RoundTrips(t *testing.T) {
	c, cache := newTestCoordinator(t)
	adapter := fsadapter.NewMemAdapter()
	require.NoError(t, c.RegisterSD("sd1", adapter))

	noteID, err := c.CreateNote("sd1")
	require.NoError(t, err)
	require.NoError(t, c.ApplyUpdate("sd1", noteID, editUpdate(t, "contentText", "x", 1), notedoc.OriginEdit))

	require.NoError(t, c.SoftDeleteNote("sd1", noteID))
	deleted, err := c.IsDeleted("sd1", noteID)
	require.NoError(t, err)
	assert.True(t, deleted)

	got, found, err := cache.GetNote(context.Background(), "sd1", noteID)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.Deleted)

	require.NoError(t, c.RestoreNote("sd1", noteID))
	deleted, err = c.IsDeleted("sd1", noteID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

// TestFolders_CreateRenameDeleteReparent_ReparentsNotesToParent exercises
// folder CRUD plus ModeReparent's "reparent contained notes" behavior.
func TestFolders_CreateRenameDeleteReparent_ReparentsNotesToParent(t *testing.T) {
	c, cache := newTestCoordinator(t)
	adapter := fsadapter.NewMemAdapter()
	require.NoError(t, c.RegisterSD("sd1", adapter))

	rootChild, err := c.CreateFolder("sd1", "Work", "", 0)
	require.NoError(t, err)
	require.NoError(t, c.RenameFolder("sd1", rootChild, "Work Projects"))

	folders, err := c.ListFolders("sd1")
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "Work Projects", folders[0].Name)

	noteID, err := c.CreateNote("sd1")
	require.NoError(t, err)
	require.NoError(t, c.ApplyUpdate("sd1", noteID, editUpdate(t, "folderId", rootChild, 1), notedoc.OriginEdit))
	require.NoError(t, c.ApplyUpdate("sd1", noteID, editUpdate(t, "contentText", "note in folder", 2), notedoc.OriginEdit))

	require.NoError(t, c.DeleteFolder("sd1", rootChild, foldertree.ModeReparent))

	got, found, err := cache.GetNote(context.Background(), "sd1", noteID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "", got.FolderID, "ModeReparent must reparent contained notes to the deleted folder's parent")
}

// TestMoveNote_CrossSD_RelocatesNoteAndUpdatesCacheOnBothSides exercises
// S6's cross-SD move: the target SD gains a cache row, the source SD's
// row is soft-deleted, and the note is no longer loaded in the source
// SD's in-memory state.
func TestMoveNote_CrossSD_RelocatesNoteAndUpdatesCacheOnBothSides(t *testing.T) {
	c, cache := newTestCoordinator(t)
	sourceAdapter := fsadapter.NewMemAdapter()
	targetAdapter := fsadapter.NewMemAdapter()
	require.NoError(t, c.RegisterSD("sd1", sourceAdapter))
	require.NoError(t, c.RegisterSD("sd2", targetAdapter))

	noteID, err := c.CreateNote("sd1")
	require.NoError(t, err)
	require.NoError(t, c.ApplyUpdate("sd1", noteID, editUpdate(t, "contentText", "Take me along", 1), notedoc.OriginEdit))

	targetNoteID, err := c.MoveNote("sd1", "sd2", noteID, notemove.ConflictError)
	require.NoError(t, err)
	assert.Equal(t, noteID, targetNoteID)

	targetGot, found, err := cache.GetNote(context.Background(), "sd2", targetNoteID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Take me along", targetGot.Title)

	sourceGot, found, err := cache.GetNote(context.Background(), "sd1", noteID)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, sourceGot.Deleted)

	loaded, err := c.LoadNote("sd1", noteID)
	require.NoError(t, err)
	assert.NotEmpty(t, loaded, "source SD must still be able to reload the (now-empty) note state without error")
}

// TestImageGet_FallsBackToOtherRegisteredSDAndCachesLocally exercises the
// cross-SD image probe.
func TestImageGet_FallsBackToOtherRegisteredSDAndCachesLocally(t *testing.T) {
	c, _ := newTestCoordinator(t)
	sourceAdapter := fsadapter.NewMemAdapter()
	otherAdapter := fsadapter.NewMemAdapter()
	require.NoError(t, c.RegisterSD("sd1", sourceAdapter))
	require.NoError(t, c.RegisterSD("sd2", otherAdapter))

	imageID, err := c.ImagePut("sd2", []byte("photo-bytes"), "jpg")
	require.NoError(t, err)

	data, err := c.ImageGet("sd1", imageID)
	require.NoError(t, err)
	assert.Equal(t, []byte("photo-bytes"), data)
}

// TestDiscoverOnWake_LoadsNoteWrittenDirectlyToDiskAndSkipsTombstoned
// covers wake-from-sleep discovery: a note a peer instance wrote straight
// to the shared SD, with no IPC broadcast and no prior Coordinator in this
// process ever having seen it, still ends up in the cache once discovery
// runs; a tombstoned peer note is left alone.
func TestDiscoverOnWake_LoadsNoteWrittenDirectlyToDiskAndSkipsTombstoned(t *testing.T) {
	adapter := fsadapter.NewMemAdapter()

	peer, err := notedoc.Load(adapter, "visible-note", "instPeer")
	require.NoError(t, err)
	require.NoError(t, peer.ApplyUpdate(editUpdate(t, "contentText", "from peer", 1), notedoc.OriginEdit))

	hiddenPeer, err := notedoc.Load(adapter, "hidden-note", "instPeer")
	require.NoError(t, err)
	require.NoError(t, hiddenPeer.ApplyUpdate(editUpdate(t, "contentText", "deleted by peer", 1), notedoc.OriginEdit))
	require.NoError(t, deletionlog.Append(adapter, "instPeer", "hidden-note", deletionlog.OpDelete, 1))

	c, cache := newTestCoordinator(t)
	require.NoError(t, c.RegisterSD("sd1", adapter))

	got, found, err := cache.GetNote(context.Background(), "sd1", "visible-note")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "from peer", got.Title)

	_, found, err = cache.GetNote(context.Background(), "sd1", "hidden-note")
	require.NoError(t, err)
	assert.False(t, found, "a tombstoned peer note must not be discovered into the cache")
}
