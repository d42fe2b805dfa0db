package metadatacache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notecove/notecove/internal/metadatacache"
)

func openTestCache(t *testing.T) *metadatacache.Cache {
	t.Helper()
	c, err := metadatacache.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestUpsertAndGetNote_RoundTrips(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	n := metadatacache.Note{SDID: "sd1", ID: "n1", Title: "Hello", FolderID: "f1", ContentText: "hello world", ModifiedMs: 100, Pinned: true}
	require.NoError(t, c.UpsertNote(ctx, n))

	got, found, err := c.GetNote(ctx, "sd1", "n1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Hello", got.Title)
	assert.Equal(t, "f1", got.FolderID)
	assert.True(t, got.Pinned)
	assert.False(t, got.Deleted)
}

func TestUpsertNote_OverwritesPreviousProjection(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.UpsertNote(ctx, metadatacache.Note{SDID: "sd1", ID: "n1", Title: "v1", ModifiedMs: 1}))
	require.NoError(t, c.UpsertNote(ctx, metadatacache.Note{SDID: "sd1", ID: "n1", Title: "v2", ModifiedMs: 2}))

	got, found, err := c.GetNote(ctx, "sd1", "n1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v2", got.Title)
	assert.EqualValues(t, 2, got.ModifiedMs)
}

func TestSoftDeleteNote_ExcludedFromListButGettable(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.UpsertNote(ctx, metadatacache.Note{SDID: "sd1", ID: "n1", Title: "x", FolderID: "f1", ModifiedMs: 1}))
	require.NoError(t, c.SoftDeleteNote(ctx, "sd1", "n1", 50))

	notes, err := c.ListNotesByFolder(ctx, "sd1", "f1")
	require.NoError(t, err)
	assert.Empty(t, notes, "deleted notes must not appear in folder listing")

	got, found, err := c.GetNote(ctx, "sd1", "n1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.Deleted)
}

func TestListNotesByFolder_ScopedBySDAndFolder(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.UpsertNote(ctx, metadatacache.Note{SDID: "sd1", ID: "n1", FolderID: "f1", ModifiedMs: 1}))
	require.NoError(t, c.UpsertNote(ctx, metadatacache.Note{SDID: "sd1", ID: "n2", FolderID: "f2", ModifiedMs: 2}))
	require.NoError(t, c.UpsertNote(ctx, metadatacache.Note{SDID: "sd2", ID: "n3", FolderID: "f1", ModifiedMs: 3}))

	notes, err := c.ListNotesByFolder(ctx, "sd1", "f1")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "n1", notes[0].ID)
}

func TestSearchNotes_MatchesTitleAndContentAndIsScopedBySD(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.UpsertNote(ctx, metadatacache.Note{SDID: "sd1", ID: "n1", Title: "Grocery list", ContentText: "milk eggs bread", ModifiedMs: 1}))
	require.NoError(t, c.UpsertNote(ctx, metadatacache.Note{SDID: "sd1", ID: "n2", Title: "Meeting notes", ContentText: "discuss roadmap", ModifiedMs: 2}))
	require.NoError(t, c.UpsertNote(ctx, metadatacache.Note{SDID: "sd2", ID: "n3", Title: "Grocery run", ContentText: "milk", ModifiedMs: 3}))

	ids, err := c.SearchNotes(ctx, "sd1", "milk")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, ids)

	ids, err = c.SearchNotes(ctx, "sd1", "roadmap")
	require.NoError(t, err)
	assert.Equal(t, []string{"n2"}, ids)
}

func TestSearchNotes_ReflectsLatestUpsertNotStaleIndex(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.UpsertNote(ctx, metadatacache.Note{SDID: "sd1", ID: "n1", Title: "apples", ModifiedMs: 1}))
	require.NoError(t, c.UpsertNote(ctx, metadatacache.Note{SDID: "sd1", ID: "n1", Title: "oranges", ModifiedMs: 2}))

	ids, err := c.SearchNotes(ctx, "sd1", "apples")
	require.NoError(t, err)
	assert.Empty(t, ids, "the fts index must not retain the note's previous title")

	ids, err = c.SearchNotes(ctx, "sd1", "oranges")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, ids)
}

func TestFolders_UpsertListAndSoftDelete(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.UpsertFolder(ctx, metadatacache.Folder{SDID: "sd1", ID: "f1", Name: "Work", SortOrder: 1}))
	require.NoError(t, c.UpsertFolder(ctx, metadatacache.Folder{SDID: "sd1", ID: "f2", Name: "Home", SortOrder: 0}))

	folders, err := c.ListFolders(ctx, "sd1")
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, "f2", folders[0].ID, "folders must list in sort_order then name")

	require.NoError(t, c.SoftDeleteFolder(ctx, "sd1", "f1"))
	folders, err = c.ListFolders(ctx, "sd1")
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "f2", folders[0].ID)
}

func TestSetTags_ReplacesFullSet(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetTags(ctx, "sd1", "n1", []string{"work", "urgent"}))
	tags, err := c.ListTags(ctx, "sd1", "n1")
	require.NoError(t, err)
	assert.Equal(t, []string{"urgent", "work"}, tags)

	require.NoError(t, c.SetTags(ctx, "sd1", "n1", []string{"personal"}))
	tags, err = c.ListTags(ctx, "sd1", "n1")
	require.NoError(t, err)
	assert.Equal(t, []string{"personal"}, tags)
}

func TestListNotesForTag_ScopedBySD(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetTags(ctx, "sd1", "n1", []string{"work"}))
	require.NoError(t, c.SetTags(ctx, "sd1", "n2", []string{"work"}))
	require.NoError(t, c.SetTags(ctx, "sd2", "n3", []string{"work"}))

	ids, err := c.ListNotesForTag(ctx, "sd1", "work")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2"}, ids)
}

func TestProfilePresence_UpsertAndList(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.UpsertProfilePresence(ctx, metadatacache.ProfilePresence{
		SDID: "sd1", ProfileID: "p1", DisplayName: "Alice", Hostname: "alice-laptop", LastUpdatedMs: 10,
	}))
	require.NoError(t, c.UpsertProfilePresence(ctx, metadatacache.ProfilePresence{
		SDID: "sd1", ProfileID: "p1", DisplayName: "Alice", Hostname: "alice-desktop", LastUpdatedMs: 20,
	}))

	list, err := c.ListProfilePresence(ctx, "sd1")
	require.NoError(t, err)
	require.Len(t, list, 1, "re-upserting the same profileId must update, not duplicate")
	assert.Equal(t, "alice-desktop", list[0].Hostname)
}
