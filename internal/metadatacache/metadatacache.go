// Package metadatacache implements the SQL mirror of note titles, folder
// membership, tags, and profile presence that lets the host application
// answer "list my notes" and "search" without replaying every note's CRDT
// log. It is derived state: everything it holds can be
// rebuilt from the CRDT and the activity/deletion logs at any time, and
// writes to it always follow a CRDT write, never lead it.
//
// Built on modernc.org/sqlite (pure-Go driver) in WAL mode, with
// schema-versioned migrations embedded via embed.FS and run with goose,
// and prepared statements grouped by domain to avoid a flat struct of
// dozens of fields.
package metadatacache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"
)

// walJournalSizeLimit caps the WAL file at 64 MiB before a checkpoint is
// forced.
const walJournalSizeLimit = 67108864

// Note is one row of the notes mirror.
type Note struct {
	SDID        string
	ID          string
	Title       string
	FolderID    string
	ContentText string
	ModifiedMs  int64
	Deleted     bool
	Pinned      bool
}

// Folder is one row of the folders mirror.
type Folder struct {
	SDID      string
	ID        string
	ParentID  string
	Name      string
	SortOrder int
	Deleted   bool
}

// ProfilePresence is one row of the profilePresence mirror — the cached
// view of another instance's profiles/<profileId>.json for this SD.
type ProfilePresence struct {
	SDID          string
	ProfileID     string
	DisplayName   string
	Handle        string
	Hostname      string
	AppVersion    string
	LastUpdatedMs int64
}

// Cache is the process-wide SQL mirror for one profile (spanning every SD
// registered to it — sdId distinguishes rows by origin).
type Cache struct {
	db     *sql.DB
	logger *slog.Logger

	noteStmts     noteStatements
	folderStmts   folderStatements
	tagStmts      tagStatements
	presenceStmts presenceStatements
}

// Statement groups, grouped by domain.
type noteStatements struct {
	upsert, softDelete, get, listByFolder, listAll, deleteFTS, insertFTS, search *sql.Stmt
}

type folderStatements struct {
	upsert, softDelete, get, listBySD *sql.Stmt
}

type tagStatements struct {
	replace, deleteAll, listForNote, listNotesForTag *sql.Stmt
}

type presenceStatements struct {
	upsert, listForSD *sql.Stmt
}

// Open opens (creating if absent) the cache database at dbPath, applies
// migrations, and prepares every statement group. Use ":memory:" for
// tests.
func Open(dbPath string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("opening metadata cache", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("metadatacache: open: %w", err)
	}

	ctx := context.Background()
	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}
	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	c := &Cache{db: db, logger: logger}
	if err := c.prepareAllStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("metadatacache: prepare statements: %w", err)
	}

	logger.Info("metadata cache ready", slog.String("path", dbPath))
	return c, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct{ sql, desc string }{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("metadatacache: set pragma %s: %w", p.desc, err)
		}
		logger.Debug("pragma set", slog.String("pragma", p.desc))
	}
	return nil
}

// stmtDef maps a SQL string to the prepared statement pointer it should
// populate, eliminating repetitive error handling in the per-domain
// prepare functions.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}
		*defs[i].dest = stmt
	}
	return nil
}

func (c *Cache) prepareAllStatements(ctx context.Context) error {
	if err := c.prepareNoteStmts(ctx); err != nil {
		return err
	}
	if err := c.prepareFolderStmts(ctx); err != nil {
		return err
	}
	if err := c.prepareTagStmts(ctx); err != nil {
		return err
	}
	return c.preparePresenceStmts(ctx)
}

const (
	sqlUpsertNote = `INSERT INTO notes
		(sd_id, id, title, folder_id, content_text, modified_ms, deleted, pinned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sd_id, id) DO UPDATE SET
			title = excluded.title,
			folder_id = excluded.folder_id,
			content_text = excluded.content_text,
			modified_ms = excluded.modified_ms,
			deleted = excluded.deleted,
			pinned = excluded.pinned`

	sqlSoftDeleteNote = `UPDATE notes SET deleted = 1, modified_ms = ? WHERE sd_id = ? AND id = ?`

	sqlGetNote = `SELECT sd_id, id, title, folder_id, content_text, modified_ms, deleted, pinned
		FROM notes WHERE sd_id = ? AND id = ?`

	sqlListNotesByFolder = `SELECT sd_id, id, title, folder_id, content_text, modified_ms, deleted, pinned
		FROM notes WHERE sd_id = ? AND folder_id = ? AND deleted = 0
		ORDER BY modified_ms DESC`

	sqlListAllNotes = `SELECT sd_id, id, title, folder_id, content_text, modified_ms, deleted, pinned
		FROM notes WHERE sd_id = ? AND deleted = 0
		ORDER BY modified_ms DESC`

	sqlDeleteNoteFTS = `DELETE FROM notes_fts WHERE note_key = ?`
	sqlInsertNoteFTS = `INSERT INTO notes_fts (note_key, title, content_text) VALUES (?, ?, ?)`
	sqlSearchNoteFTS = `SELECT note_key FROM notes_fts WHERE notes_fts MATCH ? ORDER BY rank`
)

func (c *Cache) prepareNoteStmts(ctx context.Context) error {
	return prepareAll(ctx, c.db, []stmtDef{
		{&c.noteStmts.upsert, sqlUpsertNote, "upsertNote"},
		{&c.noteStmts.softDelete, sqlSoftDeleteNote, "softDeleteNote"},
		{&c.noteStmts.get, sqlGetNote, "getNote"},
		{&c.noteStmts.listByFolder, sqlListNotesByFolder, "listNotesByFolder"},
		{&c.noteStmts.listAll, sqlListAllNotes, "listAllNotes"},
		{&c.noteStmts.deleteFTS, sqlDeleteNoteFTS, "deleteNoteFTS"},
		{&c.noteStmts.insertFTS, sqlInsertNoteFTS, "insertNoteFTS"},
		{&c.noteStmts.search, sqlSearchNoteFTS, "searchNoteFTS"},
	})
}

const (
	sqlUpsertFolder = `INSERT INTO folders (sd_id, id, parent_id, name, sort_order, deleted)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(sd_id, id) DO UPDATE SET
			parent_id = excluded.parent_id,
			name = excluded.name,
			sort_order = excluded.sort_order,
			deleted = excluded.deleted`

	sqlSoftDeleteFolder = `UPDATE folders SET deleted = 1 WHERE sd_id = ? AND id = ?`

	sqlGetFolder = `SELECT sd_id, id, parent_id, name, sort_order, deleted
		FROM folders WHERE sd_id = ? AND id = ?`

	sqlListFoldersBySD = `SELECT sd_id, id, parent_id, name, sort_order, deleted
		FROM folders WHERE sd_id = ? AND deleted = 0
		ORDER BY sort_order, name`
)

func (c *Cache) prepareFolderStmts(ctx context.Context) error {
	return prepareAll(ctx, c.db, []stmtDef{
		{&c.folderStmts.upsert, sqlUpsertFolder, "upsertFolder"},
		{&c.folderStmts.softDelete, sqlSoftDeleteFolder, "softDeleteFolder"},
		{&c.folderStmts.get, sqlGetFolder, "getFolder"},
		{&c.folderStmts.listBySD, sqlListFoldersBySD, "listFoldersBySD"},
	})
}

const (
	sqlDeleteAllTagsForNote = `DELETE FROM tags WHERE sd_id = ? AND note_id = ?`
	sqlInsertTag            = `INSERT OR IGNORE INTO tags (sd_id, note_id, tag) VALUES (?, ?, ?)`
	sqlListTagsForNote      = `SELECT tag FROM tags WHERE sd_id = ? AND note_id = ? ORDER BY tag`
	sqlListNotesForTag      = `SELECT note_id FROM tags WHERE sd_id = ? AND tag = ? ORDER BY note_id`
)

func (c *Cache) prepareTagStmts(ctx context.Context) error {
	return prepareAll(ctx, c.db, []stmtDef{
		{&c.tagStmts.replace, sqlInsertTag, "insertTag"},
		{&c.tagStmts.deleteAll, sqlDeleteAllTagsForNote, "deleteAllTagsForNote"},
		{&c.tagStmts.listForNote, sqlListTagsForNote, "listTagsForNote"},
		{&c.tagStmts.listNotesForTag, sqlListNotesForTag, "listNotesForTag"},
	})
}

const (
	sqlUpsertPresence = `INSERT INTO profile_presence
		(sd_id, profile_id, display_name, handle, hostname, app_version, last_updated_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sd_id, profile_id) DO UPDATE SET
			display_name = excluded.display_name,
			handle = excluded.handle,
			hostname = excluded.hostname,
			app_version = excluded.app_version,
			last_updated_ms = excluded.last_updated_ms`

	sqlListPresenceForSD = `SELECT sd_id, profile_id, display_name, handle, hostname, app_version, last_updated_ms
		FROM profile_presence WHERE sd_id = ? ORDER BY display_name`
)

func (c *Cache) preparePresenceStmts(ctx context.Context) error {
	return prepareAll(ctx, c.db, []stmtDef{
		{&c.presenceStmts.upsert, sqlUpsertPresence, "upsertPresence"},
		{&c.presenceStmts.listForSD, sqlListPresenceForSD, "listPresenceForSD"},
	})
}

func noteKey(sdID, noteID string) string { return sdID + "|" + noteID }

// UpsertNote writes n's current projection into the mirror, replacing its
// full-text index entry in the same transaction so search results are
// never stale relative to the notes table.
func (c *Cache) UpsertNote(ctx context.Context, n Note) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadatacache: UpsertNote: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	key := noteKey(n.SDID, n.ID)
	if _, err := tx.StmtContext(ctx, c.noteStmts.deleteFTS).ExecContext(ctx, key); err != nil {
		return fmt.Errorf("metadatacache: UpsertNote: clear fts: %w", err)
	}
	if _, err := tx.StmtContext(ctx, c.noteStmts.insertFTS).ExecContext(ctx, key, n.Title, n.ContentText); err != nil {
		return fmt.Errorf("metadatacache: UpsertNote: insert fts: %w", err)
	}
	if _, err := tx.StmtContext(ctx, c.noteStmts.upsert).ExecContext(ctx,
		n.SDID, n.ID, n.Title, n.FolderID, n.ContentText, n.ModifiedMs, boolToInt(n.Deleted), boolToInt(n.Pinned)); err != nil {
		return fmt.Errorf("metadatacache: UpsertNote: upsert: %w", err)
	}

	return tx.Commit()
}

// SoftDeleteNote marks a note deleted (tombstoned) without removing its
// row, mirroring the DeletionLog's view so a later undelete would still
// find its title/folder.
func (c *Cache) SoftDeleteNote(ctx context.Context, sdID, noteID string, deletedAtMs int64) error {
	_, err := c.noteStmts.softDelete.ExecContext(ctx, deletedAtMs, sdID, noteID)
	if err != nil {
		return fmt.Errorf("metadatacache: SoftDeleteNote: %w", err)
	}
	return nil
}

func (c *Cache) GetNote(ctx context.Context, sdID, noteID string) (Note, bool, error) {
	row := c.noteStmts.get.QueryRowContext(ctx, sdID, noteID)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return Note{}, false, nil
	}
	if err != nil {
		return Note{}, false, fmt.Errorf("metadatacache: GetNote: %w", err)
	}
	return n, true, nil
}

func (c *Cache) ListNotesByFolder(ctx context.Context, sdID, folderID string) ([]Note, error) {
	rows, err := c.noteStmts.listByFolder.QueryContext(ctx, sdID, folderID)
	if err != nil {
		return nil, fmt.Errorf("metadatacache: ListNotesByFolder: %w", err)
	}
	return scanNotes(rows)
}

func (c *Cache) ListAllNotes(ctx context.Context, sdID string) ([]Note, error) {
	rows, err := c.noteStmts.listAll.QueryContext(ctx, sdID)
	if err != nil {
		return nil, fmt.Errorf("metadatacache: ListAllNotes: %w", err)
	}
	return scanNotes(rows)
}

// SearchNotes runs an FTS5 MATCH query over title and content, returning
// matching note ids in relevance order.
func (c *Cache) SearchNotes(ctx context.Context, sdID, query string) ([]string, error) {
	rows, err := c.noteStmts.search.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("metadatacache: SearchNotes: %w", err)
	}
	defer rows.Close()

	var ids []string
	prefix := sdID + "|"
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("metadatacache: SearchNotes: scan: %w", err)
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		ids = append(ids, strings.TrimPrefix(key, prefix))
	}
	return ids, rows.Err()
}

func scanNote(row interface{ Scan(...any) error }) (Note, error) {
	var n Note
	var deleted, pinned int
	err := row.Scan(&n.SDID, &n.ID, &n.Title, &n.FolderID, &n.ContentText, &n.ModifiedMs, &deleted, &pinned)
	if err != nil {
		return Note{}, err
	}
	n.Deleted = deleted != 0
	n.Pinned = pinned != 0
	return n, nil
}

func scanNotes(rows *sql.Rows) ([]Note, error) {
	defer rows.Close()
	var notes []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("metadatacache: scan note row: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// UpsertFolder writes f's current projection into the mirror.
func (c *Cache) UpsertFolder(ctx context.Context, f Folder) error {
	_, err := c.folderStmts.upsert.ExecContext(ctx, f.SDID, f.ID, f.ParentID, f.Name, f.SortOrder, boolToInt(f.Deleted))
	if err != nil {
		return fmt.Errorf("metadatacache: UpsertFolder: %w", err)
	}
	return nil
}

func (c *Cache) SoftDeleteFolder(ctx context.Context, sdID, folderID string) error {
	_, err := c.folderStmts.softDelete.ExecContext(ctx, sdID, folderID)
	if err != nil {
		return fmt.Errorf("metadatacache: SoftDeleteFolder: %w", err)
	}
	return nil
}

func (c *Cache) GetFolder(ctx context.Context, sdID, folderID string) (Folder, bool, error) {
	row := c.folderStmts.get.QueryRowContext(ctx, sdID, folderID)
	var f Folder
	var deleted int
	err := row.Scan(&f.SDID, &f.ID, &f.ParentID, &f.Name, &f.SortOrder, &deleted)
	if err == sql.ErrNoRows {
		return Folder{}, false, nil
	}
	if err != nil {
		return Folder{}, false, fmt.Errorf("metadatacache: GetFolder: %w", err)
	}
	f.Deleted = deleted != 0
	return f, true, nil
}

func (c *Cache) ListFolders(ctx context.Context, sdID string) ([]Folder, error) {
	rows, err := c.folderStmts.listBySD.QueryContext(ctx, sdID)
	if err != nil {
		return nil, fmt.Errorf("metadatacache: ListFolders: %w", err)
	}
	defer rows.Close()

	var folders []Folder
	for rows.Next() {
		var f Folder
		var deleted int
		if err := rows.Scan(&f.SDID, &f.ID, &f.ParentID, &f.Name, &f.SortOrder, &deleted); err != nil {
			return nil, fmt.Errorf("metadatacache: ListFolders: scan: %w", err)
		}
		f.Deleted = deleted != 0
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// SetTags replaces noteId's full tag set with tags, in one transaction.
func (c *Cache) SetTags(ctx context.Context, sdID, noteID string, tags []string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadatacache: SetTags: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.StmtContext(ctx, c.tagStmts.deleteAll).ExecContext(ctx, sdID, noteID); err != nil {
		return fmt.Errorf("metadatacache: SetTags: clear: %w", err)
	}
	for _, tag := range tags {
		if _, err := tx.StmtContext(ctx, c.tagStmts.replace).ExecContext(ctx, sdID, noteID, tag); err != nil {
			return fmt.Errorf("metadatacache: SetTags: insert: %w", err)
		}
	}
	return tx.Commit()
}

func (c *Cache) ListTags(ctx context.Context, sdID, noteID string) ([]string, error) {
	rows, err := c.tagStmts.listForNote.QueryContext(ctx, sdID, noteID)
	if err != nil {
		return nil, fmt.Errorf("metadatacache: ListTags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("metadatacache: ListTags: scan: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (c *Cache) ListNotesForTag(ctx context.Context, sdID, tag string) ([]string, error) {
	rows, err := c.tagStmts.listNotesForTag.QueryContext(ctx, sdID, tag)
	if err != nil {
		return nil, fmt.Errorf("metadatacache: ListNotesForTag: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("metadatacache: ListNotesForTag: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertProfilePresence records the cached view of a peer's
// profiles/<profileId>.json for sdID.
func (c *Cache) UpsertProfilePresence(ctx context.Context, p ProfilePresence) error {
	_, err := c.presenceStmts.upsert.ExecContext(ctx,
		p.SDID, p.ProfileID, p.DisplayName, p.Handle, p.Hostname, p.AppVersion, p.LastUpdatedMs)
	if err != nil {
		return fmt.Errorf("metadatacache: UpsertProfilePresence: %w", err)
	}
	return nil
}

func (c *Cache) ListProfilePresence(ctx context.Context, sdID string) ([]ProfilePresence, error) {
	rows, err := c.presenceStmts.listForSD.QueryContext(ctx, sdID)
	if err != nil {
		return nil, fmt.Errorf("metadatacache: ListProfilePresence: %w", err)
	}
	defer rows.Close()

	var out []ProfilePresence
	for rows.Next() {
		var p ProfilePresence
		if err := rows.Scan(&p.SDID, &p.ProfileID, &p.DisplayName, &p.Handle, &p.Hostname, &p.AppVersion, &p.LastUpdatedMs); err != nil {
			return nil, fmt.Errorf("metadatacache: ListProfilePresence: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
