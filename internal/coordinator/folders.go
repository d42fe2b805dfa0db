package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/notecove/notecove/internal/foldertree"
	"github.com/notecove/notecove/internal/idutil"
	"github.com/notecove/notecove/internal/metadatacache"
)

// reparenter adapts a Coordinator's loaded notes for one SD to
// foldertree.NoteReparenter, so FolderTreeDoc.DeleteFolder can move a
// deleted folder's notes to its parent (or root) without importing notedoc.
type reparenter struct {
	c  *Coordinator
	sd *sdState
}

func (r *reparenter) ReparentNotes(fromFolderID, toFolderID string) error {
	notes, err := r.c.cache.ListNotesByFolder(context.Background(), r.sd.id, fromFolderID)
	if err != nil {
		return err
	}
	for _, n := range notes {
		nd, err := r.c.ensureNoteLoaded(r.sd, n.ID)
		if err != nil {
			return err
		}
		var folderID any = toFolderID
		if toFolderID == "" {
			folderID = nil
		}
		if err := nd.SetField("folderId", folderID); err != nil {
			return err
		}
	}
	return nil
}

// CreateFolder implements folder.create.
func (c *Coordinator) CreateFolder(sdID, name, parentID string, order int) (string, error) {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return "", err
	}
	id := idutil.NewUUID()
	if err := sd.folders.AddFolder(id, name, parentID, order); err != nil {
		return "", err
	}
	if err := c.projectFolder(sdID, id); err != nil {
		c.logger.Warn("coordinator: projecting folder into cache failed", slog.String("folder", id), slog.Any("err", err))
	}
	c.hub.Broadcast(Event{Type: EventFolderChanged, SDID: sdID, Detail: id})
	return id, nil
}

// RenameFolder implements folder.rename.
func (c *Coordinator) RenameFolder(sdID, folderID, name string) error {
	return c.mutateFolder(sdID, folderID, func(sd *sdState) error {
		return sd.folders.RenameFolder(folderID, name)
	})
}

// MoveFolder implements folder.move (reparent within the same SD; cross-SD
// folder moves are not part.10, which scopes NoteMoveManager
// to notes).
func (c *Coordinator) MoveFolder(sdID, folderID, newParentID string, order int) error {
	return c.mutateFolder(sdID, folderID, func(sd *sdState) error {
		return sd.folders.MoveFolder(folderID, newParentID, order)
	})
}

// DeleteFolder implements folder.delete. mode selects whether contained
// notes/subfolders are deleted along with it or reparented to the deleted
// folder's parent — per foldertree.DeleteMode.
func (c *Coordinator) DeleteFolder(sdID, folderID string, mode foldertree.DeleteMode) error {
	return c.mutateFolder(sdID, folderID, func(sd *sdState) error {
		return sd.folders.DeleteFolder(folderID, mode, &reparenter{c, sd})
	})
}

func (c *Coordinator) mutateFolder(sdID, folderID string, fn func(sd *sdState) error) error {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return err
	}
	if err := fn(sd); err != nil {
		return err
	}
	if err := c.projectFolder(sdID, folderID); err != nil {
		c.logger.Warn("coordinator: projecting folder into cache failed", slog.String("folder", folderID), slog.Any("err", err))
	}
	c.hub.Broadcast(Event{Type: EventFolderChanged, SDID: sdID, Detail: folderID})
	return nil
}

func (c *Coordinator) projectFolder(sdID, folderID string) error {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return err
	}
	for _, f := range sd.folders.ListAllFolders() {
		if f.ID != folderID {
			continue
		}
		return c.cache.UpsertFolder(context.Background(), metadatacache.Folder{
			SDID:      sdID,
			ID:        f.ID,
			Name:      f.Name,
			ParentID:  f.ParentID,
			SortOrder: f.Order,
			Deleted:   f.Deleted,
		})
	}
	return fmt.Errorf("coordinator: projectFolder: folder %q vanished after mutation", folderID)
}

// ListFolders implements folder.list.
func (c *Coordinator) ListFolders(sdID string) ([]foldertree.Folder, error) {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return nil, err
	}
	return sd.folders.ListFolders(), nil
}
