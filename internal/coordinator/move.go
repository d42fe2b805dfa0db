package coordinator

import (
	"context"
	"fmt"

	"github.com/notecove/notecove/internal/idutil"
	"github.com/notecove/notecove/internal/notemove"
)

func sdToMoveSD(sd *sdState) notemove.SD {
	return notemove.SD{ID: sd.id, Adapter: sd.adapter, Images: sd.images}
}

// MoveNote implements note.move: it drives the source and target SDs'
// NoteMoveManager through the crash-recoverable move state machine
//, unloading the source NoteDoc so a stale in-memory copy
// doesn't resurrect the tombstoned note.
func (c *Coordinator) MoveNote(sourceSDID, targetSDID, noteID string, conflict notemove.ConflictResolution) (targetNoteID string, err error) {
	source, err := c.sdOrErr(sourceSDID)
	if err != nil {
		return "", err
	}
	target, err := c.sdOrErr(targetSDID)
	if err != nil {
		return "", err
	}

	nd, err := c.ensureNoteLoaded(source, noteID)
	if err != nil {
		return "", err
	}
	imageIDs := nd.ImageIDs()

	targetNoteID = noteID
	moveID := idutil.NewUUID()
	rec, err := c.moveMgr.StartMove(sdToMoveSD(source), sdToMoveSD(target), moveID, noteID, targetNoteID, conflict, imageIDs)
	if err != nil {
		return "", fmt.Errorf("coordinator: MoveNote: %w", err)
	}

	source.mu.Lock()
	delete(source.notes, noteID)
	source.mu.Unlock()

	if rec.State != notemove.StateCompleted {
		return "", fmt.Errorf("coordinator: MoveNote: move %s ended in state %s", moveID, rec.State)
	}
	return rec.TargetNoteID, nil
}

// ResumeMoves replays any in-flight .moves/*.json entries left on sdID
// from a previous process's crash, using resolver to find each entry's
// target SD among the currently registered ones.
func (c *Coordinator) ResumeMoves(sdID string) error {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return err
	}
	_, err = c.moveMgr.Resume(sdToMoveSD(sd), func(targetSDID string) (notemove.SD, bool) {
		target, tErr := c.sdOrErr(targetSDID)
		if tErr != nil {
			return notemove.SD{}, false
		}
		return sdToMoveSD(target), true
	})
	return err
}

// onMoveDBUpdated is notemove.Hooks.OnDBUpdated: it projects the moved
// note into the target SD's MetadataCache row and announces it, mirroring
// what CreateNote does for a freshly authored note.
func (c *Coordinator) onMoveDBUpdated(target notemove.SD, sourceNoteID, targetNoteID string) error {
	sd, err := c.sdOrErr(target.ID)
	if err != nil {
		return err
	}
	nd, err := c.ensureNoteLoaded(sd, targetNoteID)
	if err != nil {
		return err
	}
	if err := c.projectNote(target.ID, nd); err != nil {
		return err
	}
	c.hub.Broadcast(Event{Type: EventNoteCreated, SDID: target.ID, NoteID: targetNoteID})
	return nil
}

// onMoveSourceRemoved is notemove.Hooks.OnSourceRemoved: it drops the
// source SD's cache row for the note and announces its removal.
func (c *Coordinator) onMoveSourceRemoved(source notemove.SD, sourceNoteID string) error {
	if err := c.cache.SoftDeleteNote(context.Background(), source.ID, sourceNoteID, c.now().UnixMilli()); err != nil {
		return err
	}
	c.hub.Broadcast(Event{Type: EventNoteDeleted, SDID: source.ID, NoteID: sourceNoteID})
	return nil
}
