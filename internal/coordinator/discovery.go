package coordinator

import (
	"context"
	"log/slog"

	"github.com/notecove/notecove/internal/deletionlog"
)

// DiscoverOnWake walks sdID's notes/ directory and loads every note that
// isn't yet reflected in the MetadataCache projection — the case this
// instance went to sleep (or a peer created notes while this instance was
// entirely offline) and came back with no fsnotify event to tell it
// anything changed. It walks the tree, diffs against known state, and
// treats every unknown entry as a create. Tombstoned notes (per
// DeletionLog) are skipped rather than reloaded, so a wake doesn't
// resurrect something deliberately deleted.
func (c *Coordinator) DiscoverOnWake(sdID string) error {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return err
	}

	onDisk, err := sd.adapter.ListDir("notes")
	if err != nil {
		return err
	}

	known, err := c.cache.ListAllNotes(context.Background(), sdID)
	if err != nil {
		return err
	}
	knownIDs := make(map[string]bool, len(known))
	for _, n := range known {
		knownIDs[n.ID] = true
	}

	entries, err := deletionlog.ReadAll(sd.adapter)
	if err != nil {
		return err
	}
	latest := deletionlog.Latest(entries)

	var discovered int
	for _, noteID := range onDisk {
		if knownIDs[noteID] {
			continue
		}
		if e, tombstoned := latest[noteID]; tombstoned && (e.Op == deletionlog.OpDelete || e.Op == deletionlog.OpPermanent) {
			continue
		}

		nd, err := c.ensureNoteLoaded(sd, noteID)
		if err != nil {
			c.logger.Warn("coordinator: discovery failed to load note", slog.String("sd", sdID), slog.String("note", noteID), slog.Any("err", err))
			continue
		}
		if err := c.projectNote(sdID, nd); err != nil {
			c.logger.Warn("coordinator: discovery failed to project note", slog.String("sd", sdID), slog.String("note", noteID), slog.Any("err", err))
			continue
		}
		discovered++
	}

	if discovered > 0 {
		c.logger.Info("coordinator: discovered notes on wake", slog.String("sd", sdID), slog.Int("count", discovered))
	}
	return nil
}
