package coordinator

import (
	"context"
	"sync"

	"github.com/notecove/notecove/internal/activitysync"
	"github.com/notecove/notecove/internal/deletionlog"
	"github.com/notecove/notecove/internal/pollinggroup"
)

// noteReloader adapts one SD's Coordinator-managed notes to
// activitysync.NoteReloader.
type noteReloader struct {
	c    *Coordinator
	sdID string
}

func (r *noteReloader) Reload(noteID string) error {
	sd, err := r.c.sdOrErr(r.sdID)
	if err != nil {
		return err
	}
	nd, err := r.c.ensureNoteLoaded(sd, noteID)
	if err != nil {
		return err
	}
	return nd.Reload()
}

func (r *noteReloader) OwnHighestSequence(noteID string) (uint64, bool) {
	sd, err := r.c.sdOrErr(r.sdID)
	if err != nil {
		return 0, false
	}
	nd, err := r.c.ensureNoteLoaded(sd, noteID)
	if err != nil {
		return 0, false
	}
	seq := nd.LastWriteSequence()
	return seq, seq > 0
}

// pollerAdapter adapts one SD's notes to pollinggroup.Poller: it reloads
// the note from disk and reports whether doing so closed every sequence
// gap the entry's handoff recorded.
type pollerAdapter struct {
	c    *Coordinator
	sdID string
}

func (p *pollerAdapter) PollAndReload(_ context.Context, entry pollinggroup.Entry) (bool, error) {
	sd, err := p.c.sdOrErr(p.sdID)
	if err != nil {
		return false, err
	}
	nd, err := p.c.ensureNoteLoaded(sd, entry.NoteID)
	if err != nil {
		return false, err
	}
	if err := nd.Reload(); err != nil {
		return false, err
	}

	for peerInstanceID, expected := range entry.ExpectedSequences {
		highest, found, err := activitysync.PeerHighestSequence(sd.adapter, entry.NoteID, peerInstanceID)
		if err != nil {
			return false, err
		}
		if !found || highest < expected {
			return false, nil
		}
	}
	return true, nil
}

// noteLister adapts every registered SD's notes/ directory plus deletion log to
// pollinggroup.NoteLister's full-repoll sweep: every note that has ever
// existed and is not currently tombstoned.
type noteLister struct{ c *Coordinator }

func (l *noteLister) AllNoteIDs(sdID string) ([]string, error) {
	sd, err := l.c.sdOrErr(sdID)
	if err != nil {
		return nil, err
	}
	names, err := sd.adapter.ListDir("notes")
	if err != nil {
		return nil, err
	}

	entries, err := deletionlog.ReadAll(sd.adapter)
	if err != nil {
		return nil, err
	}
	latest := deletionlog.Latest(entries)

	ids := make([]string, 0, len(names))
	for _, id := range names {
		if e, tombstoned := latest[id]; tombstoned && (e.Op == deletionlog.OpDelete || e.Op == deletionlog.OpPermanent) {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// visibilityTracker adapts the set of notes a window currently has open,
// or showing in a notes list, to pollinggroup.VisibilityTracker. The host
// editor reports these through SetOpen/SetVisibleList as windows focus,
// scroll, and close.
type visibilityTracker struct {
	mu      sync.Mutex
	open    map[string]bool
	visible map[string]bool
}

func newVisibilityTracker() *visibilityTracker {
	return &visibilityTracker{open: make(map[string]bool), visible: make(map[string]bool)}
}

func (v *visibilityTracker) IsOpen(noteID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.open[noteID]
}

func (v *visibilityTracker) IsInVisibleList(noteID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible[noteID]
}

// SetOpen records that noteID is (or is no longer) open in an editor
// window, for PollingGroup's high-priority treatment of open notes.
func (v *visibilityTracker) SetOpen(noteID string, open bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if open {
		v.open[noteID] = true
	} else {
		delete(v.open, noteID)
	}
}

// SetVisibleList replaces the full set of notes currently shown in any
// notes-list view.
func (v *visibilityTracker) SetVisibleList(noteIDs []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.visible = make(map[string]bool, len(noteIDs))
	for _, id := range noteIDs {
		v.visible[id] = true
	}
}

// SetNoteOpen tells the Coordinator that a window opened or closed noteId,
// so PollingGroup can give it high-priority treatment while it's open.
func (c *Coordinator) SetNoteOpen(noteID string, open bool) {
	c.vis.SetOpen(noteID, open)
}

// SetVisibleNotes tells the Coordinator which notes are currently shown
// in a notes-list view, for PollingGroup's ReasonNotesList entries.
func (c *Coordinator) SetVisibleNotes(noteIDs []string) {
	c.vis.SetVisibleList(noteIDs)
}

// handleHandoff is the callback activitysync.Sync invokes when a fast-path
// entry exceeds its delay budget or sequence-gap threshold: it hands the
// note off to sdID's PollingGroup for Tier 2 rate-limited reconciliation.
func (c *Coordinator) handleHandoff(sdID string, he activitysync.HandoffEntry) {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return
	}
	priority := pollinggroup.PriorityNormal
	if c.vis.IsOpen(he.NoteID) {
		priority = pollinggroup.PriorityHigh
	}
	sd.poll.AddEntry(pollinggroup.Entry{
		NoteID:            he.NoteID,
		SDID:              sdID,
		ExpectedSequences: he.ExpectedSequences,
		AddedAt:           c.now(),
		Reason:            pollinggroup.ReasonFastPathHandoff,
		Priority:          priority,
	})
}
