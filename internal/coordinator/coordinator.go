// Package coordinator implements the process-wide owner: the single
// point that holds every loaded NoteDoc and FolderTreeDoc, routes
// note.applyUpdate requests to the right one, owns each SD's
// PollingGroup and ActivitySync instance, owns the NoteMoveManager, and
// broadcasts state-change events to every connected window. Coordinator
// is the single-threaded context that mutates CRDT state; all blocking
// I/O below it happens in the packages it wires together (fsadapter,
// logcodec, snapcodec), which run on whatever goroutines call into them.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/notecove/notecove/internal/activitylog"
	"github.com/notecove/notecove/internal/activitysync"
	"github.com/notecove/notecove/internal/deletionlog"
	"github.com/notecove/notecove/internal/foldertree"
	"github.com/notecove/notecove/internal/fsadapter"
	"github.com/notecove/notecove/internal/idutil"
	"github.com/notecove/notecove/internal/imagestore"
	"github.com/notecove/notecove/internal/metadatacache"
	"github.com/notecove/notecove/internal/ncerr"
	"github.com/notecove/notecove/internal/notedoc"
	"github.com/notecove/notecove/internal/notemove"
	"github.com/notecove/notecove/internal/pollinggroup"
)

// sdState bundles one registered SD's live components.
type sdState struct {
	id      string
	adapter fsadapter.Adapter
	folders *foldertree.FolderTreeDoc
	images  *imagestore.Store
	sync    *activitysync.Sync
	poll    *pollinggroup.Group

	mu    sync.Mutex
	notes map[string]*notedoc.NoteDoc
}

// Coordinator is the per-process owner of every registered SD.
type Coordinator struct {
	instanceID string
	cache      *metadatacache.Cache
	logger     *slog.Logger
	hub        *Hub
	moveMgr    *notemove.Manager
	vis        *visibilityTracker
	sf         singleflight.Group
	now        func() time.Time

	mu  sync.RWMutex
	sds map[string]*sdState
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New constructs a Coordinator for one running instance. cache is the
// profile-wide MetadataCache (shared across every SD this instance has
// registered); instanceID identifies this process's own log files.
func New(instanceID string, cache *metadatacache.Cache, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		instanceID: instanceID,
		cache:      cache,
		logger:     logger,
		hub:        NewHub(logger),
		vis:        newVisibilityTracker(),
		now:        time.Now,
		sds:        make(map[string]*sdState),
	}
	c.moveMgr = notemove.New(instanceID, notemove.Hooks{
		OnDBUpdated:     c.onMoveDBUpdated,
		OnSourceRemoved: c.onMoveSourceRemoved,
	}, notemove.WithClock(c.now))
	return c
}

// Hub exposes the IPC broadcast hub for HTTP wiring (cmd/notecove's daemon
// command mounts Hub.ServeHTTP) and for in-process test subscribers.
func (c *Coordinator) Hub() *Hub { return c.hub }

// RegisterSD brings adapter online as sdID: it loads the folder tree,
// constructs the SD's ImageStore/ActivitySync/PollingGroup, and runs
// wake-from-sleep discovery once so any notes created while this instance
// was offline are picked up immediately. adapter must already be at
// sdstore.CurrentVersion; call CheckSDVersion/MigrateSD first.
func (c *Coordinator) RegisterSD(sdID string, adapter fsadapter.Adapter) error {
	folders, err := foldertree.Load(adapter, c.instanceID)
	if err != nil {
		return fmt.Errorf("coordinator: RegisterSD: loading folder tree: %w", err)
	}

	sd := &sdState{
		id:      sdID,
		adapter: adapter,
		folders: folders,
		images:  imagestore.New(sdID, adapter, &resolver{c}),
		notes:   make(map[string]*notedoc.NoteDoc),
	}
	sd.sync = activitysync.New(adapter, c.instanceID, &noteReloader{c, sdID}, func(he activitysync.HandoffEntry) {
		c.handleHandoff(sdID, he)
	})
	sd.poll = pollinggroup.New(pollinggroup.DefaultSettings(), &pollerAdapter{c, sdID}, c.vis, &noteLister{c})

	c.mu.Lock()
	c.sds[sdID] = sd
	c.mu.Unlock()

	if err := c.DiscoverOnWake(sdID); err != nil {
		c.logger.Warn("coordinator: initial discovery failed", slog.String("sd", sdID), slog.Any("err", err))
	}
	return nil
}

// UnregisterSD drops an SD's in-memory state. Notes already loaded lose
// their subscriptions; the on-disk data is untouched.
func (c *Coordinator) UnregisterSD(sdID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sds[sdID]; !ok {
		return ncerr.New(ncerr.KindNotFound, "coordinator.UnregisterSD", fmt.Errorf("sd %q not registered", sdID))
	}
	delete(c.sds, sdID)
	return nil
}

func (c *Coordinator) sdOrErr(sdID string) (*sdState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sd, ok := c.sds[sdID]
	if !ok {
		return nil, ncerr.New(ncerr.KindNotFound, "coordinator", fmt.Errorf("sd %q not registered", sdID))
	}
	return sd, nil
}

// RegisteredSDIDs returns every currently registered SD id, for the
// cross-SD image lookup and move-target resolution helpers.
func (c *Coordinator) RegisteredSDIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.sds))
	for id := range c.sds {
		ids = append(ids, id)
	}
	return ids
}

// resolver implements imagestore.SDResolver over the Coordinator's
// registered SDs, for ImageStore's cross-SD fallback lookup.
type resolver struct{ c *Coordinator }

func (r *resolver) AdapterForSD(sdID string) (fsadapter.Adapter, bool) {
	sd, err := r.c.sdOrErr(sdID)
	if err != nil {
		return nil, false
	}
	return sd.adapter, true
}

// ensureNoteLoaded returns noteId's NoteDoc, loading it from disk and
// wiring its update subscription on first use. Concurrent first-loads for
// the same note are collapsed via singleflight so two simultaneous
// note.load calls don't replay the log twice.
func (c *Coordinator) ensureNoteLoaded(sd *sdState, noteID string) (*notedoc.NoteDoc, error) {
	sd.mu.Lock()
	if nd, ok := sd.notes[noteID]; ok {
		sd.mu.Unlock()
		return nd, nil
	}
	sd.mu.Unlock()

	key := sd.id + "|" + noteID
	v, err, _ := c.sf.Do(key, func() (any, error) {
		nd, loadErr := notedoc.Load(sd.adapter, noteID, c.instanceID)
		if loadErr != nil {
			return nil, loadErr
		}
		nd.ObserveUpdates(func(ev notedoc.UpdateEvent) {
			c.onNoteUpdate(sd.id, noteID, ev)
		})
		sd.mu.Lock()
		sd.notes[noteID] = nd
		sd.mu.Unlock()
		return nd, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*notedoc.NoteDoc), nil
}

// LoadNote implements note.load: it materializes noteId's document (from
// snapshot + logs, or fresh if this is the first time this process has
// seen it) and returns its encoded state for the host editor to render.
func (c *Coordinator) LoadNote(sdID, noteID string) ([]byte, error) {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return nil, err
	}
	nd, err := c.ensureNoteLoaded(sd, noteID)
	if err != nil {
		return nil, err
	}
	if err := c.projectNote(sd.id, nd); err != nil {
		c.logger.Warn("coordinator: projecting note into cache failed", slog.String("note", noteID), slog.Any("err", err))
	}
	return nd.EncodeState()
}

// ApplyUpdate implements note.applyUpdate. Persistence to disk happens
// inside NoteDoc.ApplyUpdate itself, gated on origin == OriginEdit — the
// Coordinator's only additional responsibility for an edit-origin update
// is recording the write in the activity log (NoteDoc deliberately does
// not import activitylog, to keep that log's noteId/instanceId/sequence
// bookkeeping at this layer.14).
func (c *Coordinator) ApplyUpdate(sdID, noteID string, update []byte, origin notedoc.Origin) error {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return err
	}
	nd, err := c.ensureNoteLoaded(sd, noteID)
	if err != nil {
		return err
	}
	if err := nd.ApplyUpdate(update, origin); err != nil {
		return err
	}
	if origin == notedoc.OriginEdit {
		if err := activitylog.Append(sd.adapter, c.instanceID, noteID, nd.LastWriteSequence()); err != nil {
			return fmt.Errorf("coordinator: ApplyUpdate: recording activity log: %w", err)
		}
	}
	return nil
}

// onNoteUpdate fires for every successful ApplyUpdate/Reload on a loaded
// note, regardless of origin: it refreshes the note's MetadataCache
// projection and broadcasts note:updated to every IPC subscriber, tagged
// with the origin that produced it.
func (c *Coordinator) onNoteUpdate(sdID, noteID string, ev notedoc.UpdateEvent) {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return
	}
	sd.mu.Lock()
	nd, ok := sd.notes[noteID]
	sd.mu.Unlock()
	if ok {
		if err := c.projectNote(sdID, nd); err != nil {
			c.logger.Warn("coordinator: projecting note into cache failed", slog.String("note", noteID), slog.Any("err", err))
		}
	}
	c.hub.Broadcast(Event{Type: EventNoteUpdated, SDID: sdID, NoteID: noteID, Origin: string(ev.Origin)})
}

func (c *Coordinator) projectNote(sdID string, nd *notedoc.NoteDoc) error {
	folderID, _ := nd.FolderID()
	note := metadatacache.Note{
		SDID:        sdID,
		ID:          nd.NoteID(),
		Title:       nd.Title(),
		FolderID:    folderID,
		ContentText: nd.ContentText(),
		ModifiedMs:  c.now().UnixMilli(),
	}
	return c.cache.UpsertNote(context.Background(), note)
}

// ObserveUpdates implements note.observeUpdates: fn is called for every
// applied update on noteId, any origin, until unsubscribe is called.
func (c *Coordinator) ObserveUpdates(sdID, noteID string, fn func(notedoc.UpdateEvent)) (unsubscribe func(), err error) {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return nil, err
	}
	nd, err := c.ensureNoteLoaded(sd, noteID)
	if err != nil {
		return nil, err
	}
	return nd.ObserveUpdates(fn), nil
}

// SnapshotNote implements note.snapshot.
func (c *Coordinator) SnapshotNote(sdID, noteID string) error {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return err
	}
	nd, err := c.ensureNoteLoaded(sd, noteID)
	if err != nil {
		return err
	}
	return nd.Snapshot()
}

// CreateNote allocates a fresh noteId, loads an empty document for it (so
// subsequent ApplyUpdate calls have somewhere to write), and emits
// note:created.
func (c *Coordinator) CreateNote(sdID string) (string, error) {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return "", err
	}
	noteID := idutil.NewUUID()
	if _, err := c.ensureNoteLoaded(sd, noteID); err != nil {
		return "", err
	}
	c.hub.Broadcast(Event{Type: EventNoteCreated, SDID: sdID, NoteID: noteID})
	return noteID, nil
}

// SoftDeleteNote implements note.softDelete: it appends a tombstone to the
// deletion log and marks the cache row deleted. The note's files are left
// in place so restore is just the inverse tombstone.
func (c *Coordinator) SoftDeleteNote(sdID, noteID string) error {
	return c.recordDeletion(sdID, noteID, deletionlog.OpDelete, EventNoteDeleted)
}

// RestoreNote implements note.restore.
func (c *Coordinator) RestoreNote(sdID, noteID string) error {
	return c.recordDeletion(sdID, noteID, deletionlog.OpRestore, EventNoteUpdated)
}

// PermanentDeleteNote implements note.permanentDelete.
func (c *Coordinator) PermanentDeleteNote(sdID, noteID string) error {
	return c.recordDeletion(sdID, noteID, deletionlog.OpPermanent, EventNoteDeleted)
}

func (c *Coordinator) recordDeletion(sdID, noteID string, op deletionlog.Op, evType EventType) error {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return err
	}
	if err := deletionlog.Append(sd.adapter, c.instanceID, noteID, op, c.now().UnixMilli()); err != nil {
		return fmt.Errorf("coordinator: recordDeletion: %w", err)
	}

	switch op {
	case deletionlog.OpDelete, deletionlog.OpPermanent:
		if err := c.cache.SoftDeleteNote(context.Background(), sdID, noteID, c.now().UnixMilli()); err != nil {
			c.logger.Warn("coordinator: cache soft-delete failed", slog.String("note", noteID), slog.Any("err", err))
		}
	case deletionlog.OpRestore:
		nd, err := c.ensureNoteLoaded(sd, noteID)
		if err == nil {
			err = c.projectNote(sdID, nd)
		}
		if err != nil {
			c.logger.Warn("coordinator: cache restore failed", slog.String("note", noteID), slog.Any("err", err))
		}
	}

	c.hub.Broadcast(Event{Type: evType, SDID: sdID, NoteID: noteID})
	return nil
}

// IsDeleted reports whether noteId has a live tombstone (soft or
// permanent) more recent than any restore, per DeletionLog.Latest.
func (c *Coordinator) IsDeleted(sdID, noteID string) (bool, error) {
	sd, err := c.sdOrErr(sdID)
	if err != nil {
		return false, err
	}
	entries, err := deletionlog.ReadAll(sd.adapter)
	if err != nil {
		return false, err
	}
	latest := deletionlog.Latest(entries)
	entry, ok := latest[noteID]
	if !ok {
		return false, nil
	}
	return entry.Op == deletionlog.OpDelete || entry.Op == deletionlog.OpPermanent, nil
}
