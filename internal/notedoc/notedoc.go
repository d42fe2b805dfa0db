// Package notedoc implements NoteDoc: the per-note CRDT document with its
// disk persistence, snapshotting, and update-origin bookkeeping. It sits
// directly on top of internal/crdt (the opaque CRDT contract),
// internal/logcodec (the append-only log format), internal/snapcodec
// (snapshot compression), internal/activitylog (the "I just wrote
// sequence N" breadcrumb), and internal/fsadapter (the SD filesystem
// contract): load from disk, mutate in memory, append a durable record,
// notify observers without re-triggering persistence.
package notedoc

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/notecove/notecove/internal/crdt"
	"github.com/notecove/notecove/internal/fsadapter"
	"github.com/notecove/notecove/internal/logcodec"
	"github.com/notecove/notecove/internal/ncerr"
	"github.com/notecove/notecove/internal/snapcodec"
)

// Origin tags why ApplyUpdate was called, solving the double-write problem
//: only OriginEdit persists to disk; all other origins
// merge into memory only.
type Origin string

const (
	// OriginEdit is a change made by the owning editor; persists to disk.
	OriginEdit Origin = "edit"
	// OriginIPC is a change relayed from another process via Coordinator
	// IPC; merge-only.
	OriginIPC Origin = "ipc"
	// OriginReload is a change discovered by re-reading disk (ActivitySync,
	// PollingGroup, explicit Reload); merge-only.
	OriginReload Origin = "reload"
)

// UpdateEvent is delivered to ObserveUpdates subscribers.
type UpdateEvent struct {
	Update []byte
	Origin Origin
}

// NoteDoc is one note's in-memory CRDT state plus its on-disk log/snapshot
// files.
type NoteDoc struct {
	noteID     string
	instanceID string
	adapter    fsadapter.Adapter

	mu          sync.Mutex
	doc         *crdt.OpLogDoc
	ownLogFile  string // basename under logs/, e.g. "instA_1700000000000.crdtlog"; "" until first own write
	lastSeq     uint64
	subs        map[int]func(UpdateEvent)
	nextSubID   int
	clockSource func() uint64
}

func basePath(noteID string) string     { return path.Join("notes", noteID) }
func logsDir(noteID string) string      { return path.Join(basePath(noteID), "logs") }
func snapshotsDir(noteID string) string { return path.Join(basePath(noteID), "snapshots") }

func nowMillis() uint64 { return uint64(time.Now().UnixMilli()) }

// Load materializes a NoteDoc by decompressing the latest snapshot (if
// present) and then replaying every `.crdtlog` file in `logs/` in
// lexicographic filename order. A note with no files on disk yet loads as
// an empty document — this is the normal path for a brand-new note whose
// creator hasn't written anything beyond an empty doc.
func Load(a fsadapter.Adapter, noteID, instanceID string) (*NoteDoc, error) {
	nd := &NoteDoc{
		noteID:      noteID,
		instanceID:  instanceID,
		adapter:     a,
		doc:         crdt.NewOpLogDoc(),
		subs:        make(map[int]func(UpdateEvent)),
		clockSource: nowMillis,
	}
	if err := nd.load(); err != nil {
		return nil, err
	}
	return nd, nil
}

func (nd *NoteDoc) load() error {
	if err := nd.loadLatestSnapshot(); err != nil {
		return err
	}
	return nd.replayLogs()
}

func (nd *NoteDoc) loadLatestSnapshot() error {
	names, err := nd.adapter.ListDir(snapshotsDir(nd.noteID))
	if err != nil {
		return err
	}

	var bestTS int64 = -1
	var bestName string
	for _, name := range names {
		ts, ok := parseSnapshotTS(name)
		if ok && ts > bestTS {
			bestTS = ts
			bestName = name
		}
	}
	if bestName == "" {
		return nil
	}

	state, err := snapcodec.ReadSnapshot(nd.adapter, path.Join(snapshotsDir(nd.noteID), bestName))
	if err != nil {
		if ncerr.Is(err, ncerr.KindIncomplete) {
			return nil // writer in progress; fall back to whatever logs give us
		}
		return err
	}
	return nd.doc.LoadState(state)
}

func parseSnapshotTS(name string) (int64, bool) {
	const suffix = ".crdtsnapshot"
	if !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimSuffix(name, suffix), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

func (nd *NoteDoc) replayLogs() error {
	names, err := nd.adapter.ListDir(logsDir(nd.noteID))
	if err != nil {
		return err
	}
	sort.Strings(names)

	ownPrefix := nd.instanceID + "_"
	for _, name := range names {
		if strings.HasPrefix(name, ownPrefix) {
			nd.ownLogFile = name
		}

		// ReadAll returns whatever it could decode alongside any error — a
		// torn or not-yet-visible peer file must not block loading every
		// other file's already-durable records. A fully Incomplete file
		// (writer mid-create) yields no records at all; the next Reload
		// picks it up once visible.
		records, _ := logcodec.ReadAll(nd.adapter, path.Join(logsDir(nd.noteID), name))
		for _, rec := range records {
			if err := nd.doc.ApplyUpdate(rec.Data); err != nil {
				return err
			}
			if strings.HasPrefix(name, ownPrefix) && rec.Sequence > nd.lastSeq {
				nd.lastSeq = rec.Sequence
			}
		}
	}
	return nil
}

// ApplyUpdate merges update into the in-memory document. Only OriginEdit
// additionally persists: it appends the update to this instance's own log
// file (creating it on first use). Recording the write in the activity log
// is left to the caller, which reads the new sequence from
// LastWriteSequence — NoteDoc does not import activitylog, so that
// package's Append call stays the Coordinator's responsibility.
func (nd *NoteDoc) ApplyUpdate(update []byte, origin Origin) error {
	nd.mu.Lock()
	defer nd.mu.Unlock()

	if err := nd.doc.ApplyUpdate(update); err != nil {
		return err
	}

	if origin == OriginEdit {
		if err := nd.persistLocked(update); err != nil {
			return err
		}
	}

	nd.notifyLocked(UpdateEvent{Update: update, Origin: origin})
	return nil
}

// LastWriteSequence returns the sequence number just assigned to the most
// recent OriginEdit write, for the caller to pass to activitylog.Append.
// It is 0 if this instance has never written to this note.
func (nd *NoteDoc) LastWriteSequence() uint64 {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	return nd.lastSeq
}

// SetField builds and applies an OriginEdit update assigning value to
// field using this instance's clock source, for Coordinator-driven
// mutations that don't originate from the host editor's own CRDT updates
// (moving a note between folders, clearing folderId on folder deletion).
func (nd *NoteDoc) SetField(field string, value any) error {
	nd.mu.Lock()
	clock := nd.clockSource()
	instanceID := nd.instanceID
	nd.mu.Unlock()

	update, err := crdt.MakeUpdate(field, value, clock, instanceID)
	if err != nil {
		return fmt.Errorf("notedoc: SetField: %w", err)
	}
	return nd.ApplyUpdate(update, OriginEdit)
}

func (nd *NoteDoc) persistLocked(update []byte) error {
	if nd.ownLogFile == "" {
		nd.ownLogFile = fmt.Sprintf("%s_%d.crdtlog", nd.instanceID, nowMillis())
		if err := logcodec.OpenWrite(nd.adapter, path.Join(logsDir(nd.noteID), nd.ownLogFile)); err != nil {
			return err
		}
	}

	seq := nd.lastSeq + 1
	if err := logcodec.AppendRecord(nd.adapter, path.Join(logsDir(nd.noteID), nd.ownLogFile), nd.clockSource(), seq, update); err != nil {
		return err
	}
	nd.lastSeq = seq
	return nil
}

// ObserveUpdates subscribes fn to every successful ApplyUpdate call,
// regardless of origin. It returns an unsubscribe function.
func (nd *NoteDoc) ObserveUpdates(fn func(UpdateEvent)) (unsubscribe func()) {
	nd.mu.Lock()
	id := nd.nextSubID
	nd.nextSubID++
	nd.subs[id] = fn
	nd.mu.Unlock()

	return func() {
		nd.mu.Lock()
		defer nd.mu.Unlock()
		delete(nd.subs, id)
	}
}

func (nd *NoteDoc) notifyLocked(ev UpdateEvent) {
	for _, fn := range nd.subs {
		fn(ev)
	}
}

// EncodeState returns the full current document state, for cross-process
// IPC transfer and for Snapshot.
func (nd *NoteDoc) EncodeState() ([]byte, error) {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	return nd.doc.EncodeState()
}

// Snapshot writes the current state as a new `<ts>.crdtsnapshot` file.
// Existing log files are left untouched — compaction is an independent,
// unimplemented background job.
func (nd *NoteDoc) Snapshot() error {
	state, err := nd.EncodeState()
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%d.crdtsnapshot", nowMillis())
	return snapcodec.WriteSnapshot(nd.adapter, path.Join(snapshotsDir(nd.noteID), name), state)
}

// Reload re-runs load on the existing doc. CRDT merge semantics make this
// idempotent: records already applied are no-ops, and any new peer records
// that have become visible since the last load are picked up.
func (nd *NoteDoc) Reload() error {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	if err := nd.load(); err != nil {
		return err
	}
	nd.notifyLocked(UpdateEvent{Origin: OriginReload})
	return nil
}

// Unload drops the in-memory document. A subsequent Load call (the caller
// constructs a fresh NoteDoc) re-reads from disk.
func (nd *NoteDoc) Unload() {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	nd.doc = crdt.NewOpLogDoc()
}

// Title returns the first non-empty line of contentText
// required derived field.
func (nd *NoteDoc) Title() string {
	text := nd.ContentText()
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// ContentText returns the plain-text flattening of the document content.
func (nd *NoteDoc) ContentText() string {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	raw, ok := nd.doc.Get("contentText")
	if !ok {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return ""
	}
	return text
}

// FolderID returns the note's folderId attribute and whether it is set
// (unset or explicit null both report false
// null").
func (nd *NoteDoc) FolderID() (string, bool) {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	raw, ok := nd.doc.Get("folderId")
	if !ok {
		return "", false
	}
	var id *string
	if err := json.Unmarshal(raw, &id); err != nil || id == nil {
		return "", false
	}
	return *id, true
}

// NoteID returns the id this NoteDoc was loaded for.
func (nd *NoteDoc) NoteID() string { return nd.noteID }

// ImageIDs returns every notecoveImage reference embedded in the note's
// current content, for NoteMoveManager's images_copied step and
// ImageStore's orphan-sweep reference scan. Absence of the field yields no
// references rather than an error.
func (nd *NoteDoc) ImageIDs() []string {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	raw, ok := nd.doc.Get("images")
	if !ok {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	return ids
}
