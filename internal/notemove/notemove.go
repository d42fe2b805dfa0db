// Package notemove implements NoteMoveManager, the crash-recoverable
// cross-SD move state machine: a note's logs, snapshots, and referenced
// images move from a source SD to a target SD through a sequence of
// durable states, so a crash between any two steps resumes (or rolls
// back) cleanly instead of leaving the note split across both SDs.
//
// Built on a resumable session-store pattern: one JSON state file per
// in-flight operation, loaded on startup, advanced one step at a time.
package notemove

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/notecove/notecove/internal/activitylog"
	"github.com/notecove/notecove/internal/deletionlog"
	"github.com/notecove/notecove/internal/fsadapter"
	"github.com/notecove/notecove/internal/idutil"
	"github.com/notecove/notecove/internal/imagestore"
	"github.com/notecove/notecove/internal/ncerr"
)

// State is one step of the move state machine.
type State string

const (
	StateInitiated        State = "initiated"
	StateImagesCopied     State = "images_copied"
	StateFilesCopied      State = "files_copied"
	StateDBUpdated        State = "db_updated"
	StateSourceTombstoned State = "sourced_tombstoned"
	StateCleaning         State = "cleaning"
	StateCompleted        State = "completed"
	StateFailedRollback   State = "failed_rollback"
)

// stepOrder is the forward sequence a successful move walks.
var stepOrder = []State{
	StateInitiated,
	StateImagesCopied,
	StateFilesCopied,
	StateDBUpdated,
	StateSourceTombstoned,
	StateCleaning,
	StateCompleted,
}

// ConflictResolution decides what happens if targetNoteId already exists in
// the target SD.
type ConflictResolution string

const (
	ConflictReplace  ConflictResolution = "replace"
	ConflictKeepBoth ConflictResolution = "keepBoth"
	ConflictError    ConflictResolution = "error"
)

// Record is the durable JSON state of one in-flight or completed move,
// persisted under .moves/<moveId>.json in the source SD.
type Record struct {
	MoveID             string             `json:"moveId"`
	SourceSDID         string             `json:"sourceSdId"`
	TargetSDID         string             `json:"targetSdId"`
	SourceNoteID       string             `json:"sourceNoteId"`
	TargetNoteID       string             `json:"targetNoteId"`
	ConflictResolution ConflictResolution `json:"conflictResolution"`
	ImageIDs           []string           `json:"imageIds"`
	State              State              `json:"state"`
	CopiedImageIDs     []string           `json:"copiedImageIds"` // images this move newly wrote into target, for rollback
	FilesCreated       bool               `json:"filesCreated"`   // whether notes/<targetNoteId>/ now exists in target, for rollback
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

func movePath(moveID string) string { return path.Join(".moves", moveID+".json") }

// SD bundles the per-SD handles a move needs: its filesystem adapter and
// image store. The Coordinator constructs one per registered SD.
type SD struct {
	ID      string
	Adapter fsadapter.Adapter
	Images  *imagestore.Store
}

// Hooks lets the Coordinator react to the db_updated and cleaning steps
// without notemove importing metadatacache/notedoc/coordinator directly.
// Any hook may be nil.
type Hooks struct {
	// OnDBUpdated runs at the db_updated step: the caller should point the
	// MetadataCache at the note's new location and emit note:created.
	OnDBUpdated func(target SD, sourceNoteID, targetNoteID string) error
	// OnSourceRemoved runs at the cleaning step after the source note's
	// files are deleted: the caller should emit note:deleted for source.
	OnSourceRemoved func(source SD, sourceNoteID string) error
}

// Manager runs and recovers moves for one instance.
type Manager struct {
	instanceID string
	hooks      Hooks
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New constructs a Manager.
func New(instanceID string, hooks Hooks, opts ...Option) *Manager {
	m := &Manager{instanceID: instanceID, hooks: hooks, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) save(source SD, rec *Record) error {
	rec.UpdatedAt = m.now()
	data, err := json.Marshal(rec)
	if err != nil {
		return ncerr.New(ncerr.KindInternal, "notemove.save", err)
	}
	return source.Adapter.WriteFile(movePath(rec.MoveID), data)
}

// StartMove begins a new move and runs it to completion or
// failed_rollback. imageIDs is the set of notecoveImage references the
// source note's current content holds (the caller — which already has the
// loaded NoteDoc — supplies this so notemove need not depend on notedoc).
// If notes/<targetNoteID> already exists in target, conflict decides:
// ConflictKeepBoth moves to a fresh note id, ConflictReplace deletes the
// existing files first, and ConflictError fails with a Conflict error.
func (m *Manager) StartMove(source, target SD, moveID, sourceNoteID, targetNoteID string, conflict ConflictResolution, imageIDs []string) (*Record, error) {
	if exists, err := target.Adapter.Exists(path.Join("notes", targetNoteID)); err != nil {
		return nil, err
	} else if exists {
		switch conflict {
		case ConflictKeepBoth:
			targetNoteID = idutil.NewUUID()
		case ConflictReplace:
			if err := deleteDirRecursive(target.Adapter, path.Join("notes", targetNoteID)); err != nil {
				return nil, err
			}
		default:
			return nil, ncerr.New(ncerr.KindConflict, "notemove.StartMove", fmt.Errorf("note %s already exists in sd %s", targetNoteID, target.ID))
		}
	}
	rec := &Record{
		MoveID:             moveID,
		SourceSDID:         source.ID,
		TargetSDID:         target.ID,
		SourceNoteID:       sourceNoteID,
		TargetNoteID:       targetNoteID,
		ConflictResolution: conflict,
		ImageIDs:           imageIDs,
		State:              StateInitiated,
		CreatedAt:          m.now(),
	}
	if err := m.save(source, rec); err != nil {
		return rec, err
	}
	return rec, m.run(source, target, rec)
}

// Resume loads every .moves/*.json file in source and resumes it, using
// resolveTarget to find the matching target SD by id. A move whose target
// SD cannot currently be resolved is skipped (not an error — it resumes
// next time that SD is available).
func (m *Manager) Resume(source SD, resolveTarget func(sdID string) (SD, bool)) ([]*Record, error) {
	names, err := source.Adapter.ListDir(".moves")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var results []*Record
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := source.Adapter.ReadFile(path.Join(".moves", name))
		if err != nil {
			continue // unreadable/incomplete move file; try again next time
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue // corrupt move file; leave for manual inspection
		}

		target, ok := resolveTarget(rec.TargetSDID)
		if !ok {
			results = append(results, &rec)
			continue
		}
		_ = m.run(source, target, &rec)
		results = append(results, &rec)
	}
	return results, nil
}

// run advances rec from its current state to completed or failed_rollback.
func (m *Manager) run(source, target SD, rec *Record) error {
	startIdx := indexOf(rec.State)
	if startIdx < 0 || rec.State == StateCompleted || rec.State == StateFailedRollback {
		return nil
	}

	for i := startIdx + 1; i < len(stepOrder); i++ {
		step := stepOrder[i]
		if err := m.runStep(source, target, rec, step); err != nil {
			completed := rec.State
			rec.State = StateFailedRollback
			_ = m.save(source, rec)
			m.rollback(source, target, rec, completed)
			return err
		}
		rec.State = step
		if err := m.save(source, rec); err != nil {
			return err
		}
	}

	return source.Adapter.DeleteFile(movePath(rec.MoveID))
}

func indexOf(s State) int {
	for i, st := range stepOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (m *Manager) runStep(source, target SD, rec *Record, step State) error {
	switch step {
	case StateImagesCopied:
		return m.stepImagesCopied(source, target, rec)
	case StateFilesCopied:
		return m.stepFilesCopied(source, target, rec)
	case StateDBUpdated:
		if m.hooks.OnDBUpdated != nil {
			return m.hooks.OnDBUpdated(target, rec.SourceNoteID, rec.TargetNoteID)
		}
		return nil
	case StateSourceTombstoned:
		return m.stepSourceTombstoned(source, target, rec)
	case StateCleaning:
		return m.stepCleaning(source, target, rec)
	case StateCompleted:
		return nil
	default:
		return ncerr.New(ncerr.KindInternal, "notemove.runStep", fmt.Errorf("unknown step %q", step))
	}
}

func (m *Manager) stepImagesCopied(source, target SD, rec *Record) error {
	for _, imageID := range rec.ImageIDs {
		hasTarget, err := target.Images.Has(imageID)
		if err != nil {
			return err
		}
		if hasTarget {
			continue // content-hash collision: already present, skip
		}
		if err := source.Images.CopyTo(target.Images, imageID); err != nil {
			return err
		}
		// Recorded immediately, not after the whole loop succeeds, so a
		// partial failure still knows exactly which images to roll back.
		rec.CopiedImageIDs = append(rec.CopiedImageIDs, imageID)
	}
	return nil
}

func (m *Manager) stepFilesCopied(source, target SD, rec *Record) error {
	sourceBase := path.Join("notes", rec.SourceNoteID)
	targetBase := path.Join("notes", rec.TargetNoteID)

	if err := target.Adapter.MkdirAll(targetBase); err != nil {
		return err
	}
	rec.FilesCreated = true

	for _, sub := range []string{"logs", "snapshots"} {
		names, err := source.Adapter.ListDir(path.Join(sourceBase, sub))
		if err != nil {
			return err
		}
		for _, name := range names {
			data, err := source.Adapter.ReadFile(path.Join(sourceBase, sub, name))
			if err != nil {
				return err
			}
			if err := target.Adapter.WriteFile(path.Join(targetBase, sub, name), data); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) stepSourceTombstoned(source, target SD, rec *Record) error {
	if err := deletionlog.Append(source.Adapter, m.instanceID, rec.SourceNoteID, deletionlog.OpPermanent, m.now().UnixMilli()); err != nil {
		return err
	}
	// "moved" breadcrumb in the target SD so the target's ActivitySync/
	// PollingGroup peers discover the note without a full repoll.
	return activitylog.Append(target.Adapter, m.instanceID, rec.TargetNoteID, 0)
}

func (m *Manager) stepCleaning(source, target SD, rec *Record) error {
	if err := deleteDirRecursive(source.Adapter, path.Join("notes", rec.SourceNoteID)); err != nil {
		return err
	}
	if m.hooks.OnSourceRemoved != nil {
		return m.hooks.OnSourceRemoved(source, rec.SourceNoteID)
	}
	return nil
}

func deleteDirRecursive(a fsadapter.Adapter, dir string) error {
	names, err := a.ListDir(dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		child := path.Join(dir, name)
		info, err := a.Stat(child)
		if err != nil {
			continue
		}
		if info.IsDir() {
			if err := deleteDirRecursive(a, child); err != nil {
				return err
			}
			continue
		}
		if err := a.DeleteFile(child); err != nil {
			return err
		}
	}
	return nil
}

// rollback undoes whatever physical side effects completed before the
// failure.10 ("rollback runs each completed step's
// inverse in reverse"). Only images_copied and files_copied have a safe
// inverse; a failure discovered at or after sourced_tombstoned leaves the
// record in failed_rollback without attempting further changes, since
// undoing a tombstone or a partial source deletion is not safe to automate
// (: "the move state file persists for later manual
// resolution").
func (m *Manager) rollback(source, target SD, rec *Record, completed State) {
	if indexOf(completed) >= indexOf(StateDBUpdated) {
		return
	}

	if rec.FilesCreated {
		_ = deleteDirRecursive(target.Adapter, path.Join("notes", rec.TargetNoteID))
	}
	for _, imageID := range rec.CopiedImageIDs {
		has, err := target.Images.Has(imageID)
		if err == nil && has {
			_ = target.Adapter.DeleteFile(targetImagePathGuess(target, imageID))
		}
	}
}

// targetImagePathGuess finds the actual on-disk path for imageID in
// target, since the extension isn't recorded on Record (CopyTo preserves
// whatever extension the source used).
func targetImagePathGuess(target SD, imageID string) string {
	names, err := target.Adapter.ListDir("media")
	if err != nil {
		return path.Join("media", imageID)
	}
	for _, name := range names {
		base := name
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			base = name[:idx]
		}
		if base == imageID {
			return path.Join("media", name)
		}
	}
	return path.Join("media", imageID)
}
