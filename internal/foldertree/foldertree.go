// Package foldertree implements FolderTreeDoc: the single per-SD CRDT
// document mapping folderId to {name, parentId, order, deleted}. It shares
// NoteDoc's persistence shape (load snapshot, replay logs, append own
// writes, notify observers) but adds the tree-specific operations —
// enumeration that respects hidden-by-deleted-ancestor folders, and the
// three deleteFolder cascade modes.
package foldertree

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

const (
	logsDir      = "folders/logs"
	snapshotsDir = "folders/snapshots"
)

// Folder is one node in the tree, as stored in the CRDT.
type Folder struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"` // "" means root
	Order    int    `json:"order"`
	Deleted  bool   `json:"deleted"`
}

// DeleteMode selects how DeleteFolder treats a folder's children.
type DeleteMode string

const (
	// ModeSimple marks only the folder deleted; children keep their
	// existing parentId (and become hidden too, transitively, via
	// hasDeletedAncestor).
	ModeSimple DeleteMode = "simple"
	// ModeCascade marks the folder and all descendants deleted, and
	// reparents their notes to the deleted folder's former parent.
	ModeCascade DeleteMode = "cascade"
	// ModeReparent marks only the folder deleted, moving its immediate
	// children (folders and notes) up to its parent.
	ModeReparent DeleteMode = "reparent"
)

// NoteReparenter lets DeleteFolder move notes out of a folder being deleted
// without this package depending on notedoc directly (the same layering
// NoteDoc uses to stay ignorant of ActivityLog's concrete format).
type NoteReparenter interface {
	ReparentNotes(fromFolderID, toFolderID string) error
}

// FolderTreeDoc is the per-SD folder hierarchy document.
type FolderTreeDoc struct {
	instanceID string
	adapter    fsadapter.Adapter

	mu         sync.Mutex
	doc        *crdt.OpLogDoc
	ownLogFile string
	lastSeq    uint64
}

func nowMillis() uint64 { return uint64(time.Now().UnixMilli()) }

// Load materializes the FolderTreeDoc the same way NoteDoc does: latest
// snapshot, then every logs/ file in lexicographic order.
func Load(a fsadapter.Adapter, instanceID string) (*FolderTreeDoc, error) {
	ft := &FolderTreeDoc{
		instanceID: instanceID,
		adapter:    a,
		doc:        crdt.NewOpLogDoc(),
	}
	if err := ft.load(); err != nil {
		return nil, err
	}
	return ft, nil
}

func (ft *FolderTreeDoc) load() error {
	names, err := ft.adapter.ListDir(snapshotsDir)
	if err != nil {
		return err
	}
	var bestTS int64 = -1
	var bestName string
	for _, name := range names {
		if ts, ok := parseSnapshotTS(name); ok && ts > bestTS {
			bestTS, bestName = ts, name
		}
	}
	if bestName != "" {
		state, err := snapcodec.ReadSnapshot(ft.adapter, path.Join(snapshotsDir, bestName))
		if err != nil {
			if !ncerr.Is(err, ncerr.KindIncomplete) {
				return err
			}
		} else if err := ft.doc.LoadState(state); err != nil {
			return err
		}
	}

	logNames, err := ft.adapter.ListDir(logsDir)
	if err != nil {
		return err
	}
	sort.Strings(logNames)

	ownPrefix := ft.instanceID + "_"
	for _, name := range logNames {
		if strings.HasPrefix(name, ownPrefix) {
			ft.ownLogFile = name
		}
		records, _ := logcodec.ReadAll(ft.adapter, path.Join(logsDir, name))
		for _, rec := range records {
			if err := ft.doc.ApplyUpdate(rec.Data); err != nil {
				return err
			}
			if strings.HasPrefix(name, ownPrefix) && rec.Sequence > ft.lastSeq {
				ft.lastSeq = rec.Sequence
			}
		}
	}
	return nil
}

func parseSnapshotTS(name string) (int64, bool) {
	const suffix = ".crdtsnapshot"
	if !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimSuffix(name, suffix), 10, 64)
	return ts, err == nil
}

// Reload re-runs load; idempotent by CRDT merge semantics.
func (ft *FolderTreeDoc) Reload() error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.load()
}

// EncodeState returns the full folder-tree state.
func (ft *FolderTreeDoc) EncodeState() ([]byte, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.doc.EncodeState()
}

// Snapshot writes the current state as a new snapshot file. Logs are kept.
func (ft *FolderTreeDoc) Snapshot() error {
	state, err := ft.EncodeState()
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%d.crdtsnapshot", nowMillis())
	return snapcodec.WriteSnapshot(ft.adapter, path.Join(snapshotsDir, name), state)
}

func (ft *FolderTreeDoc) folderField(id string) string { return "folder:" + id }

func (ft *FolderTreeDoc) getLocked(id string) (Folder, bool) {
	raw, ok := ft.doc.Get(ft.folderField(id))
	if !ok {
		return Folder{}, false
	}
	var f Folder
	if err := json.Unmarshal(raw, &f); err != nil {
		return Folder{}, false
	}
	return f, true
}

func (ft *FolderTreeDoc) applyLocked(f Folder) error {
	update, err := crdt.MakeUpdate(ft.folderField(f.ID), f, nowMillis(), ft.instanceID)
	if err != nil {
		return err
	}
	if err := ft.doc.ApplyUpdate(update); err != nil {
		return err
	}

	if ft.ownLogFile == "" {
		ft.ownLogFile = fmt.Sprintf("%s_%d.crdtlog", ft.instanceID, nowMillis())
		if err := logcodec.OpenWrite(ft.adapter, path.Join(logsDir, ft.ownLogFile)); err != nil {
			return err
		}
	}
	ft.lastSeq++
	return logcodec.AppendRecord(ft.adapter, path.Join(logsDir, ft.ownLogFile), nowMillis(), ft.lastSeq, update)
}

// AddFolder creates a new folder under parentID ("" for root).
func (ft *FolderTreeDoc) AddFolder(id, name, parentID string, order int) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.applyLocked(Folder{ID: id, Name: name, ParentID: parentID, Order: order})
}

// RenameFolder changes a folder's display name.
func (ft *FolderTreeDoc) RenameFolder(id, name string) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	f, ok := ft.getLocked(id)
	if !ok {
		return ncerr.New(ncerr.KindNotFound, "foldertree.RenameFolder", fmt.Errorf("folder %s not found", id))
	}
	f.Name = name
	return ft.applyLocked(f)
}

// MoveFolder reparents a folder.
func (ft *FolderTreeDoc) MoveFolder(id, newParentID string, order int) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	f, ok := ft.getLocked(id)
	if !ok {
		return ncerr.New(ncerr.KindNotFound, "foldertree.MoveFolder", fmt.Errorf("folder %s not found", id))
	}
	f.ParentID = newParentID
	f.Order = order
	return ft.applyLocked(f)
}

// DeleteFolder marks id deleted according to mode. notes, if non-nil, is
// used to reparent notes when mode requires it (cascade and reparent).
func (ft *FolderTreeDoc) DeleteFolder(id string, mode DeleteMode, notes NoteReparenter) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	target, ok := ft.getLocked(id)
	if !ok {
		return ncerr.New(ncerr.KindNotFound, "foldertree.DeleteFolder", fmt.Errorf("folder %s not found", id))
	}

	switch mode {
	case ModeSimple:
		target.Deleted = true
		return ft.applyLocked(target)

	case ModeReparent:
		children := ft.immediateChildrenLocked(id)
		for _, child := range children {
			child.ParentID = target.ParentID
			if err := ft.applyLocked(child); err != nil {
				return err
			}
		}
		target.Deleted = true
		if err := ft.applyLocked(target); err != nil {
			return err
		}
		if notes != nil {
			return notes.ReparentNotes(id, target.ParentID)
		}
		return nil

	case ModeCascade:
		descendants := ft.allDescendantsLocked(id)
		for _, d := range descendants {
			d.Deleted = true
			if err := ft.applyLocked(d); err != nil {
				return err
			}
		}
		target.Deleted = true
		if err := ft.applyLocked(target); err != nil {
			return err
		}
		if notes != nil {
			// every note under the deleted subtree (the target and each
			// descendant) reparents to the deleted folder's own former
			// parent.
			if err := notes.ReparentNotes(id, target.ParentID); err != nil {
				return err
			}
			for _, d := range descendants {
				if err := notes.ReparentNotes(d.ID, target.ParentID); err != nil {
					return err
				}
			}
		}
		return nil

	default:
		return ncerr.New(ncerr.KindInternal, "foldertree.DeleteFolder", fmt.Errorf("unknown delete mode %q", mode))
	}
}

const folderFieldPrefix = "folder:"

func (ft *FolderTreeDoc) allFoldersLocked() []Folder {
	raws := ft.doc.FieldsWithPrefix(folderFieldPrefix)
	out := make([]Folder, 0, len(raws))
	for _, raw := range raws {
		var f Folder
		if err := json.Unmarshal(raw, &f); err == nil {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListAllFolders returns every folder, including deleted ones and those
// hidden by a deleted ancestor.
func (ft *FolderTreeDoc) ListAllFolders() []Folder {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.allFoldersLocked()
}

// ListFolders returns only non-deleted folders with no deleted ancestor —
// the set an enumeration UI should actually display
// invariant (i).
func (ft *FolderTreeDoc) ListFolders() []Folder {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	all := ft.allFoldersLocked()
	byID := make(map[string]Folder, len(all))
	for _, f := range all {
		byID[f.ID] = f
	}

	out := make([]Folder, 0, len(all))
	for _, f := range all {
		if f.Deleted {
			continue
		}
		if ft.hasDeletedAncestorLocked(f.ID, byID) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// GetDescendants returns every folder (at any depth) whose parent chain
// leads back to id, regardless of deleted state.
func (ft *FolderTreeDoc) GetDescendants(id string) []Folder {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.allDescendantsLocked(id)
}

func (ft *FolderTreeDoc) allDescendantsLocked(id string) []Folder {
	all := ft.allFoldersLocked()
	childrenOf := make(map[string][]Folder)
	for _, f := range all {
		if f.ParentID != "" {
			childrenOf[f.ParentID] = append(childrenOf[f.ParentID], f)
		}
	}

	var out []Folder
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range childrenOf[cur] {
			out = append(out, child)
			queue = append(queue, child.ID)
		}
	}
	return out
}

func (ft *FolderTreeDoc) immediateChildrenLocked(id string) []Folder {
	var out []Folder
	for _, f := range ft.allFoldersLocked() {
		if f.ParentID == id {
			out = append(out, f)
		}
	}
	return out
}

// HasDeletedAncestor reports whether id or any of its ancestors is marked
// deleted.
func (ft *FolderTreeDoc) HasDeletedAncestor(id string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	byID := make(map[string]Folder)
	for _, f := range ft.allFoldersLocked() {
		byID[f.ID] = f
	}
	return ft.hasDeletedAncestorLocked(id, byID)
}

func (ft *FolderTreeDoc) hasDeletedAncestorLocked(id string, byID map[string]Folder) bool {
	seen := make(map[string]bool)
	cur, ok := byID[id]
	if !ok {
		return false
	}
	for cur.ParentID != "" {
		if seen[cur.ParentID] {
			return false // cycle guard; a well-formed tree never hits this
		}
		seen[cur.ParentID] = true

		parent, ok := byID[cur.ParentID]
		if !ok {
			return false
		}
		if parent.Deleted {
			return true
		}
		cur = parent
	}
	return false
}
