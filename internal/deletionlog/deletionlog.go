// Package deletionlog implements the per-instance tombstone log that
// records soft-delete, restore, and permanent-delete operations on notes.
// A DeletionLog entry is authoritative regardless of what state the note's
// own CRDT doc happens to hold — it is the only source
// of truth the Coordinator trusts when deciding whether a note should be
// visible, trashed, or gone.
package deletionlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/notecove/notecove/internal/fsadapter"
)

// Op is a deletion-log operation kind.
type Op string

const (
	OpDelete    Op = "delete"
	OpRestore   Op = "restore"
	OpPermanent Op = "permanent"
)

// Entry is one JSON-per-line tombstone record.
type Entry struct {
	NoteID     string `json:"noteId"`
	Op         Op     `json:"op"`
	Timestamp  int64  `json:"ts"`
	InstanceID string `json:"-"` // which peer's file this came from; not serialized
}

func path(instanceID string) string {
	return fmt.Sprintf("deletions/%s.log", instanceID)
}

// Append records op for noteId at ts, attributed to instanceID's file.
func Append(a fsadapter.Adapter, instanceID, noteID string, op Op, ts int64) error {
	entry := Entry{NoteID: noteID, Op: op, Timestamp: ts}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return a.AppendFile(path(instanceID), append(line, '\n'))
}

// ReadInstance parses every complete JSON line in instanceID's deletion
// log, tagging each Entry with its source instance. A trailing partial
// line (torn write) is dropped, matching ActivityLog's tolerance.
func ReadInstance(a fsadapter.Adapter, instanceID string) ([]Entry, error) {
	data, err := a.ReadFile(path(instanceID))
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for len(data) > 0 {
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			break
		}
		line := data[:nl]
		data = data[nl+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		e.InstanceID = instanceID
		entries = append(entries, e)
	}
	return entries, nil
}

// ReadAll reads every instance's deletion log under deletions/ and returns
// the merged entry list (not yet reduced to latest-per-note — callers that
// want the final state per note should pass the result to Latest).
func ReadAll(a fsadapter.Adapter) ([]Entry, error) {
	names, err := a.ListDir("deletions")
	if err != nil {
		return nil, err
	}

	var all []Entry
	for _, name := range names {
		instanceID, ok := trimLogSuffix(name)
		if !ok {
			continue
		}
		entries, err := ReadInstance(a, instanceID)
		if err != nil {
			continue // a single peer's unreadable log must not block the merge
		}
		all = append(all, entries...)
	}
	return all, nil
}

func trimLogSuffix(name string) (string, bool) {
	const suffix = ".log"
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return "", false
	}
	return name[:len(name)-len(suffix)], true
}

// Latest reduces entries to the single latest Entry per noteId, by
// timestamp, tiebreaking by InstanceID.
func Latest(entries []Entry) map[string]Entry {
	latest := make(map[string]Entry)
	for _, e := range entries {
		cur, ok := latest[e.NoteID]
		if !ok || newer(e, cur) {
			latest[e.NoteID] = e
		}
	}
	return latest
}

func newer(a, b Entry) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.InstanceID > b.InstanceID
}

// SortedNoteIDs returns the keys of a Latest map in deterministic order,
// for callers that need stable iteration (e.g. diagnostics output).
func SortedNoteIDs(latest map[string]Entry) []string {
	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
