// Package fsadapter implements the low-level file I/O contract shared by
// every on-disk component of a Storage Directory, including the flag-byte
// protocol that lets CRDT data files survive partial visibility on
// cloud-synced filesystems.
//
// All paths passed to an Adapter are relative to one Storage Directory
// root (e.g. "notes/n1/logs/a_1.crdtlog", "media/abc123.png",
// "activity/i1.log"). The adapter decides whether the flag-byte protocol
// applies based on the path's top-level segment: "notes/", "folders/", and
// "media/" are flag-byte paths; everything else (activity/, deletions/,
// profiles/, SD_VERSION, .migration-lock) is pass-through.
//
// Two implementations satisfy Adapter: OSAdapter (real filesystem, backed
// by fsnotify) for production, and MemAdapter (in-memory) so every other
// package's tests run without touching disk — one split among the broader
// NodeAdapter / MemoryAdapter / MobileAdapter family; MobileAdapter is not
// implemented by this repo, which targets desktop and server hosts only.
package fsadapter

import (
	"io/fs"
	"strings"
)

// EventType classifies a filesystem watch event.
type EventType int

// Event types delivered by Watch. Add events for files that already existed
// at watch startup are suppressed.
const (
	EventAdd EventType = iota
	EventChange
	EventRemove
)

func (t EventType) String() string {
	switch t {
	case EventAdd:
		return "add"
	case EventChange:
		return "change"
	case EventRemove:
		return "unlink"
	default:
		return "unknown"
	}
}

// Event describes one filesystem change, delivered with the basename of the
// changed entry (not the full path).
type Event struct {
	Dir  string // the watched directory this event came from
	Name string // basename of the changed entry
	Type EventType
}

// flagByteDirs are the top-level SD directories whose files are governed by
// the flag-byte protocol.
var flagByteDirs = []string{"notes/", "folders/", "media/"}

// IsFlagBytePath reports whether path falls under the flag-byte protocol.
func IsFlagBytePath(path string) bool {
	for _, dir := range flagByteDirs {
		if strings.HasPrefix(path, dir) {
			return true
		}
	}
	return false
}

// Adapter is the capability interface every component uses for SD I/O.
// Implementations apply the flag-byte protocol transparently for paths
// where IsFlagBytePath is true; all other paths are pass-through.
type Adapter interface {
	// Exists reports whether path exists (as any kind of entry).
	Exists(path string) (bool, error)
	// MkdirAll creates path and any missing parents.
	MkdirAll(path string) error
	// ReadFile returns path's logical payload: for flag-byte paths this is
	// the content after stripping/validating the leading flag byte; for
	// other paths it is the raw file content.
	ReadFile(path string) ([]byte, error)
	// WriteFile atomically (per the flag-byte protocol, for flag-byte
	// paths) writes data as path's complete content, creating missing
	// parent directories and tolerating a pre-existing file.
	WriteFile(path string, data []byte) error
	// AppendFile appends data to path, creating it (with the flag-byte
	// header already flipped to complete, for flag-byte paths) if missing.
	AppendFile(path string, data []byte) error
	// DeleteFile removes path. Missing files are not an error.
	DeleteFile(path string) error
	// ListDir returns the basenames of path's immediate children. Missing
	// directories return an empty slice, not an error.
	ListDir(path string) ([]string, error)
	// Stat returns file metadata for path.
	Stat(path string) (fs.FileInfo, error)
	// Watch starts watching dir (non-recursively) and returns a channel of
	// events and a close function. The channel is closed when the close
	// function is called. Add events for entries that existed at
	// Watch-call time are suppressed.
	Watch(dir string) (<-chan Event, func() error, error)
}

// RawAccessor is an optional capability, implemented by both OSAdapter and
// MemAdapter, that bypasses flag-byte interpretation entirely. sdstore's
// migration step needs this: a v0 SD's data files have no flag byte yet, so
// reading them through the normal Adapter.ReadFile would misinterpret byte
// 0. Callers type-assert Adapter to RawAccessor rather than this being part
// of the main interface, since no other component should ever bypass the
// flag-byte protocol.
type RawAccessor interface {
	ReadRaw(path string) ([]byte, error)
	WriteRaw(path string, data []byte) error
}

// flagComplete and flagIncomplete are the two valid values of byte 0 of a
// flag-byte-protocol file.
const (
	flagIncomplete byte = 0x00
	flagComplete   byte = 0x01
)
