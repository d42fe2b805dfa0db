// Package ncerr defines the error taxonomy shared across the storage and
// sync engine. Every component that can fail in a way the host application
// needs to branch on (retry, surface a modal, prompt conflict resolution)
// wraps the underlying error in one of these kinds so callers can classify
// it with errors.As instead of string matching.
package ncerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a storage-engine error.
type Kind string

// Error kinds and the propagation policy for each.
const (
	KindNotFound         Kind = "not_found"
	KindIncomplete       Kind = "incomplete"
	KindCorrupt          Kind = "corrupt"
	KindVersionMismatch  Kind = "version_mismatch"
	KindLocked           Kind = "locked"
	KindConflict         Kind = "conflict"
	KindSequenceGap      Kind = "sequence_gap"
	KindRateLimited      Kind = "rate_limited"
	KindIO               Kind = "io_error"
	KindInternal         Kind = "internal"
)

// Error is a classified engine error. Path and Offset are populated for
// Corrupt errors; never silently
// drop").
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "logcodec.readAll"
	Path    string // file path involved, if any
	Offset  int64  // byte offset involved, if any (Corrupt, truncation)
	Err     error  // wrapped underlying error, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s", e.Path)
		if e.Offset != 0 {
			msg += fmt.Sprintf(", offset=%d", e.Offset)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified Error with no path/offset context.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithPath attaches a file path to a classified error.
func WithPath(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// WithOffset attaches a file path and byte offset — used for Corrupt and
// truncated-record errors so the caller can report exactly where a log
// stopped being readable.
func WithOffset(kind Kind, op, path string, offset int64, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Offset: offset, Err: err}
}

// Is reports whether err is a classified Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from a classified error, or "" if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
