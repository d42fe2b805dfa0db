// Package idutil validates and generates the opaque identifiers used
// throughout the storage engine: noteId, folderId, sdId, profileId (UUIDs),
// instanceId (per-install random id), and imageId (content hash). Per
// , these are treated as opaque non-empty strings in filenames —
// parsers must not enforce fixed lengths on noteId/folderId/sdId/profileId
// or instanceId, only on imageId (which is a hash or UUID, validated against
// a fixed pattern to block path traversal.11).
package idutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// imageIDPattern matches a lowercase hex digest (32-64 chars, covering
// MD5-length through SHA-256/SHA3-256-length hashes) or a UUID. Anything
// else is rejected so a crafted imageId cannot escape the media/ directory.
var imageIDPattern = regexp.MustCompile(`^([a-f0-9]{32,64}|[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)

// NewUUID returns a new random UUID string, used for noteId, folderId,
// sdId, and profileId.
func NewUUID() string {
	return uuid.NewString()
}

// NewInstanceID returns a new random per-install instance id. It is
// deliberately not a UUID: instanceId is an opaque non-empty string with
// no length assumption, and a plain random hex token keeps that contract
// honest (a parser that happened to special-case UUID shape would
// silently pass instanceId values it shouldn't).
func NewInstanceID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the platform RNG is broken; there is no
		// sane fallback at this layer.
		panic(fmt.Sprintf("idutil: reading random instance id: %v", err))
	}
	return hex.EncodeToString(b[:])
}

// NonEmpty reports whether s is a valid opaque id: any non-empty string.
// Callers must not additionally enforce a length bound.
func NonEmpty(s string) bool {
	return s != ""
}

// ValidImageID reports whether s is an acceptable imageId: a lowercase hex
// digest of plausible hash length, or a UUID. Used by ImageStore.get/put to
// reject path-traversal attempts before building a media/ path.
func ValidImageID(s string) bool {
	return imageIDPattern.MatchString(s)
}
