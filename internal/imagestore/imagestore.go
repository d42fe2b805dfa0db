// Package imagestore implements the content-addressed media store:
// images live under `media/<imageId>.<ext>` where imageId is the
// lowercase hex SHA-256 of the bytes, with cross-SD discovery for images
// referenced by a note that moved before its media caught up, and a
// periodic orphan sweep.
//
// Cross-SD discovery and copy reuse a buffered transfer pattern,
// generalized from network-download buffering to local file-to-file copy
// buffering.
package imagestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/notecove/notecove/internal/fsadapter"
	"github.com/notecove/notecove/internal/idutil"
	"github.com/notecove/notecove/internal/ncerr"
)

const mediaDir = "media"

// OrphanAge is the minimum file age before an unreferenced image is
// eligible for cleanup.
const OrphanAge = 14 * 24 * time.Hour

// SDResolver looks up another registered SD's adapter by id, for the
// cross-SD discovery fallback in Get. ImageStore does not hold the SD
// registry itself; the caller that owns it supplies this lookup, and Get
// is just a consumer of it.
type SDResolver interface {
	AdapterForSD(sdID string) (fsadapter.Adapter, bool)
}

// Store is the media store for one SD.
type Store struct {
	sdID     string
	adapter  fsadapter.Adapter
	resolver SDResolver
}

// New constructs a Store for sdID. resolver may be nil if cross-SD
// discovery is never needed (e.g. a single-SD deployment or tests).
func New(sdID string, adapter fsadapter.Adapter, resolver SDResolver) *Store {
	return &Store{sdID: sdID, adapter: adapter, resolver: resolver}
}

func imagePath(imageID, ext string) string {
	if ext == "" {
		return path.Join(mediaDir, imageID)
	}
	return path.Join(mediaDir, imageID+"."+ext)
}

// Put writes bytes to media/<imageId>.<ext> if not already present,
// returning the computed imageId. Idempotent: a second Put of identical
// bytes is a no-op hash collision check, not a rewrite.
func (s *Store) Put(data []byte, ext string) (string, error) {
	sum := sha256.Sum256(data)
	imageID := hex.EncodeToString(sum[:])

	if _, ok, err := s.findLocal(imageID); err != nil {
		return "", err
	} else if ok {
		return imageID, nil
	}

	if err := s.adapter.WriteFile(imagePath(imageID, ext), data); err != nil {
		return "", err
	}
	return imageID, nil
}

// findLocal looks for any media/<imageId>.* file regardless of extension.
func (s *Store) findLocal(imageID string) (name string, found bool, err error) {
	names, err := s.adapter.ListDir(mediaDir)
	if err != nil {
		return "", false, err
	}
	prefix := imageID
	for _, n := range names {
		base := n
		if idx := strings.LastIndex(n, "."); idx >= 0 {
			base = n[:idx]
		}
		if base == prefix {
			return n, true, nil
		}
	}
	return "", false, nil
}

// Get returns imageId's bytes from this SD's media/ directory. A cross-SD
// miss is not resolved here — the caller (Coordinator, which knows every
// registered SD id) falls back to GetFromSD per candidate.
func (s *Store) Get(imageID string) ([]byte, error) {
	if !idutil.ValidImageID(imageID) {
		return nil, ncerr.New(ncerr.KindInternal, "imagestore.get", fmt.Errorf("invalid imageId %q", imageID))
	}

	name, ok, err := s.findLocal(imageID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ncerr.WithPath(ncerr.KindNotFound, "imagestore.get", imagePath(imageID, ""), nil)
	}
	return s.adapter.ReadFile(path.Join(mediaDir, name))
}

// GetFromSD probes a specific candidate SD (by id, resolved through
// resolver) for imageId and copies it locally on a hit. The Coordinator
// calls this once per registered SD until one succeeds (
// "probe every registered SD").
func (s *Store) GetFromSD(candidateSDID, imageID string) ([]byte, error) {
	if s.resolver == nil {
		return nil, ncerr.WithPath(ncerr.KindNotFound, "imagestore.getFromSD", imagePath(imageID, ""), nil)
	}
	candidateAdapter, ok := s.resolver.AdapterForSD(candidateSDID)
	if !ok {
		return nil, ncerr.WithPath(ncerr.KindNotFound, "imagestore.getFromSD", imagePath(imageID, ""), nil)
	}

	candidate := New(candidateSDID, candidateAdapter, nil)
	name, found, err := candidate.findLocal(imageID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ncerr.WithPath(ncerr.KindNotFound, "imagestore.getFromSD", imagePath(imageID, ""), nil)
	}

	data, err := candidateAdapter.ReadFile(path.Join(mediaDir, name))
	if err != nil {
		return nil, err
	}

	ext := ""
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		ext = name[idx+1:]
	}
	if err := s.adapter.WriteFile(imagePath(imageID, ext), data); err != nil {
		return nil, err
	}
	return data, nil
}

// CopyTo copies imageId from this store to dst if dst does not already
// have it (content-hash collision skip), for NoteMoveManager's
// images_copied step. It buffers the full file in memory, mirroring the
// teacher's transfer.go buffering approach scaled down to local-file
// sizes (images, not multi-gigabyte drive items).
func (s *Store) CopyTo(dst *Store, imageID string) error {
	name, found, err := s.findLocal(imageID)
	if err != nil {
		return err
	}
	if !found {
		return ncerr.WithPath(ncerr.KindNotFound, "imagestore.copyTo", imagePath(imageID, ""), nil)
	}

	if _, ok, err := dst.findLocal(imageID); err != nil {
		return err
	} else if ok {
		return nil // already present at destination; content-hash collision skip
	}

	data, err := s.adapter.ReadFile(path.Join(mediaDir, name))
	if err != nil {
		return err
	}
	ext := ""
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		ext = name[idx+1:]
	}
	return dst.adapter.WriteFile(imagePath(imageID, ext), data)
}

// Has reports whether imageId is already present in this store, without
// reading its bytes.
func (s *Store) Has(imageID string) (bool, error) {
	_, found, err := s.findLocal(imageID)
	return found, err
}

// ReferenceSet is supplied by the caller with every imageId currently
// referenced by any live NoteDoc in this SD, for SweepOrphans.
type ReferenceSet map[string]bool

// SweepOrphans deletes every media/ file older than OrphanAge whose
// imageId is not present in referenced — it never deletes an image
// referenced by any live NoteDoc. now is injected for deterministic
// tests.
func (s *Store) SweepOrphans(referenced ReferenceSet, now time.Time) ([]string, error) {
	names, err := s.adapter.ListDir(mediaDir)
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, name := range names {
		base := name
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			base = name[:idx]
		}
		if referenced[base] {
			continue
		}

		info, err := s.adapter.Stat(path.Join(mediaDir, name))
		if err != nil {
			continue // file vanished or unreadable; nothing to clean up
		}
		if now.Sub(info.ModTime()) < OrphanAge {
			continue
		}

		if err := s.adapter.DeleteFile(path.Join(mediaDir, name)); err != nil {
			return deleted, err
		}
		deleted = append(deleted, base)
	}
	return deleted, nil
}
