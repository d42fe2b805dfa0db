// Package sdstore implements Storage Directory version checking and
// migration: the SD_VERSION marker file, the
// .migration-lock that blocks concurrent access during an upgrade, and the
// ordered, idempotent list of per-version migration steps. This mirrors the
// teacher's migration-runner idiom (internal/sync/migrations.go,
// runMigrations): an ordered list of numbered steps, a recorded current
// version, no-op when already current.
package sdstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/notecove/notecove/internal/fsadapter"
	"github.com/notecove/notecove/internal/ncerr"
)

// CurrentVersion is the SD format version this build understands.
const CurrentVersion = 1

const (
	versionFilePath = "SD_VERSION"
	lockFilePath    = ".migration-lock"
)

// Reason classifies why an SD is not compatible with this build.
type Reason string

const (
	ReasonTooNew Reason = "too-new"
	ReasonTooOld Reason = "too-old"
	ReasonLocked Reason = "locked"
)

// CompatibilityResult is checkSDVersion's verdict.
type CompatibilityResult struct {
	Compatible bool
	Version    int
	Reason     Reason // set only when Compatible is false
}

// LockInfo is the JSON body of .migration-lock.
type LockInfo struct {
	Timestamp time.Time `json:"timestamp"`
	PID       int       `json:"pid"`
}

// readVersion returns the SD's recorded version, or 0 if SD_VERSION is
// absent (an un-migrated, pre-version SD.12).
func readVersion(a fsadapter.Adapter) (int, error) {
	exists, err := a.Exists(versionFilePath)
	if err != nil {
		return 0, ncerr.WithPath(ncerr.KindIO, "sdstore.readVersion", versionFilePath, err)
	}
	if !exists {
		return 0, nil
	}
	data, err := a.ReadFile(versionFilePath)
	if err != nil {
		return 0, ncerr.WithPath(ncerr.KindIO, "sdstore.readVersion", versionFilePath, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, ncerr.WithPath(ncerr.KindCorrupt, "sdstore.readVersion", versionFilePath, err)
	}
	return v, nil
}

func writeVersion(a fsadapter.Adapter, version int) error {
	data := []byte(strconv.Itoa(version) + "\n")
	if err := a.WriteFile(versionFilePath, data); err != nil {
		return ncerr.WithPath(ncerr.KindIO, "sdstore.writeVersion", versionFilePath, err)
	}
	return nil
}

// CheckVersion reports whether an SD is compatible with this instance:
// missing SD_VERSION is treated as version 0 and requires migration
// (too-old); a version above CurrentVersion requires an app update
// (too-new); a present .migration-lock means another instance is
// migrating.
func CheckVersion(a fsadapter.Adapter) (CompatibilityResult, error) {
	locked, err := isLocked(a)
	if err != nil {
		return CompatibilityResult{}, err
	}
	if locked {
		return CompatibilityResult{Compatible: false, Reason: ReasonLocked}, nil
	}

	version, err := readVersion(a)
	if err != nil {
		return CompatibilityResult{}, err
	}

	switch {
	case version > CurrentVersion:
		return CompatibilityResult{Compatible: false, Version: version, Reason: ReasonTooNew}, nil
	case version < CurrentVersion:
		return CompatibilityResult{Compatible: false, Version: version, Reason: ReasonTooOld}, nil
	default:
		return CompatibilityResult{Compatible: true, Version: version}, nil
	}
}

func isLocked(a fsadapter.Adapter) (bool, error) {
	exists, err := a.Exists(lockFilePath)
	if err != nil {
		return false, ncerr.WithPath(ncerr.KindIO, "sdstore.isLocked", lockFilePath, err)
	}
	return exists, nil
}

// migrationStep upgrades an SD from its index'th version to the next. Steps
// must be idempotent: re-running a step on an SD already at or past its
// target version is a no-op, since Migrate always re-derives the starting
// version by reading SD_VERSION rather than trusting caller state.
type migrationStep func(a fsadapter.Adapter) error

// steps[i] migrates version i to version i+1. Index 0 is the only step this
// build knows: v0 (pre-versioning, raw unflagged data files) to v1 (flag-
// byte protocol adopted).
var steps = []migrationStep{
	migrateV0ToV1,
}

// rawAccessor is the capability fsadapter.RawAccessor exposes; migration
// steps type-assert for it because the ordinary Adapter.ReadFile/WriteFile
// unconditionally apply flag-byte semantics to notes/, folders/, media/
// paths, and a v0 SD's files have no flag byte yet to interpret.
type rawAccessor interface {
	ReadRaw(path string) ([]byte, error)
	WriteRaw(path string, data []byte) error
}

// migrateV0ToV1 prepends the flag-complete byte (0x01) to every data file
// under notes/, folders/, and media/. Idempotent: a file whose first byte
// is already 0x01 or 0x00 is left alone, since re-running this step on an
// already-migrated SD must be a no-op.
func migrateV0ToV1(a fsadapter.Adapter) error {
	raw, ok := a.(rawAccessor)
	if !ok {
		return ncerr.New(ncerr.KindInternal, "sdstore.migrateV0ToV1",
			fmt.Errorf("adapter %T does not support raw access", a))
	}

	for _, root := range []string{"notes", "folders", "media"} {
		if err := migrateDataFilesUnder(raw, a, root); err != nil {
			return err
		}
	}
	return nil
}

func migrateDataFilesUnder(raw rawAccessor, a fsadapter.Adapter, dir string) error {
	entries, err := a.ListDir(dir)
	if err != nil {
		return ncerr.WithPath(ncerr.KindIO, "sdstore.migrateDataFilesUnder", dir, err)
	}
	for _, name := range entries {
		childPath := dir + "/" + name
		info, err := a.Stat(childPath)
		if err != nil {
			return ncerr.WithPath(ncerr.KindIO, "sdstore.migrateDataFilesUnder", childPath, err)
		}
		if info.IsDir() {
			if err := migrateDataFilesUnder(raw, a, childPath); err != nil {
				return err
			}
			continue
		}
		if err := migrateFileV0ToV1(raw, childPath); err != nil {
			return err
		}
	}
	return nil
}

func migrateFileV0ToV1(raw rawAccessor, path string) error {
	data, err := raw.ReadRaw(path)
	if err != nil {
		return ncerr.WithPath(ncerr.KindIO, "sdstore.migrateFileV0ToV1", path, err)
	}
	if len(data) > 0 && (data[0] == 0x00 || data[0] == 0x01) {
		// Already flag-byte-prefixed: either a prior partial migration run,
		// or this step has already completed. Either way, nothing to do.
		return nil
	}
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, 0x01)
	buf = append(buf, data...)
	if err := raw.WriteRaw(path, buf); err != nil {
		return ncerr.WithPath(ncerr.KindIO, "sdstore.migrateFileV0ToV1", path, err)
	}
	return nil
}

// Migrate runs every pending migration step in order, guarded by
// .migration-lock, and records the resulting version in SD_VERSION. It is
// a no-op if the SD is already at CurrentVersion. now and pid identify this
// instance in the lock file for diagnostics; they play no role in
// correctness.
func Migrate(a fsadapter.Adapter, now time.Time, pid int) error {
	locked, err := isLocked(a)
	if err != nil {
		return err
	}
	if locked {
		return ncerr.WithPath(ncerr.KindLocked, "sdstore.Migrate", lockFilePath,
			errors.New("another instance is migrating this storage directory"))
	}

	version, err := readVersion(a)
	if err != nil {
		return err
	}
	if version > CurrentVersion {
		return ncerr.New(ncerr.KindVersionMismatch, "sdstore.Migrate",
			fmt.Errorf("storage directory is version %d, newer than supported version %d", version, CurrentVersion))
	}
	if version == CurrentVersion {
		return nil
	}

	if err := acquireLock(a, now, pid); err != nil {
		return err
	}
	defer func() { _ = a.DeleteFile(lockFilePath) }()

	for v := version; v < CurrentVersion; v++ {
		if err := steps[v](a); err != nil {
			return fmt.Errorf("sdstore: migrating v%d to v%d: %w", v, v+1, err)
		}
		if err := writeVersion(a, v+1); err != nil {
			return err
		}
	}
	return nil
}

func acquireLock(a fsadapter.Adapter, now time.Time, pid int) error {
	data, err := json.Marshal(LockInfo{Timestamp: now, PID: pid})
	if err != nil {
		return ncerr.New(ncerr.KindInternal, "sdstore.acquireLock", err)
	}
	if err := a.WriteFile(lockFilePath, data); err != nil {
		return ncerr.WithPath(ncerr.KindIO, "sdstore.acquireLock", lockFilePath, err)
	}
	return nil
}

// ReadLockInfo returns the contents of an existing .migration-lock, for
// diagnostics surfaces that want to report which process is migrating and
// since when.
func ReadLockInfo(a fsadapter.Adapter) (LockInfo, error) {
	data, err := a.ReadFile(lockFilePath)
	if err != nil {
		return LockInfo{}, ncerr.WithPath(ncerr.KindIO, "sdstore.ReadLockInfo", lockFilePath, err)
	}
	var info LockInfo
	if err := json.Unmarshal(bytes.TrimSpace(data), &info); err != nil {
		return LockInfo{}, ncerr.WithPath(ncerr.KindCorrupt, "sdstore.ReadLockInfo", lockFilePath, err)
	}
	return info, nil
}
