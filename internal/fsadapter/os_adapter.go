package fsadapter

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/notecove/notecove/internal/ncerr"
)

// dirPermissions and filePermissions are conservative owner-writable
// permissions for locally synced data.
const (
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// OSAdapter implements Adapter against the real filesystem, rooted at one
// Storage Directory. Watch is backed by fsnotify, wrapped behind the
// fsWatcher interface so tests can substitute a fake without depending on
// inotify/FSEvents.
type OSAdapter struct {
	root   string
	logger *slog.Logger

	newWatcher func() (fsWatcher, error)
}

// fsWatcher abstracts *fsnotify.Watcher. fsnotify exposes Events/Errors as
// public channel fields rather than methods, so this narrow interface lets
// tests inject a fake watcher without touching the real filesystem.
type fsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func (f *fsnotifyWrapper) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWrapper) Close() error                  { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error          { return f.w.Errors }

// NewOSAdapter creates an adapter rooted at root. root must already exist
// or be creatable by the caller; OSAdapter does not create it.
func NewOSAdapter(root string, logger *slog.Logger) *OSAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OSAdapter{
		root:   root,
		logger: logger,
		newWatcher: func() (fsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}
			return &fsnotifyWrapper{w: w}, nil
		},
	}
}

func (a *OSAdapter) abs(path string) string {
	return filepath.Join(a.root, filepath.FromSlash(path))
}

func (a *OSAdapter) Exists(path string) (bool, error) {
	_, err := os.Stat(a.abs(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, ncerr.WithPath(ncerr.KindIO, "fsadapter.Exists", path, err)
}

func (a *OSAdapter) MkdirAll(path string) error {
	if err := os.MkdirAll(a.abs(path), dirPermissions); err != nil {
		return ncerr.WithPath(ncerr.KindIO, "fsadapter.MkdirAll", path, err)
	}
	return nil
}

func (a *OSAdapter) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(a.abs(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ncerr.WithPath(ncerr.KindNotFound, "fsadapter.ReadFile", path, err)
		}
		return nil, ncerr.WithPath(ncerr.KindIO, "fsadapter.ReadFile", path, err)
	}

	if !IsFlagBytePath(path) {
		return data, nil
	}

	if len(data) == 0 {
		return nil, ncerr.WithPath(ncerr.KindIncomplete, "fsadapter.ReadFile", path, errors.New("empty flag-byte file"))
	}

	switch data[0] {
	case flagIncomplete:
		return nil, ncerr.WithPath(ncerr.KindIncomplete, "fsadapter.ReadFile", path, errors.New("writer in progress"))
	case flagComplete:
		return data[1:], nil
	default:
		return nil, ncerr.WithPath(ncerr.KindCorrupt, "fsadapter.ReadFile", path,
			fmt.Errorf("invalid flag byte 0x%02x", data[0]))
	}
}

// WriteFile implements the flag-byte write sequence for flag-byte paths:
// open, write 0x00+payload, fsync, overwrite byte 0 with 0x01, fsync,
// close. For other paths it is a plain whole-file write.
func (a *OSAdapter) WriteFile(path string, data []byte) error {
	full := a.abs(path)
	if err := os.MkdirAll(filepath.Dir(full), dirPermissions); err != nil {
		return ncerr.WithPath(ncerr.KindIO, "fsadapter.WriteFile", path, err)
	}

	if !IsFlagBytePath(path) {
		if err := os.WriteFile(full, data, filePermissions); err != nil {
			return ncerr.WithPath(ncerr.KindIO, "fsadapter.WriteFile", path, err)
		}
		return nil
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_TRUNC|os.O_RDWR, filePermissions)
	if err != nil {
		return ncerr.WithPath(ncerr.KindIO, "fsadapter.WriteFile", path, err)
	}
	defer f.Close()

	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, flagIncomplete)
	buf = append(buf, data...)

	if _, err := f.Write(buf); err != nil {
		return ncerr.WithPath(ncerr.KindIO, "fsadapter.WriteFile", path, err)
	}
	if err := f.Sync(); err != nil {
		return ncerr.WithPath(ncerr.KindIO, "fsadapter.WriteFile", path, err)
	}

	if _, err := f.WriteAt([]byte{flagComplete}, 0); err != nil {
		return ncerr.WithPath(ncerr.KindIO, "fsadapter.WriteFile", path, err)
	}
	if err := f.Sync(); err != nil {
		return ncerr.WithPath(ncerr.KindIO, "fsadapter.WriteFile", path, err)
	}

	return nil
}

// AppendFile appends data to path. A flag-byte path that does not exist
// yet is created with the complete flag byte (0x01) written ahead of
// data. An existing file needs no further flag manipulation — the reader
// already knows byte 0 is 0x01 and interprets everything after it,
// including newly appended bytes, as payload.
func (a *OSAdapter) AppendFile(path string, data []byte) error {
	full := a.abs(path)
	if err := os.MkdirAll(filepath.Dir(full), dirPermissions); err != nil {
		return ncerr.WithPath(ncerr.KindIO, "fsadapter.AppendFile", path, err)
	}

	if IsFlagBytePath(path) {
		if _, err := os.Stat(full); errors.Is(err, os.ErrNotExist) {
			data = append([]byte{flagComplete}, data...)
		}
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePermissions)
	if err != nil {
		return ncerr.WithPath(ncerr.KindIO, "fsadapter.AppendFile", path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return ncerr.WithPath(ncerr.KindIO, "fsadapter.AppendFile", path, err)
	}
	return f.Sync()
}

// ReadRaw returns path's exact on-disk bytes, bypassing flag-byte
// interpretation even under notes/, folders/, or media/. Used by sdstore's
// version migration, which must read pre-migration files that have no flag
// byte at all.
func (a *OSAdapter) ReadRaw(path string) ([]byte, error) {
	data, err := os.ReadFile(a.abs(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ncerr.WithPath(ncerr.KindNotFound, "fsadapter.ReadRaw", path, err)
		}
		return nil, ncerr.WithPath(ncerr.KindIO, "fsadapter.ReadRaw", path, err)
	}
	return data, nil
}

// WriteRaw writes data as path's exact content, bypassing the flag-byte
// write sequence WriteFile would otherwise apply.
func (a *OSAdapter) WriteRaw(path string, data []byte) error {
	full := a.abs(path)
	if err := os.MkdirAll(filepath.Dir(full), dirPermissions); err != nil {
		return ncerr.WithPath(ncerr.KindIO, "fsadapter.WriteRaw", path, err)
	}
	if err := os.WriteFile(full, data, filePermissions); err != nil {
		return ncerr.WithPath(ncerr.KindIO, "fsadapter.WriteRaw", path, err)
	}
	return nil
}

func (a *OSAdapter) DeleteFile(path string) error {
	if err := os.Remove(a.abs(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ncerr.WithPath(ncerr.KindIO, "fsadapter.DeleteFile", path, err)
	}
	return nil
}

func (a *OSAdapter) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(a.abs(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, ncerr.WithPath(ncerr.KindIO, "fsadapter.ListDir", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (a *OSAdapter) Stat(path string) (fs.FileInfo, error) {
	info, err := os.Stat(a.abs(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ncerr.WithPath(ncerr.KindNotFound, "fsadapter.Stat", path, err)
		}
		return nil, ncerr.WithPath(ncerr.KindIO, "fsadapter.Stat", path, err)
	}
	return info, nil
}

// Watch monitors dir (non-recursively) for add/change/unlink events. Pre-
// existing entries are recorded at call time and their Add events are
// suppressed.
func (a *OSAdapter) Watch(dir string) (<-chan Event, func() error, error) {
	full := a.abs(dir)

	preexisting := make(map[string]bool)
	if entries, err := os.ReadDir(full); err == nil {
		for _, e := range entries {
			preexisting[e.Name()] = true
		}
	}

	w, err := a.newWatcher()
	if err != nil {
		return nil, nil, ncerr.WithPath(ncerr.KindIO, "fsadapter.Watch", dir, err)
	}
	if err := w.Add(full); err != nil {
		_ = w.Close()
		return nil, nil, ncerr.WithPath(ncerr.KindIO, "fsadapter.Watch", dir, err)
	}

	out := make(chan Event, 64)

	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-w.Events():
				if !ok {
					return
				}
				name := filepath.Base(ev.Name)

				var typ EventType
				switch {
				case ev.Op&fsnotify.Create != 0:
					if preexisting[name] {
						continue
					}
					typ = EventAdd
				case ev.Op&fsnotify.Write != 0 || ev.Op&fsnotify.Chmod != 0:
					typ = EventChange
				case ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0:
					typ = EventRemove
				default:
					continue
				}

				select {
				case out <- Event{Dir: dir, Name: name, Type: typ}:
				default:
					a.logger.Warn("fsadapter: watch event channel full, dropping event",
						slog.String("dir", dir), slog.String("name", name))
				}
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				a.logger.Warn("fsadapter: watch error", slog.String("dir", dir), slog.Any("err", err))
			}
		}
	}()

	return out, w.Close, nil
}
