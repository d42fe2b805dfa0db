package fsadapter

import (
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/notecove/notecove/internal/ncerr"
)

// MemAdapter is an in-memory Adapter, storing each path's bytes in the same
// flag-byte-prefixed format OSAdapter uses on disk so ReadFile/WriteFile
// semantics match exactly. Every package outside fsadapter tests against
// this instead of a real filesystem.
type MemAdapter struct {
	mu       sync.Mutex
	files    map[string][]byte
	dirs     map[string]bool
	modTimes map[string]time.Time

	watchersMu sync.Mutex
	watchers   map[string][]chan Event
}

// NewMemAdapter returns an empty in-memory adapter.
func NewMemAdapter() *MemAdapter {
	return &MemAdapter{
		files:    make(map[string][]byte),
		dirs:     map[string]bool{"": true},
		modTimes: make(map[string]time.Time),
		watchers: make(map[string][]chan Event),
	}
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func (m *MemAdapter) Exists(p string) (bool, error) {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[p]; ok {
		return true, nil
	}
	return m.dirs[p], nil
}

func (m *MemAdapter) MkdirAll(p string) error {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	for d := p; d != "" && d != "."; d = path.Dir(d) {
		m.dirs[d] = true
	}
	return nil
}

func (m *MemAdapter) ReadFile(p string) ([]byte, error) {
	p = clean(p)
	m.mu.Lock()
	data, ok := m.files[p]
	m.mu.Unlock()
	if !ok {
		return nil, ncerr.WithPath(ncerr.KindNotFound, "fsadapter.ReadFile", p, errors.New("no such file"))
	}

	if !IsFlagBytePath(p) {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}

	if len(data) == 0 {
		return nil, ncerr.WithPath(ncerr.KindIncomplete, "fsadapter.ReadFile", p, errors.New("empty flag-byte file"))
	}
	switch data[0] {
	case flagIncomplete:
		return nil, ncerr.WithPath(ncerr.KindIncomplete, "fsadapter.ReadFile", p, errors.New("writer in progress"))
	case flagComplete:
		out := make([]byte, len(data)-1)
		copy(out, data[1:])
		return out, nil
	default:
		return nil, ncerr.WithPath(ncerr.KindCorrupt, "fsadapter.ReadFile", p, errors.New("invalid flag byte"))
	}
}

func (m *MemAdapter) WriteFile(p string, data []byte) error {
	p = clean(p)

	var toNotify []string

	m.mu.Lock()
	for d := path.Dir(p); d != "" && d != "."; d = path.Dir(d) {
		m.dirs[d] = true
	}
	_, existed := m.files[p]

	if IsFlagBytePath(p) {
		buf := make([]byte, 0, len(data)+1)
		buf = append(buf, flagComplete)
		buf = append(buf, data...)
		m.files[p] = buf
	} else {
		buf := make([]byte, len(data))
		copy(buf, data)
		m.files[p] = buf
	}
	m.modTimes[p] = time.Now()
	m.mu.Unlock()

	if !existed {
		toNotify = append(toNotify, EventAdd.String())
	} else {
		toNotify = append(toNotify, EventChange.String())
	}
	m.notify(path.Dir(p), path.Base(p), toNotify[0] == "add")
	return nil
}

func (m *MemAdapter) AppendFile(p string, data []byte) error {
	p = clean(p)

	m.mu.Lock()
	existing, existed := m.files[p]
	if !existed && IsFlagBytePath(p) {
		existing = []byte{flagComplete}
	}
	buf := make([]byte, len(existing)+len(data))
	copy(buf, existing)
	copy(buf[len(existing):], data)
	for d := path.Dir(p); d != "" && d != "."; d = path.Dir(d) {
		m.dirs[d] = true
	}
	m.files[p] = buf
	m.modTimes[p] = time.Now()
	m.mu.Unlock()

	m.notify(path.Dir(p), path.Base(p), !existed)
	return nil
}

func (m *MemAdapter) DeleteFile(p string) error {
	p = clean(p)
	m.mu.Lock()
	_, existed := m.files[p]
	delete(m.files, p)
	m.mu.Unlock()
	if existed {
		m.notifyRemove(path.Dir(p), path.Base(p))
	}
	return nil
}

func (m *MemAdapter) ListDir(p string) ([]string, error) {
	p = clean(p)
	prefix := p
	if prefix != "" {
		prefix += "/"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for f := range m.files {
		if !strings.HasPrefix(f, prefix) {
			continue
		}
		rest := strings.TrimPrefix(f, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			seen[rest[:i]] = true
		} else if rest != "" {
			seen[rest] = true
		}
	}
	for d := range m.dirs {
		if d == p || !strings.HasPrefix(d, prefix) {
			continue
		}
		rest := strings.TrimPrefix(d, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			seen[rest[:i]] = true
		} else if rest != "" {
			seen[rest] = true
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

type memFileInfo struct {
	name    string
	size    int64
	dir     bool
	modTime time.Time
}

func (fi memFileInfo) Name() string      { return fi.name }
func (fi memFileInfo) Size() int64       { return fi.size }
func (fi memFileInfo) Mode() fs.FileMode {
	if fi.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}
func (fi memFileInfo) ModTime() time.Time { return fi.modTime }
func (fi memFileInfo) IsDir() bool        { return fi.dir }
func (fi memFileInfo) Sys() any           { return nil }

// ReadRaw returns path's exact stored bytes, bypassing flag-byte
// interpretation even for paths under notes/, folders/, or media/.
func (m *MemAdapter) ReadRaw(p string) ([]byte, error) {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if !ok {
		return nil, ncerr.WithPath(ncerr.KindNotFound, "fsadapter.ReadRaw", p, errors.New("no such file"))
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteRaw stores data as path's exact content, bypassing the flag-byte
// prefix that WriteFile would otherwise add for notes/, folders/, media/
// paths.
func (m *MemAdapter) WriteRaw(p string, data []byte) error {
	p = clean(p)

	m.mu.Lock()
	for d := path.Dir(p); d != "" && d != "."; d = path.Dir(d) {
		m.dirs[d] = true
	}
	_, existed := m.files[p]
	buf := make([]byte, len(data))
	copy(buf, data)
	m.files[p] = buf
	m.modTimes[p] = time.Now()
	m.mu.Unlock()

	m.notify(path.Dir(p), path.Base(p), !existed)
	return nil
}

func (m *MemAdapter) Stat(p string) (fs.FileInfo, error) {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.files[p]; ok {
		return memFileInfo{name: path.Base(p), size: int64(len(data)), modTime: m.modTimes[p]}, nil
	}
	if m.dirs[p] {
		return memFileInfo{name: path.Base(p), dir: true}, nil
	}
	return nil, ncerr.WithPath(ncerr.KindNotFound, "fsadapter.Stat", p, errors.New("no such entry"))
}

// Watch returns a channel fed by WriteFile/AppendFile/DeleteFile calls
// against files directly inside dir. There is no pre-existing-entry
// suppression to implement here: tests construct a MemAdapter and call
// Watch before populating it.
func (m *MemAdapter) Watch(dir string) (<-chan Event, func() error, error) {
	dir = clean(dir)
	ch := make(chan Event, 64)

	m.watchersMu.Lock()
	m.watchers[dir] = append(m.watchers[dir], ch)
	m.watchersMu.Unlock()

	closeFn := func() error {
		m.watchersMu.Lock()
		defer m.watchersMu.Unlock()
		list := m.watchers[dir]
		for i, c := range list {
			if c == ch {
				m.watchers[dir] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
		return nil
	}

	return ch, closeFn, nil
}

func (m *MemAdapter) notify(dir, name string, isAdd bool) {
	typ := EventChange
	if isAdd {
		typ = EventAdd
	}
	m.deliver(dir, name, typ)
}

func (m *MemAdapter) notifyRemove(dir, name string) {
	m.deliver(dir, name, EventRemove)
}

func (m *MemAdapter) deliver(dir, name string, typ EventType) {
	m.watchersMu.Lock()
	defer m.watchersMu.Unlock()
	for _, ch := range m.watchers[dir] {
		select {
		case ch <- Event{Dir: dir, Name: name, Type: typ}:
		default:
		}
	}
}
