// IPC broadcast hub: every Coordinator state-change event (note updated,
// folder changed, move progress) fans out to every window process
// connected over a local github.com/coder/websocket connection, carrying
// each event's origin tag so a receiving window can recognize its own
// edits and skip re-applying them.
package coordinator

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Hub manages one process's set of local IPC subscribers.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewHub constructs an empty broadcast hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[int]chan Event)}
}

// Broadcast fans ev out to every connected subscriber, non-blockingly —
// a slow or stuck subscriber drops events rather than stalling the
// Coordinator's single-threaded event loop.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("coordinator: ipc subscriber backlog full, dropping event", slog.Int("subscriber", id))
		}
	}
}

func (h *Hub) subscribe() (int, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan Event, 64)
	h.subs[id] = ch
	return id, ch
}

func (h *Hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// ServeHTTP upgrades an incoming local connection to a websocket and
// streams every broadcast Event to it as JSON until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("coordinator: ipc accept failed", slog.Any("err", err))
		return
	}
	defer conn.CloseNow() //nolint:errcheck

	id, ch := h.subscribe()
	defer h.unsubscribe(id)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "context canceled")
			return
		case ev, ok := <-ch:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "hub closed")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn("coordinator: ipc marshal failed", slog.Any("err", err))
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				h.logger.Debug("coordinator: ipc write failed, dropping subscriber", slog.Any("err", err))
				return
			}
		}
	}
}

// Subscribe lets in-process callers (tests, and the daemon's own embedded
// consumers) observe events without going over a socket.
func (h *Hub) Subscribe() (events <-chan Event, unsubscribe func()) {
	id, ch := h.subscribe()
	return ch, func() { h.unsubscribe(id) }
}
