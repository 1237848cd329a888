package api

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kjannette/shares-trader/internal/market"
)

const (
	streamBuffer     = 64
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	// Origin is enforced by the auth middleware and CORS policy instead.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamHub fans market snapshots out to websocket clients. A client whose
// buffer is full is dropped rather than allowed to stall the market loop.
type streamHub struct {
	mu   sync.RWMutex
	subs map[int64]chan market.Snapshot
	seq  atomic.Int64
}

func newStreamHub() *streamHub {
	return &streamHub{subs: make(map[int64]chan market.Snapshot)}
}

func (h *streamHub) Subscribe() (int64, <-chan market.Snapshot) {
	id := h.seq.Add(1)
	ch := make(chan market.Snapshot, streamBuffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	return id, ch
}

func (h *streamHub) Unsubscribe(id int64) {
	h.mu.Lock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *streamHub) Broadcast(snap market.Snapshot) {
	var lagging []int64

	h.mu.RLock()
	for id, ch := range h.subs {
		select {
		case ch <- snap:
		default:
			lagging = append(lagging, id)
		}
	}
	h.mu.RUnlock()

	if len(lagging) == 0 {
		return
	}
	h.mu.Lock()
	for _, id := range lagging {
		if ch, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
			slog.Warn("dropped lagging stream client", "id", id)
		}
	}
	h.mu.Unlock()
}

func (h *streamHub) CloseAll() {
	h.mu.Lock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *streamHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("stream upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	id, updates := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)
	slog.Info("stream client connected", "id", id, "remote", r.RemoteAddr)

	// The reader only services control frames and notices the close.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(snap market.Snapshot) bool {
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(snap) == nil
	}
	if !send(s.deps.Market.Snapshot()) {
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			slog.Info("stream client disconnected", "id", id)
			return
		case snap, ok := <-updates:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "lagging or shutting down"),
					time.Now().Add(streamWriteWait))
				return
			}
			if !send(snap) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
