package channelsvc

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trezcool/shule/core"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 512
)

// Hub tracks live websocket connections by user so in-app notifications reach
// every open session. A user may hold several connections (tabs, devices).
type Hub struct {
	log core.Logger

	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]struct{} // userID -> connections
}

func NewHub(log core.Logger) *Hub {
	return &Hub{
		log:   log,
		conns: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Add registers a connection for a user and starts its keepalive loop.
func (h *Hub) Add(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[userID][conn] = struct{}{}
	h.mu.Unlock()

	h.log.Debug("ws connection added", "user", userID)
	go h.keepAlive(userID, conn)
}

// Remove drops a connection; the last connection removes the user entry.
func (h *Hub) Remove(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	if conns, ok := h.conns[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.conns, userID)
		}
	}
	h.mu.Unlock()

	_ = conn.Close()
	h.log.Debug("ws connection removed", "user", userID)
}

// Send pushes a JSON payload to all of the user's open connections. A dead
// connection is dropped instead of failing the send; reaching zero connections
// is not an error since the store remains authoritative.
func (h *Hub) Send(userID string, payload interface{}) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns[userID]))
	for conn := range h.conns[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(payload); err != nil {
			h.log.Debug("ws write failed, dropping connection", "user", userID, "err", err)
			h.Remove(userID, conn)
		}
	}
}

// keepAlive pings the connection and reaps it when the peer stops answering.
func (h *Hub) keepAlive(userID string, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// reader: discard inbound frames, surface disconnects
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			h.Remove(userID, conn)
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Remove(userID, conn)
				return
			}
		}
	}
}
