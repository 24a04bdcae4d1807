// Package live delivers best-effort real-time alert events to connected
// websocket clients. Publishing is fire-and-forget: no subscriber, a slow
// subscriber, or a failed write never affects the publisher.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/linnemanlabs/go-core/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 8
)

// Event is one live update pushed to a user's connected clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Event types published by the orchestrator.
const (
	EventAlertActivated  = "alert.activated"
	EventAlertResolved   = "alert.resolved"
	EventAlertFalseAlarm = "alert.false-alarm"
)

type subscriber struct {
	send chan []byte
}

// Hub tracks websocket subscribers per user.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[*subscriber]struct{} // user ID -> subscribers
	upgrader websocket.Upgrader
	logger   log.Logger
}

// NewHub initializes an empty hub.
func NewHub(logger log.Logger) *Hub {
	if logger == nil {
		logger = log.Nop()
	}
	return &Hub{
		subs: make(map[string]map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Publish sends an event to every subscriber of the user. Marshals once,
// drops the event for subscribers whose buffers are full, and is a no-op
// when nobody is listening.
func (h *Hub) Publish(userID string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn(context.Background(), "marshal live event failed",
			"type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[userID] {
		select {
		case sub.send <- payload:
		default:
			// subscriber too slow, drop rather than block the publisher
		}
	}
}

// Subscribers reports how many connections a user has. Used by tests and
// the readiness-debug endpoint.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// ServeWS upgrades the request and streams the user's events until the
// client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{send: make(chan []byte, sendBufferSize)}
	h.add(userID, sub)

	go h.writePump(conn, sub)
	h.readPump(conn)

	h.remove(userID, sub)
}

func (h *Hub) add(userID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*subscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
}

func (h *Hub) remove(userID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[userID][sub]; !ok {
		// already dropped by Close
		return
	}
	delete(h.subs[userID], sub)
	if len(h.subs[userID]) == 0 {
		delete(h.subs, userID)
	}
	close(sub.send)
}

// Close drops every subscriber. Their write pumps send a close frame and
// the connections wind down.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, subs := range h.subs {
		for sub := range subs {
			close(sub.send)
		}
		delete(h.subs, userID)
	}
}

// readPump drains client frames so pings are answered and close frames are
// seen. Clients are not expected to send data.
func (h *Hub) readPump(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case payload, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
