package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type logLine struct {
	Message string `json:"message"`
	Title   string `json:"title"`
}

// LogHub streams backend log lines to debug websocket clients on /api/v0/log.
type LogHub struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
}

func NewLogHub() *LogHub {
	return &LogHub{
		// The debug stream sits behind the auth gate; origin is not checked.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the connection and keeps it registered until the client
// goes away. Incoming messages are read and dropped.
func (h *LogHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	defer h.remove(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends one line to every client, dropping clients that fail.
func (h *LogHub) Broadcast(title, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteJSON(logLine{Message: message, Title: title}); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// Clients reports how many connections are open.
func (h *LogHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *LogHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *LogHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		conn.Close()
		delete(h.clients, conn)
	}
}
