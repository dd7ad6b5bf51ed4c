package web

import (
	"encoding/json"
	"sync"

	"image-compressor-go/internal/session"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSMessage is the envelope pushed to websocket clients.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub fans workflow events out to connected websocket clients.
type Hub struct {
	log     *logrus.Logger
	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
}

// NewHub returns a Hub with no clients.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	h.mu.Unlock()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to every client, dropping clients that fail.
func (h *Hub) Broadcast(messageType string, data interface{}) {
	msgBytes, err := json.Marshal(WSMessage{Type: messageType, Data: data})
	if err != nil {
		h.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	h.mu.RLock()
	var failed []*websocket.Conn
	for conn, writeMu := range h.clients {
		writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, msgBytes)
		writeMu.Unlock()
		if err != nil {
			h.log.Errorf("Failed to write WebSocket message: %v", err)
			failed = append(failed, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range failed {
		h.remove(conn)
	}
}

// ProgressObserver forwards orchestrator progress to websocket clients.
func (h *Hub) ProgressObserver() session.ProgressObserver {
	return func(p int) {
		h.Broadcast("compression_progress", map[string]interface{}{
			"progress": p,
			"status":   session.ProgressStatus(p),
		})
	}
}
