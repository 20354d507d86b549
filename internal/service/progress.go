package service

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ProgressEvent is one status update pushed to connected control-surface
// clients when ForceReindex starts and finishes a project's pipeline run.
// Watcher-driven indexing does not emit events.
type ProgressEvent struct {
	Collection      string    `json:"collection"`
	Operation       string    `json:"operation"`
	Success         bool      `json:"success"`
	FilesProcessed  int       `json:"files_processed"`
	EntitiesCreated int       `json:"entities_created"`
	Message         string    `json:"message,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// progressClient is one subscribed websocket connection.
type progressClient struct {
	conn *websocket.Conn
	send chan ProgressEvent
}

// progressHub fans a stream of ProgressEvents out to every connected
// client, generalized from the teacher's register/unregister/broadcast
// channel hub down to a single event type with no per-repository
// filtering (this service has no notion of per-connection scoping —
// every client watches every configured project).
type progressHub struct {
	mu      sync.RWMutex
	clients map[*progressClient]struct{}
}

func newProgressHub() *progressHub {
	return &progressHub{clients: make(map[*progressClient]struct{})}
}

func (h *progressHub) register(c *progressClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *progressHub) unregister(c *progressClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *progressHub) broadcast(ev ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// Slow client: drop the event rather than block the pipeline
			// that produced it.
		}
	}
}

func (c *progressClient) writePump() {
	defer c.conn.Close()
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}
