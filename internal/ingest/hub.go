package ingest

import (
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/beacon.report/internal/monitoring"
)

// Hub fans parsed messages out to any number of subscribers. Sends are
// non-blocking: a subscriber that cannot keep up drops messages rather
// than stalling the source.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]chan Message
	closed      bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan Message)}
}

// Subscribe creates a buffered channel for receiving messages. The
// returned ID identifies the channel when unsubscribing.
func (h *Hub) Subscribe() (string, chan Message) {
	id := uuid.NewString()
	ch := make(chan Message, 16)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Broadcast delivers msg to every subscriber that has buffer room.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for id, ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
			monitoring.Logf("ingest: subscriber %s is not keeping up, dropping message", id)
		}
	}
}

// Close closes every subscriber channel. Further broadcasts are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
