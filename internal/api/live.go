package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/beacon.report/internal/estimate"
	"github.com/banshee-data/beacon.report/internal/monitoring"
)

const writeDeadline = 5 * time.Second

// liveReport is the wire form pushed to websocket clients. It extends
// the persisted report with the confidence score, which the dashboard
// plots alongside the radius.
type liveReport struct {
	estimate.Report
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
}

// LiveHub pushes every processed report to connected websocket clients.
type LiveHub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]bool
	upgrader websocket.Upgrader
}

func NewLiveHub() *LiveHub {
	return &LiveHub{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// dashboards are served from other origins on the tailnet
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler upgrades the request and registers the connection. The
// connection is held open until the client goes away; clients only
// receive, so reads serve to detect disconnects.
func (h *LiveHub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("live: upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *LiveHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
}

// Broadcast sends rep to every connected client, dropping clients whose
// writes fail.
func (h *LiveHub) Broadcast(rep estimate.Report, ts time.Time) {
	payload, err := json.Marshal(liveReport{
		Report:     rep,
		Confidence: rep.Confidence,
		Timestamp:  ts.UnixMilli(),
	})
	if err != nil {
		monitoring.Logf("live: failed to marshal report: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *LiveHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *LiveHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
