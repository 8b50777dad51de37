// Package broadcast pushes pipeline updates to connected websocket
// clients. Delivery is best effort: a client that cannot keep up with
// its buffered send queue is disconnected rather than allowed to stall
// the pipeline.
package broadcast

import (
	"encoding/json"
	"sync"

	"trustd/internal/logger"
	"trustd/internal/metrics"
)

// Message type tags sent to clients.
const (
	TypeEvent         = "event"
	TypeAnomaly       = "anomaly"
	TypeTrustUpdate   = "trust_update"
	TypeSessionUpdate = "session_update"
	TypeAlert         = "alert"
)

// Message is the wire frame for every push.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub tracks connected clients and fans messages out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	metrics.BroadcastClients.Set(float64(count))
	logger.Infof("Websocket client connected (%d total)", count)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	close(c.send)
	metrics.BroadcastClients.Set(float64(count))
	logger.Infof("Websocket client disconnected (%d total)", count)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish serializes one frame and queues it to every client. Clients
// with a full send buffer are dropped.
func (h *Hub) Publish(msgType string, data any) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		logger.Errorf("Failed to encode %s broadcast: %v", msgType, err)
		return
	}

	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		metrics.BroadcastDropped.Inc()
		logger.Warnf("Dropping slow websocket client")
		h.unregister(c)
	}
}

// SessionUpdate publishes a session lifecycle change. It satisfies the
// session manager's notifier interface.
func (h *Hub) SessionUpdate(data map[string]any) {
	h.Publish(TypeSessionUpdate, data)
}
