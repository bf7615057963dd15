// Package monitor exposes routed CAN traffic to TCP clients and lets those
// clients inject frames back onto the bus. It is the diagnostic surface of
// the daemon: the router feeds it through ordinary route handlers, so the
// monitor has no privileged access to the route table.
package monitor

import (
	"sync"

	"github.com/mjaros/go-can-router/internal/can"
	"github.com/mjaros/go-can-router/internal/logging"
	"github.com/mjaros/go-can-router/internal/metrics"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

type Client struct {
	Out       chan can.Frame
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

// Hub fans observed frames out to connected monitor clients.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// NewHub creates a Hub with default settings.
func NewHub() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetMonitorClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("monitor_first_client")
	}
}

// Remove unregisters a client; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	select {
	case <-c.Closed:
	default:
		c.Close()
	}
	metrics.SetMonitorClients(cur)
	if existed && cur == 0 {
		logging.L().Info("monitor_last_client")
	}
}

// Broadcast sends a frame to all connected clients honoring the
// backpressure policy. Never blocks: slow clients either lose the frame
// (PolicyDrop) or get disconnected (PolicyKick).
func (h *Hub) Broadcast(fr can.Frame) {
	for _, c := range h.Snapshot() {
		select {
		case c.Out <- fr:
		default:
			if h.Policy == PolicyKick {
				metrics.IncMonitorKick()
				c.Close() // writer exits; server removes on disconnect
			} else {
				metrics.IncMonitorDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
