package monitor

import (
	"sync"

	"github.com/kstaniek/ssdv-link/internal/logging"
	"github.com/kstaniek/ssdv-link/internal/stats"
)

// BackpressurePolicy decides what happens to an observer whose outbound
// queue is full when a new event is broadcast.
type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// Client is one connected observer's outbound queue.
type Client struct {
	Out       chan Event
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

// Hub fans telemetry events out to every connected observer.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers an observer with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	if prev == 0 && cur == 1 {
		logging.L().Info("monitor_first_observer_connected")
	}
}

// Remove unregisters an observer; safe to call multiple times.
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
	stats.SetMonitorClients(cur)
	if existed && cur == 0 {
		logging.L().Info("monitor_last_observer_disconnected")
	}
}

// Broadcast sends one event to every connected observer, honoring the
// configured backpressure policy for any observer whose queue is full.
func (h *Hub) Broadcast(ev Event) {
	clients := h.Snapshot()
	stats.SetMonitorFanout(len(clients))
	stats.SetMonitorClients(len(clients))
	if len(clients) > 0 {
		max, sum := 0, 0
		for _, c := range clients {
			l := len(c.Out)
			if l > max {
				max = l
			}
			sum += l
		}
		stats.SetMonitorQueueDepth(max, sum/len(clients))
	}
	for _, c := range clients {
		select {
		case c.Out <- ev:
		default:
			if h.Policy == PolicyKick {
				stats.IncMonitorKick()
				c.Close() // signal writer to exit; server will Remove on disconnect
			} else {
				stats.IncMonitorDrop()
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

// Count returns the number of connected observers.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
