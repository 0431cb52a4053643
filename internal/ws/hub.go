package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"peoplewatch/internal/pipeline"
)

// BoxHub fans frame results out to WebSocket clients. Each client has its
// own send queue; a full queue drops the message for that client only.
type BoxHub struct {
	clients map[*client]bool
	mu      sync.RWMutex
	dropped atomic.Uint64
	closed  bool
	logger  *slog.Logger
}

// NewBoxHub creates a new box hub
func NewBoxHub(logger *slog.Logger) *BoxHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &BoxHub{
		clients: make(map[*client]bool),
		logger:  logger.With("component", "ws"),
	}
}

func (h *BoxHub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = true
	h.logger.Info("client registered", "remote", c.remote, "total", len(h.clients))
	return true
}

func (h *BoxHub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
		h.logger.Info("client unregistered", "remote", c.remote)
	}
}

// ClientCount returns the number of connected clients
func (h *BoxHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were not queued for slow clients
func (h *BoxHub) Dropped() uint64 {
	return h.dropped.Load()
}

// Broadcast queues message for every client
func (h *BoxHub) Broadcast(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- message:
		default:
			h.dropped.Add(1)
		}
	}
}

// BroadcastJSON marshals v and broadcasts it if anyone is listening
func (h *BoxHub) BroadcastJSON(v any) {
	if h.ClientCount() == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("error marshaling message", "error", err)
		return
	}
	h.Broadcast(data)
}

// OnFrameResult implements pipeline.ResultHandler
func (h *BoxHub) OnFrameResult(result *pipeline.FrameResult) {
	if result == nil || h.ClientCount() == 0 {
		return
	}
	h.BroadcastJSON(NewBoxMessage(result))
}

// AnnounceSummary tells clients that the run has ended
func (h *BoxHub) AnnounceSummary(summary *pipeline.RunSummary) {
	if summary == nil {
		return
	}
	h.BroadcastJSON(NewStatusMessage(summary))
}

// Close disconnects every client and refuses new ones
func (h *BoxHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

var _ pipeline.ResultHandler = (*BoxHub)(nil)
