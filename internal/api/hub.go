package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/yunmao-bridge/internal/device"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/config"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/logging"
)

// Event channels a WebSocket client can subscribe to.
const (
	ChannelStateChanged = "device.state_changed"
	ChannelCommand      = "device.command"
)

// Hub tracks WebSocket clients and fans events out to subscribers.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	// replay returns the payloads a client receives right after
	// subscribing to channel. Nil disables replay.
	replay func(channel string) []any
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// unregister drops c. Only the call that removes c closes its queue, so
// unregister is safe to call more than once.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		close(c.send)
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Publish queues an event on every client subscribed to channel. Slow
// clients whose queue is full miss the event.
func (h *Hub) Publish(channel string, payload any) {
	data, err := encodeEvent(channel, payload)
	if err != nil {
		h.logger.Error("failed to encode websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.subscribed(channel) {
			c.enqueue(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CommandEvent is the payload of device.command events.
type CommandEvent struct {
	Device   string    `json:"device"`
	Kind     string    `json:"kind"`
	Command  string    `json:"command"`
	Position *int      `json:"position,omitempty"`
	Origin   string    `json:"origin,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

func newCommandEvent(res device.CommandResult) CommandEvent {
	ev := CommandEvent{
		Device:   res.Device,
		Kind:     string(res.Kind),
		Command:  res.Command,
		Position: res.Position,
		Origin:   res.Origin,
		OK:       res.Err == nil,
		Time:     res.Time,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	return ev
}

func (s *Server) publishStateChange(ev device.Event) {
	s.hub.Publish(ChannelStateChanged, ev)
}

func (s *Server) publishCommand(res device.CommandResult) {
	s.hub.Publish(ChannelCommand, newCommandEvent(res))
}

func encodeEvent(channel string, payload any) ([]byte, error) {
	return json.Marshal(Frame{
		Type:      FrameEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}
