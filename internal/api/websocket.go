package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameEvent       = "event"
	FrameResponse    = "response"
	FrameError       = "error"
)

// sendQueueSize is the per-client outbound queue length.
const sendQueueSize = 256

// Frame is one JSON message on the WebSocket, in either direction.
type Frame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// ChannelsPayload is the payload of subscribe and unsubscribe frames.
type ChannelsPayload struct {
	Channels []string `json:"channels"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by corsMiddleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	pingEvery time.Duration
	pongWait  time.Duration

	mu       sync.RWMutex
	channels map[string]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn) *wsClient {
	return &wsClient{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendQueueSize),
		pingEvery: time.Duration(hub.cfg.PingInterval) * time.Second,
		pongWait:  time.Duration(hub.cfg.PongTimeout) * time.Second,
		channels:  make(map[string]struct{}),
	}
}

// handleWebSocket upgrades the request and starts the client loops. A new
// client receives nothing until it subscribes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(s.hub, conn)
	s.hub.register(c)
	go c.writeLoop()
	go c.readLoop()
}

// extendDeadline pushes the read deadline past the next expected pong.
func (c *wsClient) extendDeadline() error {
	return c.conn.SetReadDeadline(time.Now().Add(c.pingEvery + c.pongWait))
}

func (c *wsClient) readLoop() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	c.extendDeadline() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return c.extendDeadline() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.extendDeadline() //nolint:errcheck // a failed deadline surfaces as a read error
		c.dispatch(data)
	}
}

func (c *wsClient) writeLoop() {
	ping := time.NewTicker(c.pingEvery)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(c.pongWait)) //nolint:errcheck // write error reported below
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // connection is going away
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) dispatch(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.reply("", FrameError, errorPayload("invalid JSON message"))
		return
	}

	switch f.Type {
	case FrameSubscribe:
		c.subscribe(f)
	case FrameUnsubscribe:
		c.unsubscribe(f)
	case FramePing:
		c.reply(f.ID, FramePong, nil)
	default:
		c.reply(f.ID, FrameError, errorPayload("unknown message type: "+f.Type))
	}
}

// subscribe adds channels and replays known state for channels the client
// was not already on.
func (c *wsClient) subscribe(f Frame) {
	channels, ok := c.channelList(f)
	if !ok {
		return
	}

	var added []string
	c.mu.Lock()
	for _, ch := range channels {
		if _, on := c.channels[ch]; !on {
			c.channels[ch] = struct{}{}
			added = append(added, ch)
		}
	}
	c.mu.Unlock()

	c.reply(f.ID, FrameResponse, map[string]any{"subscribed": channels})

	if c.hub.replay == nil {
		return
	}
	for _, ch := range added {
		for _, payload := range c.hub.replay(ch) {
			if data, err := encodeEvent(ch, payload); err == nil {
				c.enqueue(data)
			}
		}
	}
}

func (c *wsClient) unsubscribe(f Frame) {
	channels, ok := c.channelList(f)
	if !ok {
		return
	}

	c.mu.Lock()
	for _, ch := range channels {
		delete(c.channels, ch)
	}
	c.mu.Unlock()

	c.reply(f.ID, FrameResponse, map[string]any{"unsubscribed": channels})
}

// channelList decodes the channels of a subscribe or unsubscribe frame and
// answers with an error frame when there are none.
func (c *wsClient) channelList(f Frame) ([]string, bool) {
	var p ChannelsPayload
	raw, err := json.Marshal(f.Payload)
	if err == nil {
		err = json.Unmarshal(raw, &p)
	}
	if err != nil || len(p.Channels) == 0 {
		c.reply(f.ID, FrameError, errorPayload("payload.channels must be a non-empty list"))
		return nil, false
	}
	return p.Channels, true
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

// enqueue drops data when the queue is full or already closed.
func (c *wsClient) enqueue(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a queue closed by unregister
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) reply(id, frameType string, payload any) {
	data, err := json.Marshal(Frame{
		Type:      frameType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func errorPayload(msg string) map[string]string {
	return map[string]string{"message": msg}
}
